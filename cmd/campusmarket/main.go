package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"campusmarket/internal/infra/config"
	grpcserver "campusmarket/internal/infra/grpc"
	ginserver "campusmarket/internal/infra/http/gin"
	"campusmarket/internal/infra/obs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := getenv("APP_ENV", "dev")
	logger := obs.NewLogger(env)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.close(logger)

	health := obs.HealthHandlers{Checks: app.checks}
	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, health, app.handlers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server starting", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if cfg.GRPCHealthAddr != "" {
		g.Go(func() error {
			return grpcserver.NewHealthServer(health.Ready, logger).Run(gctx, cfg.GRPCHealthAddr)
		})
	}
	g.Go(func() error {
		return ignoreCanceled(app.worker.Run(gctx))
	})
	if app.consumer != nil {
		g.Go(func() error {
			return ignoreCanceled(app.consumer.Run(gctx, app.topics))
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("campusmarket stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("campusmarket stopped")
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
