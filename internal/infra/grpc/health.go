package grpcserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is reported alongside the overall ("") status.
const ServiceName = "campusmarket"

// HealthServer serves grpc.health.v1 and keeps its status in line with the
// readiness probe used by /readyz.
type HealthServer struct {
	Ready    func(ctx context.Context) error
	Interval time.Duration
	Logger   *slog.Logger

	health *health.Server
}

func NewHealthServer(ready func(ctx context.Context) error, logger *slog.Logger) *HealthServer {
	return &HealthServer{Ready: ready, Interval: 5 * time.Second, Logger: logger, health: health.NewServer()}
}

// Run listens on addr until ctx is cancelled.
func (s *HealthServer) Run(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, s.health)

	go s.watch(ctx)
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	if s.Logger != nil {
		s.Logger.Info("gRPC health server starting", "addr", addr)
	}
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *HealthServer) watch(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.Refresh(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Refresh probes readiness once and publishes the result.
func (s *HealthServer) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if s.Ready != nil {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := s.Ready(probeCtx)
		cancel()
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			if s.Logger != nil {
				s.Logger.Warn("readiness probe failed", "error", err)
			}
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}
