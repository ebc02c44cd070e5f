package middleware

import (
	"context"
	"log/slog"
	"time"

	"campusmarket/internal/app/commands"
	"campusmarket/internal/app/queries"
	"campusmarket/internal/domain/shared/errs"
)

// Observer receives one call per dispatched command or query.
type Observer interface {
	Observe(kind, key string, outcome errs.Kind, elapsed time.Duration)
}

// ObserveCommands logs failed commands and reports every dispatch to observer.
func ObserveCommands(logger *slog.Logger, observer Observer) CommandMiddleware {
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			start := time.Now()
			res, err := next.Dispatch(ctx, cmd)
			report(ctx, logger, observer, "command", cmd.Key(), err, time.Since(start))
			return res, err
		})
	}
}

func ObserveQueries(logger *slog.Logger, observer Observer) QueryMiddleware {
	return func(next queries.Bus) queries.Bus {
		return queryFunc(func(ctx context.Context, q queries.Query) (any, error) {
			start := time.Now()
			res, err := next.Ask(ctx, q)
			report(ctx, logger, observer, "query", q.Key(), err, time.Since(start))
			return res, err
		})
	}
}

func report(ctx context.Context, logger *slog.Logger, observer Observer, kind, key string, err error, elapsed time.Duration) {
	outcome := errs.KindOf(err)
	if observer != nil {
		observer.Observe(kind, key, outcome, elapsed)
	}
	if err == nil || logger == nil {
		return
	}
	level := slog.LevelWarn
	if outcome == errs.KindInternal || outcome == errs.KindTransient || outcome == errs.KindCorrupt {
		level = slog.LevelError
	}
	logger.Log(ctx, level, kind+" failed", "key", key, "kind", outcome, "error", err, "duration", elapsed)
}
