package middleware

import (
	"context"

	"campusmarket/internal/app/commands"
	"campusmarket/internal/app/outbox"
	"campusmarket/internal/domain/shared/errs"
)

// OutboxFlush hands the events recorded by a successful command to the
// outbox store. It sits inside Transaction, so a failed flush rolls the
// state change back with it.
func OutboxFlush(box outbox.Outbox) CommandMiddleware {
	if box == nil {
		panic("middleware: outbox required")
	}
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			res, err := next.Dispatch(ctx, cmd)
			if err != nil {
				return nil, err
			}
			if err := box.Flush(ctx); err != nil {
				return nil, errs.Transient("store events for "+cmd.Key(), err)
			}
			return res, nil
		})
	}
}
