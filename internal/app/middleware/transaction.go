package middleware

import (
	"context"

	"campusmarket/internal/app/commands"
	"campusmarket/internal/app/uow"
)

type TxOptionsProvider func(cmd commands.Command) uow.TxOptions

// Transaction opens a unit of work per command and runs the command again in a
// fresh unit when the store aborts it on a write conflict. Nested dispatches
// reuse the unit already in ctx.
func Transaction(factory uow.UoWFactory, optsProvider TxOptionsProvider) CommandMiddleware {
	if factory == nil {
		panic("middleware: uow factory required")
	}
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			if _, ok := uow.FromContext(ctx); ok {
				return next.Dispatch(ctx, cmd)
			}
			var opts uow.TxOptions
			if optsProvider != nil {
				opts = optsProvider(cmd)
			}
			var res any
			err := uow.Do(ctx, factory, opts, func(txCtx context.Context, _ uow.UnitOfWork) error {
				var err error
				res, err = next.Dispatch(txCtx, cmd)
				return err
			})
			if err != nil {
				return nil, err
			}
			return res, nil
		})
	}
}
