package support

import (
	"context"

	"campusmarket/internal/app/uow"
)

// Run executes fn with the unit of work carried by ctx, or inside a new one
// started from factory that is committed when fn succeeds. Read-only units are
// always released with Rollback. A new unit aborted by a write conflict is
// retried from the start.
func Run[R any](ctx context.Context, factory uow.UoWFactory, opts uow.TxOptions, fn func(ctx context.Context, unit uow.UnitOfWork) (R, error)) (R, error) {
	if unit, ok := uow.FromContext(ctx); ok {
		return fn(ctx, unit)
	}
	var res R
	err := uow.Do(ctx, factory, opts, func(ctx context.Context, unit uow.UnitOfWork) error {
		var err error
		res, err = fn(ctx, unit)
		return err
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return res, nil
}
