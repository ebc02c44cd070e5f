package uow

import (
	"context"
	"errors"
	"time"
)

const (
	maxAttempts  = 4
	retryBackoff = 5 * time.Millisecond
)

// Retryable reports whether err aborted a unit that can be run again from the
// start, such as a write conflict between concurrent transactions.
func Retryable(err error) bool {
	var r interface{ RetryUnit() bool }
	return errors.As(err, &r) && r.RetryUnit()
}

// Do runs fn inside a unit started from factory and commits it, or rolls it
// back when fn fails or opts is read-only. A unit that fails with a Retryable
// error is rolled back and fn runs again in a fresh unit.
func Do(ctx context.Context, factory UoWFactory, opts TxOptions, fn func(ctx context.Context, unit UnitOfWork) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = once(ctx, factory, opts, fn)
		if err == nil || !Retryable(err) || attempt == maxAttempts {
			return err
		}
		timer := time.NewTimer(time.Duration(attempt) * retryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

func once(ctx context.Context, factory UoWFactory, opts TxOptions, fn func(ctx context.Context, unit UnitOfWork) error) error {
	unit, execCtx, err := Begin(ctx, factory, opts)
	if err != nil {
		return err
	}
	if err := fn(execCtx, unit); err != nil {
		_ = unit.Rollback(execCtx)
		return err
	}
	if opts.ReadOnly {
		_ = unit.Rollback(execCtx)
		return nil
	}
	return unit.Commit(execCtx)
}
