package queries

import (
	"context"
	"fmt"
	"strings"

	"campusmarket/internal/domain/shared/errs"
)

// Query is a read request keyed like commands: "<context>.<action>".
type Query interface {
	Key() string
}

type Handler[Q Query, R any] interface {
	Handle(ctx context.Context, query Q) (R, error)
}

type HandlerFunc[Q Query, R any] func(ctx context.Context, query Q) (R, error)

func (f HandlerFunc[Q, R]) Handle(ctx context.Context, query Q) (R, error) {
	return f(ctx, query)
}

type Bus interface {
	Ask(ctx context.Context, query Query) (any, error)
}

var (
	ErrHandlerNotFound = errs.Internal("query handler not found", nil)
	ErrInvalidQuery    = errs.Internal("query does not match handler", nil)
	ErrResultType      = errs.Internal("query result type mismatch", nil)
	ErrNilBus          = errs.Internal("query bus not configured", nil)
)

func validKey(key string) bool {
	ctx, action, ok := strings.Cut(key, ".")
	return ok && ctx != "" && action != "" && !strings.ContainsAny(key, " \t")
}

// Ask runs query on bus and asserts the result type. A nil result yields
// the zero value of R.
func Ask[Q Query, R any](ctx context.Context, bus Bus, query Q) (R, error) {
	var zero R
	if bus == nil {
		return zero, ErrNilBus
	}
	res, err := bus.Ask(ctx, query)
	switch {
	case err != nil:
		return zero, err
	case res == nil:
		return zero, nil
	}
	value, ok := res.(R)
	if !ok {
		return zero, fmt.Errorf("%w: %s returned %T", ErrResultType, query.Key(), res)
	}
	return value, nil
}
