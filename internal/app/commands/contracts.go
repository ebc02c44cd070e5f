package commands

import (
	"context"
	"fmt"
	"strings"

	"campusmarket/internal/domain/shared/errs"
)

// Command is a write intent. Keys are namespaced as "<context>.<action>",
// e.g. "messaging.send_message".
type Command interface {
	Key() string
}

type Handler[C Command, R any] interface {
	Handle(ctx context.Context, cmd C) (R, error)
}

type HandlerFunc[C Command, R any] func(ctx context.Context, cmd C) (R, error)

func (f HandlerFunc[C, R]) Handle(ctx context.Context, cmd C) (R, error) {
	return f(ctx, cmd)
}

// Bus dispatches commands, usually through a middleware chain.
type Bus interface {
	Dispatch(ctx context.Context, cmd Command) (any, error)
}

// Wiring failures surface as internal errors so transports answer 500
// without leaking handler names.
var (
	ErrHandlerNotFound = errs.Internal("command handler not found", nil)
	ErrInvalidCommand  = errs.Internal("command does not match handler", nil)
	ErrResultType      = errs.Internal("command result type mismatch", nil)
	ErrNilBus          = errs.Internal("command bus not configured", nil)
)

func validKey(key string) bool {
	ctx, action, ok := strings.Cut(key, ".")
	return ok && ctx != "" && action != "" && !strings.ContainsAny(key, " \t")
}

// Dispatch runs cmd on bus and asserts the result type.
func Dispatch[C Command, R any](ctx context.Context, bus Bus, cmd C) (R, error) {
	var zero R
	if bus == nil {
		return zero, ErrNilBus
	}
	res, err := bus.Dispatch(ctx, cmd)
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	value, ok := res.(R)
	if !ok {
		return zero, fmt.Errorf("%w: %s returned %T", ErrResultType, cmd.Key(), res)
	}
	return value, nil
}
