package queries

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusmarket/internal/domain/shared/errs"
)

type lookupQuery struct{ ID string }

func (lookupQuery) Key() string { return "test.lookup" }

func TestAskTyped(t *testing.T) {
	bus := NewInMemoryBus()
	RegisterHandler[lookupQuery, []string](bus, HandlerFunc[lookupQuery, []string](func(_ context.Context, q lookupQuery) ([]string, error) {
		return []string{q.ID}, nil
	}))

	got, err := Ask[lookupQuery, []string](context.Background(), bus, lookupQuery{ID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, got)
	assert.Equal(t, []string{"test.lookup"}, bus.Keys())
}

func TestAskNilResultIsZero(t *testing.T) {
	bus := NewInMemoryBus()
	bus.RegisterRaw("test.lookup", func(context.Context, Query) (any, error) { return nil, nil })

	got, err := Ask[lookupQuery, *string](context.Background(), bus, lookupQuery{})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAskFailures(t *testing.T) {
	bus := NewInMemoryBus()
	_, err := bus.Ask(context.Background(), lookupQuery{})
	require.ErrorIs(t, err, ErrHandlerNotFound)
	assert.Equal(t, errs.KindInternal, errs.KindOf(err))

	bus.RegisterRaw("test.lookup", func(context.Context, Query) (any, error) { return 7, nil })
	_, err = Ask[lookupQuery, string](context.Background(), bus, lookupQuery{})
	require.ErrorIs(t, err, ErrResultType)

	assert.Panics(t, func() { bus.RegisterRaw("test.lookup", nil) })
	assert.Panics(t, func() { bus.RegisterRaw("lookup", nil) })
}
