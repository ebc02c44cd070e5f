package uow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusmarket/internal/domain/catalog"
	"campusmarket/internal/domain/communities"
	"campusmarket/internal/domain/messaging"
)

type conflictErr struct{}

func (conflictErr) Error() string   { return "write conflict" }
func (conflictErr) RetryUnit() bool { return true }

type stubUnit struct {
	committed  bool
	rolledBack bool
	commitErr  error
}

func (u *stubUnit) Messages() messaging.MessageRepository           { return nil }
func (u *stubUnit) Conversations() messaging.ConversationRepository { return nil }
func (u *stubUnit) Catalog() catalog.Reader                         { return nil }
func (u *stubUnit) Communities() communities.Repository             { return nil }

func (u *stubUnit) Commit(context.Context) error {
	if u.commitErr != nil {
		return u.commitErr
	}
	u.committed = true
	return nil
}

func (u *stubUnit) Rollback(context.Context) error {
	u.rolledBack = true
	return nil
}

type stubFactory struct {
	units     []*stubUnit
	commitErr []error
}

func (f *stubFactory) Begin(context.Context, TxOptions) (UnitOfWork, error) {
	u := &stubUnit{}
	if n := len(f.units); n < len(f.commitErr) {
		u.commitErr = f.commitErr[n]
	}
	f.units = append(f.units, u)
	return u, nil
}

func TestDoRetriesConflictedUnit(t *testing.T) {
	factory := &stubFactory{}
	runs := 0
	err := Do(context.Background(), factory, TxOptions{}, func(ctx context.Context, unit UnitOfWork) error {
		runs++
		got, ok := FromContext(ctx)
		require.True(t, ok)
		require.Same(t, unit, got)
		if runs == 1 {
			return fmt.Errorf("append: %w", conflictErr{})
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, runs)
	require.Len(t, factory.units, 2)
	assert.True(t, factory.units[0].rolledBack)
	assert.False(t, factory.units[0].committed)
	assert.True(t, factory.units[1].committed)
}

func TestDoRetriesConflictedCommit(t *testing.T) {
	factory := &stubFactory{commitErr: []error{conflictErr{}}}
	runs := 0
	err := Do(context.Background(), factory, TxOptions{}, func(context.Context, UnitOfWork) error {
		runs++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, runs)
	assert.True(t, factory.units[1].committed)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	factory := &stubFactory{}
	err := Do(context.Background(), factory, TxOptions{}, func(context.Context, UnitOfWork) error {
		return conflictErr{}
	})
	assert.True(t, Retryable(err))
	assert.Len(t, factory.units, maxAttempts)
}

func TestDoDoesNotRetryOtherErrors(t *testing.T) {
	factory := &stubFactory{}
	boom := errors.New("boom")
	err := Do(context.Background(), factory, TxOptions{}, func(context.Context, UnitOfWork) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	require.Len(t, factory.units, 1)
	assert.True(t, factory.units[0].rolledBack)
}

func TestDoReleasesReadOnlyUnitWithRollback(t *testing.T) {
	factory := &stubFactory{}
	require.NoError(t, Do(context.Background(), factory, TxOptions{ReadOnly: true}, func(context.Context, UnitOfWork) error {
		return nil
	}))
	assert.True(t, factory.units[0].rolledBack)
	assert.False(t, factory.units[0].committed)
}
