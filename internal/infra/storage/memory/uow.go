package memory

import (
	"context"
	"errors"
	"sync"

	"campusmarket/internal/app/uow"
	"campusmarket/internal/domain/catalog"
	"campusmarket/internal/domain/communities"
	"campusmarket/internal/domain/messaging"
)

// ErrFactoryMisconfigured indicates a factory without a store.
var ErrFactoryMisconfigured = errors.New("memory: unit of work factory misconfigured")

// ErrUnitFinished is returned when a unit is committed or rolled back twice.
var ErrUnitFinished = errors.New("memory: unit of work already finished")

// Factory opens units over a shared Store. Writes apply immediately and are
// undone in reverse order on Rollback; outbox records become claimable on Commit.
type Factory struct {
	Store *Store
}

func (f Factory) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	if f.Store == nil {
		return nil, ErrFactoryMisconfigured
	}
	return &Unit{store: f.Store}, nil
}

type Unit struct {
	store *Store

	mu       sync.Mutex
	undo     []func()
	onCommit []func()
	finished bool
}

func (u *Unit) Messages() messaging.MessageRepository {
	return u.store.Messages()
}

func (u *Unit) Conversations() messaging.ConversationRepository {
	return u.store.Conversations()
}

func (u *Unit) Catalog() catalog.Reader {
	return u.store.Catalog()
}

func (u *Unit) Communities() communities.Repository {
	return u.store.Communities()
}

func (u *Unit) journal(undo func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.undo = append(u.undo, undo)
}

func (u *Unit) afterCommit(fn func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.onCommit = append(u.onCommit, fn)
}

func (u *Unit) Commit(ctx context.Context) error {
	u.mu.Lock()
	if u.finished {
		u.mu.Unlock()
		return ErrUnitFinished
	}
	u.finished = true
	hooks := u.onCommit
	u.undo, u.onCommit = nil, nil
	u.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	return nil
}

func (u *Unit) Rollback(ctx context.Context) error {
	u.mu.Lock()
	if u.finished {
		u.mu.Unlock()
		return ErrUnitFinished
	}
	u.finished = true
	undo := u.undo
	u.undo, u.onCommit = nil, nil
	u.mu.Unlock()
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
	return nil
}

var (
	_ uow.UoWFactory = Factory{}
	_ uow.UnitOfWork = (*Unit)(nil)
)
