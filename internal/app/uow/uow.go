package uow

import (
	"context"

	"campusmarket/internal/domain/catalog"
	"campusmarket/internal/domain/communities"
	"campusmarket/internal/domain/messaging"
)

// UnitOfWork exposes repositories bound to one transaction.
type UnitOfWork interface {
	Messages() messaging.MessageRepository
	Conversations() messaging.ConversationRepository
	Catalog() catalog.Reader
	Communities() communities.Repository

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// UoWFactory starts unit of work instances.
type UoWFactory interface {
	Begin(ctx context.Context, opts TxOptions) (UnitOfWork, error)
}

type TxOptions struct {
	ReadOnly bool
}
