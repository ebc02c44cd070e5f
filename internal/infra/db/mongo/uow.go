package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"campusmarket/internal/app/uow"
	"campusmarket/internal/domain/catalog"
	"campusmarket/internal/domain/communities"
	"campusmarket/internal/domain/messaging"
)

// Repositories are shared by every unit; they pick up the session from ctx.
type Repositories struct {
	Messages      *MessageRepository
	Conversations *ConversationRepository
	Catalog       catalog.Reader
	Listings      *CatalogRepository
	Communities   *CommunityRepository
}

// NewRepositories builds the repositories over db. reader, when non-nil,
// replaces the direct catalog reads (for example with a cache).
func NewRepositories(db *mongo.Database, liveWindow int, reader catalog.Reader) *Repositories {
	direct := NewCatalogRepository(db)
	if reader == nil {
		reader = direct
	}
	return &Repositories{
		Messages:      NewMessageRepository(db, liveWindow),
		Conversations: NewConversationRepository(db, reader),
		Catalog:       reader,
		Listings:      direct,
		Communities:   NewCommunityRepository(db),
	}
}

// Factory wires Mongo transactions into the generic UnitOfWork interface.
type Factory struct {
	DB    *mongo.Database
	Repos *Repositories
}

var ErrUnitOfWorkNotConfigured = errors.New("mongo: unit of work factory missing database")

// Begin starts a session. Read-only units skip the transaction and read with
// majority concern.
func (f Factory) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	if f.DB == nil || f.Repos == nil {
		return nil, ErrUnitOfWorkNotConfigured
	}
	session, err := f.DB.Client().StartSession()
	if err != nil {
		return nil, classify("start session", err)
	}
	if !opts.ReadOnly {
		txnOpts := options.Transaction().
			SetReadConcern(readconcern.Snapshot()).
			SetWriteConcern(writeconcern.Majority())
		if err := session.StartTransaction(txnOpts); err != nil {
			session.EndSession(ctx)
			return nil, classify("start transaction", err)
		}
	}
	return &Unit{session: session, repos: f.Repos, inTxn: !opts.ReadOnly}, nil
}

type Unit struct {
	session mongo.Session
	repos   *Repositories
	inTxn   bool
}

func (u *Unit) Messages() messaging.MessageRepository {
	return u.repos.Messages
}

func (u *Unit) Conversations() messaging.ConversationRepository {
	return u.repos.Conversations
}

func (u *Unit) Catalog() catalog.Reader {
	return u.repos.Catalog
}

func (u *Unit) Communities() communities.Repository {
	return u.repos.Communities
}

const commitAttempts = 3

// Commit retries the commit itself while its outcome is unknown. A commit the
// server aborted comes back as a retryable error for the whole unit.
func (u *Unit) Commit(ctx context.Context) error {
	defer u.session.EndSession(ctx)
	if !u.inTxn {
		return nil
	}
	var err error
	for attempt := 0; attempt < commitAttempts; attempt++ {
		if err = u.session.CommitTransaction(ctx); !unknownCommitResult(err) {
			break
		}
	}
	return classify("commit", err)
}

func unknownCommitResult(err error) bool {
	var srv mongo.ServerError
	return errors.As(err, &srv) && srv.HasErrorLabel(labelUnknownCommit)
}

func (u *Unit) Rollback(ctx context.Context) error {
	defer u.session.EndSession(ctx)
	if !u.inTxn {
		return nil
	}
	return classify("abort", u.session.AbortTransaction(ctx))
}

// InjectContext ensures the Mongo session is available in context for downstream repos.
func (u *Unit) InjectContext(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, u.session)
}

var (
	_ uow.UoWFactory = Factory{}
	_ uow.UnitOfWork = (*Unit)(nil)
)
