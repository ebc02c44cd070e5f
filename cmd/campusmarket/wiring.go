package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"campusmarket/internal/app/chatsync"
	"campusmarket/internal/app/commands"
	communitiesapp "campusmarket/internal/app/handlers/communities"
	messagingapp "campusmarket/internal/app/handlers/messaging"
	"campusmarket/internal/app/middleware"
	"campusmarket/internal/app/notify"
	"campusmarket/internal/app/outbox"
	"campusmarket/internal/app/queries"
	"campusmarket/internal/app/uow"
	"campusmarket/internal/domain/catalog"
	"campusmarket/internal/domain/messaging"
	"campusmarket/internal/infra/broker/kafka"
	rediscache "campusmarket/internal/infra/cache/redis"
	"campusmarket/internal/infra/config"
	mongostore "campusmarket/internal/infra/db/mongo"
	ginserver "campusmarket/internal/infra/http/gin"
	"campusmarket/internal/infra/inbox"
	"campusmarket/internal/infra/obs"
	infraoutbox "campusmarket/internal/infra/outbox"
	"campusmarket/internal/infra/security"
	"campusmarket/internal/infra/storage/memory"
	"campusmarket/internal/infra/storage/s3"
)

const serviceName = "campusmarket"

// storage is what either store mode provides to the rest of the wiring.
type storage struct {
	factory       uow.UoWFactory
	box           outbox.Outbox
	queue         infraoutbox.Queue
	idempotency   middleware.IdempotencyStore
	inbox         kafka.Inbox
	messages      chatsync.MessageSource
	conversations interface {
		chatsync.ConversationSource
		ginserver.ConversationLister
	}
	catalog  catalog.Reader
	listings catalog.ListingSearch
	checks   map[string]obs.Check
	closers  []func(ctx context.Context) error
}

type application struct {
	handlers ginserver.Handlers
	worker   *infraoutbox.Worker
	consumer *kafka.Consumer
	topics   []string
	checks   map[string]obs.Check
	closers  []func(ctx context.Context) error
}

func (a application) close(logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			logger.Warn("shutdown step failed", "error", err)
		}
	}
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (application, error) {
	var redisClient *goredis.Client
	if cfg.RedisAddr != "" {
		client, err := rediscache.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warn("redis unavailable, catalog cache disabled", "error", err, "addr", cfg.RedisAddr)
		} else {
			redisClient = client
		}
	}
	cached := func(next catalog.Reader) catalog.Reader {
		if redisClient == nil {
			return next
		}
		return rediscache.NewCatalogCache(next, redisClient, cfg.ProfileCacheTTL, logger)
	}

	tokens := security.NewTokens(cfg.JWTSecret, cfg.JWTIssuer)

	var (
		st  storage
		err error
	)
	switch cfg.StoreMode {
	case config.StoreMongo:
		st, err = mongoStorage(ctx, cfg, cached, logger)
	default:
		st, err = memoryStorage(cfg, cached, tokens, logger)
	}
	if err != nil {
		return application{}, err
	}
	if redisClient != nil {
		st.closers = append(st.closers, func(context.Context) error { return redisClient.Close() })
	}

	encoder := outbox.JSONEventEncoder{}
	baseCommands := commands.NewInMemoryBus()
	baseQueries := queries.NewInMemoryBus()
	messagingapp.Register(baseCommands, baseQueries, messagingapp.Deps{UoWFactory: st.factory, Outbox: st.box, Encoder: encoder})
	communitiesapp.Register(baseCommands, baseQueries, communitiesapp.Deps{UoWFactory: st.factory, Outbox: st.box, Encoder: encoder, Listings: st.listings})

	commandBus := middleware.ChainCommands(
		baseCommands,
		middleware.ObserveCommands(logger, obs.BusMetrics{}),
		middleware.Validation(middleware.SelfValidator{}),
		middleware.Idempotency(st.idempotency, nil),
		middleware.Transaction(st.factory, nil),
		middleware.OutboxFlush(st.box),
	)
	queryBus := middleware.ChainQueries(
		baseQueries,
		middleware.ObserveQueries(logger, obs.BusMetrics{}),
		middleware.QueryValidation(middleware.SelfValidator{}),
		middleware.QueryAuthorization(messagingapp.ConversationAccess{UoWFactory: st.factory}),
	)

	registry := notify.NewRegistry()
	router := kafka.NewRouter(st.inbox, logger)
	kafka.On(router, messaging.EventMessageSent, (&notify.MessageSentHandler{
		Registry: registry,
		Catalog:  st.catalog,
		Logger:   logger,
	}).Handle)

	app := application{checks: map[string]obs.Check{}, closers: st.closers}
	for name, check := range st.checks {
		app.checks[name] = check
	}
	worker := &infraoutbox.Worker{
		Queue:       st.queue,
		Logger:      logger,
		Interval:    cfg.OutboxPollInterval,
		TopicPrefix: cfg.KafkaTopicPrefix,
		Source:      serviceName,
		ID:          workerID(),
		Backoff:     cfg.RetryBackoff,
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, serviceName)
		if err != nil {
			app.close(logger)
			return application{}, fmt.Errorf("kafka producer: %w", err)
		}
		app.closers = append(app.closers, func(context.Context) error { return producer.Close() })
		consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, router, logger)
		if err != nil {
			app.close(logger)
			return application{}, fmt.Errorf("kafka consumer: %w", err)
		}
		app.closers = append(app.closers, func(context.Context) error { return consumer.Close() })
		worker.Producer = producer
		app.consumer = consumer
		app.topics = topicsFor(cfg.KafkaTopicPrefix, router.Events())
	} else {
		logger.Info("no kafka brokers configured, delivering events in process")
		worker.Producer = kafka.Loopback{Router: router}
	}
	app.worker = worker

	images := &s3.ImageStore{}
	if cfg.S3Endpoint != "" {
		objects, err := s3.NewClient(s3.Options{
			Endpoint:       cfg.S3Endpoint,
			PublicEndpoint: cfg.S3PublicEndpoint,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			Bucket:         cfg.S3Bucket,
			UseSSL:         cfg.S3UseSSL,
		}, logger)
		if err != nil {
			app.close(logger)
			return application{}, err
		}
		images.Objects = objects
		app.checks["s3"] = objects.Ping
	} else {
		logger.Info("no object storage configured, image uploads disabled")
	}
	gateway := messagingapp.Gateway{Commands: commandBus, Queries: queryBus}
	app.handlers = ginserver.Handlers{
		Chat:        ginserver.ChatHandler{Commands: commandBus, Queries: queryBus, Logger: logger},
		Uploads:     ginserver.UploadHandler{Uploader: images, Queries: queryBus, Logger: logger},
		Communities: ginserver.CommunityHandler{Commands: commandBus, Queries: queryBus, Logger: logger},
		Streams: ginserver.StreamHandler{
			Upgrader: ginserver.NewUpgrader(cfg.CORSOrigins),
			Queries:  queryBus,
			Sync: chatsync.Deps{
				Messages:      st.messages,
				Conversations: st.conversations,
				Gateway:       gateway,
				Uploader:      images,
			},
			SyncOptions: chatsync.Options{MarkReadWhileOpen: cfg.MarkReadWhileOpen, Logger: logger},
			Lister:      st.conversations,
			Registry:    registry,
			Logger:      logger,
		},
		AuthMiddleware: ginserver.AuthMiddleware{Tokens: tokens, Logger: logger}.Handle,
	}
	return app, nil
}

func mongoStorage(ctx context.Context, cfg config.Config, cached func(catalog.Reader) catalog.Reader, logger *slog.Logger) (storage, error) {
	client, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return storage{}, fmt.Errorf("mongo connect: %w", err)
	}
	closers := []func(ctx context.Context) error{client.Close}
	fail := func(err error) (storage, error) {
		_ = client.Close(context.Background())
		return storage{}, err
	}

	box := infraoutbox.NewStore(client.DB)
	idem := mongostore.NewIdempotencyStore(client.DB, cfg.IdempotencyTTL)
	received := inbox.NewStore(client.DB, cfg.KafkaGroupID, cfg.IdempotencyTTL)
	for _, ensure := range []func(context.Context) error{client.EnsureIndexes, box.EnsureIndexes, idem.EnsureIndexes, received.EnsureIndexes} {
		if err := ensure(ctx); err != nil {
			return fail(fmt.Errorf("mongo indexes: %w", err))
		}
	}

	reader := cached(mongostore.NewCatalogRepository(client.DB))
	repos := mongostore.NewRepositories(client.DB, cfg.LiveWindow, reader)
	logger.Info("mongo store ready", "database", cfg.MongoDB)
	return storage{
		factory:       mongostore.Factory{DB: client.DB, Repos: repos},
		box:           box,
		queue:         box,
		idempotency:   idem,
		inbox:         received,
		messages:      repos.Messages,
		conversations: repos.Conversations,
		catalog:       repos.Catalog,
		listings:      repos.Listings,
		checks:        map[string]obs.Check{"mongo": client.Ping},
		closers:       closers,
	}, nil
}

func memoryStorage(cfg config.Config, cached func(catalog.Reader) catalog.Reader, tokens *security.Tokens, logger *slog.Logger) (storage, error) {
	store := memory.NewStore(memory.WithLiveWindow(cfg.LiveWindow))
	if cfg.FixturesPath != "" {
		fx, err := memory.LoadFixtures(cfg.FixturesPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Info("fixtures file not found, starting empty", "path", cfg.FixturesPath)
		case err != nil:
			return storage{}, err
		default:
			if err := store.Seed(fx); err != nil {
				return storage{}, fmt.Errorf("seed fixtures: %w", err)
			}
			logger.Info("fixtures loaded", "path", cfg.FixturesPath, "users", len(fx.Users), "listings", len(fx.Listings), "schools", len(fx.Schools))
			if cfg.Dev() {
				logDevTokens(logger, tokens, fx.Users, cfg.DevTokenTTL)
			}
		}
	}
	box := memory.NewOutbox()
	return storage{
		factory:       memory.Factory{Store: store},
		box:           box,
		queue:         box,
		idempotency:   memory.NewIdempotencyStore(cfg.IdempotencyTTL),
		inbox:         memory.NewInbox(),
		messages:      store.Messages(),
		conversations: store.Conversations(),
		catalog:       cached(store.Catalog()),
		listings:      store.Catalog(),
	}, nil
}

func logDevTokens(logger *slog.Logger, tokens *security.Tokens, users []catalog.Profile, ttl time.Duration) {
	for _, u := range users {
		token, err := tokens.Issue(u.ID, ttl)
		if err != nil {
			logger.Warn("dev token not issued", "user_id", u.ID, "error", err)
			continue
		}
		logger.Info("dev token", "user_id", u.ID, "name", u.Name(), "token", token)
	}
}

func topicsFor(prefix string, eventNames []string) []string {
	seen := make(map[string]struct{}, len(eventNames))
	topics := make([]string, 0, len(eventNames))
	for _, name := range eventNames {
		topic := infraoutbox.Topic(prefix, name)
		if _, ok := seen[topic]; ok {
			continue
		}
		seen[topic] = struct{}{}
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

func workerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return serviceName
	}
	return serviceName + "@" + host
}
