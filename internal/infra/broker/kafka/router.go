package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	"campusmarket/internal/infra/obs"
	"campusmarket/internal/infra/outbox"
)

var ErrMalformedEvent = errors.New("kafka: malformed cloud event")

// Inbox deduplicates deliveries by event id.
type Inbox interface {
	Seen(ctx context.Context, eventID string) (bool, error)
}

type eventHandler func(ctx context.Context, ev outbox.CloudEvent) error

// Router decodes cloud events and dispatches them by event name. Events are
// recorded in the inbox before their handler runs.
type Router struct {
	inbox  Inbox
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]eventHandler
}

func NewRouter(inbox Inbox, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{inbox: inbox, logger: logger, handlers: make(map[string]eventHandler)}
}

// On registers fn for events named name, decoding their data into T.
func On[T any](r *Router, name string, fn func(ctx context.Context, payload T) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("kafka: handler already registered for %s", name))
	}
	r.handlers[name] = func(ctx context.Context, ev outbox.CloudEvent) error {
		var payload T
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return fmt.Errorf("%w: %s data: %v", ErrMalformedEvent, name, err)
		}
		return fn(ctx, payload)
	}
}

// Events lists the registered event names.
func (r *Router) Events() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

func (r *Router) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	return r.Dispatch(ctx, msg.Value)
}

func (r *Router) Dispatch(ctx context.Context, raw []byte) error {
	var ev outbox.CloudEvent
	if err := json.Unmarshal(raw, &ev); err != nil || ev.ID == "" || ev.Type == "" {
		obs.IncEventConsumed("unknown", "malformed")
		return ErrMalformedEvent
	}
	name := ev.EventName()
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		obs.IncEventConsumed(name, "ignored")
		return nil
	}
	if r.inbox != nil {
		seen, err := r.inbox.Seen(ctx, ev.ID)
		if err != nil {
			obs.IncEventConsumed(name, "error")
			return err
		}
		if seen {
			obs.IncEventConsumed(name, "duplicate")
			r.logger.DebugContext(ctx, "duplicate event skipped", "event_id", ev.ID, "type", ev.Type)
			return nil
		}
	}
	if err := handler(ctx, ev); err != nil {
		obs.IncEventConsumed(name, "error")
		return err
	}
	obs.IncEventConsumed(name, "ok")
	return nil
}

// Loopback delivers published events straight to a router. It stands in for
// Kafka when no brokers are configured.
type Loopback struct {
	Router *Router
}

func (l Loopback) Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error {
	err := l.Router.Dispatch(ctx, payload)
	if errors.Is(err, ErrMalformedEvent) {
		// redelivery cannot fix a malformed payload
		return nil
	}
	return err
}

var (
	_ MessageHandler  = (*Router)(nil)
	_ outbox.Producer = Loopback{}
	_ outbox.Producer = (*Producer)(nil)
)
