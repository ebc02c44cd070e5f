package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"campusmarket/internal/domain/shared/events"
)

// Header names copied from the request context onto every record.
const (
	HeaderTraceparent = "traceparent"
	HeaderRequestID   = "x-request-id"
)

// EventRecord is an encoded domain event waiting for the worker. ID doubles
// as the published event id.
type EventRecord struct {
	ID         string
	Name       string
	Payload    []byte
	OccurredAt time.Time
	Aggregate  string
	Headers    map[string]string
}

// Outbox buffers records for the current unit of work. Flush hands them to
// durable storage and runs after the command succeeded.
type Outbox interface {
	Add(ctx context.Context, record EventRecord) error
	Flush(ctx context.Context) error
}

type EventEncoder interface {
	Encode(ev events.DomainEvent) (EventRecord, error)
}

// JSONEventEncoder encodes the event struct itself as the payload.
type JSONEventEncoder struct {
	IDGenerator func() string
}

func (e JSONEventEncoder) Encode(ev events.DomainEvent) (EventRecord, error) {
	if ev.EventName() == "" {
		return EventRecord{}, fmt.Errorf("outbox: event %T has no name", ev)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return EventRecord{}, fmt.Errorf("outbox: encode %s: %w", ev.EventName(), err)
	}
	newID := uuid.NewString
	if e.IDGenerator != nil {
		newID = e.IDGenerator
	}
	return EventRecord{
		ID:         newID(),
		Name:       ev.EventName(),
		Payload:    payload,
		OccurredAt: ev.OccurredAt(),
		Aggregate:  ev.AggregateID(),
		Headers:    map[string]string{},
	}, nil
}

// Record encodes evs and adds them to box. A nil box drops the events.
func Record(ctx context.Context, box Outbox, encoder EventEncoder, evs ...events.DomainEvent) error {
	if box == nil {
		return nil
	}
	if encoder == nil {
		encoder = JSONEventEncoder{}
	}
	headers := headersFrom(ctx)
	for _, ev := range evs {
		rec, err := encoder.Encode(ev)
		if err != nil {
			return err
		}
		if rec.Headers == nil {
			rec.Headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			rec.Headers[k] = v
		}
		if err := box.Add(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

type headerKey string

// WithTraceparent attaches a W3C traceparent that Record copies onto records.
func WithTraceparent(ctx context.Context, value string) context.Context {
	return withHeader(ctx, HeaderTraceparent, value)
}

// WithRequestID attaches the id of the request that caused the events.
func WithRequestID(ctx context.Context, value string) context.Context {
	return withHeader(ctx, HeaderRequestID, value)
}

func withHeader(ctx context.Context, name, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, headerKey(name), value)
}

func headersFrom(ctx context.Context) map[string]string {
	out := map[string]string{}
	for _, name := range []string{HeaderTraceparent, HeaderRequestID} {
		if v, ok := ctx.Value(headerKey(name)).(string); ok {
			out[name] = v
		}
	}
	return out
}
