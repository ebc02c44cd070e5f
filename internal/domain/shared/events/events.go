package events

import "time"

// DomainEvent is a fact recorded into the outbox in the same unit of work
// as the change it describes.
type DomainEvent interface {
	EventName() string
	AggregateID() string
	OccurredAt() time.Time
}

// Base carries the envelope fields. Embed it with `json:"-"` so the encoded
// payload holds only the event's own fields.
type Base struct {
	Name      string
	Aggregate string
	Time      time.Time
}

// NewBase stamps an event in UTC truncated to milliseconds, the precision
// mongo keeps.
func NewBase(name, aggregate string, at time.Time) Base {
	return Base{Name: name, Aggregate: aggregate, Time: at.UTC().Truncate(time.Millisecond)}
}

func (e Base) EventName() string     { return e.Name }
func (e Base) AggregateID() string   { return e.Aggregate }
func (e Base) OccurredAt() time.Time { return e.Time }
