package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	appoutbox "campusmarket/internal/app/outbox"
	infraoutbox "campusmarket/internal/infra/outbox"
)

// Outbox queues event records in memory. Records added inside a unit of work
// become claimable when the unit commits and are dropped on rollback.
type Outbox struct {
	mu   sync.Mutex
	docs map[string]*infraoutbox.EventDocument
	now  func() time.Time
}

func NewOutbox() *Outbox {
	return &Outbox{docs: make(map[string]*infraoutbox.EventDocument), now: func() time.Time { return time.Now().UTC() }}
}

func (o *Outbox) Add(ctx context.Context, record appoutbox.EventRecord) error {
	enqueue := func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		doc := infraoutbox.NewDocument(record, o.now())
		o.docs[doc.ID] = &doc
	}
	if u := unitFrom(ctx); u != nil {
		u.afterCommit(enqueue)
		return nil
	}
	enqueue()
	return nil
}

func (o *Outbox) Flush(context.Context) error {
	return nil
}

func (o *Outbox) Claim(ctx context.Context, workerID string) (*infraoutbox.EventDocument, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	var candidates []*infraoutbox.EventDocument
	for _, doc := range o.docs {
		if (doc.State == infraoutbox.StateNew || doc.State == infraoutbox.StateFailed) && !doc.NextAttempt.After(now) {
			candidates = append(candidates, doc)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].NextAttempt.Equal(candidates[j].NextAttempt) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].NextAttempt.Before(candidates[j].NextAttempt)
	})
	doc := candidates[0]
	doc.State = infraoutbox.StateClaimed
	doc.ClaimedBy = workerID
	doc.ClaimedAt = now
	out := *doc
	return &out, nil
}

func (o *Outbox) MarkSent(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if doc, ok := o.docs[id]; ok {
		doc.State = infraoutbox.StateSent
		doc.SentAt = o.now()
	}
	return nil
}

func (o *Outbox) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if doc, ok := o.docs[id]; ok {
		doc.State = infraoutbox.StateFailed
		doc.NextAttempt = next
		doc.LastError = errMsg
		doc.Attempts++
	}
	return nil
}

// Records lists queued records with the given state, oldest first.
func (o *Outbox) Records(state string) []infraoutbox.EventDocument {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []infraoutbox.EventDocument
	for _, doc := range o.docs {
		if state == "" || doc.State == state {
			out = append(out, *doc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

var (
	_ appoutbox.Outbox  = (*Outbox)(nil)
	_ infraoutbox.Queue = (*Outbox)(nil)
)
