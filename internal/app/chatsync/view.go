package chatsync

import (
	"sort"

	"campusmarket/internal/domain/messaging"
)

type State int

const (
	StateLoading State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Status tells whether an entry is confirmed by the store.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
)

type Entry struct {
	Message messaging.Message
	Status  Status
}

// View is an immutable snapshot of an open conversation.
type View struct {
	State        State
	Conversation messaging.ConversationDetails
	Entries      []Entry
	Clusters     []messaging.Cluster
	CanLoadOlder bool
	LoadingOlder bool
	Exhausted    bool
}

// Messages returns the rendered messages in display order.
func (v View) Messages() []messaging.Message {
	out := make([]messaging.Message, len(v.Entries))
	for i, e := range v.Entries {
		out[i] = e.Message
	}
	return out
}

// Op names the intent a Failure belongs to.
type Op string

const (
	OpSend         Op = "send"
	OpReaction     Op = "reaction"
	OpMarkRead     Op = "mark_read"
	OpSubscription Op = "subscription"
)

// Failure reports a background operation that was rolled back.
type Failure struct {
	Op        Op
	ClientKey string
	MessageID string
	Err       error
}

// merge unions history and the live window by id, preferring live copies, in chronological order.
func merge(history, liveWindow []messaging.Message) []messaging.Message {
	byID := make(map[string]messaging.Message, len(history)+len(liveWindow))
	for _, m := range history {
		byID[m.ID] = m
	}
	for _, m := range liveWindow {
		byID[m.ID] = m
	}
	out := make([]messaging.Message, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
