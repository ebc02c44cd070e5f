package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"campusmarket/internal/app/uow"
	"campusmarket/internal/domain/catalog"
	"campusmarket/internal/domain/communities"
	"campusmarket/internal/domain/messaging"
	"campusmarket/internal/domain/shared/live"
)

// DefaultLiveWindow is the number of newest messages pushed to live subscribers.
const DefaultLiveWindow = 200

// Store holds every collection in process memory. Repositories are thin views
// over it; writes made inside a Unit are undone on Rollback.
type Store struct {
	mu sync.RWMutex

	profiles      map[string]catalog.Profile
	listings      map[string]catalog.Listing
	schools       map[string]communities.School
	referrals     map[string]communities.Referral
	conversations map[string]messaging.Conversation
	messages      map[string]messaging.Message
	threads       map[string][]string

	liveWindow   int
	now          func() time.Time
	msgWatchers  map[string]map[*live.Feed[[]messaging.Message]]struct{}
	convWatchers map[string]map[*live.Feed[messaging.Conversation]]struct{}
	listWatchers map[string]map[*live.Feed[[]messaging.Conversation]]struct{}
}

type Option func(*Store)

// WithLiveWindow bounds live message snapshots; 0 means unbounded.
func WithLiveWindow(n int) Option {
	return func(s *Store) { s.liveWindow = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		profiles:      make(map[string]catalog.Profile),
		listings:      make(map[string]catalog.Listing),
		schools:       make(map[string]communities.School),
		referrals:     make(map[string]communities.Referral),
		conversations: make(map[string]messaging.Conversation),
		messages:      make(map[string]messaging.Message),
		threads:       make(map[string][]string),
		liveWindow:    DefaultLiveWindow,
		now:           time.Now,
		msgWatchers:   make(map[string]map[*live.Feed[[]messaging.Message]]struct{}),
		convWatchers:  make(map[string]map[*live.Feed[messaging.Conversation]]struct{}),
		listWatchers:  make(map[string]map[*live.Feed[[]messaging.Conversation]]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Messages() *MessageRepository {
	return &MessageRepository{store: s}
}

func (s *Store) Conversations() *ConversationRepository {
	return &ConversationRepository{store: s, catalog: s.Catalog()}
}

func (s *Store) Catalog() *CatalogRepository {
	return &CatalogRepository{store: s}
}

func (s *Store) Communities() *CommunityRepository {
	return &CommunityRepository{store: s}
}

// onRollback registers undo with the unit carried by ctx, if any.
func onRollback(ctx context.Context, undo func()) {
	if u := unitFrom(ctx); u != nil {
		u.journal(undo)
	}
}

func unitFrom(ctx context.Context) *Unit {
	unit, ok := uow.FromContext(ctx)
	if !ok {
		return nil
	}
	u, _ := unit.(*Unit)
	return u
}

// thread returns the chronological messages of a conversation. Caller holds mu.
func (s *Store) thread(conversationID string) []messaging.Message {
	ids := s.threads[conversationID]
	out := make([]messaging.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.messages[id].Clone())
	}
	return out
}

func (s *Store) insertMessage(m messaging.Message) {
	if _, exists := s.messages[m.ID]; exists {
		s.removeMessage(m.ID)
	}
	s.messages[m.ID] = m
	ids := append(s.threads[m.ConversationID], m.ID)
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := s.messages[ids[i]], s.messages[ids[j]]
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	s.threads[m.ConversationID] = ids
}

func (s *Store) removeMessage(id string) {
	m, ok := s.messages[id]
	if !ok {
		return
	}
	delete(s.messages, id)
	ids := s.threads[m.ConversationID]
	for i, other := range ids {
		if other == id {
			s.threads[m.ConversationID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
}

func (s *Store) liveSnapshot(conversationID string) []messaging.Message {
	msgs := s.thread(conversationID)
	if s.liveWindow > 0 && len(msgs) > s.liveWindow {
		msgs = msgs[len(msgs)-s.liveWindow:]
	}
	return msgs
}

func (s *Store) userConversations(userID string) []messaging.Conversation {
	var out []messaging.Conversation
	for _, c := range s.conversations {
		if c.HasParticipant(userID) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := activity(out[i]), activity(out[j])
		if ai.Equal(aj) {
			return out[i].ID < out[j].ID
		}
		return ai.After(aj)
	})
	return out
}

func activity(c messaging.Conversation) time.Time {
	if c.LastMessageAt.IsZero() {
		return c.CreatedAt
	}
	return c.LastMessageAt
}

// broadcastMessages pushes the live window to subscribers. Caller holds mu.
func (s *Store) broadcastMessages(conversationID string) {
	watchers := s.msgWatchers[conversationID]
	if len(watchers) == 0 {
		return
	}
	snapshot := s.liveSnapshot(conversationID)
	for f := range watchers {
		f.Publish(snapshot)
	}
}

// broadcastConversation pushes the conversation and both participants' lists. Caller holds mu.
func (s *Store) broadcastConversation(conversationID string) {
	conv, ok := s.conversations[conversationID]
	if !ok {
		return
	}
	for f := range s.convWatchers[conversationID] {
		f.Publish(conv.Clone())
	}
	for _, p := range conv.Participants {
		s.broadcastList(p)
	}
}

func (s *Store) broadcastList(userID string) {
	watchers := s.listWatchers[userID]
	if len(watchers) == 0 {
		return
	}
	list := s.userConversations(userID)
	for f := range watchers {
		f.Publish(list)
	}
}

// watch registers f in set[key] and removes it when the feed closes or ctx ends.
func watch[T any](s *Store, ctx context.Context, set map[string]map[*live.Feed[T]]struct{}, key string, initial T) *live.Feed[T] {
	var f *live.Feed[T]
	f = live.NewFeed[T](func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(set[key], f)
		if len(set[key]) == 0 {
			delete(set, key)
		}
	})
	if set[key] == nil {
		set[key] = make(map[*live.Feed[T]]struct{})
	}
	set[key][f] = struct{}{}
	f.Publish(initial)
	go func() {
		select {
		case <-ctx.Done():
			f.Close()
		case <-f.Done():
		}
	}()
	return f
}
