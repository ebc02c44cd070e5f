package memory

import (
	"context"
	"time"

	"campusmarket/internal/domain/messaging"
	"campusmarket/internal/domain/shared/errs"
	"campusmarket/internal/domain/shared/live"
)

// MessageRepository serves messages from the shared Store.
type MessageRepository struct {
	store *Store
}

func (r *MessageRepository) FetchPage(ctx context.Context, conversationID string, before time.Time, limit int) ([]messaging.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Transient("fetch page", err)
	}
	limit = messaging.ClampLimit(limit)
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	thread := r.store.thread(conversationID)
	end := len(thread)
	if !before.IsZero() {
		end = 0
		for end < len(thread) && thread[end].CreatedAt.Before(before) {
			end++
		}
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return thread[start:end], nil
}

// Append stores msg after the newest message of its thread. A CreatedAt at or
// before that message is moved one millisecond past it.
func (r *MessageRepository) Append(ctx context.Context, msg messaging.Message) (messaging.Message, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return messaging.Message{}, messaging.ErrConversationNotFound
	}
	if msg.ClientKey != "" {
		for _, id := range s.threads[msg.ConversationID] {
			existing := s.messages[id]
			if existing.ClientKey == msg.ClientKey && existing.SenderID == msg.SenderID {
				return existing.Clone(), nil
			}
		}
	}
	if _, dup := s.messages[msg.ID]; dup {
		return messaging.Message{}, errs.Conflict("message id already exists")
	}
	if msg.Reactions == nil {
		msg.Reactions = messaging.Reactions{}
	}
	if thread := s.threads[msg.ConversationID]; len(thread) > 0 {
		msg.CreatedAt = messaging.NextTimestamp(msg.CreatedAt, s.messages[thread[len(thread)-1]].CreatedAt)
	}
	stored := msg.Clone()
	s.insertMessage(stored)
	s.broadcastMessages(msg.ConversationID)
	onRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.removeMessage(stored.ID)
		s.broadcastMessages(stored.ConversationID)
	})
	return stored.Clone(), nil
}

func (r *MessageRepository) ByID(ctx context.Context, messageID string) (messaging.Message, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	m, ok := r.store.messages[messageID]
	if !ok {
		return messaging.Message{}, messaging.ErrMessageNotFound
	}
	return m.Clone(), nil
}

func (r *MessageRepository) SubscribeLive(ctx context.Context, conversationID string) (live.Subscription[[]messaging.Message], error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return watch(s, ctx, s.msgWatchers, conversationID, s.liveSnapshot(conversationID)), nil
}

func (r *MessageRepository) SetReaction(ctx context.Context, messageID, emoji, userID string, add bool) (messaging.Message, error) {
	if err := messaging.ValidateEmoji(emoji); err != nil {
		return messaging.Message{}, err
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	if !ok {
		return messaging.Message{}, messaging.ErrMessageNotFound
	}
	next, err := m.Reactions.Apply(emoji, userID, add)
	if err != nil {
		return messaging.Message{}, err
	}
	prev := m.Reactions
	m.Reactions = next
	s.messages[messageID] = m
	s.broadcastMessages(m.ConversationID)
	onRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.messages[messageID]; ok {
			cur.Reactions = prev
			s.messages[messageID] = cur
			s.broadcastMessages(cur.ConversationID)
		}
	})
	return m.Clone(), nil
}

func (r *MessageRepository) MarkRead(ctx context.Context, conversationID, readerID string, messageIDs []string) (int, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var only map[string]struct{}
	if len(messageIDs) > 0 {
		only = make(map[string]struct{}, len(messageIDs))
		for _, id := range messageIDs {
			only[id] = struct{}{}
		}
	}
	var marked []string
	for _, id := range s.threads[conversationID] {
		m := s.messages[id]
		if m.Read || m.SenderID == readerID {
			continue
		}
		if only != nil {
			if _, ok := only[id]; !ok {
				continue
			}
		}
		m.Read = true
		s.messages[id] = m
		marked = append(marked, id)
	}
	if len(marked) == 0 {
		return 0, nil
	}
	s.broadcastMessages(conversationID)
	onRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, id := range marked {
			if m, ok := s.messages[id]; ok {
				m.Read = false
				s.messages[id] = m
			}
		}
		s.broadcastMessages(conversationID)
	})
	return len(marked), nil
}

var _ messaging.MessageRepository = (*MessageRepository)(nil)
