package memory

import (
	"context"
	"errors"
	"time"

	"campusmarket/internal/domain/catalog"
	"campusmarket/internal/domain/messaging"
	"campusmarket/internal/domain/shared/errs"
	"campusmarket/internal/domain/shared/live"
)

type ConversationRepository struct {
	store   *Store
	catalog catalog.Reader
}

func (r *ConversationRepository) ByID(ctx context.Context, conversationID string) (messaging.Conversation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	c, ok := r.store.conversations[conversationID]
	if !ok {
		return messaging.Conversation{}, messaging.ErrConversationNotFound
	}
	return c.Clone(), nil
}

// Get resolves the listing title and peer profile. A missing listing or
// profile leaves the fields empty; other lookup errors fail the read.
func (r *ConversationRepository) Get(ctx context.Context, conversationID, viewerID string) (messaging.ConversationDetails, error) {
	conv, err := r.ByID(ctx, conversationID)
	if err != nil {
		return messaging.ConversationDetails{}, err
	}
	details := messaging.ConversationDetails{Conversation: conv}
	if conv.ListingID != "" {
		l, err := r.catalog.Listing(ctx, conv.ListingID)
		switch {
		case err == nil:
			details.ListingTitle = l.Title
		case !errors.Is(err, errs.ErrNotFound):
			return messaging.ConversationDetails{}, err
		}
	}
	peerID := conv.Peer(viewerID)
	details.Peer = catalog.Profile{ID: peerID}
	p, err := r.catalog.Profile(ctx, peerID)
	switch {
	case err == nil:
		details.Peer = p
	case !errors.Is(err, errs.ErrNotFound):
		return messaging.ConversationDetails{}, err
	}
	return details, nil
}

func (r *ConversationRepository) List(ctx context.Context, userID string, limit int) ([]messaging.Conversation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	list := r.store.userConversations(userID)
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (r *ConversationRepository) SubscribeList(ctx context.Context, userID string) (live.Subscription[[]messaging.Conversation], error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return watch(s, ctx, s.listWatchers, userID, s.userConversations(userID)), nil
}

func (r *ConversationRepository) Subscribe(ctx context.Context, conversationID string) (live.Subscription[messaging.Conversation], error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, messaging.ErrConversationNotFound
	}
	return watch(s, ctx, s.convWatchers, conversationID, conv.Clone()), nil
}

// GetOrCreate returns the conversation of the same listing and participant
// pair when one exists, otherwise stores candidate.
func (r *ConversationRepository) GetOrCreate(ctx context.Context, candidate messaging.Conversation) (messaging.Conversation, bool, error) {
	if len(candidate.Participants) != 2 {
		return messaging.Conversation{}, false, errs.Validation("conversation needs exactly two participants")
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	key := messaging.ParticipantsKey(candidate.Participants[0], candidate.Participants[1])
	for _, c := range s.conversations {
		if c.ListingID == candidate.ListingID && messaging.ParticipantsKey(c.Participants[0], c.Participants[1]) == key {
			return c.Clone(), false, nil
		}
	}
	stored := candidate.Clone()
	s.conversations[stored.ID] = stored
	s.broadcastConversation(stored.ID)
	onRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.conversations, stored.ID)
		for _, p := range stored.Participants {
			s.broadcastList(p)
		}
	})
	return stored.Clone(), true, nil
}

// TouchOnSend counts the message for recipientID and moves the preview to it
// unless a newer message already holds it. Rollback undoes only this call's
// own changes so writes committed by other units survive.
func (r *ConversationRepository) TouchOnSend(ctx context.Context, conversationID, preview, recipientID string, at time.Time) (messaging.Conversation, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return messaging.Conversation{}, messaging.ErrConversationNotFound
	}
	at = at.UTC()
	prevPreview, prevAt := c.LastMessage, c.LastMessageAt
	c = c.Clone()
	if !at.Before(c.LastMessageAt) {
		c.LastMessage = preview
		c.LastMessageAt = at
	}
	if recipientID != "" {
		c.UnreadCount[recipientID]++
	}
	s.conversations[conversationID] = c
	s.broadcastConversation(conversationID)
	onRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		cur, ok := s.conversations[conversationID]
		if !ok {
			return
		}
		cur = cur.Clone()
		if recipientID != "" && cur.UnreadCount[recipientID] > 0 {
			cur.UnreadCount[recipientID]--
		}
		if cur.LastMessageAt.Equal(at) && cur.LastMessage == preview {
			cur.LastMessage, cur.LastMessageAt = prevPreview, prevAt
			if p, pAt := s.latestPreview(conversationID, at); pAt.After(prevAt) {
				cur.LastMessage, cur.LastMessageAt = p, pAt
			}
		}
		s.conversations[conversationID] = cur
		s.broadcastConversation(conversationID)
	})
	return c.Clone(), nil
}

// latestPreview returns the preview of the newest message in the thread other
// than the one created at skip.
func (s *Store) latestPreview(conversationID string, skip time.Time) (string, time.Time) {
	thread := s.threads[conversationID]
	for i := len(thread) - 1; i >= 0; i-- {
		m := s.messages[thread[i]]
		if m.CreatedAt.Equal(skip) {
			continue
		}
		return messaging.Preview(m.Content, m.Image != nil), m.CreatedAt
	}
	return "", time.Time{}
}

func (r *ConversationRepository) MarkRead(ctx context.Context, conversationID, userID string) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return messaging.ErrConversationNotFound
	}
	cleared := c.UnreadCount[userID]
	if cleared == 0 {
		return nil
	}
	c = c.Clone()
	c.UnreadCount[userID] = 0
	s.conversations[conversationID] = c
	s.broadcastConversation(conversationID)
	onRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		cur, ok := s.conversations[conversationID]
		if !ok {
			return
		}
		cur = cur.Clone()
		cur.UnreadCount[userID] += cleared
		s.conversations[conversationID] = cur
		s.broadcastConversation(conversationID)
	})
	return nil
}

var _ messaging.ConversationRepository = (*ConversationRepository)(nil)
