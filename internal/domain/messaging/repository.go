package messaging

import (
	"context"
	"time"

	"campusmarket/internal/domain/shared/errs"
	"campusmarket/internal/domain/shared/live"
)

var (
	ErrConversationNotFound = errs.NotFound("conversation not found")
	ErrMessageNotFound      = errs.NotFound("message not found")
	ErrNotParticipant       = errs.Validation("sender is not a participant of the conversation")
)

// MessageRepository persists messages.
type MessageRepository interface {
	// FetchPage returns up to limit messages created strictly before `before`
	// (the newest ones when zero), in chronological order.
	FetchPage(ctx context.Context, conversationID string, before time.Time, limit int) ([]Message, error)
	// Append stores msg. A message whose client key was already stored in the
	// conversation is returned instead of inserting a duplicate.
	Append(ctx context.Context, msg Message) (Message, error)
	ByID(ctx context.Context, messageID string) (Message, error)
	// SubscribeLive streams the chronological live window of a conversation.
	SubscribeLive(ctx context.Context, conversationID string) (live.Subscription[[]Message], error)
	SetReaction(ctx context.Context, messageID, emoji, userID string, add bool) (Message, error)
	// MarkRead flags messages not sent by readerID as read, limited to messageIDs when given.
	MarkRead(ctx context.Context, conversationID, readerID string, messageIDs []string) (int, error)
}

// ConversationRepository persists conversations and their per-user counters.
type ConversationRepository interface {
	ByID(ctx context.Context, conversationID string) (Conversation, error)
	Get(ctx context.Context, conversationID, viewerID string) (ConversationDetails, error)
	List(ctx context.Context, userID string, limit int) ([]Conversation, error)
	SubscribeList(ctx context.Context, userID string) (live.Subscription[[]Conversation], error)
	Subscribe(ctx context.Context, conversationID string) (live.Subscription[Conversation], error)
	GetOrCreate(ctx context.Context, candidate Conversation) (Conversation, bool, error)
	// TouchOnSend sets the preview and increments the recipient counter in one atomic update.
	TouchOnSend(ctx context.Context, conversationID, preview, recipientID string, at time.Time) (Conversation, error)
	MarkRead(ctx context.Context, conversationID, userID string) error
}

// ClampLimit keeps page requests inside 1..PageSize.
func ClampLimit(limit int) int {
	if limit <= 0 || limit > PageSize {
		return PageSize
	}
	return limit
}
