package chatsync

import (
	"context"
	"time"

	handlers "campusmarket/internal/app/handlers/messaging"
	"campusmarket/internal/domain/messaging"
	"campusmarket/internal/domain/shared/live"
)

// MessageSource reads history pages and the live window of a conversation.
type MessageSource interface {
	FetchPage(ctx context.Context, conversationID string, before time.Time, limit int) ([]messaging.Message, error)
	SubscribeLive(ctx context.Context, conversationID string) (live.Subscription[[]messaging.Message], error)
}

type ConversationSource interface {
	Get(ctx context.Context, conversationID, viewerID string) (messaging.ConversationDetails, error)
	Subscribe(ctx context.Context, conversationID string) (live.Subscription[messaging.Conversation], error)
}

// Gateway performs the durable writes. handlers.Gateway satisfies it.
type Gateway interface {
	SendMessage(ctx context.Context, cmd handlers.SendMessageCommand) (messaging.Message, error)
	SetReaction(ctx context.Context, cmd handlers.SetReactionCommand) (messaging.Message, error)
	MarkRead(ctx context.Context, cmd handlers.MarkReadCommand) (int, error)
}

type Uploader interface {
	UploadImage(ctx context.Context, conversationID, senderID string, a messaging.Attachment) (messaging.ImageRef, error)
}
