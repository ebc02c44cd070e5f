package messaging

import (
	"time"

	"campusmarket/internal/domain/shared/events"
)

const (
	EventMessageSent         = "messaging.message_sent"
	EventReactionChanged     = "messaging.reaction_changed"
	EventConversationRead    = "messaging.conversation_read"
	EventConversationStarted = "messaging.conversation_started"
)

type MessageSent struct {
	events.Base     `json:"-"`
	ConversationID  string    `json:"conversation_id"`
	MessageID       string    `json:"message_id"`
	ListingID       string    `json:"listing_id,omitempty"`
	SenderID        string    `json:"sender_id"`
	RecipientID     string    `json:"recipient_id"`
	Preview         string    `json:"preview"`
	RecipientUnread int       `json:"recipient_unread"`
	SentAt          time.Time `json:"sent_at"`
}

func NewMessageSent(conv Conversation, msg Message) MessageSent {
	recipient := conv.Peer(msg.SenderID)
	return MessageSent{
		Base:            events.NewBase(EventMessageSent, conv.ID, msg.CreatedAt),
		ConversationID:  conv.ID,
		MessageID:       msg.ID,
		ListingID:       conv.ListingID,
		SenderID:        msg.SenderID,
		RecipientID:     recipient,
		Preview:         conv.LastMessage,
		RecipientUnread: conv.UnreadFor(recipient),
		SentAt:          msg.CreatedAt,
	}
}

type ReactionChanged struct {
	events.Base    `json:"-"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	UserID         string `json:"user_id"`
	Emoji          string `json:"emoji"`
	Added          bool   `json:"added"`
	Count          int    `json:"count"`
}

func NewReactionChanged(msg Message, emoji, userID string, added bool, at time.Time) ReactionChanged {
	return ReactionChanged{
		Base:           events.NewBase(EventReactionChanged, msg.ConversationID, at),
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		UserID:         userID,
		Emoji:          emoji,
		Added:          added,
		Count:          msg.Reactions.Count(emoji),
	}
}

type ConversationRead struct {
	events.Base    `json:"-"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	MessagesMarked int    `json:"messages_marked"`
}

func NewConversationRead(conversationID, userID string, marked int, at time.Time) ConversationRead {
	return ConversationRead{
		Base:           events.NewBase(EventConversationRead, conversationID, at),
		ConversationID: conversationID,
		UserID:         userID,
		MessagesMarked: marked,
	}
}

type ConversationStarted struct {
	events.Base    `json:"-"`
	ConversationID string   `json:"conversation_id"`
	ListingID      string   `json:"listing_id,omitempty"`
	Participants   []string `json:"participants"`
}

func NewConversationStarted(conv Conversation) ConversationStarted {
	return ConversationStarted{
		Base:           events.NewBase(EventConversationStarted, conv.ID, conv.CreatedAt),
		ConversationID: conv.ID,
		ListingID:      conv.ListingID,
		Participants:   append([]string(nil), conv.Participants...),
	}
}
