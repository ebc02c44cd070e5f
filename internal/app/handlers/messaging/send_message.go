package messaging

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"campusmarket/internal/app/handlers/support"
	"campusmarket/internal/app/outbox"
	"campusmarket/internal/app/uow"
	domainmessaging "campusmarket/internal/domain/messaging"
	"campusmarket/internal/domain/shared/errs"
)

const sendMessageKey = "messaging.send_message"

type SendMessageCommand struct {
	ConversationID string
	SenderID       string
	Content        string
	Image          *domainmessaging.ImageRef
	ReplyToID      string
	ClientKey      string
}

func (SendMessageCommand) Key() string { return sendMessageKey }

// IdempotencyKey scopes the client key to the sender and conversation.
func (c SendMessageCommand) IdempotencyKey() string {
	if strings.TrimSpace(c.ClientKey) == "" {
		return ""
	}
	return c.SenderID + "/" + c.ConversationID + "/" + strings.TrimSpace(c.ClientKey)
}

func (SendMessageCommand) ResultPrototype() any { return &SendMessageResult{} }

func (c SendMessageCommand) Validate() error {
	_, err := c.draft().Normalize()
	return err
}

func (c SendMessageCommand) draft() domainmessaging.Draft {
	return domainmessaging.Draft{
		ConversationID: c.ConversationID,
		SenderID:       c.SenderID,
		Content:        c.Content,
		Image:          c.Image,
		ClientKey:      c.ClientKey,
	}
}

type SendMessageResult struct {
	Message         domainmessaging.Message `json:"message"`
	RecipientUnread int                     `json:"recipient_unread"`
}

type SendMessageHandler struct {
	UoWFactory uow.UoWFactory
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Now        func() time.Time
	NewID      func() string
}

// Handle appends the message and updates the conversation preview and the
// recipient's unread counter in the same unit of work.
func (h *SendMessageHandler) Handle(ctx context.Context, cmd SendMessageCommand) (*SendMessageResult, error) {
	return support.Run(ctx, h.UoWFactory, uow.TxOptions{}, func(ctx context.Context, unit uow.UnitOfWork) (*SendMessageResult, error) {
		draft, err := cmd.draft().Normalize()
		if err != nil {
			return nil, err
		}
		conv, err := unit.Conversations().ByID(ctx, draft.ConversationID)
		if err != nil {
			return nil, err
		}
		if !conv.HasParticipant(draft.SenderID) {
			return nil, domainmessaging.ErrNotParticipant
		}
		if cmd.ReplyToID != "" {
			draft.ReplyTo, err = h.replySnapshot(ctx, unit, conv.ID, cmd.ReplyToID)
			if err != nil {
				return nil, err
			}
		}

		at := domainmessaging.NextTimestamp(h.now(), conv.LastMessageAt)
		msg := domainmessaging.NewMessage(h.newID(), draft, at)
		stored, err := unit.Messages().Append(ctx, msg)
		if err != nil {
			return nil, err
		}
		recipient := conv.Peer(draft.SenderID)
		if stored.ID != msg.ID {
			// client key seen before: the earlier send already touched the conversation
			return &SendMessageResult{Message: stored, RecipientUnread: conv.UnreadFor(recipient)}, nil
		}

		preview := domainmessaging.Preview(stored.Content, stored.Image != nil)
		updated, err := unit.Conversations().TouchOnSend(ctx, conv.ID, preview, recipient, stored.CreatedAt)
		if err != nil {
			return nil, err
		}
		if err := outbox.Record(ctx, h.Outbox, h.Encoder, domainmessaging.NewMessageSent(updated, stored)); err != nil {
			return nil, err
		}
		return &SendMessageResult{Message: stored, RecipientUnread: updated.UnreadFor(recipient)}, nil
	})
}

func (h *SendMessageHandler) replySnapshot(ctx context.Context, unit uow.UnitOfWork, conversationID, replyToID string) (*domainmessaging.ReplyRef, error) {
	target, err := unit.Messages().ByID(ctx, replyToID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.Validation("replied-to message does not exist")
		}
		return nil, err
	}
	if target.ConversationID != conversationID {
		return nil, errs.Validation("replied-to message belongs to another conversation")
	}
	name := target.SenderID
	if profile, err := unit.Catalog().Profile(ctx, target.SenderID); err == nil {
		name = profile.Name()
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	return target.Reply(name), nil
}

func (h *SendMessageHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *SendMessageHandler) newID() string {
	if h.NewID != nil {
		return h.NewID()
	}
	return uuid.NewString()
}
