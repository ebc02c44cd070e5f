package messaging

import (
	"context"
	"time"

	"campusmarket/internal/app/handlers/support"
	"campusmarket/internal/app/outbox"
	"campusmarket/internal/app/uow"
	domainmessaging "campusmarket/internal/domain/messaging"
	"campusmarket/internal/domain/shared/errs"
)

const markReadKey = "messaging.mark_read"

type MarkReadCommand struct {
	ConversationID string
	UserID         string
	MessageIDs     []string
}

func (MarkReadCommand) Key() string { return markReadKey }

func (c MarkReadCommand) Validate() error {
	if c.ConversationID == "" {
		return errs.Validation("conversation id is required")
	}
	return domainmessaging.ValidateUserKey(c.UserID)
}

type MarkReadResult struct {
	MessagesMarked int `json:"messages_marked"`
	PreviousUnread int `json:"previous_unread"`
}

type MarkReadHandler struct {
	UoWFactory uow.UoWFactory
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Now        func() time.Time
}

// Handle resets the user's unread counter and flags the messages they received as read.
// Calling it again without new messages leaves the counter at zero.
func (h *MarkReadHandler) Handle(ctx context.Context, cmd MarkReadCommand) (*MarkReadResult, error) {
	return support.Run(ctx, h.UoWFactory, uow.TxOptions{}, func(ctx context.Context, unit uow.UnitOfWork) (*MarkReadResult, error) {
		conv, err := unit.Conversations().ByID(ctx, cmd.ConversationID)
		if err != nil {
			return nil, err
		}
		if !conv.HasParticipant(cmd.UserID) {
			return nil, domainmessaging.ErrConversationNotFound
		}
		marked, err := unit.Messages().MarkRead(ctx, conv.ID, cmd.UserID, cmd.MessageIDs)
		if err != nil {
			return nil, err
		}
		previous := conv.UnreadFor(cmd.UserID)
		if err := unit.Conversations().MarkRead(ctx, conv.ID, cmd.UserID); err != nil {
			return nil, err
		}
		if previous > 0 || marked > 0 {
			now := time.Now()
			if h.Now != nil {
				now = h.Now()
			}
			ev := domainmessaging.NewConversationRead(conv.ID, cmd.UserID, marked, now)
			if err := outbox.Record(ctx, h.Outbox, h.Encoder, ev); err != nil {
				return nil, err
			}
		}
		return &MarkReadResult{MessagesMarked: marked, PreviousUnread: previous}, nil
	})
}
