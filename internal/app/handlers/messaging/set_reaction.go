package messaging

import (
	"context"
	"time"

	"campusmarket/internal/app/handlers/support"
	"campusmarket/internal/app/outbox"
	"campusmarket/internal/app/uow"
	domainmessaging "campusmarket/internal/domain/messaging"
)

const setReactionKey = "messaging.set_reaction"

type SetReactionCommand struct {
	MessageID string
	Emoji     string
	UserID    string
	Add       bool
}

func (SetReactionCommand) Key() string { return setReactionKey }

func (c SetReactionCommand) Validate() error {
	if err := domainmessaging.ValidateEmoji(c.Emoji); err != nil {
		return err
	}
	return domainmessaging.ValidateUserKey(c.UserID)
}

type SetReactionResult struct {
	Message domainmessaging.Message `json:"message"`
}

type SetReactionHandler struct {
	UoWFactory uow.UoWFactory
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Now        func() time.Time
}

// Handle adds or removes a reaction. Repeating an add or a remove is a conflict.
func (h *SetReactionHandler) Handle(ctx context.Context, cmd SetReactionCommand) (*SetReactionResult, error) {
	return support.Run(ctx, h.UoWFactory, uow.TxOptions{}, func(ctx context.Context, unit uow.UnitOfWork) (*SetReactionResult, error) {
		msg, err := unit.Messages().ByID(ctx, cmd.MessageID)
		if err != nil {
			return nil, err
		}
		conv, err := unit.Conversations().ByID(ctx, msg.ConversationID)
		if err != nil {
			return nil, err
		}
		if !conv.HasParticipant(cmd.UserID) {
			return nil, domainmessaging.ErrMessageNotFound
		}
		updated, err := unit.Messages().SetReaction(ctx, cmd.MessageID, cmd.Emoji, cmd.UserID, cmd.Add)
		if err != nil {
			return nil, err
		}
		now := time.Now()
		if h.Now != nil {
			now = h.Now()
		}
		ev := domainmessaging.NewReactionChanged(updated, cmd.Emoji, cmd.UserID, cmd.Add, now)
		if err := outbox.Record(ctx, h.Outbox, h.Encoder, ev); err != nil {
			return nil, err
		}
		return &SetReactionResult{Message: updated}, nil
	})
}
