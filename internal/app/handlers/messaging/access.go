package messaging

import (
	"context"

	"campusmarket/internal/app/handlers/support"
	"campusmarket/internal/app/uow"
	domainmessaging "campusmarket/internal/domain/messaging"
)

// ConversationAccess hides conversations from users who are not participants.
// Outsiders get a not-found error so conversation ids cannot be probed.
type ConversationAccess struct {
	UoWFactory uow.UoWFactory
}

func (a ConversationAccess) Authorize(ctx context.Context, message any) error {
	var conversationID, userID string
	switch m := message.(type) {
	case GetConversationQuery:
		conversationID, userID = m.ConversationID, m.ViewerID
	case FetchMessagesQuery:
		conversationID, userID = m.ConversationID, m.ViewerID
	default:
		return nil
	}
	_, err := support.Run(ctx, a.UoWFactory, uow.TxOptions{ReadOnly: true}, func(ctx context.Context, unit uow.UnitOfWork) (struct{}, error) {
		conv, err := unit.Conversations().ByID(ctx, conversationID)
		if err != nil {
			return struct{}{}, err
		}
		if !conv.HasParticipant(userID) {
			return struct{}{}, domainmessaging.ErrConversationNotFound
		}
		return struct{}{}, nil
	})
	return err
}
