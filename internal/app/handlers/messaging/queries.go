package messaging

import (
	"context"
	"strings"
	"time"

	"campusmarket/internal/app/handlers/support"
	"campusmarket/internal/app/uow"
	domainmessaging "campusmarket/internal/domain/messaging"
	"campusmarket/internal/domain/shared/errs"
)

const (
	getConversationKey   = "messaging.get_conversation"
	fetchMessagesKey     = "messaging.fetch_messages"
	listConversationsKey = "messaging.list_conversations"
)

type GetConversationQuery struct {
	ConversationID string
	ViewerID       string
}

func (GetConversationQuery) Key() string { return getConversationKey }

func (q GetConversationQuery) Validate() error {
	if strings.TrimSpace(q.ConversationID) == "" {
		return errs.Validation("conversation id is required")
	}
	return nil
}

type GetConversationHandler struct {
	UoWFactory uow.UoWFactory
}

func (h *GetConversationHandler) Handle(ctx context.Context, q GetConversationQuery) (*domainmessaging.ConversationDetails, error) {
	return support.Run(ctx, h.UoWFactory, uow.TxOptions{ReadOnly: true}, func(ctx context.Context, unit uow.UnitOfWork) (*domainmessaging.ConversationDetails, error) {
		details, err := unit.Conversations().Get(ctx, q.ConversationID, q.ViewerID)
		if err != nil {
			return nil, err
		}
		return &details, nil
	})
}

// FetchMessagesQuery pages backwards through a conversation. A zero Before returns the newest page.
type FetchMessagesQuery struct {
	ConversationID string
	ViewerID       string
	Before         time.Time
	Limit          int
}

func (FetchMessagesQuery) Key() string { return fetchMessagesKey }

func (q FetchMessagesQuery) Validate() error {
	if strings.TrimSpace(q.ConversationID) == "" {
		return errs.Validation("conversation id is required")
	}
	if q.Limit < 0 {
		return errs.Validation("limit must not be negative")
	}
	return nil
}

type MessagePage struct {
	Messages []domainmessaging.Message
	// HasMore is false once a page came back shorter than requested.
	HasMore bool
	// Cursor is the creation time of the oldest message in the page.
	Cursor time.Time
}

type FetchMessagesHandler struct {
	UoWFactory uow.UoWFactory
}

func (h *FetchMessagesHandler) Handle(ctx context.Context, q FetchMessagesQuery) (*MessagePage, error) {
	limit := domainmessaging.ClampLimit(q.Limit)
	return support.Run(ctx, h.UoWFactory, uow.TxOptions{ReadOnly: true}, func(ctx context.Context, unit uow.UnitOfWork) (*MessagePage, error) {
		msgs, err := unit.Messages().FetchPage(ctx, q.ConversationID, q.Before, limit)
		if err != nil {
			return nil, err
		}
		page := &MessagePage{Messages: msgs, HasMore: len(msgs) == limit}
		if len(msgs) > 0 {
			page.Cursor = msgs[0].CreatedAt
		}
		return page, nil
	})
}

type ListConversationsQuery struct {
	UserID string
	Limit  int
}

func (ListConversationsQuery) Key() string { return listConversationsKey }

func (q ListConversationsQuery) Validate() error {
	return domainmessaging.ValidateUserKey(q.UserID)
}

type ListConversationsHandler struct {
	UoWFactory uow.UoWFactory
}

func (h *ListConversationsHandler) Handle(ctx context.Context, q ListConversationsQuery) ([]domainmessaging.Conversation, error) {
	return support.Run(ctx, h.UoWFactory, uow.TxOptions{ReadOnly: true}, func(ctx context.Context, unit uow.UnitOfWork) ([]domainmessaging.Conversation, error) {
		return unit.Conversations().List(ctx, q.UserID, q.Limit)
	})
}
