package messaging

import (
	"context"

	"campusmarket/internal/app/commands"
	"campusmarket/internal/app/queries"
	domainmessaging "campusmarket/internal/domain/messaging"
)

// Gateway exposes the messaging commands and queries as plain method calls for
// callers that are not HTTP handlers, such as the conversation view synchronizer.
type Gateway struct {
	Commands commands.Bus
	Queries  queries.Bus
}

func (g Gateway) SendMessage(ctx context.Context, cmd SendMessageCommand) (domainmessaging.Message, error) {
	res, err := commands.Dispatch[SendMessageCommand, *SendMessageResult](ctx, g.Commands, cmd)
	if err != nil {
		return domainmessaging.Message{}, err
	}
	if res == nil {
		return domainmessaging.Message{}, nil
	}
	return res.Message, nil
}

func (g Gateway) SetReaction(ctx context.Context, cmd SetReactionCommand) (domainmessaging.Message, error) {
	res, err := commands.Dispatch[SetReactionCommand, *SetReactionResult](ctx, g.Commands, cmd)
	if err != nil {
		return domainmessaging.Message{}, err
	}
	if res == nil {
		return domainmessaging.Message{}, nil
	}
	return res.Message, nil
}

func (g Gateway) MarkRead(ctx context.Context, cmd MarkReadCommand) (int, error) {
	res, err := commands.Dispatch[MarkReadCommand, *MarkReadResult](ctx, g.Commands, cmd)
	if err != nil || res == nil {
		return 0, err
	}
	return res.MessagesMarked, nil
}

func (g Gateway) FetchPage(ctx context.Context, q FetchMessagesQuery) (*MessagePage, error) {
	return queries.Ask[FetchMessagesQuery, *MessagePage](ctx, g.Queries, q)
}

func (g Gateway) Conversation(ctx context.Context, q GetConversationQuery) (*domainmessaging.ConversationDetails, error) {
	return queries.Ask[GetConversationQuery, *domainmessaging.ConversationDetails](ctx, g.Queries, q)
}
