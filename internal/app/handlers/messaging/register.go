package messaging

import (
	"time"

	"campusmarket/internal/app/commands"
	"campusmarket/internal/app/outbox"
	"campusmarket/internal/app/queries"
	"campusmarket/internal/app/uow"
	domainmessaging "campusmarket/internal/domain/messaging"
)

// Deps are shared by every messaging handler.
type Deps struct {
	UoWFactory uow.UoWFactory
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Now        func() time.Time
}

// Register wires the messaging handlers into the buses.
func Register(cmdBus *commands.InMemoryBus, queryBus *queries.InMemoryBus, d Deps) {
	commands.RegisterHandler[SendMessageCommand, *SendMessageResult](cmdBus, &SendMessageHandler{
		UoWFactory: d.UoWFactory, Outbox: d.Outbox, Encoder: d.Encoder, Now: d.Now,
	})
	commands.RegisterHandler[SetReactionCommand, *SetReactionResult](cmdBus, &SetReactionHandler{
		UoWFactory: d.UoWFactory, Outbox: d.Outbox, Encoder: d.Encoder, Now: d.Now,
	})
	commands.RegisterHandler[MarkReadCommand, *MarkReadResult](cmdBus, &MarkReadHandler{
		UoWFactory: d.UoWFactory, Outbox: d.Outbox, Encoder: d.Encoder, Now: d.Now,
	})
	commands.RegisterHandler[StartConversationCommand, *StartConversationResult](cmdBus, &StartConversationHandler{
		UoWFactory: d.UoWFactory, Outbox: d.Outbox, Encoder: d.Encoder, Now: d.Now,
	})

	queries.RegisterHandler[GetConversationQuery, *domainmessaging.ConversationDetails](queryBus, &GetConversationHandler{UoWFactory: d.UoWFactory})
	queries.RegisterHandler[FetchMessagesQuery, *MessagePage](queryBus, &FetchMessagesHandler{UoWFactory: d.UoWFactory})
	queries.RegisterHandler[ListConversationsQuery, []domainmessaging.Conversation](queryBus, &ListConversationsHandler{UoWFactory: d.UoWFactory})
}
