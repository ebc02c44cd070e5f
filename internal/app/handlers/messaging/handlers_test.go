package messaging

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusmarket/internal/app/commands"
	"campusmarket/internal/app/outbox"
	"campusmarket/internal/app/queries"
	"campusmarket/internal/domain/catalog"
	domainmessaging "campusmarket/internal/domain/messaging"
	"campusmarket/internal/domain/shared/errs"
	infraoutbox "campusmarket/internal/infra/outbox"
	"campusmarket/internal/infra/storage/memory"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store *memory.Store
	box   *memory.Outbox
	deps  Deps
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	s := memory.NewStore()
	s.PutProfile(catalog.Profile{ID: "alice", DisplayName: "Alice"})
	s.PutProfile(catalog.Profile{ID: "bob", DisplayName: "Bob"})
	s.PutListing(catalog.Listing{ID: "lamp", Title: "Desk lamp", SellerID: "bob", Status: catalog.ListingActive})
	s.PutListing(catalog.Listing{ID: "gone", Title: "Old bike", SellerID: "bob", Status: catalog.ListingHidden})
	conv, err := domainmessaging.NewConversation("c1", "lamp", []string{"alice", "bob"}, t0)
	require.NoError(t, err)
	s.PutConversation(conv)

	box := memory.NewOutbox()
	clock := t0
	return fixture{
		store: s,
		box:   box,
		deps: Deps{
			UoWFactory: memory.Factory{Store: s},
			Outbox:     box,
			Encoder:    outbox.JSONEventEncoder{},
			Now: func() time.Time {
				clock = clock.Add(time.Second)
				return clock
			},
		},
	}
}

func (f fixture) sender() *SendMessageHandler {
	n := 0
	return &SendMessageHandler{
		UoWFactory: f.deps.UoWFactory,
		Outbox:     f.deps.Outbox,
		Encoder:    f.deps.Encoder,
		Now:        f.deps.Now,
		NewID: func() string {
			n++
			return fmt.Sprintf("m%d", n)
		},
	}
}

func (f fixture) eventNames() []string {
	var names []string
	for _, doc := range f.box.Records(infraoutbox.StateNew) {
		names = append(names, doc.Name)
	}
	return names
}

func TestSendMessageUpdatesPreviewAndRecipientCounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.sender().Handle(ctx, SendMessageCommand{ConversationID: "c1", SenderID: "alice", Content: "  is it still available?  "})
	require.NoError(t, err)
	assert.Equal(t, "alice", res.Message.SenderID)
	assert.Equal(t, "is it still available?", res.Message.Content)
	assert.Equal(t, 1, res.RecipientUnread)

	conv, err := f.store.Conversations().ByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "is it still available?", conv.LastMessage)
	assert.Equal(t, 1, conv.UnreadFor("bob"))
	assert.Zero(t, conv.UnreadFor("alice"))
	assert.Equal(t, []string{domainmessaging.EventMessageSent}, f.eventNames())
}

func TestConcurrentSendsKeepDistinctTimestampsAndCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var seq atomic.Int64
	h := &SendMessageHandler{
		UoWFactory: f.deps.UoWFactory,
		Outbox:     f.deps.Outbox,
		Encoder:    f.deps.Encoder,
		Now:        func() time.Time { return t0 },
		NewID:      func() string { return fmt.Sprintf("m%03d", seq.Add(1)) },
	}

	const n = 120
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := "alice"
			if i%2 == 1 {
				sender = "bob"
			}
			_, err := h.Handle(ctx, SendMessageCommand{ConversationID: "c1", SenderID: sender, Content: fmt.Sprintf("msg %d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stamps := make(map[time.Time]struct{}, n)
	before := time.Time{}
	for {
		page, err := f.store.Messages().FetchPage(ctx, "c1", before, domainmessaging.PageSize)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			stamps[m.CreatedAt] = struct{}{}
		}
		before = page[0].CreatedAt
	}
	assert.Len(t, stamps, n)

	conv, err := f.store.Conversations().ByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, n/2, conv.UnreadFor("bob"))
	assert.Equal(t, n/2, conv.UnreadFor("alice"))
	assert.Len(t, f.eventNames(), n)
}

func TestTwoRacingSendsBothIncrement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var seq atomic.Int64
	h := &SendMessageHandler{
		UoWFactory: f.deps.UoWFactory,
		Outbox:     f.deps.Outbox,
		Encoder:    f.deps.Encoder,
		Now:        func() time.Time { return t0 },
		NewID:      func() string { return fmt.Sprintf("m%d", seq.Add(1)) },
	}

	start := make(chan struct{})
	results := make([]*SendMessageResult, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			res, err := h.Handle(ctx, SendMessageCommand{ConversationID: "c1", SenderID: "alice", Content: "ok"})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	close(start)
	wg.Wait()

	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.False(t, results[0].Message.CreatedAt.Equal(results[1].Message.CreatedAt))
	assert.ElementsMatch(t, []int{1, 2}, []int{results[0].RecipientUnread, results[1].RecipientUnread})

	conv, err := f.store.Conversations().ByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, conv.UnreadFor("bob"))
	latest := results[0].Message
	if results[1].Message.CreatedAt.After(latest.CreatedAt) {
		latest = results[1].Message
	}
	assert.True(t, conv.LastMessageAt.Equal(latest.CreatedAt))
}

func TestSendMessageRejectsOutsiderWithoutInsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sender().Handle(ctx, SendMessageCommand{ConversationID: "c1", SenderID: "mallory", Content: "hi"})
	assert.ErrorIs(t, err, domainmessaging.ErrNotParticipant)

	page, err := f.store.Messages().FetchPage(ctx, "c1", time.Time{}, 0)
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.Empty(t, f.eventNames())
}

func TestSendMessageRepeatedClientKeyCountsOnce(t *testing.T) {
	f := newFixture(t)
	h := f.sender()
	ctx := context.Background()
	cmd := SendMessageCommand{ConversationID: "c1", SenderID: "alice", Content: "hi", ClientKey: "k1"}

	first, err := h.Handle(ctx, cmd)
	require.NoError(t, err)
	second, err := h.Handle(ctx, cmd)
	require.NoError(t, err)

	assert.Equal(t, first.Message.ID, second.Message.ID)
	assert.Equal(t, 1, second.RecipientUnread)
	assert.Len(t, f.eventNames(), 1)
}

func TestSendMessageSnapshotsReply(t *testing.T) {
	f := newFixture(t)
	h := f.sender()
	ctx := context.Background()

	original, err := h.Handle(ctx, SendMessageCommand{ConversationID: "c1", SenderID: "bob", Content: "yes it is"})
	require.NoError(t, err)
	reply, err := h.Handle(ctx, SendMessageCommand{ConversationID: "c1", SenderID: "alice", Content: "great", ReplyToID: original.Message.ID})
	require.NoError(t, err)

	require.NotNil(t, reply.Message.ReplyTo)
	assert.Equal(t, "Bob", reply.Message.ReplyTo.SenderName)
	assert.Equal(t, "yes it is", reply.Message.ReplyTo.Content)
	assert.True(t, reply.Message.CreatedAt.After(original.Message.CreatedAt))

	_, err = h.Handle(ctx, SendMessageCommand{ConversationID: "c1", SenderID: "alice", Content: "?", ReplyToID: "missing"})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestSendMessageValidatesEmptyContent(t *testing.T) {
	err := SendMessageCommand{ConversationID: "c1", SenderID: "alice", Content: "   "}.Validate()
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestSetReactionAttributesUserAndRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sent, err := f.sender().Handle(ctx, SendMessageCommand{ConversationID: "c1", SenderID: "bob", Content: "yes"})
	require.NoError(t, err)
	h := &SetReactionHandler{UoWFactory: f.deps.UoWFactory, Outbox: f.box, Now: f.deps.Now}

	res, err := h.Handle(ctx, SetReactionCommand{MessageID: sent.Message.ID, Emoji: "👍", UserID: "alice", Add: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, res.Message.Reactions["👍"])

	_, err = h.Handle(ctx, SetReactionCommand{MessageID: sent.Message.ID, Emoji: "👍", UserID: "alice", Add: true})
	assert.ErrorIs(t, err, errs.ErrConflict)

	_, err = h.Handle(ctx, SetReactionCommand{MessageID: sent.Message.ID, Emoji: "👍", UserID: "mallory", Add: true})
	assert.ErrorIs(t, err, domainmessaging.ErrMessageNotFound)

	stored, err := f.store.Messages().ByID(ctx, sent.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Reactions.Count("👍"))
}

func TestMarkReadResetsCounterOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	send := f.sender()
	for i := 0; i < 3; i++ {
		_, err := send.Handle(ctx, SendMessageCommand{ConversationID: "c1", SenderID: "bob", Content: "ping", ClientKey: fmt.Sprintf("k%d", i)})
		require.NoError(t, err)
	}
	h := &MarkReadHandler{UoWFactory: f.deps.UoWFactory, Outbox: f.box, Now: f.deps.Now}

	res, err := h.Handle(ctx, MarkReadCommand{ConversationID: "c1", UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.PreviousUnread)
	assert.Equal(t, 3, res.MessagesMarked)

	res, err = h.Handle(ctx, MarkReadCommand{ConversationID: "c1", UserID: "alice"})
	require.NoError(t, err)
	assert.Zero(t, res.PreviousUnread)
	assert.Zero(t, res.MessagesMarked)

	conv, err := f.store.Conversations().ByID(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, conv.UnreadFor("alice"))

	read := 0
	for _, name := range f.eventNames() {
		if name == domainmessaging.EventConversationRead {
			read++
		}
	}
	assert.Equal(t, 1, read)

	_, err = h.Handle(ctx, MarkReadCommand{ConversationID: "c1", UserID: "mallory"})
	assert.ErrorIs(t, err, domainmessaging.ErrConversationNotFound)
}

func TestStartConversationReusesPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := &StartConversationHandler{UoWFactory: f.deps.UoWFactory, Outbox: f.box, Now: f.deps.Now}

	res, err := h.Handle(ctx, StartConversationCommand{ListingID: "lamp", BuyerID: "alice"})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "c1", res.Conversation.ID)

	f.store.PutProfile(catalog.Profile{ID: "carol"})
	res, err = h.Handle(ctx, StartConversationCommand{ListingID: "lamp", BuyerID: "carol"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.ElementsMatch(t, []string{"carol", "bob"}, res.Conversation.Participants)
	assert.Contains(t, f.eventNames(), domainmessaging.EventConversationStarted)

	_, err = h.Handle(ctx, StartConversationCommand{ListingID: "lamp", BuyerID: "bob"})
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = h.Handle(ctx, StartConversationCommand{ListingID: "gone", BuyerID: "alice"})
	assert.ErrorIs(t, err, catalog.ErrListingNotFound)
}

func TestConversationAccessHidesFromOutsiders(t *testing.T) {
	f := newFixture(t)
	access := ConversationAccess{UoWFactory: f.deps.UoWFactory}
	ctx := context.Background()

	assert.NoError(t, access.Authorize(ctx, GetConversationQuery{ConversationID: "c1", ViewerID: "alice"}))
	assert.ErrorIs(t, access.Authorize(ctx, FetchMessagesQuery{ConversationID: "c1", ViewerID: "mallory"}), errs.ErrNotFound)
	assert.NoError(t, access.Authorize(ctx, ListConversationsQuery{UserID: "mallory"}))
}

func TestGatewayRoundTripsThroughBuses(t *testing.T) {
	f := newFixture(t)
	cmdBus := commands.NewInMemoryBus()
	queryBus := queries.NewInMemoryBus()
	Register(cmdBus, queryBus, f.deps)
	gw := Gateway{Commands: cmdBus, Queries: queryBus}
	ctx := context.Background()

	for i := 0; i < domainmessaging.PageSize+5; i++ {
		_, err := gw.SendMessage(ctx, SendMessageCommand{ConversationID: "c1", SenderID: "bob", Content: fmt.Sprintf("msg %d", i)})
		require.NoError(t, err)
	}

	page, err := gw.FetchPage(ctx, FetchMessagesQuery{ConversationID: "c1", ViewerID: "alice"})
	require.NoError(t, err)
	require.Len(t, page.Messages, domainmessaging.PageSize)
	assert.True(t, page.HasMore)

	older, err := gw.FetchPage(ctx, FetchMessagesQuery{ConversationID: "c1", ViewerID: "alice", Before: page.Cursor})
	require.NoError(t, err)
	assert.Len(t, older.Messages, 5)
	assert.False(t, older.HasMore)

	marked, err := gw.MarkRead(ctx, MarkReadCommand{ConversationID: "c1", UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, domainmessaging.PageSize+5, marked)

	details, err := gw.Conversation(ctx, GetConversationQuery{ConversationID: "c1", ViewerID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "Desk lamp", details.ListingTitle)
	assert.Zero(t, details.UnreadFor("alice"))
}
