package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"campusmarket/internal/domain/catalog"
	"campusmarket/internal/domain/messaging"
)

type platformMock struct {
	mock.Mock
}

func (m *platformMock) RequestPermission(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *platformMock) Show(ctx context.Context, n Notification) error {
	return m.Called(ctx, n).Error(0)
}

func TestBridgeRequestsPermissionOnce(t *testing.T) {
	p := &platformMock{}
	p.On("RequestPermission", mock.Anything).Return(true, nil).Once()
	p.On("Show", mock.Anything, mock.Anything).Return(nil).Twice()

	b := NewBridge(p)
	granted, err := b.Prepare(context.Background())
	require.NoError(t, err)
	require.True(t, granted)
	granted, err = b.Prepare(context.Background())
	require.NoError(t, err)
	require.True(t, granted)
	require.NoError(t, b.Notify(context.Background(), Notification{Title: "Bob", Body: "hi", Tag: "conversation:1"}))
	require.NoError(t, b.Notify(context.Background(), Notification{Title: "Bob", Body: "still there?", Tag: "conversation:1"}))
	p.AssertExpectations(t)
}

func TestBridgeNotifyDoesNotPrompt(t *testing.T) {
	p := &platformMock{}

	b := NewBridge(p)
	require.ErrorIs(t, b.Notify(context.Background(), Notification{Body: "a"}), ErrPermissionPending)
	p.AssertNotCalled(t, "RequestPermission", mock.Anything)
	p.AssertNotCalled(t, "Show", mock.Anything, mock.Anything)
}

func TestBridgeDropsWhenDenied(t *testing.T) {
	p := &platformMock{}
	p.On("RequestPermission", mock.Anything).Return(false, nil).Once()

	b := NewBridge(p)
	granted, err := b.Prepare(context.Background())
	require.NoError(t, err)
	require.False(t, granted)
	require.ErrorIs(t, b.Notify(context.Background(), Notification{Body: "a"}), ErrPermissionDenied)
	require.ErrorIs(t, b.Notify(context.Background(), Notification{Body: "b"}), ErrPermissionDenied)
	p.AssertNotCalled(t, "Show", mock.Anything, mock.Anything)
	p.AssertNumberOfCalls(t, "RequestPermission", 1)
}

func TestBridgeAsksAgainAfterCancelledPrompt(t *testing.T) {
	p := &platformMock{}
	p.On("RequestPermission", mock.Anything).Return(false, context.Canceled).Once()
	p.On("RequestPermission", mock.Anything).Return(true, nil).Once()
	p.On("Show", mock.Anything, mock.Anything).Return(nil).Once()

	b := NewBridge(p)
	_, err := b.Prepare(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, b.Notify(context.Background(), Notification{Body: "a"}), ErrPermissionPending)

	granted, err := b.Prepare(context.Background())
	require.NoError(t, err)
	require.True(t, granted)
	require.NoError(t, b.Notify(context.Background(), Notification{Body: "a"}))
	p.AssertExpectations(t)
}

func TestBridgeShowsIdenticalNotifications(t *testing.T) {
	p := &platformMock{}
	p.On("RequestPermission", mock.Anything).Return(true, nil)
	p.On("Show", mock.Anything, mock.Anything).Return(nil)

	b := NewBridge(p)
	_, err := b.Prepare(context.Background())
	require.NoError(t, err)
	n := Notification{Title: "Bob", Body: "ok", Tag: "conversation:1"}
	require.NoError(t, b.Notify(context.Background(), n))
	require.NoError(t, b.Notify(context.Background(), n))
	p.AssertNumberOfCalls(t, "Show", 2)
}

func attachPrepared(t *testing.T, reg *Registry, userID string, p Platform) func() {
	t.Helper()
	b := NewBridge(p)
	_, err := b.Prepare(context.Background())
	require.NoError(t, err)
	return reg.Attach(userID, b)
}

func TestRegistryDeliverAndDetach(t *testing.T) {
	reg := NewRegistry()
	granted := &platformMock{}
	granted.On("RequestPermission", mock.Anything).Return(true, nil)
	granted.On("Show", mock.Anything, mock.Anything).Return(nil)
	denied := &platformMock{}
	denied.On("RequestPermission", mock.Anything).Return(false, nil)
	unanswered := &platformMock{}

	detach := attachPrepared(t, reg, "bob", granted)
	attachPrepared(t, reg, "bob", denied)
	reg.Attach("bob", NewBridge(unanswered))
	assert.Equal(t, 3, reg.Sessions("bob"))

	n, err := reg.Deliver(context.Background(), "bob", Notification{Body: "x", Tag: "t"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	unanswered.AssertNotCalled(t, "RequestPermission", mock.Anything)

	detach()
	detach()
	assert.Equal(t, 2, reg.Sessions("bob"))
}

type staticCatalog struct{}

func (staticCatalog) Profile(_ context.Context, id string) (catalog.Profile, error) {
	if id == "alice" {
		return catalog.Profile{ID: id, DisplayName: "Alice"}, nil
	}
	return catalog.Profile{}, catalog.ErrProfileNotFound
}

func (staticCatalog) Listing(_ context.Context, id string) (catalog.Listing, error) {
	return catalog.Listing{ID: id, Title: "Desk lamp"}, nil
}

func TestMessageSentHandlerNotifiesRecipient(t *testing.T) {
	reg := NewRegistry()
	p := &platformMock{}
	p.On("RequestPermission", mock.Anything).Return(true, nil)
	p.On("Show", mock.Anything, Notification{Title: "Alice · Desk lamp", Body: "is it still available?", Tag: "conversation:c1"}).Return(nil).Once()
	attachPrepared(t, reg, "bob", p)

	h := &MessageSentHandler{Registry: reg, Catalog: staticCatalog{}}
	ev := messaging.MessageSent{
		ConversationID:  "c1",
		ListingID:       "l1",
		SenderID:        "alice",
		RecipientID:     "bob",
		Preview:         "is it still available?",
		RecipientUnread: 1,
	}
	require.NoError(t, h.Handle(context.Background(), ev))

	ev.RecipientUnread = 0
	require.NoError(t, h.Handle(context.Background(), ev))
	p.AssertExpectations(t)
}

func TestBuildFallsBackToSenderID(t *testing.T) {
	h := &MessageSentHandler{Registry: NewRegistry(), Catalog: staticCatalog{}}
	n, err := h.Build(context.Background(), messaging.MessageSent{ConversationID: "c2", SenderID: "carol", Preview: "📷 Photo"})
	require.NoError(t, err)
	assert.Equal(t, Notification{Title: "carol", Body: "📷 Photo", Tag: "conversation:c2"}, n)
}
