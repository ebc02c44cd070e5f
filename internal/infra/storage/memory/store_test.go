package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appoutbox "campusmarket/internal/app/outbox"
	"campusmarket/internal/app/uow"
	"campusmarket/internal/domain/catalog"
	"campusmarket/internal/domain/communities"
	"campusmarket/internal/domain/messaging"
	"campusmarket/internal/domain/shared/errs"
	infraoutbox "campusmarket/internal/infra/outbox"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newConversationStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s := NewStore(opts...)
	s.PutProfile(catalog.Profile{ID: "alice", DisplayName: "Alice"})
	s.PutProfile(catalog.Profile{ID: "bob", DisplayName: "Bob"})
	s.PutListing(catalog.Listing{ID: "lamp", Title: "Desk lamp", SellerID: "bob", Status: catalog.ListingActive})
	conv, err := messaging.NewConversation("c1", "lamp", []string{"alice", "bob"}, base)
	require.NoError(t, err)
	s.PutConversation(conv)
	return s
}

func putMessages(s *Store, n int) {
	for i := 0; i < n; i++ {
		s.PutMessage(messaging.NewMessage(fmt.Sprintf("m%03d", i), messaging.Draft{
			ConversationID: "c1",
			SenderID:       "bob",
			Content:        fmt.Sprintf("hello %d", i),
		}, base.Add(time.Duration(i)*time.Second)))
	}
}

func TestFetchPageReturnsStrictlyOlderPagesWithoutOverlap(t *testing.T) {
	s := newConversationStore(t)
	putMessages(s, 70)
	repo := s.Messages()
	ctx := context.Background()

	first, err := repo.FetchPage(ctx, "c1", time.Time{}, messaging.PageSize)
	require.NoError(t, err)
	require.Len(t, first, 50)
	assert.Equal(t, "m020", first[0].ID)
	assert.Equal(t, "m069", first[49].ID)

	second, err := repo.FetchPage(ctx, "c1", first[0].CreatedAt, messaging.PageSize)
	require.NoError(t, err)
	require.Len(t, second, 20)
	assert.Equal(t, "m000", second[0].ID)
	assert.Equal(t, "m019", second[19].ID)
	for _, m := range second {
		assert.True(t, m.CreatedAt.Before(first[0].CreatedAt))
	}

	empty, err := repo.FetchPage(ctx, "c1", second[0].CreatedAt, messaging.PageSize)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestAppendReturnsStoredMessageForRepeatedClientKey(t *testing.T) {
	s := newConversationStore(t)
	repo := s.Messages()
	ctx := context.Background()
	draft := messaging.Draft{ConversationID: "c1", SenderID: "alice", Content: "is it available?", ClientKey: "k-1"}

	first, err := repo.Append(ctx, messaging.NewMessage("m1", draft, base))
	require.NoError(t, err)
	again, err := repo.Append(ctx, messaging.NewMessage("m2", draft, base.Add(time.Second)))
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	page, err := repo.FetchPage(ctx, "c1", time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestAppendRejectsUnknownConversation(t *testing.T) {
	s := newConversationStore(t)
	_, err := s.Messages().Append(context.Background(), messaging.NewMessage("m1", messaging.Draft{ConversationID: "nope", SenderID: "alice", Content: "hi"}, base))
	assert.ErrorIs(t, err, messaging.ErrConversationNotFound)
}

func TestSetReactionRejectsDuplicateAdd(t *testing.T) {
	s := newConversationStore(t)
	putMessages(s, 1)
	repo := s.Messages()
	ctx := context.Background()

	m, err := repo.SetReaction(ctx, "m000", "👍", "alice", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, m.Reactions["👍"])

	_, err = repo.SetReaction(ctx, "m000", "👍", "alice", true)
	assert.ErrorIs(t, err, errs.ErrConflict)

	stored, err := repo.ByID(ctx, "m000")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Reactions.Count("👍"))

	m, err = repo.SetReaction(ctx, "m000", "👍", "alice", false)
	require.NoError(t, err)
	assert.Empty(t, m.Reactions)
}

func TestMarkReadIsIdempotentAndSkipsOwnMessages(t *testing.T) {
	s := newConversationStore(t)
	putMessages(s, 3)
	s.PutMessage(messaging.NewMessage("mine", messaging.Draft{ConversationID: "c1", SenderID: "alice", Content: "ok"}, base.Add(time.Minute)))
	repo := s.Messages()
	ctx := context.Background()

	n, err := repo.MarkRead(ctx, "c1", "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = repo.MarkRead(ctx, "c1", "alice", nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	mine, err := repo.ByID(ctx, "mine")
	require.NoError(t, err)
	assert.False(t, mine.Read)
}

func TestTouchOnSendIncrementsRecipientOnly(t *testing.T) {
	s := newConversationStore(t)
	repo := s.Conversations()
	ctx := context.Background()

	conv, err := repo.TouchOnSend(ctx, "c1", "hi", "bob", base)
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadFor("bob"))
	assert.Zero(t, conv.UnreadFor("alice"))
	assert.Equal(t, "hi", conv.LastMessage)

	require.NoError(t, repo.MarkRead(ctx, "c1", "bob"))
	require.NoError(t, repo.MarkRead(ctx, "c1", "bob"))
	conv, err = repo.ByID(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, conv.TotalUnread())
}

func TestGetResolvesListingTitleAndPeer(t *testing.T) {
	s := newConversationStore(t)
	details, err := s.Conversations().Get(context.Background(), "c1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Desk lamp", details.ListingTitle)
	assert.Equal(t, "Bob", details.Peer.DisplayName)
}

type brokenCatalog struct {
	err error
}

func (c brokenCatalog) Profile(context.Context, string) (catalog.Profile, error) {
	return catalog.Profile{}, c.err
}

func (c brokenCatalog) Listing(context.Context, string) (catalog.Listing, error) {
	return catalog.Listing{}, c.err
}

func TestGetFailsOnCatalogErrorsButToleratesMissingEntries(t *testing.T) {
	s := newConversationStore(t)
	ctx := context.Background()

	down := errors.New("catalog unavailable")
	_, err := (&ConversationRepository{store: s, catalog: brokenCatalog{err: down}}).Get(ctx, "c1", "alice")
	assert.ErrorIs(t, err, down)

	details, err := (&ConversationRepository{store: s, catalog: brokenCatalog{err: catalog.ErrProfileNotFound}}).Get(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.Empty(t, details.ListingTitle)
	assert.Equal(t, "bob", details.Peer.ID)
}

func TestGetOrCreateReusesExistingPair(t *testing.T) {
	s := newConversationStore(t)
	candidate, err := messaging.NewConversation("c2", "lamp", []string{"bob", "alice"}, base)
	require.NoError(t, err)

	conv, created, err := s.Conversations().GetOrCreate(context.Background(), candidate)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "c1", conv.ID)
}

func TestRollbackUndoesWritesAndDropsOutboxRecords(t *testing.T) {
	s := newConversationStore(t)
	box := NewOutbox()
	factory := Factory{Store: s}

	unit, ctx, err := uow.Begin(context.Background(), factory, uow.TxOptions{})
	require.NoError(t, err)
	_, err = unit.Messages().Append(ctx, messaging.NewMessage("m1", messaging.Draft{ConversationID: "c1", SenderID: "alice", Content: "hi"}, base))
	require.NoError(t, err)
	_, err = unit.Conversations().TouchOnSend(ctx, "c1", "hi", "bob", base)
	require.NoError(t, err)
	require.NoError(t, box.Add(ctx, appoutbox.EventRecord{ID: "e1", Name: "messaging.message_sent"}))
	require.NoError(t, unit.Rollback(ctx))

	_, err = s.Messages().ByID(context.Background(), "m1")
	assert.ErrorIs(t, err, messaging.ErrMessageNotFound)
	conv, err := s.Conversations().ByID(context.Background(), "c1")
	require.NoError(t, err)
	assert.Zero(t, conv.UnreadFor("bob"))
	assert.Empty(t, box.Records(""))
	assert.ErrorIs(t, unit.Commit(ctx), ErrUnitFinished)
}

func TestAppendSpreadsSameInstantMessages(t *testing.T) {
	s := newConversationStore(t)
	repo := s.Messages()
	ctx := context.Background()

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
			_, err := repo.Append(ctx, messaging.NewMessage(fmt.Sprintf("m%03d", i), messaging.Draft{ConversationID: "c1", SenderID: sender, Content: "same instant"}, base))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	seen := make(map[time.Time]string, n)
	ids := make(map[string]struct{}, n)
	before := time.Time{}
	for {
		page, err := repo.FetchPage(ctx, "c1", before, messaging.PageSize)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			prev, dup := seen[m.CreatedAt]
			require.False(t, dup, "%s and %s share %s", prev, m.ID, m.CreatedAt)
			seen[m.CreatedAt] = m.ID
			ids[m.ID] = struct{}{}
		}
		before = page[0].CreatedAt
	}
	assert.Len(t, ids, n)
}

func TestRollbackKeepsWritesCommittedByOtherUnits(t *testing.T) {
	s := newConversationStore(t)
	factory := Factory{Store: s}

	unitA, ctxA, err := uow.Begin(context.Background(), factory, uow.TxOptions{})
	require.NoError(t, err)
	mA, err := unitA.Messages().Append(ctxA, messaging.NewMessage("mA", messaging.Draft{ConversationID: "c1", SenderID: "alice", Content: "from a"}, base))
	require.NoError(t, err)
	_, err = unitA.Conversations().TouchOnSend(ctxA, "c1", "from a", "bob", mA.CreatedAt)
	require.NoError(t, err)

	unitB, ctxB, err := uow.Begin(context.Background(), factory, uow.TxOptions{})
	require.NoError(t, err)
	mB, err := unitB.Messages().Append(ctxB, messaging.NewMessage("mB", messaging.Draft{ConversationID: "c1", SenderID: "alice", Content: "from b"}, base))
	require.NoError(t, err)
	require.True(t, mB.CreatedAt.After(mA.CreatedAt))
	_, err = unitB.Conversations().TouchOnSend(ctxB, "c1", "from b", "bob", mB.CreatedAt)
	require.NoError(t, err)
	require.NoError(t, unitB.Commit(ctxB))

	require.NoError(t, unitA.Rollback(ctxA))

	conv, err := s.Conversations().ByID(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadFor("bob"))
	assert.Equal(t, "from b", conv.LastMessage)
	assert.True(t, conv.LastMessageAt.Equal(mB.CreatedAt))
	_, err = s.Messages().ByID(context.Background(), "mA")
	assert.ErrorIs(t, err, messaging.ErrMessageNotFound)
	_, err = s.Messages().ByID(context.Background(), "mB")
	assert.NoError(t, err)
}

func TestRollbackRestoresPreviewOfRemainingMessage(t *testing.T) {
	s := newConversationStore(t)
	ctx := context.Background()
	first, err := s.Messages().Append(ctx, messaging.NewMessage("m1", messaging.Draft{ConversationID: "c1", SenderID: "bob", Content: "still for sale"}, base))
	require.NoError(t, err)
	_, err = s.Conversations().TouchOnSend(ctx, "c1", "still for sale", "alice", first.CreatedAt)
	require.NoError(t, err)

	unit, uctx, err := uow.Begin(ctx, Factory{Store: s}, uow.TxOptions{})
	require.NoError(t, err)
	m2, err := unit.Messages().Append(uctx, messaging.NewMessage("m2", messaging.Draft{ConversationID: "c1", SenderID: "alice", Content: "great"}, base))
	require.NoError(t, err)
	_, err = unit.Conversations().TouchOnSend(uctx, "c1", "great", "bob", m2.CreatedAt)
	require.NoError(t, err)
	require.NoError(t, unit.Rollback(uctx))

	conv, err := s.Conversations().ByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "still for sale", conv.LastMessage)
	assert.True(t, conv.LastMessageAt.Equal(first.CreatedAt))
	assert.Equal(t, 1, conv.UnreadFor("alice"))
	assert.Zero(t, conv.UnreadFor("bob"))
}

func TestMarkReadRollbackKeepsLaterIncrements(t *testing.T) {
	s := newConversationStore(t)
	ctx := context.Background()
	repo := s.Conversations()
	_, err := repo.TouchOnSend(ctx, "c1", "one", "bob", base)
	require.NoError(t, err)
	_, err = repo.TouchOnSend(ctx, "c1", "two", "bob", base.Add(time.Millisecond))
	require.NoError(t, err)

	unit, uctx, err := uow.Begin(ctx, Factory{Store: s}, uow.TxOptions{})
	require.NoError(t, err)
	require.NoError(t, unit.Conversations().MarkRead(uctx, "c1", "bob"))
	_, err = repo.TouchOnSend(ctx, "c1", "three", "bob", base.Add(2*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, unit.Rollback(uctx))

	conv, err := repo.ByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, conv.UnreadFor("bob"))
	assert.Equal(t, "three", conv.LastMessage)
}

func TestCommitReleasesOutboxRecordsToClaim(t *testing.T) {
	s := newConversationStore(t)
	box := NewOutbox()

	unit, ctx, err := uow.Begin(context.Background(), Factory{Store: s}, uow.TxOptions{})
	require.NoError(t, err)
	require.NoError(t, box.Add(ctx, appoutbox.EventRecord{ID: "e1", Name: "messaging.message_sent"}))

	doc, err := box.Claim(context.Background(), "w1")
	require.NoError(t, err)
	assert.Nil(t, doc)

	require.NoError(t, unit.Commit(ctx))
	doc, err = box.Claim(context.Background(), "w1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "e1", doc.ID)
	assert.Equal(t, infraoutbox.StateClaimed, doc.State)

	require.NoError(t, box.MarkSent(context.Background(), "e1"))
	assert.Len(t, box.Records(infraoutbox.StateSent), 1)
}

func TestLiveSubscriptionStreamsWindowAndClosesWithContext(t *testing.T) {
	s := newConversationStore(t, WithLiveWindow(2))
	putMessages(s, 3)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := s.Messages().SubscribeLive(ctx, "c1")
	require.NoError(t, err)
	snapshot := <-sub.Updates()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "m001", snapshot[0].ID)

	s.PutMessage(messaging.NewMessage("m003", messaging.Draft{ConversationID: "c1", SenderID: "alice", Content: "new"}, base.Add(3*time.Second)))
	snapshot = <-sub.Updates()
	assert.Equal(t, "m003", snapshot[1].ID)

	cancel()
	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return len(s.msgWatchers) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestListingLookupsEnforceListCaps(t *testing.T) {
	s := NewStore()
	ids := make([]string, catalog.MaxSellersPerLookup+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("u%d", i)
	}
	_, err := s.Catalog().ListingsBySellers(context.Background(), ids)
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = s.Catalog().ListingsBySchools(context.Background(), ids[:catalog.MaxSchoolsPerLookup+1])
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = s.Catalog().ListingsBySchools(context.Background(), ids[:catalog.MaxSchoolsPerLookup])
	assert.NoError(t, err)
}

func TestJoinMovesMemberCounters(t *testing.T) {
	s := NewStore()
	s.PutSchool(communities.School{ID: "mit", State: "MA", MemberCount: 1, Admins: []string{"root"}})
	s.PutSchool(communities.School{ID: "bu", State: "MA"})
	s.PutProfile(catalog.Profile{ID: "alice", SchoolID: "mit"})
	repo := s.Communities()
	ctx := context.Background()

	prev, err := repo.Join(ctx, "alice", "bu")
	require.NoError(t, err)
	assert.Equal(t, "mit", prev)

	mit, _ := repo.School(ctx, "mit")
	bu, _ := repo.School(ctx, "bu")
	assert.Zero(t, mit.MemberCount)
	assert.Equal(t, 1, bu.MemberCount)

	_, err = repo.Join(ctx, "alice", "bu")
	assert.ErrorIs(t, err, communities.ErrAlreadyMember)

	left, err := repo.Leave(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "bu", left)
	bu, _ = repo.School(ctx, "bu")
	assert.Zero(t, bu.MemberCount)
}

func TestRecordReferral(t *testing.T) {
	s := NewStore()
	s.PutProfile(catalog.Profile{ID: "alice", ReferralCode: "ALICE1"})
	s.PutProfile(catalog.Profile{ID: "bob"})
	repo := s.Communities()
	ctx := context.Background()

	_, err := repo.RecordReferral(ctx, "alice1", "alice", base)
	assert.ErrorIs(t, err, communities.ErrSelfReferral)

	ref, err := repo.RecordReferral(ctx, "alice1", "bob", base)
	require.NoError(t, err)
	assert.Equal(t, "alice", ref.ReferrerID)

	_, err = repo.RecordReferral(ctx, "ALICE1", "bob", base)
	assert.ErrorIs(t, err, communities.ErrAlreadyReferred)

	_, err = repo.RecordReferral(ctx, "NOPE", "bob", base)
	assert.ErrorIs(t, err, communities.ErrUnknownCode)

	alice, err := s.Catalog().Profile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, alice.ReferralCount)
}

func TestSeedDerivesCountersFromFixtures(t *testing.T) {
	s := NewStore(WithClock(func() time.Time { return base }))
	err := s.Seed(Fixtures{
		Users:    []catalog.Profile{{ID: "alice", SchoolID: "mit"}, {ID: "bob", SchoolID: "mit"}},
		Listings: []catalog.Listing{{ID: "lamp", SellerID: "bob", Status: catalog.ListingActive}},
		Schools:  []fixtureSchool{{ID: "mit", State: "ma", Admins: []string{"bob"}}},
		Conversations: []fixtureConversation{{
			ID: "c1", ListingID: "lamp", Buyer: "alice",
			Messages: []fixtureMessage{
				{ID: "m1", SenderID: "alice", Content: "hi", Read: true, MinutesAgo: 5},
				{ID: "m2", SenderID: "bob", Content: "hello", MinutesAgo: 1},
			},
		}},
	})
	require.NoError(t, err)

	school, err := s.Communities().School(context.Background(), "mit")
	require.NoError(t, err)
	assert.Equal(t, 2, school.MemberCount)
	assert.Equal(t, "MA", school.State)

	conv, err := s.Conversations().ByID(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadFor("alice"))
	assert.Equal(t, "hello", conv.LastMessage)
}
