package ginserver

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusmarket/internal/app/chatsync"
	"campusmarket/internal/app/commands"
	communitiesapp "campusmarket/internal/app/handlers/communities"
	messagingapp "campusmarket/internal/app/handlers/messaging"
	"campusmarket/internal/app/middleware"
	"campusmarket/internal/app/notify"
	"campusmarket/internal/app/outbox"
	"campusmarket/internal/app/queries"
	"campusmarket/internal/domain/catalog"
	"campusmarket/internal/domain/communities"
	"campusmarket/internal/domain/messaging"
	"campusmarket/internal/infra/config"
	"campusmarket/internal/infra/obs"
	"campusmarket/internal/infra/security"
	"campusmarket/internal/infra/storage/memory"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type stubUploader struct {
	calls int
}

func (u *stubUploader) UploadImage(_ context.Context, conversationID, senderID string, a messaging.Attachment) (messaging.ImageRef, error) {
	u.calls++
	return messaging.ImageRef{
		URL:         "http://objects.test/" + conversationID + "/" + senderID,
		Key:         conversationID + "/" + senderID,
		ContentType: "image/png",
		Size:        int64(len(a.Data)),
	}, nil
}

type apiFixture struct {
	store    *memory.Store
	router   *gin.Engine
	tokens   *security.Tokens
	uploader *stubUploader
	registry *notify.Registry
}

func newAPI(t *testing.T) apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := memory.NewStore()
	s.PutProfile(catalog.Profile{ID: "alice", DisplayName: "Alice", SchoolID: "mit"})
	s.PutProfile(catalog.Profile{ID: "bob", DisplayName: "Bob", SchoolID: "mit", ReferralCode: "BOB1"})
	s.PutProfile(catalog.Profile{ID: "mallory", DisplayName: "Mallory"})
	s.PutListing(catalog.Listing{ID: "lamp", Title: "Desk lamp", SellerID: "bob", SchoolID: "mit", Status: catalog.ListingActive})
	s.PutSchool(communities.School{ID: "mit", Name: "MIT", State: "MA", MemberCount: 2, Admins: []string{"bob"}})
	conv, err := messaging.NewConversation("c1", "lamp", []string{"alice", "bob"}, t0)
	require.NoError(t, err)
	s.PutConversation(conv)

	factory := memory.Factory{Store: s}
	box := memory.NewOutbox()
	cmdBus := commands.NewInMemoryBus()
	queryBus := queries.NewInMemoryBus()
	messagingapp.Register(cmdBus, queryBus, messagingapp.Deps{UoWFactory: factory, Outbox: box, Encoder: outbox.JSONEventEncoder{}})
	communitiesapp.Register(cmdBus, queryBus, communitiesapp.Deps{UoWFactory: factory, Outbox: box, Encoder: outbox.JSONEventEncoder{}, Listings: s.Catalog()})

	commandsMW := middleware.ChainCommands(cmdBus,
		middleware.Validation(middleware.SelfValidator{}),
		middleware.Idempotency(memory.NewIdempotencyStore(time.Hour), nil),
	)
	queriesMW := middleware.ChainQueries(queryBus,
		middleware.QueryValidation(middleware.SelfValidator{}),
		middleware.QueryAuthorization(messagingapp.ConversationAccess{UoWFactory: factory}),
	)

	tokens := security.NewTokens("test-secret", "campusmarket")
	uploader := &stubUploader{}
	registry := notify.NewRegistry()
	router := NewRouter(config.Config{Env: "test", CORSOrigins: []string{"*"}}, obs.Middleware{}, obs.HealthHandlers{}, Handlers{
		Chat:        ChatHandler{Commands: commandsMW, Queries: queriesMW},
		Uploads:     UploadHandler{Uploader: uploader, Queries: queriesMW},
		Communities: CommunityHandler{Commands: commandsMW, Queries: queriesMW},
		Streams: StreamHandler{
			Upgrader: NewUpgrader([]string{"*"}),
			Queries:  queriesMW,
			Sync: chatsync.Deps{
				Messages:      s.Messages(),
				Conversations: s.Conversations(),
				Gateway:       messagingapp.Gateway{Commands: commandsMW, Queries: queriesMW},
				Uploader:      uploader,
			},
			Lister:   s.Conversations(),
			Registry: registry,
		},
		AuthMiddleware: AuthMiddleware{Tokens: tokens}.Handle,
	})
	return apiFixture{store: s, router: router, tokens: tokens, uploader: uploader, registry: registry}
}

func (f apiFixture) token(t *testing.T, userID string) string {
	t.Helper()
	raw, err := f.tokens.Issue(userID, time.Hour)
	require.NoError(t, err)
	return raw
}

func (f apiFixture) do(t *testing.T, method, path, userID string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+f.token(t, userID))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

func TestAPIRejectsMissingAndInvalidTokens(t *testing.T) {
	f := newAPI(t)

	rec := f.do(t, http.MethodGet, "/api/v1/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	for _, header := range []string{"Basic abc", "Bearer not-a-token", "Bearer "} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}

	expired, err := (&security.Tokens{Secret: []byte("test-secret"), Issuer: "campusmarket", Now: func() time.Time { return time.Now().Add(-2 * time.Hour) }}).Issue("alice", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/livez", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSendThenFetchMessages(t *testing.T) {
	f := newAPI(t)

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/api/v1/conversations/c1/messages", "alice", map[string]string{"content": "still available?"}, "Idempotency-Key", "k-1")
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := f.do(t, http.MethodGet, "/api/v1/conversations/c1/messages", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Items []struct {
			ID       string `json:"id"`
			SenderID string `json:"sender_id"`
			Content  string `json:"content"`
		} `json:"items"`
		HasMore bool `json:"has_more"`
	}
	decode(t, rec, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "alice", page.Items[0].SenderID)
	assert.Equal(t, "still available?", page.Items[0].Content)
	assert.False(t, page.HasMore)

	rec = f.do(t, http.MethodGet, "/api/v1/conversations/c1", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var details struct {
		UnreadCount  map[string]int `json:"unread_count"`
		ListingTitle string         `json:"listing_title"`
	}
	decode(t, rec, &details)
	assert.Equal(t, 1, details.UnreadCount["bob"])
	assert.Equal(t, "Desk lamp", details.ListingTitle)

	rec = f.do(t, http.MethodPost, "/api/v1/conversations/c1/read", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var marked messagingapp.MarkReadResult
	decode(t, rec, &marked)
	assert.Equal(t, 1, marked.MessagesMarked)
}

func TestErrorKindsMapToStatus(t *testing.T) {
	f := newAPI(t)

	rec := f.do(t, http.MethodPost, "/api/v1/conversations/c1/messages", "alice", map[string]string{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/conversations/c1", "mallory", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/conversations/c1/messages?before=yesterday", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/conversations/c1/messages", "alice", map[string]string{"content": "hi"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var sent struct {
		Message struct {
			ID string `json:"id"`
		} `json:"message"`
	}
	decode(t, rec, &sent)

	path := "/api/v1/messages/" + sent.Message.ID + "/reactions/%F0%9F%91%8D"
	rec = f.do(t, http.MethodPut, path, "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPut, path, "bob", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = f.do(t, http.MethodDelete, path, "bob", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartConversationReusesThread(t *testing.T) {
	f := newAPI(t)

	rec := f.do(t, http.MethodPost, "/api/v1/listings/lamp/conversations", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res struct {
		Conversation struct {
			ID string `json:"id"`
		} `json:"conversation"`
		Created bool `json:"created"`
	}
	decode(t, rec, &res)
	assert.Equal(t, "c1", res.Conversation.ID)
	assert.False(t, res.Created)

	rec = f.do(t, http.MethodPost, "/api/v1/listings/lamp/conversations", "bob", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/listings/lamp/conversations", "mallory", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/conversations", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Items []conversationDTO `json:"items"`
	}
	decode(t, rec, &list)
	assert.Len(t, list.Items, 2)
}

func TestUploadImageRequiresParticipant(t *testing.T) {
	f := newAPI(t)
	upload := func(userID string) *httptest.ResponseRecorder {
		var body bytes.Buffer
		w := multipart.NewWriter(&body)
		require.NoError(t, w.WriteField("conversation_id", "c1"))
		part, err := w.CreateFormFile("file", "photo.png")
		require.NoError(t, err)
		_, err = part.Write([]byte("\x89PNG\r\n\x1a\n0000"))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/images", &body)
		req.Header.Set("Content-Type", w.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+f.token(t, userID))
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNotFound, upload("mallory").Code)
	assert.Zero(t, f.uploader.calls)

	rec := upload("alice")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var ref messaging.ImageRef
	decode(t, rec, &ref)
	assert.Equal(t, "c1/alice", ref.Key)
	assert.Equal(t, 1, f.uploader.calls)
}

func TestCommunityEndpoints(t *testing.T) {
	f := newAPI(t)

	rec := f.do(t, http.MethodGet, "/api/v1/states/ma/listings", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var listings struct {
		Items []catalog.Listing `json:"items"`
	}
	decode(t, rec, &listings)
	require.Len(t, listings.Items, 1)
	assert.Equal(t, "lamp", listings.Items[0].ID)

	rec = f.do(t, http.MethodGet, "/api/v1/schools/mit/admin-listings", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/schools/mit/admins", "alice", map[string]string{"user_id": "alice"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/schools/mit/admins", "bob", map[string]string{"user_id": "alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodDelete, "/api/v1/schools/mit/admins/alice", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/referrals", "alice", map[string]string{"code": "bob1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPost, "/api/v1/referrals", "alice", map[string]string{"code": "BOB1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestConversationStreamRequiresToken(t *testing.T) {
	f := newAPI(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/v1/ws/conversations/c1"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{"Authorization": []string{"Bearer " + f.token(t, "mallory")}}
	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, "/api/v1/ws/conversations/c1"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConversationStreamSendsThroughSynchronizer(t *testing.T) {
	f := newAPI(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	header := http.Header{"Authorization": []string{"Bearer " + f.token(t, "alice")}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/v1/ws/conversations/c1"), header)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first serverFrame
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, "view", first.Type)
	assert.Equal(t, "ready", first.View.State)
	assert.Equal(t, "Bob", first.View.Conversation.Peer.DisplayName)

	require.NoError(t, conn.WriteJSON(clientFrame{Type: "send", Content: "over the socket", ClientKey: "ws-1"}))

	stored := false
	for !stored {
		var frame serverFrame
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type != "view" {
			continue
		}
		for _, m := range frame.View.Messages {
			if m.ClientKey == "ws-1" && m.ID != "" {
				stored = true
			}
		}
	}

	page, err := f.store.Messages().FetchPage(context.Background(), "c1", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "over the socket", page[0].Content)
	assert.Equal(t, "ws-1", page[0].ClientKey)
}

func TestInboxAsksPermissionOnAttach(t *testing.T) {
	f := newAPI(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	header := http.Header{"Authorization": []string{"Bearer " + f.token(t, "bob")}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/v1/ws/inbox"), header)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	for {
		var frame serverFrame
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type == "permission_request" {
			break
		}
	}
	ctx := context.Background()
	n, err := f.registry.Deliver(ctx, "bob", notify.Notification{Body: "before answer"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, conn.WriteJSON(clientFrame{Type: "permission", Granted: true}))
	require.Eventually(t, func() bool {
		n, err := f.registry.Deliver(ctx, "bob", notify.Notification{Body: "ready", Tag: "conversation:c1"})
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	same := notify.Notification{Title: "Alice", Body: "ok", Tag: "conversation:c1"}
	for i := 0; i < 2; i++ {
		n, err := f.registry.Deliver(ctx, "bob", same)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	}

	var bodies []string
	for len(bodies) < 3 {
		var frame serverFrame
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type == "notification" {
			bodies = append(bodies, frame.Notification.Body)
		}
	}
	assert.Equal(t, []string{"ready", "ok", "ok"}, bodies)
}
