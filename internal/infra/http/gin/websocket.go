package ginserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"campusmarket/internal/app/chatsync"
	messagingapp "campusmarket/internal/app/handlers/messaging"
	"campusmarket/internal/app/notify"
	"campusmarket/internal/app/queries"
	"campusmarket/internal/domain/messaging"
	"campusmarket/internal/domain/shared/errs"
	"campusmarket/internal/domain/shared/live"
	"campusmarket/internal/infra/obs"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = pongWait * 9 / 10
	permissionTimeout = 10 * time.Second
	maxFrameBytes     = messaging.MaxImageBytes*4/3 + 64<<10
)

type StreamHTTP interface {
	Conversation(c *gin.Context)
	Inbox(c *gin.Context)
}

// ConversationLister streams a user's conversation list.
type ConversationLister interface {
	SubscribeList(ctx context.Context, userID string) (live.Subscription[[]messaging.Conversation], error)
}

// StreamHandler serves the websocket streams. A conversation stream drives one
// chatsync.Synchronizer; the inbox stream carries the conversation list and
// notifications for the user.
type StreamHandler struct {
	Upgrader    websocket.Upgrader
	Queries     queries.Bus
	Sync        chatsync.Deps
	SyncOptions chatsync.Options
	Lister      ConversationLister
	Registry    *notify.Registry
	Logger      *slog.Logger
}

type serverFrame struct {
	Type          string               `json:"type"`
	View          *viewDTO             `json:"view,omitempty"`
	Conversations []conversationDTO    `json:"conversations,omitempty"`
	Notification  *notify.Notification `json:"notification,omitempty"`
	Op            string               `json:"op,omitempty"`
	ClientKey     string               `json:"client_key,omitempty"`
	MessageID     string               `json:"message_id,omitempty"`
	Loaded        *int                 `json:"loaded,omitempty"`
	Error         string               `json:"error,omitempty"`
	Kind          errs.Kind            `json:"kind,omitempty"`
}

type clientFrame struct {
	Type      string           `json:"type"`
	Content   string           `json:"content"`
	ReplyToID string           `json:"reply_to_id"`
	ClientKey string           `json:"client_key"`
	MessageID string           `json:"message_id"`
	Emoji     string           `json:"emoji"`
	Image     *imageAttachment `json:"image"`
	Granted   bool             `json:"granted"`
}

type imageAttachment struct {
	Data        []byte `json:"data"`
	ContentType string `json:"content_type"`
	FileName    string `json:"file_name"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) send(frame serverFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(frame)
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (w *wsConn) close(code int, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = w.conn.Close()
}

func errorFrame(err error) serverFrame {
	kind := errs.KindOf(err)
	message := errs.ReasonOf(err)
	if statusFor(kind) == http.StatusInternalServerError {
		message = "internal error"
	}
	return serverFrame{Type: "error", Error: message, Kind: kind}
}

func (h StreamHandler) upgrade(c *gin.Context) (*wsConn, bool) {
	conn, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.Logger != nil {
			h.Logger.DebugContext(c.Request.Context(), "websocket upgrade failed", "error", err)
		}
		return nil, false
	}
	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &wsConn{conn: conn}, true
}

// Conversation checks access before upgrading, so outsiders get a plain 404.
func (h StreamHandler) Conversation(c *gin.Context) {
	userID := currentUser(c)
	conversationID := c.Param("id")
	if _, err := queries.Ask[messagingapp.GetConversationQuery, *messaging.ConversationDetails](c.Request.Context(), h.Queries, messagingapp.GetConversationQuery{
		ConversationID: conversationID,
		ViewerID:       userID,
	}); err != nil {
		respondError(c, h.Logger, err)
		return
	}
	ws, ok := h.upgrade(c)
	if !ok {
		return
	}
	obs.IncWSActive("conversation")
	defer obs.DecWSActive("conversation")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	opts := h.SyncOptions
	if opts.Logger == nil {
		opts.Logger = h.Logger
	}
	syncer := chatsync.New(conversationID, userID, h.Sync, opts)
	defer syncer.Close()
	if err := syncer.Open(ctx); err != nil {
		_ = ws.send(errorFrame(err))
		ws.close(websocket.CloseInternalServerErr, "open failed")
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.pumpView(ws, syncer)
	}()
	h.readConversation(ctx, ws, syncer)
	syncer.Close()
	<-done
	ws.close(websocket.CloseNormalClosure, "")
}

func (h StreamHandler) pumpView(ws *wsConn, syncer *chatsync.Synchronizer) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	updates, failures := syncer.Updates(), syncer.Failures()
	for updates != nil || failures != nil {
		var err error
		select {
		case view, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			dto := toViewDTO(view)
			err = ws.send(serverFrame{Type: "view", View: &dto})
			obs.IncWSEvent("conversation", "view")
		case f, ok := <-failures:
			if !ok {
				failures = nil
				continue
			}
			frame := errorFrame(f.Err)
			frame.Type = "failure"
			frame.Op = string(f.Op)
			frame.ClientKey = f.ClientKey
			frame.MessageID = f.MessageID
			err = ws.send(frame)
			obs.IncWSEvent("conversation", "failure")
		case <-ticker.C:
			err = ws.ping()
		}
		if err != nil {
			// The reader notices the broken connection and closes the synchronizer.
			_ = ws.conn.Close()
			return
		}
	}
	// The synchronizer ended on its own, for example because the conversation is gone.
	ws.close(websocket.CloseGoingAway, "conversation closed")
}

func (h StreamHandler) readConversation(ctx context.Context, ws *wsConn, syncer *chatsync.Synchronizer) {
	for {
		var frame clientFrame
		if err := ws.conn.ReadJSON(&frame); err != nil {
			return
		}
		var err error
		switch frame.Type {
		case "send":
			in := chatsync.SendInput{Content: frame.Content, ReplyToID: frame.ReplyToID, ClientKey: frame.ClientKey}
			if frame.Image != nil {
				in.Image = &messaging.Attachment{Data: frame.Image.Data, ContentType: frame.Image.ContentType, FileName: frame.Image.FileName}
			}
			var key string
			if key, err = syncer.Send(ctx, in); err == nil {
				err = ws.send(serverFrame{Type: "accepted", Op: string(chatsync.OpSend), ClientKey: key})
			}
		case "react":
			err = syncer.ToggleReaction(ctx, frame.MessageID, frame.Emoji)
		case "load_older":
			var n int
			if n, err = syncer.LoadOlder(ctx); err == nil {
				err = ws.send(serverFrame{Type: "loaded", Loaded: &n})
			}
		default:
			err = errs.Validationf("unknown frame type %q", frame.Type)
		}
		if errors.Is(err, chatsync.ErrClosed) {
			return
		}
		if err != nil {
			if sendErr := ws.send(errorFrame(err)); sendErr != nil {
				return
			}
		}
	}
}

// Inbox streams the conversation list and attaches a notification bridge for the session.
func (h StreamHandler) Inbox(c *gin.Context) {
	userID := currentUser(c)
	ws, ok := h.upgrade(c)
	if !ok {
		return
	}
	obs.IncWSActive("inbox")
	defer obs.DecWSActive("inbox")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := h.Lister.SubscribeList(ctx, userID)
	if err != nil {
		_ = ws.send(errorFrame(err))
		ws.close(websocket.CloseInternalServerErr, "subscribe failed")
		return
	}
	defer sub.Close()

	platform := &wsPlatform{ws: ws, answers: make(chan bool, 1), closed: make(chan struct{})}
	defer close(platform.closed)
	if h.Registry != nil {
		bridge := notify.NewBridge(platform)
		detach := h.Registry.Attach(userID, bridge)
		defer detach()
		go func() {
			if _, err := bridge.Prepare(ctx); err != nil && ctx.Err() == nil && h.Logger != nil {
				h.Logger.Warn("notification permission", "user_id", userID, "error", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.pumpInbox(ws, sub)
	}()
	for {
		var frame clientFrame
		if err := ws.conn.ReadJSON(&frame); err != nil {
			break
		}
		if frame.Type == "permission" {
			platform.answer(frame.Granted)
		}
	}
	sub.Close()
	<-done
	ws.close(websocket.CloseNormalClosure, "")
}

func (h StreamHandler) pumpInbox(ws *wsConn, sub live.Subscription[[]messaging.Conversation]) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		var err error
		select {
		case convs, ok := <-sub.Updates():
			if !ok {
				if subErr := sub.Err(); subErr != nil && h.Logger != nil {
					h.Logger.Warn("inbox subscription ended", "error", subErr)
				}
				_ = ws.conn.Close()
				return
			}
			err = ws.send(serverFrame{Type: "conversations", Conversations: toConversationDTOs(convs)})
			obs.IncWSEvent("inbox", "conversations")
		case <-ticker.C:
			err = ws.ping()
		}
		if err != nil {
			_ = ws.conn.Close()
			return
		}
	}
}

// wsPlatform shows notifications on the client side of an inbox socket. The
// permission prompt is a round trip: the client answers with a permission frame.
type wsPlatform struct {
	ws      *wsConn
	answers chan bool
	closed  chan struct{}
}

func (p *wsPlatform) answer(granted bool) {
	select {
	case p.answers <- granted:
	default:
	}
}

func (p *wsPlatform) RequestPermission(ctx context.Context) (bool, error) {
	if err := p.ws.send(serverFrame{Type: "permission_request"}); err != nil {
		return false, err
	}
	timer := time.NewTimer(permissionTimeout)
	defer timer.Stop()
	select {
	case granted := <-p.answers:
		return granted, nil
	case <-timer.C:
		return false, nil
	case <-p.closed:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (p *wsPlatform) Show(_ context.Context, n notify.Notification) error {
	obs.IncWSEvent("inbox", "notification")
	return p.ws.send(serverFrame{Type: "notification", Notification: &n})
}

// allowOrigins accepts upgrades from the configured origins, or any origin when the list holds "*".
func allowOrigins(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := allowed["*"]; ok {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}
