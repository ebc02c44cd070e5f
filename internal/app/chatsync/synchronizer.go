package chatsync

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	handlers "campusmarket/internal/app/handlers/messaging"
	"campusmarket/internal/domain/messaging"
	"campusmarket/internal/domain/shared/errs"
	"campusmarket/internal/domain/shared/live"
)

var (
	ErrClosed           = errors.New("chatsync: closed")
	ErrNotReady         = errors.New("chatsync: not ready")
	ErrLoadInFlight     = errs.Conflict("older messages are already loading")
	ErrHistoryExhausted = errs.Conflict("no older messages")
	ErrReactionInFlight = errs.Conflict("reaction change already in flight")
	ErrNoUploader       = errs.Validation("image uploads are not configured")
)

type Options struct {
	// MarkReadWhileOpen re-marks the conversation whenever a push shows unread
	// messages for the viewer. By default the conversation is marked once per open.
	MarkReadWhileOpen bool
	Logger            *slog.Logger
	Now               func() time.Time
	NewKey            func() string
	FailureBuffer     int
}

type Deps struct {
	Messages      MessageSource
	Conversations ConversationSource
	Gateway       Gateway
	Uploader      Uploader
}

// SendInput is a message typed by the viewer. ClientKey is generated when empty.
type SendInput struct {
	Content   string
	Image     *messaging.Attachment
	ReplyToID string
	ClientKey string
}

func (in SendInput) validate() error {
	content := strings.TrimSpace(in.Content)
	if content == "" && in.Image == nil {
		return errs.Validation("message needs text or an image")
	}
	if utf8.RuneCountInString(content) > messaging.MaxContentRunes {
		return errs.Validationf("message exceeds %d characters", messaging.MaxContentRunes)
	}
	if in.Image != nil {
		return messaging.ValidateAttachment(*in.Image)
	}
	return nil
}

type pendingSend struct {
	message messaging.Message
	status  Status
}

type reactionKey struct {
	messageID string
	emoji     string
}

type closer interface{ Close() }

// Synchronizer keeps one conversation view consistent with the store. History
// pages and the live window are merged, and local sends and reaction toggles are
// shown immediately and reconciled against the store by client key.
type Synchronizer struct {
	conversationID string
	viewerID       string
	deps           Deps
	opts           Options
	logger         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	state        State
	details      messaging.ConversationDetails
	history      []messaging.Message
	liveWindow   []messaging.Message
	sends        map[string]*pendingSend
	order        []string
	reactions    map[reactionKey]bool
	loadingOlder bool
	exhausted    bool
	markInFlight bool
	subs         []closer

	updates   *live.Feed[View]
	failures  chan Failure
	closeOnce sync.Once
}

func New(conversationID, viewerID string, deps Deps, opts Options) *Synchronizer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewKey == nil {
		opts.NewKey = uuid.NewString
	}
	if opts.FailureBuffer <= 0 {
		opts.FailureBuffer = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Synchronizer{
		conversationID: conversationID,
		viewerID:       viewerID,
		deps:           deps,
		opts:           opts,
		logger:         opts.Logger.With("conversation_id", conversationID, "viewer_id", viewerID),
		ctx:            ctx,
		cancel:         cancel,
		state:          StateLoading,
		sends:          make(map[string]*pendingSend),
		reactions:      make(map[reactionKey]bool),
		updates:        live.NewFeed[View](nil),
		failures:       make(chan Failure, opts.FailureBuffer),
	}
}

// Updates delivers the latest view. It is closed after Close.
func (s *Synchronizer) Updates() <-chan View {
	return s.updates.Updates()
}

// Failures reports rolled back operations. It is closed after Close.
func (s *Synchronizer) Failures() <-chan Failure {
	return s.failures
}

func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the current view without waiting for an update.
func (s *Synchronizer) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Open loads the conversation and its newest page, then starts both live
// listeners. Any failure closes the synchronizer.
func (s *Synchronizer) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateLoading {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	details, page, msgSub, convSub, err := s.load(ctx)
	if err != nil {
		s.Close()
		return err
	}

	s.mu.Lock()
	if s.state != StateLoading {
		s.mu.Unlock()
		msgSub.Close()
		convSub.Close()
		return ErrClosed
	}
	s.details = details
	s.history = page
	s.exhausted = len(page) < messaging.PageSize
	s.subs = []closer{msgSub, convSub}
	s.state = StateReady
	s.wg.Add(2)
	go s.pumpMessages(msgSub)
	go s.pumpConversation(convSub)
	if details.UnreadFor(s.viewerID) > 0 {
		s.markReadLocked()
	}
	s.publishLocked()
	s.mu.Unlock()
	return nil
}

func (s *Synchronizer) load(ctx context.Context) (
	details messaging.ConversationDetails,
	page []messaging.Message,
	msgSub live.Subscription[[]messaging.Message],
	convSub live.Subscription[messaging.Conversation],
	err error,
) {
	details, err = s.deps.Conversations.Get(ctx, s.conversationID, s.viewerID)
	if err != nil {
		return
	}
	page, err = s.deps.Messages.FetchPage(ctx, s.conversationID, time.Time{}, messaging.PageSize)
	if err != nil {
		return
	}
	msgSub, err = s.deps.Messages.SubscribeLive(s.ctx, s.conversationID)
	if err != nil {
		return
	}
	convSub, err = s.deps.Conversations.Subscribe(s.ctx, s.conversationID)
	if err != nil {
		msgSub.Close()
	}
	return
}

// Send shows the message immediately with status sending and writes it in the
// background. A failed upload or write removes the entry and reports a Failure;
// nothing is retried. Sending a key that is already pending is a no-op.
func (s *Synchronizer) Send(_ context.Context, in SendInput) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}
	if in.Image != nil && s.deps.Uploader == nil {
		return "", ErrNoUploader
	}
	key := strings.TrimSpace(in.ClientKey)
	if key == "" {
		key = s.opts.NewKey()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return "", err
	}
	if _, pending := s.sends[key]; pending || s.deliveredLocked(key) {
		return key, nil
	}
	optimistic := messaging.Message{
		ConversationID: s.conversationID,
		SenderID:       s.viewerID,
		Content:        strings.TrimSpace(in.Content),
		CreatedAt:      s.opts.Now().UTC(),
		Reactions:      messaging.Reactions{},
		ClientKey:      key,
	}
	if in.Image != nil {
		optimistic.Image = &messaging.ImageRef{ContentType: in.Image.ContentType, Size: int64(len(in.Image.Data))}
	}
	if in.ReplyToID != "" {
		if target, ok := s.findLocked(in.ReplyToID); ok {
			optimistic.ReplyTo = target.Reply(s.nameLocked(target.SenderID))
		}
	}
	s.sends[key] = &pendingSend{message: optimistic, status: StatusSending}
	s.order = append(s.order, key)
	s.wg.Add(1)
	go s.deliver(key, in)
	s.publishLocked()
	return key, nil
}

func (s *Synchronizer) deliver(key string, in SendInput) {
	defer s.wg.Done()
	cmd := handlers.SendMessageCommand{
		ConversationID: s.conversationID,
		SenderID:       s.viewerID,
		Content:        in.Content,
		ReplyToID:      in.ReplyToID,
		ClientKey:      key,
	}
	if in.Image != nil {
		ref, err := s.deps.Uploader.UploadImage(s.ctx, s.conversationID, s.viewerID, *in.Image)
		if err != nil {
			s.failSend(key, err)
			return
		}
		cmd.Image = &ref
	}
	msg, err := s.deps.Gateway.SendMessage(s.ctx, cmd)
	if err != nil {
		s.failSend(key, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.sends[key]
	if !ok || s.state == StateClosed {
		return
	}
	p.message = msg
	p.status = StatusSent
	if s.deliveredLocked(key) {
		s.dropSendLocked(key)
	}
	s.publishLocked()
}

func (s *Synchronizer) failSend(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.dropSendLocked(key)
	s.publishLocked()
	s.reportLocked(Failure{Op: OpSend, ClientKey: key, Err: err})
}

// ToggleReaction flips the viewer's emoji reaction on a message. The change is
// shown at once and rolled back if the store rejects it.
func (s *Synchronizer) ToggleReaction(_ context.Context, messageID, emoji string) error {
	if err := messaging.ValidateEmoji(emoji); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return err
	}
	rk := reactionKey{messageID: messageID, emoji: emoji}
	if _, inFlight := s.reactions[rk]; inFlight {
		return ErrReactionInFlight
	}
	msg, ok := s.findLocked(messageID)
	if !ok || msg.ID == "" {
		return messaging.ErrMessageNotFound
	}
	add := !msg.Reactions.Has(emoji, s.viewerID)
	s.reactions[rk] = add
	s.wg.Add(1)
	go s.react(rk, add)
	s.publishLocked()
	return nil
}

func (s *Synchronizer) react(rk reactionKey, add bool) {
	defer s.wg.Done()
	msg, err := s.deps.Gateway.SetReaction(s.ctx, handlers.SetReactionCommand{
		MessageID: rk.messageID,
		Emoji:     rk.emoji,
		UserID:    s.viewerID,
		Add:       add,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reactions, rk)
	if s.state == StateClosed {
		return
	}
	if err != nil {
		s.publishLocked()
		s.reportLocked(Failure{Op: OpReaction, MessageID: rk.messageID, Err: err})
		return
	}
	s.replaceLocked(msg)
	s.publishLocked()
}

// LoadOlder prepends the page before the oldest rendered message and returns its size.
func (s *Synchronizer) LoadOlder(ctx context.Context) (int, error) {
	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	if s.loadingOlder {
		s.mu.Unlock()
		return 0, ErrLoadInFlight
	}
	if s.exhausted {
		s.mu.Unlock()
		return 0, ErrHistoryExhausted
	}
	cursor := s.cursorLocked()
	s.loadingOlder = true
	s.publishLocked()
	s.mu.Unlock()

	page, err := s.deps.Messages.FetchPage(ctx, s.conversationID, cursor, messaging.PageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadingOlder = false
	if s.state == StateClosed {
		return 0, ErrClosed
	}
	if err != nil {
		s.publishLocked()
		return 0, err
	}
	s.history = append(append([]messaging.Message(nil), page...), s.history...)
	if len(page) < messaging.PageSize {
		s.exhausted = true
	}
	s.publishLocked()
	return len(page), nil
}

// Close releases both listeners, cancels background work and waits for it.
// It is safe to call more than once.
func (s *Synchronizer) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		subs := s.subs
		s.subs = nil
		s.mu.Unlock()

		for _, sub := range subs {
			sub.Close()
		}
		s.cancel()
		s.wg.Wait()

		s.mu.Lock()
		s.publishLocked()
		s.mu.Unlock()
		s.updates.Close()
		close(s.failures)
	})
}

func (s *Synchronizer) pumpMessages(sub live.Subscription[[]messaging.Message]) {
	defer s.wg.Done()
	for {
		select {
		case snapshot, ok := <-sub.Updates():
			if !ok {
				s.subscriptionEnded(sub.Err())
				return
			}
			s.applyLive(snapshot)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Synchronizer) pumpConversation(sub live.Subscription[messaging.Conversation]) {
	defer s.wg.Done()
	for {
		select {
		case conv, ok := <-sub.Updates():
			if !ok {
				s.subscriptionEnded(sub.Err())
				return
			}
			s.applyConversation(conv)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Synchronizer) applyLive(snapshot []messaging.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return
	}
	s.liveWindow = snapshot
	for _, m := range snapshot {
		if m.ClientKey == "" {
			continue
		}
		if _, ok := s.sends[m.ClientKey]; ok {
			s.dropSendLocked(m.ClientKey)
		}
	}
	s.publishLocked()
}

func (s *Synchronizer) applyConversation(conv messaging.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return
	}
	s.details.Conversation = conv
	if s.opts.MarkReadWhileOpen && conv.UnreadFor(s.viewerID) > 0 {
		s.markReadLocked()
	}
	s.publishLocked()
}

func (s *Synchronizer) subscriptionEnded(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.logger.Warn("live subscription ended", "error", err)
	s.reportLocked(Failure{Op: OpSubscription, Err: err})
}

func (s *Synchronizer) markReadLocked() {
	if s.markInFlight {
		return
	}
	s.markInFlight = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, err := s.deps.Gateway.MarkRead(s.ctx, handlers.MarkReadCommand{
			ConversationID: s.conversationID,
			UserID:         s.viewerID,
		})
		s.mu.Lock()
		defer s.mu.Unlock()
		s.markInFlight = false
		if err != nil && s.state != StateClosed {
			s.reportLocked(Failure{Op: OpMarkRead, Err: err})
		}
	}()
}

func (s *Synchronizer) readyLocked() error {
	switch s.state {
	case StateReady:
		return nil
	case StateClosed:
		return ErrClosed
	}
	return ErrNotReady
}

func (s *Synchronizer) reportLocked(f Failure) {
	select {
	case s.failures <- f:
	default:
		s.logger.Warn("failure dropped", "op", f.Op, "error", f.Err)
	}
}

func (s *Synchronizer) publishLocked() {
	s.updates.Publish(s.viewLocked())
}

func (s *Synchronizer) dropSendLocked(key string) {
	delete(s.sends, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Synchronizer) deliveredLocked(key string) bool {
	for _, m := range s.liveWindow {
		if m.ClientKey == key {
			return true
		}
	}
	for _, m := range s.history {
		if m.ClientKey == key {
			return true
		}
	}
	return false
}

// findLocked returns the rendered copy of a message, overlays included.
func (s *Synchronizer) findLocked(messageID string) (messaging.Message, bool) {
	for _, m := range s.liveWindow {
		if m.ID == messageID {
			return s.overlayLocked(m), true
		}
	}
	for _, m := range s.history {
		if m.ID == messageID {
			return s.overlayLocked(m), true
		}
	}
	return messaging.Message{}, false
}

func (s *Synchronizer) replaceLocked(msg messaging.Message) {
	for i := range s.liveWindow {
		if s.liveWindow[i].ID == msg.ID {
			s.liveWindow[i] = msg
		}
	}
	for i := range s.history {
		if s.history[i].ID == msg.ID {
			s.history[i] = msg
		}
	}
}

func (s *Synchronizer) overlayLocked(m messaging.Message) messaging.Message {
	for rk, add := range s.reactions {
		if rk.messageID != m.ID {
			continue
		}
		if add {
			m.Reactions = m.Reactions.With(rk.emoji, s.viewerID)
		} else {
			m.Reactions = m.Reactions.Without(rk.emoji, s.viewerID)
		}
	}
	return m
}

func (s *Synchronizer) cursorLocked() time.Time {
	var oldest time.Time
	for _, list := range [][]messaging.Message{s.history, s.liveWindow} {
		if len(list) == 0 {
			continue
		}
		if first := list[0].CreatedAt; oldest.IsZero() || first.Before(oldest) {
			oldest = first
		}
	}
	return oldest
}

func (s *Synchronizer) nameLocked(userID string) string {
	if userID == s.details.Peer.ID {
		return s.details.Peer.Name()
	}
	return userID
}

func (s *Synchronizer) viewLocked() View {
	merged := merge(s.history, s.liveWindow)
	entries := make([]Entry, 0, len(merged)+len(s.order))
	seen := make(map[string]struct{}, len(merged))
	for _, m := range merged {
		seen[m.ID] = struct{}{}
		entries = append(entries, Entry{Message: s.overlayLocked(m), Status: StatusDelivered})
	}
	for _, key := range s.order {
		p := s.sends[key]
		if _, dup := seen[p.message.ID]; dup && p.message.ID != "" {
			continue
		}
		entries = append(entries, Entry{Message: p.message, Status: p.status})
	}
	v := View{
		State:        s.state,
		Conversation: s.details,
		Entries:      entries,
		LoadingOlder: s.loadingOlder,
		Exhausted:    s.exhausted,
		CanLoadOlder: s.state == StateReady && !s.loadingOlder && !s.exhausted,
	}
	v.Clusters = messaging.GroupBySender(v.Messages(), messaging.GroupWindow)
	return v
}
