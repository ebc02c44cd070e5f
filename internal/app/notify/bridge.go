package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrPermissionDenied  = errors.New("notify: permission denied")
	ErrPermissionPending = errors.New("notify: permission not answered yet")
)

type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag"`
}

// Platform is the host notification API of one client session.
type Platform interface {
	RequestPermission(ctx context.Context) (bool, error)
	Show(ctx context.Context, n Notification) error
}

// Bridge shows notifications on one client session. Permission is asked for
// once through Prepare when the session attaches; Notify never prompts.
type Bridge struct {
	platform Platform

	prompt sync.Mutex

	mu       sync.Mutex
	resolved bool
	granted  bool
}

func NewBridge(p Platform) *Bridge {
	return &Bridge{platform: p}
}

// Prepare asks the platform for permission unless an answer is already known.
// A cancelled or expired ctx leaves the bridge unresolved so a later call can ask again.
func (b *Bridge) Prepare(ctx context.Context) (bool, error) {
	b.prompt.Lock()
	defer b.prompt.Unlock()
	if granted, ok := b.answer(); ok {
		return granted, nil
	}
	granted, err := b.platform.RequestPermission(ctx)
	if err != nil {
		return false, fmt.Errorf("notify: request permission: %w", err)
	}
	b.mu.Lock()
	b.resolved, b.granted = true, granted
	b.mu.Unlock()
	return granted, nil
}

func (b *Bridge) answer() (granted, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.granted, b.resolved
}

// Notify shows n when permission was granted. It returns ErrPermissionPending
// while the session has not answered and ErrPermissionDenied after a refusal.
func (b *Bridge) Notify(ctx context.Context, n Notification) error {
	granted, ok := b.answer()
	if !ok {
		return ErrPermissionPending
	}
	if !granted {
		return ErrPermissionDenied
	}
	return b.platform.Show(ctx, n)
}

// Registry tracks the bridges attached for each user.
type Registry struct {
	mu      sync.RWMutex
	bridges map[string]map[*Bridge]struct{}
}

func NewRegistry() *Registry {
	return &Registry{bridges: make(map[string]map[*Bridge]struct{})}
}

// Attach registers b for userID and returns a func that removes it.
func (r *Registry) Attach(userID string, b *Bridge) func() {
	r.mu.Lock()
	set, ok := r.bridges[userID]
	if !ok {
		set = make(map[*Bridge]struct{})
		r.bridges[userID] = set
	}
	set[b] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.bridges[userID], b)
			if len(r.bridges[userID]) == 0 {
				delete(r.bridges, userID)
			}
		})
	}
}

func (r *Registry) Sessions(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bridges[userID])
}

// Deliver notifies every session of userID and returns how many showed it.
// Sessions that denied or have not answered the permission prompt are skipped.
func (r *Registry) Deliver(ctx context.Context, userID string, n Notification) (int, error) {
	r.mu.RLock()
	targets := make([]*Bridge, 0, len(r.bridges[userID]))
	for b := range r.bridges[userID] {
		targets = append(targets, b)
	}
	r.mu.RUnlock()

	delivered := 0
	var failures []error
	for _, b := range targets {
		err := b.Notify(ctx, n)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrPermissionPending):
		default:
			failures = append(failures, err)
		}
	}
	return delivered, errors.Join(failures...)
}
