package live

import "sync"

// Subscription delivers full-state snapshots until closed. Only the most recent
// undelivered snapshot is kept; consumers always observe the latest state.
type Subscription[T any] interface {
	Updates() <-chan T
	// Err reports why the stream ended, nil after a regular Close.
	Err() error
	Close()
}

// Feed is a latest-wins Subscription implementation used by store adapters.
type Feed[T any] struct {
	mu      sync.Mutex
	ch      chan T
	done    chan struct{}
	closed  bool
	err     error
	onClose func()
	once    sync.Once
}

// NewFeed returns an open feed. onClose runs once, after the feed is closed.
func NewFeed[T any](onClose func()) *Feed[T] {
	return &Feed[T]{
		ch:      make(chan T, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// Publish replaces any pending snapshot with v. It reports false once the feed is closed.
func (f *Feed[T]) Publish(v T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	select {
	case <-f.ch:
	default:
	}
	f.ch <- v
	return true
}

func (f *Feed[T]) Updates() <-chan T {
	return f.ch
}

// Done is closed together with the update channel.
func (f *Feed[T]) Done() <-chan struct{} {
	return f.done
}

func (f *Feed[T]) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Feed[T]) Close() {
	f.shutdown(nil)
}

// Fail closes the feed recording err as the reason.
func (f *Feed[T]) Fail(err error) {
	f.shutdown(err)
}

func (f *Feed[T]) shutdown(err error) {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		f.err = err
		close(f.ch)
		close(f.done)
	}
	f.mu.Unlock()
	f.once.Do(func() {
		if f.onClose != nil {
			f.onClose()
		}
	})
}

var _ Subscription[int] = (*Feed[int])(nil)
