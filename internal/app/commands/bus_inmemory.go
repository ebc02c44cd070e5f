package commands

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type route func(ctx context.Context, cmd Command) (any, error)

// InMemoryBus is the terminal bus behind the middleware chain.
type InMemoryBus struct {
	mu     sync.RWMutex
	routes map[string]route
}

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{routes: make(map[string]route)}
}

// RegisterRaw attaches fn to key. A malformed or duplicate key is a wiring
// bug and panics at startup.
func (b *InMemoryBus) RegisterRaw(key string, fn func(ctx context.Context, cmd Command) (any, error)) {
	if !validKey(key) {
		panic(fmt.Sprintf("commands: malformed key %q", key))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, taken := b.routes[key]; taken {
		panic("commands: duplicate registration for " + key)
	}
	b.routes[key] = fn
}

func (b *InMemoryBus) Dispatch(ctx context.Context, cmd Command) (any, error) {
	if cmd == nil {
		return nil, ErrInvalidCommand
	}
	b.mu.RLock()
	fn, ok := b.routes[cmd.Key()]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, cmd.Key())
	}
	return fn(ctx, cmd)
}

// Keys lists registered command keys, sorted.
func (b *InMemoryBus) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.routes))
	for k := range b.routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RegisterHandler registers h under the key of C.
func RegisterHandler[C Command, R any](bus *InMemoryBus, h Handler[C, R]) {
	if bus == nil {
		panic("commands: nil bus")
	}
	var zero C
	key := zero.Key()
	bus.RegisterRaw(key, func(ctx context.Context, raw Command) (any, error) {
		cmd, ok := raw.(C)
		if !ok {
			return nil, fmt.Errorf("%w: %s got %T", ErrInvalidCommand, key, raw)
		}
		return h.Handle(ctx, cmd)
	})
}
