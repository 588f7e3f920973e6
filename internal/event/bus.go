package event

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultPriority is used by Listen.
const DefaultPriority = 10

// ErrCascadeDepth is returned when nested broadcasts exceed the bus limit.
var ErrCascadeDepth = errors.New("event cascade depth exceeded")

// Handler reacts to a broadcast. Returned errors are isolated to the handler.
type Handler func(ctx context.Context, name string, payload *Payload) error

// Observer receives dispatch outcomes, e.g. for metrics.
type Observer interface {
	ObserveBroadcast(name string)
	ObserveListenerFailure(name string)
}

// Subscription identifies a registered handler.
type Subscription struct {
	name string
	id   uint64
}

type listener struct {
	id       uint64
	priority int
	handler  Handler
}

type depthKey struct{}

// Bus is a synchronous publish/subscribe dispatcher. It is constructed once
// and injected into every component that listens or broadcasts.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]listener
	nextID    uint64
	maxDepth  int
	observer  Observer
}

// NewBus creates a dispatcher that refuses broadcasts nested deeper than
// maxDepth.
func NewBus(maxDepth int) *Bus {
	if maxDepth < 1 {
		maxDepth = 1
	}
	return &Bus{
		listeners: make(map[string][]listener),
		maxDepth:  maxDepth,
	}
}

// SetObserver attaches a dispatch observer.
func (b *Bus) SetObserver(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observer = o
}

// Listen registers handler for name at DefaultPriority.
func (b *Bus) Listen(name string, handler Handler) Subscription {
	return b.ListenPriority(name, DefaultPriority, handler)
}

// ListenPriority registers handler for name. Lower priorities run first;
// equal priorities run in registration order.
func (b *Bus) ListenPriority(name string, priority int, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	ls := append(b.listeners[name], listener{id: b.nextID, priority: priority, handler: handler})
	sort.SliceStable(ls, func(i, j int) bool {
		return ls[i].priority < ls[j].priority
	})
	b.listeners[name] = ls

	return Subscription{name: name, id: b.nextID}
}

// Unlisten removes a subscription. It reports whether it was registered.
func (b *Bus) Unlisten(sub Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ls := b.listeners[sub.name]
	for i, l := range ls {
		if l.id == sub.id {
			b.listeners[sub.name] = append(ls[:i:i], ls[i+1:]...)
			return true
		}
	}
	return false
}

// ListenerCount returns the number of handlers registered for name.
func (b *Bus) ListenerCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[name])
}

// Broadcast invokes every handler registered for name in priority order and
// returns once all of them, including nested broadcasts, have finished. A
// failing or panicking handler does not stop the others; failures are logged
// and returned joined.
func (b *Bus) Broadcast(ctx context.Context, name string, payload *Payload) error {
	depth, _ := ctx.Value(depthKey{}).(int)
	if depth >= b.maxDepth {
		log.Warn().
			Str("event", name).
			Int("depth", depth).
			Msg("Dropping broadcast: cascade depth exceeded")
		return fmt.Errorf("%w: %s at depth %d", ErrCascadeDepth, name, depth)
	}
	ctx = context.WithValue(ctx, depthKey{}, depth+1)

	b.mu.RLock()
	ls := make([]listener, len(b.listeners[name]))
	copy(ls, b.listeners[name])
	observer := b.observer
	b.mu.RUnlock()

	broadcastID := uuid.New().String()
	if observer != nil {
		observer.ObserveBroadcast(name)
	}

	log.Debug().
		Str("event", name).
		Str("broadcast_id", broadcastID).
		Int64("user_id", payload.UserID()).
		Int("listeners", len(ls)).
		Int("depth", depth).
		Msg("Broadcasting event")

	var errs []error
	for _, l := range ls {
		if err := invoke(ctx, l.handler, name, payload); err != nil {
			log.Error().
				Err(err).
				Str("event", name).
				Str("broadcast_id", broadcastID).
				Int64("user_id", payload.UserID()).
				Msg("Event listener failed")
			if observer != nil {
				observer.ObserveListenerFailure(name)
			}
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func invoke(ctx context.Context, h Handler, name string, payload *Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener for %s panicked: %v", name, r)
		}
	}()
	return h(ctx, name, payload)
}
