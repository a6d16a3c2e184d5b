package event

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/gobwas/glob"

	"github.com/yilhu/DRID-modules/internal/logging"
)

// Handler is a function that handles an event.
type Handler func(Event)

// subscription represents a registered event handler.
type subscription struct {
	id      string
	pattern string
	match   glob.Glob // nil for exact-match patterns
	handler Handler
}

func (s subscription) matches(eventType string) bool {
	if s.match != nil {
		return s.match.Match(eventType)
	}
	return s.pattern == eventType
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger routes handler panics to logger instead of discarding them.
func WithLogger(logger *logging.Logger) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

// Bus is a synchronous pub-sub event bus. Handlers run on the publishing
// goroutine, so they must be short and must not block on hub queues.
type Bus struct {
	mu            sync.RWMutex
	subscriptions []subscription
	nextID        atomic.Uint64
	published     atomic.Uint64
	logger        *logging.Logger
}

// NewBus creates a new event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for event types matching pattern.
// A pattern without glob metacharacters matches one type exactly;
// "module.*" matches every module event and "*" matches everything.
// Returns a subscription ID that can be used to unsubscribe.
func (b *Bus) Subscribe(pattern string, handler Handler) (string, error) {
	sub := subscription{pattern: pattern, handler: handler}
	if hasMeta(pattern) {
		g, err := glob.Compile(pattern)
		if err != nil {
			return "", fmt.Errorf("invalid event pattern %q: %w", pattern, err)
		}
		sub.match = g
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub.id = fmt.Sprintf("sub-%d", b.nextID.Add(1))
	b.subscriptions = append(b.subscriptions, sub)
	return sub.id, nil
}

// SubscribeAll registers a handler for every published event.
func (b *Bus) SubscribeAll(handler Handler) string {
	id, _ := b.Subscribe("*", handler)
	return id
}

func hasMeta(pattern string) bool {
	for _, r := range pattern {
		switch r {
		case '*', '?', '[', '{', '\\':
			return true
		}
	}
	return false
}

// Unsubscribe removes a subscription by ID.
// Returns true if the subscription was found and removed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscriptions {
		if sub.id == id {
			b.subscriptions = append(b.subscriptions[:i:i], b.subscriptions[i+1:]...)
			return true
		}
	}
	return false
}

// Publish dispatches an event to every matching handler in registration
// order. A panicking handler is logged and skipped; delivery continues.
func (b *Bus) Publish(e Event) {
	eventType := e.EventType()

	b.mu.RLock()
	var targets []Handler
	for _, sub := range b.subscriptions {
		if sub.matches(eventType) {
			targets = append(targets, sub.handler)
		}
	}
	b.mu.RUnlock()

	b.published.Add(1)
	for _, h := range targets {
		b.safeCall(h, e)
	}
}

func (b *Bus) safeCall(handler Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event_type", e.EventType(),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	handler(e)
}

// Clear removes all subscriptions.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = nil
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}

// Published returns how many events have been published on the bus.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}
