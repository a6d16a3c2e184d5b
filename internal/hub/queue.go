package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yilhu/DRID-modules/internal/errors"
)

// Forever makes Get block until an item arrives or the queue is closed.
const Forever time.Duration = -1

// QueueStats is a point-in-time view of a queue, as exposed in snapshots.
type QueueStats struct {
	Length   int    `json:"length" yaml:"length"`
	Capacity int    `json:"capacity" yaml:"capacity"` // 0 = unbounded
	Dropped  uint64 `json:"dropped" yaml:"dropped"`
}

// Queue is a FIFO with a fixed capacity. When full, a writer either blocks
// or evicts the oldest item, chosen per call. Capacity 0 means unbounded.
// All methods are safe for concurrent use.
type Queue[T any] struct {
	name       string
	capacity   int
	dropOldest bool // policy used by Push

	mu      sync.Mutex
	cond    *sync.Cond
	items   []T
	closed  bool
	dropped uint64
}

// NewQueue creates a queue. dropOldest is the default policy for Push;
// Put always takes the policy explicitly. Negative capacities are clamped to 0.
func NewQueue[T any](name string, capacity int, dropOldest bool) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	q := &Queue[T]{
		name:       name,
		capacity:   capacity,
		dropOldest: dropOldest,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Name returns the queue name used in errors and snapshots.
func (q *Queue[T]) Name() string { return q.name }

// Cap returns the capacity (0 = unbounded).
func (q *Queue[T]) Cap() int { return q.capacity }

// DropsOldest reports the queue's default full-queue policy.
func (q *Queue[T]) DropsOldest() bool { return q.dropOldest }

// full reports whether another item would exceed capacity. The caller must
// hold the mutex.
func (q *Queue[T]) full() bool {
	return q.capacity > 0 && len(q.items) >= q.capacity
}

// popFront removes the head. The caller must hold the mutex and ensure the
// queue is non-empty.
func (q *Queue[T]) popFront() T {
	var zero T
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item
}

func (q *Queue[T]) invalid() error {
	return errors.NewQueueError(q.name, errors.ErrInvalidQueue)
}

// wakeOnDone broadcasts the condition when ctx ends so waiters can observe
// the cancellation. The returned stop function must be called once the wait
// is over.
func (q *Queue[T]) wakeOnDone(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.cond.Broadcast()
	})
}

// Push enqueues item using the queue's default policy.
func (q *Queue[T]) Push(ctx context.Context, item T) error {
	return q.Put(ctx, item, q.dropOldest)
}

// Put enqueues item. On a full queue it evicts the oldest item when
// dropOldest is set; otherwise it blocks until space frees up, ctx ends,
// or the queue is closed. A ctx that ends first yields an error matching
// both ErrQueueFull and the context error.
func (q *Queue[T]) Put(ctx context.Context, item T, dropOldest bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return q.invalid()
	}

	if q.full() {
		if dropOldest {
			q.popFront()
			q.dropped++
		} else {
			stop := q.wakeOnDone(ctx)
			defer stop()
			for q.full() && !q.closed {
				if err := ctx.Err(); err != nil {
					return errors.NewQueueError(q.name, fmt.Errorf("%w: %w", errors.ErrQueueFull, err))
				}
				q.cond.Wait()
			}
			if q.closed {
				return q.invalid()
			}
		}
	}

	q.items = append(q.items, item)
	q.cond.Broadcast()
	return nil
}

// TryPut enqueues item without blocking, failing with ErrQueueFull when
// there is no room.
func (q *Queue[T]) TryPut(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return q.invalid()
	}
	if q.full() {
		return errors.NewQueueError(q.name, errors.ErrQueueFull)
	}
	q.items = append(q.items, item)
	q.cond.Broadcast()
	return nil
}

// Get removes the head item. timeout Forever blocks until an item arrives;
// 0 returns immediately; a positive timeout waits at most that long.
// An empty result is reported as ErrQueueEmpty.
func (q *Queue[T]) Get(timeout time.Duration) (T, error) {
	switch {
	case timeout < 0:
		return q.GetContext(context.Background())
	case timeout == 0:
		return q.tryGet()
	default:
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return q.GetContext(ctx)
	}
}

func (q *Queue[T]) tryGet() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.closed {
		return zero, q.invalid()
	}
	if len(q.items) == 0 {
		return zero, errors.NewQueueError(q.name, errors.ErrQueueEmpty)
	}
	item := q.popFront()
	q.cond.Broadcast()
	return item, nil
}

// GetContext removes the head item, blocking until one arrives, ctx ends or
// the queue is closed. A ctx that ends first yields an error matching both
// ErrQueueEmpty and the context error.
func (q *Queue[T]) GetContext(ctx context.Context) (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.closed {
		return zero, q.invalid()
	}

	if len(q.items) == 0 {
		stop := q.wakeOnDone(ctx)
		defer stop()
		for len(q.items) == 0 && !q.closed {
			if err := ctx.Err(); err != nil {
				return zero, errors.NewQueueError(q.name, fmt.Errorf("%w: %w", errors.ErrQueueEmpty, err))
			}
			q.cond.Wait()
		}
		if q.closed {
			return zero, q.invalid()
		}
	}

	item := q.popFront()
	q.cond.Broadcast()
	return item, nil
}

// Drain removes up to limit items (all of them when limit <= 0) in arrival
// order without blocking.
func (q *Queue[T]) Drain(limit int) ([]T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, q.invalid()
	}

	n := len(q.items)
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return nil, nil
	}

	out := make([]T, n)
	for i := range out {
		out[i] = q.popFront()
	}
	q.cond.Broadcast()
	return out, nil
}

// Latest empties the queue and returns the most recent item. ok is false
// when the queue was already empty.
func (q *Queue[T]) Latest() (item T, ok bool, err error) {
	items, err := q.Drain(0)
	if err != nil || len(items) == 0 {
		return item, false, err
	}
	return items[len(items)-1], true, nil
}

// Len returns the current number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many items the drop-oldest policy has evicted.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Stats returns length, capacity and drop count read under one lock.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Length:   len(q.items),
		Capacity: q.capacity,
		Dropped:  q.dropped,
	}
}

// Close marks the queue invalid and wakes every blocked caller. Queued
// items are discarded. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	q.cond.Broadcast()
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
