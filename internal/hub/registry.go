package hub

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/yilhu/DRID-modules/internal/errors"
)

// entry guards once-only construction of one registry value. Its mutex is
// held only while the factory for this key runs, so unrelated keys never
// wait on each other.
type entry struct {
	mu    sync.Mutex
	ready atomic.Bool
	value any
}

func readyEntry(v any) *entry {
	e := &entry{value: v}
	e.ready.Store(true)
	return e
}

// load returns the value once constructed, nil before that.
func (e *entry) load() any {
	if !e.ready.Load() {
		return nil
	}
	return e.value
}

// GetOrCreate returns the value stored under key, calling factory to build
// it when absent. Concurrent callers racing on an unset key share a single
// factory invocation. A failed or panicking factory leaves the key unset,
// returns the error to that caller only, and lets a later call retry.
func (h *Hub) GetOrCreate(key string, factory func() (any, error)) (any, error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}

	h.regMu.RLock()
	e := h.registry[key]
	h.regMu.RUnlock()
	if e != nil && e.ready.Load() {
		return e.value, nil
	}

	if e == nil {
		h.regMu.Lock()
		e = h.registry[key]
		if e == nil {
			e = &entry{}
			h.registry[key] = e
		}
		h.regMu.Unlock()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ready.Load() {
		return e.value, nil
	}

	v, err := callFactory(factory)
	if err != nil {
		h.logger.Warn("registry factory failed", "key", key, "error", err)
		return nil, fmt.Errorf("%w: %s: %w", errors.ErrFactoryFailed, key, err)
	}

	e.value = v
	e.ready.Store(true)
	return v, nil
}

func callFactory(factory func() (any, error)) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("factory panicked: %v", r)
		}
	}()
	return factory()
}

// GetOrCreateAs is the typed form of Hub.GetOrCreate. It fails with
// ErrWrongType when key already holds a value of another type.
func GetOrCreateAs[T any](h *Hub, key string, factory func() (T, error)) (T, error) {
	var zero T
	v, err := h.GetOrCreate(key, func() (any, error) {
		return factory()
	})
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s holds %T", errors.ErrWrongType, key, v)
	}
	return typed, nil
}

// RegisterQueue returns the sub-queue stored under key, creating it with
// the given capacity and default policy on first use. Registered queues
// show up in snapshots and are closed with the hub.
func RegisterQueue[T any](h *Hub, key string, capacity int, dropOldest bool) (*Queue[T], error) {
	return GetOrCreateAs(h, key, func() (*Queue[T], error) {
		return NewQueue[T](key, capacity, dropOldest), nil
	})
}

// HasKey reports whether key holds a constructed value.
func (h *Hub) HasKey(key string) bool {
	h.regMu.RLock()
	e := h.registry[key]
	h.regMu.RUnlock()
	return e != nil && e.ready.Load()
}

// ListKeys returns the sorted keys of every constructed entry.
func (h *Hub) ListKeys() []string {
	h.regMu.RLock()
	defer h.regMu.RUnlock()

	keys := make([]string, 0, len(h.registry))
	for k, e := range h.registry {
		if e.ready.Load() {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// registeredQueues returns stats for every registry value that is a queue.
func (h *Hub) registeredQueues() map[string]QueueStats {
	h.regMu.RLock()
	entries := make(map[string]*entry, len(h.registry))
	for k, e := range h.registry {
		entries[k] = e
	}
	h.regMu.RUnlock()

	out := make(map[string]QueueStats)
	for k, e := range entries {
		if s, ok := e.load().(interface{ Stats() QueueStats }); ok {
			out[k] = s.Stats()
		}
	}
	return out
}

// registryReports collects Report output keyed by registry key.
func (h *Hub) registryReports() map[string]any {
	h.regMu.RLock()
	entries := make(map[string]*entry, len(h.registry))
	for k, e := range h.registry {
		entries[k] = e
	}
	h.regMu.RUnlock()

	var out map[string]any
	for k, e := range entries {
		r, ok := e.load().(Reporter)
		if !ok {
			continue
		}
		if out == nil {
			out = make(map[string]any)
		}
		out[k] = r.Report()
	}
	return out
}
