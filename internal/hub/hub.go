package hub

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yilhu/DRID-modules/internal/config"
	"github.com/yilhu/DRID-modules/internal/errors"
	"github.com/yilhu/DRID-modules/internal/event"
	"github.com/yilhu/DRID-modules/internal/logging"
)

// Core queue names, as they appear in snapshots.
const (
	QueueFrames     = "frames"
	QueueDetections = "detections"
	QueueProcessed  = "processed"
	QueueErrors     = "errors"
)

// Capacities sizes the core queues. Zero means unbounded.
type Capacities struct {
	Frames     int
	Detections int
	Processed  int
	Errors     int
}

// DefaultCapacities returns the sizes used on the device.
func DefaultCapacities() Capacities {
	return Capacities{Frames: 3, Detections: 20, Processed: 3, Errors: 200}
}

// Option configures a Hub.
type Option func(*Hub)

// WithCapacities overrides the core queue sizes.
func WithCapacities(c Capacities) Option {
	return func(h *Hub) {
		h.caps = c
	}
}

// WithConfig installs the flattened configuration as the "config" registry
// entry.
func WithConfig(reg *config.Registry) Option {
	return func(h *Hub) {
		h.cfg = reg
	}
}

// WithLogger sets the hub logger.
func WithLogger(logger *logging.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithClock overrides time.Now for timestamps the hub assigns.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		h.now = now
	}
}

// WithEventBus shares an existing bus instead of creating one.
func WithEventBus(bus *event.Bus) Option {
	return func(h *Hub) {
		h.bus = bus
	}
}

// Hub is the single shared-state object of the process. It owns every
// queue, the keyed registry, the health table, the actuator target and
// the deterrence flag. Every method is safe for concurrent use.
//
// A Hub is created by the process entry point, handed to each module at
// construction, and closed only after all modules have stopped.
type Hub struct {
	caps   Capacities
	cfg    *config.Registry
	logger *logging.Logger
	now    func() time.Time
	bus    *event.Bus

	frames     *Queue[FrameItem]
	detections *Queue[DetectionItem]
	processed  *Queue[AnnotatedFrameItem]
	errorLog   *Queue[ErrorRecord]

	// pairMu serializes PushPaired so paired items never interleave.
	pairMu sync.Mutex

	stateMu         sync.RWMutex
	actuator        ActuatorState
	deterrence      bool
	latestAnnotated *AnnotatedFrameItem

	regMu    sync.RWMutex
	registry map[string]*entry

	healthMu sync.RWMutex
	health   map[string]ModuleHealth

	closed atomic.Bool
}

// New creates a Hub with its core queues allocated.
func New(opts ...Option) *Hub {
	h := &Hub{
		caps:     DefaultCapacities(),
		logger:   logging.NopLogger(),
		now:      time.Now,
		registry: make(map[string]*entry),
		health:   make(map[string]ModuleHealth),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.bus == nil {
		h.bus = event.NewBus(event.WithLogger(h.logger))
	}
	if h.cfg == nil {
		h.cfg = config.NewRegistry(nil)
	}

	h.frames = NewQueue[FrameItem](QueueFrames, h.caps.Frames, true)
	h.detections = NewQueue[DetectionItem](QueueDetections, h.caps.Detections, true)
	h.processed = NewQueue[AnnotatedFrameItem](QueueProcessed, h.caps.Processed, true)
	h.errorLog = NewQueue[ErrorRecord](QueueErrors, h.caps.Errors, true)

	h.registry[config.RegistryKey] = readyEntry(h.cfg)
	return h
}

// NewFromConfig creates a Hub sized and configured from cfg.
func NewFromConfig(cfg *config.Config, reg *config.Registry, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return New(
		WithCapacities(Capacities{
			Frames:     cfg.Hub.FramesCapacity,
			Detections: cfg.Hub.DetectionsCapacity,
			Processed:  cfg.Hub.ProcessedCapacity,
			Errors:     cfg.Hub.ErrorsCapacity,
		}),
		WithConfig(reg),
		WithLogger(logger.WithModule("hub")),
	)
}

// Frames returns the raw frame queue.
func (h *Hub) Frames() *Queue[FrameItem] { return h.frames }

// Detections returns the detection queue.
func (h *Hub) Detections() *Queue[DetectionItem] { return h.detections }

// Processed returns the annotated frame queue.
func (h *Hub) Processed() *Queue[AnnotatedFrameItem] { return h.processed }

// Errors returns the bounded error log.
func (h *Hub) Errors() *Queue[ErrorRecord] { return h.errorLog }

// Events returns the hub's event bus.
func (h *Hub) Events() *event.Bus { return h.bus }

// Config returns the flattened configuration registry.
func (h *Hub) Config() *config.Registry { return h.cfg }

// Logger returns the hub logger.
func (h *Hub) Logger() *logging.Logger { return h.logger }

// Now returns the hub clock's current time.
func (h *Hub) Now() time.Time { return h.now() }

// PushPaired stamps det and frame with the same timestamp and meta, then
// pushes the detection and the annotated frame, each with its queue's
// policy. No other paired push can interleave. The frame also becomes
// LatestAnnotated.
func (h *Hub) PushPaired(ctx context.Context, det DetectionItem, frame AnnotatedFrameItem, meta map[string]any) error {
	h.pairMu.Lock()
	defer h.pairMu.Unlock()

	ts := h.now()
	shared := maps.Clone(meta)

	det.Timestamp = ts
	det.Meta = shared
	frame.Timestamp = ts
	frame.Meta = shared
	if frame.FrameID == 0 {
		frame.FrameID = det.FrameID
	}
	frame.DetectionCount = len(det.Detections)

	if err := h.detections.Push(ctx, det); err != nil {
		return err
	}
	if err := h.processed.Push(ctx, frame); err != nil {
		return err
	}

	h.stateMu.Lock()
	h.latestAnnotated = &frame
	h.stateMu.Unlock()
	return nil
}

// LatestAnnotated returns the most recent annotated frame pushed through
// PushPaired without consuming the processed queue.
func (h *Hub) LatestAnnotated() (AnnotatedFrameItem, bool) {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	if h.latestAnnotated == nil {
		return AnnotatedFrameItem{}, false
	}
	return *h.latestAnnotated, true
}

// SetActuatorTarget replaces the shared actuator state.
func (h *Hub) SetActuatorTarget(s ActuatorState) {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = h.now()
	}
	s = s.clone()

	h.stateMu.Lock()
	h.actuator = s
	h.stateMu.Unlock()
}

// ActuatorTarget returns a copy of the shared actuator state.
func (h *Hub) ActuatorTarget() ActuatorState {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.actuator.clone()
}

// SetDeterrenceFlag sets the deterrence flag and publishes
// deterrence.changed when the value flips.
func (h *Hub) SetDeterrenceFlag(v bool) {
	h.stateMu.Lock()
	changed := h.deterrence != v
	h.deterrence = v
	h.stateMu.Unlock()

	if changed {
		h.logger.Info("deterrence flag changed", "raised", v)
		h.bus.Publish(event.NewDeterrenceChangedEvent(v))
	}
}

// DeterrenceFlag returns the deterrence flag.
func (h *Hub) DeterrenceFlag() bool {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.deterrence
}

// ReportHealth upserts the health record for rec.Name.
func (h *Hub) ReportHealth(rec ModuleHealth) {
	h.healthMu.Lock()
	h.health[rec.Name] = rec
	h.healthMu.Unlock()
}

// ModuleHealth returns the health record for name.
func (h *Hub) ModuleHealth(name string) (ModuleHealth, bool) {
	h.healthMu.RLock()
	defer h.healthMu.RUnlock()
	rec, ok := h.health[name]
	return rec, ok
}

// HealthSnapshot returns a copy of every health record.
func (h *Hub) HealthSnapshot() map[string]ModuleHealth {
	h.healthMu.RLock()
	defer h.healthMu.RUnlock()
	return maps.Clone(h.health)
}

// ReportError appends a record to the error log, evicting the oldest entry
// when full, and mirrors it on the event bus. err may be nil.
func (h *Hub) ReportError(module, level, message string, err error) {
	rec := ErrorRecord{
		Timestamp: h.now(),
		Module:    module,
		Level:     level,
		Message:   message,
	}
	if err != nil {
		rec.Detail = err.Error()
	}

	if putErr := h.errorLog.Put(context.Background(), rec, true); putErr != nil {
		// Only possible once the hub is closed.
		h.logger.Debug("error log unavailable", "module", module, "message", message)
		return
	}
	h.bus.Publish(event.NewErrorReportedEvent(module, level, message))
}

// Close closes every core and registered queue, waking blocked callers.
// It must only be called after all modules have stopped. Close is
// idempotent.
func (h *Hub) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}

	h.frames.Close()
	h.detections.Close()
	h.processed.Close()
	h.errorLog.Close()

	h.regMu.RLock()
	entries := make([]*entry, 0, len(h.registry))
	for _, e := range h.registry {
		entries = append(entries, e)
	}
	h.regMu.RUnlock()

	for _, e := range entries {
		if c, ok := e.load().(interface{ Close() }); ok {
			c.Close()
		}
	}
	h.logger.Info("hub closed")
}

// Closed reports whether Close has been called.
func (h *Hub) Closed() bool {
	return h.closed.Load()
}

// ErrClosed is returned by registry calls after Close.
var ErrClosed = errors.New("hub closed")
