// Package telemetry mirrors hub events and periodic health snapshots to an
// MQTT broker.
//
// Event bus handlers run on the publishing module's goroutine, so they only
// append to the telemetry.outbox registry queue. The telemetry module
// drains the outbox and talks to the broker.
//
// Topics, under the configured prefix:
//
//	<prefix>/status                   online/offline, retained
//	<prefix>/events/<category>/<action>
//	<prefix>/snapshot                 hub snapshot, retained
package telemetry

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/yilhu/DRID-modules/internal/config"
	"github.com/yilhu/DRID-modules/internal/errors"
	"github.com/yilhu/DRID-modules/internal/event"
	"github.com/yilhu/DRID-modules/internal/hub"
	"github.com/yilhu/DRID-modules/internal/logging"
)

const (
	// Name is the module name.
	Name = "telemetry"
	// KeyOutbox is the registry key of the outgoing message queue.
	KeyOutbox = "telemetry.outbox"

	idleWait = 100 * time.Millisecond
)

// StatusTopic is the retained online/offline topic.
func StatusTopic(prefix string) string { return prefix + "/status" }

// SnapshotTopic carries periodic hub snapshots.
func SnapshotTopic(prefix string) string { return prefix + "/snapshot" }

// EventTopic maps an event type such as "deterrence.changed" to
// <prefix>/events/deterrence/changed.
func EventTopic(prefix, eventType string) string {
	return prefix + "/events/" + strings.ReplaceAll(eventType, ".", "/")
}

// Message is one queued publication.
type Message struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// envelope is the JSON body of event messages.
type envelope struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      event.Event `json:"data"`
}

// Stats counts publications.
type Stats struct {
	Published uint64 `json:"published" yaml:"published"`
	Failed    uint64 `json:"failed" yaml:"failed"`
	Skipped   uint64 `json:"skipped" yaml:"skipped"`
}

// Option configures a Telemetry module.
type Option func(*Telemetry)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(t *Telemetry) {
		t.logger = logger
	}
}

// WithClock replaces time.Now for snapshot scheduling.
func WithClock(now func() time.Time) Option {
	return func(t *Telemetry) {
		t.now = now
	}
}

// Telemetry is the telemetry worker.
type Telemetry struct {
	hub    *hub.Hub
	pub    Publisher
	cfg    config.TelemetryConfig
	logger *logging.Logger
	now    func() time.Time

	outbox *hub.Queue[Message]
	subID  string

	lastSnapshot time.Time

	mu    sync.Mutex
	stats Stats
}

// New registers the outbox and starts mirroring hub events into it.
func New(h *hub.Hub, pub Publisher, cfg config.TelemetryConfig, opts ...Option) (*Telemetry, error) {
	t := &Telemetry{
		hub:    h,
		pub:    pub,
		cfg:    cfg,
		logger: logging.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	capacity := cfg.OutboxCapacity
	if capacity <= 0 {
		capacity = 100
	}
	outbox, err := hub.RegisterQueue[Message](h, KeyOutbox, capacity, true)
	if err != nil {
		return nil, err
	}
	t.outbox = outbox
	t.subID = h.Events().SubscribeAll(t.onEvent)
	return t, nil
}

// Outbox returns the outgoing queue.
func (t *Telemetry) Outbox() *hub.Queue[Message] { return t.outbox }

// Stats returns a copy of the publication counters.
func (t *Telemetry) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func (t *Telemetry) count(fn func(*Stats)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.stats)
}

func (t *Telemetry) onEvent(e event.Event) {
	payload, err := json.Marshal(envelope{Type: e.EventType(), Timestamp: e.Timestamp(), Data: e})
	if err != nil {
		t.logger.Debug("failed to encode event", "type", e.EventType(), "error", err)
		t.count(func(s *Stats) { s.Skipped++ })
		return
	}
	msg := Message{
		Topic:   EventTopic(t.cfg.TopicPrefix, e.EventType()),
		QoS:     byte(t.cfg.EventQoS),
		Payload: payload,
	}
	if err := t.outbox.Put(context.Background(), msg, true); err != nil {
		t.count(func(s *Stats) { s.Skipped++ })
	}
}

// Setup connects the publisher.
func (t *Telemetry) Setup(ctx context.Context) error {
	return t.pub.Connect(ctx)
}

// Teardown stops mirroring events and disconnects.
func (t *Telemetry) Teardown() error {
	if t.subID != "" {
		t.hub.Events().Unsubscribe(t.subID)
		t.subID = ""
	}
	t.pub.Disconnect()
	return nil
}

// Step queues a snapshot when one is due and publishes one message. While
// the broker is unreachable messages stay queued, the oldest giving way
// once the outbox is full. A failed publish drops that message only.
func (t *Telemetry) Step(ctx context.Context) error {
	if err := t.maybeSnapshot(); err != nil {
		return err
	}

	if !t.pub.Connected() {
		return sleep(ctx, idleWait)
	}

	waitCtx, cancel := context.WithTimeout(ctx, idleWait)
	defer cancel()
	msg, err := t.outbox.GetContext(waitCtx)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, errors.ErrQueueEmpty):
		return nil
	default:
		return err
	}

	if err := t.pub.Publish(msg.Topic, msg.QoS, msg.Retained, msg.Payload); err != nil {
		t.count(func(s *Stats) { s.Failed++ })
		t.logger.Warn("telemetry publish failed", "topic", msg.Topic, "error", err)
		return nil
	}
	t.count(func(s *Stats) { s.Published++ })
	return nil
}

func (t *Telemetry) maybeSnapshot() error {
	interval := t.cfg.SnapshotInterval()
	if interval <= 0 {
		return nil
	}
	now := t.now()
	if !t.lastSnapshot.IsZero() && now.Sub(t.lastSnapshot) < interval {
		return nil
	}
	t.lastSnapshot = now

	payload, err := json.Marshal(t.hub.Snapshot())
	if err != nil {
		return errors.Wrap(err, "failed to encode snapshot")
	}
	return t.outbox.Put(context.Background(), Message{
		Topic:    SnapshotTopic(t.cfg.TopicPrefix),
		QoS:      byte(t.cfg.SnapshotQoS),
		Retained: true,
		Payload:  payload,
	}, true)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
