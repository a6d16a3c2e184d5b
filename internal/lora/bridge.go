// Package lora drives the LoRa UART bridge.
//
// The bridge firmware accepts "TX:<payload>" lines and reports received
// packets as an "RX:<payload>" line followed by an RSSI/SNR line. Outgoing
// payloads are queued on the hub registry under lora.tx, received messages
// are delivered to lora.rx, and link counters are kept under lora.health.
package lora

import (
	"bytes"
	"context"
	"time"

	"github.com/yilhu/DRID-modules/internal/config"
	"github.com/yilhu/DRID-modules/internal/errors"
	"github.com/yilhu/DRID-modules/internal/event"
	"github.com/yilhu/DRID-modules/internal/hub"
	"github.com/yilhu/DRID-modules/internal/logging"
	"github.com/yilhu/DRID-modules/internal/serialport"
	"github.com/yilhu/DRID-modules/internal/util"
)

const (
	// Name is the module name.
	Name = "lora"
	// Prefix selects the lora_serial_port and lora_serial_baud keys.
	Prefix = "lora"

	KeyTX     = "lora.tx"
	KeyRX     = "lora.rx"
	KeyHealth = "lora.health"

	DefaultPort = "/dev/ttyACM0"
	DefaultBaud = 115200
)

const (
	// An RX line waits this long for its RSSI line before delivery.
	pendingTimeout  = 100 * time.Millisecond
	idleWait        = 20 * time.Millisecond
	readChunk       = 256
	maxReadsPerStep = 8
	maxLineLength   = 1024
	logPayloadLen   = 64
)

// Message is a received packet.
type Message struct {
	Payload    string    `json:"payload" yaml:"payload"`
	RSSI       *float64  `json:"rssi,omitempty" yaml:"rssi,omitempty"`
	SNR        *float64  `json:"snr,omitempty" yaml:"snr,omitempty"`
	ReceivedAt time.Time `json:"received_at" yaml:"received_at"`
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge logger.
func WithLogger(logger *logging.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithClock replaces time.Now for TX spacing and RX pairing.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		b.now = now
	}
}

// WithLinkOptions passes options through to the serial link.
func WithLinkOptions(opts ...serialport.Option) Option {
	return func(b *Bridge) {
		b.linkOpts = append(b.linkOpts, opts...)
	}
}

// Bridge is the LoRa worker. Embedding the serial link gives it the
// Setup and Teardown hooks.
type Bridge struct {
	*serialport.Link

	hub      *hub.Hub
	cfg      config.LoRaConfig
	logger   *logging.Logger
	now      func() time.Time
	linkOpts []serialport.Option

	tx    *hub.Queue[string]
	rx    *hub.Queue[Message]
	stats *LinkStats
	subID string

	// Owned by the module goroutine.
	partial   []byte
	pending   *Message
	pendingAt time.Time
	held      *string
	lastTx    time.Time
}

// New creates the bridge and registers its queues and stats with h.
func New(h *hub.Hub, cfg config.LoRaConfig, opts ...Option) (*Bridge, error) {
	b := &Bridge{
		hub:    h,
		cfg:    cfg,
		logger: logging.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	port := cfg.SerialPort
	if port == "" {
		port = DefaultPort
	}
	baud := cfg.SerialBaud
	if baud == 0 {
		baud = DefaultBaud
	}
	linkOpts := append([]serialport.Option{
		serialport.WithWriteTimeout(cfg.WriteTimeout()),
		serialport.WithLogger(b.logger),
	}, b.linkOpts...)
	b.Link = serialport.NewLink(h, Prefix, port, baud, linkOpts...)

	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = 10
	}
	var err error
	if b.tx, err = hub.RegisterQueue[string](h, KeyTX, capacity, true); err != nil {
		return nil, err
	}
	if b.rx, err = hub.RegisterQueue[Message](h, KeyRX, capacity, true); err != nil {
		return nil, err
	}
	b.stats, err = hub.GetOrCreateAs(h, KeyHealth, func() (*LinkStats, error) {
		return newLinkStats(b.Port(), b.Baud()), nil
	})
	if err != nil {
		return nil, err
	}

	if cfg.AlertOnDeterrence {
		b.subID, err = h.Events().Subscribe(event.TypeDeterrenceChanged, b.onDeterrence)
		if err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Send queues payload for transmission, evicting the oldest queued payload
// when the queue is full.
func (b *Bridge) Send(payload string) error {
	return b.tx.Put(context.Background(), payload, true)
}

// Received returns the lora.rx queue.
func (b *Bridge) Received() *hub.Queue[Message] { return b.rx }

// Stats returns a copy of the link counters.
func (b *Bridge) Stats() LinkReport { return b.stats.Snapshot() }

// onDeterrence queues an alert carrying the actuator angle when the flag
// rises. It runs on the publisher's goroutine, so it only enqueues.
func (b *Bridge) onDeterrence(e event.Event) {
	dc, ok := e.(event.DeterrenceChangedEvent)
	if !ok || !dc.Raised {
		return
	}
	target := b.hub.ActuatorTarget()
	if err := b.Send(AlertPayload(target.TargetAngle)); err != nil {
		b.logger.Warn("failed to queue deterrence alert", "error", err)
	}
}

// Step reads and dispatches pending lines, then sends at most one queued
// payload. With nothing to do it waits briefly for outgoing data.
func (b *Bridge) Step(ctx context.Context) error {
	if err := b.EnsureOpen(); err != nil {
		return err
	}

	lines, err := b.readLines()
	if err != nil {
		b.stats.update(func(r *LinkReport) { r.RxErrors++ })
		return err
	}
	b.flushPending(false)

	sent, err := b.sendOne()
	if err != nil {
		return err
	}
	if lines == 0 && !sent {
		return b.idle(ctx)
	}
	return nil
}

// Teardown stops alerting, delivers any half-received message and closes
// the port.
func (b *Bridge) Teardown() error {
	if b.subID != "" {
		b.hub.Events().Unsubscribe(b.subID)
		b.subID = ""
	}
	b.flushPending(true)
	if b.held != nil {
		b.logger.Warn("dropping unsent payload at shutdown", "payload", util.TruncateString(*b.held, logPayloadLen))
		b.held = nil
	}
	return b.Link.Teardown()
}

// readLines drains the port and handles every complete line.
func (b *Bridge) readLines() (int, error) {
	buf := make([]byte, readChunk)
	handled := 0
	for range maxReadsPerStep {
		n, err := b.Read(buf)
		if err != nil {
			return handled, err
		}
		if n == 0 {
			break
		}
		b.partial = append(b.partial, buf[:n]...)

		for {
			i := bytes.IndexByte(b.partial, '\n')
			if i < 0 {
				break
			}
			line := string(b.partial[:i])
			b.partial = b.partial[i+1:]
			b.handleLine(line)
			handled++
		}
		if len(b.partial) > maxLineLength {
			b.logger.Warn("discarding overlong line from bridge", "bytes", len(b.partial))
			b.stats.update(func(r *LinkReport) { r.Unparsed++ })
			b.partial = nil
		}
	}
	return handled, nil
}

func (b *Bridge) handleLine(raw string) {
	line := ParseLine(raw)
	switch line.Kind {
	case KindRX:
		b.flushPending(true)
		b.pending = &Message{Payload: line.Payload, ReceivedAt: b.now()}
		b.pendingAt = b.pending.ReceivedAt

	case KindQuality:
		rssi, snr := line.RSSI, line.SNR
		b.stats.update(func(r *LinkReport) {
			r.LastRSSI = rssi
			r.LastSNR = snr
		})
		if b.pending != nil {
			b.pending.RSSI = &rssi
			b.pending.SNR = &snr
			b.flushPending(true)
		}

	case KindTxDone:
		b.stats.update(func(r *LinkReport) { r.TxDone++ })
	case KindTxTimeout:
		b.logger.Warn("bridge reported transmit timeout")
		b.stats.update(func(r *LinkReport) { r.TxTimeouts++ })
	case KindRxTimeout:
		b.stats.update(func(r *LinkReport) { r.RxTimeouts++ })
	case KindRxError:
		b.logger.Warn("bridge reported receive error")
		b.stats.update(func(r *LinkReport) { r.RxErrors++ })

	default:
		if line.Payload != "" {
			b.logger.Debug("unrecognized bridge line", "line", util.TruncateString(line.Payload, logPayloadLen))
			b.stats.update(func(r *LinkReport) { r.Unparsed++ })
		}
	}
}

// flushPending delivers the held RX message. Without force it waits for
// the RSSI line until pendingTimeout has passed.
func (b *Bridge) flushPending(force bool) {
	if b.pending == nil {
		return
	}
	if !force && b.now().Sub(b.pendingAt) < pendingTimeout {
		return
	}
	msg := *b.pending
	b.pending = nil

	if err := b.rx.Put(context.Background(), msg, true); err != nil {
		b.logger.Debug("rx queue unavailable", "error", err)
		return
	}
	b.stats.update(func(r *LinkReport) {
		r.Received++
		r.LastReceivedAt = msg.ReceivedAt
	})
	b.logger.Debug("lora message received", "payload", util.TruncateString(msg.Payload, logPayloadLen))
	b.hub.Events().Publish(event.NewRadioReceivedEvent(msg.Payload, msg.RSSI, msg.SNR))
}

// sendOne writes the next payload if the minimum TX spacing allows.
func (b *Bridge) sendOne() (bool, error) {
	if b.held == nil {
		p, err := b.tx.Get(0)
		if err != nil {
			if errors.Is(err, errors.ErrQueueEmpty) {
				return false, nil
			}
			return false, err
		}
		b.held = &p
	}
	if b.now().Sub(b.lastTx) < b.cfg.MinTxInterval() {
		return false, nil
	}

	payload := *b.held
	if _, err := b.Write(EncodeTX(payload)); err != nil {
		b.held = nil
		b.stats.update(func(r *LinkReport) { r.TxErrors++ })
		b.logger.Warn("lora transmit failed", "payload", util.TruncateString(payload, logPayloadLen), "error", err)
		return false, err
	}
	b.held = nil
	b.lastTx = b.now()
	sentAt := b.lastTx
	b.stats.update(func(r *LinkReport) {
		r.Sent++
		r.LastSentAt = sentAt
	})
	return true, nil
}

// idle waits up to idleWait, returning early when a payload is queued.
func (b *Bridge) idle(ctx context.Context) error {
	if b.held == nil {
		waitCtx, cancel := context.WithTimeout(ctx, idleWait)
		defer cancel()
		p, err := b.tx.GetContext(waitCtx)
		switch {
		case err == nil:
			b.held = &p
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, errors.ErrQueueEmpty):
			return nil
		default:
			return err
		}
	}

	timer := time.NewTimer(idleWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
