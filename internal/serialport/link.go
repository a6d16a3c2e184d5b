// Package serialport gives serial-attached workers a lazily opened,
// self-healing port.
//
// A [Link] resolves its device and speed from the hub's configuration
// registry (<prefix>_serial_port, <prefix>_serial_baud) and opens the port
// on first use. Any I/O error closes the handle, so the next call reopens
// it without restarting the module. Embedding a *Link in a worker supplies
// the module.SetupWorker and module.TeardownWorker hooks:
//
//	type bridge struct {
//	    *serialport.Link
//	}
//
//	func (b *bridge) Step(ctx context.Context) error {
//	    if err := b.EnsureOpen(); err != nil {
//	        return err
//	    }
//	    ...
//	}
package serialport

import (
	"context"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/yilhu/DRID-modules/internal/errors"
	"github.com/yilhu/DRID-modules/internal/hub"
	"github.com/yilhu/DRID-modules/internal/logging"
)

// DefaultWriteTimeout bounds a single Write.
const DefaultWriteTimeout = time.Second

// Opener opens a serial device. serial.Open is the production opener.
type Opener func(name string, mode *serial.Mode) (serial.Port, error)

// Option configures a Link.
type Option func(*Link)

// WithOpener replaces serial.Open, typically with a fake in tests.
func WithOpener(open Opener) Option {
	return func(l *Link) {
		l.open = open
	}
}

// WithReadTimeout sets how long Read waits for data. Zero (the default)
// makes reads non-blocking.
func WithReadTimeout(d time.Duration) Option {
	return func(l *Link) {
		l.readTimeout = d
	}
}

// WithWriteTimeout bounds each Write. Zero disables the bound.
func WithWriteTimeout(d time.Duration) Option {
	return func(l *Link) {
		l.writeTimeout = d
	}
}

// WithLogger sets the logger used for open/close messages.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Link) {
		l.logger = logger
	}
}

// Link owns one serial port handle. It is safe for concurrent use, though
// a module normally touches it only from its own goroutine.
type Link struct {
	port         string
	baud         int
	readTimeout  time.Duration
	writeTimeout time.Duration
	open         Opener
	logger       *logging.Logger

	mu     sync.Mutex
	handle serial.Port
	opens  int
}

// NewLink resolves the port from h's configuration registry, falling back
// to defaultPort and defaultBaud when the keys are absent.
func NewLink(h *hub.Hub, prefix, defaultPort string, defaultBaud int, opts ...Option) *Link {
	cfg := h.Config()
	l := &Link{
		port:         cfg.String(prefix+"_serial_port", defaultPort),
		baud:         cfg.Int(prefix+"_serial_baud", defaultBaud),
		writeTimeout: DefaultWriteTimeout,
		open:         serial.Open,
		logger:       logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Port returns the resolved device name.
func (l *Link) Port() string { return l.port }

// Baud returns the resolved speed.
func (l *Link) Baud() int { return l.baud }

// IsOpen reports whether a handle is currently held.
func (l *Link) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handle != nil
}

// Opens returns how many times the port has been opened successfully.
func (l *Link) Opens() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opens
}

// EnsureOpen opens the port unless a handle is already held. Call it
// before any I/O; the handle may have been dropped after an error.
func (l *Link) EnsureOpen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.ensureLocked()
	return err
}

func (l *Link) ensureLocked() (serial.Port, error) {
	if l.handle != nil {
		return l.handle, nil
	}

	mode := &serial.Mode{
		BaudRate: l.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := l.open(l.port, mode)
	if err != nil {
		return nil, errors.NewSerialError("open failed", err).WithPort(l.port, l.baud)
	}
	if err := p.SetReadTimeout(l.readTimeout); err != nil {
		p.Close()
		return nil, errors.NewSerialError("set read timeout failed", err).WithPort(l.port, l.baud)
	}

	l.handle = p
	l.opens++
	l.logger.Info("serial port opened", "port", l.port, "baud", l.baud)
	return p, nil
}

// Setup opens the port. It lets a worker embedding *Link satisfy
// module.SetupWorker.
func (l *Link) Setup(context.Context) error {
	return l.EnsureOpen()
}

// Teardown closes the port. It lets a worker embedding *Link satisfy
// module.TeardownWorker.
func (l *Link) Teardown() error {
	return l.Close()
}

// Close closes the handle if one is held.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *Link) closeLocked() error {
	if l.handle == nil {
		return nil
	}
	err := l.handle.Close()
	l.handle = nil
	l.logger.Info("serial port closed", "port", l.port)
	if err != nil {
		return errors.NewSerialError("close failed", err).WithPort(l.port, l.baud)
	}
	return nil
}

// Invalidate drops the handle so the next call reopens the port.
func (l *Link) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.closeLocked(); err != nil {
		l.logger.Debug("closing failed handle", "error", err)
	}
}

// Read reads whatever is available, opening the port first if needed.
// With the default zero read timeout it returns 0, nil when nothing is
// pending. A read error drops the handle.
func (l *Link) Read(b []byte) (int, error) {
	l.mu.Lock()
	p, err := l.ensureLocked()
	l.mu.Unlock()
	if err != nil {
		return 0, err
	}

	n, err := p.Read(b)
	if err != nil {
		l.dropIfCurrent(p)
		return n, errors.NewSerialError("read failed", err).WithPort(l.port, l.baud)
	}
	return n, nil
}

// Write writes b, opening the port first if needed. A write that does not
// finish within the write timeout fails with a TimeoutError. Any failure
// drops the handle.
func (l *Link) Write(b []byte) (int, error) {
	l.mu.Lock()
	p, err := l.ensureLocked()
	l.mu.Unlock()
	if err != nil {
		return 0, err
	}

	n, err := l.writeBounded(p, b)
	if err != nil {
		l.dropIfCurrent(p)
		return n, err
	}
	return n, nil
}

func (l *Link) writeBounded(p serial.Port, b []byte) (int, error) {
	if l.writeTimeout <= 0 {
		n, err := p.Write(b)
		if err != nil {
			return n, errors.NewSerialError("write failed", err).WithPort(l.port, l.baud)
		}
		return n, nil
	}

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := p.Write(b)
		done <- result{n, err}
	}()

	timer := time.NewTimer(l.writeTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			return r.n, errors.NewSerialError("write failed", r.err).WithPort(l.port, l.baud)
		}
		return r.n, nil
	case <-timer.C:
		// Closing the port unblocks the pending Write.
		return 0, errors.NewTimeoutError("serial write to "+l.port, l.writeTimeout)
	}
}

// dropIfCurrent closes p if it is still the held handle.
func (l *Link) dropIfCurrent(p serial.Port) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle == p {
		if err := l.closeLocked(); err != nil {
			l.logger.Debug("closing failed handle", "error", err)
		}
	}
}
