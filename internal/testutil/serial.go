package testutil

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"go.bug.st/serial"
)

// ErrPortClosed is returned by FakePort after Close.
var ErrPortClosed = errors.New("fake port closed")

// FakePort is an in-memory serial.Port. Bytes passed to Feed are returned
// by Read; bytes passed to Write are recorded.
type FakePort struct {
	serial.Port // unimplemented methods panic

	mu          sync.Mutex
	rx          bytes.Buffer
	tx          bytes.Buffer
	closed      bool
	readTimeout time.Duration
	writeErr    error
	writeBlock  chan struct{}
}

// Feed queues data to be returned by Read.
func (p *FakePort) Feed(data string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rx.WriteString(data)
}

// Written returns everything written so far.
func (p *FakePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tx.String()
}

// FailWrites makes every subsequent Write return err (nil restores).
func (p *FakePort) FailWrites(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

// BlockWrites makes Write hang until the port is closed.
func (p *FakePort) BlockWrites() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeBlock = make(chan struct{})
}

// Closed reports whether Close was called.
func (p *FakePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// ReadTimeout returns the last value passed to SetReadTimeout.
func (p *FakePort) ReadTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readTimeout
}

// Read returns buffered bytes, or 0 and nil when none are available, like
// a port opened with a zero read timeout.
func (p *FakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPortClosed
	}
	if p.rx.Len() == 0 {
		return 0, nil
	}
	return p.rx.Read(b)
}

// Write records b.
func (p *FakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	block := p.writeBlock
	p.mu.Unlock()
	if block != nil {
		<-block
		return 0, ErrPortClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPortClosed
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.tx.Write(b)
}

// SetReadTimeout records t.
func (p *FakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readTimeout = t
	return nil
}

// Close marks the port closed and releases blocked writers.
func (p *FakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.writeBlock != nil {
		close(p.writeBlock)
		p.writeBlock = nil
	}
	return nil
}

// FakeOpener hands out FakePorts, optionally failing the first attempts.
type FakeOpener struct {
	mu       sync.Mutex
	failures int
	err      error
	opened   []*FakePort
	modes    []serial.Mode
	names    []string
}

// NewFakeOpener returns an opener that fails the first failures calls with
// err before succeeding.
func NewFakeOpener(failures int, err error) *FakeOpener {
	return &FakeOpener{failures: failures, err: err}
}

// Open satisfies serialport.Opener.
func (o *FakeOpener) Open(name string, mode *serial.Mode) (serial.Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.names = append(o.names, name)
	o.modes = append(o.modes, *mode)
	if o.failures > 0 {
		o.failures--
		return nil, o.err
	}
	p := &FakePort{}
	o.opened = append(o.opened, p)
	return p, nil
}

// Attempts returns how many times Open was called.
func (o *FakeOpener) Attempts() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.names)
}

// Last returns the most recently opened port, or nil.
func (o *FakeOpener) Last() *FakePort {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.opened) == 0 {
		return nil
	}
	return o.opened[len(o.opened)-1]
}

// Opened returns how many ports were opened successfully.
func (o *FakeOpener) Opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened)
}

// LastRequest returns the name and mode of the last Open call.
func (o *FakeOpener) LastRequest() (string, serial.Mode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.names) == 0 {
		return "", serial.Mode{}
	}
	return o.names[len(o.names)-1], o.modes[len(o.modes)-1]
}
