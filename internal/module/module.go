package module

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yilhu/DRID-modules/internal/errors"
	"github.com/yilhu/DRID-modules/internal/event"
	"github.com/yilhu/DRID-modules/internal/hub"
	"github.com/yilhu/DRID-modules/internal/logging"
)

// Defaults for the failure policy.
const (
	DefaultMaxConsecutiveFailures = 5
	DefaultFailureBackoff         = 100 * time.Millisecond
)

// Option configures a Module.
type Option func(*Module)

// WithMaxConsecutiveFailures sets how many failures in a row stop the
// module. Values below 1 are ignored.
func WithMaxConsecutiveFailures(n int) Option {
	return func(m *Module) {
		if n > 0 {
			m.maxFailures = n
		}
	}
}

// WithFailureBackoff sets the pause after a failed step or setup.
func WithFailureBackoff(d time.Duration) Option {
	return func(m *Module) {
		if d >= 0 {
			m.backoff = d
		}
	}
}

// WithInterval sets a pause between successful steps. The default is no
// pause; workers that poll should block inside Step instead.
func WithInterval(d time.Duration) Option {
	return func(m *Module) {
		if d >= 0 {
			m.interval = d
		}
	}
}

// WithLogger sets the parent logger. The module adds its own name.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Module) {
		m.logger = logger.WithModule(m.name)
	}
}

// WithClock overrides time.Now for heartbeats and step durations.
func WithClock(now func() time.Time) Option {
	return func(m *Module) {
		m.now = now
	}
}

// WithoutErrorLog stops step failures from being copied into the hub's
// error log. They are still counted and logged.
func WithoutErrorLog() Option {
	return func(m *Module) {
		m.reportErrors = false
	}
}

// Module runs a Worker on its own goroutine, tracks its health in the hub
// and stops it after too many consecutive failures.
//
// Lifecycle: CREATED → RUNNING → STOPPING → STOPPED. A module runs at most
// once; create a new one to restart.
type Module struct {
	name   string
	hub    *hub.Hub
	worker Worker

	maxFailures  int
	backoff      time.Duration
	interval     time.Duration
	logger       *logging.Logger
	now          func() time.Time
	reportErrors bool

	state         atomic.Int32
	started       atomic.Bool
	stopRequested atomic.Bool
	done          chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	health hub.ModuleHealth
	err    error
}

// New creates a module in the CREATED state and registers its health
// record with h.
func New(name string, h *hub.Hub, worker Worker, opts ...Option) *Module {
	m := &Module{
		name:         name,
		hub:          h,
		worker:       worker,
		maxFailures:  DefaultMaxConsecutiveFailures,
		backoff:      DefaultFailureBackoff,
		logger:       logging.NopLogger(),
		now:          time.Now,
		reportErrors: true,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.health = hub.ModuleHealth{Name: name, State: StateCreated.String()}
	h.ReportHealth(m.health)
	return m
}

// Name returns the module name.
func (m *Module) Name() string { return m.name }

// State returns the current lifecycle state.
func (m *Module) State() State { return State(m.state.Load()) }

// Done is closed once the module reaches STOPPED.
func (m *Module) Done() <-chan struct{} { return m.done }

// Health returns a copy of the module's health record.
func (m *Module) Health() hub.ModuleHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

// Err returns why the module stopped: nil after a requested stop, a
// ModuleError after the failure budget ran out.
func (m *Module) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// ShouldStop reports whether a stop has been requested. Long-running steps
// that do not watch their context should poll it.
func (m *Module) ShouldStop() bool {
	return m.stopRequested.Load()
}

// Start runs the module on a new goroutine. It fails with ErrAlreadyStarted
// on a second call and with ErrModuleStopped after Stop.
func (m *Module) Start(ctx context.Context) error {
	if err := m.claim(); err != nil {
		return err
	}
	go m.run(ctx)
	return nil
}

// Run runs the module on the calling goroutine and returns once it has
// stopped, with the same result as Err.
func (m *Module) Run(ctx context.Context) error {
	if err := m.claim(); err != nil {
		return err
	}
	m.run(ctx)
	return m.Err()
}

func (m *Module) claim() error {
	if !m.started.CompareAndSwap(false, true) {
		if m.State().IsTerminal() {
			return errors.NewModuleError("cannot start", errors.ErrModuleStopped).WithModule(m.name)
		}
		return errors.NewModuleError("cannot start", errors.ErrAlreadyStarted).WithModule(m.name)
	}
	return nil
}

// Stop requests a transition to STOPPING and cancels the step context.
// It returns immediately; wait on Done for the module to finish. Stopping a
// module that was never started moves it straight to STOPPED without
// calling Teardown.
func (m *Module) Stop() {
	m.stopRequested.Store(true)

	if m.started.CompareAndSwap(false, true) {
		m.transition(StateStopped, "stopped before start")
		close(m.done)
		return
	}

	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the module has stopped or ctx ends.
func (m *Module) Wait(ctx context.Context) error {
	select {
	case <-m.done:
		return m.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Module) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()
	if m.stopRequested.Load() {
		cancel()
	}

	defer close(m.done)
	defer cancel()

	m.transition(StateRunning, "")
	m.logger.Info("module started",
		"max_consecutive_failures", m.maxFailures,
		"failure_backoff", m.backoff.String())

	reason := m.loop(ctx)

	m.transition(StateStopping, reason)
	m.teardown()
	m.transition(StateStopped, reason)

	if err := m.Err(); err != nil {
		m.logger.Error("module stopped", "reason", reason, "error", err)
	} else {
		m.logger.Info("module stopped", "reason", reason)
	}
}

// loop runs setup then steps until stop or budget exhaustion and returns
// the stop reason.
func (m *Module) loop(ctx context.Context) string {
	if s, ok := m.worker.(SetupWorker); ok {
		for {
			if m.stopping(ctx) {
				return "stop requested"
			}
			err := m.call(ctx, "setup", s.Setup)
			if err == nil {
				break
			}
			if m.stopping(ctx) && errors.Is(err, context.Canceled) {
				return "stop requested"
			}
			if m.fail("setup", err) {
				return "max consecutive failures"
			}
			if !sleep(ctx, m.backoff) {
				return "stop requested"
			}
		}
	}

	for {
		if m.stopping(ctx) {
			return "stop requested"
		}

		start := m.now()
		err := m.call(ctx, "step", m.worker.Step)
		elapsed := m.now().Sub(start)

		if err == nil {
			m.succeed(elapsed)
			if m.interval > 0 && !sleep(ctx, m.interval) {
				return "stop requested"
			}
			continue
		}

		if m.stopping(ctx) && errors.Is(err, context.Canceled) {
			return "stop requested"
		}

		m.mu.Lock()
		m.health.LastStepDuration = elapsed
		m.mu.Unlock()
		if m.fail("step", err) {
			return "max consecutive failures"
		}
		if !sleep(ctx, m.backoff) {
			return "stop requested"
		}
	}
}

func (m *Module) stopping(ctx context.Context) bool {
	return m.stopRequested.Load() || ctx.Err() != nil
}

// call invokes fn, converting a panic into ErrStepPanicked.
func (m *Module) call(ctx context.Context, phase string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("module panicked",
				"phase", phase,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", errors.ErrStepPanicked, r)
		}
	}()
	return fn(ctx)
}

func (m *Module) succeed(elapsed time.Duration) {
	m.mu.Lock()
	m.health.LastHeartbeat = m.now()
	m.health.LastStepDuration = elapsed
	m.health.SuccessCount++
	m.health.ConsecutiveFailures = 0
	rec := m.health
	m.mu.Unlock()

	m.hub.ReportHealth(rec)
}

// fail records one failure and reports whether the budget is exhausted.
func (m *Module) fail(phase string, err error) bool {
	now := m.now()

	m.mu.Lock()
	m.health.LastHeartbeat = now
	m.health.FailureCount++
	m.health.ConsecutiveFailures++
	m.health.LastFailure = fmt.Sprintf("%s: %v", phase, err)
	m.health.LastFailureAt = now
	consecutive := m.health.ConsecutiveFailures
	exhausted := consecutive >= m.maxFailures
	if exhausted {
		m.err = errors.NewModuleError(
			fmt.Sprintf("%d consecutive failures", consecutive), err,
		).WithModule(m.name).WithState(StateRunning.String()).WithSeverity(errors.SeverityCritical)
	}
	rec := m.health
	m.mu.Unlock()

	m.hub.ReportHealth(rec)
	m.logger.Warn("module "+phase+" failed",
		"error", err,
		"consecutive_failures", consecutive,
		"max_consecutive_failures", m.maxFailures)

	if m.reportErrors {
		level := hub.LevelError
		if exhausted {
			level = hub.LevelCritical
		}
		m.hub.ReportError(m.name, level, phase+" failed", err)
	}
	return exhausted
}

func (m *Module) teardown() {
	t, ok := m.worker.(TeardownWorker)
	if !ok {
		return
	}
	err := m.call(context.Background(), "teardown", func(context.Context) error {
		return t.Teardown()
	})
	if err != nil {
		m.logger.Warn("module teardown failed", "error", err)
		if m.reportErrors {
			m.hub.ReportError(m.name, hub.LevelWarning, "teardown failed", err)
		}
	}
}

func (m *Module) transition(to State, reason string) {
	from := State(m.state.Swap(int32(to)))
	if from == to {
		return
	}

	m.mu.Lock()
	m.health.State = to.String()
	rec := m.health
	m.mu.Unlock()

	m.hub.ReportHealth(rec)
	m.hub.Events().Publish(event.NewModuleStateChangedEvent(m.name, from.String(), to.String(), reason))
}

// sleep waits for d or until ctx ends. It reports false when ctx ended.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
