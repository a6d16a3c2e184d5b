// Package supervisor owns the lifetime of a set of modules sharing one hub.
//
// Start launches every module, Stop requests every module to stop, waits
// for each up to a timeout, and closes the hub only after the waits, so no
// module ever sees its queues close underneath a running step.
package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"

	"github.com/yilhu/DRID-modules/internal/errors"
	"github.com/yilhu/DRID-modules/internal/hub"
	"github.com/yilhu/DRID-modules/internal/logging"
	"github.com/yilhu/DRID-modules/internal/module"
)

// DefaultStopTimeout bounds the wait for each module on Stop.
const DefaultStopTimeout = 2 * time.Second

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the supervisor's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// WithStopTimeout sets how long Stop waits for each module.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		s.stopTimeout = d
	}
}

// WithOnStopped registers fn to run after the modules have stopped and
// before the hub is closed.
func WithOnStopped(fn func()) Option {
	return func(s *Supervisor) {
		s.onStopped = append(s.onStopped, fn)
	}
}

// Supervisor starts and stops modules.
type Supervisor struct {
	hub         *hub.Hub
	logger      *logging.Logger
	stopTimeout time.Duration
	onStopped   []func()

	mu      sync.Mutex
	modules []*module.Module

	watchers conc.WaitGroup
	quit     chan struct{}
	started  atomic.Bool
	stopped  atomic.Bool
}

// New creates a supervisor for modules attached to h.
func New(h *hub.Hub, opts ...Option) *Supervisor {
	s := &Supervisor{
		hub:         h,
		logger:      logging.NopLogger(),
		stopTimeout: DefaultStopTimeout,
		quit:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers modules. It must be called before Start.
func (s *Supervisor) Add(mods ...*module.Module) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules = append(s.modules, mods...)
}

// Modules returns the registered modules in the order they were added.
func (s *Supervisor) Modules() []*module.Module {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*module.Module(nil), s.modules...)
}

// Start starts every module in order. If one fails to start, the modules
// already started are stopped and the error is returned; the hub stays
// open.
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.ErrAlreadyStarted
	}

	mods := s.Modules()
	for i, m := range mods {
		if err := m.Start(ctx); err != nil {
			s.logger.Error("module failed to start", "module", m.Name(), "error", err)
			for _, started := range mods[:i] {
				started.Stop()
			}
			s.waitAll(mods[:i])
			return err
		}
		s.watch(m)
	}
	s.logger.Info("supervisor started", "modules", len(mods))
	return nil
}

// watch logs a module that stops without being asked to.
func (s *Supervisor) watch(m *module.Module) {
	s.watchers.Go(func() {
		select {
		case <-m.Done():
			if !s.stopped.Load() {
				s.logger.Warn("module stopped on its own", "module", m.Name(), "error", m.Err())
			}
		case <-s.quit:
		}
	})
}

// Stop stops every module, waits for each up to the stop timeout, runs the
// WithOnStopped hooks and closes the hub. The returned error joins the
// modules' own errors with a TimeoutError per module that did not finish in
// time. Stop is idempotent; only the first call does any work.
func (s *Supervisor) Stop() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	mods := s.Modules()

	for _, m := range mods {
		m.Stop()
	}
	err := s.waitAll(mods)

	close(s.quit)
	s.watchers.Wait()

	for _, fn := range s.onStopped {
		fn()
	}
	s.hub.Close()

	if err != nil {
		s.logger.Warn("supervisor stopped with errors", "error", err)
	} else {
		s.logger.Info("supervisor stopped", "modules", len(mods))
	}
	return err
}

// waitAll waits for the modules concurrently so one straggler does not eat
// into the others' timeout.
func (s *Supervisor) waitAll(mods []*module.Module) error {
	p := pool.New().WithErrors()
	for _, m := range mods {
		p.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
			defer cancel()

			err := m.Wait(ctx)
			if ctx.Err() != nil && errors.Is(err, context.DeadlineExceeded) {
				s.logger.Error("module did not stop in time", "module", m.Name(), "timeout", s.stopTimeout.String())
				return errors.NewTimeoutError("stopping module "+m.Name(), s.stopTimeout)
			}
			return err
		})
	}
	return p.Wait()
}

// Run starts the modules, blocks until ctx ends, then stops them. The
// modules do not inherit ctx's cancellation; they stop through Stop.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}
