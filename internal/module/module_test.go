package module

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yilhu/DRID-modules/internal/errors"
	"github.com/yilhu/DRID-modules/internal/event"
	"github.com/yilhu/DRID-modules/internal/hub"
	"github.com/yilhu/DRID-modules/internal/testutil"
)

// scriptedWorker returns the scripted results in order, then blocks until
// the context ends.
type scriptedWorker struct {
	mu      sync.Mutex
	results []error
	steps   atomic.Int32

	setupErrs   []error
	setupCalls  atomic.Int32
	teardowns   atomic.Int32
	teardownErr error
}

func (w *scriptedWorker) Step(ctx context.Context) error {
	w.steps.Add(1)
	w.mu.Lock()
	if len(w.results) > 0 {
		r := w.results[0]
		w.results = w.results[1:]
		w.mu.Unlock()
		return r
	}
	w.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (w *scriptedWorker) Setup(ctx context.Context) error {
	w.setupCalls.Add(1)
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.setupErrs) > 0 {
		r := w.setupErrs[0]
		w.setupErrs = w.setupErrs[1:]
		return r
	}
	return nil
}

func (w *scriptedWorker) Teardown() error {
	w.teardowns.Add(1)
	return w.teardownErr
}

func failures(n int) []error {
	out := make([]error, n)
	for i := range out {
		out[i] = fmt.Errorf("failure %d", i+1)
	}
	return out
}

func TestModule_RecoversAfterFewerThanMaxFailures(t *testing.T) {
	const k = 4
	h := hub.New()
	w := &scriptedWorker{results: append(failures(k-1), nil)}
	m := New("worker", h, w, WithMaxConsecutiveFailures(k), WithFailureBackoff(time.Millisecond))

	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	testutil.WaitFor(t, 2*time.Second, func() bool { return m.Health().SuccessCount == 1 })

	health := m.Health()
	if m.State() != StateRunning {
		t.Errorf("State() = %v, want RUNNING", m.State())
	}
	if health.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0", health.ConsecutiveFailures)
	}
	if health.FailureCount != k-1 {
		t.Errorf("FailureCount = %d, want %d", health.FailureCount, k-1)
	}
	if health.LastFailure != "step: failure 3" {
		t.Errorf("LastFailure = %q", health.LastFailure)
	}
}

func TestModule_StopsAfterMaxConsecutiveFailures(t *testing.T) {
	const k = 3
	h := hub.New()
	w := &scriptedWorker{results: failures(k + 5)}
	m := New("lora", h, w, WithMaxConsecutiveFailures(k), WithFailureBackoff(time.Millisecond))

	err := m.Run(context.Background())

	if m.State() != StateStopped {
		t.Fatalf("State() = %v, want STOPPED", m.State())
	}
	if got := w.steps.Load(); got != k {
		t.Errorf("Step called %d times, want exactly %d", got, k)
	}
	var me *errors.ModuleError
	if !errors.As(err, &me) || me.Module != "lora" {
		t.Errorf("Run() error = %v, want ModuleError for lora", err)
	}
	if w.teardowns.Load() != 1 {
		t.Errorf("Teardown called %d times, want 1", w.teardowns.Load())
	}

	rec, ok := h.ModuleHealth("lora")
	if !ok {
		t.Fatal("health record missing")
	}
	if rec.State != "STOPPED" || rec.ConsecutiveFailures != k || rec.LastFailure == "" {
		t.Errorf("health = %+v", rec)
	}

	time.Sleep(10 * time.Millisecond)
	if got := w.steps.Load(); got != k {
		t.Errorf("Step invoked after stop: %d calls", got)
	}
}

func TestModule_FailuresReachErrorLog(t *testing.T) {
	h := hub.New()
	w := &scriptedWorker{results: failures(2)}
	m := New("decision", h, w, WithMaxConsecutiveFailures(2), WithFailureBackoff(0))

	m.Run(context.Background())

	recs, _ := h.Errors().Drain(0)
	if len(recs) != 2 {
		t.Fatalf("error log has %d records, want 2", len(recs))
	}
	if recs[0].Level != hub.LevelError || recs[1].Level != hub.LevelCritical {
		t.Errorf("levels = %s, %s", recs[0].Level, recs[1].Level)
	}
	if recs[1].Module != "decision" {
		t.Errorf("Module = %q", recs[1].Module)
	}
}

func TestModule_WithoutErrorLog(t *testing.T) {
	h := hub.New()
	m := New("quiet", h, &scriptedWorker{results: failures(1)},
		WithMaxConsecutiveFailures(1), WithoutErrorLog())
	m.Run(context.Background())

	if n := h.Errors().Len(); n != 0 {
		t.Errorf("error log has %d records, want 0", n)
	}
}

func TestModule_SetupFailuresShareBudget(t *testing.T) {
	t.Run("recovers", func(t *testing.T) {
		h := hub.New()
		w := &scriptedWorker{setupErrs: failures(2), results: []error{nil}}
		m := New("serial", h, w, WithMaxConsecutiveFailures(3), WithFailureBackoff(time.Millisecond))

		m.Start(context.Background())
		defer m.Stop()

		testutil.WaitFor(t, 2*time.Second, func() bool { return m.Health().SuccessCount == 1 })
		if w.setupCalls.Load() != 3 {
			t.Errorf("Setup called %d times, want 3", w.setupCalls.Load())
		}
	})

	t.Run("exhausts", func(t *testing.T) {
		h := hub.New()
		w := &scriptedWorker{setupErrs: failures(5)}
		m := New("serial", h, w, WithMaxConsecutiveFailures(2), WithFailureBackoff(time.Millisecond))

		err := m.Run(context.Background())
		if err == nil {
			t.Fatal("expected error after setup failures")
		}
		if w.steps.Load() != 0 {
			t.Error("Step should never run when Setup keeps failing")
		}
		if w.teardowns.Load() != 1 {
			t.Error("Teardown should run even though Setup failed")
		}
	})
}

func TestModule_StopRequested(t *testing.T) {
	h := hub.New()
	w := &scriptedWorker{}
	m := New("capture", h, w)

	var transitions []string
	var mu sync.Mutex
	h.Events().Subscribe(event.TypeModuleStateChanged, func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, e.(event.ModuleStateChangedEvent).To)
	})

	m.Start(context.Background())
	testutil.WaitFor(t, 2*time.Second, func() bool { return w.steps.Load() == 1 })

	m.Stop()
	if err := m.Wait(context.Background()); err != nil {
		t.Errorf("Wait() after requested stop = %v, want nil", err)
	}

	if !m.ShouldStop() {
		t.Error("ShouldStop() should report true after Stop")
	}
	if w.teardowns.Load() != 1 {
		t.Errorf("Teardown called %d times, want 1", w.teardowns.Load())
	}
	if m.Health().FailureCount != 0 {
		t.Error("cancellation during stop should not count as a failure")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"RUNNING", "STOPPING", "STOPPED"}
	if fmt.Sprint(transitions) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}

func TestModule_StopBeforeStart(t *testing.T) {
	h := hub.New()
	w := &scriptedWorker{}
	m := New("idle", h, w)

	m.Stop()

	select {
	case <-m.Done():
	default:
		t.Fatal("Done should be closed")
	}
	if m.State() != StateStopped {
		t.Errorf("State() = %v, want STOPPED", m.State())
	}
	if w.teardowns.Load() != 0 {
		t.Error("Teardown should not run for a module that never started")
	}
	if err := m.Start(context.Background()); !errors.Is(err, errors.ErrModuleStopped) {
		t.Errorf("Start() after Stop = %v, want ErrModuleStopped", err)
	}
}

func TestModule_StartTwice(t *testing.T) {
	h := hub.New()
	m := New("twice", h, &scriptedWorker{})
	defer m.Stop()

	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(context.Background()); !errors.Is(err, errors.ErrAlreadyStarted) {
		t.Errorf("second Start() = %v, want ErrAlreadyStarted", err)
	}
}

func TestModule_PanicCountsAsFailure(t *testing.T) {
	h := hub.New()
	calls := 0
	m := New("panicky", h, StepFunc(func(ctx context.Context) error {
		calls++
		panic("nil frame")
	}), WithMaxConsecutiveFailures(2), WithFailureBackoff(0))

	err := m.Run(context.Background())

	if !errors.Is(err, errors.ErrStepPanicked) {
		t.Errorf("Run() = %v, want ErrStepPanicked in chain", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestModule_ParentContextCancel(t *testing.T) {
	h := hub.New()
	ctx, cancel := context.WithCancel(context.Background())
	m := New("ctx", h, &scriptedWorker{})
	m.Start(ctx)

	cancel()

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("module did not stop when parent context was cancelled")
	}
}

func TestModule_HeartbeatUsesClock(t *testing.T) {
	h := hub.New()
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	m := New("clocked", h, &scriptedWorker{results: []error{nil}},
		WithClock(func() time.Time { return fixed }))
	m.Start(context.Background())
	defer m.Stop()

	testutil.WaitFor(t, 2*time.Second, func() bool { return m.Health().SuccessCount == 1 })
	if !m.Health().LastHeartbeat.Equal(fixed) {
		t.Errorf("LastHeartbeat = %v, want %v", m.Health().LastHeartbeat, fixed)
	}
}

func TestModule_RegistersHealthOnCreate(t *testing.T) {
	h := hub.New()
	New("fresh", h, &scriptedWorker{})

	rec, ok := h.ModuleHealth("fresh")
	if !ok || rec.State != "CREATED" {
		t.Errorf("health = %+v, %v", rec, ok)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateCreated, "CREATED"},
		{StateRunning, "RUNNING"},
		{StateStopping, "STOPPING"},
		{StateStopped, "STOPPED"},
		{State(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
