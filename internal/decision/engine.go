// Package decision turns the detection stream into a debounced deterrence
// flag.
//
// The Engine keeps a sliding window of one sample per frame and runs a
// three-phase state machine:
//
//	IDLE ──(ratio and score thresholds met)──▶ TRIGGERED
//	TRIGGERED ──(reset delay elapsed)──▶ COOLDOWN
//	COOLDOWN ──(cooldown elapsed)──▶ IDLE
//
// The deterrence flag is raised only while TRIGGERED. Triggers are ignored
// during COOLDOWN. The Engine is a module.Worker and owns its state from
// the module goroutine; Status may be read from anywhere.
package decision

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yilhu/DRID-modules/internal/config"
	"github.com/yilhu/DRID-modules/internal/errors"
	"github.com/yilhu/DRID-modules/internal/event"
	"github.com/yilhu/DRID-modules/internal/hub"
	"github.com/yilhu/DRID-modules/internal/logging"
)

const (
	// Name is the module name the engine reports under.
	Name = "decision"
	// KeyStatus is the registry key under which the engine publishes its
	// Status in hub snapshots.
	KeyStatus = "decision.status"
)

// Phase is the state of the decision machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseTriggered
	PhaseCooldown
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseTriggered:
		return "TRIGGERED"
	case PhaseCooldown:
		return "COOLDOWN"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Status is a point-in-time view of the engine.
type Status struct {
	Phase             string    `json:"phase" yaml:"phase"`
	Window            Stats     `json:"window" yaml:"window"`
	FrameRatio        float64   `json:"frame_ratio" yaml:"frame_ratio"`
	TriggeredAt       time.Time `json:"triggered_at,omitzero" yaml:"triggered_at,omitempty"`
	CooldownStartedAt time.Time `json:"cooldown_started_at,omitzero" yaml:"cooldown_started_at,omitempty"`
	Triggers          uint64    `json:"triggers" yaml:"triggers"`
	Malformed         uint64    `json:"malformed" yaml:"malformed"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now for window eviction and phase timers.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the engine's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithName overrides the name used in error records.
func WithName(name string) Option {
	return func(e *Engine) {
		e.name = name
	}
}

// Engine is the decision worker.
type Engine struct {
	hub    *hub.Hub
	name   string
	now    func() time.Time
	logger *logging.Logger
	cfg    atomic.Pointer[config.DecisionConfig]

	// Owned by the module goroutine.
	window      *Window
	phase       Phase
	triggeredAt time.Time
	cooldownAt  time.Time
	triggers    uint64
	malformed   uint64

	mu     sync.Mutex
	status Status
}

// New creates an engine reading detections from h.
func New(h *hub.Hub, cfg config.DecisionConfig, opts ...Option) *Engine {
	e := &Engine{
		hub:    h,
		name:   Name,
		now:    time.Now,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cfg.Store(&cfg)
	e.window = NewWindow(cfg.TimeWindow())
	e.publishStatus()
	if _, err := h.GetOrCreate(KeyStatus, func() (any, error) { return e, nil }); err != nil {
		e.logger.Warn("decision status not registered", "error", err)
	}
	return e
}

// Config returns the thresholds currently in effect.
func (e *Engine) Config() config.DecisionConfig {
	return *e.cfg.Load()
}

// UpdateConfig swaps the thresholds. The next step picks them up; the
// window and phase are kept.
func (e *Engine) UpdateConfig(cfg config.DecisionConfig) {
	e.cfg.Store(&cfg)
	e.logger.Info("decision thresholds updated",
		"time_window_seconds", cfg.TimeWindowSeconds,
		"min_frame_ratio", cfg.MinFrameRatio,
		"min_total_score", cfg.MinTotalScore,
		"cooldown_seconds", cfg.CooldownSeconds,
		"reset_delay_seconds", cfg.ResetDelaySeconds)
}

// Status returns the engine's latest published state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Report implements hub.Reporter.
func (e *Engine) Report() any {
	return e.Status()
}

// Setup adopts a flag that is already raised, so it is cleared after the
// reset delay rather than left up.
func (e *Engine) Setup(context.Context) error {
	cfg := e.Config()
	if e.hub.DeterrenceFlag() {
		e.phase = PhaseTriggered
		e.triggeredAt = e.now()
		e.logger.Warn("deterrence flag already raised at startup, treating as triggered")
	}
	e.logger.Info("decision engine ready",
		"time_window", cfg.TimeWindow().String(),
		"min_frame_ratio", cfg.MinFrameRatio,
		"min_total_score", cfg.MinTotalScore,
		"reset_delay", cfg.ResetDelay().String(),
		"cooldown", cfg.Cooldown().String())
	e.publishStatus()
	return nil
}

// Step advances the phase timers, consumes new detections and evaluates the
// window. When no detections are pending it waits up to the configured
// queue timeout for one.
func (e *Engine) Step(ctx context.Context) error {
	cfg := e.Config()
	defer e.publishStatus()

	// Timers run whether or not new data arrived.
	e.advance(e.now(), cfg)

	items, err := e.hub.Detections().Drain(cfg.MaxBatch)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		items, err = e.wait(ctx, cfg)
		if err != nil {
			return err
		}
	}

	e.ingest(items)
	e.evaluate(e.now(), cfg)
	return nil
}

// wait blocks for the first detection, then drains whatever else arrived.
func (e *Engine) wait(ctx context.Context, cfg config.DecisionConfig) ([]hub.DetectionItem, error) {
	waitCtx, cancel := context.WithTimeout(ctx, cfg.QueueTimeout())
	defer cancel()

	q := e.hub.Detections()
	first, err := q.GetContext(waitCtx)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, errors.ErrQueueEmpty):
		return nil, nil
	default:
		return nil, err
	}

	if cfg.MaxBatch == 1 {
		return []hub.DetectionItem{first}, nil
	}
	rest, err := q.Drain(cfg.MaxBatch - 1)
	if err != nil {
		return nil, err
	}
	return append([]hub.DetectionItem{first}, rest...), nil
}

// ingest adds valid items to the window and records malformed ones.
func (e *Engine) ingest(items []hub.DetectionItem) {
	for _, item := range items {
		if err := item.Validate(); err != nil {
			e.malformed++
			e.logger.Warn("skipping malformed detection", "frame_id", item.FrameID, "error", err)
			e.hub.ReportError(e.name, hub.LevelWarning, "skipped malformed detection", err)
			continue
		}
		e.window.Add(item)
	}
}

// evaluate evicts stale samples, advances timers and checks the trigger
// condition.
func (e *Engine) evaluate(now time.Time, cfg config.DecisionConfig) {
	e.window.SetSpan(cfg.TimeWindow())
	e.window.Evict(now)
	e.advance(now, cfg)

	if e.phase != PhaseIdle {
		return
	}

	st := e.window.Stats()
	if st.Samples == 0 || st.Samples < cfg.MinSamples {
		return
	}
	if st.Ratio() >= cfg.MinFrameRatio && st.Score >= cfg.MinTotalScore {
		e.trigger(now, st, cfg)
	}
}

// advance applies the time-based transitions.
func (e *Engine) advance(now time.Time, cfg config.DecisionConfig) {
	for {
		switch e.phase {
		case PhaseTriggered:
			if now.Sub(e.triggeredAt) < cfg.ResetDelay() {
				return
			}
			e.phase = PhaseCooldown
			e.cooldownAt = now
			e.hub.SetDeterrenceFlag(false)
			e.hub.ReportError(e.name, hub.LevelInfo,
				fmt.Sprintf("RESET: deterrence cleared after %v", cfg.ResetDelay()), nil)
			e.transitioned(PhaseTriggered, PhaseCooldown, e.window.Stats())

		case PhaseCooldown:
			if now.Sub(e.cooldownAt) < cfg.Cooldown() {
				return
			}
			e.phase = PhaseIdle
			e.transitioned(PhaseCooldown, PhaseIdle, e.window.Stats())

		default:
			return
		}
	}
}

func (e *Engine) trigger(now time.Time, st Stats, cfg config.DecisionConfig) {
	e.phase = PhaseTriggered
	e.triggeredAt = now
	e.triggers++

	// The target goes out before the flag so flag watchers read a fresh one.
	if best, ok := e.window.Best(); ok {
		cx, _ := best.Best.Box.Center()
		e.hub.SetActuatorTarget(hub.ActuatorState{
			TargetAngle: (cx - 0.5) * cfg.CameraFOVDegrees,
			Label:       best.Best.Label,
			Confidence:  best.Best.Confidence,
			Fields: map[string]any{
				"frame_id":    best.FrameID,
				"frame_ratio": st.Ratio(),
				"total_score": st.Score,
			},
			UpdatedAt: now,
		})
	}
	e.hub.SetDeterrenceFlag(true)

	e.hub.ReportError(e.name, hub.LevelInfo, fmt.Sprintf(
		"TRIGGERED: %d/%d frames (ratio %.2f >= %.2f), score %.1f >= %.1f",
		st.Detected, st.Samples, st.Ratio(), cfg.MinFrameRatio, st.Score, cfg.MinTotalScore), nil)
	e.transitioned(PhaseIdle, PhaseTriggered, st)
}

func (e *Engine) transitioned(from, to Phase, st Stats) {
	e.logger.Info("decision transition",
		"from", from.String(),
		"to", to.String(),
		"frame_ratio", st.Ratio(),
		"total_score", st.Score,
		"samples", st.Samples)
	e.hub.Events().Publish(event.NewDecisionTransitionEvent(
		from.String(), to.String(), st.Ratio(), st.Score, st.Samples))
}

func (e *Engine) publishStatus() {
	st := e.window.Stats()
	s := Status{
		Phase:      e.phase.String(),
		Window:     st,
		FrameRatio: st.Ratio(),
		Triggers:   e.triggers,
		Malformed:  e.malformed,
	}
	if e.phase != PhaseIdle {
		s.TriggeredAt = e.triggeredAt
	}
	if e.phase == PhaseCooldown {
		s.CooldownStartedAt = e.cooldownAt
	}

	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}
