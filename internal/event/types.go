package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns "category.action", e.g. "module.state_changed".
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event types published by the core.
const (
	TypeModuleStateChanged = "module.state_changed"
	TypeDeterrenceChanged  = "deterrence.changed"
	TypeDecisionTransition = "decision.transition"
	TypeErrorReported      = "error.reported"
	TypeConfigReloaded     = "config.reloaded"
	TypeEventArchived      = "archive.recorded"
	TypeRadioReceived      = "lora.received"
)

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Module Lifecycle Events
// -----------------------------------------------------------------------------

// ModuleStateChangedEvent is emitted by a module runner on every lifecycle
// transition.
type ModuleStateChangedEvent struct {
	baseEvent
	Module string `json:"module"`
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"` // e.g. "max consecutive failures", "stop requested"
}

// NewModuleStateChangedEvent creates a ModuleStateChangedEvent.
func NewModuleStateChangedEvent(module, from, to, reason string) ModuleStateChangedEvent {
	return ModuleStateChangedEvent{
		baseEvent: newBaseEvent(TypeModuleStateChanged),
		Module:    module,
		From:      from,
		To:        to,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Decision Events
// -----------------------------------------------------------------------------

// DeterrenceChangedEvent is emitted when the shared deterrence flag flips.
type DeterrenceChangedEvent struct {
	baseEvent
	Raised bool `json:"raised"`
}

// NewDeterrenceChangedEvent creates a DeterrenceChangedEvent.
func NewDeterrenceChangedEvent(raised bool) DeterrenceChangedEvent {
	return DeterrenceChangedEvent{
		baseEvent: newBaseEvent(TypeDeterrenceChanged),
		Raised:    raised,
	}
}

// DecisionTransitionEvent is emitted when the decision state machine moves
// between IDLE, TRIGGERED and COOLDOWN.
type DecisionTransitionEvent struct {
	baseEvent
	From       string  `json:"from"`
	To         string  `json:"to"`
	FrameRatio float64 `json:"frame_ratio"`
	TotalScore float64 `json:"total_score"`
	Samples    int     `json:"samples"`
}

// NewDecisionTransitionEvent creates a DecisionTransitionEvent.
func NewDecisionTransitionEvent(from, to string, ratio, score float64, samples int) DecisionTransitionEvent {
	return DecisionTransitionEvent{
		baseEvent:  newBaseEvent(TypeDecisionTransition),
		From:       from,
		To:         to,
		FrameRatio: ratio,
		TotalScore: score,
		Samples:    samples,
	}
}

// -----------------------------------------------------------------------------
// Diagnostics Events
// -----------------------------------------------------------------------------

// ErrorReportedEvent mirrors an entry appended to the hub error log.
type ErrorReportedEvent struct {
	baseEvent
	Module  string `json:"module"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// NewErrorReportedEvent creates an ErrorReportedEvent.
func NewErrorReportedEvent(module, level, message string) ErrorReportedEvent {
	return ErrorReportedEvent{
		baseEvent: newBaseEvent(TypeErrorReported),
		Module:    module,
		Level:     level,
		Message:   message,
	}
}

// ConfigReloadedEvent is emitted after the config file changed on disk and
// the new values passed validation.
type ConfigReloadedEvent struct {
	baseEvent
	Path string `json:"path"`
}

// NewConfigReloadedEvent creates a ConfigReloadedEvent.
func NewConfigReloadedEvent(path string) ConfigReloadedEvent {
	return ConfigReloadedEvent{
		baseEvent: newBaseEvent(TypeConfigReloaded),
		Path:      path,
	}
}

// -----------------------------------------------------------------------------
// Collaborator Events
// -----------------------------------------------------------------------------

// EventArchivedEvent is emitted after a deterrence episode was written to
// the archive.
type EventArchivedEvent struct {
	baseEvent
	EventID   string `json:"event_id"`
	ImagePath string `json:"image_path,omitempty"`
}

// NewEventArchivedEvent creates an EventArchivedEvent.
func NewEventArchivedEvent(eventID, imagePath string) EventArchivedEvent {
	return EventArchivedEvent{
		baseEvent: newBaseEvent(TypeEventArchived),
		EventID:   eventID,
		ImagePath: imagePath,
	}
}

// RadioReceivedEvent is emitted for every payload received over the LoRa link.
type RadioReceivedEvent struct {
	baseEvent
	Payload string   `json:"payload"`
	RSSI    *float64 `json:"rssi,omitempty"`
	SNR     *float64 `json:"snr,omitempty"`
}

// NewRadioReceivedEvent creates a RadioReceivedEvent.
func NewRadioReceivedEvent(payload string, rssi, snr *float64) RadioReceivedEvent {
	return RadioReceivedEvent{
		baseEvent: newBaseEvent(TypeRadioReceived),
		Payload:   payload,
		RSSI:      rssi,
		SNR:       snr,
	}
}
