package hub

import (
	"encoding/json"
	"time"
)

// Snapshot is a point-in-time copy of the hub's observable state. Field
// names are part of the status file format read by the external watchdog;
// do not rename them.
type Snapshot struct {
	TakenAt        time.Time               `json:"taken_at" yaml:"taken_at"`
	Queues         map[string]QueueStats   `json:"queues" yaml:"queues"`
	Actuator       ActuatorState           `json:"actuator" yaml:"actuator"`
	DeterrenceFlag bool                    `json:"deterrence_flag" yaml:"deterrence_flag"`
	RegistryKeys   []string                `json:"registry_keys" yaml:"registry_keys"`
	Modules        map[string]ModuleHealth `json:"modules" yaml:"modules"`
	// Reports holds the output of registry values implementing Reporter.
	Reports map[string]any `json:"reports,omitempty" yaml:"reports,omitempty"`
}

// Reporter is implemented by registry values that contribute a section to
// snapshots. Report must return a value that shares no memory with the
// reporter.
type Reporter interface {
	Report() any
}

// Snapshot copies the hub's state. It never blocks producers or consumers
// for longer than one field read, and the result shares no memory with the
// hub.
func (h *Hub) Snapshot() Snapshot {
	queues := h.registeredQueues()
	queues[QueueFrames] = h.frames.Stats()
	queues[QueueDetections] = h.detections.Stats()
	queues[QueueProcessed] = h.processed.Stats()
	queues[QueueErrors] = h.errorLog.Stats()

	h.stateMu.RLock()
	actuator := h.actuator.clone()
	flag := h.deterrence
	h.stateMu.RUnlock()

	return Snapshot{
		TakenAt:        h.now(),
		Queues:         queues,
		Actuator:       actuator,
		DeterrenceFlag: flag,
		RegistryKeys:   h.ListKeys(),
		Modules:        h.HealthSnapshot(),
		Reports:        h.registryReports(),
	}
}

// MarshalIndent renders the snapshot as indented JSON.
func (s Snapshot) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// StoppedModules returns the names of modules whose last reported state is
// STOPPED.
func (s Snapshot) StoppedModules() []string {
	var out []string
	for name, m := range s.Modules {
		if m.State == "STOPPED" {
			out = append(out, name)
		}
	}
	return out
}
