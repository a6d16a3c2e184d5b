package hub

import (
	"fmt"
	"maps"
	"math"
	"time"

	"github.com/yilhu/DRID-modules/internal/errors"
)

// FrameItem is a raw camera frame. Produced by capture, consumed once by
// inference.
type FrameItem struct {
	Timestamp time.Time
	FrameID   uint64
	Width     int
	Height    int
	Data      []byte
}

// BoundingBox is a detection box in normalized image coordinates
// (0,0 top-left, 1,1 bottom-right).
type BoundingBox struct {
	X1 float64 `json:"x1" yaml:"x1"`
	Y1 float64 `json:"y1" yaml:"y1"`
	X2 float64 `json:"x2" yaml:"x2"`
	Y2 float64 `json:"y2" yaml:"y2"`
}

// Center returns the centre of the box.
func (b BoundingBox) Center() (x, y float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Detection is one labelled box.
type Detection struct {
	Label      string      `json:"label" yaml:"label"`
	Confidence float64     `json:"confidence" yaml:"confidence"`
	Box        BoundingBox `json:"box" yaml:"box"`
}

// DetectionItem is the inference result for one frame. It must not be
// mutated after it has been pushed.
type DetectionItem struct {
	Timestamp  time.Time
	FrameID    uint64
	Detections []Detection
	Meta       map[string]any
}

// HasDetection reports whether the frame produced at least one detection.
func (d DetectionItem) HasDetection() bool {
	return len(d.Detections) > 0
}

// TotalScore sums the confidence of every detection.
func (d DetectionItem) TotalScore() float64 {
	var total float64
	for _, det := range d.Detections {
		total += det.Confidence
	}
	return total
}

// Best returns the most confident detection, if any.
func (d DetectionItem) Best() (Detection, bool) {
	if len(d.Detections) == 0 {
		return Detection{}, false
	}
	best := d.Detections[0]
	for _, det := range d.Detections[1:] {
		if det.Confidence > best.Confidence {
			best = det
		}
	}
	return best, true
}

// Validate rejects items the decision engine cannot use: a missing
// timestamp, a non-finite or negative confidence, or an inverted box.
func (d DetectionItem) Validate() error {
	if d.Timestamp.IsZero() {
		return errors.NewValidationError("detection has no timestamp").
			WithField("timestamp").
			WithCause(errors.ErrMalformedDetection)
	}
	for i, det := range d.Detections {
		c := det.Confidence
		if math.IsNaN(c) || math.IsInf(c, 0) || c < 0 {
			return errors.NewValidationError("confidence must be finite and non-negative").
				WithField(fmt.Sprintf("detections[%d].confidence", i)).
				WithValue(c).
				WithCause(errors.ErrMalformedDetection)
		}
		b := det.Box
		for _, v := range []float64{b.X1, b.Y1, b.X2, b.Y2} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.NewValidationError("box coordinates must be finite").
					WithField(fmt.Sprintf("detections[%d].box", i)).
					WithCause(errors.ErrMalformedDetection)
			}
		}
		if b.X2 < b.X1 || b.Y2 < b.Y1 {
			return errors.NewValidationError("box is inverted").
				WithField(fmt.Sprintf("detections[%d].box", i)).
				WithValue(b).
				WithCause(errors.ErrMalformedDetection)
		}
	}
	return nil
}

// AnnotatedFrameItem is the rendered frame belonging to a DetectionItem.
// Timestamp and Meta always equal those of its paired detection.
type AnnotatedFrameItem struct {
	Timestamp      time.Time
	FrameID        uint64
	Width          int
	Height         int
	DetectionCount int
	Data           []byte
	Meta           map[string]any
}

// Error log levels.
const (
	LevelInfo     = "INFO"
	LevelWarning  = "WARNING"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"
)

// ErrorRecord is one entry of the hub's bounded error log.
type ErrorRecord struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Module    string    `json:"module" yaml:"module"`
	Level     string    `json:"level" yaml:"level"`
	Message   string    `json:"message" yaml:"message"`
	Detail    string    `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// ModuleHealth is the per-module record upserted by the runner after every
// step and read by the watchdog.
type ModuleHealth struct {
	Name                string        `json:"name" yaml:"name"`
	State               string        `json:"state" yaml:"state"`
	LastHeartbeat       time.Time     `json:"last_heartbeat" yaml:"last_heartbeat"`
	LastStepDuration    time.Duration `json:"last_step_duration" yaml:"last_step_duration"`
	SuccessCount        uint64        `json:"success_count" yaml:"success_count"`
	FailureCount        uint64        `json:"failure_count" yaml:"failure_count"`
	ConsecutiveFailures int           `json:"consecutive_failures" yaml:"consecutive_failures"`
	LastFailure         string        `json:"last_failure,omitempty" yaml:"last_failure,omitempty"`
	LastFailureAt       time.Time     `json:"last_failure_at,omitzero" yaml:"last_failure_at,omitempty"`
}

// ActuatorState is the shared actuator target. It carries no history.
type ActuatorState struct {
	TargetAngle float64        `json:"target_angle" yaml:"target_angle"`
	Label       string         `json:"label,omitempty" yaml:"label,omitempty"`
	Confidence  float64        `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Fields      map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at,omitzero" yaml:"updated_at,omitempty"`
}

func (a ActuatorState) clone() ActuatorState {
	a.Fields = maps.Clone(a.Fields)
	return a
}
