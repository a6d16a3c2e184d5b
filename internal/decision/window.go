package decision

import (
	"slices"
	"time"

	"github.com/yilhu/DRID-modules/internal/hub"
)

// Sample is one frame's contribution to the window.
type Sample struct {
	At       time.Time
	FrameID  uint64
	Detected bool
	Score    float64
	Best     hub.Detection
}

// Stats summarizes the samples currently in the window.
type Stats struct {
	Samples  int     `json:"samples" yaml:"samples"`
	Detected int     `json:"detected" yaml:"detected"`
	Score    float64 `json:"score" yaml:"score"`
}

// Ratio is Detected/Samples, or 0 for an empty window.
func (s Stats) Ratio() float64 {
	if s.Samples == 0 {
		return 0
	}
	return float64(s.Detected) / float64(s.Samples)
}

// Window is a time-ordered buffer of per-frame samples. It is not safe
// for concurrent use.
type Window struct {
	span    time.Duration
	samples []Sample
}

// NewWindow creates a window covering span.
func NewWindow(span time.Duration) *Window {
	return &Window{span: span}
}

// SetSpan changes the window length. Samples outside the new span go on
// the next Evict.
func (w *Window) SetSpan(span time.Duration) {
	w.span = span
}

// Add records item as one sample. A second item carrying the same non-zero
// frame id merges into the existing sample.
func (w *Window) Add(item hub.DetectionItem) {
	best, _ := item.Best()

	if item.FrameID != 0 {
		for i := len(w.samples) - 1; i >= 0; i-- {
			s := &w.samples[i]
			if s.FrameID != item.FrameID {
				continue
			}
			s.Detected = s.Detected || item.HasDetection()
			s.Score += item.TotalScore()
			if best.Confidence > s.Best.Confidence {
				s.Best = best
			}
			return
		}
	}

	s := Sample{
		At:       item.Timestamp,
		FrameID:  item.FrameID,
		Detected: item.HasDetection(),
		Score:    item.TotalScore(),
		Best:     best,
	}

	// Items normally arrive in order; keep the slice sorted when they don't.
	i := len(w.samples)
	for i > 0 && w.samples[i-1].At.After(s.At) {
		i--
	}
	w.samples = slices.Insert(w.samples, i, s)
}

// Evict drops samples older than now minus the span.
func (w *Window) Evict(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.samples) && w.samples[i].At.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = slices.Delete(w.samples, 0, i)
	}
}

// Stats computes frame ratio inputs over the current samples.
func (w *Window) Stats() Stats {
	st := Stats{Samples: len(w.samples)}
	for _, s := range w.samples {
		if s.Detected {
			st.Detected++
		}
		st.Score += s.Score
	}
	return st
}

// Best returns the most confident detection in the window.
func (w *Window) Best() (Sample, bool) {
	var best Sample
	found := false
	for _, s := range w.samples {
		if !s.Detected {
			continue
		}
		if !found || s.Best.Confidence > best.Best.Confidence {
			best = s
			found = true
		}
	}
	return best, found
}

// Len returns the number of samples.
func (w *Window) Len() int {
	return len(w.samples)
}

// Reset drops all samples.
func (w *Window) Reset() {
	w.samples = w.samples[:0]
}
