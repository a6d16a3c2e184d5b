package lora

import (
	"sync"
	"time"
)

// LinkReport is a copy of the link counters. It appears under lora.health
// in hub snapshots.
type LinkReport struct {
	Port           string    `json:"port" yaml:"port"`
	Baud           int       `json:"baud" yaml:"baud"`
	Sent           uint64    `json:"sent" yaml:"sent"`
	TxDone         uint64    `json:"tx_done" yaml:"tx_done"`
	TxErrors       uint64    `json:"tx_errors" yaml:"tx_errors"`
	TxTimeouts     uint64    `json:"tx_timeouts" yaml:"tx_timeouts"`
	Received       uint64    `json:"received" yaml:"received"`
	RxTimeouts     uint64    `json:"rx_timeouts" yaml:"rx_timeouts"`
	RxErrors       uint64    `json:"rx_errors" yaml:"rx_errors"`
	Unparsed       uint64    `json:"unparsed" yaml:"unparsed"`
	LastRSSI       float64   `json:"last_rssi,omitempty" yaml:"last_rssi,omitempty"`
	LastSNR        float64   `json:"last_snr,omitempty" yaml:"last_snr,omitempty"`
	LastSentAt     time.Time `json:"last_sent_at,omitzero" yaml:"last_sent_at,omitempty"`
	LastReceivedAt time.Time `json:"last_received_at,omitzero" yaml:"last_received_at,omitempty"`
}

// LinkStats accumulates link counters. It is safe for concurrent use.
type LinkStats struct {
	mu sync.Mutex
	r  LinkReport
}

func newLinkStats(port string, baud int) *LinkStats {
	return &LinkStats{r: LinkReport{Port: port, Baud: baud}}
}

func (s *LinkStats) update(fn func(*LinkReport)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.r)
}

// Snapshot returns a copy of the counters.
func (s *LinkStats) Snapshot() LinkReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r
}

// Report implements hub.Reporter.
func (s *LinkStats) Report() any {
	return s.Snapshot()
}
