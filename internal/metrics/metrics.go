// Package metrics keeps in-process counters for the negotiation engine.
package metrics

import "sync"

const (
	OffersSent          = "offers_sent"
	AnswersSent         = "answers_sent"
	AnswersApplied      = "answers_applied"
	CandidatesSent      = "candidates_sent"
	CandidatesBuffered  = "candidates_buffered"
	CandidatesApplied   = "candidates_applied"
	CandidatesRejected  = "candidates_rejected"
	StaleMessages       = "stale_messages"
	NegotiationFailures = "negotiation_failures"
	DiscardedResults    = "discarded_results"
	SendsDropped        = "sends_dropped"
	RelayPublishes      = "relay_publishes"
	RelayFailures       = "relay_publish_failures"
)

// Metrics is a concurrency-safe counter registry. A nil *Metrics is valid
// and counts nothing.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{m: make(map[string]uint64)}
}

func (m *Metrics) Inc(name string) { m.Add(name, 1) }

func (m *Metrics) Add(name string, n uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
