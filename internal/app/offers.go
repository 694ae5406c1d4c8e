package app

import (
	"sync"

	"github.com/dkeye/Broadcast/internal/domain"
)

// OfferTracker remembers which peers already received an offer in this
// session. Mark must be called before the asynchronous offer steps start so
// two close join events cannot both see "not yet sent".
type OfferTracker struct {
	mu    sync.Mutex
	limit int
	sent  map[domain.PeerID]struct{}
}

// NewOfferTracker caps the set at limit peers; limit <= 0 means no cap.
func NewOfferTracker(limit int) *OfferTracker {
	return &OfferTracker{
		limit: limit,
		sent:  make(map[domain.PeerID]struct{}),
	}
}

// Mark records peer and reports whether it was newly added. It refuses when
// the tracker is full.
func (t *OfferTracker) Mark(peer domain.PeerID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sent[peer]; ok {
		return false
	}
	if t.limit > 0 && len(t.sent) >= t.limit {
		return false
	}
	t.sent[peer] = struct{}{}
	return true
}

func (t *OfferTracker) Has(peer domain.PeerID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sent[peer]
	return ok
}

func (t *OfferTracker) Full() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limit > 0 && len(t.sent) >= t.limit
}

func (t *OfferTracker) Forget(peer domain.PeerID) {
	t.mu.Lock()
	delete(t.sent, peer)
	t.mu.Unlock()
}

func (t *OfferTracker) Reset() {
	t.mu.Lock()
	clear(t.sent)
	t.mu.Unlock()
}

func (t *OfferTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}
