package app

import (
	"sync"

	"github.com/dkeye/Broadcast/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry holds the peer connections of one room, keyed by peer id.
// Entries are inserted fully built; readers never observe a half-built one.
type Registry struct {
	mu    sync.RWMutex
	room  domain.RoomID
	peers map[domain.PeerID]*PeerEntry
}

func NewRegistry(room domain.RoomID) *Registry {
	return &Registry{
		room:  room,
		peers: make(map[domain.PeerID]*PeerEntry),
	}
}

func (r *Registry) Get(id domain.PeerID) (*PeerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.peers[id]
	return e, ok
}

// GetOrCreate returns the entry for id, building and inserting it when absent.
// build runs under the write lock so concurrent callers never build twice.
func (r *Registry) GetOrCreate(id domain.PeerID, build func() (*PeerEntry, error)) (*PeerEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.peers[id]; ok {
		return e, false, nil
	}
	e, err := build()
	if err != nil {
		return nil, false, err
	}
	r.peers[id] = e
	log.Info().Str("module", "app.registry").Str("room", string(r.room)).Str("peer", string(id)).Msg("peer connection created")
	return e, true, nil
}

// Holds reports whether e is still the registered entry for its peer.
func (r *Registry) Holds(e *PeerEntry) bool {
	if e == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peers[e.ID] == e
}

// Close removes the entry for id and releases its transport. Closing an
// absent peer is a no-op.
func (r *Registry) Close(id domain.PeerID) bool {
	r.mu.Lock()
	e, ok := r.peers[id]
	if ok {
		delete(r.peers, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.release()
	log.Info().Str("module", "app.registry").Str("room", string(r.room)).Str("peer", string(id)).Msg("peer connection closed")
	return true
}

// CloseAll empties the registry and returns how many entries were closed.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	entries := make([]*PeerEntry, 0, len(r.peers))
	for id, e := range r.peers {
		entries = append(entries, e)
		delete(r.peers, id)
	}
	r.mu.Unlock()

	for _, e := range entries {
		e.release()
	}
	log.Info().Str("module", "app.registry").Str("room", string(r.room)).Int("closed", len(entries)).Msg("registry cleared")
	return len(entries)
}

// Snapshot returns the current entries. Later inserts or removals do not
// affect the returned slice.
func (r *Registry) Snapshot() []*PeerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*PeerEntry, 0, len(r.peers))
	for _, e := range r.peers {
		out = append(out, e)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
