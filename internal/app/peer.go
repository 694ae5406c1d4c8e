package app

import (
	"context"

	"github.com/dkeye/Broadcast/internal/core"
	"github.com/dkeye/Broadcast/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// PeerEntry is one registry record. All fields except ID and Conn are owned
// by the session loop and must not be touched from other goroutines.
type PeerEntry struct {
	ID   domain.PeerID
	Conn core.PeerConnection

	ctx    context.Context
	cancel context.CancelFunc

	state          domain.NegotiationState
	tracksAttached bool

	// remoteSet flips once the remote description has been applied. Until
	// then inbound candidates wait in pending.
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	// localSent flips once our offer or answer went out. Until then local
	// candidates wait in outbound.
	localSent bool
	outbound  []webrtc.ICECandidateInit
}

func newPeerEntry(parent context.Context, id domain.PeerID, conn core.PeerConnection) *PeerEntry {
	ctx, cancel := context.WithCancel(parent)
	return &PeerEntry{ID: id, Conn: conn, ctx: ctx, cancel: cancel}
}

func (e *PeerEntry) State() domain.NegotiationState { return e.state }

// setState applies a forward transition and reports whether it was allowed.
func (e *PeerEntry) setState(next domain.NegotiationState) bool {
	if e.state == next {
		return true
	}
	if !e.state.CanTransition(next) {
		log.Warn().
			Str("module", "app.peer").
			Str("peer", string(e.ID)).
			Stringer("from", e.state).
			Stringer("to", next).
			Msg("rejected negotiation transition")
		return false
	}
	log.Debug().
		Str("module", "app.peer").
		Str("peer", string(e.ID)).
		Stringer("from", e.state).
		Stringer("to", next).
		Msg("negotiation state")
	e.state = next
	return true
}

// takePending empties the inbound candidate buffer.
func (e *PeerEntry) takePending() []webrtc.ICECandidateInit {
	out := e.pending
	e.pending = nil
	return out
}

func (e *PeerEntry) takeOutbound() []webrtc.ICECandidateInit {
	out := e.outbound
	e.outbound = nil
	return out
}

func (e *PeerEntry) release() {
	e.cancel()
	e.state = domain.NegotiationClosed
	e.pending = nil
	e.outbound = nil
	if err := e.Conn.Close(); err != nil {
		log.Error().Err(err).Str("module", "app.peer").Str("peer", string(e.ID)).Msg("close error")
	}
}
