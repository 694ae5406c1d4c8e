package app

import (
	"github.com/dkeye/Broadcast/internal/core"
	"github.com/dkeye/Broadcast/internal/domain"
)

// meshStrategy negotiates one direct connection per viewer. The broadcaster
// always offers; viewers only answer.
type meshStrategy struct {
	*negotiator
}

func (m *meshStrategy) Mode() domain.TransportMode { return domain.TransportMesh }

func (m *meshStrategy) Activate(roster []domain.PeerID) {
	for _, peer := range roster {
		m.offerTo(peer)
	}
}

func (m *meshStrategy) OnParticipantJoined(peer domain.PeerID) { m.offerTo(peer) }

func (m *meshStrategy) OnParticipantLeft(peer domain.PeerID) { m.leave(peer) }

func (m *meshStrategy) OnOffer(msg core.Message) { m.acceptOffer(msg) }

func (m *meshStrategy) OnAnswer(msg core.Message) { m.acceptAnswer(msg) }

func (m *meshStrategy) OnCandidate(msg core.Message) { m.acceptCandidate(msg) }

func (m *meshStrategy) Shutdown() { m.shutdown() }
