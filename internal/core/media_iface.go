package core

import (
	"context"

	"github.com/dkeye/Broadcast/internal/domain"
	"github.com/pion/webrtc/v4"
)

// PeerConnection is the negotiation capability of one transport connection.
// Every method may block and may fail; callers run them off the session loop.
type PeerConnection interface {
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	SetLocalDescription(ctx context.Context, desc webrtc.SessionDescription) error
	SetRemoteDescription(ctx context.Context, desc webrtc.SessionDescription) error
	AddICECandidate(ctx context.Context, cand webrtc.ICECandidateInit) error
	// GatheredLocalDescription waits for ICE gathering to complete and returns
	// the local description with all candidates inlined.
	GatheredLocalDescription(ctx context.Context) (webrtc.SessionDescription, error)
	// AddTrack attaches a shared local track. The track is referenced, never copied.
	AddTrack(track webrtc.TrackLocal) error
	// OnICECandidate sets a callback for newly gathered local candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnStateChange sets a callback for transport connection state changes.
	OnStateChange(func(webrtc.PeerConnectionState))
	Close() error
}

// PeerFactory builds a fresh PeerConnection for a remote peer.
type PeerFactory interface {
	NewPeer(peer domain.PeerID) (PeerConnection, error)
}
