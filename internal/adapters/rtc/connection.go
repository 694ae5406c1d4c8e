package rtc

import (
	"context"
	"errors"

	"github.com/dkeye/Broadcast/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Connection adapts a pion PeerConnection to the negotiation engine. Pion
// calls are synchronous; ctx is checked before each step so a canceled
// negotiation stops early.
type Connection struct {
	pc   *webrtc.PeerConnection
	peer domain.PeerID
}

func newConnection(pc *webrtc.PeerConnection, peer domain.PeerID) *Connection {
	c := &Connection{pc: pc, peer: peer}
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "webrtc").Str("peer", string(peer)).Str("ice_state", s.String()).Msg("ICE state")
	})
	return c
}

func (c *Connection) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return c.pc.CreateOffer(nil)
}

func (c *Connection) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return c.pc.CreateAnswer(nil)
}

func (c *Connection) SetLocalDescription(ctx context.Context, desc webrtc.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.pc.SetLocalDescription(desc)
}

func (c *Connection) SetRemoteDescription(ctx context.Context, desc webrtc.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.pc.SetRemoteDescription(desc)
}

func (c *Connection) AddICECandidate(ctx context.Context, cand webrtc.ICECandidateInit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.pc.AddICECandidate(cand)
}

// GatheredLocalDescription waits for ICE gathering to finish and returns the
// local description with every candidate inlined.
func (c *Connection) GatheredLocalDescription(ctx context.Context) (webrtc.SessionDescription, error) {
	select {
	case <-webrtc.GatheringCompletePromise(c.pc):
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}
	desc := c.pc.LocalDescription()
	if desc == nil {
		return webrtc.SessionDescription{}, errors.New("local description not set")
	}
	return *desc, nil
}

// AddTrack attaches a local track and drains its RTCP so interceptors run.
func (c *Connection) AddTrack(track webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return err
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	log.Debug().Str("module", "webrtc").Str("peer", string(c.peer)).Str("track_id", track.ID()).Str("kind", track.Kind().String()).Msg("track attached")
	return nil
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil {
			fn(cand.ToJSON())
		}
	})
}

func (c *Connection) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(fn)
}

func (c *Connection) Close() error {
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("peer", string(c.peer)).Msg("close error")
		return err
	}
	log.Info().Str("module", "webrtc").Str("peer", string(c.peer)).Msg("closed")
	return nil
}
