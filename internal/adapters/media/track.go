package media

import (
	"errors"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type TrackState int32

const (
	TrackLive TrackState = iota
	TrackMuted
	TrackRetired
)

func (s TrackState) String() string {
	switch s {
	case TrackLive:
		return "live"
	case TrackMuted:
		return "muted"
	case TrackRetired:
		return "retired"
	}
	return "unknown"
}

var errNotForwarding = errors.New("track not forwarding")

// LocalTrack is one published track and the switch deciding whether
// ingested packets reach it. Retired is final.
type LocalTrack struct {
	Kind string
	RTP  *webrtc.TrackLocalStaticRTP

	state     atomic.Int32
	forwarded atomic.Uint64
	dropped   atomic.Uint64
}

func newLocalTrack(kind, mime string) (*LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: mime}, kind, streamID)
	if err != nil {
		return nil, err
	}
	return &LocalTrack{Kind: kind, RTP: track}, nil
}

func (t *LocalTrack) State() TrackState { return TrackState(t.state.Load()) }

// Mute reports whether the track moved from live to muted.
func (t *LocalTrack) Mute() bool {
	return t.state.CompareAndSwap(int32(TrackLive), int32(TrackMuted))
}

func (t *LocalTrack) Unmute() bool {
	return t.state.CompareAndSwap(int32(TrackMuted), int32(TrackLive))
}

func (t *LocalTrack) Retire() { t.state.Store(int32(TrackRetired)) }

// Write forwards pkt while the track is live and counts the outcome.
func (t *LocalTrack) Write(pkt *rtp.Packet) error {
	if t.State() != TrackLive {
		t.dropped.Add(1)
		return errNotForwarding
	}
	if err := t.RTP.WriteRTP(pkt); err != nil {
		t.dropped.Add(1)
		return err
	}
	t.forwarded.Add(1)
	return nil
}

func (t *LocalTrack) drop() { t.dropped.Add(1) }
