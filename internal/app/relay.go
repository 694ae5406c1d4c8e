package app

import (
	"context"
	"errors"
	"strings"

	"github.com/dkeye/Broadcast/internal/core"
	"github.com/dkeye/Broadcast/internal/domain"
	"github.com/dkeye/Broadcast/internal/metrics"
	"github.com/pion/webrtc/v4"
)

// RelayOptions locate the relay publish endpoint and the stream of a room.
type RelayOptions struct {
	Endpoint   string
	StreamBase string
	FlvBase    string
}

// Info derives the playback endpoints of room.
func (o RelayOptions) Info(room domain.RoomID) *domain.RelayInfo {
	info := &domain.RelayInfo{}
	if o.StreamBase != "" {
		info.StreamURL = strings.TrimRight(o.StreamBase, "/") + "/" + string(room)
	}
	if o.FlvBase != "" {
		info.FlvURL = strings.TrimRight(o.FlvBase, "/") + "/" + string(room) + ".flv"
	}
	return info
}

// relayStrategy publishes once to a media relay. Viewer roster events and
// per-peer signaling never reach it.
type relayStrategy struct {
	*negotiator
	opts      RelayOptions
	publisher core.Publisher
	started   bool
}

func relayPeerID(room domain.RoomID) domain.PeerID { return domain.PeerID("relay:" + string(room)) }

func (r *relayStrategy) Mode() domain.TransportMode { return domain.TransportRelay }

func (r *relayStrategy) Activate(_ []domain.PeerID) {
	if r.started {
		return
	}
	r.started = true
	r.publish()
}

func (r *relayStrategy) publish() {
	e, err := r.entry(relayPeerID(r.room))
	if err != nil {
		return
	}
	if err := r.attachTracks(e); err != nil {
		r.fail(e, "attach tracks", err)
		return
	}

	var offer, gathered webrtc.SessionDescription
	var resp core.PublishResponse
	req := core.PublishRequest{
		Endpoint:     r.opts.Endpoint,
		StreamTarget: r.opts.Info(r.room).StreamURL,
	}

	r.await(e, "create offer", func(ctx context.Context) (err error) {
		offer, err = e.Conn.CreateOffer(ctx)
		return err
	}, func() {
		r.await(e, "set local description", func(ctx context.Context) error {
			return e.Conn.SetLocalDescription(ctx, offer)
		}, func() {
			r.await(e, "gather candidates", func(ctx context.Context) (err error) {
				gathered, err = e.Conn.GatheredLocalDescription(ctx)
				return err
			}, func() {
				req.OfferSDP = gathered.SDP
				r.metrics.Inc(metrics.RelayPublishes)
				r.await(e, "relay publish", func(ctx context.Context) (err error) {
					resp, err = r.publisher.Publish(ctx, req)
					if err == nil && resp.AnswerSDP == "" {
						err = errors.New("empty answer")
					}
					if err != nil {
						r.metrics.Inc(metrics.RelayFailures)
						if !errors.Is(err, core.ErrPublishFailed) {
							err = errors.Join(core.ErrPublishFailed, err)
						}
					}
					return err
				}, func() {
					r.logger.Info().Str("relay_session", resp.SessionID).Str("stream", req.StreamTarget).Msg("relay accepted publish")
					// The entry only records the offer once the relay took it.
					e.setState(domain.NegotiationOfferSent)
					e.localSent = true
					r.applyAnswer(e, resp.AnswerSDP)
				})
			})
		})
	})
}

func (r *relayStrategy) OnParticipantJoined(domain.PeerID) {}

func (r *relayStrategy) OnParticipantLeft(domain.PeerID) {}

func (r *relayStrategy) OnOffer(msg core.Message) { r.ignore(msg) }

func (r *relayStrategy) OnAnswer(msg core.Message) { r.ignore(msg) }

func (r *relayStrategy) OnCandidate(msg core.Message) { r.ignore(msg) }

func (r *relayStrategy) ignore(msg core.Message) {
	r.logger.Debug().Str("type", string(msg.Type)).Str("sender", string(msg.Sender())).Msg("relay mode ignores per-peer signaling")
}

func (r *relayStrategy) Shutdown() { r.shutdown() }
