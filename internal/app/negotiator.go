package app

import (
	"context"
	"errors"

	"github.com/dkeye/Broadcast/internal/core"
	"github.com/dkeye/Broadcast/internal/domain"
	"github.com/dkeye/Broadcast/internal/metrics"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// negotiator is the per-peer machinery shared by both strategies. Every
// method runs on the session loop; blocking capability calls run in their
// own goroutine and resume through post.
type negotiator struct {
	ctx     context.Context
	room    domain.RoomID
	reg     *Registry
	offers  *OfferTracker
	factory core.PeerFactory
	metrics *metrics.Metrics
	logger  zerolog.Logger

	self   func() domain.PeerID
	tracks func() []webrtc.TrackLocal
	send   func(core.Message) error
	post   func(func())

	// trickle is false for the relay path, which inlines candidates into
	// the published description instead of signaling them.
	trickle bool
}

func (n *negotiator) build(peer domain.PeerID) func() (*PeerEntry, error) {
	return func() (*PeerEntry, error) {
		conn, err := n.factory.NewPeer(peer)
		if err != nil {
			return nil, &core.NegotiationError{Peer: peer, Op: "new peer", Err: err}
		}
		e := newPeerEntry(n.ctx, peer, conn)
		conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
			n.post(func() { n.onLocalCandidate(e, c) })
		})
		conn.OnStateChange(func(s webrtc.PeerConnectionState) {
			n.post(func() { n.onTransportState(e, s) })
		})
		return e, nil
	}
}

func (n *negotiator) entry(peer domain.PeerID) (*PeerEntry, error) {
	e, _, err := n.reg.GetOrCreate(peer, n.build(peer))
	if err != nil {
		n.metrics.Inc(metrics.NegotiationFailures)
		n.logger.Error().Err(err).Str("peer", string(peer)).Msg("cannot create peer connection")
		return nil, err
	}
	return e, nil
}

// await runs step off the loop and resumes then on the loop. A result for a
// peer that was removed or replaced meanwhile is discarded.
func (n *negotiator) await(e *PeerEntry, op string, step func(ctx context.Context) error, then func()) {
	ctx := e.ctx
	go func() {
		err := step(ctx)
		n.post(func() {
			if !n.reg.Holds(e) {
				n.metrics.Inc(metrics.DiscardedResults)
				n.logger.Debug().Str("peer", string(e.ID)).Str("op", op).Msg("discarding result for removed peer")
				return
			}
			if err != nil {
				n.fail(e, op, err)
				return
			}
			then()
		})
	}()
}

// fail parks one peer in Failed. Other peers are untouched.
func (n *negotiator) fail(e *PeerEntry, op string, err error) {
	nerr := &core.NegotiationError{Peer: e.ID, Op: op, Err: err}
	n.metrics.Inc(metrics.NegotiationFailures)
	n.logger.Error().Err(nerr).Str("peer", string(e.ID)).Stringer("state", e.state).Msg("negotiation failure")
	e.setState(domain.NegotiationFailed)
}

func (n *negotiator) attachTracks(e *PeerEntry) error {
	if e.tracksAttached {
		return nil
	}
	for _, t := range n.tracks() {
		if err := e.Conn.AddTrack(t); err != nil {
			return err
		}
	}
	e.tracksAttached = true
	return nil
}

// offerTo runs the sender path toward one peer.
func (n *negotiator) offerTo(peer domain.PeerID) {
	self := n.self()
	if peer == "" || peer == self {
		return
	}
	if !n.offers.Mark(peer) {
		if n.offers.Full() && !n.offers.Has(peer) {
			n.logger.Warn().Str("peer", string(peer)).Msg("peer limit reached, not offering")
		} else {
			n.logger.Debug().Str("peer", string(peer)).Msg("offer already sent")
		}
		return
	}
	e, err := n.entry(peer)
	if err != nil {
		return
	}
	if e.state != domain.NegotiationIdle {
		n.logger.Debug().Str("peer", string(peer)).Stringer("state", e.state).Msg("peer already negotiating")
		return
	}
	if err := n.attachTracks(e); err != nil {
		n.fail(e, "attach tracks", err)
		return
	}

	var offer webrtc.SessionDescription
	n.await(e, "create offer", func(ctx context.Context) (err error) {
		offer, err = e.Conn.CreateOffer(ctx)
		return err
	}, func() {
		n.await(e, "set local description", func(ctx context.Context) error {
			return e.Conn.SetLocalDescription(ctx, offer)
		}, func() {
			if err := n.sendSDP(core.MsgOffer, e.ID, offer.SDP); err != nil {
				n.fail(e, "send offer", err)
				return
			}
			n.metrics.Inc(metrics.OffersSent)
			e.setState(domain.NegotiationOfferSent)
			n.markLocalSent(e)
		})
	})
}

// acceptOffer runs the receiver path for an inbound offer.
func (n *negotiator) acceptOffer(msg core.Message) {
	p, ok := msg.Payload.(*core.SDPPayload)
	if !ok || !n.addressed(msg) {
		return
	}
	peer := msg.Sender()
	if peer == "" || peer == n.self() {
		return
	}
	e, err := n.entry(peer)
	if err != nil {
		return
	}
	if e.state != domain.NegotiationIdle {
		// The broadcaster is authoritative; an offer crossing ours loses.
		n.logger.Warn().Str("peer", string(peer)).Stringer("state", e.state).Msg("ignoring offer for busy peer")
		return
	}
	e.setState(domain.NegotiationOfferReceived)
	if err := n.attachTracks(e); err != nil {
		n.fail(e, "attach tracks", err)
		return
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}
	var answer webrtc.SessionDescription
	n.await(e, "set remote description", func(ctx context.Context) error {
		return e.Conn.SetRemoteDescription(ctx, offer)
	}, func() {
		n.markRemoteSet(e)
		n.await(e, "create answer", func(ctx context.Context) (err error) {
			answer, err = e.Conn.CreateAnswer(ctx)
			return err
		}, func() {
			n.await(e, "set local description", func(ctx context.Context) error {
				return e.Conn.SetLocalDescription(ctx, answer)
			}, func() {
				if err := n.sendSDP(core.MsgAnswer, e.ID, answer.SDP); err != nil {
					n.fail(e, "send answer", err)
					return
				}
				n.metrics.Inc(metrics.AnswersSent)
				e.setState(domain.NegotiationAnswerSent)
				n.markLocalSent(e)
			})
		})
	})
}

// acceptAnswer applies the answer to an offer we sent.
func (n *negotiator) acceptAnswer(msg core.Message) {
	p, ok := msg.Payload.(*core.SDPPayload)
	if !ok || !n.addressed(msg) {
		return
	}
	e, ok := n.reg.Get(msg.Sender())
	if !ok {
		n.logger.Debug().Str("peer", string(msg.Sender())).Msg("answer for unknown peer")
		return
	}
	if e.state != domain.NegotiationOfferSent {
		n.logger.Warn().Str("peer", string(e.ID)).Stringer("state", e.state).Msg("unexpected answer")
		return
	}
	n.applyAnswer(e, p.SDP)
}

func (n *negotiator) applyAnswer(e *PeerEntry, sdp string) {
	e.setState(domain.NegotiationAnswerReceived)
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	n.await(e, "set remote description", func(ctx context.Context) error {
		return e.Conn.SetRemoteDescription(ctx, answer)
	}, func() {
		n.metrics.Inc(metrics.AnswersApplied)
		n.markRemoteSet(e)
	})
}

// acceptCandidate applies or buffers an inbound candidate.
func (n *negotiator) acceptCandidate(msg core.Message) {
	p, ok := msg.Payload.(*core.CandidatePayload)
	if !ok {
		return
	}
	sender := msg.Sender()
	if sender == n.self() {
		n.logger.Debug().Msg("ignoring own candidate")
		return
	}
	if !n.addressed(msg) {
		return
	}
	e, ok := n.reg.Get(sender)
	if !ok {
		n.logger.Debug().Str("peer", string(sender)).Msg("candidate for unknown peer")
		return
	}
	if e.state == domain.NegotiationFailed || e.state == domain.NegotiationClosed {
		return
	}
	cand := webrtc.ICECandidateInit{
		Candidate:     p.Candidate,
		SDPMid:        p.SDPMid,
		SDPMLineIndex: p.SDPMLineIndex,
	}
	if !e.remoteSet {
		e.pending = append(e.pending, cand)
		n.metrics.Inc(metrics.CandidatesBuffered)
		return
	}
	n.applyCandidates(e, []webrtc.ICECandidateInit{cand})
}

// markRemoteSet flushes every buffered candidate exactly once.
func (n *negotiator) markRemoteSet(e *PeerEntry) {
	e.remoteSet = true
	if pending := e.takePending(); len(pending) > 0 {
		n.applyCandidates(e, pending)
	}
}

// applyCandidates adds candidates in order. Rejections are logged and leave
// the connection open.
func (n *negotiator) applyCandidates(e *PeerEntry, cands []webrtc.ICECandidateInit) {
	ctx := e.ctx
	go func() {
		errs := make([]error, len(cands))
		for i, c := range cands {
			errs[i] = e.Conn.AddICECandidate(ctx, c)
		}
		n.post(func() {
			if !n.reg.Holds(e) {
				n.metrics.Inc(metrics.DiscardedResults)
				return
			}
			for _, err := range errs {
				if err != nil {
					n.metrics.Inc(metrics.CandidatesRejected)
					n.logger.Warn().Err(errors.Join(core.ErrCandidateRejected, err)).Str("peer", string(e.ID)).Msg("candidate rejected")
					continue
				}
				n.metrics.Inc(metrics.CandidatesApplied)
			}
		})
	}()
}

func (n *negotiator) markLocalSent(e *PeerEntry) {
	e.localSent = true
	for _, c := range e.takeOutbound() {
		n.sendCandidate(e, c)
	}
}

func (n *negotiator) onLocalCandidate(e *PeerEntry, c webrtc.ICECandidateInit) {
	if !n.trickle || !n.reg.Holds(e) {
		return
	}
	if !e.localSent {
		e.outbound = append(e.outbound, c)
		return
	}
	n.sendCandidate(e, c)
}

func (n *negotiator) sendCandidate(e *PeerEntry, c webrtc.ICECandidateInit) {
	self := n.self()
	err := n.send(core.Message{
		Type:       core.MsgCandidate,
		SenderID:   self,
		ReceiverID: e.ID,
		Payload: &core.CandidatePayload{
			SDPMid:        c.SDPMid,
			SDPMLineIndex: c.SDPMLineIndex,
			Candidate:     c.Candidate,
			Sender:        self,
		},
	})
	if err == nil {
		n.metrics.Inc(metrics.CandidatesSent)
	}
}

func (n *negotiator) onTransportState(e *PeerEntry, s webrtc.PeerConnectionState) {
	if !n.reg.Holds(e) {
		return
	}
	n.logger.Info().Str("peer", string(e.ID)).Str("peer_connection_state", s.String()).Msg("transport state")
	switch s {
	case webrtc.PeerConnectionStateConnected:
		e.setState(domain.NegotiationConnected)
	case webrtc.PeerConnectionStateFailed:
		if !e.state.Terminal() {
			n.fail(e, "transport", errors.New("peer connection failed"))
		}
	}
}

func (n *negotiator) sendSDP(t core.MessageType, to domain.PeerID, sdp string) error {
	self := n.self()
	return n.send(core.Message{
		Type:       t,
		SenderID:   self,
		ReceiverID: to,
		Payload:    &core.SDPPayload{SDP: sdp, Sender: self, Receiver: to},
	})
}

// addressed drops directed messages meant for another endpoint.
func (n *negotiator) addressed(msg core.Message) bool {
	if msg.AddressedTo(n.self()) {
		return true
	}
	n.metrics.Inc(metrics.StaleMessages)
	n.logger.Debug().
		Str("type", string(msg.Type)).
		Str("receiver", string(msg.Receiver())).
		Err(core.ErrStaleMessage).
		Msg("ignoring message for another receiver")
	return false
}

// leave tears down one peer and forgets its offer.
func (n *negotiator) leave(peer domain.PeerID) {
	n.reg.Close(peer)
	n.offers.Forget(peer)
}

func (n *negotiator) shutdown() {
	n.reg.CloseAll()
	n.offers.Reset()
}
