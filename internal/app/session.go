package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dkeye/Broadcast/internal/core"
	"github.com/dkeye/Broadcast/internal/domain"
	"github.com/dkeye/Broadcast/internal/metrics"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultEndGrace    = 500 * time.Millisecond
	DefaultChatHistory = 100
	DefaultMaxPeers    = 64

	queueSize       = 256
	presenceTimeout = 3 * time.Second
)

var ErrAlreadyLive = errors.New("session already live")

type Options struct {
	Room      domain.Room
	User      domain.User
	Mode      domain.TransportMode
	Relay     RelayOptions
	Tracks    []webrtc.TrackLocal
	EndGrace  time.Duration
	ChatLimit int
	MaxPeers  int
}

type Deps struct {
	Channel   core.SignalChannel
	Peers     core.PeerFactory
	Publisher core.Publisher
	Presence  core.Presence
	Metrics   *metrics.Metrics
}

// RoomSession drives one broadcast from join to end. A single loop goroutine
// owns all mutable state; public methods hand work to it through the queue.
type RoomSession struct {
	opts     Options
	channel  core.SignalChannel
	presence core.Presence
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	registry *Registry
	offers   *OfferTracker
	neg      *negotiator
	strategy Strategy

	queue chan func()
	done  chan struct{}
	final atomic.Pointer[Snapshot]

	// loop-owned
	state    domain.SessionState
	self     domain.PeerID
	online   bool
	joinSent bool
	roster   []domain.Participant
	joinSeq  int
	tracks   []webrtc.TrackLocal
	chat     []ChatEntry
}

func NewRoomSession(opts Options, deps Deps) (*RoomSession, error) {
	if deps.Channel == nil {
		return nil, errors.New("signal channel required")
	}
	if deps.Peers == nil {
		return nil, errors.New("peer factory required")
	}
	if opts.Mode == domain.TransportRelay && deps.Publisher == nil {
		return nil, errors.New("relay mode requires a publisher")
	}
	if opts.Room.ID == "" {
		opts.Room.ID = domain.NewRoomID()
	}
	if opts.EndGrace <= 0 {
		opts.EndGrace = DefaultEndGrace
	}
	if opts.ChatLimit <= 0 {
		opts.ChatLimit = DefaultChatHistory
	}
	if opts.MaxPeers <= 0 {
		opts.MaxPeers = DefaultMaxPeers
	}

	logger := log.With().
		Str("module", "app.session").
		Str("room", string(opts.Room.ID)).
		Stringer("transport", opts.Mode).
		Logger()

	s := &RoomSession{
		opts:     opts,
		channel:  deps.Channel,
		presence: deps.Presence,
		metrics:  deps.Metrics,
		logger:   logger,
		registry: NewRegistry(opts.Room.ID),
		offers:   NewOfferTracker(opts.MaxPeers),
		queue:    make(chan func(), queueSize),
		done:     make(chan struct{}),
		tracks:   append([]webrtc.TrackLocal(nil), opts.Tracks...),
	}
	s.neg = &negotiator{
		ctx:     context.Background(),
		room:    opts.Room.ID,
		reg:     s.registry,
		offers:  s.offers,
		factory: deps.Peers,
		metrics: deps.Metrics,
		logger:  logger,
		self:    func() domain.PeerID { return s.self },
		tracks:  func() []webrtc.TrackLocal { return s.tracks },
		send:    s.send,
		post:    s.post,
	}
	s.strategy = newStrategy(opts.Mode, s.neg, opts.Relay, deps.Publisher)
	return s, nil
}

func (s *RoomSession) Room() domain.Room { return s.opts.Room }

func (s *RoomSession) Mode() domain.TransportMode { return s.strategy.Mode() }

// Done is closed once the session has ended and stopped processing events.
func (s *RoomSession) Done() <-chan struct{} { return s.done }

// Run connects signaling and processes events until the session ends or ctx
// is canceled. Either way the room is ended gracefully before Run returns.
func (s *RoomSession) Run(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.neg.ctx = loopCtx

	s.setState(domain.SessionJoining)
	if err := s.channel.Connect(ctx); err != nil {
		s.state = domain.SessionEnded
		final := s.snapshot()
		s.final.Store(&final)
		close(s.done)
		return fmt.Errorf("connect signaling: %w", err)
	}
	// Relay joins do not depend on any roster event, so announce right away.
	if s.strategy.Mode() == domain.TransportRelay {
		s.sendJoin()
	}

	events := s.channel.Events()
	for s.state != domain.SessionEnded {
		select {
		case <-ctx.Done():
			s.end("context canceled")
		case ev, ok := <-events:
			if !ok {
				events = nil
				s.end("signaling channel closed")
				continue
			}
			s.handleEvent(ev)
		case fn := <-s.queue:
			fn()
		}
	}
	close(s.done)

	// Let the terminal notice flush before tearing the link down.
	t := time.NewTimer(s.opts.EndGrace)
	<-t.C
	if err := s.channel.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("signaling close")
	}
	s.logger.Info().Msg("session stopped")
	return nil
}

// post enqueues fn on the loop. Work posted after the session ended is dropped.
func (s *RoomSession) post(fn func()) {
	select {
	case s.queue <- fn:
	case <-s.done:
	}
}

// call runs fn on the loop and waits for it to finish.
func (s *RoomSession) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case s.queue <- func() { fn(); close(finished) }:
	case <-s.done:
		return core.ErrSessionEnded
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		// fn may have been the call that ended the session.
		select {
		case <-finished:
			return nil
		default:
			return core.ErrSessionEnded
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// End finishes the broadcast. Calling it again, or after the session ended,
// is a no-op.
func (s *RoomSession) End() {
	s.post(func() { s.end("ended by operator") })
}

// SendChat posts a chat line to the room.
func (s *RoomSession) SendChat(ctx context.Context, text string) error {
	var sendErr error
	err := s.call(ctx, func() {
		if s.state == domain.SessionEnded {
			sendErr = core.ErrSessionEnded
			return
		}
		sendErr = s.send(core.Message{
			Type:     core.MsgChat,
			SenderID: s.self,
			Payload:  &core.ChatPayload{Sender: s.self, Text: text},
		})
		if sendErr == nil {
			s.appendChat(s.self, text)
		}
	})
	if err != nil {
		return err
	}
	return sendErr
}

// AttachTracks adds local tracks before the session goes live.
func (s *RoomSession) AttachTracks(ctx context.Context, tracks ...webrtc.TrackLocal) error {
	var attachErr error
	err := s.call(ctx, func() {
		if s.state >= domain.SessionLive {
			attachErr = ErrAlreadyLive
			return
		}
		s.tracks = append(s.tracks, tracks...)
	})
	if err != nil {
		return err
	}
	return attachErr
}

func (s *RoomSession) setState(next domain.SessionState) {
	if next <= s.state {
		return
	}
	s.logger.Info().Stringer("from", s.state).Stringer("to", next).Msg("session state")
	s.state = next
}

func (s *RoomSession) handleEvent(ev core.ChannelEvent) {
	switch ev.Kind {
	case core.ChannelConnected:
		s.online = true
		if s.self != "" && s.self != ev.SelfID {
			s.logger.Warn().Str("old", string(s.self)).Str("new", string(ev.SelfID)).Msg("peer id changed")
		}
		s.self = ev.SelfID
		s.logger.Info().Str("self", string(s.self)).Msg("signaling connected")
		// Mesh waits for this acknowledgment so roster events can be trusted.
		if s.state == domain.SessionJoining && !s.joinSent {
			s.sendJoin()
		}
	case core.ChannelDisconnected:
		s.online = false
		s.logger.Warn().Err(ev.Err).Msg("signaling disconnected")
	case core.ChannelMessage:
		s.dispatch(ev.Message)
	}
}

func (s *RoomSession) dispatch(msg core.Message) {
	switch msg.Type {
	case core.MsgJoined:
		s.onJoined(msg)
	case core.MsgParticipantJoined:
		if p, ok := msg.Payload.(*core.ParticipantPayload); ok {
			s.onParticipantJoined(participantID(msg, p))
		}
	case core.MsgParticipantLeft:
		if p, ok := msg.Payload.(*core.ParticipantPayload); ok {
			s.onParticipantLeft(participantID(msg, p))
		}
	case core.MsgOffer:
		s.strategy.OnOffer(msg)
	case core.MsgAnswer:
		s.strategy.OnAnswer(msg)
	case core.MsgCandidate:
		s.strategy.OnCandidate(msg)
	case core.MsgLeave:
		// The server asks us to leave; acknowledge with our room.
		_ = s.send(core.Message{
			Type:     core.MsgLeave,
			SenderID: s.self,
			Payload:  &core.LeavePayload{RoomID: s.opts.Room.ID},
		})
	case core.MsgRoomEnded:
		s.end("room ended by server")
	case core.MsgChat:
		if p, ok := msg.Payload.(*core.ChatPayload); ok {
			s.appendChat(msg.Sender(), p.Text)
		}
	case core.MsgConnected:
	default:
		s.logger.Warn().Str("type", string(msg.Type)).Msg("unknown signal")
	}
}

func participantID(msg core.Message, p *core.ParticipantPayload) domain.PeerID {
	if p.PeerID != "" {
		return p.PeerID
	}
	return msg.Sender()
}

func (s *RoomSession) sendJoin() {
	var flags domain.TrackFlags
	for _, t := range s.tracks {
		switch t.Kind() {
		case webrtc.RTPCodecTypeAudio:
			flags.Audio = true
		case webrtc.RTPCodecTypeVideo:
			flags.Video = true
		}
	}
	payload := &core.JoinPayload{
		RoomID:     s.opts.Room.ID,
		RoomName:   s.opts.Room.Name,
		CoverImage: s.opts.Room.CoverImage,
		TrackFlags: flags,
		UserInfo:   s.opts.User,
	}
	if s.strategy.Mode() == domain.TransportRelay {
		payload.RelayInfo = s.opts.Relay.Info(s.opts.Room.ID)
	}
	if err := s.send(core.Message{Type: core.MsgJoin, SenderID: s.self, Payload: payload}); err != nil {
		return
	}
	s.joinSent = true
	s.logger.Info().Str("room_name", string(s.opts.Room.Name)).Msg("join sent")
}

func (s *RoomSession) onJoined(msg core.Message) {
	if s.state != domain.SessionJoining {
		s.logger.Debug().Stringer("state", s.state).Msg("duplicate joined")
		return
	}
	s.setState(domain.SessionJoined)
	s.addToRoster(s.self)
	if p, ok := msg.Payload.(*core.JoinedPayload); ok {
		for _, peer := range p.Participants {
			s.addToRoster(peer)
		}
	}
	s.goLive()
}

func (s *RoomSession) goLive() {
	s.setState(domain.SessionLive)
	s.announce()
	s.strategy.Activate(s.rosterPeers())
}

func (s *RoomSession) onParticipantJoined(peer domain.PeerID) {
	if peer == "" || peer == s.self {
		return
	}
	if !s.addToRoster(peer) {
		return
	}
	s.logger.Info().Str("peer", string(peer)).Msg("participant joined")
	s.presenceDo(func(ctx context.Context, p core.Presence) error {
		return p.ViewerJoined(ctx, s.opts.Room.ID, peer)
	})
	if s.state == domain.SessionLive {
		s.strategy.OnParticipantJoined(peer)
	}
}

func (s *RoomSession) onParticipantLeft(peer domain.PeerID) {
	if peer == "" || peer == s.self {
		return
	}
	s.removeFromRoster(peer)
	s.logger.Info().Str("peer", string(peer)).Msg("participant left")
	s.presenceDo(func(ctx context.Context, p core.Presence) error {
		return p.ViewerLeft(ctx, s.opts.Room.ID, peer)
	})
	s.strategy.OnParticipantLeft(peer)
}

// end tears the room down: connections, tracks, the RoomEnded notice. The
// channel itself is closed by Run after the grace delay.
func (s *RoomSession) end(reason string) {
	if s.state == domain.SessionEnded {
		return
	}
	s.logger.Info().Str("reason", reason).Msg("ending session")
	s.strategy.Shutdown()
	s.tracks = nil
	_ = s.send(core.Message{
		Type:     core.MsgRoomEnded,
		SenderID: s.self,
		Payload:  &core.RoomEndedPayload{RoomID: s.opts.Room.ID},
	})
	s.presenceDo(func(ctx context.Context, p core.Presence) error {
		return p.Withdraw(ctx, s.opts.Room.ID)
	})
	s.setState(domain.SessionEnded)
	final := s.snapshot()
	s.final.Store(&final)
}

func (s *RoomSession) send(msg core.Message) error {
	if err := s.channel.Send(msg); err != nil {
		s.metrics.Inc(metrics.SendsDropped)
		s.logger.Warn().Err(err).Str("type", string(msg.Type)).Bool("online", s.online).Msg("signal dropped")
		return err
	}
	return nil
}

func (s *RoomSession) announce() {
	room := core.LiveRoom{
		ID:          s.opts.Room.ID,
		Name:        s.opts.Room.Name,
		CoverImage:  s.opts.Room.CoverImage,
		Mode:        s.strategy.Mode(),
		Broadcaster: s.opts.User,
	}
	if room.Mode == domain.TransportRelay {
		room.Relay = s.opts.Relay.Info(s.opts.Room.ID)
	}
	s.presenceDo(func(ctx context.Context, p core.Presence) error {
		return p.Announce(ctx, room)
	})
}

// presenceDo runs a directory update off the loop. Failures are logged only.
func (s *RoomSession) presenceDo(fn func(ctx context.Context, p core.Presence) error) {
	if s.presence == nil {
		return
	}
	p := s.presence
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
		defer cancel()
		if err := fn(ctx, p); err != nil {
			s.logger.Warn().Err(err).Msg("presence update failed")
		}
	}()
}

func (s *RoomSession) addToRoster(peer domain.PeerID) bool {
	if peer == "" {
		return false
	}
	for _, p := range s.roster {
		if p.PeerID == peer {
			return false
		}
	}
	s.joinSeq++
	s.roster = append(s.roster, domain.Participant{PeerID: peer, JoinOrder: s.joinSeq})
	return true
}

func (s *RoomSession) removeFromRoster(peer domain.PeerID) {
	out := s.roster[:0]
	for _, p := range s.roster {
		if p.PeerID != peer {
			out = append(out, p)
		}
	}
	s.roster = out
}

func (s *RoomSession) rosterPeers() []domain.PeerID {
	out := make([]domain.PeerID, 0, len(s.roster))
	for _, p := range s.roster {
		out = append(out, p.PeerID)
	}
	return out
}
