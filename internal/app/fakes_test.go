package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Broadcast/internal/core"
	"github.com/dkeye/Broadcast/internal/domain"
	"github.com/dkeye/Broadcast/internal/metrics"
	"github.com/pion/webrtc/v4"
)

type fakeChannel struct {
	mu         sync.Mutex
	online     bool
	closed     bool
	connectErr error
	sent       []core.Message
	events     chan core.ChannelEvent
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan core.ChannelEvent, 64)}
}

func (c *fakeChannel) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return c.connectErr
	}
	c.online = true
	return nil
}

func (c *fakeChannel) Send(msg core.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.online {
		return core.ErrChannelUnavailable
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) Events() <-chan core.ChannelEvent { return c.events }

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.online = false
	return nil
}

func (c *fakeChannel) setOnline(v bool) {
	c.mu.Lock()
	c.online = v
	c.mu.Unlock()
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) sentOf(t core.MessageType) []core.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []core.Message
	for _, m := range c.sent {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeChannel) sentTypes() []core.MessageType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.MessageType, 0, len(c.sent))
	for _, m := range c.sent {
		out = append(out, m.Type)
	}
	return out
}

type fakePeer struct {
	id domain.PeerID

	mu         sync.Mutex
	calls      []string
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	tracks     []webrtc.TrackLocal
	closed     bool
	onICE      func(webrtc.ICECandidateInit)
	onState    func(webrtc.PeerConnectionState)

	// offerGate blocks CreateOffer until closed or the step is canceled.
	offerGate       chan struct{}
	offerErr        error
	candidateErr    error
	connectOnRemote bool
	// localCandidate is emitted from inside SetLocalDescription.
	localCandidate string
}

func (p *fakePeer) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *fakePeer) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	p.record("create-offer")
	if p.offerGate != nil {
		select {
		case <-p.offerGate:
		case <-ctx.Done():
			return webrtc.SessionDescription{}, ctx.Err()
		}
	}
	if p.offerErr != nil {
		return webrtc.SessionDescription{}, p.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-" + string(p.id)}, nil
}

func (p *fakePeer) CreateAnswer(context.Context) (webrtc.SessionDescription, error) {
	p.record("create-answer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-" + string(p.id)}, nil
}

func (p *fakePeer) SetLocalDescription(_ context.Context, desc webrtc.SessionDescription) error {
	p.record("set-local")
	p.mu.Lock()
	p.local = &desc
	onICE, cand := p.onICE, p.localCandidate
	p.mu.Unlock()
	if onICE != nil && cand != "" {
		onICE(webrtc.ICECandidateInit{Candidate: cand})
	}
	return nil
}

func (p *fakePeer) SetRemoteDescription(_ context.Context, desc webrtc.SessionDescription) error {
	p.record("set-remote")
	p.mu.Lock()
	p.remote = &desc
	onState, connect := p.onState, p.connectOnRemote
	p.mu.Unlock()
	if connect && onState != nil {
		onState(webrtc.PeerConnectionStateConnected)
	}
	return nil
}

func (p *fakePeer) AddICECandidate(_ context.Context, cand webrtc.ICECandidateInit) error {
	p.record("add-candidate")
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errors.New("remote description not set")
	}
	if p.candidateErr != nil {
		return p.candidateErr
	}
	p.candidates = append(p.candidates, cand)
	return nil
}

func (p *fakePeer) GatheredLocalDescription(context.Context) (webrtc.SessionDescription, error) {
	p.record("gathered")
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.local == nil {
		return webrtc.SessionDescription{}, errors.New("no local description")
	}
	return webrtc.SessionDescription{Type: p.local.Type, SDP: p.local.SDP + "+candidates"}, nil
}

func (p *fakePeer) AddTrack(track webrtc.TrackLocal) error {
	p.mu.Lock()
	p.tracks = append(p.tracks, track)
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onICE = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) called(call string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (p *fakePeer) appliedCandidates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.candidates)
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeFactory struct {
	mu        sync.Mutex
	peers     map[domain.PeerID][]*fakePeer
	configure func(*fakePeer)
	failFor   map[domain.PeerID]bool
}

func newFakeFactory(configure func(*fakePeer)) *fakeFactory {
	return &fakeFactory{
		peers:     make(map[domain.PeerID][]*fakePeer),
		configure: configure,
		failFor:   make(map[domain.PeerID]bool),
	}
}

func (f *fakeFactory) NewPeer(id domain.PeerID) (core.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[id] {
		return nil, errors.New("factory refused")
	}
	p := &fakePeer{id: id}
	if f.configure != nil {
		f.configure(p)
	}
	f.peers[id] = append(f.peers[id], p)
	return p, nil
}

// last returns the most recent connection built for id.
func (f *fakeFactory) last(id domain.PeerID) *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	ps := f.peers[id]
	if len(ps) == 0 {
		return nil
	}
	return ps[len(ps)-1]
}

func (f *fakeFactory) built(id domain.PeerID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers[id])
}

type fakePublisher struct {
	mu   sync.Mutex
	reqs []core.PublishRequest
	err  error
	// gate, when set, holds every publish until closed.
	gate chan struct{}
}

func (p *fakePublisher) Publish(ctx context.Context, req core.PublishRequest) (core.PublishResponse, error) {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	gate, err := p.gate, p.err
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return core.PublishResponse{}, ctx.Err()
		}
	}
	if err != nil {
		return core.PublishResponse{}, err
	}
	return core.PublishResponse{AnswerSDP: "relay-answer", SessionID: "sess-1"}, nil
}

func (p *fakePublisher) requests() []core.PublishRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]core.PublishRequest(nil), p.reqs...)
}

type harness struct {
	t      *testing.T
	ch     *fakeChannel
	peers  *fakeFactory
	pub    *fakePublisher
	m      *metrics.Metrics
	s      *RoomSession
	cancel context.CancelFunc
	runErr chan error
}

const selfID = domain.PeerID("A")

func newHarness(t *testing.T, mode domain.TransportMode, configure func(*fakePeer)) *harness {
	t.Helper()
	audio, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "broadcast")
	if err != nil {
		t.Fatalf("new track: %v", err)
	}
	h := &harness{
		t:      t,
		ch:     newFakeChannel(),
		peers:  newFakeFactory(configure),
		pub:    &fakePublisher{},
		m:      metrics.New(),
		runErr: make(chan error, 1),
	}
	s, err := NewRoomSession(Options{
		Room: domain.Room{ID: "room1", Name: "demo"},
		User: domain.User{ID: "u1", Username: "host"},
		Mode: mode,
		Relay: RelayOptions{
			Endpoint:   "http://relay/rtc/v1/publish/",
			StreamBase: "webrtc://relay/live/livestream",
			FlvBase:    "http://relay/live/livestream",
		},
		Tracks:   []webrtc.TrackLocal{audio},
		EndGrace: 10 * time.Millisecond,
	}, Deps{
		Channel:   h.ch,
		Peers:     h.peers,
		Publisher: h.pub,
		Metrics:   h.m,
	})
	if err != nil {
		t.Fatalf("NewRoomSession: %v", err)
	}
	h.s = s

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.runErr <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.runErr:
		case <-time.After(2 * time.Second):
			t.Errorf("session did not stop")
		}
	})
	return h
}

func (h *harness) emit(ev core.ChannelEvent) { h.ch.events <- ev }

func (h *harness) deliver(msg core.Message) {
	h.emit(core.ChannelEvent{Kind: core.ChannelMessage, Message: msg})
}

func (h *harness) connect() {
	h.emit(core.ChannelEvent{Kind: core.ChannelConnected, SelfID: selfID})
}

// goLive walks the session to Live with the given peers already in the room.
func (h *harness) goLive(existing ...domain.PeerID) {
	h.t.Helper()
	h.connect()
	eventually(h.t, "join sent", func() bool { return len(h.ch.sentOf(core.MsgJoin)) == 1 })
	h.deliver(core.Message{Type: core.MsgJoined, ReceiverID: selfID, Payload: &core.JoinedPayload{RoomID: "room1", Participants: existing}})
	eventually(h.t, "live", func() bool { return h.snapshot().State == domain.SessionLive })
}

func (h *harness) joined(peer domain.PeerID) {
	h.deliver(core.Message{Type: core.MsgParticipantJoined, Payload: &core.ParticipantPayload{PeerID: peer}})
}

func (h *harness) left(peer domain.PeerID) {
	h.deliver(core.Message{Type: core.MsgParticipantLeft, Payload: &core.ParticipantPayload{PeerID: peer}})
}

func (h *harness) answer(from, to domain.PeerID) {
	h.deliver(core.Message{
		Type:       core.MsgAnswer,
		SenderID:   from,
		ReceiverID: to,
		Payload:    &core.SDPPayload{SDP: "answer-from-" + string(from), Sender: from, Receiver: to},
	})
}

func (h *harness) candidate(from domain.PeerID, cand string) {
	h.deliver(core.Message{
		Type:       core.MsgCandidate,
		SenderID:   from,
		ReceiverID: selfID,
		Payload:    &core.CandidatePayload{Candidate: cand, Sender: from},
	})
}

func (h *harness) snapshot() Snapshot {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	snap, err := h.s.Snapshot(ctx)
	if err != nil {
		h.t.Fatalf("Snapshot: %v", err)
	}
	return snap
}

func (h *harness) peerState(id domain.PeerID) (domain.NegotiationState, bool) {
	for _, p := range h.snapshot().Peers {
		if p.ID == id {
			return p.State, true
		}
	}
	return 0, false
}

// settle waits until every event queued so far has been handled.
func (h *harness) settle() {
	h.t.Helper()
	deadline := time.Now().Add(time.Second)
	for len(h.ch.events) > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	h.snapshot()
	time.Sleep(20 * time.Millisecond)
	h.snapshot()
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func offersTo(msgs []core.Message) map[domain.PeerID]int {
	out := make(map[domain.PeerID]int)
	for _, m := range msgs {
		out[m.ReceiverID]++
	}
	return out
}
