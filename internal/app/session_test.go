package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Broadcast/internal/core"
	"github.com/dkeye/Broadcast/internal/domain"
	"github.com/dkeye/Broadcast/internal/metrics"
	"github.com/pion/webrtc/v4"
)

func TestNewRoomSessionValidatesDeps(t *testing.T) {
	if _, err := NewRoomSession(Options{}, Deps{Peers: newFakeFactory(nil)}); err == nil {
		t.Fatalf("missing channel accepted")
	}
	if _, err := NewRoomSession(Options{}, Deps{Channel: newFakeChannel()}); err == nil {
		t.Fatalf("missing factory accepted")
	}
	_, err := NewRoomSession(Options{Mode: domain.TransportRelay}, Deps{Channel: newFakeChannel(), Peers: newFakeFactory(nil)})
	if err == nil {
		t.Fatalf("relay mode without publisher accepted")
	}

	s, err := NewRoomSession(Options{}, Deps{Channel: newFakeChannel(), Peers: newFakeFactory(nil)})
	if err != nil {
		t.Fatalf("NewRoomSession: %v", err)
	}
	if s.Room().ID == "" {
		t.Fatalf("room id not generated")
	}
	if s.Mode() != domain.TransportMesh {
		t.Fatalf("mode=%s, want mesh", s.Mode())
	}
}

func TestMeshJoinWaitsForConnected(t *testing.T) {
	h := newHarness(t, domain.TransportMesh, nil)
	h.settle()
	if n := len(h.ch.sentOf(core.MsgJoin)); n != 0 {
		t.Fatalf("join sent before connected ack")
	}
	if s := h.snapshot().State; s != domain.SessionJoining {
		t.Fatalf("state=%s, want joining", s)
	}

	h.connect()
	eventually(t, "join sent", func() bool { return len(h.ch.sentOf(core.MsgJoin)) == 1 })
	msg := h.ch.sentOf(core.MsgJoin)[0]
	p := msg.Payload.(*core.JoinPayload)
	if msg.SenderID != selfID || p.RoomID != "room1" || p.RoomName != "demo" {
		t.Fatalf("join=%+v payload=%+v", msg, p)
	}
	if !p.TrackFlags.Audio || p.TrackFlags.Video {
		t.Fatalf("track flags=%+v, want audio only", p.TrackFlags)
	}
	if p.RelayInfo != nil {
		t.Fatalf("mesh join carries relay info")
	}
	if p.UserInfo.Username != "host" {
		t.Fatalf("user=%+v", p.UserInfo)
	}
}

func TestAttachTracksBeforeLive(t *testing.T) {
	h := newHarness(t, domain.TransportMesh, nil)
	video, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "broadcast")
	if err != nil {
		t.Fatalf("new track: %v", err)
	}
	ctx := context.Background()
	if err := h.s.AttachTracks(ctx, video); err != nil {
		t.Fatalf("AttachTracks: %v", err)
	}

	h.goLive("B")
	waitState(t, h, "B", domain.NegotiationOfferSent)

	p := h.ch.sentOf(core.MsgJoin)[0].Payload.(*core.JoinPayload)
	if !p.TrackFlags.Audio || !p.TrackFlags.Video {
		t.Fatalf("track flags=%+v, want audio and video", p.TrackFlags)
	}
	peer := h.peers.last("B")
	peer.mu.Lock()
	attached := len(peer.tracks)
	peer.mu.Unlock()
	if attached != 2 {
		t.Fatalf("tracks attached=%d, want 2", attached)
	}
	if err := h.s.AttachTracks(ctx, video); !errors.Is(err, ErrAlreadyLive) {
		t.Fatalf("AttachTracks after live err=%v, want ErrAlreadyLive", err)
	}
}

func TestEndWithNegotiationsInFlight(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, domain.TransportMesh, func(p *fakePeer) { p.offerGate = gate })
	h.goLive("B", "C")
	eventually(t, "offers started", func() bool {
		b, c := h.peers.last("B"), h.peers.last("C")
		return b != nil && c != nil && b.called("create-offer") == 1 && c.called("create-offer") == 1
	})
	b, c := h.peers.last("B"), h.peers.last("C")

	h.s.End()
	select {
	case <-h.s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not end")
	}
	h.s.End()
	close(gate)

	if n := h.s.registry.Len(); n != 0 {
		t.Fatalf("registry len=%d, want 0", n)
	}
	if n := h.s.offers.Len(); n != 0 {
		t.Fatalf("offer tracker len=%d, want 0", n)
	}
	if !b.isClosed() || !c.isClosed() {
		t.Fatalf("connections left open")
	}
	if n := len(h.ch.sentOf(core.MsgRoomEnded)); n != 1 {
		t.Fatalf("roomEnded sent=%d, want 1", n)
	}
	eventually(t, "channel closed", h.ch.isClosed)
	h.answer("B", selfID)
	h.answer("C", selfID)
	time.Sleep(20 * time.Millisecond)

	if n := len(h.ch.sentOf(core.MsgOffer)); n != 0 {
		t.Fatalf("offers after end=%d, want 0", n)
	}
	if b.called("set-local") != 0 || c.called("set-local") != 0 {
		t.Fatalf("negotiation resumed after end")
	}
	if b.called("set-remote") != 0 || c.called("set-remote") != 0 {
		t.Fatalf("late answers applied after end")
	}
	snap := h.snapshot()
	if snap.State != domain.SessionEnded || len(snap.Peers) != 0 || len(snap.Tracks) != 0 {
		t.Fatalf("final snapshot=%+v", snap)
	}
}

func TestRoomEndedFromServerEndsSession(t *testing.T) {
	h := newHarness(t, domain.TransportMesh, nil)
	h.goLive("B")
	waitState(t, h, "B", domain.NegotiationOfferSent)

	h.deliver(core.Message{Type: core.MsgRoomEnded, Payload: &core.RoomEndedPayload{RoomID: "room1"}})
	select {
	case <-h.s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not end")
	}
	if err := h.s.SendChat(context.Background(), "late"); !errors.Is(err, core.ErrSessionEnded) {
		t.Fatalf("SendChat after end err=%v, want ErrSessionEnded", err)
	}
}

func TestChannelCloseEndsSession(t *testing.T) {
	h := newHarness(t, domain.TransportMesh, nil)
	h.goLive()
	close(h.ch.events)

	select {
	case <-h.s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not end")
	}
}

func TestContextCancelEndsSession(t *testing.T) {
	h := newHarness(t, domain.TransportMesh, nil)
	h.goLive()
	h.cancel()

	select {
	case err := <-h.runErr:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return")
	}
	h.runErr <- nil
	if !h.ch.isClosed() {
		t.Fatalf("channel not closed")
	}
	if n := len(h.ch.sentOf(core.MsgRoomEnded)); n != 1 {
		t.Fatalf("roomEnded sent=%d, want 1", n)
	}
}

func TestConnectFailure(t *testing.T) {
	ch := newFakeChannel()
	ch.connectErr = core.ErrChannelUnavailable
	s, err := NewRoomSession(Options{Room: domain.Room{ID: "room1"}}, Deps{Channel: ch, Peers: newFakeFactory(nil)})
	if err != nil {
		t.Fatalf("NewRoomSession: %v", err)
	}
	if err := s.Run(context.Background()); !errors.Is(err, core.ErrChannelUnavailable) {
		t.Fatalf("Run err=%v, want ErrChannelUnavailable", err)
	}
	snap, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.State != domain.SessionEnded {
		t.Fatalf("state=%s, want ended", snap.State)
	}
}

func TestChatHistory(t *testing.T) {
	h := newHarness(t, domain.TransportMesh, nil)
	h.goLive()

	if err := h.s.SendChat(context.Background(), "hello"); err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	h.deliver(core.Message{Type: core.MsgChat, SenderID: "B", Payload: &core.ChatPayload{Sender: "B", Text: "hi"}})
	eventually(t, "inbound chat", func() bool { return len(h.snapshot().Chat) == 2 })

	sent := h.ch.sentOf(core.MsgChat)
	if len(sent) != 1 || sent[0].Payload.(*core.ChatPayload).Text != "hello" {
		t.Fatalf("sent chat=%+v", sent)
	}
	chat := h.snapshot().Chat
	if chat[0].Sender != selfID || chat[1].Sender != "B" || chat[1].Text != "hi" {
		t.Fatalf("chat=%+v", chat)
	}
}

func TestChatHistoryIsBounded(t *testing.T) {
	s := &RoomSession{opts: Options{ChatLimit: 2}}
	s.appendChat("B", "one")
	s.appendChat("B", "two")
	s.appendChat("B", "three")
	if len(s.chat) != 2 || s.chat[0].Text != "two" || s.chat[1].Text != "three" {
		t.Fatalf("chat=%+v", s.chat)
	}
}

func TestServerLeaveRequestAcknowledged(t *testing.T) {
	h := newHarness(t, domain.TransportMesh, nil)
	h.goLive()

	h.deliver(core.Message{Type: core.MsgLeave, Payload: &core.LeavePayload{}})
	eventually(t, "leave ack", func() bool { return len(h.ch.sentOf(core.MsgLeave)) == 1 })
	p := h.ch.sentOf(core.MsgLeave)[0].Payload.(*core.LeavePayload)
	if p.RoomID != "room1" {
		t.Fatalf("leave room=%q, want room1", p.RoomID)
	}
}

func TestSendWhileDisconnectedIsDropped(t *testing.T) {
	h := newHarness(t, domain.TransportMesh, nil)
	h.goLive()

	h.ch.setOnline(false)
	h.emit(core.ChannelEvent{Kind: core.ChannelDisconnected, Err: errors.New("read: connection reset")})
	eventually(t, "offline", func() bool { return !h.snapshot().Online })

	err := h.s.SendChat(context.Background(), "anyone?")
	if !errors.Is(err, core.ErrChannelUnavailable) {
		t.Fatalf("SendChat err=%v, want ErrChannelUnavailable", err)
	}
	if n := h.m.Get(metrics.SendsDropped); n != 1 {
		t.Fatalf("dropped=%d, want 1", n)
	}
	if n := len(h.snapshot().Chat); n != 0 {
		t.Fatalf("chat recorded for dropped send")
	}
}

func TestUnknownSignalIgnored(t *testing.T) {
	h := newHarness(t, domain.TransportMesh, nil)
	h.goLive()
	h.deliver(core.Message{Type: "mystery"})
	h.settle()
	if s := h.snapshot().State; s != domain.SessionLive {
		t.Fatalf("state=%s, want live", s)
	}
}
