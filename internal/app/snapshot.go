package app

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/dkeye/Broadcast/internal/core"
	"github.com/dkeye/Broadcast/internal/domain"
)

type ChatEntry struct {
	Sender domain.PeerID `json:"sender"`
	Text   string        `json:"text"`
	At     time.Time     `json:"at"`
}

type PeerView struct {
	ID    domain.PeerID           `json:"id"`
	State domain.NegotiationState `json:"state"`
}

type TrackView struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// Snapshot is a read-only copy of session state for observers.
type Snapshot struct {
	State    domain.SessionState  `json:"state"`
	Mode     domain.TransportMode `json:"mode"`
	RoomID   domain.RoomID        `json:"roomId"`
	RoomName domain.RoomName      `json:"roomName"`
	SelfID   domain.PeerID        `json:"selfId"`
	Online   bool                 `json:"online"`
	Roster   []domain.Participant `json:"roster"`
	Peers    []PeerView           `json:"peers"`
	Chat     []ChatEntry          `json:"chat"`
	Tracks   []TrackView          `json:"tracks"`
}

// Snapshot copies the current state on the loop. Once the session has
// ended it returns the state captured at the end.
func (s *RoomSession) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.call(ctx, func() { snap = s.snapshot() })
	if errors.Is(err, core.ErrSessionEnded) {
		if final := s.final.Load(); final != nil {
			return *final, nil
		}
	}
	return snap, err
}

func (s *RoomSession) snapshot() Snapshot {
	snap := Snapshot{
		State:    s.state,
		Mode:     s.strategy.Mode(),
		RoomID:   s.opts.Room.ID,
		RoomName: s.opts.Room.Name,
		SelfID:   s.self,
		Online:   s.online,
		Roster:   append([]domain.Participant(nil), s.roster...),
		Chat:     append([]ChatEntry(nil), s.chat...),
	}
	for _, e := range s.registry.Snapshot() {
		snap.Peers = append(snap.Peers, PeerView{ID: e.ID, State: e.state})
	}
	sort.Slice(snap.Peers, func(i, j int) bool { return snap.Peers[i].ID < snap.Peers[j].ID })
	for _, t := range s.tracks {
		snap.Tracks = append(snap.Tracks, TrackView{ID: t.ID(), Kind: t.Kind().String()})
	}
	return snap
}

func (s *RoomSession) appendChat(sender domain.PeerID, text string) {
	s.chat = append(s.chat, ChatEntry{Sender: sender, Text: text, At: time.Now()})
	if over := len(s.chat) - s.opts.ChatLimit; over > 0 {
		s.chat = append(s.chat[:0], s.chat[over:]...)
	}
}
