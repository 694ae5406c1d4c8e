package core

import "github.com/dkeye/Broadcast/internal/domain"

type MessageType string

const (
	MsgConnected         MessageType = "connected"
	MsgJoin              MessageType = "join"
	MsgJoined            MessageType = "joined"
	MsgOffer             MessageType = "offer"
	MsgAnswer            MessageType = "answer"
	MsgCandidate         MessageType = "candidate"
	MsgLeave             MessageType = "leave"
	MsgParticipantJoined MessageType = "participantJoined"
	MsgParticipantLeft   MessageType = "participantLeft"
	MsgRoomEnded         MessageType = "roomEnded"
	MsgChat              MessageType = "chatMessage"
)

// Message is one decoded signaling envelope. Payload holds a pointer to the
// typed payload struct matching Type, or nil for unknown types.
type Message struct {
	Type       MessageType
	SenderID   domain.PeerID
	ReceiverID domain.PeerID
	Payload    any
}

type JoinPayload struct {
	RoomID     domain.RoomID     `json:"roomId" msgpack:"roomId"`
	RoomName   domain.RoomName   `json:"roomName" msgpack:"roomName"`
	CoverImage string            `json:"coverImage,omitempty" msgpack:"coverImage,omitempty"`
	RelayInfo  *domain.RelayInfo `json:"relayInfo,omitempty" msgpack:"relayInfo,omitempty"`
	TrackFlags domain.TrackFlags `json:"trackFlags" msgpack:"trackFlags"`
	UserInfo   domain.User       `json:"userInfo" msgpack:"userInfo"`
}

// JoinedPayload acknowledges our join. Participants lists peers that were
// already in the room.
type JoinedPayload struct {
	RoomID       domain.RoomID   `json:"roomId" msgpack:"roomId"`
	Participants []domain.PeerID `json:"participants,omitempty" msgpack:"participants,omitempty"`
}

// SDPPayload carries an offer or an answer.
type SDPPayload struct {
	SDP      string        `json:"sdp" msgpack:"sdp"`
	Sender   domain.PeerID `json:"sender" msgpack:"sender"`
	Receiver domain.PeerID `json:"receiver" msgpack:"receiver"`
}

type CandidatePayload struct {
	SDPMid        *string       `json:"sdpMid,omitempty" msgpack:"sdpMid,omitempty"`
	SDPMLineIndex *uint16       `json:"sdpMLineIndex,omitempty" msgpack:"sdpMLineIndex,omitempty"`
	Candidate     string        `json:"candidate" msgpack:"candidate"`
	Sender        domain.PeerID `json:"sender" msgpack:"sender"`
}

type LeavePayload struct {
	RoomID domain.RoomID `json:"roomId" msgpack:"roomId"`
}

type ParticipantPayload struct {
	PeerID domain.PeerID `json:"peerId" msgpack:"peerId"`
}

type RoomEndedPayload struct {
	RoomID domain.RoomID `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
}

type ChatPayload struct {
	Sender domain.PeerID `json:"sender" msgpack:"sender"`
	Text   string        `json:"text" msgpack:"text"`
}

// NewPayload returns a pointer to an empty payload for t, ready for decoding.
func NewPayload(t MessageType) (any, bool) {
	switch t {
	case MsgJoin:
		return &JoinPayload{}, true
	case MsgJoined:
		return &JoinedPayload{}, true
	case MsgOffer, MsgAnswer:
		return &SDPPayload{}, true
	case MsgCandidate:
		return &CandidatePayload{}, true
	case MsgLeave:
		return &LeavePayload{}, true
	case MsgConnected, MsgParticipantJoined, MsgParticipantLeft:
		return &ParticipantPayload{}, true
	case MsgRoomEnded:
		return &RoomEndedPayload{}, true
	case MsgChat:
		return &ChatPayload{}, true
	}
	return nil, false
}

// Sender prefers the envelope sender and falls back to the payload's own
// sender field.
func (m Message) Sender() domain.PeerID {
	if m.SenderID != "" {
		return m.SenderID
	}
	switch p := m.Payload.(type) {
	case *SDPPayload:
		return p.Sender
	case *CandidatePayload:
		return p.Sender
	case *ChatPayload:
		return p.Sender
	}
	return ""
}

// Receiver prefers the envelope receiver and falls back to the payload.
func (m Message) Receiver() domain.PeerID {
	if m.ReceiverID != "" {
		return m.ReceiverID
	}
	if p, ok := m.Payload.(*SDPPayload); ok {
		return p.Receiver
	}
	return ""
}

// AddressedTo reports whether a directed message targets self. Offers and
// answers must name self as receiver; other messages without a receiver are
// addressed to everyone.
func (m Message) AddressedTo(self domain.PeerID) bool {
	r := m.Receiver()
	switch m.Type {
	case MsgOffer, MsgAnswer:
		return r != "" && r == self
	}
	return r == "" || r == self
}
