package domain

// PeerID is the identifier the signaling server assigns to a connected endpoint.
type PeerID string

// Participant is a roster entry. JoinOrder grows monotonically within a session.
type Participant struct {
	PeerID    PeerID `json:"peerId"`
	JoinOrder int    `json:"joinOrder"`
}
