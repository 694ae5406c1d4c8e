package core

import (
	"context"

	"github.com/dkeye/Broadcast/internal/domain"
)

// LiveRoom is what a directory learns about a room while it is live.
type LiveRoom struct {
	ID          domain.RoomID
	Name        domain.RoomName
	CoverImage  string
	Mode        domain.TransportMode
	Broadcaster domain.User
	Relay       *domain.RelayInfo
}

// Presence publishes live-room state to an external directory.
type Presence interface {
	Announce(ctx context.Context, room LiveRoom) error
	ViewerJoined(ctx context.Context, room domain.RoomID, peer domain.PeerID) error
	ViewerLeft(ctx context.Context, room domain.RoomID, peer domain.PeerID) error
	Withdraw(ctx context.Context, room domain.RoomID) error
}
