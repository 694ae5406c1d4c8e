package core

import (
	"context"

	"github.com/dkeye/Broadcast/internal/domain"
)

// Frame is an encoded signaling message as it travels on the wire.
type Frame []byte

type ChannelEventKind int

const (
	ChannelConnected ChannelEventKind = iota
	ChannelDisconnected
	ChannelMessage
)

func (k ChannelEventKind) String() string {
	switch k {
	case ChannelConnected:
		return "connected"
	case ChannelDisconnected:
		return "disconnected"
	case ChannelMessage:
		return "message"
	}
	return "unknown"
}

// ChannelEvent is emitted by a SignalChannel in arrival order.
// SelfID is set on ChannelConnected, Message on ChannelMessage and Err on
// ChannelDisconnected when the link dropped abnormally.
type ChannelEvent struct {
	Kind    ChannelEventKind
	SelfID  domain.PeerID
	Message Message
	Err     error
}

// SignalChannel is an ordered, room-scoped message link to the signaling server.
// Owned by the adapter; the owner must Close() it.
type SignalChannel interface {
	// Connect opens the transport. It returns once the link is usable for
	// sending; the Connected event follows when the server acknowledges.
	Connect(ctx context.Context) error
	// Send drops the message and returns ErrChannelUnavailable while the
	// link is down. Messages are never queued across a disconnect.
	Send(msg Message) error
	Events() <-chan ChannelEvent
	Close() error
}
