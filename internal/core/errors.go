package core

import (
	"errors"
	"fmt"

	"github.com/dkeye/Broadcast/internal/domain"
)

var (
	// ErrChannelUnavailable is returned when a send is attempted while the
	// signaling link is down. The message is dropped.
	ErrChannelUnavailable = errors.New("signaling channel unavailable")
	ErrBackpressure       = errors.New("backpressure")
	ErrNegotiation        = errors.New("negotiation failure")
	ErrCandidateRejected  = errors.New("candidate rejected")
	// ErrStaleMessage marks a directed message addressed to another endpoint.
	ErrStaleMessage  = errors.New("stale message")
	ErrPublishFailed = errors.New("relay publish failed")
	ErrSessionEnded  = errors.New("session ended")
)

// NegotiationError reports a failed step for one peer.
type NegotiationError struct {
	Peer domain.PeerID
	Op   string
	Err  error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

func (e *NegotiationError) Is(target error) bool { return target == ErrNegotiation }
