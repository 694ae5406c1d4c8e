package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dkeye/Broadcast/internal/core"
	"github.com/dkeye/Broadcast/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrUnknownCodec   = errors.New("unknown signal codec")
	ErrMalformedFrame = errors.New("malformed signal frame")
)

// Codec turns envelopes into websocket frames and back.
type Codec interface {
	Name() string
	// FrameType is the websocket message type frames are sent as.
	FrameType() int
	Encode(msg core.Message) (core.Frame, error)
	Decode(f core.Frame) (core.Message, error)
}

func NewCodec(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

type jsonEnvelope struct {
	Type       core.MessageType `json:"type"`
	SenderID   domain.PeerID    `json:"senderId,omitempty"`
	ReceiverID domain.PeerID    `json:"receiverId,omitempty"`
	Payload    json.RawMessage  `json:"payload,omitempty"`
}

type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) FrameType() int { return websocket.TextMessage }

func (JSONCodec) Encode(msg core.Message) (core.Frame, error) {
	env := jsonEnvelope{Type: msg.Type, SenderID: msg.SenderID, ReceiverID: msg.ReceiverID}
	if msg.Payload != nil {
		b, err := json.Marshal(msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", msg.Type, err)
		}
		env.Payload = b
	}
	return json.Marshal(env)
}

func (JSONCodec) Decode(f core.Frame) (core.Message, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(f, &env); err != nil {
		return core.Message{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return core.Message{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	msg := core.Message{Type: env.Type, SenderID: env.SenderID, ReceiverID: env.ReceiverID}
	payload, ok := core.NewPayload(env.Type)
	if !ok {
		// Unknown types pass through so the session can log them.
		return msg, nil
	}
	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, payload); err != nil {
			return core.Message{}, fmt.Errorf("%w: %s payload: %w", ErrMalformedFrame, env.Type, err)
		}
	}
	msg.Payload = payload
	return msg, nil
}

type msgpackEnvelope struct {
	Type       core.MessageType   `msgpack:"type"`
	SenderID   domain.PeerID      `msgpack:"senderId,omitempty"`
	ReceiverID domain.PeerID      `msgpack:"receiverId,omitempty"`
	Payload    msgpack.RawMessage `msgpack:"payload,omitempty"`
}

// MsgpackCodec carries the same envelope as binary frames.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (MsgpackCodec) Encode(msg core.Message) (core.Frame, error) {
	env := msgpackEnvelope{Type: msg.Type, SenderID: msg.SenderID, ReceiverID: msg.ReceiverID}
	if msg.Payload != nil {
		b, err := msgpack.Marshal(msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", msg.Type, err)
		}
		env.Payload = b
	}
	return msgpack.Marshal(&env)
}

func (MsgpackCodec) Decode(f core.Frame) (core.Message, error) {
	var env msgpackEnvelope
	if err := msgpack.Unmarshal(f, &env); err != nil {
		return core.Message{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return core.Message{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	msg := core.Message{Type: env.Type, SenderID: env.SenderID, ReceiverID: env.ReceiverID}
	payload, ok := core.NewPayload(env.Type)
	if !ok {
		return msg, nil
	}
	if len(env.Payload) > 0 {
		if err := msgpack.Unmarshal(env.Payload, payload); err != nil {
			return core.Message{}, fmt.Errorf("%w: %s payload: %w", ErrMalformedFrame, env.Type, err)
		}
	}
	msg.Payload = payload
	return msg, nil
}
