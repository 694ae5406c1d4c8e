package signal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/Broadcast/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	defaultPingPeriod = 54 * time.Second
	defaultWriteWait  = 5 * time.Second
	defaultReadLimit  = 64 * 1024
	defaultSendBuffer = 32
	eventBuffer       = 64
)

type Options struct {
	URL        string
	Token      string
	Codec      Codec
	PingPeriod time.Duration
	WriteWait  time.Duration
	ReadLimit  int64
	SendBuffer int
	Dialer     *websocket.Dialer
}

// WsChannel is a client link to the room signaling server. Sends never
// block: a full buffer yields core.ErrBackpressure and a dead link yields
// core.ErrChannelUnavailable.
type WsChannel struct {
	opts   Options
	events chan core.ChannelEvent
	quit   chan struct{}
	wg     sync.WaitGroup

	mu     sync.RWMutex
	conn   *websocket.Conn
	send   chan core.Frame
	online bool
	closed bool
}

func NewWsChannel(opts Options) *WsChannel {
	if opts.Codec == nil {
		opts.Codec = JSONCodec{}
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = defaultPingPeriod
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaultWriteWait
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &WsChannel{
		opts:   opts,
		events: make(chan core.ChannelEvent, eventBuffer),
		quit:   make(chan struct{}),
	}
}

func (c *WsChannel) dialURL() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("invalid signal url: %w", err)
	}
	q := u.Query()
	if c.opts.Token != "" {
		q.Set("token", c.opts.Token)
	}
	q.Set("codec", c.opts.Codec.Name())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the server and starts the pumps. The Connected event is
// emitted once the server acknowledges us with our peer id.
func (c *WsChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrChannelUnavailable
	}
	if c.conn != nil {
		return nil
	}
	target, err := c.dialURL()
	if err != nil {
		return err
	}
	conn, _, err := c.opts.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrChannelUnavailable, err)
	}
	conn.SetReadLimit(c.opts.ReadLimit)
	pongWait := c.opts.PingPeriod * 10 / 9
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.conn = conn
	c.send = make(chan core.Frame, c.opts.SendBuffer)
	c.online = true
	log.Info().Str("module", "signal").Str("url", c.opts.URL).Str("codec", c.opts.Codec.Name()).Msg("signaling dialed")

	c.wg.Add(2)
	go c.writePump(conn, c.send)
	go c.readPump(conn, pongWait)
	return nil
}

func (c *WsChannel) Send(msg core.Message) error {
	frame, err := c.opts.Codec.Encode(msg)
	if err != nil {
		return err
	}
	return c.TrySend(frame)
}

func (c *WsChannel) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed || !c.online {
		return core.ErrChannelUnavailable
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsChannel) Events() <-chan core.ChannelEvent { return c.events }

// Close stops both pumps and closes the event stream. It is safe to call
// more than once.
func (c *WsChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.online = false
	conn := c.conn
	close(c.quit)
	c.mu.Unlock()

	var err error
	if conn != nil {
		deadline := time.Now().Add(c.opts.WriteWait)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = conn.Close()
		if errors.Is(err, websocket.ErrCloseSent) {
			err = nil
		}
	}
	c.wg.Wait()
	close(c.events)
	log.Info().Str("module", "signal").Msg("signaling closed")
	return err
}

// markOffline flips the link state once and reports whether this call did it.
func (c *WsChannel) markOffline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.online {
		return false
	}
	c.online = false
	return true
}

func (c *WsChannel) emit(ev core.ChannelEvent) {
	select {
	case c.events <- ev:
	case <-c.quit:
	}
}
