package signal

import (
	"time"

	"github.com/dkeye/Broadcast/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (c *WsChannel) writePump(conn *websocket.Conn, send <-chan core.Frame) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	frameType := c.opts.Codec.FrameType()
	for {
		select {
		case <-c.quit:
			log.Debug().Str("module", "signal").Msg("writePump quit")
			return
		case data := <-send:
			if err := conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.drop(conn, err)
				return
			}
			if err := conn.WriteMessage(frameType, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.drop(conn, err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				c.drop(conn, err)
				return
			}
		}
	}
}

func (c *WsChannel) readPump(conn *websocket.Conn, pongWait time.Duration) {
	defer c.wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.quit:
				log.Debug().Str("module", "signal").Msg("readPump closing")
			default:
				log.Error().Err(err).Str("module", "signal").Msg("readPump read error")
				c.drop(conn, err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleFrame(data)
	}
}

func (c *WsChannel) handleFrame(data core.Frame) {
	msg, err := c.opts.Codec.Decode(data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad frame")
		return
	}
	if msg.Type == core.MsgConnected {
		self := msg.ReceiverID
		if p, ok := msg.Payload.(*core.ParticipantPayload); ok && self == "" {
			self = p.PeerID
		}
		if self == "" {
			log.Warn().Str("module", "signal").Msg("connected ack without peer id")
			return
		}
		log.Info().Str("module", "signal").Str("self", string(self)).Msg("connected ack")
		c.emit(core.ChannelEvent{Kind: core.ChannelConnected, SelfID: self})
		return
	}
	c.emit(core.ChannelEvent{Kind: core.ChannelMessage, Message: msg})
}

// drop tears down a broken link and reports it once.
func (c *WsChannel) drop(conn *websocket.Conn, err error) {
	_ = conn.Close()
	if c.markOffline() {
		c.emit(core.ChannelEvent{Kind: core.ChannelDisconnected, Err: err})
	}
}
