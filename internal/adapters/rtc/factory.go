package rtc

import (
	"fmt"

	"github.com/dkeye/Broadcast/internal/core"
	"github.com/dkeye/Broadcast/internal/domain"
	"github.com/pion/logging"
	"github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Options struct {
	STUN       []string
	TURN       []string
	TURNUser   string
	TURNPass   string
	UDPPortMin uint16
	UDPPortMax uint16
	// Net replaces the host network, e.g. with a vnet in tests.
	Net           transport.Net
	LoggerFactory logging.LoggerFactory
}

// Factory builds pion peer connections sharing one API and ICE setup.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

var _ core.PeerFactory = (*Factory)(nil)

func NewFactory(opts Options) (*Factory, error) {
	se := webrtc.SettingEngine{}
	if opts.LoggerFactory == nil {
		opts.LoggerFactory = NewLoggerFactory()
	}
	se.LoggerFactory = opts.LoggerFactory
	if opts.UDPPortMin != 0 || opts.UDPPortMax != 0 {
		if err := se.SetEphemeralUDPPortRange(opts.UDPPortMin, opts.UDPPortMax); err != nil {
			return nil, fmt.Errorf("udp port range: %w", err)
		}
	}
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	return &Factory{
		api: webrtc.NewAPI(
			webrtc.WithSettingEngine(se),
			webrtc.WithMediaEngine(mediaEngine),
		),
		config: iceConfig(opts),
	}, nil
}

func iceConfig(opts Options) webrtc.Configuration {
	var servers []webrtc.ICEServer
	if len(opts.STUN) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: opts.STUN})
	}
	if len(opts.TURN) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       opts.TURN,
			Username:   opts.TURNUser,
			Credential: opts.TURNPass,
		})
	}
	return webrtc.Configuration{ICEServers: servers}
}

func (f *Factory) NewPeer(peer domain.PeerID) (core.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("module", "webrtc").Str("peer", string(peer)).Msg("peer connection built")
	return newConnection(pc, peer), nil
}
