package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/dkeye/Broadcast/internal/adapters/http"
	"github.com/dkeye/Broadcast/internal/adapters/media"
	"github.com/dkeye/Broadcast/internal/adapters/presence"
	"github.com/dkeye/Broadcast/internal/adapters/relay"
	"github.com/dkeye/Broadcast/internal/adapters/rtc"
	signaling "github.com/dkeye/Broadcast/internal/adapters/signal"
	"github.com/dkeye/Broadcast/internal/app"
	"github.com/dkeye/Broadcast/internal/config"
	"github.com/dkeye/Broadcast/internal/domain"
	"github.com/dkeye/Broadcast/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Go live in a room until interrupted",
	Long: `Go live in a room until interrupted.

Examples:
  broadcaster live --room demo --audio-port 5004 --video-port 5006
  broadcaster live --room demo --transport relay --relay-api http://srs:1985/rtc/v1/publish/`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cmd.Flags())
		if err != nil {
			return err
		}
		setupLogging(cfg.Log)
		return runLive(cfg)
	},
}

func init() {
	f := liveCmd.Flags()
	f.String("room", "", "Room name (3-10 characters)")
	f.String("room-id", "", "Room id; generated when empty")
	f.String("cover", "", "Cover image URL shown in lobbies")
	f.String("user", "", "Broadcaster display name")
	f.String("transport", "", "mesh or relay")
	f.String("signal-url", "", "Signaling websocket URL")
	f.String("codec", "", "Signaling codec: json or msgpack")
	f.String("relay-api", "", "Relay publish endpoint")
	f.Int("port", 0, "Control API port")
	f.String("log-level", "", "Log level")
	f.Int("audio-port", 0, "UDP port receiving Opus RTP")
	f.Int("video-port", 0, "UDP port receiving VP8 RTP")
	f.String("redis-addr", "", "Redis address for the live room directory")
}

func runLive(cfg *config.Config) error {
	user, err := domain.NewUser(cfg.User.Name, cfg.User.Avatar)
	if err != nil {
		return fmt.Errorf("user: %w", err)
	}
	name, err := domain.ParseRoomName(cfg.Room.Name)
	if err != nil {
		return fmt.Errorf("room %q: %w", cfg.Room.Name, err)
	}
	mode, err := domain.ParseTransportMode(cfg.Transport)
	if err != nil {
		return err
	}
	room := domain.Room{ID: domain.RoomID(cfg.Room.ID), Name: name, CoverImage: cfg.Room.Cover}
	if room.ID == "" {
		room.ID = domain.NewRoomID()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var ingest *media.Ingest
	if cfg.Media.AudioPort > 0 || cfg.Media.VideoPort > 0 {
		ingest, err = media.NewIngest(media.Options{
			Host:      cfg.Media.Host,
			AudioPort: cfg.Media.AudioPort,
			VideoPort: cfg.Media.VideoPort,
		})
		if err != nil {
			return err
		}
		defer ingest.Close()
		ingest.Start(ctx)
	} else {
		log.Warn().Str("module", "main").Msg("no media ports configured, going live without tracks")
	}

	channel, err := newChannel(cfg, *user, room.ID)
	if err != nil {
		return err
	}

	peers, err := rtc.NewFactory(rtc.Options{
		STUN:          cfg.ICE.STUN,
		TURN:          cfg.ICE.TURN,
		TURNUser:      cfg.ICE.TURNUser,
		TURNPass:      cfg.ICE.TURNPass,
		UDPPortMin:    cfg.ICE.UDPPortMin,
		UDPPortMax:    cfg.ICE.UDPPortMax,
		LoggerFactory: rtc.NewLoggerFactory(),
	})
	if err != nil {
		return err
	}

	m := metrics.New()
	deps := app.Deps{Channel: channel, Peers: peers, Metrics: m}
	if mode == domain.TransportRelay {
		deps.Publisher = relay.NewHTTPPublisher(cfg.Relay.Timeout)
	}
	if cfg.Redis.Addr != "" {
		dir, err := connectPresence(ctx, cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Str("module", "main").Msg("presence disabled")
		} else {
			defer dir.Close()
			deps.Presence = dir
		}
	}

	opts := app.Options{
		Room: room,
		User: *user,
		Mode: mode,
		Relay: app.RelayOptions{
			Endpoint:   cfg.Relay.API,
			StreamBase: cfg.Relay.StreamBase,
			FlvBase:    cfg.Relay.FlvBase,
		},
		EndGrace:  cfg.Session.EndGrace,
		ChatLimit: cfg.Session.ChatHistory,
	}
	if ingest != nil {
		opts.Tracks = ingest.Tracks()
	}
	session, err := app.NewRoomSession(opts, deps)
	if err != nil {
		return err
	}

	var tracks httpapi.TrackControl
	if ingest != nil {
		tracks = ingest
	}
	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Handler: httpapi.SetupRouter(cfg.Mode, httpapi.Deps{
			Session: session,
			Tracks:  tracks,
			Metrics: m,
		}),
	}
	go func() {
		log.Info().Str("module", "main").Str("addr", srv.Addr).Msg("control api started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("module", "main").Msg("server error")
		}
	}()

	log.Info().
		Str("module", "main").
		Str("room", string(room.ID)).
		Str("name", string(room.Name)).
		Stringer("transport", mode).
		Msg("going live")
	runErr := session.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Str("module", "main").Msg("server forced to shutdown")
	}
	log.Info().Str("module", "main").Msg("broadcast finished")
	return runErr
}

func newChannel(cfg *config.Config, user domain.User, room domain.RoomID) (*signaling.WsChannel, error) {
	codec, err := signaling.NewCodec(cfg.Signal.Codec)
	if err != nil {
		return nil, err
	}
	token, err := signaling.IssueToken(cfg.Signal.Secret, user, room, cfg.Signal.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return signaling.NewWsChannel(signaling.Options{
		URL:        cfg.Signal.URL,
		Token:      token,
		Codec:      codec,
		PingPeriod: cfg.Signal.PingPeriod,
		WriteWait:  cfg.Signal.WriteWait,
		ReadLimit:  cfg.Signal.ReadLimit,
		SendBuffer: cfg.Signal.SendBuffer,
	}), nil
}

func connectPresence(ctx context.Context, cfg config.RedisConfig) (*presence.Directory, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return presence.Connect(pingCtx, presence.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
