package http

import (
	"context"
	"time"

	"github.com/dkeye/Broadcast/internal/adapters/media"
	"github.com/dkeye/Broadcast/internal/app"
	"github.com/dkeye/Broadcast/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	chatLimit    = 5
	chatInterval = 10 * time.Second
)

// SessionView is the part of a running session the control API drives.
type SessionView interface {
	Snapshot(ctx context.Context) (app.Snapshot, error)
	SendChat(ctx context.Context, text string) error
	End()
}

// TrackControl mutes and reports the media feeds.
type TrackControl interface {
	Mute(kind string) error
	Unmute(kind string) error
	Stats() []media.FeedStats
}

type Deps struct {
	Session SessionView
	Tracks  TrackControl
	Metrics *metrics.Metrics
	// ChatLimiter throttles POST /api/chat per client address.
	ChatLimiter *RateLimiter
}

func SetupRouter(mode string, deps Deps) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	if deps.ChatLimiter == nil {
		deps.ChatLimiter = NewRateLimiter(chatLimit, chatInterval)
	}
	h := &handlers{deps: deps}

	api := r.Group("/api")
	api.GET("/session", h.session)
	api.POST("/chat", h.chat)
	api.POST("/end", h.end)
	api.GET("/media", h.media)
	api.POST("/tracks/:kind/mute", h.mute)
	api.POST("/tracks/:kind/unmute", h.unmute)

	r.GET("/metrics", h.metrics)

	log.Info().Str("module", "adapters.http").Str("mode", mode).Msg("router setup")
	return r
}
