package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dkeye/Broadcast/internal/adapters/media"
	"github.com/dkeye/Broadcast/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type ChatRequest struct {
	Text string `json:"text"`
}

type handlers struct {
	deps Deps
}

func (h *handlers) session(c *gin.Context) {
	snap, err := h.deps.Session.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *handlers) chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid text"})
		return
	}
	if !h.deps.ChatLimiter.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "slow down"})
		return
	}
	err := h.deps.Session.SendChat(c.Request.Context(), req.Text)
	switch {
	case err == nil:
		c.Status(http.StatusAccepted)
	case errors.Is(err, core.ErrSessionEnded):
		c.JSON(http.StatusConflict, gin.H{"error": "session ended"})
	case errors.Is(err, core.ErrChannelUnavailable), errors.Is(err, core.ErrBackpressure):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("module", "adapters.http").Msg("chat send")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "chat failed"})
	}
}

func (h *handlers) end(c *gin.Context) {
	h.deps.Session.End()
	log.Info().Str("module", "adapters.http").Str("client", c.ClientIP()).Msg("end requested")
	c.Status(http.StatusAccepted)
}

func (h *handlers) media(c *gin.Context) {
	if h.deps.Tracks == nil {
		c.JSON(http.StatusOK, []media.FeedStats{})
		return
	}
	c.JSON(http.StatusOK, h.deps.Tracks.Stats())
}

func (h *handlers) mute(c *gin.Context)   { h.setMuted(c, true) }
func (h *handlers) unmute(c *gin.Context) { h.setMuted(c, false) }

func (h *handlers) setMuted(c *gin.Context, muted bool) {
	kind := c.Param("kind")
	if h.deps.Tracks == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no media tracks"})
		return
	}
	op := h.deps.Tracks.Unmute
	if muted {
		op = h.deps.Tracks.Mute
	}
	if err := op(kind); err != nil {
		if errors.Is(err, media.ErrUnknownKind) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) metrics(c *gin.Context) {
	c.Header("Content-Type", "text/plain; version=0.0.4")
	c.Status(http.StatusOK)
	if err := h.deps.Metrics.WritePrometheus(c.Writer); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("metrics write")
	}
}
