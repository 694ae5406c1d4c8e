// Package relay publishes the broadcast to an SRS-compatible media relay
// over its WebRTC HTTP API.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/Broadcast/internal/core"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout = 10 * time.Second
	maxBody        = 1 << 20
	tidLen         = 10
)

type publishRequest struct {
	API       string  `json:"api"`
	ClientIP  *string `json:"clientip"`
	SDP       string  `json:"sdp"`
	StreamURL string  `json:"streamurl"`
	TID       string  `json:"tid"`
}

type publishResponse struct {
	Code      int    `json:"code"`
	Server    string `json:"server"`
	SDP       string `json:"sdp"`
	SessionID string `json:"sessionid"`
}

// HTTPPublisher posts offers to the relay publish endpoint.
type HTTPPublisher struct {
	client *http.Client
}

var _ core.Publisher = (*HTTPPublisher)(nil)

func NewHTTPPublisher(timeout time.Duration) *HTTPPublisher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPPublisher{client: &http.Client{Timeout: timeout}}
}

func newTID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:tidLen]
}

func (p *HTTPPublisher) Publish(ctx context.Context, req core.PublishRequest) (core.PublishResponse, error) {
	body, err := json.Marshal(publishRequest{
		API:       req.Endpoint,
		SDP:       req.OfferSDP,
		StreamURL: req.StreamTarget,
		TID:       newTID(),
	})
	if err != nil {
		return core.PublishResponse{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Endpoint, bytes.NewReader(body))
	if err != nil {
		return core.PublishResponse{}, fmt.Errorf("%w: %w", core.ErrPublishFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	log.Info().Str("module", "relay").Str("endpoint", req.Endpoint).Str("stream", req.StreamTarget).Msg("publishing")
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return core.PublishResponse{}, fmt.Errorf("%w: %w", core.ErrPublishFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return core.PublishResponse{}, fmt.Errorf("%w: read body: %w", core.ErrPublishFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return core.PublishResponse{}, fmt.Errorf("%w: status %d", core.ErrPublishFailed, resp.StatusCode)
	}
	var out publishResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return core.PublishResponse{}, fmt.Errorf("%w: decode: %w", core.ErrPublishFailed, err)
	}
	if out.Code != 0 {
		return core.PublishResponse{}, fmt.Errorf("%w: relay code %d", core.ErrPublishFailed, out.Code)
	}
	if out.SDP == "" {
		return core.PublishResponse{}, fmt.Errorf("%w: empty answer", core.ErrPublishFailed)
	}
	log.Info().Str("module", "relay").Str("server", out.Server).Str("session", out.SessionID).Msg("publish accepted")
	return core.PublishResponse{AnswerSDP: out.SDP, SessionID: out.SessionID}, nil
}
