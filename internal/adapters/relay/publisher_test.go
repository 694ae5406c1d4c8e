package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dkeye/Broadcast/internal/core"
)

func TestPublishSendsSRSRequest(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rtc/v1/publish/" {
			t.Errorf("request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"code":0,"server":"vid-1","sdp":"v=0 answer","sessionid":"s-1"}`))
	}))
	defer srv.Close()

	endpoint := srv.URL + "/rtc/v1/publish/"
	resp, err := NewHTTPPublisher(0).Publish(context.Background(), core.PublishRequest{
		Endpoint:     endpoint,
		OfferSDP:     "v=0 offer",
		StreamTarget: "webrtc://relay/live/livestream/room1",
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if resp.AnswerSDP != "v=0 answer" || resp.SessionID != "s-1" {
		t.Fatalf("resp=%+v", resp)
	}

	if got["api"] != endpoint || got["sdp"] != "v=0 offer" || got["streamurl"] != "webrtc://relay/live/livestream/room1" {
		t.Fatalf("body=%v", got)
	}
	if v, ok := got["clientip"]; !ok || v != nil {
		t.Fatalf("clientip=%v present=%v, want explicit null", v, ok)
	}
	if tid, _ := got["tid"].(string); len(tid) != tidLen {
		t.Fatalf("tid=%q", got["tid"])
	}
}

func TestPublishFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"http status", http.StatusServiceUnavailable, `{}`},
		{"relay code", http.StatusOK, `{"code":400,"sdp":""}`},
		{"empty answer", http.StatusOK, `{"code":0,"sdp":""}`},
		{"bad json", http.StatusOK, `<html>`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(c.status)
				_, _ = w.Write([]byte(c.body))
			}))
			defer srv.Close()

			_, err := NewHTTPPublisher(0).Publish(context.Background(), core.PublishRequest{Endpoint: srv.URL, OfferSDP: "v=0"})
			if !errors.Is(err, core.ErrPublishFailed) {
				t.Fatalf("err=%v, want ErrPublishFailed", err)
			}
		})
	}
}

func TestPublishUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPPublisher(0).Publish(context.Background(), core.PublishRequest{Endpoint: url})
	if !errors.Is(err, core.ErrPublishFailed) {
		t.Fatalf("err=%v, want ErrPublishFailed", err)
	}
}
