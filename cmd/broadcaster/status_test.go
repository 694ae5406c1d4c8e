package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const sessionBody = `{"state":"live","mode":"mesh","roomId":"r1","roomName":"demo","selfId":"A","online":true,
"roster":[{"peerId":"B","joinOrder":1}],
"peers":[{"id":"B","state":"connected"}],
"chat":[{"sender":"B","text":"hello there","at":"2026-01-02T03:04:05Z"}],
"tracks":[]}`

func TestFetchAndRenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/session" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sessionBody))
	}))
	defer srv.Close()

	st, err := fetchStatus(context.Background(), srv.URL+"/")
	if err != nil {
		t.Fatalf("fetchStatus: %v", err)
	}
	if st.State != "live" || len(st.Peers) != 1 || len(st.Roster) != 1 {
		t.Fatalf("status=%+v", st)
	}

	var buf bytes.Buffer
	renderStatus(&buf, st)
	out := buf.String()
	for _, want := range []string{"demo (r1)", "live", "mesh", "connected", "hello there"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFetchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := fetchStatus(context.Background(), srv.URL); err == nil {
		t.Fatalf("fetchStatus succeeded on 503")
	}
}
