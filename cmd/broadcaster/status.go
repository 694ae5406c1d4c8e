package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var flagAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running broadcast",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		st, err := fetchStatus(ctx, flagAddr)
		if err != nil {
			return err
		}
		renderStatus(os.Stdout, st)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVarP(&flagAddr, "addr", "a", "http://127.0.0.1:8090", "Control API address")
}

// statusView mirrors the /api/session body with plain strings.
type statusView struct {
	State    string `json:"state"`
	Mode     string `json:"mode"`
	RoomID   string `json:"roomId"`
	RoomName string `json:"roomName"`
	SelfID   string `json:"selfId"`
	Online   bool   `json:"online"`
	Roster   []struct {
		PeerID string `json:"peerId"`
	} `json:"roster"`
	Peers []struct {
		ID    string `json:"id"`
		State string `json:"state"`
	} `json:"peers"`
	Chat []struct {
		Sender string    `json:"sender"`
		Text   string    `json:"text"`
		At     time.Time `json:"at"`
	} `json:"chat"`
}

func fetchStatus(ctx context.Context, addr string) (*statusView, error) {
	url := strings.TrimRight(addr, "/") + "/api/session"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch status: %s", resp.Status)
	}
	var st statusView
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &st, nil
}

func renderStatus(w io.Writer, st *statusView) {
	online := "no"
	if st.Online {
		online = "yes"
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Session")
	t.AppendRows([]table.Row{
		{"Room", fmt.Sprintf("%s (%s)", st.RoomName, st.RoomID)},
		{"State", st.State},
		{"Transport", st.Mode},
		{"Self", st.SelfID},
		{"Signaling online", online},
		{"Viewers", len(st.Roster)},
	})
	t.Render()

	if len(st.Peers) > 0 {
		pt := table.NewWriter()
		pt.SetOutputMirror(w)
		pt.SetStyle(table.StyleRounded)
		pt.SetTitle("Peers")
		pt.AppendHeader(table.Row{"Peer", "Negotiation"})
		for _, p := range st.Peers {
			pt.AppendRow(table.Row{p.ID, p.State})
		}
		pt.Render()
	}

	if len(st.Chat) > 0 {
		ct := table.NewWriter()
		ct.SetOutputMirror(w)
		ct.SetStyle(table.StyleRounded)
		ct.SetTitle("Chat")
		ct.AppendHeader(table.Row{"At", "From", "Text"})
		for _, c := range st.Chat {
			ct.AppendRow(table.Row{c.At.Local().Format(time.TimeOnly), c.Sender, c.Text})
		}
		ct.Render()
	}
}
