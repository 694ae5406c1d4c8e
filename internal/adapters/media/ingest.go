// Package media feeds locally produced RTP (e.g. from ffmpeg or gstreamer)
// into the local tracks the broadcaster publishes.
package media

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/transport/v3"
	"github.com/pion/transport/v3/stdnet"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	KindAudio = "audio"
	KindVideo = "video"

	streamID = "broadcast"
	mtu      = 1500
)

var (
	ErrUnknownKind = errors.New("unknown track kind")
	ErrNoTracks    = errors.New("no media ports configured")
)

type Options struct {
	Host      string
	AudioPort int
	VideoPort int
	// Net defaults to the host network.
	Net transport.Net
}

// Feed reads RTP for one kind from a UDP socket into its track.
type Feed struct {
	Track *LocalTrack
	conn  transport.UDPConn
}

type FeedStats struct {
	Kind      string `json:"kind"`
	State     string `json:"state"`
	Addr      string `json:"addr"`
	Forwarded uint64 `json:"forwarded"`
	Dropped   uint64 `json:"dropped"`
}

// Ingest owns every feed of one broadcast.
type Ingest struct {
	mu    sync.RWMutex
	feeds map[string]*Feed
	wg    sync.WaitGroup
}

func NewIngest(opts Options) (*Ingest, error) {
	if opts.AudioPort <= 0 && opts.VideoPort <= 0 {
		return nil, ErrNoTracks
	}
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.Net == nil {
		n, err := stdnet.NewNet()
		if err != nil {
			return nil, fmt.Errorf("host network: %w", err)
		}
		opts.Net = n
	}

	in := &Ingest{feeds: make(map[string]*Feed)}
	specs := []struct {
		kind string
		port int
		mime string
	}{
		{KindAudio, opts.AudioPort, webrtc.MimeTypeOpus},
		{KindVideo, opts.VideoPort, webrtc.MimeTypeVP8},
	}
	for _, s := range specs {
		if s.port <= 0 {
			continue
		}
		feed, err := newFeed(opts.Net, opts.Host, s.port, s.kind, s.mime)
		if err != nil {
			in.Close()
			return nil, err
		}
		in.feeds[s.kind] = feed
	}
	return in, nil
}

func newFeed(n transport.Net, host string, port int, kind, mime string) (*Feed, error) {
	track, err := newLocalTrack(kind, mime)
	if err != nil {
		return nil, fmt.Errorf("%s track: %w", kind, err)
	}
	conn, err := n.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP(host), Port: port})
	if err != nil {
		return nil, fmt.Errorf("listen %s rtp: %w", kind, err)
	}
	return &Feed{Track: track, conn: conn}, nil
}

// Tracks returns the local tracks in a stable order, audio first.
func (in *Ingest) Tracks() []webrtc.TrackLocal {
	in.mu.RLock()
	defer in.mu.RUnlock()
	out := make([]webrtc.TrackLocal, 0, len(in.feeds))
	for _, kind := range []string{KindAudio, KindVideo} {
		if f, ok := in.feeds[kind]; ok {
			out = append(out, f.Track.RTP)
		}
	}
	return out
}

// Start launches one read loop per feed. Loops stop when ctx is done or
// the ingest is closed.
func (in *Ingest) Start(ctx context.Context) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	for _, f := range in.feeds {
		logger := log.With().Str("module", "media").Str("kind", f.Track.Kind).Str("addr", f.conn.LocalAddr().String()).Logger()
		logger.Info().Msg("starting rtp ingest")
		in.wg.Add(1)
		go func(f *Feed) {
			defer in.wg.Done()
			f.loop(ctx, &logger)
		}(f)
	}
	go func() {
		<-ctx.Done()
		in.Close()
	}()
}

func (f *Feed) loop(ctx context.Context, logger *zerolog.Logger) {
	buf := make([]byte, mtu)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("ingest ctx done")
			f.Track.Retire()
			return
		default:
		}
		n, _, err := f.conn.ReadFrom(buf)
		if err != nil {
			if f.Track.State() != TrackRetired {
				logger.Error().Err(err).Msg("rtp read error, stopping")
				f.Track.Retire()
			}
			return
		}
		f.forward(buf[:n], logger)
	}
}

func (f *Feed) forward(data []byte, logger *zerolog.Logger) {
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(data); err != nil {
		f.Track.drop()
		logger.Debug().Err(err).Msg("dropping malformed rtp")
		return
	}
	if err := f.Track.Write(pkt); err != nil && !errors.Is(err, errNotForwarding) {
		logger.Warn().Err(err).Msg("rtp write error")
	}
}

func (in *Ingest) feed(kind string) (*Feed, error) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	f, ok := in.feeds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return f, nil
}

func (in *Ingest) Mute(kind string) error {
	f, err := in.feed(kind)
	if err != nil {
		return err
	}
	if f.Track.Mute() {
		log.Info().Str("module", "media").Str("kind", kind).Msg("track muted")
	}
	return nil
}

func (in *Ingest) Unmute(kind string) error {
	f, err := in.feed(kind)
	if err != nil {
		return err
	}
	if f.Track.Unmute() {
		log.Info().Str("module", "media").Str("kind", kind).Msg("track unmuted")
	}
	return nil
}

func (in *Ingest) Stats() []FeedStats {
	in.mu.RLock()
	defer in.mu.RUnlock()
	out := make([]FeedStats, 0, len(in.feeds))
	for _, f := range in.feeds {
		out = append(out, FeedStats{
			Kind:      f.Track.Kind,
			State:     f.Track.State().String(),
			Addr:      f.conn.LocalAddr().String(),
			Forwarded: f.Track.forwarded.Load(),
			Dropped:   f.Track.dropped.Load(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Close stops every feed and waits for the loops to exit.
func (in *Ingest) Close() {
	in.mu.RLock()
	for _, f := range in.feeds {
		f.Track.Retire()
		_ = f.conn.Close()
	}
	in.mu.RUnlock()
	in.wg.Wait()
}
