// Package presence keeps a Redis directory of live rooms so lobbies can list
// them without asking the signaling server.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/Broadcast/internal/core"
	"github.com/dkeye/Broadcast/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	liveRoomsKey = "rooms:live"
	roomTTL      = 24 * time.Hour
)

func roomKey(id domain.RoomID) string    { return "room:" + string(id) }
func viewersKey(id domain.RoomID) string { return "room:" + string(id) + ":viewers" }

// roomRecord is the JSON stored under room:<id>.
type roomRecord struct {
	ID          domain.RoomID     `json:"id"`
	Name        domain.RoomName   `json:"name"`
	CoverImage  string            `json:"coverImage,omitempty"`
	Mode        string            `json:"mode"`
	Broadcaster domain.User       `json:"broadcaster"`
	Relay       *domain.RelayInfo `json:"relay,omitempty"`
	LiveSince   time.Time         `json:"liveSince"`
}

func newRecord(room core.LiveRoom, now time.Time) roomRecord {
	return roomRecord{
		ID:          room.ID,
		Name:        room.Name,
		CoverImage:  room.CoverImage,
		Mode:        room.Mode.String(),
		Broadcaster: room.Broadcaster,
		Relay:       room.Relay,
		LiveSince:   now.UTC(),
	}
}

type Options struct {
	Addr     string
	Password string
	DB       int
}

// Directory implements core.Presence on Redis.
type Directory struct {
	client *redis.Client
}

var _ core.Presence = (*Directory)(nil)

// Connect builds the client and pings the server once.
func Connect(ctx context.Context, opts Options) (*Directory, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info().Str("module", "presence").Str("addr", opts.Addr).Msg("redis connected")
	return &Directory{client: client}, nil
}

func (d *Directory) Announce(ctx context.Context, room core.LiveRoom) error {
	data, err := json.Marshal(newRecord(room, time.Now()))
	if err != nil {
		return err
	}
	_, err = d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, roomKey(room.ID), data, roomTTL)
		pipe.Del(ctx, viewersKey(room.ID))
		pipe.SAdd(ctx, liveRoomsKey, string(room.ID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("announce room %s: %w", room.ID, err)
	}
	log.Info().Str("module", "presence").Str("room", string(room.ID)).Msg("room announced")
	return nil
}

func (d *Directory) ViewerJoined(ctx context.Context, room domain.RoomID, peer domain.PeerID) error {
	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, viewersKey(room), string(peer))
		pipe.Expire(ctx, viewersKey(room), roomTTL)
		return nil
	})
	return err
}

func (d *Directory) ViewerLeft(ctx context.Context, room domain.RoomID, peer domain.PeerID) error {
	return d.client.SRem(ctx, viewersKey(room), string(peer)).Err()
}

func (d *Directory) Withdraw(ctx context.Context, room domain.RoomID) error {
	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, liveRoomsKey, string(room))
		pipe.Del(ctx, roomKey(room), viewersKey(room))
		return nil
	})
	if err != nil {
		return fmt.Errorf("withdraw room %s: %w", room, err)
	}
	log.Info().Str("module", "presence").Str("room", string(room)).Msg("room withdrawn")
	return nil
}

// Viewers reports how many viewers the directory counts for room.
func (d *Directory) Viewers(ctx context.Context, room domain.RoomID) (int64, error) {
	return d.client.SCard(ctx, viewersKey(room)).Result()
}

func (d *Directory) Close() error {
	return d.client.Close()
}
