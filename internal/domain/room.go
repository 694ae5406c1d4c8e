package domain

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MinRoomNameLen = 3
	MaxRoomNameLen = 10
)

var (
	ErrRoomNameTooShort = errors.New("room name too short")
	ErrRoomNameTooLong  = errors.New("room name too long")
)

type (
	RoomName string
	RoomID   string
)

func NewRoomID() RoomID { return RoomID(uuid.NewString()) }

// ParseRoomName trims the input and enforces the length bounds in runes.
func ParseRoomName(raw string) (RoomName, error) {
	name := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(name)
	switch {
	case n < MinRoomNameLen:
		return "", ErrRoomNameTooShort
	case n > MaxRoomNameLen:
		return "", ErrRoomNameTooLong
	}
	return RoomName(name), nil
}

// RelayInfo points viewers at the relay playback endpoints of a room.
type RelayInfo struct {
	StreamURL string `json:"streamUrl" msgpack:"streamUrl"`
	FlvURL    string `json:"flvUrl" msgpack:"flvUrl"`
}

// TrackFlags tells viewers which media kinds the broadcaster carries.
type TrackFlags struct {
	Audio bool `json:"audio" msgpack:"audio"`
	Video bool `json:"video" msgpack:"video"`
}

type Room struct {
	ID         RoomID
	Name       RoomName
	CoverImage string
}
