// Package domain contains entities without transport logic, just meta-data.
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxUsernameLen = 36

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

type UserID string

// User is the broadcaster identity announced in the join payload.
type User struct {
	ID       UserID `json:"id" msgpack:"id"`
	Username string `json:"name" msgpack:"name"`
	Avatar   string `json:"avatar,omitempty" msgpack:"avatar,omitempty"`
}

func NewUser(username, avatar string) (*User, error) {
	if err := validUsername(username); err != nil {
		return nil, err
	}
	id := UserID(uuid.NewString())
	return &User{ID: id, Username: username, Avatar: avatar}, nil
}

func (u *User) SetUsername(username string) error {
	if err := validUsername(username); err != nil {
		return err
	}
	u.Username = username
	return nil
}

func validUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}
