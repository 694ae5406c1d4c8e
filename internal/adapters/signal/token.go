package signal

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Broadcast/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid signaling token")

// Claims identify the broadcaster to the signaling server.
type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	RoomID string `json:"room_id,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for user in room. An empty secret yields
// an empty token and the dial goes out unauthenticated.
func IssueToken(secret string, user domain.User, room domain.RoomID, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", nil
	}
	now := time.Now()
	claims := Claims{
		UserID: string(user.ID),
		Name:   user.Username,
		RoomID: string(room),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a token issued with secret.
func ParseToken(secret, raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
