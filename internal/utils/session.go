package utils

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNoSession is returned for tokens that are malformed, expired or revoked
var ErrNoSession = errors.New("no active session")

// Sessions issues signed session tokens and keeps the set of live sessions in
// Redis, so a logout revokes the token before it expires.
type Sessions struct {
	rdb    redis.Cmdable
	secret string
	ttl    time.Duration
}

// NewSessions returns a session store signing tokens with secret
func NewSessions(rdb redis.Cmdable, secret string, ttl time.Duration) *Sessions {
	return &Sessions{rdb: rdb, secret: secret, ttl: ttl}
}

// TTL is the lifetime of a session
func (s *Sessions) TTL() time.Duration { return s.ttl }

// sessionKey is the Redis key of a live session
func sessionKey(id string) string { return "session:" + id }

// Issue starts a session for userID and returns its token
func (s *Sessions) Issue(ctx context.Context, userID uint) (string, error) {
	id := uuid.NewString()
	token, err := GenerateJWT(userID, id, s.secret, s.ttl)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKey(id), userID, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

// Resolve returns the user id of a live session token
func (s *Sessions) Resolve(ctx context.Context, token string) (uint, error) {
	claims, err := ParseJWT(token, s.secret)
	if err != nil || claims.ID == "" {
		return 0, ErrNoSession
	}
	stored, err := s.rdb.Get(ctx, sessionKey(claims.ID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNoSession
	} else if err != nil {
		return 0, fmt.Errorf("load session: %w", err)
	}
	if stored != strconv.FormatUint(uint64(claims.UserID), 10) {
		return 0, ErrNoSession
	}
	return claims.UserID, nil
}

// Revoke ends the session of token. Unknown or invalid tokens are ignored.
func (s *Sessions) Revoke(ctx context.Context, token string) error {
	claims, err := ParseJWT(token, s.secret)
	if err != nil || claims.ID == "" {
		return nil
	}
	return s.rdb.Del(ctx, sessionKey(claims.ID)).Err()
}
