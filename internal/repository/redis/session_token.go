package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/campus-platform-attendance/internal/core/port"
)

const defaultSessionTokenPrefix = "attend:session_token"

// SessionTokenRepository caches the current token and its version per session
// for low-latency scan checks. The cache is advisory: a miss or a stale entry
// only costs a repository read, never a wrong acceptance.
type SessionTokenRepository struct {
	client *red.Client
	prefix string
}

// NewSessionTokenRepository constructs a session token cache helper.
func NewSessionTokenRepository(client *red.Client, keyPrefix string) *SessionTokenRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultSessionTokenPrefix
	}

	return &SessionTokenRepository{client: client, prefix: prefix}
}

var _ port.SessionTokenCache = (*SessionTokenRepository)(nil)

// Set stores the token and version with the provided TTL. The two fields are
// written in one HSet so a reader never observes a token from one rotation
// paired with the version of another.
func (r *SessionTokenRepository) Set(ctx context.Context, sessionID, token string, version int64, ttl time.Duration) error {
	key := r.key(sessionID)
	if key == "" {
		return fmt.Errorf("session id is required")
	}
	if token == "" {
		return fmt.Errorf("token is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, "token", token, "version", strconv.FormatInt(version, 10))
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set session token: %w", err)
	}
	return nil
}

// Get fetches the cached token and version. A cache miss returns ok=false
// with a nil error so callers fall back to the repository.
func (r *SessionTokenRepository) Get(ctx context.Context, sessionID string) (string, int64, bool, error) {
	key := r.key(sessionID)
	if key == "" {
		return "", 0, false, fmt.Errorf("session id is required")
	}

	values, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return "", 0, false, nil
		}
		return "", 0, false, fmt.Errorf("redis get session token: %w", err)
	}
	if len(values) == 0 {
		return "", 0, false, nil
	}

	token := values["token"]
	if token == "" {
		return "", 0, false, nil
	}

	version, parseErr := strconv.ParseInt(values["version"], 10, 64)
	if parseErr != nil {
		// A malformed entry reads as a miss; the next Set repairs it.
		return "", 0, false, nil
	}

	return token, version, true, nil
}

// Invalidate removes the cached entry for the session.
func (r *SessionTokenRepository) Invalidate(ctx context.Context, sessionID string) error {
	key := r.key(sessionID)
	if key == "" {
		return fmt.Errorf("session id is required")
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete session token: %w", err)
	}
	return nil
}

func (r *SessionTokenRepository) key(sessionID string) string {
	trimmed := strings.TrimSpace(sessionID)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", r.prefix, trimmed)
}
