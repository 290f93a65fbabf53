package port

import (
	"context"
	"time"
)

// SessionTokenCache caches the current token per session for fast scan-path
// reads. Readers treat any miss, staleness, or error as "unknown" and fall
// back to the repository; a mismatch always fails closed as TokenExpired.
type SessionTokenCache interface {
	Set(ctx context.Context, sessionID, token string, version int64, ttl time.Duration) error
	// Get returns the cached token and version. A cache miss returns ok=false
	// with a nil error.
	Get(ctx context.Context, sessionID string) (token string, version int64, ok bool, err error)
	Invalidate(ctx context.Context, sessionID string) error
}
