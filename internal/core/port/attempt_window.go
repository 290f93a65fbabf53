package port

import (
	"context"
	"time"
)

// AttemptWindowStore tracks scan attempts inside a sliding window, keyed by
// (session, student). It backs both the rapid-attempt fraud signal and the
// scan-submission rate limit.
type AttemptWindowStore interface {
	RecordAttempt(ctx context.Context, identifier string, at time.Time) error
	CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error)
	TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error
}
