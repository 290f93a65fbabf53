package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	red "github.com/redis/go-redis/v9"

	"github.com/arklim/campus-platform-attendance/internal/core/port"
)

// SlidingWindowConfig defines configuration for the sliding attempt window.
type SlidingWindowConfig struct {
	KeyPrefix string
	TTL       time.Duration
}

// AttemptWindowRepository persists scan attempts in Redis sorted sets scored
// by timestamp. It backs the rapid-attempt fraud signal and the submission
// rate limit.
type AttemptWindowRepository struct {
	client *red.Client
	cfg    SlidingWindowConfig
}

// NewAttemptWindowRepository constructs a repository using the provided Redis client and config.
func NewAttemptWindowRepository(client *red.Client, cfg SlidingWindowConfig) *AttemptWindowRepository {
	return &AttemptWindowRepository{client: client, cfg: cfg}
}

var _ port.AttemptWindowStore = (*AttemptWindowRepository)(nil)

// RecordAttempt stores the provided timestamp inside the window and applies TTL.
func (r *AttemptWindowRepository) RecordAttempt(ctx context.Context, identifier string, at time.Time) error {
	key := r.key(identifier)
	member := red.Z{Score: float64(at.UnixNano()), Member: windowMember(at)}

	if err := r.client.ZAdd(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("redis zadd: %w", err)
	}

	if r.cfg.TTL > 0 {
		if err := r.client.Expire(ctx, key, r.cfg.TTL).Err(); err != nil {
			return fmt.Errorf("redis expire: %w", err)
		}
	}

	return nil
}

// CountAttempts returns how many attempts occurred within the window ending at reference time.
func (r *AttemptWindowRepository) CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	if window <= 0 {
		return 0, errors.New("window must be positive")
	}

	key := r.key(identifier)
	min := fmt.Sprintf("%f", float64(reference.Add(-window).UnixNano()))
	max := fmt.Sprintf("%f", float64(reference.UnixNano()))

	count, err := r.client.ZCount(ctx, key, min, max).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcount: %w", err)
	}

	return int(count), nil
}

// TrimWindow removes attempts older than the provided window relative to reference time.
func (r *AttemptWindowRepository) TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error {
	if window <= 0 {
		return errors.New("window must be positive")
	}

	key := r.key(identifier)
	threshold := fmt.Sprintf("%f", float64(reference.Add(-window).UnixNano()))

	if err := r.client.ZRemRangeByScore(ctx, key, "-inf", threshold).Err(); err != nil {
		return fmt.Errorf("redis zremrangebyscore: %w", err)
	}

	return nil
}

// windowMember builds a unique member per attempt. The timestamp alone would
// collapse attempts landing on the same nanosecond into one entry and
// undercount the window.
func windowMember(at time.Time) string {
	return fmt.Sprintf("%d:%s", at.UnixNano(), uuid.NewString())
}

func (r *AttemptWindowRepository) key(identifier string) string {
	if r.cfg.KeyPrefix == "" {
		return identifier
	}
	return fmt.Sprintf("%s:%s", r.cfg.KeyPrefix, identifier)
}
