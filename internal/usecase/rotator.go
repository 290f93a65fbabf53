package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/campus-platform-attendance/internal/repository"
)

// TokenRotator periodically rotates tokens of ACTIVE sessions and ends
// sessions whose admission window has passed. It is the only background
// writer in the engine; all other mutation happens on request paths.
type TokenRotator struct {
	sessions *SessionService
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	stopOnce sync.Once
	done     chan struct{}
	stopped  chan struct{}
}

// NewTokenRotator constructs a rotator ticking at the supplied interval.
func NewTokenRotator(sessions *SessionService, interval time.Duration, logger *zap.Logger) *TokenRotator {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	rotator := &TokenRotator{
		sessions: sessions,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	rotator.now = func() time.Time { return time.Now().UTC() }
	return rotator
}

// Start launches the rotation loop. It returns immediately; the loop runs
// until Stop is called or the context is cancelled.
func (r *TokenRotator) Start(ctx context.Context) {
	go func() {
		defer close(r.stopped)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.logger.Info("token rotator started", zap.Duration("interval", r.interval))

		for {
			select {
			case <-ticker.C:
				r.sweep(ctx)
			case <-ctx.Done():
				r.logger.Info("token rotator stopping: context cancelled")
				return
			case <-r.done:
				r.logger.Info("token rotator stopping")
				return
			}
		}
	}()
}

// Stop terminates the loop and waits for it to exit.
func (r *TokenRotator) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	<-r.stopped
}

// Sweep runs one rotation pass; exported for triggered (non-periodic) use.
func (r *TokenRotator) Sweep(ctx context.Context) {
	r.sweep(ctx)
}

func (r *TokenRotator) sweep(ctx context.Context) {
	active, err := r.sessions.sessions.ListActive(ctx)
	if err != nil {
		r.logger.Warn("rotator list active sessions failed", zap.Error(err))
		return
	}

	now := r.now()
	for i := range active {
		session := &active[i]

		if now.After(session.WindowDeadline()) {
			if _, err := r.sessions.Close(ctx, session.ID, ""); err != nil && !errors.Is(err, ErrSessionNotActive) {
				r.logger.Warn("rotator close session failed", zap.String("session_id", session.ID), zap.Error(err))
			}
			continue
		}

		if _, _, err := r.sessions.IssueToken(ctx, session.ID, ""); err != nil {
			// Version conflicts mean a manual rotation won; nothing to do.
			if errors.Is(err, repository.ErrVersionConflict) || errors.Is(err, ErrSessionNotActive) {
				continue
			}
			r.logger.Warn("rotator token rotation failed", zap.String("session_id", session.ID), zap.Error(err))
		}
	}

	r.logger.Debug("rotation sweep complete",
		zap.Int("active_sessions", len(active)),
		zap.Time("at", now),
	)
}
