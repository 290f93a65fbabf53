package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/campus-platform-attendance/internal/core/domain"
	"github.com/arklim/campus-platform-attendance/internal/core/port"
	"github.com/arklim/campus-platform-attendance/internal/repository"
)

var (
	// ErrSessionNotFound indicates that the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionNotActive indicates the session is not accepting scans or rotations.
	ErrSessionNotActive = errors.New("session not active")
	// ErrSessionForbidden indicates the session is not owned by the caller.
	ErrSessionForbidden = errors.New("session not owned by caller")
)

// defaultTokenCacheTTL bounds how long a cached current token may outlive its
// last rotation before scan-path readers fall back to the repository.
const defaultTokenCacheTTL = 5 * time.Minute

// OpenSessionInput carries everything needed to schedule a session.
type OpenSessionInput struct {
	CourseID string
	OwnerID  string
	Geofence domain.Geofence
	OpensAt  time.Time
	ClosesAt time.Time
	Security domain.SecurityConfig
}

// SessionStatus summarises a session for the instructor dashboard.
type SessionStatus struct {
	Session       domain.AttendanceSession
	PresentCount  int
	LateCount     int
	RejectedCount int
}

// SessionService owns the attendance session lifecycle and its rotating tokens.
type SessionService struct {
	sessions   port.SessionRepository
	attempts   port.AttemptRepository
	tokenCache port.SessionTokenCache
	minter     port.TokenMinter
	events     port.EventPublisher
	metrics    port.MetricsRecorder
	logger     *zap.Logger
	cacheTTL   time.Duration
	now        func() time.Time
}

// NewSessionService constructs a SessionService.
func NewSessionService(sessions port.SessionRepository, attempts port.AttemptRepository, minter port.TokenMinter, events port.EventPublisher, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &SessionService{
		sessions: sessions,
		attempts: attempts,
		minter:   minter,
		events:   events,
		logger:   logger,
		cacheTTL: defaultTokenCacheTTL,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the internal clock for deterministic tests.
func (s *SessionService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// WithTokenCache injects the fast-path token cache used by scan verification.
func (s *SessionService) WithTokenCache(cache port.SessionTokenCache, ttl time.Duration) *SessionService {
	if cache != nil {
		s.tokenCache = cache
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
	return s
}

// WithMetrics injects the rotation counter.
func (s *SessionService) WithMetrics(metrics port.MetricsRecorder) *SessionService {
	s.metrics = metrics
	return s
}

// Open schedules a new session owned by the supplied instructor.
func (s *SessionService) Open(ctx context.Context, input OpenSessionInput) (*domain.AttendanceSession, error) {
	if strings.TrimSpace(input.CourseID) == "" {
		return nil, fmt.Errorf("course id is required")
	}
	if strings.TrimSpace(input.OwnerID) == "" {
		return nil, fmt.Errorf("owner id is required")
	}

	session, err := domain.NewAttendanceSession(uuid.NewString(), input.CourseID, input.OwnerID, input.Geofence, input.OpensAt, input.ClosesAt, input.Security, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.publishLifecycle(ctx, session)
	s.logger.Info("session scheduled",
		zap.String("session_id", session.ID),
		zap.String("course_id", session.CourseID),
		zap.Time("opens_at", session.OpensAt),
		zap.Time("closes_at", session.ClosesAt),
	)

	return &session, nil
}

// Get fetches a session, applying clock-driven lifecycle transitions first.
func (s *SessionService) Get(ctx context.Context, sessionID string) (*domain.AttendanceSession, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	if err := s.resolveLifecycle(ctx, session); err != nil {
		return nil, err
	}

	return session, nil
}

// Activate explicitly transitions a SCHEDULED session to ACTIVE.
func (s *SessionService) Activate(ctx context.Context, sessionID, actorID string) (*domain.AttendanceSession, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwner(session, actorID); err != nil {
		return nil, err
	}

	if session.State == domain.SessionStateActive {
		return session, nil
	}
	if err := session.Activate(s.now()); err != nil {
		return nil, err
	}
	if err := s.sessions.UpdateState(ctx, session.ID, domain.SessionStateScheduled, domain.SessionStateActive); err != nil {
		return nil, fmt.Errorf("activate session: %w", err)
	}

	s.publishLifecycle(ctx, *session)
	return session, nil
}

// IssueToken mints and installs a fresh token, invalidating the previous one
// immediately. Safe to call repeatedly; only the latest token validates.
func (s *SessionService) IssueToken(ctx context.Context, sessionID, actorID string) (string, int64, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return "", 0, err
	}
	if err := s.checkOwner(session, actorID); err != nil {
		return "", 0, err
	}
	if session.State != domain.SessionStateActive {
		return "", 0, ErrSessionNotActive
	}

	token, err := s.minter.Mint()
	if err != nil {
		return "", 0, fmt.Errorf("mint token: %w", err)
	}

	// The cached pre-rotation token must never outlive the rotation. Clearing
	// it before the guarded update means scan-path readers fall back to the
	// repository until the new token is cached; they never validate against a
	// rotated-out value.
	if s.tokenCache != nil {
		if err := s.tokenCache.Invalidate(ctx, session.ID); err != nil {
			return "", 0, fmt.Errorf("invalidate token cache: %w", err)
		}
	}

	// Version-guarded update: when a concurrent rotation wins, this one fails
	// and the winner's token is the only valid one.
	version, err := s.sessions.RotateToken(ctx, session.ID, token, session.TokenVersion)
	if err != nil {
		return "", 0, fmt.Errorf("rotate token: %w", err)
	}

	if s.tokenCache != nil {
		if err := s.tokenCache.Set(ctx, session.ID, token, version, s.cacheTTL); err != nil {
			// A failed write leaves the entry in unknown state. Clear it so
			// readers keep falling back to the repository; if even that fails
			// the rotation is reported as failed.
			s.logger.Warn("token cache update failed", zap.String("session_id", session.ID), zap.Error(err))
			if invErr := s.tokenCache.Invalidate(ctx, session.ID); invErr != nil {
				return "", 0, fmt.Errorf("invalidate token cache after failed update: %w", invErr)
			}
		}
	}

	if s.metrics != nil {
		s.metrics.ObserveTokenRotation()
	}
	s.logger.Info("session token rotated",
		zap.String("session_id", session.ID),
		zap.Int64("token_version", version),
	)

	return token, version, nil
}

// CurrentToken returns the latest committed token, preferring the cache.
// Stale or missing cache entries fall back to the repository so readers never
// validate against anything but the latest version.
func (s *SessionService) CurrentToken(ctx context.Context, sessionID string) (string, int64, error) {
	if s.tokenCache != nil {
		token, version, ok, err := s.tokenCache.Get(ctx, sessionID)
		if err != nil {
			s.logger.Warn("token cache read failed", zap.String("session_id", sessionID), zap.Error(err))
		} else if ok {
			return token, version, nil
		}
	}

	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return "", 0, err
	}
	if session.State != domain.SessionStateActive {
		return "", 0, ErrSessionNotActive
	}

	return session.CurrentToken, session.TokenVersion, nil
}

// Close transitions an ACTIVE session to ENDED.
func (s *SessionService) Close(ctx context.Context, sessionID, actorID string) (*domain.AttendanceSession, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwner(session, actorID); err != nil {
		return nil, err
	}

	if session.State == domain.SessionStateEnded {
		return session, nil
	}
	if err := session.End(s.now()); err != nil {
		return nil, err
	}
	if err := s.sessions.UpdateState(ctx, session.ID, domain.SessionStateActive, domain.SessionStateEnded); err != nil {
		return nil, fmt.Errorf("close session: %w", err)
	}

	s.invalidateToken(ctx, session.ID)
	s.publishLifecycle(ctx, *session)
	return session, nil
}

// Cancel transitions any non-terminal session to CANCELLED.
func (s *SessionService) Cancel(ctx context.Context, sessionID, actorID string) (*domain.AttendanceSession, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwner(session, actorID); err != nil {
		return nil, err
	}

	previous := session.State
	if err := session.Cancel(s.now()); err != nil {
		return nil, err
	}
	if err := s.sessions.UpdateState(ctx, session.ID, previous, domain.SessionStateCancelled); err != nil {
		return nil, fmt.Errorf("cancel session: %w", err)
	}

	s.invalidateToken(ctx, session.ID)
	s.publishLifecycle(ctx, *session)
	return session, nil
}

// Status returns the session with its attendance counts.
func (s *SessionService) Status(ctx context.Context, sessionID string) (*SessionStatus, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	counts, err := s.attempts.CountRecordsBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}

	return &SessionStatus{
		Session:       *session,
		PresentCount:  counts[domain.AttendanceStatusPresent],
		LateCount:     counts[domain.AttendanceStatusLate],
		RejectedCount: counts[domain.AttendanceStatusRejected],
	}, nil
}

// resolveLifecycle applies clock-driven transitions: SCHEDULED sessions become
// ACTIVE at open time, ACTIVE sessions become ENDED past the window deadline.
// Transitions are persisted so every reader observes the same state.
func (s *SessionService) resolveLifecycle(ctx context.Context, session *domain.AttendanceSession) error {
	now := s.now()

	if session.State == domain.SessionStateScheduled && !now.Before(session.OpensAt) {
		if err := session.Activate(now); err != nil {
			return err
		}
		if err := s.sessions.UpdateState(ctx, session.ID, domain.SessionStateScheduled, domain.SessionStateActive); err != nil && !errors.Is(err, repository.ErrVersionConflict) {
			return fmt.Errorf("auto-activate session: %w", err)
		}
		s.publishLifecycle(ctx, *session)
	}

	if session.State == domain.SessionStateActive && now.After(session.WindowDeadline()) {
		if err := session.End(now); err != nil {
			return err
		}
		if err := s.sessions.UpdateState(ctx, session.ID, domain.SessionStateActive, domain.SessionStateEnded); err != nil && !errors.Is(err, repository.ErrVersionConflict) {
			return fmt.Errorf("auto-end session: %w", err)
		}
		s.invalidateToken(ctx, session.ID)
		s.publishLifecycle(ctx, *session)
	}

	return nil
}

func (s *SessionService) checkOwner(session *domain.AttendanceSession, actorID string) error {
	if actorID == "" {
		return nil
	}
	if !strings.EqualFold(session.OwnerID, actorID) {
		return ErrSessionForbidden
	}
	return nil
}

func (s *SessionService) invalidateToken(ctx context.Context, sessionID string) {
	if s.tokenCache == nil {
		return
	}
	if err := s.tokenCache.Invalidate(ctx, sessionID); err != nil {
		s.logger.Warn("token cache invalidation failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *SessionService) publishLifecycle(ctx context.Context, session domain.AttendanceSession) {
	if s.events == nil {
		return
	}
	event := domain.SessionLifecycleEvent{
		EventID:      uuid.NewString(),
		SessionID:    session.ID,
		CourseID:     session.CourseID,
		State:        session.State,
		TokenVersion: session.TokenVersion,
		At:           s.now(),
	}
	if err := s.events.PublishSessionLifecycle(ctx, event); err != nil {
		s.logger.Warn("publish session lifecycle failed", zap.String("session_id", session.ID), zap.Error(err))
	}
}
