package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/arklim/campus-platform-attendance/internal/core/domain"
	"github.com/arklim/campus-platform-attendance/internal/core/port"
	"github.com/arklim/campus-platform-attendance/internal/repository"
)

// ErrNoSessions indicates an analytics request that resolved to zero sessions.
var ErrNoSessions = errors.New("no sessions to summarize")

// AnalyticsService derives security metrics from stored attempts and records.
// It holds no state of its own: summaries are recomputed from storage on every
// call, so cache invalidation is plain recomputation.
type AnalyticsService struct {
	attempts port.AttemptRepository
	logger   *zap.Logger
}

// NewAnalyticsService constructs an AnalyticsService.
func NewAnalyticsService(attempts port.AttemptRepository, logger *zap.Logger) *AnalyticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsService{attempts: attempts, logger: logger}
}

// SummarizeSessions computes SecurityMetrics across the supplied sessions.
func (s *AnalyticsService) SummarizeSessions(ctx context.Context, sessionIDs []string) (*domain.SecurityMetrics, error) {
	if len(sessionIDs) == 0 {
		return nil, ErrNoSessions
	}

	records, err := s.attempts.ListRecordsBySessions(ctx, sessionIDs)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoSessions
		}
		return nil, fmt.Errorf("list records: %w", err)
	}

	metrics := domain.SecurityMetrics{SessionIDs: sessionIDs}
	fraudCount := 0

	// One record per terminal decision, so record counts are attempt counts.
	for _, record := range records {
		metrics.TotalAttempts++
		switch record.Status {
		case domain.AttendanceStatusPresent:
			metrics.AcceptedAttempts++
			metrics.PresentCount++
		case domain.AttendanceStatusLate:
			metrics.AcceptedAttempts++
			metrics.LateCount++
		default:
			metrics.RejectedAttempts++
		}
		if record.FlaggedForReview {
			metrics.FlaggedCount++
		}
		if record.RiskLevel == domain.RiskLevelHigh || record.RiskLevel == domain.RiskLevelCritical {
			fraudCount++
		}
		switch record.Reason {
		case domain.ReasonOutsideGeofence, domain.ReasonPoorLocationAccuracy:
			metrics.Violations.Location++
		case domain.ReasonTooEarly, domain.ReasonOutsideTimeWindow:
			metrics.Violations.Time++
		case domain.ReasonTokenExpired:
			metrics.Violations.Token++
		case domain.ReasonFraudRejected:
			metrics.Violations.Device++
		}
	}

	if metrics.TotalAttempts > 0 {
		metrics.SuccessRate = float64(metrics.AcceptedAttempts) / float64(metrics.TotalAttempts)
		metrics.FraudRate = float64(fraudCount) / float64(metrics.TotalAttempts)
	}

	return &metrics, nil
}

const (
	defaultAttemptPageSize = 50
	maxAttemptPageSize     = 200
)

// ListSessionAttempts pages the raw scan attempt log for one session, newest
// first. The log is append-only, so pages are stable under concurrent scans.
func (s *AnalyticsService) ListSessionAttempts(ctx context.Context, sessionID string, limit, offset int) ([]domain.ScanAttempt, error) {
	if sessionID == "" {
		return nil, ErrNoSessions
	}
	if limit <= 0 {
		limit = defaultAttemptPageSize
	}
	if limit > maxAttemptPageSize {
		limit = maxAttemptPageSize
	}
	if offset < 0 {
		offset = 0
	}

	attempts, err := s.attempts.ListAttemptsBySession(ctx, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return attempts, nil
}

// SummarizeCourse resolves a course's sessions and summarizes them.
func (s *AnalyticsService) SummarizeCourse(ctx context.Context, courseID string) (*domain.SecurityMetrics, error) {
	sessionIDs, err := s.attempts.SessionIDsByCourse(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("resolve course sessions: %w", err)
	}
	return s.SummarizeSessions(ctx, sessionIDs)
}
