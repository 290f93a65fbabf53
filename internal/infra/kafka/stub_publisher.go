package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/campus-platform-attendance/internal/core/domain"
	"github.com/arklim/campus-platform-attendance/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for development environments.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, sessionID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("Stub event published",
		zap.String("event_type", eventType),
		zap.String("session_id", sessionID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishScanVerified logs attendance.scan.verified events.
func (p *StubPublisher) PublishScanVerified(_ context.Context, event domain.ScanVerifiedEvent) error {
	payload := map[string]any{
		"session_id":    event.SessionID,
		"course_id":     event.CourseID,
		"student_id":    event.StudentID,
		"status":        event.Status,
		"reason":        event.Reason,
		"risk_score":    event.RiskScore,
		"risk_level":    event.RiskLevel,
		"attempt_count": event.AttemptCount,
		"verified_at":   event.VerifiedAt,
	}
	p.logEvent("attendance.scan.verified", event.SessionID, event.VerifiedAt, payload)
	return nil
}

// PublishFraudAlert logs attendance.fraud.alert events.
func (p *StubPublisher) PublishFraudAlert(_ context.Context, event domain.FraudAlertEvent) error {
	payload := map[string]any{
		"session_id": event.SessionID,
		"course_id":  event.CourseID,
		"student_id": event.StudentID,
		"risk_score": event.RiskScore,
		"risk_level": event.RiskLevel,
		"factors":    event.Factors,
		"kind":       event.Kind,
		"raised_at":  event.RaisedAt,
	}
	p.logEvent("attendance.fraud.alert", event.SessionID, event.RaisedAt, payload)
	return nil
}

// PublishSessionLifecycle logs attendance.session.lifecycle events.
func (p *StubPublisher) PublishSessionLifecycle(_ context.Context, event domain.SessionLifecycleEvent) error {
	payload := map[string]any{
		"session_id":    event.SessionID,
		"course_id":     event.CourseID,
		"state":         event.State,
		"token_version": event.TokenVersion,
		"at":            event.At,
	}
	p.logEvent("attendance.session.lifecycle", event.SessionID, event.At, payload)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
