package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/arklim/campus-platform-attendance/internal/core/domain"
	"github.com/arklim/campus-platform-attendance/internal/core/port"
	applogger "github.com/arklim/campus-platform-attendance/internal/infra/logger"
)

// LoggingNotificationDispatcher records decision notifications for
// observability without delivering them. It stands in for the campus
// notification collaborator; delivery failures never affect decisions.
type LoggingNotificationDispatcher struct {
	logger *zap.Logger
}

// NewLoggingNotificationDispatcher constructs a notification dispatcher backed by structured logging.
func NewLoggingNotificationDispatcher(logger *zap.Logger) port.DecisionNotifier {
	if logger == nil {
		return noopDispatcher{}
	}
	return &LoggingNotificationDispatcher{logger: logger}
}

// NotifyDecision logs the decision outcome destined for the student.
func (d *LoggingNotificationDispatcher) NotifyDecision(_ context.Context, studentID string, decision domain.Decision) error {
	if d == nil || d.logger == nil {
		return nil
	}

	d.logger.Info("dispatch scan decision notification",
		zap.String("student_id", applogger.MaskString(studentID)),
		zap.String("status", string(decision.Status)),
		zap.String("reason", string(decision.Reason)),
		zap.Int("attempt_count", decision.AttemptCount),
		zap.Time("recorded_at", decision.RecordedAt),
	)
	return nil
}

type noopDispatcher struct{}

func (noopDispatcher) NotifyDecision(context.Context, string, domain.Decision) error {
	return nil
}
