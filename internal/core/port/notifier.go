package port

import (
	"context"

	"github.com/arklim/campus-platform-attendance/internal/core/domain"
)

// DecisionNotifier informs the notification collaborator about a decision.
// Strictly fire-and-forget: failures must never roll back the decision.
type DecisionNotifier interface {
	NotifyDecision(ctx context.Context, studentID string, decision domain.Decision) error
}
