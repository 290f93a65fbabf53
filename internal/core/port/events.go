package port

import (
	"context"

	"github.com/arklim/campus-platform-attendance/internal/core/domain"
)

// EventPublisher fans attendance events out to the message bus.
type EventPublisher interface {
	PublishScanVerified(ctx context.Context, event domain.ScanVerifiedEvent) error
	PublishFraudAlert(ctx context.Context, event domain.FraudAlertEvent) error
	PublishSessionLifecycle(ctx context.Context, event domain.SessionLifecycleEvent) error
}
