package port

import (
	"context"

	"github.com/arklim/campus-platform-attendance/internal/core/domain"
)

// SessionRepository deals with attendance session storage.
type SessionRepository interface {
	Create(ctx context.Context, session domain.AttendanceSession) error
	Get(ctx context.Context, sessionID string) (*domain.AttendanceSession, error)
	// UpdateState persists a lifecycle transition. Implementations must guard
	// the transition with the expected current state so concurrent closers and
	// cancellers cannot both win.
	UpdateState(ctx context.Context, sessionID string, from, to domain.SessionState) error
	// RotateToken installs a new token, returning the resulting version.
	// Single-writer per session: the update is guarded by the stored version.
	RotateToken(ctx context.Context, sessionID, token string, expectedVersion int64) (int64, error)
	ListByCourse(ctx context.Context, courseID string) ([]domain.AttendanceSession, error)
	// ListActive returns every ACTIVE session; used by the rotator sweep.
	ListActive(ctx context.Context) ([]domain.AttendanceSession, error)
}
