package port

import (
	"context"
	"time"

	"github.com/arklim/campus-platform-attendance/internal/core/domain"
)

// DeviceRepository stores per-student device fingerprint history.
type DeviceRepository interface {
	// Get returns the stored fingerprint entry for a (student, fingerprint) pair.
	Get(ctx context.Context, studentID, fingerprint string) (*domain.DeviceFingerprint, error)
	// Upsert records an observation: inserts the pair on first sight, bumps
	// LastSeen afterwards. Returns the stored entry.
	Upsert(ctx context.Context, studentID, fingerprint string, seenAt time.Time) (*domain.DeviceFingerprint, error)
	// LatestForStudent returns the most recently seen fingerprint for the student.
	LatestForStudent(ctx context.Context, studentID string) (*domain.DeviceFingerprint, error)
	// FindOtherHolder returns a different student associated with the same
	// fingerprint whose last-seen timestamp is at or after the supplied instant.
	FindOtherHolder(ctx context.Context, fingerprint, excludeStudentID string, since time.Time) (*domain.DeviceFingerprint, error)
	// BumpChangeCount increments the device-change counter for the student.
	BumpChangeCount(ctx context.Context, studentID, fingerprint string) error
}
