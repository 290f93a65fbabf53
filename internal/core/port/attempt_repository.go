package port

import (
	"context"
	"time"

	"github.com/arklim/campus-platform-attendance/internal/core/domain"
)

// AttemptRepository persists the append-only scan attempt log and the derived
// attendance records.
type AttemptRepository interface {
	// AppendAttempt stores an immutable scan attempt. Attempts are never updated.
	AppendAttempt(ctx context.Context, attempt domain.ScanAttempt) error
	// InsertRecord writes the attendance record for a (student, session) pair.
	// A unique index over accepted records makes this an atomic
	// insert-or-reject: a concurrent accepted record surfaces as
	// repository.ErrDuplicate, never a silent double write.
	InsertRecord(ctx context.Context, record domain.AttendanceRecord) error
	// GetAcceptedRecord returns the PRESENT/LATE record for the pair, if any.
	GetAcceptedRecord(ctx context.Context, sessionID, studentID string) (*domain.AttendanceRecord, error)
	CountAttempts(ctx context.Context, sessionID, studentID string) (int, error)
	// CountPriorFraudFlags counts HIGH/CRITICAL records for the student across
	// sessions before the supplied instant; feeds the historical risk factor.
	CountPriorFraudFlags(ctx context.Context, studentID string, before time.Time) (int, error)
	ListAttemptsBySession(ctx context.Context, sessionID string, limit, offset int) ([]domain.ScanAttempt, error)
	ListRecordsBySessions(ctx context.Context, sessionIDs []string) ([]domain.AttendanceRecord, error)
	ListAttemptLocations(ctx context.Context, sessionID, studentID string, limit int) ([]domain.Location, error)
	// CountAcceptedRecords reports accepted records per state for session status counts.
	CountRecordsBySession(ctx context.Context, sessionID string) (map[domain.AttendanceStatus]int, error)
	SessionIDsByCourse(ctx context.Context, courseID string) ([]string, error)
}
