package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/campus-platform-attendance/internal/core/domain"
	"github.com/arklim/campus-platform-attendance/internal/core/port"
	"github.com/arklim/campus-platform-attendance/internal/repository"
)

const deviceColumns = "student_id, fingerprint, first_seen, last_seen, change_count"

// DeviceRepository implements port.DeviceRepository for PostgreSQL. Rows are
// keyed by (student_id, fingerprint); a student accumulates one row per
// distinct device ever observed.
type DeviceRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewDeviceRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewDeviceRepository(exec pgExecutor) *DeviceRepository {
	return &DeviceRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

var _ port.DeviceRepository = (*DeviceRepository)(nil)

// Get returns the stored entry for a (student, fingerprint) pair.
func (r *DeviceRepository) Get(ctx context.Context, studentID, fingerprint string) (*domain.DeviceFingerprint, error) {
	sql, args, err := r.builder.
		Select(deviceColumns).
		From("attendance.devices").
		Where(squirrel.Eq{"student_id": studentID, "fingerprint": fingerprint}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select device sql: %w", err)
	}

	device, err := scanDevice(r.exec.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("select device: %w", err)
	}

	return device, nil
}

// Upsert records an observation of the fingerprint for the student. The
// insert-or-update is a single statement so concurrent scans cannot race a
// read-modify-write.
func (r *DeviceRepository) Upsert(ctx context.Context, studentID, fingerprint string, seenAt time.Time) (*domain.DeviceFingerprint, error) {
	row := r.exec.QueryRow(ctx,
		`INSERT INTO attendance.devices (student_id, fingerprint, first_seen, last_seen, change_count)
		 VALUES ($1, $2, $3, $3, 0)
		 ON CONFLICT (student_id, fingerprint)
		 DO UPDATE SET last_seen = EXCLUDED.last_seen
		 RETURNING `+deviceColumns,
		studentID, fingerprint, seenAt,
	)

	device, err := scanDevice(row)
	if err != nil {
		return nil, fmt.Errorf("upsert device: %w", err)
	}

	return device, nil
}

// LatestForStudent returns the most recently seen fingerprint for the student.
func (r *DeviceRepository) LatestForStudent(ctx context.Context, studentID string) (*domain.DeviceFingerprint, error) {
	sql, args, err := r.builder.
		Select(deviceColumns).
		From("attendance.devices").
		Where(squirrel.Eq{"student_id": studentID}).
		OrderBy("last_seen DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build latest device sql: %w", err)
	}

	device, err := scanDevice(r.exec.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("select latest device: %w", err)
	}

	return device, nil
}

// FindOtherHolder returns a different student recently associated with the
// same fingerprint, if one exists.
func (r *DeviceRepository) FindOtherHolder(ctx context.Context, fingerprint, excludeStudentID string, since time.Time) (*domain.DeviceFingerprint, error) {
	sql, args, err := r.builder.
		Select(deviceColumns).
		From("attendance.devices").
		Where(squirrel.Eq{"fingerprint": fingerprint}).
		Where(squirrel.NotEq{"student_id": excludeStudentID}).
		Where(squirrel.GtOrEq{"last_seen": since}).
		OrderBy("last_seen DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build other holder sql: %w", err)
	}

	device, err := scanDevice(r.exec.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("select other holder: %w", err)
	}

	return device, nil
}

// BumpChangeCount increments the device-change counter for the pair.
func (r *DeviceRepository) BumpChangeCount(ctx context.Context, studentID, fingerprint string) error {
	tag, err := r.exec.Exec(ctx,
		`UPDATE attendance.devices SET change_count = change_count + 1 WHERE student_id = $1 AND fingerprint = $2`,
		studentID, fingerprint,
	)
	if err != nil {
		return fmt.Errorf("bump device change count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanDevice(row pgx.Row) (*domain.DeviceFingerprint, error) {
	var (
		device    domain.DeviceFingerprint
		firstSeen time.Time
		lastSeen  time.Time
	)

	if err := row.Scan(
		&device.StudentID,
		&device.Fingerprint,
		&firstSeen,
		&lastSeen,
		&device.ChangeCount,
	); err != nil {
		return nil, err
	}

	device.FirstSeen = firstSeen.UTC()
	device.LastSeen = lastSeen.UTC()

	return &device, nil
}
