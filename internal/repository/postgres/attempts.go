package postgres

import (
	"context"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/campus-platform-attendance/internal/core/domain"
	"github.com/arklim/campus-platform-attendance/internal/core/port"
	"github.com/arklim/campus-platform-attendance/internal/repository"
)

// AttemptRepository implements port.AttemptRepository for PostgreSQL. The
// scan_attempts table is append-only; records carry a partial unique index
// over accepted rows so the insert is the arbiter of at-most-once attendance.
type AttemptRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAttemptRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewAttemptRepository(exec pgExecutor) *AttemptRepository {
	return &AttemptRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

var _ port.AttemptRepository = (*AttemptRepository)(nil)

// AppendAttempt stores one immutable scan attempt.
func (r *AttemptRepository) AppendAttempt(ctx context.Context, attempt domain.ScanAttempt) error {
	var (
		lat, lon, accuracy *float64
	)
	if attempt.Location != nil {
		lat = &attempt.Location.Latitude
		lon = &attempt.Location.Longitude
		accuracy = &attempt.Location.AccuracyMeters
	}

	sql, args, err := r.builder.Insert("attendance.scan_attempts").
		Columns(
			"id",
			"session_id",
			"student_id",
			"presented_token",
			"geo_lat",
			"geo_lon",
			"geo_accuracy_m",
			"fingerprint",
			"photo_hash",
			"client_timestamp",
			"received_at",
		).
		Values(
			attempt.ID,
			attempt.SessionID,
			attempt.StudentID,
			attempt.PresentedToken,
			lat,
			lon,
			accuracy,
			attempt.Fingerprint,
			attempt.PhotoHash,
			attempt.ClientTimestamp,
			attempt.ReceivedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert attempt sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert attempt: %w", mapWriteError(err))
	}

	return nil
}

// InsertRecord writes the attendance record for a (student, session) pair.
// Concurrent accepted inserts lose to the partial unique index and surface as
// repository.ErrDuplicate.
func (r *AttemptRepository) InsertRecord(ctx context.Context, record domain.AttendanceRecord) error {
	sql, args, err := r.builder.Insert("attendance.records").
		Columns(
			"id",
			"session_id",
			"student_id",
			"status",
			"risk_score",
			"risk_level",
			"reason",
			"attempt_count",
			"flagged_for_review",
			"recorded_at",
		).
		Values(
			record.ID,
			record.SessionID,
			record.StudentID,
			string(record.Status),
			record.RiskScore,
			string(record.RiskLevel),
			string(record.Reason),
			record.AttemptCount,
			record.FlaggedForReview,
			record.RecordedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert record sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert record: %w", mapWriteError(err))
	}

	return nil
}

const recordColumns = "id, session_id, student_id, status, risk_score, risk_level, reason, attempt_count, flagged_for_review, recorded_at"

// GetAcceptedRecord returns the PRESENT/LATE record for the pair, if any.
// More than one accepted row means the storage invariant is broken and the
// caller must treat the pair as inconsistent rather than pick a winner.
func (r *AttemptRepository) GetAcceptedRecord(ctx context.Context, sessionID, studentID string) (*domain.AttendanceRecord, error) {
	sql, args, err := r.builder.
		Select(recordColumns).
		From("attendance.records").
		Where(squirrel.Eq{
			"session_id": sessionID,
			"student_id": studentID,
			"status":     acceptedStatuses(),
		}).
		OrderBy("recorded_at").
		Limit(2).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select accepted record sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query accepted record: %w", err)
	}
	defer rows.Close()

	var records []domain.AttendanceRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query accepted record: %w", err)
	}

	switch len(records) {
	case 0:
		return nil, repository.ErrNotFound
	case 1:
		return &records[0], nil
	default:
		return nil, repository.ErrInconsistent
	}
}

// CountAttempts counts stored attempts for the pair.
func (r *AttemptRepository) CountAttempts(ctx context.Context, sessionID, studentID string) (int, error) {
	sql, args, err := r.builder.
		Select("COUNT(*)").
		From("attendance.scan_attempts").
		Where(squirrel.Eq{"session_id": sessionID, "student_id": studentID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count attempts sql: %w", err)
	}

	var count int
	if err := r.exec.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return count, nil
}

// CountPriorFraudFlags counts HIGH/CRITICAL records for the student before the
// supplied instant, across all sessions.
func (r *AttemptRepository) CountPriorFraudFlags(ctx context.Context, studentID string, before time.Time) (int, error) {
	sql, args, err := r.builder.
		Select("COUNT(*)").
		From("attendance.records").
		Where(squirrel.Eq{
			"student_id": studentID,
			"risk_level": []string{string(domain.RiskLevelHigh), string(domain.RiskLevelCritical)},
		}).
		Where(squirrel.Lt{"recorded_at": before}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count fraud flags sql: %w", err)
	}

	var count int
	if err := r.exec.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count fraud flags: %w", err)
	}
	return count, nil
}

const attemptColumns = "id, session_id, student_id, presented_token, geo_lat, geo_lon, geo_accuracy_m, fingerprint, photo_hash, client_timestamp, received_at"

// ListAttemptsBySession pages attempts for a session, newest first.
func (r *AttemptRepository) ListAttemptsBySession(ctx context.Context, sessionID string, limit, offset int) ([]domain.ScanAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	sql, args, err := r.builder.
		Select(attemptColumns).
		From("attendance.scan_attempts").
		Where(squirrel.Eq{"session_id": sessionID}).
		OrderBy("received_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list attempts sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.ScanAttempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, *attempt)
	}

	return attempts, rows.Err()
}

// ListRecordsBySessions returns every record belonging to the supplied sessions.
func (r *AttemptRepository) ListRecordsBySessions(ctx context.Context, sessionIDs []string) ([]domain.AttendanceRecord, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}

	sql, args, err := r.builder.
		Select(recordColumns).
		From("attendance.records").
		Where(squirrel.Eq{"session_id": sessionIDs}).
		OrderBy("recorded_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list records sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []domain.AttendanceRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, *record)
	}

	return records, rows.Err()
}

// ListAttemptLocations returns the most recent reported locations for the
// pair, newest first, skipping attempts that carried no location.
func (r *AttemptRepository) ListAttemptLocations(ctx context.Context, sessionID, studentID string, limit int) ([]domain.Location, error) {
	if limit <= 0 {
		limit = 3
	}

	sql, args, err := r.builder.
		Select("geo_lat, geo_lon, geo_accuracy_m").
		From("attendance.scan_attempts").
		Where(squirrel.Eq{"session_id": sessionID, "student_id": studentID}).
		Where("geo_lat IS NOT NULL").
		OrderBy("received_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list attempt locations sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempt locations: %w", err)
	}
	defer rows.Close()

	var locations []domain.Location
	for rows.Next() {
		var loc domain.Location
		if err := rows.Scan(&loc.Latitude, &loc.Longitude, &loc.AccuracyMeters); err != nil {
			return nil, fmt.Errorf("scan attempt location: %w", err)
		}
		locations = append(locations, loc)
	}

	return locations, rows.Err()
}

// CountRecordsBySession returns per-status record counts for one session.
func (r *AttemptRepository) CountRecordsBySession(ctx context.Context, sessionID string) (map[domain.AttendanceStatus]int, error) {
	sql, args, err := r.builder.
		Select("status, COUNT(*)").
		From("attendance.records").
		Where(squirrel.Eq{"session_id": sessionID}).
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build count records sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query record counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.AttendanceStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan record count: %w", err)
		}
		counts[domain.AttendanceStatus(status)] = count
	}

	return counts, rows.Err()
}

// SessionIDsByCourse resolves a course to its session ids.
func (r *AttemptRepository) SessionIDsByCourse(ctx context.Context, courseID string) ([]string, error) {
	sql, args, err := r.builder.
		Select("id").
		From("attendance.sessions").
		Where(squirrel.Eq{"course_id": courseID}).
		OrderBy("opens_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build session ids sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query session ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func acceptedStatuses() []string {
	return []string{string(domain.AttendanceStatusPresent), string(domain.AttendanceStatusLate)}
}

func scanRecord(row pgx.Row) (*domain.AttendanceRecord, error) {
	var (
		record     domain.AttendanceRecord
		status     string
		riskLevel  string
		reason     string
		recordedAt time.Time
	)

	if err := row.Scan(
		&record.ID,
		&record.SessionID,
		&record.StudentID,
		&status,
		&record.RiskScore,
		&riskLevel,
		&reason,
		&record.AttemptCount,
		&record.FlaggedForReview,
		&recordedAt,
	); err != nil {
		return nil, err
	}

	record.Status = domain.AttendanceStatus(status)
	record.RiskLevel = domain.RiskLevel(riskLevel)
	record.Reason = domain.ReasonCode(reason)
	record.RecordedAt = recordedAt.UTC()

	return &record, nil
}

func scanAttempt(row pgx.Row) (*domain.ScanAttempt, error) {
	var (
		attempt            domain.ScanAttempt
		lat, lon, accuracy *float64
		clientTS           time.Time
		receivedAt         time.Time
	)

	if err := row.Scan(
		&attempt.ID,
		&attempt.SessionID,
		&attempt.StudentID,
		&attempt.PresentedToken,
		&lat,
		&lon,
		&accuracy,
		&attempt.Fingerprint,
		&attempt.PhotoHash,
		&clientTS,
		&receivedAt,
	); err != nil {
		return nil, err
	}

	if lat != nil && lon != nil {
		loc := domain.Location{Latitude: *lat, Longitude: *lon}
		if accuracy != nil {
			loc.AccuracyMeters = *accuracy
		}
		attempt.Location = &loc
	}
	attempt.ClientTimestamp = clientTS.UTC()
	attempt.ReceivedAt = receivedAt.UTC()

	return &attempt, nil
}
