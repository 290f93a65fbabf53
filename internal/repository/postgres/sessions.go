package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arklim/campus-platform-attendance/internal/core/domain"
	"github.com/arklim/campus-platform-attendance/internal/core/port"
	"github.com/arklim/campus-platform-attendance/internal/repository"
)

const sessionColumns = "id, course_id, owner_id, geo_lat, geo_lon, geo_radius_m, opens_at, closes_at, " +
	"location_required, photo_required, device_check_required, fraud_detection_enabled, max_attempts, grace_period_seconds, " +
	"state, current_token, token_version, created_at, updated_at"

// SessionRepository implements port.SessionRepository for PostgreSQL.
type SessionRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSessionRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewSessionRepository(exec pgExecutor) *SessionRepository {
	return &SessionRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

var _ port.SessionRepository = (*SessionRepository)(nil)

// Create inserts a session record.
func (r *SessionRepository) Create(ctx context.Context, session domain.AttendanceSession) error {
	sql, args, err := r.builder.Insert("attendance.sessions").
		Columns(
			"id",
			"course_id",
			"owner_id",
			"geo_lat",
			"geo_lon",
			"geo_radius_m",
			"opens_at",
			"closes_at",
			"location_required",
			"photo_required",
			"device_check_required",
			"fraud_detection_enabled",
			"max_attempts",
			"grace_period_seconds",
			"state",
			"current_token",
			"token_version",
			"created_at",
			"updated_at",
		).
		Values(
			session.ID,
			session.CourseID,
			session.OwnerID,
			session.Geofence.Latitude,
			session.Geofence.Longitude,
			session.Geofence.RadiusMeters,
			session.OpensAt,
			session.ClosesAt,
			session.Security.LocationRequired,
			session.Security.PhotoRequired,
			session.Security.DeviceCheckRequired,
			session.Security.FraudDetectionEnabled,
			session.Security.MaxAttempts,
			session.Security.GracePeriodSeconds,
			string(session.State),
			session.CurrentToken,
			session.TokenVersion,
			session.CreatedAt,
			session.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert session: %w", mapWriteError(err))
	}

	return nil
}

// Get fetches one session by id.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*domain.AttendanceSession, error) {
	sql, args, err := r.builder.
		Select(sessionColumns).
		From("attendance.sessions").
		Where(squirrel.Eq{"id": sessionID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, sql, args...)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("select session: %w", err)
	}

	return session, nil
}

// UpdateState persists a lifecycle transition guarded by the expected current state.
func (r *SessionRepository) UpdateState(ctx context.Context, sessionID string, from, to domain.SessionState) error {
	tag, err := r.exec.Exec(ctx,
		`UPDATE attendance.sessions SET state = $1, updated_at = NOW() WHERE id = $2 AND state = $3`,
		string(to), sessionID, string(from),
	)
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrVersionConflict
	}
	return nil
}

// RotateToken installs a new token, guarded by the expected version. Only an
// ACTIVE session rotates; the returned version is the committed counter.
func (r *SessionRepository) RotateToken(ctx context.Context, sessionID, token string, expectedVersion int64) (int64, error) {
	row := r.exec.QueryRow(ctx,
		`UPDATE attendance.sessions
		 SET current_token = $1, token_version = token_version + 1, updated_at = NOW()
		 WHERE id = $2 AND token_version = $3 AND state = $4
		 RETURNING token_version`,
		token, sessionID, expectedVersion, string(domain.SessionStateActive),
	)

	var version int64
	if err := row.Scan(&version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, repository.ErrVersionConflict
		}
		return 0, fmt.Errorf("rotate token: %w", err)
	}

	return version, nil
}

// ListByCourse returns every session for a course, newest first.
func (r *SessionRepository) ListByCourse(ctx context.Context, courseID string) ([]domain.AttendanceSession, error) {
	sql, args, err := r.builder.
		Select(sessionColumns).
		From("attendance.sessions").
		Where(squirrel.Eq{"course_id": courseID}).
		OrderBy("opens_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list sessions sql: %w", err)
	}

	return r.querySessions(ctx, sql, args)
}

// ListActive returns every ACTIVE session.
func (r *SessionRepository) ListActive(ctx context.Context) ([]domain.AttendanceSession, error) {
	sql, args, err := r.builder.
		Select(sessionColumns).
		From("attendance.sessions").
		Where(squirrel.Eq{"state": string(domain.SessionStateActive)}).
		OrderBy("opens_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list active sessions sql: %w", err)
	}

	return r.querySessions(ctx, sql, args)
}

func (r *SessionRepository) querySessions(ctx context.Context, sql string, args []any) ([]domain.AttendanceSession, error) {
	rows, err := r.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.AttendanceSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}

	return sessions, rows.Err()
}

func scanSession(row pgx.Row) (*domain.AttendanceSession, error) {
	var (
		session   domain.AttendanceSession
		state     string
		createdAt time.Time
		updatedAt time.Time
	)

	if err := row.Scan(
		&session.ID,
		&session.CourseID,
		&session.OwnerID,
		&session.Geofence.Latitude,
		&session.Geofence.Longitude,
		&session.Geofence.RadiusMeters,
		&session.OpensAt,
		&session.ClosesAt,
		&session.Security.LocationRequired,
		&session.Security.PhotoRequired,
		&session.Security.DeviceCheckRequired,
		&session.Security.FraudDetectionEnabled,
		&session.Security.MaxAttempts,
		&session.Security.GracePeriodSeconds,
		&state,
		&session.CurrentToken,
		&session.TokenVersion,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	session.State = domain.SessionState(state)
	session.CreatedAt = createdAt.UTC()
	session.UpdatedAt = updatedAt.UTC()
	session.OpensAt = session.OpensAt.UTC()
	session.ClosesAt = session.ClosesAt.UTC()

	return &session, nil
}

// ensure pgxpool still satisfies the executor contract at compile time.
var _ pgExecutor = (*pgxpool.Pool)(nil)
