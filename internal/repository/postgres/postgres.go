package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arklim/campus-platform-attendance/internal/repository"
)

// pgExecutor is the subset of pgxpool.Pool the repositories use. pgxmock
// satisfies it, which keeps repository tests hermetic.
type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repositories aggregates every PostgreSQL-backed repository.
type Repositories struct {
	Sessions    *SessionRepository
	Attempts    *AttemptRepository
	Devices     *DeviceRepository
	Enrollments *EnrollmentRepository
}

// NewRepositories wires all repositories onto one pool.
func NewRepositories(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Sessions:    NewSessionRepository(pool),
		Attempts:    NewAttemptRepository(pool),
		Devices:     NewDeviceRepository(pool),
		Enrollments: NewEnrollmentRepository(pool),
	}
}

const uniqueViolationCode = "23505"

// mapWriteError converts driver-level constraint violations into sentinel errors.
func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return repository.ErrDuplicate
	}
	return err
}
