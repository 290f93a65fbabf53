package postgres

import (
	"context"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/campus-platform-attendance/internal/core/port"
)

// EnrollmentRepository implements port.EnrollmentRepository against the
// course enrollment table maintained by the registration system.
type EnrollmentRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewEnrollmentRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewEnrollmentRepository(exec pgExecutor) *EnrollmentRepository {
	return &EnrollmentRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

var _ port.EnrollmentRepository = (*EnrollmentRepository)(nil)

// IsEnrolled reports whether the student is enrolled in the course.
func (r *EnrollmentRepository) IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error) {
	sql, args, err := r.builder.
		Select("1").
		From("attendance.enrollments").
		Where(squirrel.Eq{"course_id": courseID, "student_id": studentID}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build enrollment sql: %w", err)
	}

	var one int
	if err := r.exec.QueryRow(ctx, sql, args...).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("select enrollment: %w", err)
	}

	return true, nil
}
