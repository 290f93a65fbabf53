package port

import "context"

// EnrollmentRepository is the read-side contract onto the course/enrollment
// collaborator: the set of students eligible to appear in a session.
type EnrollmentRepository interface {
	IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error)
}
