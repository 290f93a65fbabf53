package domain

import (
	"errors"
	"fmt"
	"time"
)

// SessionState enumerates the lifecycle states of an attendance session.
type SessionState string

const (
	// SessionStateScheduled marks a session that has been created but not yet opened for scans.
	SessionStateScheduled SessionState = "SCHEDULED"
	// SessionStateActive marks a session currently accepting scans.
	SessionStateActive SessionState = "ACTIVE"
	// SessionStateEnded marks a session closed at or after its close time. Terminal.
	SessionStateEnded SessionState = "ENDED"
	// SessionStateCancelled marks a session cancelled by its owner. Terminal, reachable from any non-terminal state.
	SessionStateCancelled SessionState = "CANCELLED"
)

// IsTerminal reports whether no further transitions are permitted from the state.
func (s SessionState) IsTerminal() bool {
	return s == SessionStateEnded || s == SessionStateCancelled
}

var (
	// ErrInvalidTransition indicates a session state change that the lifecycle does not permit.
	ErrInvalidTransition = errors.New("invalid session state transition")
	// ErrInvalidSecurityConfig indicates the security configuration failed validation at creation time.
	ErrInvalidSecurityConfig = errors.New("invalid security configuration")
	// ErrInvalidSessionWindow indicates open/close timestamps that do not form a usable window.
	ErrInvalidSessionWindow = errors.New("invalid session window")
)

// SecurityConfig is the fixed, validated per-session security policy.
type SecurityConfig struct {
	LocationRequired      bool
	PhotoRequired         bool
	DeviceCheckRequired   bool
	FraudDetectionEnabled bool
	MaxAttempts           int
	GracePeriodSeconds    int
}

// GracePeriod returns the grace window as a duration.
func (c SecurityConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

// Validate rejects configurations with out-of-range numeric fields.
func (c SecurityConfig) Validate() error {
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("%w: max attempts must be positive", ErrInvalidSecurityConfig)
	}
	if c.GracePeriodSeconds < 0 {
		return fmt.Errorf("%w: grace period must not be negative", ErrInvalidSecurityConfig)
	}
	return nil
}

// AttendanceSession identifies one class meeting window and its rotating token state.
//
// The current token is modelled as an explicit versioned field: every rotation
// increments TokenVersion, and verifiers compare token values (backed by the
// version) rather than trusting wall-clock ordering.
type AttendanceSession struct {
	ID           string
	CourseID     string
	OwnerID      string
	Geofence     Geofence
	OpensAt      time.Time
	ClosesAt     time.Time
	Security     SecurityConfig
	State        SessionState
	CurrentToken string
	TokenVersion int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewAttendanceSession builds a SCHEDULED session after validating its window and security config.
func NewAttendanceSession(id, courseID, ownerID string, fence Geofence, opensAt, closesAt time.Time, sec SecurityConfig, now time.Time) (AttendanceSession, error) {
	if err := sec.Validate(); err != nil {
		return AttendanceSession{}, err
	}
	if !closesAt.After(opensAt) {
		return AttendanceSession{}, fmt.Errorf("%w: close time must be after open time", ErrInvalidSessionWindow)
	}
	return AttendanceSession{
		ID:        id,
		CourseID:  courseID,
		OwnerID:   ownerID,
		Geofence:  fence,
		OpensAt:   opensAt.UTC(),
		ClosesAt:  closesAt.UTC(),
		Security:  sec,
		State:     SessionStateScheduled,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}, nil
}

// Activate transitions SCHEDULED -> ACTIVE.
func (s *AttendanceSession) Activate(at time.Time) error {
	if s.State != SessionStateScheduled {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, SessionStateActive)
	}
	s.State = SessionStateActive
	s.UpdatedAt = at.UTC()
	return nil
}

// End transitions ACTIVE -> ENDED.
func (s *AttendanceSession) End(at time.Time) error {
	if s.State != SessionStateActive {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, SessionStateEnded)
	}
	s.State = SessionStateEnded
	s.UpdatedAt = at.UTC()
	return nil
}

// Cancel transitions any non-terminal state -> CANCELLED.
func (s *AttendanceSession) Cancel(at time.Time) error {
	if s.State.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, SessionStateCancelled)
	}
	s.State = SessionStateCancelled
	s.UpdatedAt = at.UTC()
	return nil
}

// RotateToken installs a freshly minted token and bumps the version counter.
// The previous token is invalid immediately; there is no grace overlap.
func (s *AttendanceSession) RotateToken(token string, at time.Time) error {
	if s.State != SessionStateActive {
		return fmt.Errorf("%w: token rotation requires ACTIVE, got %s", ErrInvalidTransition, s.State)
	}
	s.CurrentToken = token
	s.TokenVersion++
	s.UpdatedAt = at.UTC()
	return nil
}

// AcceptsScansAt reports whether the session is ACTIVE and the supplied server
// receipt time falls inside [opens, closes + grace].
func (s AttendanceSession) AcceptsScansAt(at time.Time) bool {
	if s.State != SessionStateActive {
		return false
	}
	return !at.Before(s.OpensAt) && !at.After(s.WindowDeadline())
}

// GraceDeadline returns the boundary separating PRESENT from LATE.
func (s AttendanceSession) GraceDeadline() time.Time {
	return s.OpensAt.Add(s.Security.GracePeriod())
}

// WindowDeadline returns the last instant at which a scan is admissible.
func (s AttendanceSession) WindowDeadline() time.Time {
	return s.ClosesAt.Add(s.Security.GracePeriod())
}
