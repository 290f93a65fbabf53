package domain

import "time"

// ScanVerifiedEvent represents the payload for attendance.scan.verified messages.
type ScanVerifiedEvent struct {
	EventID      string
	SessionID    string
	CourseID     string
	StudentID    string
	Status       AttendanceStatus
	Reason       ReasonCode
	RiskScore    int
	RiskLevel    RiskLevel
	AttemptCount int
	VerifiedAt   time.Time
}

// FraudAlertEvent represents the payload for attendance.fraud.alert messages.
// Published for HIGH/CRITICAL verdicts and internal-consistency violations;
// consumed by the instructor-facing security view, never shown to students.
type FraudAlertEvent struct {
	EventID   string
	SessionID string
	CourseID  string
	StudentID string
	RiskScore int
	RiskLevel RiskLevel
	Factors   map[string]float64
	Kind      string
	RaisedAt  time.Time
}

// Fraud alert kinds.
const (
	FraudAlertKindHighRisk      = "high_risk"
	FraudAlertKindRejected      = "fraud_rejected"
	FraudAlertKindInconsistency = "record_inconsistency"
)

// SessionLifecycleEvent represents the payload for attendance.session.lifecycle messages.
type SessionLifecycleEvent struct {
	EventID      string
	SessionID    string
	CourseID     string
	State        SessionState
	TokenVersion int64
	At           time.Time
}
