package domain

import "time"

// AttendanceStatus is the durable outcome recorded for a verified scan.
type AttendanceStatus string

const (
	// AttendanceStatusPresent marks an accepted scan received before the grace deadline.
	AttendanceStatusPresent AttendanceStatus = "PRESENT"
	// AttendanceStatusLate marks an accepted scan received after the grace deadline but inside the window.
	AttendanceStatusLate AttendanceStatus = "LATE"
	// AttendanceStatusRejected marks a scan that failed verification.
	AttendanceStatusRejected AttendanceStatus = "REJECTED"
)

// IsAccepted reports whether the status represents counted attendance.
func (s AttendanceStatus) IsAccepted() bool {
	return s == AttendanceStatusPresent || s == AttendanceStatusLate
}

// ReasonCode explains a verification decision. All codes are expected business
// outcomes surfaced in the Decision, never faults.
type ReasonCode string

const (
	ReasonAccepted             ReasonCode = "Accepted"
	ReasonSessionNotFound      ReasonCode = "SessionNotFound"
	ReasonSessionNotActive     ReasonCode = "SessionNotActive"
	ReasonTokenExpired         ReasonCode = "TokenExpired"
	ReasonTooEarly             ReasonCode = "TooEarly"
	ReasonOutsideTimeWindow    ReasonCode = "OutsideTimeWindow"
	ReasonOutsideGeofence      ReasonCode = "OutsideGeofence"
	ReasonPoorLocationAccuracy ReasonCode = "PoorLocationAccuracy"
	ReasonNotEnrolled          ReasonCode = "NotEnrolled"
	ReasonAlreadyRecorded      ReasonCode = "AlreadyRecorded"
	ReasonMaxAttemptsExceeded  ReasonCode = "MaxAttemptsExceeded"
	ReasonFraudRejected        ReasonCode = "FraudRejected"
)

// ScanAttempt is one verification request as received. Attempts are immutable
// once recorded; the store only ever appends them.
type ScanAttempt struct {
	ID              string
	SessionID       string
	StudentID       string
	PresentedToken  string
	Location        *Location
	Fingerprint     string
	PhotoHash       *string
	ClientTimestamp time.Time
	ReceivedAt      time.Time
}

// AttendanceRecord is the durable outcome of a scan attempt for a
// (student, session) pair. At most one PRESENT/LATE record may exist per pair.
type AttendanceRecord struct {
	ID               string
	SessionID        string
	StudentID        string
	Status           AttendanceStatus
	RiskScore        int
	RiskLevel        RiskLevel
	Reason           ReasonCode
	AttemptCount     int
	FlaggedForReview bool
	RecordedAt       time.Time
}

// Decision is the terminal verdict returned to the caller for one scan.
// Fraud signal detail is deliberately absent: it belongs to the
// instructor-facing security surfaces only.
type Decision struct {
	Status       AttendanceStatus
	Reason       ReasonCode
	RiskLevel    RiskLevel
	AttemptCount int
	RecordedAt   time.Time
}

// Accepted reports whether the decision produced counted attendance.
func (d Decision) Accepted() bool {
	return d.Status.IsAccepted()
}
