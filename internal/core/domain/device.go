package domain

import "time"

// DeviceFingerprint is a stable signature for a physical device, keyed by the
// student it was observed for.
type DeviceFingerprint struct {
	StudentID   string
	Fingerprint string
	FirstSeen   time.Time
	LastSeen    time.Time
	ChangeCount int
}

// DeviceRegistration is the outcome of registering a fingerprint observation.
//
// SharedWithOther means the same fingerprint was recently active for a
// different student. That is a first-class fraud signal for the scorer, never
// a hard rejection on its own; the existing association is not overwritten.
type DeviceRegistration struct {
	IsNewDevice     bool
	SharedWithOther bool
	SharedStudentID string
	ChangeCount     int
}
