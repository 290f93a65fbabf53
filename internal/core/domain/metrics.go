package domain

// ViolationCounts breaks rejected attempts down by violation category.
type ViolationCounts struct {
	Device   int
	Location int
	Time     int
	Token    int
}

// SecurityMetrics is the derived aggregate for one or more sessions. It is
// always recomputed from stored attempts and records, never a source of truth.
type SecurityMetrics struct {
	SessionIDs       []string
	TotalAttempts    int
	AcceptedAttempts int
	RejectedAttempts int
	PresentCount     int
	LateCount        int
	FlaggedCount     int
	SuccessRate      float64
	FraudRate        float64
	Violations       ViolationCounts
}
