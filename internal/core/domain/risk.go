package domain

import "math"

// RiskLevel classifies a fraud score into the four-tier policy scale.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// Score thresholds for risk classification. Tunable policy, not behaviour:
// LOW < 40, MEDIUM 40-59, HIGH 60-79, CRITICAL >= 80.
const (
	mediumRiskThreshold   = 40
	highRiskThreshold     = 60
	criticalRiskThreshold = 80
)

// LevelForScore maps a 0-100 fraud score onto a RiskLevel.
func LevelForScore(score int) RiskLevel {
	switch {
	case score >= criticalRiskThreshold:
		return RiskLevelCritical
	case score >= highRiskThreshold:
		return RiskLevelHigh
	case score >= mediumRiskThreshold:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// FraudSignals carries everything the scorer evaluates for one attempt.
// All inputs are collected before scoring; the scorer itself is pure.
type FraudSignals struct {
	// DeviceSharedWithOther is set when the attempt's fingerprint was recently
	// active for a different student.
	DeviceSharedWithOther bool
	// RecentAttempts counts this student's attempts inside the rapid-attempt
	// window, including the current one.
	RecentAttempts int
	// AccuracyDegrading is set when reported GPS accuracy has worsened across
	// the student's recent attempts.
	AccuracyDegrading bool
	// DistanceMeters is the haversine distance from the geofence center. Zero
	// when location was not evaluated.
	DistanceMeters float64
	// GeofenceRadiusMeters is the session's geofence radius; zero disables the
	// distance factor.
	GeofenceRadiusMeters float64
	// PriorFraudFlags is the student's rolling fraud-flag count over prior sessions.
	PriorFraudFlags int
}

// RiskScore is the scorer verdict: a 0-100 value, its level, and the
// per-factor contributions for the instructor-facing security view.
type RiskScore struct {
	Value   int
	Level   RiskLevel
	Factors map[string]float64
}

// riskFactor is one entry of the declarative scoring policy: a named weight
// plus an extractor mapping signals to a 0..1 fraction of that weight.
type riskFactor struct {
	name     string
	weight   float64
	fraction func(FraudSignals) float64
}

var fraudFactors = []riskFactor{
	{
		name:     "device_shared",
		weight:   45,
		fraction: func(s FraudSignals) float64 { return boolFraction(s.DeviceSharedWithOther) },
	},
	{
		name:     "geofence_distance",
		weight:   20,
		fraction: distanceFraction,
	},
	{
		name:   "rapid_attempts",
		weight: 15,
		fraction: func(s FraudSignals) float64 {
			if s.RecentAttempts <= 1 {
				return 0
			}
			// Saturates at five attempts inside the window.
			return clampFraction(float64(s.RecentAttempts-1) / 4)
		},
	},
	{
		name:     "accuracy_trend",
		weight:   10,
		fraction: func(s FraudSignals) float64 { return boolFraction(s.AccuracyDegrading) },
	},
	{
		name:   "fraud_history",
		weight: 10,
		fraction: func(s FraudSignals) float64 {
			// Saturates at four prior flags.
			return clampFraction(float64(s.PriorFraudFlags) / 4)
		},
	},
}

// ScoreSignals computes the weighted fraud score for the supplied signals.
// Deterministic: identical inputs always produce identical scores and levels.
func ScoreSignals(signals FraudSignals) RiskScore {
	total := 0.0
	factors := make(map[string]float64, len(fraudFactors))
	for _, f := range fraudFactors {
		contribution := f.weight * f.fraction(signals)
		if contribution > 0 {
			factors[f.name] = contribution
		}
		total += contribution
	}

	value := int(math.Round(total))
	if value > 100 {
		value = 100
	}
	if value < 0 {
		value = 0
	}

	return RiskScore{
		Value:   value,
		Level:   LevelForScore(value),
		Factors: factors,
	}
}

// distanceFraction turns geofence distance into a continuous penalty rather
// than a boolean: a small ramp inside the fence, a steep one beyond it.
func distanceFraction(s FraudSignals) float64 {
	if s.GeofenceRadiusMeters <= 0 {
		return 0
	}
	ratio := s.DistanceMeters / s.GeofenceRadiusMeters
	if ratio <= 1 {
		return 0.25 * ratio
	}
	return clampFraction(0.25 + (ratio - 1))
}

func boolFraction(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clampFraction(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
