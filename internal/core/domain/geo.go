package domain

import "math"

// DefaultAccuracyThresholdMeters is the largest reported GPS accuracy radius
// that is still trusted for geofence decisions.
const DefaultAccuracyThresholdMeters = 50.0

const earthRadiusMeters = 6371000.0

// Location is a client-reported GPS fix.
type Location struct {
	Latitude       float64
	Longitude      float64
	AccuracyMeters float64
}

// Geofence is the circular boundary a scan must fall within.
type Geofence struct {
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
}

// GeoResult is the outcome of a geofence evaluation.
//
// Evaluated distinguishes "not checked because location is not required" from
// an actual pass or fail; callers must never treat a skipped check as a failure.
type GeoResult struct {
	Evaluated      bool
	WithinRadius   bool
	DistanceMeters float64
	AccuracyOK     bool
}

// ValidateLocation checks a reported location against a geofence.
//
// Distance uses the haversine great-circle formula so results stay correct at
// all latitudes. A point at exactly the radius counts as inside. accuracyThreshold
// falls back to DefaultAccuracyThresholdMeters when non-positive.
func ValidateLocation(fence Geofence, loc Location, accuracyThreshold float64) GeoResult {
	if accuracyThreshold <= 0 {
		accuracyThreshold = DefaultAccuracyThresholdMeters
	}

	distance := HaversineMeters(fence.Latitude, fence.Longitude, loc.Latitude, loc.Longitude)

	return GeoResult{
		Evaluated:      true,
		WithinRadius:   distance <= fence.RadiusMeters,
		DistanceMeters: distance,
		AccuracyOK:     loc.AccuracyMeters <= accuracyThreshold,
	}
}

// HaversineMeters returns the great-circle distance between two coordinates.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}
