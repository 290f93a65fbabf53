package domain

import (
	"math"
	"testing"
)

func TestHaversineMetersZeroDistance(t *testing.T) {
	d := HaversineMeters(30.0444, 31.2357, 30.0444, 31.2357)
	if d != 0 {
		t.Fatalf("expected zero distance, got %f", d)
	}
}

func TestHaversineMetersKnownDistance(t *testing.T) {
	// One degree of latitude is roughly 111.19 km everywhere.
	d := HaversineMeters(30.0, 31.0, 31.0, 31.0)
	if math.Abs(d-111195) > 200 {
		t.Fatalf("expected ~111195m, got %f", d)
	}
}

func TestHaversineMetersSymmetric(t *testing.T) {
	pairs := [][4]float64{
		{30.0444, 31.2357, 30.0534, 31.2357},
		{30.0, 31.0, 31.0, 32.0},
		{-33.8688, 151.2093, 51.5074, -0.1278},
	}
	for _, p := range pairs {
		ab := HaversineMeters(p[0], p[1], p[2], p[3])
		ba := HaversineMeters(p[2], p[3], p[0], p[1])
		if ab < 0 || ba < 0 {
			t.Fatalf("distance must be non-negative, got %f and %f", ab, ba)
		}
		if math.Abs(ab-ba) > 1e-6 {
			t.Fatalf("distance must be symmetric, got %f vs %f", ab, ba)
		}
	}
}

func TestValidateLocationInsideFence(t *testing.T) {
	fence := Geofence{Latitude: 30.0444, Longitude: 31.2357, RadiusMeters: 500}
	loc := Location{Latitude: 30.0448, Longitude: 31.2360, AccuracyMeters: 10}

	result := ValidateLocation(fence, loc, 50)
	if !result.Evaluated {
		t.Fatal("expected result to be evaluated")
	}
	if !result.WithinRadius {
		t.Fatalf("expected location inside fence, distance %f", result.DistanceMeters)
	}
	if !result.AccuracyOK {
		t.Fatal("expected accuracy to pass")
	}
}

func TestValidateLocationBoundaryIsInside(t *testing.T) {
	fence := Geofence{Latitude: 30.0444, Longitude: 31.2357}
	loc := Location{Latitude: 30.0500, Longitude: 31.2357, AccuracyMeters: 10}

	// A point at exactly the radius counts as inside.
	fence.RadiusMeters = HaversineMeters(fence.Latitude, fence.Longitude, loc.Latitude, loc.Longitude)

	result := ValidateLocation(fence, loc, 50)
	if !result.WithinRadius {
		t.Fatalf("expected boundary point inside, distance %f radius %f", result.DistanceMeters, fence.RadiusMeters)
	}
}

func TestValidateLocationOutsideFence(t *testing.T) {
	fence := Geofence{Latitude: 30.0444, Longitude: 31.2357, RadiusMeters: 500}
	// Roughly one kilometer north of the fence center.
	loc := Location{Latitude: 30.0534, Longitude: 31.2357, AccuracyMeters: 10}

	result := ValidateLocation(fence, loc, 50)
	if result.WithinRadius {
		t.Fatalf("expected location outside fence, distance %f", result.DistanceMeters)
	}
}

func TestValidateLocationAccuracy(t *testing.T) {
	fence := Geofence{Latitude: 30.0444, Longitude: 31.2357, RadiusMeters: 500}

	exact := ValidateLocation(fence, Location{Latitude: 30.0444, Longitude: 31.2357, AccuracyMeters: 50}, 50)
	if !exact.AccuracyOK {
		t.Fatal("accuracy equal to the threshold should pass")
	}

	poor := ValidateLocation(fence, Location{Latitude: 30.0444, Longitude: 31.2357, AccuracyMeters: 50.1}, 50)
	if poor.AccuracyOK {
		t.Fatal("accuracy above the threshold should fail")
	}
}

func TestValidateLocationDefaultThreshold(t *testing.T) {
	fence := Geofence{Latitude: 0, Longitude: 0, RadiusMeters: 100}

	result := ValidateLocation(fence, Location{AccuracyMeters: DefaultAccuracyThresholdMeters}, 0)
	if !result.AccuracyOK {
		t.Fatal("non-positive threshold should fall back to the default")
	}

	result = ValidateLocation(fence, Location{AccuracyMeters: DefaultAccuracyThresholdMeters + 1}, -1)
	if result.AccuracyOK {
		t.Fatal("accuracy above the default threshold should fail")
	}
}
