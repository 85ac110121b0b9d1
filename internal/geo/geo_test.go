package geo

import (
	"math"
	"testing"
)

const (
	siteLat = -27.975644322187307
	siteLng = 153.40359770326276
)

func TestDistance_NearbySample(t *testing.T) {
	// Sample a few tens of meters from the site center.
	d := Distance(siteLat, siteLng, -27.9758, 153.4038)
	if d < 20 || d > 35 {
		t.Fatalf("expected ~26m, got %v", d)
	}
}

func TestDistance_FarSample(t *testing.T) {
	// Independently computed haversine value for this pair is ~352.5m.
	d := Distance(siteLat, siteLng, -27.9780, 153.4060)
	if math.Abs(d-352.5) > 1.0 {
		t.Fatalf("expected ~352.5m, got %v", d)
	}
}

func TestDistance_ZeroForIdenticalPoints(t *testing.T) {
	if d := Distance(siteLat, siteLng, siteLat, siteLng); d != 0 {
		t.Fatalf("expected 0, got %v", d)
	}
}

func TestFence_Contains(t *testing.T) {
	f := Fence{Lat: siteLat, Lng: siteLng, RadiusMeters: 400}

	if !f.Contains(-27.9758, 153.4038) {
		t.Fatalf("expected ~26m sample inside 400m fence")
	}
	// ~352.5m is still inside a 400m fence.
	if !f.Contains(-27.9780, 153.4060) {
		t.Fatalf("expected ~352.5m sample inside 400m fence")
	}
	if f.Contains(-28.0, 153.5) {
		t.Fatalf("expected distant sample outside fence")
	}
}

func TestFence_BoundaryIsInclusive(t *testing.T) {
	lat, lng := -27.9780, 153.4060
	d := Distance(siteLat, siteLng, lat, lng)

	exact := Fence{Lat: siteLat, Lng: siteLng, RadiusMeters: d}
	if !exact.Contains(lat, lng) {
		t.Fatalf("boundary distance must be inside")
	}

	shrunk := Fence{Lat: siteLat, Lng: siteLng, RadiusMeters: d - 0.01}
	if shrunk.Contains(lat, lng) {
		t.Fatalf("sample strictly beyond radius must be outside")
	}
}
