package geo

import "math"

// earthRadiusMeters is the mean Earth radius used by the haversine formula.
const earthRadiusMeters = 6371000.0

// Distance returns the great-circle distance in meters between two
// coordinate pairs, computed with the haversine formula.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	p1 := lat1 * math.Pi / 180
	p2 := lat2 * math.Pi / 180
	dp := (lat2 - lat1) * math.Pi / 180
	dl := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dp/2)*math.Sin(dp/2) +
		math.Cos(p1)*math.Cos(p2)*math.Sin(dl/2)*math.Sin(dl/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// Fence is a circular geofence classifying a sample as on-site or off-site.
type Fence struct {
	Lat          float64
	Lng          float64
	RadiusMeters float64
}

// Contains reports whether the given coordinates fall within the fence.
// The boundary is inclusive: a sample exactly RadiusMeters away is inside.
func (f Fence) Contains(lat, lng float64) bool {
	return Distance(f.Lat, f.Lng, lat, lng) <= f.RadiusMeters
}
