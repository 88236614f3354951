package geo

import (
	"fmt"
	"math"
)

const earthRadiusMeters = 6371000.0

// DistanceMeters calculates the great-circle distance between two GPS
// coordinates in meters using the haversine formula.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// ETASeconds estimates how long a shuttle travelling at speedKmh takes to
// reach the user, assuming straight-line travel at constant speed.
// A speed of 0 yields +Inf; callers that render ETAs should treat
// non-finite values as "unknown" rather than formatting them.
func ETASeconds(shuttleLat, shuttleLon, userLat, userLon, speedKmh float64) float64 {
	distance := DistanceMeters(shuttleLat, shuttleLon, userLat, userLon)
	speedMs := speedKmh * 1000 / 3600
	return distance / speedMs
}

// FormatDuration renders a duration in seconds as "{m}m {s}s".
func FormatDuration(seconds float64) string {
	minutes := int(seconds / 60)
	remaining := int(math.Floor(seconds)) % 60
	return fmt.Sprintf("%dm %ds", minutes, remaining)
}
