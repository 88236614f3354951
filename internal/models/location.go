package models

import "fmt"

// LocationSample is one GPS fix for a driver. At most one live sample
// exists per driver; a newer sample supersedes the previous one.
type LocationSample struct {
	DriverID     string  `json:"driver_id"`
	RouteID      string  `json:"route_id"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	SpeedKmh     float64 `json:"speed"`
	BearingDeg   float64 `json:"bearing"`
	CapturedAtMs int64   `json:"timestamp"`
}

// Validate rejects samples with out-of-range coordinates. Validation happens
// before transmission; the server boundary applies the same check.
func (s LocationSample) Validate() error {
	if s.Lat < -90 || s.Lat > 90 {
		return fmt.Errorf("latitude out of range: %f", s.Lat)
	}
	if s.Lon < -180 || s.Lon > 180 {
		return fmt.Errorf("longitude out of range: %f", s.Lon)
	}
	return nil
}

// Shuttle is one entry of a fleet snapshot: an on-shift driver joined with
// their latest known location.
type Shuttle struct {
	ID          string  `json:"id"`
	RouteID     string  `json:"route_id"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	SpeedKmh    float64 `json:"speed"`
	BearingDeg  float64 `json:"bearing"`
	DriverName  string  `json:"driver_name"`
	VehicleNo   string  `json:"vehicle_no"`
	TimestampMs int64   `json:"timestamp"`
}

// FleetSnapshot is the set of all on-shift shuttles at one instant.
// It is derived and ephemeral; the core never persists it.
type FleetSnapshot struct {
	Shuttles []Shuttle `json:"shuttles"`
}
