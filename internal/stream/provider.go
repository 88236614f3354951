package stream

import (
	"context"
	"time"
)

// Fix is one raw reading from a positioning device. Speed and heading are
// nil when the device cannot determine them.
type Fix struct {
	Lat        float64
	Lon        float64
	SpeedMps   *float64
	HeadingDeg *float64
	At         time.Time
}

// Provider abstracts the device GPS. RequestPermission returns a
// permission-denied classified error when the user refuses access.
type Provider interface {
	RequestPermission(ctx context.Context) error
	CurrentFix(ctx context.Context) (Fix, error)
	// Watch delivers fixes to cb until the returned stop function is
	// called. The feed is unthrottled; the tracker applies cadence limits.
	Watch(ctx context.Context, cb func(Fix)) (stop func(), err error)
}
