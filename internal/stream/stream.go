// Package stream turns a device GPS feed into throttled location updates
// pushed to the backing store.
package stream

import (
	"context"
	"log"
	"sync"
	"time"

	"shuttle-tracker/internal/geo"
	"shuttle-tracker/internal/models"
	"shuttle-tracker/internal/remote"
)

const (
	// An update is forwarded when either threshold is crossed.
	minInterval = 5 * time.Second
	minDistance = 10.0 // meters
)

type subscription struct {
	stop func()

	mu      sync.Mutex
	lastAt  time.Time
	lastLat float64
	lastLon float64
}

// Tracker produces a cadence-limited sequence of GPS fixes for one driver
// at a time and forwards each to the remote store.
type Tracker struct {
	provider Provider
	sync     remote.Sync
	now      func() time.Time

	mu     sync.Mutex
	active map[string]*subscription // driverID -> watch
}

func NewTracker(provider Provider, rs remote.Sync) *Tracker {
	return &Tracker{
		provider: provider,
		sync:     rs,
		now:      time.Now,
		active:   make(map[string]*subscription),
	}
}

// Start requests location permission, pushes one immediate fix and then
// subscribes to the device feed for the driver. Starting twice for the same
// driver stops the previous subscription first.
func (t *Tracker) Start(ctx context.Context, driverID, routeID string) error {
	log.Printf("📍 [STREAM] Starting location tracking for driver %s on route %s", driverID, routeID)

	if err := t.provider.RequestPermission(ctx); err != nil {
		log.Printf("❌ [STREAM] Location permission denied for driver %s", driverID)
		if remote.KindOf(err) == remote.KindPermissionDenied {
			return err
		}
		return remote.PermissionDenied("location permission not granted")
	}

	t.stopWatch(driverID)

	sub := &subscription{}

	// Immediate first fix so the shuttle appears on the map without
	// waiting for the device feed. Failure here is not fatal; the watch
	// below still delivers updates.
	if fix, err := t.provider.CurrentFix(ctx); err == nil {
		t.forward(driverID, routeID, fix, sub, true)
	} else {
		log.Printf("⚠️  [STREAM] Initial fix failed for driver %s: %v", driverID, err)
	}

	stop, err := t.provider.Watch(ctx, func(fix Fix) {
		t.forward(driverID, routeID, fix, sub, false)
	})
	if err != nil {
		return remote.TransientError("watch position", err)
	}
	sub.stop = stop

	t.mu.Lock()
	t.active[driverID] = sub
	t.mu.Unlock()

	log.Printf("✅ [STREAM] Location tracking started for driver %s", driverID)
	return nil
}

// Stop unsubscribes the driver's feed if one is active and best-effort
// removes the last published sample from the remote store. Never fails the
// caller; safe when Start never completed.
func (t *Tracker) Stop(driverID string) {
	if t.stopWatch(driverID) {
		log.Printf("🛑 [STREAM] Location tracking stopped for driver %s", driverID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.sync.RemoveLocation(ctx, driverID); err != nil {
		log.Printf("⚠️  [STREAM] Failed to remove location for driver %s: %v", driverID, err)
	}
}

// Tracking reports whether the driver currently has an active feed.
func (t *Tracker) Tracking(driverID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[driverID]
	return ok
}

func (t *Tracker) stopWatch(driverID string) bool {
	t.mu.Lock()
	sub, ok := t.active[driverID]
	if ok {
		delete(t.active, driverID)
	}
	t.mu.Unlock()

	if ok && sub.stop != nil {
		sub.stop()
	}
	return ok
}

// forward applies the cadence limits and publishes the fix. Publish
// failures are swallowed per sample; the next fix supersedes.
func (t *Tracker) forward(driverID, routeID string, fix Fix, sub *subscription, initial bool) {
	now := t.now()

	sub.mu.Lock()
	if !initial && !sub.lastAt.IsZero() {
		elapsed := now.Sub(sub.lastAt)
		moved := geo.DistanceMeters(sub.lastLat, sub.lastLon, fix.Lat, fix.Lon)
		if elapsed < minInterval && moved < minDistance {
			sub.mu.Unlock()
			return
		}
	}
	sub.mu.Unlock()

	sample := models.LocationSample{
		DriverID:     driverID,
		RouteID:      routeID,
		Lat:          fix.Lat,
		Lon:          fix.Lon,
		CapturedAtMs: now.UnixMilli(),
	}
	if fix.SpeedMps != nil {
		sample.SpeedKmh = *fix.SpeedMps * 3.6
	}
	if fix.HeadingDeg != nil {
		sample.BearingDeg = *fix.HeadingDeg
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.sync.PublishLocation(ctx, sample); err != nil {
		log.Printf("⚠️  [STREAM] Publish failed for driver %s: %v", driverID, err)
		return
	}

	sub.mu.Lock()
	sub.lastAt = now
	sub.lastLat = fix.Lat
	sub.lastLon = fix.Lon
	sub.mu.Unlock()
}
