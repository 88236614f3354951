// Package remote abstracts the backing store for shift and location state.
// Two transports implement it: a poll-based REST client and a Firebase
// Realtime Database client. Everything above this package is
// transport-agnostic.
package remote

import (
	"context"
	"sync"
	"time"

	"shuttle-tracker/internal/models"
)

// DefaultPollInterval is the refresh cadence used when the transport has no
// push channel.
const DefaultPollInterval = 5000 * time.Millisecond

// Unsubscribe stops a subscription. Safe to call more than once and from
// teardown paths; no callbacks fire after it returns.
type Unsubscribe func()

// FleetFunc receives a fleet snapshot on every refresh cycle.
type FleetFunc func(models.FleetSnapshot)

// ShiftFunc receives one driver's shift state on every refresh cycle.
type ShiftFunc func(models.ShiftState)

// Sync is the transport interface. Writes are idempotent upserts; all
// failures surface as *Error.
type Sync interface {
	PublishLocation(ctx context.Context, sample models.LocationSample) error
	SetShift(ctx context.Context, driverID string, isOnShift bool, routeID *string) error
	SetVehicle(ctx context.Context, driverID, vehicleNo string) error
	SetRoute(ctx context.Context, driverID, routeID string) error
	RemoveLocation(ctx context.Context, driverID string) error

	FetchActiveFleet(ctx context.Context) (models.FleetSnapshot, error)
	FetchDriverShift(ctx context.Context, driverID string) (*models.ShiftState, error)
	FetchDriverRoute(ctx context.Context, driverID string) (*string, error)

	SubscribeFleet(cb FleetFunc) Unsubscribe
	SubscribeDriverShift(driverID string, cb ShiftFunc) Unsubscribe
}

// poll runs fetch immediately and then on every tick until unsubscribed.
// Fetch errors are swallowed; the next cycle retries. The returned
// Unsubscribe is idempotent, and once it returns no further fetch runs —
// it waits out a fetch already in flight.
func poll(interval time.Duration, fetch func()) Unsubscribe {
	stop := make(chan struct{})
	var mu sync.Mutex
	stopped := false

	run := func() {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		fetch()
	}

	go func() {
		run()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				run()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			mu.Lock()
			stopped = true
			mu.Unlock()
		})
	}
}
