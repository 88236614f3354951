// Package shift holds the client-local state machine governing a driver's
// on/off-shift transitions. User taps, backend confirmations and the
// subscription feed all race against each other; the reconciler keeps the
// driver's optimistic local state authoritative while a transition is
// outstanding and hands authority back to the remote store once it settles.
package shift

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"shuttle-tracker/internal/models"
	"shuttle-tracker/internal/remote"
	"shuttle-tracker/internal/routes"
)

// State is the reconciler's client-local shift state. STARTING and ENDING
// never survive a process restart; a fresh load maps the persisted record
// to ON or OFF.
type State int

const (
	StateOff State = iota
	StateStarting
	StateOn
	StateEnding
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateOn:
		return "ON"
	case StateEnding:
		return "ENDING"
	default:
		return "OFF"
	}
}

const (
	// How long remote snapshots stay ignored after a confirmed
	// transition, so a poll cycle carrying pre-transition state cannot
	// clobber what the user just did.
	defaultSettleWindow = 3000 * time.Millisecond
	// Delay before the single background retry of a transiently failed
	// shift write.
	defaultRetryDelay = 1000 * time.Millisecond
	// Upper bound on how long an unconfirmed transition may hold the
	// guard before snapshots apply again.
	maxPendingAge = 15 * time.Second
)

// Tracker is the slice of the location stream the reconciler drives.
type Tracker interface {
	Start(ctx context.Context, driverID, routeID string) error
	Stop(driverID string)
}

// Confirmer asks the user to confirm ending the shift. Returning false
// aborts the transition.
type Confirmer func() bool

// pendingTransition guards local state while a backend confirmation is
// outstanding. settleUntil stays zero until the confirmation lands.
type pendingTransition struct {
	target         bool
	initiatedAt    time.Time
	settleUntil    time.Time
	touchedRoute   bool
	touchedVehicle bool
	prior          models.ShiftState // restored on structural rollback
}

// Reconciler serializes one driver's shift transitions and reconciles them
// against the remote subscription feed.
type Reconciler struct {
	driverID string
	sync     remote.Sync
	tracker  Tracker

	settleWindow time.Duration
	retryDelay   time.Duration
	now          func() time.Time
	afterFunc    func(time.Duration, func()) *time.Timer

	mu        sync.Mutex
	state     State
	local     models.ShiftState
	pending   *pendingTransition
	listeners map[int]func(models.ShiftState)
	nextID    int
}

// NewReconciler creates a reconciler seeded with the last persisted shift
// state for the driver.
func NewReconciler(driverID string, rs remote.Sync, tracker Tracker, initial models.ShiftState) *Reconciler {
	state := StateOff
	if initial.IsOnShift {
		state = StateOn
	}
	return &Reconciler{
		driverID:     driverID,
		sync:         rs,
		tracker:      tracker,
		settleWindow: defaultSettleWindow,
		retryDelay:   defaultRetryDelay,
		now:          time.Now,
		afterFunc:    time.AfterFunc,
		state:        state,
		local:        initial,
		listeners:    make(map[int]func(models.ShiftState)),
	}
}

// State returns the current client-local state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ShiftState returns the local view of the driver's shift fields. This is
// what the UI renders; it is authoritative while a transition is guarded.
func (r *Reconciler) ShiftState() models.ShiftState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.local
}

// Subscribe registers a listener invoked on every local state change and
// returns an idempotent unregister function.
func (r *Reconciler) Subscribe(cb func(models.ShiftState)) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = cb
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.listeners, id)
			r.mu.Unlock()
		})
	}
}

// StartShift validates the preconditions and runs the OFF -> STARTING -> ON
// transition: optimistic local flip, vehicle and shift writes, then the
// location stream. Rapid repeated calls while a transition is in flight are
// no-ops.
func (r *Reconciler) StartShift(ctx context.Context, routeID, vehicleNo string) error {
	vehicleNo = strings.TrimSpace(vehicleNo)

	r.mu.Lock()
	if r.state != StateOff {
		r.mu.Unlock()
		log.Printf("⚠️  [SHIFT] StartShift ignored in state %s for driver %s", r.state, r.driverID)
		return nil
	}
	if routeID == "" {
		r.mu.Unlock()
		return remote.ValidationError("no route selected")
	}
	if !routes.Valid(routeID) {
		r.mu.Unlock()
		return remote.ValidationError("unknown route: %s", routeID)
	}
	if vehicleNo == "" {
		r.mu.Unlock()
		return remote.ValidationError("vehicle number is required")
	}

	log.Printf("🚍 [SHIFT] Starting shift for driver %s (route %s, vehicle %s)", r.driverID, routeID, vehicleNo)

	// Optimistic flip: the UI shows ON immediately.
	prior := r.local
	r.state = StateStarting
	r.local.IsOnShift = true
	r.local.CurrentRouteID = &routeID
	r.local.VehicleNo = &vehicleNo
	r.local.LastShiftUpdate = r.now().UnixMilli()
	r.pending = &pendingTransition{
		target:         true,
		initiatedAt:    r.now(),
		touchedRoute:   true,
		touchedVehicle: true,
		prior:          prior,
	}
	r.notifyLocked()
	r.mu.Unlock()

	if err := r.sync.SetVehicle(ctx, r.driverID, vehicleNo); err != nil {
		return r.resolveStartFailure(ctx, routeID, err)
	}
	if err := r.sync.SetShift(ctx, r.driverID, true, &routeID); err != nil {
		return r.resolveStartFailure(ctx, routeID, err)
	}
	if err := r.tracker.Start(ctx, r.driverID, routeID); err != nil {
		// GPS refusal is structural: without a stream there is no shift.
		return r.resolveStartFailure(ctx, routeID, err)
	}

	r.confirm(StateOn)
	log.Printf("✅ [SHIFT] Shift started for driver %s", r.driverID)
	return nil
}

// EndShift runs the ON -> ENDING -> OFF transition after the user confirms.
// The location stream stops before the shift write so no further samples
// land once the driver decided to go off shift.
func (r *Reconciler) EndShift(ctx context.Context, confirm Confirmer) error {
	r.mu.Lock()
	if r.state != StateOn {
		r.mu.Unlock()
		log.Printf("⚠️  [SHIFT] EndShift ignored in state %s for driver %s", r.state, r.driverID)
		return nil
	}
	r.mu.Unlock()

	if confirm != nil && !confirm() {
		log.Printf("🚫 [SHIFT] End shift cancelled by driver %s", r.driverID)
		return nil
	}

	r.mu.Lock()
	if r.state != StateOn {
		// Lost the race while the prompt was open.
		r.mu.Unlock()
		return nil
	}

	log.Printf("🚍 [SHIFT] Ending shift for driver %s", r.driverID)

	prior := r.local
	r.state = StateEnding
	r.local.IsOnShift = false
	r.local.CurrentRouteID = nil
	r.local.LastShiftUpdate = r.now().UnixMilli()
	r.pending = &pendingTransition{
		target:       false,
		initiatedAt:  r.now(),
		touchedRoute: true,
		prior:        prior,
	}
	r.notifyLocked()
	r.mu.Unlock()

	r.tracker.Stop(r.driverID)

	if err := r.sync.SetShift(ctx, r.driverID, false, nil); err != nil {
		return r.resolveEndFailure(ctx, err)
	}

	r.confirm(StateOff)
	log.Printf("✅ [SHIFT] Shift ended for driver %s", r.driverID)
	return nil
}

// ApplySnapshot feeds one remote shift snapshot into the reconciler. While
// a transition guard is armed the snapshot's shift flag is discarded;
// afterwards the remote store is the source of truth again.
func (r *Reconciler) ApplySnapshot(snapshot models.ShiftState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.expireGuardLocked()

	guarded := r.pending != nil
	changed := false

	if !guarded || !r.pending.touchedVehicle {
		if !strPtrEqual(r.local.VehicleNo, snapshot.VehicleNo) {
			r.local.VehicleNo = snapshot.VehicleNo
			changed = true
		}
	}
	if !guarded || !r.pending.touchedRoute {
		if !strPtrEqual(r.local.CurrentRouteID, snapshot.CurrentRouteID) {
			r.local.CurrentRouteID = snapshot.CurrentRouteID
			changed = true
		}
	}

	if guarded {
		if snapshot.IsOnShift != r.local.IsOnShift {
			log.Printf("🛡️  [SHIFT] Discarding stale remote shift flag for driver %s (guard armed)", r.driverID)
		}
	} else if snapshot.IsOnShift != r.local.IsOnShift {
		log.Printf("🔄 [SHIFT] Remote shift flag wins for driver %s: %v", r.driverID, snapshot.IsOnShift)
		r.local.IsOnShift = snapshot.IsOnShift
		r.local.LastShiftUpdate = snapshot.LastShiftUpdate
		if snapshot.IsOnShift {
			r.state = StateOn
		} else {
			r.state = StateOff
		}
		changed = true
	}

	if changed {
		r.notifyLocked()
	}
}

// confirm marks the in-flight transition as acknowledged and holds the
// guard for the settle window before snapshots apply again.
func (r *Reconciler) confirm(next State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = next
	if r.pending != nil {
		r.pending.settleUntil = r.now().Add(r.settleWindow)
	}
	r.notifyLocked()
}

// expireGuardLocked drops the guard once its settle window elapsed, or
// after the bounded timeout if confirmation never landed.
func (r *Reconciler) expireGuardLocked() {
	if r.pending == nil {
		return
	}
	now := r.now()
	if !r.pending.settleUntil.IsZero() {
		if !now.Before(r.pending.settleUntil) {
			r.pending = nil
		}
		return
	}
	if now.Sub(r.pending.initiatedAt) >= maxPendingAge {
		log.Printf("⚠️  [SHIFT] Transition guard timed out for driver %s", r.driverID)
		r.pending = nil
	}
}

// resolveStartFailure decides between rollback and keep-optimistic for a
// failed start transition.
func (r *Reconciler) resolveStartFailure(ctx context.Context, routeID string, err error) error {
	if remote.IsStructural(err) {
		log.Printf("❌ [SHIFT] Start rejected for driver %s: %v", r.driverID, err)
		r.rollback(StateOff)
		r.tracker.Stop(r.driverID)
		return err
	}

	// Transient hiccup: the driver stays ON and one background retry
	// re-issues the write. Driver experience beats backend consistency.
	log.Printf("⚠️  [SHIFT] Start write failed for driver %s, keeping optimistic state: %v", r.driverID, err)
	r.confirm(StateOn)
	r.scheduleRetry(true, &routeID)
	return nil
}

func (r *Reconciler) resolveEndFailure(ctx context.Context, err error) error {
	if remote.IsStructural(err) {
		log.Printf("❌ [SHIFT] End rejected for driver %s: %v", r.driverID, err)
		r.rollback(StateOn)
		// The shift is still on; resume broadcasting.
		if restored := r.ShiftState(); restored.CurrentRouteID != nil {
			if startErr := r.tracker.Start(ctx, r.driverID, *restored.CurrentRouteID); startErr != nil {
				log.Printf("⚠️  [SHIFT] Failed to resume tracking for driver %s: %v", r.driverID, startErr)
			}
		}
		return err
	}

	log.Printf("⚠️  [SHIFT] End write failed for driver %s, keeping optimistic state: %v", r.driverID, err)
	r.confirm(StateOff)
	r.scheduleRetry(false, nil)
	return nil
}

// rollback reverts the optimistic flip after a structural denial,
// restoring the state captured when the transition began.
func (r *Reconciler) rollback(to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = to
	if r.pending != nil {
		r.local = r.pending.prior
	}
	r.pending = nil
	r.notifyLocked()
}

// scheduleRetry re-issues the shift write once after the retry delay.
// A second failure is logged and dropped; the subscription feed will
// eventually reconcile whatever the backend ended up with.
func (r *Reconciler) scheduleRetry(isOnShift bool, routeID *string) {
	r.afterFunc(r.retryDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.sync.SetShift(ctx, r.driverID, isOnShift, routeID); err != nil {
			log.Printf("⚠️  [SHIFT] Background retry failed for driver %s: %v", r.driverID, err)
			return
		}
		log.Printf("✅ [SHIFT] Background retry succeeded for driver %s", r.driverID)
	})
}

func (r *Reconciler) notifyLocked() {
	state := r.local
	for _, cb := range r.listeners {
		cb(state)
	}
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
