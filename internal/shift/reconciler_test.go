package shift

import (
	"context"
	"sync"
	"testing"
	"time"

	"shuttle-tracker/internal/models"
	"shuttle-tracker/internal/remote"

	"github.com/stretchr/testify/assert"
)

type call struct {
	method    string
	isOnShift bool
	routeID   *string
}

type fakeSync struct {
	remote.Sync

	mu                sync.Mutex
	calls             []call
	shiftErr          error
	shiftErrRemaining int // -1 means always fail
	vehicleErr        error
}

func (s *fakeSync) SetShift(ctx context.Context, driverID string, isOnShift bool, routeID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{method: "SetShift", isOnShift: isOnShift, routeID: routeID})
	if s.shiftErr != nil && (s.shiftErrRemaining > 0 || s.shiftErrRemaining == -1) {
		if s.shiftErrRemaining > 0 {
			s.shiftErrRemaining--
		}
		return s.shiftErr
	}
	return nil
}

func (s *fakeSync) SetVehicle(ctx context.Context, driverID, vehicleNo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{method: "SetVehicle"})
	return s.vehicleErr
}

func (s *fakeSync) methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.method
	}
	return out
}

type fakeTracker struct {
	mu       sync.Mutex
	started  []string
	stopped  []string
	startErr error
}

func (t *fakeTracker) Start(ctx context.Context, driverID, routeID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startErr != nil {
		return t.startErr
	}
	t.started = append(t.started, routeID)
	return nil
}

func (t *fakeTracker) Stop(driverID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = append(t.stopped, driverID)
}

// testClock drives the reconciler's notion of time and captures retry
// timers for manual firing.
type testClock struct {
	mu      sync.Mutex
	current time.Time
	retries []func()
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}

func (c *testClock) afterFunc(d time.Duration, fn func()) *time.Timer {
	c.mu.Lock()
	c.retries = append(c.retries, fn)
	c.mu.Unlock()
	return time.NewTimer(time.Hour) // never fires on its own in tests
}

func (c *testClock) fireRetries() {
	c.mu.Lock()
	pending := c.retries
	c.retries = nil
	c.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

func newTestReconciler(rs *fakeSync, tracker *fakeTracker, initial models.ShiftState) (*Reconciler, *testClock) {
	clock := &testClock{current: time.Unix(1700000000, 0)}
	r := NewReconciler("d1", rs, tracker, initial)
	r.now = clock.now
	r.afterFunc = clock.afterFunc
	return r, clock
}

func yes() bool { return true }
func no() bool  { return false }

func TestStartShift_NoRouteRejected(t *testing.T) {
	rs := &fakeSync{}
	r, _ := newTestReconciler(rs, &fakeTracker{}, models.ShiftState{})

	err := r.StartShift(context.Background(), "", "TN01AB1234")
	assert.Equal(t, remote.KindValidation, remote.KindOf(err))
	assert.Equal(t, StateOff, r.State())
	assert.Empty(t, rs.methods(), "nothing written on precondition failure")
}

func TestStartShift_BlankVehicleRejected(t *testing.T) {
	rs := &fakeSync{}
	r, _ := newTestReconciler(rs, &fakeTracker{}, models.ShiftState{})

	err := r.StartShift(context.Background(), "mh", "   ")
	assert.Equal(t, remote.KindValidation, remote.KindOf(err))
	assert.Equal(t, StateOff, r.State())
}

func TestStartShift_HappyPath(t *testing.T) {
	rs := &fakeSync{}
	tracker := &fakeTracker{}
	r, _ := newTestReconciler(rs, tracker, models.ShiftState{})

	assert.NoError(t, r.StartShift(context.Background(), "lh-prp", "TN01AB1234"))
	assert.Equal(t, StateOn, r.State())

	state := r.ShiftState()
	assert.True(t, state.IsOnShift)
	assert.Equal(t, "lh-prp", *state.CurrentRouteID)
	assert.Equal(t, "TN01AB1234", *state.VehicleNo)

	// Vehicle write precedes shift write; tracking starts after the
	// shift write succeeds.
	assert.Equal(t, []string{"SetVehicle", "SetShift"}, rs.methods())
	assert.Equal(t, []string{"lh-prp"}, tracker.started)
}

func TestStartShift_ReentrancyGuard(t *testing.T) {
	rs := &fakeSync{}
	r, _ := newTestReconciler(rs, &fakeTracker{}, models.ShiftState{})

	assert.NoError(t, r.StartShift(context.Background(), "mh", "TN01AB1234"))
	writes := len(rs.methods())

	// Second tap while already ON is a no-op.
	assert.NoError(t, r.StartShift(context.Background(), "mh", "TN01AB1234"))
	assert.Len(t, rs.methods(), writes)
}

func TestStartShift_GuardDiscardsStaleSnapshot(t *testing.T) {
	rs := &fakeSync{}
	r, _ := newTestReconciler(rs, &fakeTracker{}, models.ShiftState{})

	assert.NoError(t, r.StartShift(context.Background(), "mh", "TN01AB1234"))

	// A poll cycle carrying pre-transition state arrives within the
	// settle window. It must not revert the shift.
	r.ApplySnapshot(models.ShiftState{IsOnShift: false})
	assert.Equal(t, StateOn, r.State())
	assert.True(t, r.ShiftState().IsOnShift)
}

func TestStartShift_SnapshotAppliedAfterSettleWindow(t *testing.T) {
	rs := &fakeSync{}
	r, clock := newTestReconciler(rs, &fakeTracker{}, models.ShiftState{})

	assert.NoError(t, r.StartShift(context.Background(), "mh", "TN01AB1234"))

	clock.advance(4 * time.Second) // past the 3s settle window

	// Remote is authoritative again: a manager forced the shift off.
	r.ApplySnapshot(models.ShiftState{IsOnShift: false})
	assert.Equal(t, StateOff, r.State())
	assert.False(t, r.ShiftState().IsOnShift)
}

func TestStartShift_PermissionDeniedRollsBack(t *testing.T) {
	rs := &fakeSync{}
	tracker := &fakeTracker{startErr: remote.PermissionDenied("location permission not granted")}
	r, _ := newTestReconciler(rs, tracker, models.ShiftState{})

	err := r.StartShift(context.Background(), "mh", "TN01AB1234")
	assert.Equal(t, remote.KindPermissionDenied, remote.KindOf(err))
	assert.Equal(t, StateOff, r.State())
	assert.False(t, r.ShiftState().IsOnShift)
	assert.Contains(t, tracker.stopped, "d1")
}

func TestStartShift_TransientFailureKeepsOptimisticStateAndRetries(t *testing.T) {
	rs := &fakeSync{shiftErr: remote.TransientError("timeout", nil), shiftErrRemaining: 1}
	r, clock := newTestReconciler(rs, &fakeTracker{}, models.ShiftState{})

	assert.NoError(t, r.StartShift(context.Background(), "mh", "TN01AB1234"))
	assert.Equal(t, StateOn, r.State(), "driver stays ON through a backend hiccup")
	assert.True(t, r.ShiftState().IsOnShift)

	assert.Len(t, clock.retries, 1)
	clock.fireRetries()

	methods := rs.methods()
	assert.Equal(t, "SetShift", methods[len(methods)-1], "background retry re-issued the write")
}

func TestEndShift_DeclinedConfirmationLeavesStateOn(t *testing.T) {
	rs := &fakeSync{}
	route := "mh"
	vehicle := "TN01AB1234"
	r, _ := newTestReconciler(rs, &fakeTracker{}, models.ShiftState{IsOnShift: true, CurrentRouteID: &route, VehicleNo: &vehicle})

	assert.NoError(t, r.EndShift(context.Background(), no))
	assert.Equal(t, StateOn, r.State())
	assert.True(t, r.ShiftState().IsOnShift)
	assert.Empty(t, rs.methods())
}

func TestEndShift_HappyPath(t *testing.T) {
	rs := &fakeSync{}
	tracker := &fakeTracker{}
	route := "mh"
	vehicle := "TN01AB1234"
	r, _ := newTestReconciler(rs, tracker, models.ShiftState{IsOnShift: true, CurrentRouteID: &route, VehicleNo: &vehicle})

	assert.NoError(t, r.EndShift(context.Background(), yes))
	assert.Equal(t, StateOff, r.State())
	assert.False(t, r.ShiftState().IsOnShift)
	assert.Nil(t, r.ShiftState().CurrentRouteID)

	// Tracking stops before the shift write.
	assert.Equal(t, []string{"d1"}, tracker.stopped)
	methods := rs.methods()
	assert.Equal(t, []string{"SetShift"}, methods)
}

func TestEndShift_FromOffIsNoop(t *testing.T) {
	rs := &fakeSync{}
	r, _ := newTestReconciler(rs, &fakeTracker{}, models.ShiftState{})

	assert.NoError(t, r.EndShift(context.Background(), yes))
	assert.Equal(t, StateOff, r.State())
	assert.Empty(t, rs.methods())
}

func TestEndShift_StructuralFailureRollsBackToOn(t *testing.T) {
	rs := &fakeSync{shiftErr: remote.AuthError("session expired"), shiftErrRemaining: -1}
	tracker := &fakeTracker{}
	route := "mh"
	vehicle := "TN01AB1234"
	r, _ := newTestReconciler(rs, tracker, models.ShiftState{IsOnShift: true, CurrentRouteID: &route, VehicleNo: &vehicle})

	err := r.EndShift(context.Background(), yes)
	assert.Equal(t, remote.KindAuth, remote.KindOf(err))
	assert.Equal(t, StateOn, r.State())

	state := r.ShiftState()
	assert.True(t, state.IsOnShift)
	assert.Equal(t, "mh", *state.CurrentRouteID, "route restored on rollback")
	assert.Equal(t, []string{"mh"}, tracker.started, "tracking resumed")
}

func TestApplySnapshot_NonConflictingFieldsApplyDuringEndGuard(t *testing.T) {
	rs := &fakeSync{}
	route := "mh"
	vehicle := "TN01AB1234"
	r, _ := newTestReconciler(rs, &fakeTracker{}, models.ShiftState{IsOnShift: true, CurrentRouteID: &route, VehicleNo: &vehicle})

	assert.NoError(t, r.EndShift(context.Background(), yes))

	// Guard is armed for the end transition; the vehicle number was not
	// touched locally, so a remote edit to it still lands.
	newVehicle := "TN01XY9999"
	r.ApplySnapshot(models.ShiftState{IsOnShift: true, VehicleNo: &newVehicle})

	state := r.ShiftState()
	assert.False(t, state.IsOnShift, "guarded shift flag not reverted")
	assert.Equal(t, "TN01XY9999", *state.VehicleNo)
}

func TestApplySnapshot_UnguardedAppliesEverything(t *testing.T) {
	rs := &fakeSync{}
	r, _ := newTestReconciler(rs, &fakeTracker{}, models.ShiftState{})

	route := "lh-prp"
	vehicle := "TN01AB1234"
	r.ApplySnapshot(models.ShiftState{IsOnShift: true, CurrentRouteID: &route, VehicleNo: &vehicle, LastShiftUpdate: 42})

	assert.Equal(t, StateOn, r.State())
	state := r.ShiftState()
	assert.True(t, state.IsOnShift)
	assert.Equal(t, "lh-prp", *state.CurrentRouteID)
	assert.Equal(t, int64(42), state.LastShiftUpdate)
}

func TestInitialStateFromPersistedRecord(t *testing.T) {
	route := "mh"
	vehicle := "TN01AB1234"
	r, _ := newTestReconciler(&fakeSync{}, &fakeTracker{}, models.ShiftState{IsOnShift: true, CurrentRouteID: &route, VehicleNo: &vehicle})
	assert.Equal(t, StateOn, r.State())

	r2, _ := newTestReconciler(&fakeSync{}, &fakeTracker{}, models.ShiftState{})
	assert.Equal(t, StateOff, r2.State())
}

func TestSubscribe_NotifiedAndUnsubscribeIdempotent(t *testing.T) {
	r, _ := newTestReconciler(&fakeSync{}, &fakeTracker{}, models.ShiftState{})

	var mu sync.Mutex
	notifications := 0
	unsubscribe := r.Subscribe(func(models.ShiftState) {
		mu.Lock()
		notifications++
		mu.Unlock()
	})

	assert.NoError(t, r.StartShift(context.Background(), "mh", "TN01AB1234"))
	mu.Lock()
	assert.Greater(t, notifications, 0)
	seen := notifications
	mu.Unlock()

	unsubscribe()
	unsubscribe() // harmless

	assert.NoError(t, r.EndShift(context.Background(), yes))
	mu.Lock()
	assert.Equal(t, seen, notifications, "no notifications after unsubscribe")
	mu.Unlock()
}
