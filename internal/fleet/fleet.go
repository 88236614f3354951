// Package fleet consumes fleet snapshots for the rider's map: route
// filtering plus ETA annotation against the rider's last known position.
package fleet

import (
	"math"
	"sync"

	"shuttle-tracker/internal/geo"
	"shuttle-tracker/internal/models"
)

// Status distinguishes "snapshot not yet loaded" from "loaded but no
// shuttle on the selected route". Downstream UI keys off this; an empty
// list alone is ambiguous.
type Status int

const (
	StatusLoading Status = iota
	StatusNoShuttles
	StatusActive
)

// ETA is a computed arrival estimate. Known is false when no estimate is
// possible (no rider position, or shuttle speed 0 making the estimate
// infinite).
type ETA struct {
	Seconds float64
	Display string
	Known   bool
}

// Entry is one shuttle on the rider's map with its ETA.
type Entry struct {
	Shuttle models.Shuttle
	ETA     ETA
}

// View holds the rider-facing state derived from the fleet subscription.
type View struct {
	mu            sync.Mutex
	selectedRoute *string
	riderLat      float64
	riderLon      float64
	hasRiderPos   bool
	loaded        bool
	last          models.FleetSnapshot
	entries       []Entry
	listeners     map[int]func([]Entry, Status)
	nextID        int
}

func NewView() *View {
	return &View{listeners: make(map[int]func([]Entry, Status))}
}

// SelectRoute filters the view to one route; nil passes every shuttle
// through.
func (v *View) SelectRoute(routeID *string) {
	v.mu.Lock()
	v.selectedRoute = routeID
	v.refilterLocked()
	v.notifyLocked()
	v.mu.Unlock()
}

// SetRiderPosition records the rider's last known position for ETA math.
func (v *View) SetRiderPosition(lat, lon float64) {
	v.mu.Lock()
	v.riderLat = lat
	v.riderLon = lon
	v.hasRiderPos = true
	v.refilterLocked()
	v.mu.Unlock()
}

// OnSnapshot ingests one cycle of the fleet subscription.
func (v *View) OnSnapshot(snapshot models.FleetSnapshot) {
	v.mu.Lock()
	v.loaded = true
	v.last = snapshot
	v.refilterLocked()
	v.notifyLocked()
	v.mu.Unlock()
}

// Entries returns the current filtered, ETA-annotated shuttle list and the
// view status.
func (v *View) Entries() ([]Entry, Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.entries, v.statusLocked()
}

// Subscribe registers a listener called after every snapshot or filter
// change; the returned unregister function is idempotent.
func (v *View) Subscribe(cb func([]Entry, Status)) func() {
	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.listeners[id] = cb
	v.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.listeners, id)
			v.mu.Unlock()
		})
	}
}

func (v *View) statusLocked() Status {
	if !v.loaded {
		return StatusLoading
	}
	if len(v.entries) == 0 {
		return StatusNoShuttles
	}
	return StatusActive
}

func (v *View) refilterLocked() {
	entries := make([]Entry, 0, len(v.last.Shuttles))
	for _, shuttle := range v.last.Shuttles {
		if v.selectedRoute != nil && shuttle.RouteID != *v.selectedRoute {
			continue
		}
		entries = append(entries, Entry{Shuttle: shuttle, ETA: v.etaLocked(shuttle)})
	}
	v.entries = entries
}

func (v *View) etaLocked(shuttle models.Shuttle) ETA {
	if !v.hasRiderPos {
		return ETA{}
	}
	seconds := geo.ETASeconds(shuttle.Lat, shuttle.Lon, v.riderLat, v.riderLon, shuttle.SpeedKmh)
	if math.IsInf(seconds, 0) || math.IsNaN(seconds) {
		return ETA{}
	}
	return ETA{
		Seconds: seconds,
		Display: geo.FormatDuration(seconds),
		Known:   true,
	}
}

func (v *View) notifyLocked() {
	entries := v.entries
	status := v.statusLocked()
	for _, cb := range v.listeners {
		cb(entries, status)
	}
}
