package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"shuttle-tracker/internal/metrics"
	"shuttle-tracker/internal/middleware"
	"shuttle-tracker/internal/models"
	"shuttle-tracker/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
)

// LiveStore is the slice of store.LiveStore the handlers need.
type LiveStore interface {
	Update(ctx context.Context, sample models.LocationSample) (bool, error)
	Remove(ctx context.Context, driverID string) error
	Get(ctx context.Context, driverID string) (*models.LocationSample, error)
	All(ctx context.Context) ([]models.LocationSample, error)
}

// Broadcaster pushes messages to connected WebSocket clients by role.
type Broadcaster interface {
	BroadcastToRole(role string, data interface{})
}

type updateLocationResponse struct {
	OK bool `json:"ok"`
	// Accepted is false when a newer sample was already stored and this
	// one was dropped.
	Accepted bool `json:"accepted"`
}

// UpdateLocation stores a driver's GPS sample and pushes the refreshed fleet
// to rider clients. Out-of-order samples lose by timestamp and are dropped.
func UpdateLocation(db *sqlx.DB, live LiveStore, hub Broadcaster, collector *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sample models.LocationSample
		if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if claims.UserID != sample.DriverID {
			log.Printf("❌ Driver %s attempted to publish location for %s", claims.UserID, sample.DriverID)
			utils.RespondError(w, http.StatusForbidden, "cannot publish location for another driver")
			return
		}

		if err := sample.Validate(); err != nil {
			log.Printf("❌ Rejected location from %s: %v", sample.DriverID, err)
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}

		accepted, err := live.Update(r.Context(), sample)
		if err != nil {
			log.Printf("❌ Failed to store location for %s: %v", sample.DriverID, err)
			utils.RespondError(w, http.StatusInternalServerError, "failed to store location")
			return
		}

		if !accepted {
			collector.StaleDrops.Inc()
			utils.RespondJSON(w, http.StatusOK, updateLocationResponse{OK: true, Accepted: false})
			return
		}

		collector.LocationUpdates.Inc()
		broadcastFleet(r.Context(), db, live, hub, collector)
		utils.RespondJSON(w, http.StatusOK, updateLocationResponse{OK: true, Accepted: true})
	}
}

// RemoveLocation deletes a driver's live location, normally at shift end.
func RemoveLocation(db *sqlx.DB, live LiveStore, hub Broadcaster, collector *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		driverID := chi.URLParam(r, "id")
		if !authorizeDriver(w, r, driverID) {
			return
		}

		if err := live.Remove(r.Context(), driverID); err != nil {
			log.Printf("❌ Failed to remove location for %s: %v", driverID, err)
			utils.RespondError(w, http.StatusInternalServerError, "failed to remove location")
			return
		}

		log.Printf("🗑️ Live location removed for driver %s", driverID)
		broadcastFleet(r.Context(), db, live, hub, collector)
		utils.RespondJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// GetActiveLocations returns every on-shift shuttle with a live location.
func GetActiveLocations(db *sqlx.DB, live LiveStore, collector *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shuttles, err := buildFleet(r.Context(), db, live)
		if err != nil {
			log.Printf("❌ Failed to build fleet snapshot: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "failed to load locations")
			return
		}

		collector.ActiveShuttles.Set(float64(len(shuttles)))
		utils.RespondJSON(w, http.StatusOK, shuttles)
	}
}

// GetLocation returns one driver's live location, 404 if absent.
func GetLocation(live LiveStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		driverID := chi.URLParam(r, "id")

		sample, err := live.Get(r.Context(), driverID)
		if err != nil {
			log.Printf("❌ Failed to read location for %s: %v", driverID, err)
			utils.RespondError(w, http.StatusInternalServerError, "failed to read location")
			return
		}
		if sample == nil {
			utils.RespondError(w, http.StatusNotFound, "no live location for driver")
			return
		}

		utils.RespondJSON(w, http.StatusOK, sample)
	}
}

// HandleSocketLocation processes a location_update pushed over the
// WebSocket instead of the REST endpoint. The driver identity comes from
// the authenticated connection, never from the payload.
func HandleSocketLocation(db *sqlx.DB, live LiveStore, hub Broadcaster, collector *metrics.Collector) func(driverID string, data json.RawMessage) {
	return func(driverID string, data json.RawMessage) {
		var sample models.LocationSample
		if err := json.Unmarshal(data, &sample); err != nil {
			log.Printf("❌ Invalid location_update payload from %s: %v", driverID, err)
			return
		}
		sample.DriverID = driverID

		if err := sample.Validate(); err != nil {
			log.Printf("❌ Rejected socket location from %s: %v", driverID, err)
			return
		}

		ctx := context.Background()
		accepted, err := live.Update(ctx, sample)
		if err != nil {
			log.Printf("❌ Failed to store socket location for %s: %v", driverID, err)
			return
		}
		if !accepted {
			collector.StaleDrops.Inc()
			return
		}

		collector.LocationUpdates.Inc()
		broadcastFleet(ctx, db, live, hub, collector)
	}
}

// buildFleet joins live locations with on-shift driver records. Locations
// without an on-shift driver are skipped; they belong to shuttles that went
// off shift but whose TTL has not fired yet.
func buildFleet(ctx context.Context, db *sqlx.DB, live LiveStore) ([]models.Shuttle, error) {
	var drivers []models.Driver
	if err := db.SelectContext(ctx, &drivers, "SELECT * FROM drivers WHERE is_on_shift = TRUE"); err != nil {
		return nil, err
	}

	byID := make(map[string]models.Driver, len(drivers))
	for _, d := range drivers {
		byID[d.ID] = d
	}

	samples, err := live.All(ctx)
	if err != nil {
		return nil, err
	}

	shuttles := []models.Shuttle{}
	for _, s := range samples {
		driver, ok := byID[s.DriverID]
		if !ok {
			continue
		}

		vehicleNo := "N/A"
		if driver.VehicleNo != nil && *driver.VehicleNo != "" {
			vehicleNo = *driver.VehicleNo
		}

		routeID := s.RouteID
		if driver.CurrentRoute != nil {
			routeID = *driver.CurrentRoute
		}

		shuttles = append(shuttles, models.Shuttle{
			ID:          s.DriverID,
			RouteID:     routeID,
			Lat:         s.Lat,
			Lon:         s.Lon,
			SpeedKmh:    s.SpeedKmh,
			BearingDeg:  s.BearingDeg,
			DriverName:  driver.Name,
			VehicleNo:   vehicleNo,
			TimestampMs: s.CapturedAtMs,
		})
	}

	return shuttles, nil
}

// broadcastFleet pushes the current fleet to rider clients. Failures are
// logged and swallowed; riders fall back to polling.
func broadcastFleet(ctx context.Context, db *sqlx.DB, live LiveStore, hub Broadcaster, collector *metrics.Collector) {
	shuttles, err := buildFleet(ctx, db, live)
	if err != nil {
		log.Printf("⚠️ Skipping fleet broadcast: %v", err)
		return
	}

	collector.ActiveShuttles.Set(float64(len(shuttles)))
	hub.BroadcastToRole(models.RoleRider, map[string]interface{}{
		"type": "fleet_update",
		"data": models.FleetSnapshot{Shuttles: shuttles},
	})
}
