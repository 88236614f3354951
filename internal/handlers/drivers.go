package handlers

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"shuttle-tracker/internal/metrics"
	"shuttle-tracker/internal/middleware"
	"shuttle-tracker/internal/models"
	"shuttle-tracker/internal/routes"
	"shuttle-tracker/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
)

// GetDriver returns a driver's record, shift state included. 404 means the
// driver has not been initialized yet; the client treats that as "no shift".
func GetDriver(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		driverID := chi.URLParam(r, "id")

		var driver models.Driver
		if err := db.Get(&driver, "SELECT * FROM drivers WHERE id = $1", driverID); err != nil {
			if err == sql.ErrNoRows {
				utils.RespondError(w, http.StatusNotFound, "driver not found")
				return
			}
			log.Printf("❌ Failed to load driver %s: %v", driverID, err)
			utils.RespondError(w, http.StatusInternalServerError, "failed to load driver")
			return
		}

		utils.RespondJSON(w, http.StatusOK, driver)
	}
}

// InitializeDriver creates the driver record for the authenticated user on
// first login. Safe to call repeatedly.
func InitializeDriver(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if claims.Role != models.RoleDriver {
			utils.RespondError(w, http.StatusForbidden, "only drivers can be initialized")
			return
		}

		var user models.User
		if err := db.Get(&user, "SELECT * FROM users WHERE id = $1", claims.UserID); err != nil {
			log.Printf("❌ Failed to load user %s: %v", claims.UserID, err)
			utils.RespondError(w, http.StatusInternalServerError, "failed to load user")
			return
		}

		_, err := db.Exec(`
			INSERT INTO drivers (id, user_id, name, email, is_on_shift, vehicle_no)
			VALUES ($1, $1, $2, $3, FALSE, 'N/A')
			ON CONFLICT (id) DO NOTHING
		`, user.ID, user.Name, user.Email)
		if err != nil {
			log.Printf("❌ Failed to initialize driver %s: %v", claims.UserID, err)
			utils.RespondError(w, http.StatusInternalServerError, "failed to initialize driver")
			return
		}

		var driver models.Driver
		if err := db.Get(&driver, "SELECT * FROM drivers WHERE id = $1", user.ID); err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "failed to load driver")
			return
		}

		log.Printf("✅ Driver initialized: %s", driver.ID)
		utils.RespondJSON(w, http.StatusOK, driver)
	}
}

type updateShiftRequest struct {
	IsOnShift bool    `json:"is_on_shift"`
	RouteID   *string `json:"route_id"`
}

// UpdateShift flips the driver's shift flag. Going on shift requires a known
// route. Going off shift clears the route and drops the live location so the
// shuttle disappears from rider maps immediately.
func UpdateShift(db *sqlx.DB, live LiveStore, hub Broadcaster, collector *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		driverID := chi.URLParam(r, "id")
		if !authorizeDriver(w, r, driverID) {
			return
		}

		var req updateShiftRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if req.IsOnShift {
			if req.RouteID == nil || !routes.Valid(*req.RouteID) {
				utils.RespondError(w, http.StatusBadRequest, "a valid route_id is required to start a shift")
				return
			}
		} else {
			req.RouteID = nil
		}

		nowMs := time.Now().UnixMilli()
		res, err := db.Exec(`
			UPDATE drivers
			SET is_on_shift = $1,
			    current_route = $2,
			    last_shift_update = $3,
			    updated_at = EXTRACT(EPOCH FROM NOW())::BIGINT
			WHERE id = $4
		`, req.IsOnShift, models.ToNullString(req.RouteID), nowMs, driverID)
		if err != nil {
			log.Printf("❌ Failed to update shift for %s: %v", driverID, err)
			utils.RespondError(w, http.StatusInternalServerError, "failed to update shift")
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			utils.RespondError(w, http.StatusNotFound, "driver not found")
			return
		}

		if req.IsOnShift {
			collector.ShiftStarts.Inc()
			log.Printf("🟢 Driver %s on shift (route %s)", driverID, *req.RouteID)
		} else {
			collector.ShiftEnds.Inc()
			log.Printf("⚪ Driver %s off shift", driverID)
			if err := live.Remove(r.Context(), driverID); err != nil {
				log.Printf("⚠️ Failed to drop live location for %s: %v", driverID, err)
			}
		}

		broadcastFleet(r.Context(), db, live, hub, collector)
		utils.RespondJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

type updateRouteRequest struct {
	RouteID string `json:"route_id"`
}

func UpdateRoute(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		driverID := chi.URLParam(r, "id")
		if !authorizeDriver(w, r, driverID) {
			return
		}

		var req updateRouteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if !routes.Valid(req.RouteID) {
			utils.RespondError(w, http.StatusBadRequest, "unknown route_id")
			return
		}

		if err := execDriverUpdate(db, driverID,
			"UPDATE drivers SET current_route = $1, updated_at = EXTRACT(EPOCH FROM NOW())::BIGINT WHERE id = $2",
			req.RouteID); err != nil {
			respondDriverUpdateError(w, driverID, err)
			return
		}

		utils.RespondJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

type updateVehicleRequest struct {
	VehicleNo string `json:"vehicle_no"`
}

func UpdateVehicle(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		driverID := chi.URLParam(r, "id")
		if !authorizeDriver(w, r, driverID) {
			return
		}

		var req updateVehicleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.VehicleNo == "" {
			utils.RespondError(w, http.StatusBadRequest, "vehicle_no is required")
			return
		}

		if err := execDriverUpdate(db, driverID,
			"UPDATE drivers SET vehicle_no = $1, updated_at = EXTRACT(EPOCH FROM NOW())::BIGINT WHERE id = $2",
			req.VehicleNo); err != nil {
			respondDriverUpdateError(w, driverID, err)
			return
		}

		utils.RespondJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// GetActiveDrivers lists every driver currently on shift.
func GetActiveDrivers(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		drivers := []models.Driver{}
		if err := db.Select(&drivers, "SELECT * FROM drivers WHERE is_on_shift = TRUE"); err != nil {
			log.Printf("❌ Failed to list active drivers: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "failed to list active drivers")
			return
		}
		utils.RespondJSON(w, http.StatusOK, drivers)
	}
}

// authorizeDriver rejects requests where the authenticated driver is trying
// to mutate someone else's record.
func authorizeDriver(w http.ResponseWriter, r *http.Request, driverID string) bool {
	claims, ok := middleware.GetUserFromContext(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	if claims.UserID != driverID {
		log.Printf("❌ Driver %s attempted to modify %s", claims.UserID, driverID)
		utils.RespondError(w, http.StatusForbidden, "cannot modify another driver")
		return false
	}
	return true
}

var errDriverNotFound = sql.ErrNoRows

func execDriverUpdate(db *sqlx.DB, driverID, query string, arg interface{}) error {
	res, err := db.Exec(query, arg, driverID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errDriverNotFound
	}
	return nil
}

func respondDriverUpdateError(w http.ResponseWriter, driverID string, err error) {
	if err == errDriverNotFound {
		utils.RespondError(w, http.StatusNotFound, "driver not found")
		return
	}
	log.Printf("❌ Failed to update driver %s: %v", driverID, err)
	utils.RespondError(w, http.StatusInternalServerError, "failed to update driver")
}
