package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"shuttle-tracker/internal/metrics"
	"shuttle-tracker/internal/middleware"
	"shuttle-tracker/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

type fakeLive struct {
	samples  map[string]models.LocationSample
	accepted bool
	removed  []string
}

func newFakeLive() *fakeLive {
	return &fakeLive{samples: make(map[string]models.LocationSample), accepted: true}
}

func (f *fakeLive) Update(_ context.Context, sample models.LocationSample) (bool, error) {
	if !f.accepted {
		return false, nil
	}
	f.samples[sample.DriverID] = sample
	return true, nil
}

func (f *fakeLive) Remove(_ context.Context, driverID string) error {
	f.removed = append(f.removed, driverID)
	delete(f.samples, driverID)
	return nil
}

func (f *fakeLive) Get(_ context.Context, driverID string) (*models.LocationSample, error) {
	s, ok := f.samples[driverID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeLive) All(_ context.Context) ([]models.LocationSample, error) {
	out := make([]models.LocationSample, 0, len(f.samples))
	for _, s := range f.samples {
		out = append(out, s)
	}
	return out, nil
}

type fakeBroadcaster struct {
	messages []interface{}
}

func (f *fakeBroadcaster) BroadcastToRole(role string, data interface{}) {
	f.messages = append(f.messages, data)
}

func asDriver(req *http.Request, driverID string) *http.Request {
	claims := middleware.UserClaims{UserID: driverID, Email: driverID + "@shuttle.local", Role: models.RoleDriver}
	return req.WithContext(context.WithValue(req.Context(), middleware.UserContextKey, claims))
}

func postLocation(t *testing.T, handler http.HandlerFunc, driverID string, sample models.LocationSample) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(sample)
	assert.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/locations/update", bytes.NewReader(body))
	if driverID != "" {
		req = asDriver(req, driverID)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestUpdateLocation_RejectsInvalidCoordinates(t *testing.T) {
	live := newFakeLive()
	handler := UpdateLocation(nil, live, &fakeBroadcaster{}, metrics.NewCollector())

	rec := postLocation(t, handler, "d1", models.LocationSample{
		DriverID: "d1", RouteID: "mh", Lat: 91.0, Lon: 0, CapturedAtMs: 1000,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, live.samples)
}

func TestUpdateLocation_RejectsOtherDriversID(t *testing.T) {
	live := newFakeLive()
	handler := UpdateLocation(nil, live, &fakeBroadcaster{}, metrics.NewCollector())

	rec := postLocation(t, handler, "d2", models.LocationSample{
		DriverID: "d1", RouteID: "mh", Lat: 12.97, Lon: 77.59, CapturedAtMs: 1000,
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, live.samples)
}

func TestUpdateLocation_RequiresAuth(t *testing.T) {
	handler := UpdateLocation(nil, newFakeLive(), &fakeBroadcaster{}, metrics.NewCollector())

	rec := postLocation(t, handler, "", models.LocationSample{
		DriverID: "d1", RouteID: "mh", Lat: 12.97, Lon: 77.59, CapturedAtMs: 1000,
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpdateLocation_StaleSampleDroppedWithoutBroadcast(t *testing.T) {
	live := newFakeLive()
	live.accepted = false
	hub := &fakeBroadcaster{}
	handler := UpdateLocation(nil, live, hub, metrics.NewCollector())

	rec := postLocation(t, handler, "d1", models.LocationSample{
		DriverID: "d1", RouteID: "mh", Lat: 12.97, Lon: 77.59, CapturedAtMs: 500,
	})

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp updateLocationResponse
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.False(t, resp.Accepted)
	assert.Empty(t, hub.messages)
}

func TestGetLocation(t *testing.T) {
	live := newFakeLive()
	live.samples["d1"] = models.LocationSample{
		DriverID: "d1", RouteID: "mh", Lat: 12.97, Lon: 77.59, CapturedAtMs: 1000,
	}

	r := chi.NewRouter()
	r.Get("/api/locations/{id}", GetLocation(live))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/locations/d1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var sample models.LocationSample
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sample))
	assert.Equal(t, "d1", sample.DriverID)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/locations/ghost", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateShift_RejectsUnknownRoute(t *testing.T) {
	r := chi.NewRouter()
	r.Put("/api/drivers/{id}/shift", UpdateShift(nil, newFakeLive(), &fakeBroadcaster{}, metrics.NewCollector()))

	body := []byte(`{"is_on_shift": true, "route_id": "nope"}`)
	req := asDriver(httptest.NewRequest(http.MethodPut, "/api/drivers/d1/shift", bytes.NewReader(body)), "d1")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateShift_RejectsMissingRouteOnStart(t *testing.T) {
	r := chi.NewRouter()
	r.Put("/api/drivers/{id}/shift", UpdateShift(nil, newFakeLive(), &fakeBroadcaster{}, metrics.NewCollector()))

	body := []byte(`{"is_on_shift": true}`)
	req := asDriver(httptest.NewRequest(http.MethodPut, "/api/drivers/d1/shift", bytes.NewReader(body)), "d1")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateShift_RejectsOtherDriver(t *testing.T) {
	r := chi.NewRouter()
	r.Put("/api/drivers/{id}/shift", UpdateShift(nil, newFakeLive(), &fakeBroadcaster{}, metrics.NewCollector()))

	body := []byte(`{"is_on_shift": true, "route_id": "mh"}`)
	req := asDriver(httptest.NewRequest(http.MethodPut, "/api/drivers/d1/shift", bytes.NewReader(body)), "d2")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUpdateVehicle_RejectsBlank(t *testing.T) {
	r := chi.NewRouter()
	r.Put("/api/drivers/{id}/vehicle", UpdateVehicle(nil))

	body := []byte(`{"vehicle_no": ""}`)
	req := asDriver(httptest.NewRequest(http.MethodPut, "/api/drivers/d1/vehicle", bytes.NewReader(body)), "d1")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
