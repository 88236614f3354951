package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"shuttle-tracker/internal/models"
)

// RESTClient talks to the shuttle backend over plain request-response
// calls and emulates subscriptions by polling at a fixed cadence.
type RESTClient struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	pollInterval time.Duration
}

// NewRESTClient creates a REST transport for the given backend. token is
// the bearer token identifying the current actor.
func NewRESTClient(baseURL, token string) *RESTClient {
	return &RESTClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		pollInterval: DefaultPollInterval,
	}
}

// SetPollInterval overrides the subscription refresh cadence.
func (c *RESTClient) SetPollInterval(d time.Duration) {
	c.pollInterval = d
}

func (c *RESTClient) PublishLocation(ctx context.Context, sample models.LocationSample) error {
	if err := sample.Validate(); err != nil {
		return ValidationError("invalid location sample: %v", err)
	}
	return c.doJSON(ctx, http.MethodPost, "/api/locations/update", sample, nil)
}

func (c *RESTClient) SetShift(ctx context.Context, driverID string, isOnShift bool, routeID *string) error {
	body := map[string]interface{}{
		"is_on_shift": isOnShift,
		"route_id":    routeID,
	}
	return c.doJSON(ctx, http.MethodPut, "/api/drivers/"+driverID+"/shift", body, nil)
}

func (c *RESTClient) SetVehicle(ctx context.Context, driverID, vehicleNo string) error {
	body := map[string]string{"vehicle_no": vehicleNo}
	return c.doJSON(ctx, http.MethodPut, "/api/drivers/"+driverID+"/vehicle", body, nil)
}

func (c *RESTClient) SetRoute(ctx context.Context, driverID, routeID string) error {
	body := map[string]string{"route_id": routeID}
	return c.doJSON(ctx, http.MethodPut, "/api/drivers/"+driverID+"/route", body, nil)
}

func (c *RESTClient) RemoveLocation(ctx context.Context, driverID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/locations/"+driverID, nil, nil)
}

func (c *RESTClient) FetchActiveFleet(ctx context.Context) (models.FleetSnapshot, error) {
	var shuttles []models.Shuttle
	if err := c.doJSON(ctx, http.MethodGet, "/api/locations/active", nil, &shuttles); err != nil {
		return models.FleetSnapshot{}, err
	}
	return models.FleetSnapshot{Shuttles: shuttles}, nil
}

func (c *RESTClient) FetchDriverShift(ctx context.Context, driverID string) (*models.ShiftState, error) {
	var driver models.Driver
	if err := c.doJSON(ctx, http.MethodGet, "/api/drivers/"+driverID, nil, &driver); err != nil {
		if KindOf(err) == KindValidation {
			// Driver record not created yet.
			return nil, nil
		}
		return nil, err
	}
	state := models.ShiftStateOf(driver)
	return &state, nil
}

func (c *RESTClient) FetchDriverRoute(ctx context.Context, driverID string) (*string, error) {
	state, err := c.FetchDriverShift(ctx, driverID)
	if err != nil || state == nil {
		return nil, err
	}
	return state.CurrentRouteID, nil
}

func (c *RESTClient) SubscribeFleet(cb FleetFunc) Unsubscribe {
	return poll(c.pollInterval, func() {
		snapshot, err := c.FetchActiveFleet(context.Background())
		if err != nil {
			log.Printf("⚠️  [REMOTE] Fleet poll failed: %v", err)
			return
		}
		cb(snapshot)
	})
}

func (c *RESTClient) SubscribeDriverShift(driverID string, cb ShiftFunc) Unsubscribe {
	return poll(c.pollInterval, func() {
		state, err := c.FetchDriverShift(context.Background(), driverID)
		if err != nil {
			log.Printf("⚠️  [REMOTE] Shift poll failed for %s: %v", driverID, err)
			return
		}
		if state != nil {
			cb(*state)
		}
	})
}

// doJSON issues one request and maps the outcome onto the error taxonomy.
func (c *RESTClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return ValidationError("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return ValidationError("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TransientError(fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return AuthError(fmt.Sprintf("%s %s: status %d", method, path, resp.StatusCode))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg := readErrorMessage(resp.Body)
		return ValidationError("%s %s: status %d: %s", method, path, resp.StatusCode, msg)
	case resp.StatusCode >= 300:
		return TransientError(fmt.Sprintf("%s %s: status %d", method, path, resp.StatusCode), nil)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return TransientError(fmt.Sprintf("%s %s: decode response", method, path), err)
		}
	}
	return nil
}

func readErrorMessage(body io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil || payload.Error == "" {
		return "request rejected"
	}
	return payload.Error
}
