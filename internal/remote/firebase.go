package remote

import (
	"context"
	"fmt"
	"log"
	"time"

	"shuttle-tracker/internal/models"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"
)

// FirebaseClient is the Realtime Database transport. Records live under
// drivers/{id} and locations/{id}, mirroring the REST backend's schema.
//
// The admin SDK exposes no change streams, so subscriptions poll the same
// way the REST transport does.
type FirebaseClient struct {
	client       *db.Client
	pollInterval time.Duration
}

type rtdbDriver struct {
	Name            string  `json:"name"`
	Email           string  `json:"email"`
	VehicleNo       *string `json:"vehicleNo"`
	IsOnShift       bool    `json:"isOnShift"`
	CurrentRoute    *string `json:"currentRoute"`
	LastShiftUpdate int64   `json:"lastShiftUpdate"`
}

type rtdbLocation struct {
	RouteID      string  `json:"routeId"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	SpeedKmh     float64 `json:"speed"`
	BearingDeg   float64 `json:"bearing"`
	CapturedAtMs int64   `json:"timestamp"`
}

// NewFirebaseClient creates a Realtime Database transport from a service
// account credentials file and the database URL.
func NewFirebaseClient(ctx context.Context, credentialsFile, databaseURL string) (*FirebaseClient, error) {
	opt := option.WithCredentialsFile(credentialsFile)
	app, err := firebase.NewApp(ctx, &firebase.Config{DatabaseURL: databaseURL}, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}

	return &FirebaseClient{client: client, pollInterval: DefaultPollInterval}, nil
}

// SetPollInterval overrides the subscription refresh cadence.
func (c *FirebaseClient) SetPollInterval(d time.Duration) {
	c.pollInterval = d
}

func (c *FirebaseClient) PublishLocation(ctx context.Context, sample models.LocationSample) error {
	if err := sample.Validate(); err != nil {
		return ValidationError("invalid location sample: %v", err)
	}
	loc := rtdbLocation{
		RouteID:      sample.RouteID,
		Lat:          sample.Lat,
		Lon:          sample.Lon,
		SpeedKmh:     sample.SpeedKmh,
		BearingDeg:   sample.BearingDeg,
		CapturedAtMs: sample.CapturedAtMs,
	}
	if err := c.client.NewRef("locations/"+sample.DriverID).Set(ctx, loc); err != nil {
		return TransientError("set location", err)
	}
	return nil
}

func (c *FirebaseClient) SetShift(ctx context.Context, driverID string, isOnShift bool, routeID *string) error {
	update := map[string]interface{}{
		"isOnShift":       isOnShift,
		"currentRoute":    routeID,
		"lastShiftUpdate": time.Now().UnixMilli(),
	}
	if err := c.client.NewRef("drivers/"+driverID).Update(ctx, update); err != nil {
		return TransientError("update shift", err)
	}
	return nil
}

func (c *FirebaseClient) SetVehicle(ctx context.Context, driverID, vehicleNo string) error {
	update := map[string]interface{}{"vehicleNo": vehicleNo}
	if err := c.client.NewRef("drivers/"+driverID).Update(ctx, update); err != nil {
		return TransientError("update vehicle", err)
	}
	return nil
}

func (c *FirebaseClient) SetRoute(ctx context.Context, driverID, routeID string) error {
	update := map[string]interface{}{"currentRoute": routeID}
	if err := c.client.NewRef("drivers/"+driverID).Update(ctx, update); err != nil {
		return TransientError("update route", err)
	}
	return nil
}

func (c *FirebaseClient) RemoveLocation(ctx context.Context, driverID string) error {
	if err := c.client.NewRef("locations/" + driverID).Delete(ctx); err != nil {
		return TransientError("delete location", err)
	}
	return nil
}

func (c *FirebaseClient) FetchActiveFleet(ctx context.Context) (models.FleetSnapshot, error) {
	var drivers map[string]rtdbDriver
	if err := c.client.NewRef("drivers").Get(ctx, &drivers); err != nil {
		return models.FleetSnapshot{}, TransientError("get drivers", err)
	}

	var locations map[string]rtdbLocation
	if err := c.client.NewRef("locations").Get(ctx, &locations); err != nil {
		return models.FleetSnapshot{}, TransientError("get locations", err)
	}

	shuttles := make([]models.Shuttle, 0, len(drivers))
	for id, d := range drivers {
		if !d.IsOnShift {
			continue
		}
		loc, ok := locations[id]
		if !ok {
			continue
		}
		routeID := loc.RouteID
		if d.CurrentRoute != nil {
			routeID = *d.CurrentRoute
		}
		vehicleNo := "N/A"
		if d.VehicleNo != nil {
			vehicleNo = *d.VehicleNo
		}
		shuttles = append(shuttles, models.Shuttle{
			ID:          id,
			RouteID:     routeID,
			Lat:         loc.Lat,
			Lon:         loc.Lon,
			SpeedKmh:    loc.SpeedKmh,
			BearingDeg:  loc.BearingDeg,
			DriverName:  d.Name,
			VehicleNo:   vehicleNo,
			TimestampMs: loc.CapturedAtMs,
		})
	}
	return models.FleetSnapshot{Shuttles: shuttles}, nil
}

func (c *FirebaseClient) FetchDriverShift(ctx context.Context, driverID string) (*models.ShiftState, error) {
	var driver *rtdbDriver
	if err := c.client.NewRef("drivers/"+driverID).Get(ctx, &driver); err != nil {
		return nil, TransientError("get driver", err)
	}
	if driver == nil {
		return nil, nil
	}
	return &models.ShiftState{
		IsOnShift:       driver.IsOnShift,
		CurrentRouteID:  driver.CurrentRoute,
		VehicleNo:       driver.VehicleNo,
		LastShiftUpdate: driver.LastShiftUpdate,
	}, nil
}

func (c *FirebaseClient) FetchDriverRoute(ctx context.Context, driverID string) (*string, error) {
	state, err := c.FetchDriverShift(ctx, driverID)
	if err != nil || state == nil {
		return nil, err
	}
	return state.CurrentRouteID, nil
}

func (c *FirebaseClient) SubscribeFleet(cb FleetFunc) Unsubscribe {
	return poll(c.pollInterval, func() {
		snapshot, err := c.FetchActiveFleet(context.Background())
		if err != nil {
			log.Printf("⚠️  [REMOTE] Fleet read failed: %v", err)
			return
		}
		cb(snapshot)
	})
}

func (c *FirebaseClient) SubscribeDriverShift(driverID string, cb ShiftFunc) Unsubscribe {
	return poll(c.pollInterval, func() {
		state, err := c.FetchDriverShift(context.Background(), driverID)
		if err != nil {
			log.Printf("⚠️  [REMOTE] Driver read failed for %s: %v", driverID, err)
			return
		}
		if state != nil {
			cb(*state)
		}
	})
}
