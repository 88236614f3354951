package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"shuttle-tracker/internal/models"
	"shuttle-tracker/internal/remote"
	"shuttle-tracker/internal/routes"
	"shuttle-tracker/internal/shift"
	"shuttle-tracker/internal/stream"

	"golang.org/x/sync/errgroup"
)

// The simulator drives the real client stack (reconciler, location stream,
// REST transport) against a running server, one goroutine per fake driver.

type waypoint struct {
	lat, lon float64
}

// Looped paths, one per route. The coordinates roughly trace the campus
// loop the stop names describe.
var paths = map[string][]waypoint{
	"lh-prp": {
		{12.9716, 77.5946}, {12.9721, 77.5952}, {12.9728, 77.5960},
		{12.9735, 77.5968}, {12.9741, 77.5959}, {12.9734, 77.5950},
		{12.9725, 77.5943},
	},
	"mh": {
		{12.9716, 77.5946}, {12.9709, 77.5938}, {12.9702, 77.5931},
		{12.9710, 77.5924},
	},
}

// scriptedGPS feeds interpolated fixes along a looped path at a steady
// simulated speed. Implements stream.Provider.
type scriptedGPS struct {
	path     []waypoint
	speedMps float64
	tick     time.Duration

	mu       sync.Mutex
	leg      int
	progress float64 // meters into the current leg
}

func newScriptedGPS(routeID string, speedKmh float64, tick time.Duration) *scriptedGPS {
	return &scriptedGPS{
		path:     paths[routeID],
		speedMps: speedKmh / 3.6,
		tick:     tick,
	}
}

func (g *scriptedGPS) RequestPermission(ctx context.Context) error {
	return nil
}

func (g *scriptedGPS) CurrentFix(ctx context.Context) (stream.Fix, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fixLocked(), nil
}

func (g *scriptedGPS) Watch(ctx context.Context, cb func(stream.Fix)) (func(), error) {
	watchCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(g.tick)
		defer ticker.Stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
				g.mu.Lock()
				g.advanceLocked(g.speedMps * g.tick.Seconds())
				fix := g.fixLocked()
				g.mu.Unlock()
				cb(fix)
			}
		}
	}()
	return cancel, nil
}

func (g *scriptedGPS) fixLocked() stream.Fix {
	from := g.path[g.leg]
	to := g.path[(g.leg+1)%len(g.path)]

	legLen := flatDistance(from, to)
	frac := 0.0
	if legLen > 0 {
		frac = g.progress / legLen
	}

	speed := g.speedMps
	heading := bearing(from, to)
	return stream.Fix{
		Lat:        from.lat + (to.lat-from.lat)*frac,
		Lon:        from.lon + (to.lon-from.lon)*frac,
		SpeedMps:   &speed,
		HeadingDeg: &heading,
		At:         time.Now(),
	}
}

func (g *scriptedGPS) advanceLocked(meters float64) {
	g.progress += meters
	for {
		from := g.path[g.leg]
		to := g.path[(g.leg+1)%len(g.path)]
		legLen := flatDistance(from, to)
		if g.progress < legLen || legLen == 0 {
			return
		}
		g.progress -= legLen
		g.leg = (g.leg + 1) % len(g.path)
	}
}

// flatDistance is close enough at campus scale; the server never sees it.
func flatDistance(a, b waypoint) float64 {
	const metersPerDegree = 111320.0
	dLat := (b.lat - a.lat) * metersPerDegree
	dLon := (b.lon - a.lon) * metersPerDegree * math.Cos(a.lat*math.Pi/180)
	return math.Sqrt(dLat*dLat + dLon*dLon)
}

func bearing(a, b waypoint) float64 {
	deg := math.Atan2(b.lon-a.lon, b.lat-a.lat) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

func login(serverURL, email, password string) (token, userID string, err error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := http.Post(serverURL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("login failed for %s: status %d", email, resp.StatusCode)
	}

	var payload struct {
		OK    bool   `json:"ok"`
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", "", err
	}
	if !payload.OK {
		return "", "", fmt.Errorf("login rejected for %s", email)
	}
	return payload.Token, payload.User.ID, nil
}

func initializeDriver(serverURL, token string) error {
	req, err := http.NewRequest(http.MethodPost, serverURL+"/api/drivers/initialize", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("initialize failed: status %d", resp.StatusCode)
	}
	return nil
}

func runDriver(ctx context.Context, serverURL string, n int) error {
	email := fmt.Sprintf("driver%d@shuttle.local", n)
	password := fmt.Sprintf("driver%dpass", n)
	routeID := routes.IDs()[n%len(routes.IDs())]
	vehicleNo := fmt.Sprintf("KA-01-%04d", 1000+n)

	token, driverID, err := login(serverURL, email, password)
	if err != nil {
		return err
	}
	if err := initializeDriver(serverURL, token); err != nil {
		return err
	}
	log.Printf("🚌 [SIM] Driver %s logged in (route %s)", email, routeID)

	client := remote.NewRESTClient(serverURL, token)
	gps := newScriptedGPS(routeID, 30, time.Second)
	tracker := stream.NewTracker(gps, client)

	initial, err := client.FetchDriverShift(ctx, driverID)
	if err != nil {
		return err
	}
	var initialState models.ShiftState
	if initial != nil {
		initialState = *initial
	}
	reconciler := shift.NewReconciler(driverID, client, tracker, initialState)

	if err := reconciler.StartShift(ctx, routeID, vehicleNo); err != nil {
		return fmt.Errorf("start shift for %s: %w", email, err)
	}
	log.Printf("🟢 [SIM] Driver %s on shift", email)

	<-ctx.Done()

	endCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := reconciler.EndShift(endCtx, func() bool { return true }); err != nil {
		log.Printf("⚠️ [SIM] End shift failed for %s: %v", email, err)
	} else {
		log.Printf("⚪ [SIM] Driver %s off shift", email)
	}
	return nil
}

func main() {
	serverURL := getenvDefault("SERVER_URL", "http://localhost:8080")
	numDrivers := 2
	if v := os.Getenv("NUM_DRIVERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			log.Fatalf("invalid NUM_DRIVERS: %q", v)
		}
		numDrivers = n
	}

	log.Printf("🚀 Simulator starting: %d drivers against %s", numDrivers, serverURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for i := 1; i <= numDrivers; i++ {
		n := i
		g.Go(func() error {
			return runDriver(gctx, serverURL, n)
		})
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Fatalf("❌ Simulator error: %v", err)
	}
	log.Println("👋 Simulator stopped")
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
