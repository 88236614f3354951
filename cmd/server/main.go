package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"shuttle-tracker/internal/config"
	"shuttle-tracker/internal/database"
	"shuttle-tracker/internal/handlers"
	"shuttle-tracker/internal/metrics"
	"shuttle-tracker/internal/middleware"
	"shuttle-tracker/internal/models"
	"shuttle-tracker/internal/store"
	"shuttle-tracker/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Println("🚌 SHUTTLE TRACKER SERVER STARTING")
	log.Println("═══════════════════════════════════════════════════════════════════")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Configuration error: %v", err)
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	log.Println("🔄 Running database migrations...")
	if err := database.Migrate(db); err != nil {
		log.Fatalf("❌ Database migrations failed: %v", err)
	}

	if cfg.SeedDemoData {
		if err := database.SeedUsers(db); err != nil {
			log.Fatalf("❌ User seeding failed: %v", err)
		}
	}

	live, err := store.NewLiveStore(cfg.RedisAddr, cfg.LocationTTL)
	if err != nil {
		log.Fatalf("❌ Redis connection failed: %v", err)
	}
	defer live.Close()

	collector := metrics.NewCollector()

	wsHub := websocket.NewHub(collector)
	wsHub.OnLocation(handlers.HandleSocketLocation(db, live, wsHub, collector))
	go wsHub.Run()
	log.Println("✅ WebSocket hub started")

	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Post("/api/auth/login", handlers.Login(db, cfg.JWTSecret))

	// WebSocket endpoint (token in query param)
	r.Get("/ws", websocket.HandleWebSocket(wsHub, cfg.JWTSecret))

	r.Route("/api", func(r chi.Router) {
		// Rider-facing reads (no auth; the rider app has no accounts)
		r.Get("/locations/active", handlers.GetActiveLocations(db, live, collector))
		r.Get("/locations/{id}", handlers.GetLocation(live))
		r.Get("/drivers/active/all", handlers.GetActiveDrivers(db))
		r.Get("/drivers/{id}", handlers.GetDriver(db))

		// Driver endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWTSecret))
			r.Use(middleware.RequireRole(models.RoleDriver))

			r.Post("/drivers/initialize", handlers.InitializeDriver(db))
			r.Put("/drivers/{id}/shift", handlers.UpdateShift(db, live, wsHub, collector))
			r.Put("/drivers/{id}/route", handlers.UpdateRoute(db))
			r.Put("/drivers/{id}/vehicle", handlers.UpdateVehicle(db))

			r.Post("/locations/update", handlers.UpdateLocation(db, live, wsHub, collector))
			r.Delete("/locations/{id}", handlers.RemoveLocation(db, live, wsHub, collector))
		})
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = collector.Serve(cfg.MetricsAddr)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Println("═══════════════════════════════════════════════════════════════════")
		log.Printf("🚀 Server listening on http://localhost:%s", cfg.Port)
		log.Println("═══════════════════════════════════════════════════════════════════")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("🛑 Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("❌ Server error: %v", err)
	}
	log.Println("👋 Server stopped")
}
