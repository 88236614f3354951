package metrics

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	ActiveShuttles prometheus.Gauge
	WSClients      prometheus.Gauge

	LocationUpdates prometheus.Counter
	StaleDrops      prometheus.Counter
	ShiftStarts     prometheus.Counter
	ShiftEnds       prometheus.Counter
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveShuttles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shuttle_active_shuttles",
			Help: "Number of shuttles currently on shift with a live location.",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shuttle_websocket_clients",
			Help: "Number of connected WebSocket clients.",
		}),
		LocationUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_location_updates_total",
			Help: "Total accepted location updates.",
		}),
		StaleDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_location_stale_drops_total",
			Help: "Total location updates dropped because a newer sample was already stored.",
		}),
		ShiftStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_shift_starts_total",
			Help: "Total shift starts.",
		}),
		ShiftEnds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_shift_ends_total",
			Help: "Total shift ends.",
		}),
	}

	reg.MustRegister(
		c.ActiveShuttles, c.WSClients,
		c.LocationUpdates, c.StaleDrops,
		c.ShiftStarts, c.ShiftEnds,
	)

	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("📊 Metrics listening on %s", addr)
	return srv
}
