package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"transit-isochrones/internal/isochrone"
)

type Collector struct {
	reg *prometheus.Registry

	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec // state label: done|cancelled
	Settled         prometheus.Counter
	Considered      prometheus.Counter

	Emissions       prometheus.Counter
	EmittedVertices prometheus.Counter

	CommandsReceived prometheus.Counter
	CommandsRejected *prometheus.CounterVec // reason label: invalid|unknown_action

	ScheduleLookups    *prometheus.CounterVec // kind, result labels
	ScheduleLoadErrors *prometheus.CounterVec // kind label

	NATSPublished   *prometheus.CounterVec // type label
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	DBSwitches *prometheus.CounterVec // reason label: update|ping_failure

	StepDuration    prometheus.Histogram
	SessionDuration prometheus.Histogram
	PublishDuration prometheus.Histogram

	Locations     prometheus.Gauge
	Routes        prometheus.Gauge
	WalkSpeed     prometheus.Gauge // meters per minute
	MaxWalkRadius prometheus.Gauge // meters
	BatchSize     prometheus.Gauge
}

func NewCollector(p isochrone.Params) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "isochrone_sessions_started_total",
			Help: "Total sessions started.",
		}),
		SessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "isochrone_sessions_ended_total",
			Help: "Total sessions ended, by final state.",
		}, []string{"state"}),
		Settled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "isochrone_settled_locations_total",
			Help: "Total locations settled across sessions.",
		}),
		Considered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "isochrone_considered_edges_total",
			Help: "Total edge relaxations attempted across sessions.",
		}),
		Emissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "isochrone_emissions_total",
			Help: "Total threshold snapshots sent.",
		}),
		EmittedVertices: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "isochrone_emitted_vertices_total",
			Help: "Total polygon vertices sent in new-area polygons.",
		}),
		CommandsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "isochrone_commands_received_total",
			Help: "Total inbound command messages.",
		}),
		CommandsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "isochrone_commands_rejected_total",
			Help: "Inbound commands ignored, by reason.",
		}, []string{"reason"}),
		ScheduleLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "isochrone_schedule_lookups_total",
			Help: "Schedule cache lookups by data kind and hit/miss.",
		}, []string{"kind", "result"}),
		ScheduleLoadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "isochrone_schedule_load_errors_total",
			Help: "Schedule loads that failed, by data kind.",
		}, []string{"kind"}),
		NATSPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "isochrone_nats_published_total",
			Help: "Total NATS messages published, by event type.",
		}, []string{"type"}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "isochrone_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "isochrone_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		DBSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "isochrone_db_switches_total",
			Help: "Number of database switches.",
		}, []string{"reason"}),
		StepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "isochrone_step_duration_seconds",
			Help:    "Duration of one cooperative search step.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "isochrone_session_duration_seconds",
			Help:    "Wall time from session start to its end.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "isochrone_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		Locations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "isochrone_locations",
			Help: "Stop locations in the loaded spatial index.",
		}),
		Routes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "isochrone_routes",
			Help: "Routes in the loaded dataset.",
		}),
		WalkSpeed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "isochrone_walk_speed_meters_per_minute",
			Help: "Configured walking speed.",
		}),
		MaxWalkRadius: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "isochrone_max_walk_radius_meters",
			Help: "Configured cap on a single walking leg.",
		}),
		BatchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "isochrone_batch_size",
			Help: "Frontier pops per cooperative step.",
		}),
	}

	reg.MustRegister(
		c.SessionsStarted, c.SessionsEnded, c.Settled, c.Considered,
		c.Emissions, c.EmittedVertices,
		c.CommandsReceived, c.CommandsRejected,
		c.ScheduleLookups, c.ScheduleLoadErrors,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.DBSwitches, c.StepDuration, c.SessionDuration, c.PublishDuration,
		c.Locations, c.Routes, c.WalkSpeed, c.MaxWalkRadius, c.BatchSize,
	)

	c.WalkSpeed.Set(p.WalkSpeed)
	c.MaxWalkRadius.Set(p.MaxWalkRadius)
	c.BatchSize.Set(float64(p.BatchSize))

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()
	slog.Info("metrics listening", "addr", addr)
	return srv
}
