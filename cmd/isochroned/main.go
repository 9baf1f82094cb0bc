package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transit-isochrones/internal/config"
	"transit-isochrones/internal/db"
	"transit-isochrones/internal/gtfs"
	"transit-isochrones/internal/logging"
	"transit-isochrones/internal/messaging"
	"transit-isochrones/internal/metrics"
	"transit-isochrones/internal/schedule"
	"transit-isochrones/internal/spatial"
	"transit-isochrones/internal/tracing"
	"transit-isochrones/internal/worker"
)

var version = "dev"

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		fatal("config error", err)
	}
	logger := logging.InitLogging()

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.OTLPEndpoint, version)
	if err != nil {
		fatal("tracing error", err)
	}
	defer shutdownTracing()

	// Resolve the newest import for the feed when running against Postgres
	dsn, currentDBName := cfg.DatabaseURL, ""
	if cfg.IsPostgres() && cfg.Feed != "" {
		dsn, currentDBName, err = db.ResolveFeedDSN(ctx, cfg.DatabaseURL, cfg.Feed)
		if err != nil {
			fatal(fmt.Sprintf("resolve latest import for feed %q", cfg.Feed), err)
		}
		logger.Info("using feed database", "db", currentDBName, "feed", cfg.Feed)
	}
	sqlDB, err := openDB(ctx, dsn, !cfg.IsPostgres())
	if err != nil {
		fatal("db error", err)
	}

	// Metrics setup
	params := cfg.Params()
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(params)
		srv := mcol.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	bus, err := messaging.NewBus(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, wrapBusMetrics(mcol), logger)
	if err != nil {
		fatal("nats error", err)
	}
	defer bus.Close()

	mgr := worker.NewManager(bus, worker.Options{
		Params:        params,
		ThresholdStep: cfg.ThresholdStep,
		Location:      cfg.Location,
		Metrics:       wrapWorkerMetrics(mcol),
		Logger:        logger,
	})
	if err := loadDataset(ctx, sqlDB, cfg, mgr, mcol, logger); err != nil {
		fatal("load dataset", err)
	}
	if err := bus.Subscribe(mgr.Submit); err != nil {
		fatal("nats subscribe", err)
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		mgr.Run(ctx)
	}()

	// Periodic feed DB watcher: switch to a newer import, or reconnect after ping failures
	var watchDone chan struct{}
	if cfg.IsPostgres() && cfg.Feed != "" {
		watchDone = make(chan struct{})
		go func() {
			defer close(watchDone)
			ticker := time.NewTicker(cfg.DBWatchInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}

				needSwitch := false
				if err := db.Ping(ctx, sqlDB); err != nil {
					logger.Warn("db ping failed, re-resolving feed DB", "error", err)
					if mcol != nil {
						mcol.DBSwitches.WithLabelValues("ping_failure").Inc()
					}
					needSwitch = true
				}

				newDSN, newName, err := db.ResolveFeedDSN(ctx, cfg.DatabaseURL, cfg.Feed)
				if err != nil {
					logger.Error("resolve latest import error", "error", err)
					continue
				}
				if newName != currentDBName {
					logger.Info("detected updated DB for feed", "feed", cfg.Feed, "from", currentDBName, "to", newName)
					if mcol != nil {
						mcol.DBSwitches.WithLabelValues("update").Inc()
					}
					needSwitch = true
				}
				if !needSwitch {
					continue
				}

				newDB, err := openDB(ctx, newDSN, false)
				if err != nil {
					logger.Error("open new DB error", "error", err)
					continue
				}
				if err := loadDataset(ctx, newDB, cfg, mgr, mcol, logger); err != nil {
					logger.Error("load dataset from new DB", "error", err)
					newDB.Close()
					continue
				}
				sqlDB.Close()
				sqlDB = newDB
				currentDBName = newName
				logger.Info("switched database", "db", currentDBName, "feed", cfg.Feed)
			}
		}()
	}

	<-ctx.Done()
	<-runDone
	if watchDone != nil {
		<-watchDone
	}
	sqlDB.Close()
	logger.Info("shutdown complete")
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

func openDB(ctx context.Context, dsn string, ensureSchema bool) (*sql.DB, error) {
	conn, err := db.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if err := db.Ping(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if ensureSchema {
		if err := db.EnsureSchema(ctx, conn); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

// loadDataset builds the location index over every route in sqlDB and hands
// it to the manager together with a fresh schedule cache.
func loadDataset(ctx context.Context, sqlDB *sql.DB, cfg *config.Config, mgr *worker.Manager, mcol *metrics.Collector, logger *slog.Logger) error {
	src := schedule.New(db.NewStore(sqlDB), schedule.Options{
		RouteCacheSize: cfg.RouteCacheSize,
		TableCacheSize: cfg.TableCacheSize,
		TableTTL:       cfg.TableCacheTTL,
		OnError:        mgr.ReportError,
		Metrics:        wrapScheduleMetrics(mcol),
		Logger:         logger,
	})
	start := time.Now()
	routes, err := src.Routes(ctx)
	if err != nil {
		return err
	}
	locs := gtfs.BuildLocations(routes)
	idx := spatial.New(locs)
	if mcol != nil {
		mcol.Locations.Set(float64(idx.Len()))
		mcol.Routes.Set(float64(len(routes)))
	}
	logger.Info("dataset loaded", "routes", len(routes), "locations", idx.Len(), "took", time.Since(start))
	mgr.SetData(&worker.Dataset{Routes: routes, Index: idx, Schedule: src})
	return nil
}
