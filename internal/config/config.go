package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"transit-isochrones/internal/isochrone"
)

type Config struct {
	DatabaseURL       string
	Feed              string
	DBWatchInterval   time.Duration
	NATSURL           string
	NATSSubjectPrefix string
	LogNATSSubjects   bool
	MetricsAddr       string
	OTLPEndpoint      string
	Location          *time.Location

	WalkSpeed          float64 // meters per minute
	MaxWalkRadius      float64 // meters
	BatchSize          int
	MaxSettled         int
	FirstLegWaitFactor float64 // negative disables the first-leg estimate
	FirstLegWaitMin    float64 // minutes
	ThresholdStep      float64 // minutes
	DiscSides          int
	LookupConcurrency  int

	RouteCacheSize int
	TableCacheSize int
	TableCacheTTL  time.Duration
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars.
	// Anything without a postgres scheme is a SQLite file path.
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	cfg.Feed = firstNonEmpty(os.Getenv("FEED"), os.Getenv("CITY"))
	if dsn == "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := os.Getenv("PGDATABASE")
		// With a feed, the base DB is the cluster's meta DB.
		if db == "" && cfg.Feed != "" {
			db = "postgres"
		}
		if db == "" {
			return nil, errors.New("PGDATABASE or DATABASE_URL must be set (set PGDATABASE=postgres when using FEED)")
		}
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	} else {
		cfg.DatabaseURL = dsn
	}

	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "isochrones")

	// Debug logging for NATS publish subjects
	if v := os.Getenv("LOG_NATS_SUBJECTS"); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "t", "yes", "y", "on":
			cfg.LogNATSSubjects = true
		default:
			cfg.LogNATSSubjects = false
		}
	}

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	// Empty disables trace export.
	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	var err error
	def := isochrone.DefaultParams()
	if cfg.WalkSpeed, err = positiveFloat("WALK_SPEED_MPM", def.WalkSpeed); err != nil {
		return nil, err
	}
	if cfg.MaxWalkRadius, err = positiveFloat("MAX_WALK_RADIUS_M", def.MaxWalkRadius); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = positiveInt("BATCH_SIZE", def.BatchSize); err != nil {
		return nil, err
	}
	if cfg.MaxSettled, err = positiveInt("MAX_SETTLED", def.MaxSettled); err != nil {
		return nil, err
	}
	if cfg.FirstLegWaitFactor, err = anyFloat("FIRST_LEG_WAIT_FACTOR", 0.25); err != nil {
		return nil, err
	}
	if cfg.FirstLegWaitMin, err = anyFloat("FIRST_LEG_WAIT_MIN", 1); err != nil {
		return nil, err
	}
	if cfg.ThresholdStep, err = positiveFloat("THRESHOLD_STEP_MIN", 5); err != nil {
		return nil, err
	}
	if cfg.DiscSides, err = positiveInt("DISC_SIDES", def.DiscSides); err != nil {
		return nil, err
	}
	if cfg.DiscSides < 3 {
		return nil, fmt.Errorf("invalid DISC_SIDES: %d (need at least 3)", cfg.DiscSides)
	}
	if cfg.LookupConcurrency, err = positiveInt("LOOKUP_CONCURRENCY", def.LookupConcurrency); err != nil {
		return nil, err
	}

	if cfg.RouteCacheSize, err = positiveInt("ROUTE_CACHE_SIZE", 1024); err != nil {
		return nil, err
	}
	if cfg.TableCacheSize, err = positiveInt("TABLE_CACHE_SIZE", 16); err != nil {
		return nil, err
	}
	ttl, err := positiveInt("TABLE_CACHE_TTL_MIN", 60)
	if err != nil {
		return nil, err
	}
	cfg.TableCacheTTL = time.Duration(ttl) * time.Minute

	watch, err := positiveInt("DB_WATCH_INTERVAL_MIN", 30)
	if err != nil {
		return nil, err
	}
	cfg.DBWatchInterval = time.Duration(watch) * time.Minute

	// Time zone
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	return cfg, nil
}

// IsPostgres reports whether DatabaseURL points at a Postgres server rather
// than a SQLite file.
func (c *Config) IsPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// Params returns the engine parameters described by the configuration.
func (c *Config) Params() isochrone.Params {
	p := isochrone.Params{
		WalkSpeed:         c.WalkSpeed,
		MaxWalkRadius:     c.MaxWalkRadius,
		BatchSize:         c.BatchSize,
		MaxSettled:        c.MaxSettled,
		DiscSides:         c.DiscSides,
		LookupConcurrency: c.LookupConcurrency,
	}
	if c.FirstLegWaitFactor >= 0 {
		p.FirstLegWait = isochrone.ProportionalFirstLegWait(c.FirstLegWaitFactor, c.FirstLegWaitMin)
	}
	return p
}

func positiveFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return f, nil
}

func anyFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return f, nil
}

func positiveInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
