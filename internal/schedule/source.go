// Package schedule serves route geometry and wait/trip-time statistics to the
// search engine. Everything it returns is shared between sessions and must be
// treated as read-only.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"transit-isochrones/internal/gtfs"
)

// Loader fetches data from the backing store. Implementations do no caching.
type Loader interface {
	LoadRoutes(ctx context.Context) ([]gtfs.Route, error)
	LoadRoute(ctx context.Context, routeID string) (*gtfs.Route, error)
	LoadTripTimes(ctx context.Context, sel gtfs.Selector) (gtfs.TripTimeTable, error)
	LoadWaitTimes(ctx context.Context, sel gtfs.Selector) (gtfs.WaitTimeTable, error)
}

type Metrics interface {
	CacheHit(kind string)
	CacheMiss(kind string)
	LoadError(kind string)
}

const (
	kindRoutes    = "routes"
	kindRoute     = "route"
	kindTripTimes = "trip_times"
	kindWaitTimes = "wait_times"
)

type Options struct {
	RouteCacheSize int
	TableCacheSize int
	TableTTL       time.Duration
	LoadTimeout    time.Duration
	// OnError receives each distinct load fault once.
	OnError func(error)
	Metrics Metrics
	Logger  *slog.Logger
}

type Source struct {
	loader      Loader
	routes      gcache.Cache
	tables      gcache.Cache
	group       singleflight.Group
	reported    sync.Map
	loadTimeout time.Duration
	onError     func(error)
	metrics     Metrics
	logger      *slog.Logger
	tracer      trace.Tracer
}

func New(loader Loader, opts Options) *Source {
	if opts.RouteCacheSize <= 0 {
		opts.RouteCacheSize = 1024
	}
	if opts.TableCacheSize <= 0 {
		opts.TableCacheSize = 16
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	tables := gcache.New(opts.TableCacheSize).LRU()
	if opts.TableTTL > 0 {
		tables = tables.Expiration(opts.TableTTL)
	}
	return &Source{
		loader:      loader,
		routes:      gcache.New(opts.RouteCacheSize).LRU().Build(),
		tables:      tables.Build(),
		loadTimeout: opts.LoadTimeout,
		onError:     opts.OnError,
		metrics:     opts.Metrics,
		logger:      opts.Logger.With(slog.String("component", "schedule")),
		tracer:      otel.Tracer("transit-isochrones/schedule"),
	}
}

// Routes loads every route and primes the per-route cache.
func (s *Source) Routes(ctx context.Context) ([]gtfs.Route, error) {
	v, err := s.load(ctx, s.routes, kindRoutes, "all", func(ctx context.Context) (any, error) {
		routes, err := s.loader.LoadRoutes(ctx)
		if err != nil {
			return nil, err
		}
		for i := range routes {
			r := routes[i]
			_ = s.routes.Set(kindRoute+":"+r.ID, &r)
		}
		return routes, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]gtfs.Route), nil
}

func (s *Source) Route(ctx context.Context, routeID string) (*gtfs.Route, error) {
	v, err := s.load(ctx, s.routes, kindRoute, routeID, func(ctx context.Context) (any, error) {
		return s.loader.LoadRoute(ctx, routeID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*gtfs.Route), nil
}

// TripTimes returns minutes from fromStop to each later stop. ok is false when
// the table has no row for the key.
func (s *Source) TripTimes(ctx context.Context, routeID, directionID, fromStop string, sel gtfs.Selector) (map[string]float64, bool, error) {
	v, err := s.load(ctx, s.tables, kindTripTimes, sel.Key(), func(ctx context.Context) (any, error) {
		return s.loader.LoadTripTimes(ctx, sel)
	})
	if err != nil {
		return nil, false, err
	}
	row, ok := v.(gtfs.TripTimeTable)[gtfs.TableKey{RouteID: routeID, DirectionID: directionID, StopID: fromStop}]
	return row, ok && row != nil, nil
}

func (s *Source) WaitTime(ctx context.Context, routeID, directionID, stopID string, sel gtfs.Selector) (float64, bool, error) {
	v, err := s.load(ctx, s.tables, kindWaitTimes, sel.Key(), func(ctx context.Context) (any, error) {
		return s.loader.LoadWaitTimes(ctx, sel)
	})
	if err != nil {
		return 0, false, err
	}
	m, ok := v.(gtfs.WaitTimeTable)[gtfs.TableKey{RouteID: routeID, DirectionID: directionID, StopID: stopID}]
	return m, ok, nil
}

// load serves key from cache, or runs fn once for all concurrent callers.
// fn runs detached from the caller's cancellation so that a superseded
// session cannot fail a load another session is waiting on.
func (s *Source) load(ctx context.Context, cache gcache.Cache, kind, key string, fn func(context.Context) (any, error)) (any, error) {
	cacheKey := kind + ":" + key
	if v, err := cache.Get(cacheKey); err == nil {
		s.hit(kind)
		return v, nil
	}
	s.miss(kind)

	ch := s.group.DoChan(cacheKey, func() (any, error) {
		if v, err := cache.Get(cacheKey); err == nil {
			return v, nil
		}
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()
		lctx, span := s.tracer.Start(lctx, "schedule.load", trace.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("key", key),
		))
		defer span.End()

		start := time.Now()
		v, err := fn(lctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("load %s %s: %w", kind, key, err)
		}
		if err := cache.Set(cacheKey, v); err != nil {
			s.logger.Warn("cache set failed", "key", cacheKey, "error", err)
		}
		s.logger.Debug("loaded", "kind", kind, "key", key, "took", time.Since(start))
		return v, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			s.report(cacheKey, res.Err)
			return nil, res.Err
		}
		return res.Val, nil
	}
}

func (s *Source) report(cacheKey string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	if s.metrics != nil {
		s.metrics.LoadError(kindOf(cacheKey))
	}
	if _, dup := s.reported.LoadOrStore(cacheKey, struct{}{}); dup {
		return
	}
	s.logger.Error("schedule load failed", "key", cacheKey, "error", err)
	if s.onError != nil {
		s.onError(err)
	}
}

func (s *Source) hit(kind string) {
	if s.metrics != nil {
		s.metrics.CacheHit(kind)
	}
}

func (s *Source) miss(kind string) {
	if s.metrics != nil {
		s.metrics.CacheMiss(kind)
	}
}

func kindOf(cacheKey string) string {
	kind, _, _ := strings.Cut(cacheKey, ":")
	return kind
}
