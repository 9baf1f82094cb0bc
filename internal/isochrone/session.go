// Package isochrone computes walking-plus-transit reachability from an origin
// and streams the reachable area at increasing time thresholds.
//
// A Session is a resumable state machine. Each call to Step settles at most
// Params.BatchSize locations and then returns, so the caller can interleave
// other work and decide whether the session is still wanted. All search state
// is private to one Session; the spatial index and schedule data are shared
// read-only.
package isochrone

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"transit-isochrones/internal/geo"
	"transit-isochrones/internal/gtfs"
	"transit-isochrones/internal/spatial"
)

type State int

const (
	Running State = iota
	Yielded
	Done
	Cancelled
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Yielded:
		return "yielded"
	case Done:
		return "done"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// originLoc is the location id of the synthetic origin.
const originLoc = -1

// Schedule is the lookup surface the engine needs. A false ok means no data.
type Schedule interface {
	Route(ctx context.Context, routeID string) (*gtfs.Route, error)
	TripTimes(ctx context.Context, routeID, directionID, fromStop string, sel gtfs.Selector) (map[string]float64, bool, error)
	WaitTime(ctx context.Context, routeID, directionID, stopID string, sel gtfs.Selector) (float64, bool, error)
}

type Deps struct {
	Index    *spatial.Index
	Schedule Schedule
	// Emit receives each snapshot. It is only called while IsCurrent holds.
	Emit func(Emission)
	// IsCurrent reports whether this session is still the one the host wants.
	IsCurrent func() bool
	Logger    *slog.Logger
}

type Stats struct {
	Settled           int
	Considered        int
	ThresholdsEmitted int
	Elapsed           time.Duration
}

type Session struct {
	req    Request
	params Params
	deps   Deps
	scale  geo.Scale
	logger *slog.Logger

	frontier frontier
	seq      uint64
	best     map[int]float64
	settled  map[int]bool
	reached  []Candidate
	enabled  map[string]bool
	emitter  *Emitter

	state       State
	considered  int
	lastSettled float64
	started     time.Time
	elapsed     time.Duration
}

// NewSession prepares a search. req must already be normalized.
func NewSession(req Request, deps Deps, params Params) (*Session, error) {
	if err := params.validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if deps.Index == nil || deps.Schedule == nil {
		return nil, errors.New("session needs an index and a schedule")
	}
	if len(req.Thresholds) == 0 || !(req.MaxBudget > 0) {
		return nil, ErrNoBudget
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Session{
		req:     req,
		params:  params,
		deps:    deps,
		scale:   geo.ScaleAt(req.Origin.Lat, req.Origin.Lng),
		logger:  deps.Logger.With(slog.String("session", req.SessionID)),
		best:    make(map[int]float64),
		settled: make(map[int]bool),
		enabled: make(map[string]bool, len(req.EnabledRoutes)),
		started: time.Now(),
	}
	for _, id := range req.EnabledRoutes {
		s.enabled[id] = true
	}
	s.emitter = NewEmitter(req.SessionID, req.Thresholds, s.scale, params)

	s.best[originLoc] = 0
	s.push(&Candidate{
		Loc:        originLoc,
		Title:      "Origin",
		Lat:        req.Origin.Lat,
		Lng:        req.Origin.Lng,
		Provenance: Origin,
	})
	return s, nil
}

func (s *Session) ID() string { return s.req.SessionID }

func (s *Session) State() State { return s.state }

// Reached returns the settled records in settle order.
func (s *Session) Reached() []Candidate { return s.reached }

func (s *Session) Stats() Stats {
	elapsed := s.elapsed
	if s.state != Done && s.state != Cancelled {
		elapsed = time.Since(s.started)
	}
	return Stats{
		Settled:           len(s.reached),
		Considered:        s.considered,
		ThresholdsEmitted: s.emitter.Emitted(),
		Elapsed:           elapsed,
	}
}

// Step advances the search by up to one batch. It returns Yielded when more
// work remains, Done after the final emission, or Cancelled as soon as the
// session stops being current; a cancelled session produces no more output.
func (s *Session) Step(ctx context.Context) State {
	if s.state == Done || s.state == Cancelled {
		return s.state
	}
	if !s.current(ctx) {
		return s.stop(Cancelled)
	}
	s.state = Running

	for pops := 0; pops < s.params.BatchSize; pops++ {
		if s.frontier.Len() == 0 || len(s.reached) >= s.params.MaxSettled {
			return s.finish(ctx)
		}
		c := heap.Pop(&s.frontier).(*Candidate)
		if b, ok := s.best[c.Loc]; ok && b < c.TripMin {
			continue
		}
		if s.settled[c.Loc] {
			continue
		}
		s.settled[c.Loc] = true
		s.reached = append(s.reached, *c)
		s.lastSettled = c.TripMin

		switch c.Provenance {
		case Origin:
			s.expandWalk(c)
			if !s.expandTransit(ctx, c) {
				return s.stop(Cancelled)
			}
		case Walked:
			if !s.expandTransit(ctx, c) {
				return s.stop(Cancelled)
			}
		case Transited:
			// Walk only. Each location settles once, so boarding another
			// route here is not possible; transfers go through a walked
			// arrival at a nearby stop.
			s.expandWalk(c)
		}
	}

	if !s.drain(ctx, s.lastSettled) {
		return s.stop(Cancelled)
	}
	s.state = Yielded
	return Yielded
}

func (s *Session) finish(ctx context.Context) State {
	if !s.drain(ctx, math.Inf(1)) {
		return s.stop(Cancelled)
	}
	st := s.stop(Done)
	s.logger.Debug("search complete",
		"settled", len(s.reached),
		"considered", s.considered,
		"elapsed", s.elapsed)
	return st
}

func (s *Session) stop(st State) State {
	s.state = st
	s.elapsed = time.Since(s.started)
	return st
}

func (s *Session) current(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	return s.deps.IsCurrent == nil || s.deps.IsCurrent()
}

// drain emits every pending threshold at or below upTo, checking before each
// emission that the session is still current.
func (s *Session) drain(ctx context.Context, upTo float64) bool {
	for s.emitter.Pending(upTo) {
		if !s.current(ctx) {
			return false
		}
		em := s.emitter.Next(s.reached)
		if s.deps.Emit != nil {
			s.deps.Emit(em)
		}
	}
	return true
}

func (s *Session) push(c *Candidate) {
	c.seq = s.seq
	s.seq++
	heap.Push(&s.frontier, c)
}

// relax records cost as the best known for loc and queues the candidate if
// it beats every earlier arrival.
func (s *Session) relax(loc int, cost float64, build func() *Candidate) {
	s.considered++
	if s.settled[loc] {
		return
	}
	if b, ok := s.best[loc]; ok && b <= cost {
		return
	}
	s.best[loc] = cost
	c := build()
	c.TripMin = cost
	c.Loc = loc
	s.push(c)
}

func (s *Session) expandWalk(c *Candidate) {
	radius := math.Min(s.params.WalkSpeed*(s.req.MaxBudget-c.TripMin), s.params.MaxWalkRadius)
	if radius <= 0 {
		return
	}
	minLat, minLng, maxLat, maxLng := s.scale.Box(c.Lat, c.Lng, radius)
	for _, id := range s.deps.Index.Search(minLat, minLng, maxLat, maxLng) {
		if id == c.Loc {
			continue
		}
		l := s.deps.Index.Location(id)
		d := geo.Haversine(c.Lat, c.Lng, l.Lat, l.Lng)
		if d > radius {
			continue
		}
		walkMin := d / s.params.WalkSpeed
		s.relax(id, c.TripMin+walkMin, func() *Candidate {
			return &Candidate{
				Title:      l.Title,
				Lat:        l.Lat,
				Lng:        l.Lng,
				Provenance: Walked,
				RouteChain: c.RouteChain,
				Legs:       c.legs(Leg{Duration: walkMin, Description: "walk to " + l.Title}),
			}
		})
	}
}

type transitEdge struct {
	routeID     string
	directionID string
	fromStop    string
	toStop      string
	loc         int
	waitMin     float64
	busMin      float64
}

// expandTransit looks up every enabled route serving c's location
// concurrently, then relaxes the resulting edges in route order. A failed
// lookup prunes only its own route. It returns false if the session stopped
// being current while lookups were outstanding.
func (s *Session) expandTransit(ctx context.Context, c *Candidate) bool {
	if c.Loc == originLoc {
		return true
	}
	loc := s.deps.Index.Location(c.Loc)
	var stops []gtfs.RouteStop
	for _, rs := range loc.RouteStops {
		if s.enabled[rs.RouteID] {
			stops = append(stops, rs)
		}
	}
	if len(stops) == 0 {
		return true
	}

	results := make([][]transitEdge, len(stops))
	var g errgroup.Group
	if s.params.LookupConcurrency > 0 {
		g.SetLimit(s.params.LookupConcurrency)
	}
	for i, rs := range stops {
		i, rs := i, rs
		g.Go(func() error {
			edges, err := s.transitEdges(ctx, c, rs)
			if err != nil {
				s.logger.Debug("route lookup abandoned", "route", rs.RouteID, "stop", rs.StopID, "error", err)
				return nil
			}
			results[i] = edges
			return nil
		})
	}
	_ = g.Wait()

	if !s.current(ctx) {
		return false
	}

	for _, edges := range results {
		for _, e := range edges {
			dest := s.deps.Index.Location(e.loc)
			cost := c.TripMin + e.waitMin + e.busMin
			s.relax(e.loc, cost, func() *Candidate {
				return &Candidate{
					Title:      dest.Title,
					Lat:        dest.Lat,
					Lng:        dest.Lng,
					Provenance: Transited,
					RouteChain: c.chain(e.routeID),
					Legs: c.legs(
						Leg{Duration: e.waitMin, Description: "wait for " + e.routeID},
						Leg{
							Duration:    e.busMin,
							Description: "take " + e.routeID + " to " + dest.Title,
							RouteID:     e.routeID,
							DirectionID: e.directionID,
							FromStopID:  e.fromStop,
							ToStopID:    e.toStop,
						},
					),
				}
			})
		}
	}
	return s.drain(ctx, s.lastSettled)
}

// transitEdges lists the stops reachable within budget by boarding rs at c.
// It runs concurrently with its siblings and must not touch session state.
func (s *Session) transitEdges(ctx context.Context, c *Candidate, rs gtfs.RouteStop) ([]transitEdge, error) {
	route, err := s.deps.Schedule.Route(ctx, rs.RouteID)
	if err != nil {
		return nil, err
	}
	if route == nil {
		return nil, nil
	}
	dir, pos, ok := route.DirectionForStop(rs.StopID)
	if !ok {
		return nil, nil
	}

	var waitMin float64
	if c.RouteChain == "" && s.params.FirstLegWait != nil {
		waitMin = s.params.FirstLegWait(c.TripMin)
	} else {
		w, ok, err := s.deps.Schedule.WaitTime(ctx, rs.RouteID, dir.ID, rs.StopID, s.req.Selector)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		waitMin = w
	}
	if waitMin < 0 {
		return nil, nil
	}
	departure := c.TripMin + waitMin
	if departure > s.req.MaxBudget {
		return nil, nil
	}

	row, ok, err := s.deps.Schedule.TripTimes(ctx, rs.RouteID, dir.ID, rs.StopID, s.req.Selector)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var edges []transitEdge
	for _, to := range dir.StopIDs[pos+1:] {
		busMin, ok := row[to]
		if !ok || busMin <= 0 {
			continue
		}
		if departure+busMin > s.req.MaxBudget {
			continue
		}
		loc, ok := s.deps.Index.LocationFor(gtfs.RouteStop{RouteID: rs.RouteID, StopID: to})
		if !ok {
			continue
		}
		edges = append(edges, transitEdge{
			routeID:     rs.RouteID,
			directionID: dir.ID,
			fromStop:    rs.StopID,
			toStop:      to,
			loc:         loc,
			waitMin:     waitMin,
			busMin:      busMin,
		})
	}
	return edges, nil
}
