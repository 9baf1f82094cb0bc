package isochrone

import (
	"math"

	polyclip "github.com/ctessum/polyclip-go"
	"github.com/paulmach/orb"

	"transit-isochrones/internal/geo"
)

// ReachedDisc is the walkable circle around one settled location at a threshold.
type ReachedDisc struct {
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	Radius     float64 `json:"radius"`
	TripMin    float64 `json:"tripMin"`
	RouteChain string  `json:"routeChain"`
	TripItems  []Leg   `json:"tripItems"`
	Title      string  `json:"title"`
}

type Emission struct {
	SessionID string
	Threshold float64
	Discs     []ReachedDisc
	// NewArea is the part of this threshold's union not covered at the
	// previous threshold.
	NewArea orb.MultiPolygon
}

// Emitter turns settled records into per-threshold snapshots. Thresholds are
// emitted once each, in ascending order.
type Emitter struct {
	sessionID     string
	scale         geo.Scale
	walkSpeed     float64
	maxWalkRadius float64
	sides         int

	thresholds []float64
	next       int
	baseline   polyclip.Polygon
}

func NewEmitter(sessionID string, thresholds []float64, scale geo.Scale, p Params) *Emitter {
	return &Emitter{
		sessionID:     sessionID,
		scale:         scale,
		walkSpeed:     p.WalkSpeed,
		maxWalkRadius: p.MaxWalkRadius,
		sides:         p.DiscSides,
		thresholds:    thresholds,
	}
}

// Pending reports whether the next threshold is at or below upTo.
func (e *Emitter) Pending(upTo float64) bool {
	return e.next < len(e.thresholds) && e.thresholds[e.next] <= upTo
}

func (e *Emitter) Remaining() int { return len(e.thresholds) - e.next }

func (e *Emitter) Emitted() int { return e.next }

// Next builds the snapshot for the next threshold and makes its union the
// baseline for the one after. reached must be in settle order.
func (e *Emitter) Next(reached []Candidate) Emission {
	t := e.thresholds[e.next]
	e.next++

	discs := make([]ReachedDisc, 0)
	circles := make([]geo.Disc, 0)
	for i := range reached {
		c := &reached[i]
		r := math.Min(e.walkSpeed*(t-c.TripMin), e.maxWalkRadius)
		if r <= 0 {
			continue
		}
		discs = append(discs, ReachedDisc{
			Lat:        c.Lat,
			Lng:        c.Lng,
			Radius:     r,
			TripMin:    c.TripMin,
			RouteChain: c.RouteChain,
			TripItems:  c.Legs,
			Title:      c.Title,
		})
		circles = append(circles, geo.Disc{Lat: c.Lat, Lng: c.Lng, Radius: r})
	}

	union := geo.Union(e.scale, circles, e.sides)
	added := geo.Difference(union, e.baseline)
	e.baseline = union

	return Emission{
		SessionID: e.sessionID,
		Threshold: t,
		Discs:     discs,
		NewArea:   geo.MultiPolygon(added),
	}
}
