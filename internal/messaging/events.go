package messaging

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"transit-isochrones/internal/gtfs"
	"transit-isochrones/internal/isochrone"
)

const (
	TypeReady              = "ready"
	TypeOK                 = "ok"
	TypeReachableLocations = "reachableLocations"
	TypeError              = "error"
	TypeStats              = "stats"
	TypeRoutes             = "routes"
)

// Event is an outbound message. Session is empty for messages that do not
// belong to a compute session.
type Event interface {
	Kind() string
	Session() string
}

type Ready struct {
	Type      string `json:"type"`
	Locations int    `json:"locations"`
	Routes    int    `json:"routes"`
}

func NewReady(locations, routes int) Ready {
	return Ready{Type: TypeReady, Locations: locations, Routes: routes}
}

func (Ready) Kind() string { return TypeReady }
func (Ready) Session() string { return "" }

type OK struct {
	Type   string `json:"type"`
	Action string `json:"action,omitempty"`
}

func NewOK(action string) OK { return OK{Type: TypeOK, Action: action} }

func (OK) Kind() string { return TypeOK }
func (OK) Session() string { return "" }

type Reachable struct {
	Type           string                  `json:"type"`
	Threshold      float64                 `json:"threshold"`
	SessionID      string                  `json:"sessionId"`
	Discs          []isochrone.ReachedDisc `json:"discs"`
	NewAreaPolygon *geojson.Geometry       `json:"newAreaPolygon"`
}

// ReachableLocations encodes one emission. An empty new area is sent as an
// empty MultiPolygon rather than null.
func ReachableLocations(e isochrone.Emission) Reachable {
	area := e.NewArea
	if area == nil {
		area = orb.MultiPolygon{}
	}
	return Reachable{
		Type:           TypeReachableLocations,
		Threshold:      e.Threshold,
		SessionID:      e.SessionID,
		Discs:          e.Discs,
		NewAreaPolygon: geojson.NewGeometry(area),
	}
}

func (Reachable) Kind() string { return TypeReachableLocations }
func (r Reachable) Session() string { return r.SessionID }

type Error struct {
	Type      string `json:"type"`
	Error     string `json:"error"`
	SessionID string `json:"sessionId,omitempty"`
}

func NewError(sessionID string, err error) Error {
	return Error{Type: TypeError, Error: err.Error(), SessionID: sessionID}
}

func (Error) Kind() string { return TypeError }
func (e Error) Session() string { return e.SessionID }

type Stats struct {
	Type              string `json:"type"`
	SessionID         string `json:"sessionId"`
	Settled           int    `json:"settled"`
	Considered        int    `json:"considered"`
	ElapsedMs         int64  `json:"elapsedMs"`
	ThresholdsEmitted int    `json:"thresholdsEmitted"`
}

func NewStats(sessionID string, s isochrone.Stats) Stats {
	return Stats{
		Type:              TypeStats,
		SessionID:         sessionID,
		Settled:           s.Settled,
		Considered:        s.Considered,
		ElapsedMs:         s.Elapsed.Milliseconds(),
		ThresholdsEmitted: s.ThresholdsEmitted,
	}
}

func (Stats) Kind() string { return TypeStats }
func (s Stats) Session() string { return s.SessionID }

type RouteSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type Routes struct {
	Type   string         `json:"type"`
	Routes []RouteSummary `json:"routes"`
}

func NewRoutes(routes []gtfs.Route) Routes {
	out := Routes{Type: TypeRoutes, Routes: make([]RouteSummary, 0, len(routes))}
	for _, r := range routes {
		out.Routes = append(out.Routes, RouteSummary{ID: r.ID, Title: r.Title})
	}
	return out
}

func (Routes) Kind() string { return TypeRoutes }
func (Routes) Session() string { return "" }
