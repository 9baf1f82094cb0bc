package gtfs

import "fmt"

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Stop struct {
	ID    string
	Title string
	Lat   float64
	Lng   float64
}

type Direction struct {
	ID      string
	Title   string
	StopIDs []string // in travel order
	Shape   []Point  // optional
}

type Route struct {
	ID         string
	Title      string
	Stops      map[string]Stop // stopID -> stop
	Directions []Direction
}

// DirectionForStop returns the first direction that serves stopID along with
// the stop's position in that direction's sequence.
func (r *Route) DirectionForStop(stopID string) (*Direction, int, bool) {
	for i := range r.Directions {
		d := &r.Directions[i]
		for j, id := range d.StopIDs {
			if id == stopID {
				return d, j, true
			}
		}
	}
	return nil, 0, false
}

type RouteStop struct {
	RouteID string `json:"routeId"`
	StopID  string `json:"stopId"`
}

// Location is a physical place served by one or more route stops.
type Location struct {
	Key        string
	Title      string
	Lat        float64
	Lng        float64
	RouteStops []RouteStop
}

// Selector picks which statistics table applies to a lookup.
type Selector struct {
	Date       string // service date, YYYY-MM-DD
	TimeWindow string // e.g. "07:00-10:00"
	Statistic  string // e.g. "median", "p90"
}

func (s Selector) Key() string {
	return fmt.Sprintf("%s|%s|%s", s.Date, s.TimeWindow, s.Statistic)
}

// TableKey addresses a row in a wait-time or trip-time table.
type TableKey struct {
	RouteID     string
	DirectionID string
	StopID      string
}

// TripTimeTable maps (route, direction, fromStop) to expected minutes per downstream stop.
type TripTimeTable map[TableKey]map[string]float64

// WaitTimeTable maps (route, direction, stop) to expected wait minutes.
type WaitTimeTable map[TableKey]float64
