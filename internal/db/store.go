package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/twpayne/go-polyline"

	"transit-isochrones/internal/gtfs"
)

// Store reads routes and schedule statistics. Queries use $n placeholders in
// order of first appearance, which both pgx and SQLite accept.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// routeFilter matches every route when $1 is empty.
const routeFilter = `(CAST($1 AS TEXT) = '' OR route_id = $1)`

func (s *Store) LoadRoutes(ctx context.Context) ([]gtfs.Route, error) {
	return s.loadRoutes(ctx, "")
}

// LoadRoute returns nil without error when the route does not exist.
func (s *Store) LoadRoute(ctx context.Context, routeID string) (*gtfs.Route, error) {
	routes, err := s.loadRoutes(ctx, routeID)
	if err != nil {
		return nil, err
	}
	if len(routes) == 0 {
		return nil, nil
	}
	return &routes[0], nil
}

func (s *Store) loadRoutes(ctx context.Context, routeID string) ([]gtfs.Route, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT route_id, title FROM routes WHERE `+routeFilter+` ORDER BY route_id`, routeID)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	var routes []gtfs.Route
	byID := make(map[string]int)
	for rows.Next() {
		var r gtfs.Route
		if err := rows.Scan(&r.ID, &r.Title); err != nil {
			rows.Close()
			return nil, err
		}
		r.Stops = make(map[string]gtfs.Stop)
		byID[r.ID] = len(routes)
		routes = append(routes, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(routes) == 0 {
		return nil, nil
	}

	if err := s.loadStops(ctx, routeID, routes, byID); err != nil {
		return nil, err
	}
	if err := s.loadDirections(ctx, routeID, routes, byID); err != nil {
		return nil, err
	}
	return routes, nil
}

func (s *Store) loadStops(ctx context.Context, routeID string, routes []gtfs.Route, byID map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT route_id, stop_id, title, lat, lon FROM route_stops WHERE `+routeFilter, routeID)
	if err != nil {
		return fmt.Errorf("query route stops: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rid string
		var st gtfs.Stop
		if err := rows.Scan(&rid, &st.ID, &st.Title, &st.Lat, &st.Lng); err != nil {
			return err
		}
		if i, ok := byID[rid]; ok {
			routes[i].Stops[st.ID] = st
		}
	}
	return rows.Err()
}

func (s *Store) loadDirections(ctx context.Context, routeID string, routes []gtfs.Route, byID map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT route_id, direction_id, title, shape FROM route_directions WHERE `+routeFilter+`
ORDER BY route_id, direction_id`, routeID)
	if err != nil {
		return fmt.Errorf("query route directions: %w", err)
	}
	type dirKey struct{ route, dir string }
	pos := make(map[dirKey]int)
	for rows.Next() {
		var rid string
		var d gtfs.Direction
		var shape sql.NullString
		if err := rows.Scan(&rid, &d.ID, &d.Title, &shape); err != nil {
			rows.Close()
			return err
		}
		i, ok := byID[rid]
		if !ok {
			continue
		}
		if shape.Valid && shape.String != "" {
			pts, err := decodeShape(shape.String)
			if err != nil {
				rows.Close()
				return fmt.Errorf("route %s direction %s: %w", rid, d.ID, err)
			}
			d.Shape = pts
		}
		pos[dirKey{rid, d.ID}] = len(routes[i].Directions)
		routes[i].Directions = append(routes[i].Directions, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT route_id, direction_id, stop_id FROM direction_stops WHERE `+routeFilter+`
ORDER BY route_id, direction_id, stop_sequence`, routeID)
	if err != nil {
		return fmt.Errorf("query direction stops: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rid, did, sid string
		if err := rows.Scan(&rid, &did, &sid); err != nil {
			return err
		}
		i, ok := byID[rid]
		if !ok {
			continue
		}
		j, ok := pos[dirKey{rid, did}]
		if !ok {
			continue
		}
		routes[i].Directions[j].StopIDs = append(routes[i].Directions[j].StopIDs, sid)
	}
	return rows.Err()
}

func decodeShape(encoded string) ([]gtfs.Point, error) {
	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode shape: %w", err)
	}
	pts := make([]gtfs.Point, 0, len(coords))
	for _, c := range coords {
		pts = append(pts, gtfs.Point{Lat: c[0], Lng: c[1]})
	}
	return pts, nil
}

func (s *Store) LoadTripTimes(ctx context.Context, sel gtfs.Selector) (gtfs.TripTimeTable, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT route_id, direction_id, from_stop_id, to_stop_id, minutes
FROM trip_times
WHERE service_date = $1 AND time_window = $2 AND statistic = $3`,
		sel.Date, sel.TimeWindow, sel.Statistic)
	if err != nil {
		return nil, fmt.Errorf("query trip times: %w", err)
	}
	defer rows.Close()

	table := make(gtfs.TripTimeTable)
	for rows.Next() {
		var k gtfs.TableKey
		var to string
		var minutes sql.NullFloat64
		if err := rows.Scan(&k.RouteID, &k.DirectionID, &k.StopID, &to, &minutes); err != nil {
			return nil, err
		}
		if !minutes.Valid {
			continue
		}
		row := table[k]
		if row == nil {
			row = make(map[string]float64)
			table[k] = row
		}
		row[to] = minutes.Float64
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return table, nil
}

func (s *Store) LoadWaitTimes(ctx context.Context, sel gtfs.Selector) (gtfs.WaitTimeTable, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT route_id, direction_id, stop_id, minutes
FROM wait_times
WHERE service_date = $1 AND time_window = $2 AND statistic = $3`,
		sel.Date, sel.TimeWindow, sel.Statistic)
	if err != nil {
		return nil, fmt.Errorf("query wait times: %w", err)
	}
	defer rows.Close()

	table := make(gtfs.WaitTimeTable)
	for rows.Next() {
		var k gtfs.TableKey
		var minutes sql.NullFloat64
		if err := rows.Scan(&k.RouteID, &k.DirectionID, &k.StopID, &minutes); err != nil {
			return nil, err
		}
		if !minutes.Valid {
			continue
		}
		table[k] = minutes.Float64
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return table, nil
}
