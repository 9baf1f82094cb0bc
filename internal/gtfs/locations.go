package gtfs

import (
	"fmt"
	"math"
	"sort"
)

// CoordKey is the identity used to merge stops that share a coordinate.
func CoordKey(lat, lng float64) string {
	return fmt.Sprintf("%.6f,%.6f", round6(lat), round6(lng))
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// BuildLocations merges the stops of all routes into Locations. Routes are
// visited in id order and stops in direction order (then any stops no
// direction references, by id), so the result is stable across loads.
func BuildLocations(routes []Route) []Location {
	sorted := make([]*Route, len(routes))
	for i := range routes {
		sorted[i] = &routes[i]
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var locs []Location
	byKey := make(map[string]int)
	add := func(routeID string, s Stop) {
		key := CoordKey(s.Lat, s.Lng)
		idx, ok := byKey[key]
		if !ok {
			idx = len(locs)
			byKey[key] = idx
			locs = append(locs, Location{Key: key, Title: s.Title, Lat: s.Lat, Lng: s.Lng})
		}
		rs := RouteStop{RouteID: routeID, StopID: s.ID}
		for _, existing := range locs[idx].RouteStops {
			if existing == rs {
				return
			}
		}
		locs[idx].RouteStops = append(locs[idx].RouteStops, rs)
	}

	for _, r := range sorted {
		seen := make(map[string]bool, len(r.Stops))
		for _, d := range r.Directions {
			for _, id := range d.StopIDs {
				s, ok := r.Stops[id]
				if !ok || seen[id] {
					continue
				}
				seen[id] = true
				add(r.ID, s)
			}
		}
		rest := make([]string, 0)
		for id := range r.Stops {
			if !seen[id] {
				rest = append(rest, id)
			}
		}
		sort.Strings(rest)
		for _, id := range rest {
			add(r.ID, r.Stops[id])
		}
	}
	return locs
}
