// Package spatial holds the static stop-location index used for walking
// range queries.
package spatial

import (
	"sort"

	"github.com/tidwall/rtree"

	"transit-isochrones/internal/gtfs"
)

// Index is built once and is safe for concurrent readers.
type Index struct {
	tree        rtree.RTreeG[int]
	locations   []gtfs.Location
	byRouteStop map[gtfs.RouteStop]int
}

func New(locs []gtfs.Location) *Index {
	ix := &Index{
		locations:   locs,
		byRouteStop: make(map[gtfs.RouteStop]int),
	}
	for i, l := range locs {
		pt := [2]float64{l.Lng, l.Lat}
		ix.tree.Insert(pt, pt, i)
		for _, rs := range l.RouteStops {
			if _, ok := ix.byRouteStop[rs]; !ok {
				ix.byRouteStop[rs] = i
			}
		}
	}
	return ix
}

func (ix *Index) Len() int { return len(ix.locations) }

func (ix *Index) Location(i int) *gtfs.Location { return &ix.locations[i] }

// LocationFor returns the location that a route's stop was merged into.
func (ix *Index) LocationFor(rs gtfs.RouteStop) (int, bool) {
	i, ok := ix.byRouteStop[rs]
	return i, ok
}

// Search returns the ids of locations inside the box, in ascending order.
func (ix *Index) Search(minLat, minLng, maxLat, maxLng float64) []int {
	var ids []int
	ix.tree.Search(
		[2]float64{minLng, minLat},
		[2]float64{maxLng, maxLat},
		func(_, _ [2]float64, id int) bool {
			ids = append(ids, id)
			return true
		},
	)
	sort.Ints(ids)
	return ids
}
