package gtfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLocations_MergesSharedCoordinates(t *testing.T) {
	routes := []Route{
		{
			ID: "22",
			Stops: map[string]Stop{
				"a": {ID: "a", Title: "Main & 1st", Lat: 37.7749, Lng: -122.4194},
				"b": {ID: "b", Title: "Main & 5th", Lat: 37.7760, Lng: -122.4150},
			},
			Directions: []Direction{{ID: "out", StopIDs: []string{"a", "b"}}},
		},
		{
			ID: "14",
			Stops: map[string]Stop{
				"x": {ID: "x", Title: "Main & 1st (14)", Lat: 37.7749, Lng: -122.4194},
			},
			Directions: []Direction{{ID: "in", StopIDs: []string{"x"}}},
		},
	}

	locs := BuildLocations(routes)
	require.Len(t, locs, 2)

	// route 14 sorts first, so its title wins for the shared corner
	assert.Equal(t, "Main & 1st (14)", locs[0].Title)
	assert.Equal(t, []RouteStop{{RouteID: "14", StopID: "x"}, {RouteID: "22", StopID: "a"}}, locs[0].RouteStops)
	assert.Equal(t, "Main & 5th", locs[1].Title)
	assert.Equal(t, CoordKey(37.7760, -122.4150), locs[1].Key)
}

func TestBuildLocations_StopsOutsideDirections(t *testing.T) {
	routes := []Route{{
		ID: "1",
		Stops: map[string]Stop{
			"z": {ID: "z", Lat: 1, Lng: 1},
			"y": {ID: "y", Lat: 2, Lng: 2},
			"w": {ID: "w", Lat: 3, Lng: 3},
		},
		Directions: []Direction{{ID: "0", StopIDs: []string{"w"}}},
	}}
	locs := BuildLocations(routes)
	require.Len(t, locs, 3)
	assert.Equal(t, "w", locs[0].RouteStops[0].StopID)
	assert.Equal(t, "y", locs[1].RouteStops[0].StopID)
	assert.Equal(t, "z", locs[2].RouteStops[0].StopID)
}

func TestRoute_DirectionForStop(t *testing.T) {
	r := Route{Directions: []Direction{
		{ID: "0", StopIDs: []string{"a", "b", "c"}},
		{ID: "1", StopIDs: []string{"c", "b", "a"}},
	}}

	d, pos, ok := r.DirectionForStop("b")
	require.True(t, ok)
	assert.Equal(t, "0", d.ID)
	assert.Equal(t, 1, pos)

	_, _, ok = r.DirectionForStop("nope")
	assert.False(t, ok)
}

func TestSelectorKey(t *testing.T) {
	s := Selector{Date: "2024-03-01", TimeWindow: "07:00-10:00", Statistic: "median"}
	assert.Equal(t, "2024-03-01|07:00-10:00|median", s.Key())
}
