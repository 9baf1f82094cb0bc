package spatial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-isochrones/internal/gtfs"
)

func testLocations() []gtfs.Location {
	return []gtfs.Location{
		{Key: "a", Lat: 45.000, Lng: 7.000, RouteStops: []gtfs.RouteStop{{RouteID: "1", StopID: "s1"}}},
		{Key: "b", Lat: 45.010, Lng: 7.010, RouteStops: []gtfs.RouteStop{{RouteID: "1", StopID: "s2"}, {RouteID: "2", StopID: "t1"}}},
		{Key: "c", Lat: 45.500, Lng: 7.500},
	}
}

func TestIndex_Search(t *testing.T) {
	ix := New(testLocations())
	require.Equal(t, 3, ix.Len())

	assert.Equal(t, []int{0, 1}, ix.Search(44.99, 6.99, 45.02, 7.02))
	assert.Equal(t, []int{2}, ix.Search(45.4, 7.4, 45.6, 7.6))
	assert.Empty(t, ix.Search(10, 10, 11, 11))
	// boundary points are included
	assert.Equal(t, []int{0}, ix.Search(45.0, 7.0, 45.0, 7.0))
}

func TestIndex_LocationFor(t *testing.T) {
	ix := New(testLocations())

	i, ok := ix.LocationFor(gtfs.RouteStop{RouteID: "2", StopID: "t1"})
	require.True(t, ok)
	assert.Equal(t, "b", ix.Location(i).Key)

	_, ok = ix.LocationFor(gtfs.RouteStop{RouteID: "2", StopID: "s1"})
	assert.False(t, ok)
}

func TestIndex_Empty(t *testing.T) {
	ix := New(nil)
	assert.Equal(t, 0, ix.Len())
	assert.Empty(t, ix.Search(-90, -180, 90, 180))
}
