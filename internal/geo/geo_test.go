package geo

import (
	"math"
	"testing"

	polyclip "github.com/ctessum/polyclip-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversine_KnownDistances(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lng1, lat2, lng2 float64
		wantMeters             float64
		tolerance              float64
	}{
		{
			name: "same point returns zero",
			lat1: 37.7749, lng1: -122.4194, lat2: 37.7749, lng2: -122.4194,
			wantMeters: 0, tolerance: 0.001,
		},
		{
			name: "equator quarter circumference",
			lat1: 0, lng1: 0, lat2: 0, lng2: 90,
			wantMeters: math.Pi / 2 * earthRadiusMeters, tolerance: 1,
		},
		{
			name: "one degree of latitude",
			lat1: 10, lng1: 5, lat2: 11, lng2: 5,
			wantMeters: 111195, tolerance: 5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Haversine(tt.lat1, tt.lng1, tt.lat2, tt.lng2)
			assert.InDelta(t, tt.wantMeters, got, tt.tolerance)
		})
	}
}

func TestScaleAt(t *testing.T) {
	eq := ScaleAt(0, 0)
	assert.InDelta(t, 111195, eq.MetersPerDegLat, 10)
	assert.InDelta(t, 111195, eq.MetersPerDegLng, 10)

	mid := ScaleAt(60, 10)
	assert.InDelta(t, eq.MetersPerDegLat, mid.MetersPerDegLat, 10)
	// cos(60°) = 0.5
	assert.InDelta(t, 0.5, mid.MetersPerDegLng/mid.MetersPerDegLat, 0.01)
}

func TestScaleBox(t *testing.T) {
	s := ScaleAt(45, 7)
	minLat, minLng, maxLat, maxLng := s.Box(45, 7, 1000)
	assert.InDelta(t, 1000, Haversine(45, 7, maxLat, 7), 1)
	assert.InDelta(t, 1000, Haversine(45, 7, minLat, 7), 1)
	assert.InDelta(t, 1000, Haversine(45, 7, 45, maxLng), 1)
	assert.InDelta(t, 1000, Haversine(45, 7, 45, minLng), 1)
}

func TestDiscPolygon(t *testing.T) {
	s := ScaleAt(45, 7)
	p := DiscPolygon(s, Disc{Lat: 45, Lng: 7, Radius: 500}, 32)
	require.Len(t, p, 1)
	require.Len(t, p[0], 32)
	for _, pt := range p[0] {
		assert.InDelta(t, 500, Haversine(45, 7, pt.Y, pt.X), 2)
	}

	mp := MultiPolygon(p)
	require.Len(t, mp, 1)
	// 32-gon area = n/2 r^2 sin(2π/n)
	want := 16 * 500 * 500 * math.Sin(2*math.Pi/32)
	assert.InDelta(t, want, AreaSquareMeters(mp, s), want*0.01)
}

func TestUnion_OverlappingDiscs(t *testing.T) {
	s := ScaleAt(45, 7)
	a := Disc{Lat: 45, Lng: 7, Radius: 300}
	b := Disc{Lat: 45, Lng: 7 + 200/s.MetersPerDegLng, Radius: 300}

	u := MultiPolygon(Union(s, []Disc{a, b}, 32))
	require.Len(t, u, 1)

	single := AreaSquareMeters(MultiPolygon(DiscPolygon(s, a, 32)), s)
	area := AreaSquareMeters(u, s)
	assert.Greater(t, area, single)
	assert.Less(t, area, 2*single)
}

func TestUnion_DisjointDiscs(t *testing.T) {
	s := ScaleAt(45, 7)
	discs := []Disc{
		{Lat: 45, Lng: 7, Radius: 100},
		{Lat: 45.1, Lng: 7, Radius: 100},
	}
	u := MultiPolygon(Union(s, discs, 16))
	assert.Len(t, u, 2)
	assert.Empty(t, Union(s, nil, 16))
}

func TestDifference(t *testing.T) {
	s := ScaleAt(45, 7)
	inner := Union(s, []Disc{{Lat: 45, Lng: 7, Radius: 100}}, 32)
	outer := Union(s, []Disc{{Lat: 45, Lng: 7, Radius: 300}}, 32)

	ring := MultiPolygon(Difference(outer, inner))
	require.Len(t, ring, 1)
	require.Len(t, ring[0], 2, "annulus should have one hole")

	want := AreaSquareMeters(MultiPolygon(outer), s) - AreaSquareMeters(MultiPolygon(inner), s)
	assert.InDelta(t, want, AreaSquareMeters(ring, s), want*0.01)

	assert.Empty(t, MultiPolygon(Difference(inner, outer)))
	assert.Nil(t, Difference(nil, outer))
	assert.Equal(t, outer, Difference(outer, polyclip.Polygon{}))
}

func TestMultiPolygon_Orientation(t *testing.T) {
	s := ScaleAt(45, 7)
	outer := Union(s, []Disc{{Lat: 45, Lng: 7, Radius: 300}}, 32)
	inner := Union(s, []Disc{{Lat: 45, Lng: 7, Radius: 100}}, 32)
	mp := MultiPolygon(Difference(outer, inner))
	require.Len(t, mp, 1)
	assert.Greater(t, ringArea(mp[0][0]), 0.0)
	assert.Less(t, ringArea(mp[0][1]), 0.0)
	assert.Equal(t, mp[0][0][0], mp[0][0][len(mp[0][0])-1])
}
