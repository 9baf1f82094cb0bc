package geo

import (
	"math"
	"sort"

	polyclip "github.com/ctessum/polyclip-go"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Disc is a walking-radius circle around a reached location.
type Disc struct {
	Lat    float64
	Lng    float64
	Radius float64 // meters
}

// DiscPolygon approximates d as a regular polygon with the given number of
// sides. Vertex 0 is due east of the center and vertices run counter-clockwise.
func DiscPolygon(s Scale, d Disc, sides int) polyclip.Polygon {
	if sides < 3 {
		sides = 3
	}
	c := make(polyclip.Contour, sides)
	for i := 0; i < sides; i++ {
		theta := 2 * math.Pi * float64(i) / float64(sides)
		c[i] = polyclip.Point{
			X: d.Lng + d.Radius*math.Cos(theta)/s.MetersPerDegLng,
			Y: d.Lat + d.Radius*math.Sin(theta)/s.MetersPerDegLat,
		}
	}
	return polyclip.Polygon{c}
}

// Union merges the discs in order.
func Union(s Scale, discs []Disc, sides int) polyclip.Polygon {
	var acc polyclip.Polygon
	for _, d := range discs {
		p := DiscPolygon(s, d, sides)
		if len(acc) == 0 {
			acc = p
			continue
		}
		acc = acc.Construct(polyclip.UNION, p)
	}
	return acc
}

// Difference returns the part of a not covered by b.
func Difference(a, b polyclip.Polygon) polyclip.Polygon {
	if len(a) == 0 {
		return nil
	}
	if len(b) == 0 {
		return a
	}
	return a.Construct(polyclip.DIFFERENCE, b)
}

// MultiPolygon arranges clipper contours into GeoJSON-style polygons: a
// contour nested inside an odd number of others is a hole of the smallest
// contour that contains it. Outer rings are counter-clockwise, holes clockwise.
func MultiPolygon(p polyclip.Polygon) orb.MultiPolygon {
	rings := make([]orb.Ring, 0, len(p))
	for _, c := range p {
		if len(c) < 3 {
			continue
		}
		r := make(orb.Ring, 0, len(c)+1)
		for _, pt := range c {
			r = append(r, orb.Point{pt.X, pt.Y})
		}
		r = append(r, r[0])
		rings = append(rings, r)
	}

	areas := make([]float64, len(rings))
	for i, r := range rings {
		areas[i] = math.Abs(ringArea(r))
	}
	depth := make([]int, len(rings))
	parent := make([]int, len(rings))
	for i := range rings {
		parent[i] = -1
		for j := range rings {
			if i == j || !planar.RingContains(rings[j], rings[i][0]) {
				continue
			}
			depth[i]++
			if parent[i] == -1 || areas[j] < areas[parent[i]] {
				parent[i] = j
			}
		}
	}

	var mp orb.MultiPolygon
	outer := make(map[int]int)
	for i, r := range rings {
		if depth[i]%2 != 0 {
			continue
		}
		if ringArea(r) < 0 {
			r.Reverse()
		}
		outer[i] = len(mp)
		mp = append(mp, orb.Polygon{r})
	}
	holes := make([]int, 0)
	for i := range rings {
		if depth[i]%2 == 1 {
			holes = append(holes, i)
		}
	}
	sort.Ints(holes)
	for _, i := range holes {
		pi, ok := outer[parent[i]]
		if !ok {
			continue
		}
		r := rings[i]
		if ringArea(r) > 0 {
			r.Reverse()
		}
		mp[pi] = append(mp[pi], r)
	}
	return mp
}

// AreaSquareMeters approximates the area of mp using the local scale.
func AreaSquareMeters(mp orb.MultiPolygon, s Scale) float64 {
	total := 0.0
	for _, poly := range mp {
		for i, r := range poly {
			a := math.Abs(ringArea(r))
			if i == 0 {
				total += a
			} else {
				total -= a
			}
		}
	}
	return total * s.MetersPerDegLat * s.MetersPerDegLng
}

// ringArea is the signed shoelace area; positive for counter-clockwise rings.
func ringArea(r orb.Ring) float64 {
	sum := 0.0
	for i := 0; i+1 < len(r); i++ {
		sum += r[i][0]*r[i+1][1] - r[i+1][0]*r[i][1]
	}
	return sum / 2
}
