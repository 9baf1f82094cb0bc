package geo

import "math"

const earthRadiusMeters = 6371000.0

// scaleProbeDeg is the offset used to measure local meters-per-degree.
const scaleProbeDeg = 0.1

// Haversine distance in meters
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

func toRad(d float64) float64 { return d * math.Pi / 180 }

// Scale converts between meters and degrees around one reference point.
// It is only accurate over city-sized extents: the longitude factor is not
// recomputed away from the reference latitude.
type Scale struct {
	MetersPerDegLat float64
	MetersPerDegLng float64
}

// ScaleAt measures the distance covered by a 0.1 degree step in each axis at
// (lat, lng) and extrapolates to one degree.
func ScaleAt(lat, lng float64) Scale {
	return Scale{
		MetersPerDegLat: Haversine(lat, lng, lat+scaleProbeDeg, lng) / scaleProbeDeg,
		MetersPerDegLng: Haversine(lat, lng, lat, lng+scaleProbeDeg) / scaleProbeDeg,
	}
}

// Box returns the lat/lng bounding box of a circle with the given radius in meters.
func (s Scale) Box(lat, lng, radius float64) (minLat, minLng, maxLat, maxLng float64) {
	dLat := radius / s.MetersPerDegLat
	dLng := radius / s.MetersPerDegLng
	return lat - dLat, lng - dLng, lat + dLat, lng + dLng
}
