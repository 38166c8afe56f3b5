package grid

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// EarthRadiusMeters is the mean Earth radius used for distance calculations.
const EarthRadiusMeters = 6371000.0

// Bearing returns the initial great-circle bearing from point 1 to point 2
// in degrees, normalized to [0, 360) with 0 = North.
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	b := geo.Bearing(orb.Point{lon1, lat1}, orb.Point{lon2, lat2})
	b = math.Mod(b+360, 360)
	if b >= 360 {
		b = 0
	}
	return b
}

// Distance returns the Haversine great-circle distance in meters.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRad(lat1)
	phi2 := toRad(lat2)
	dPhi := toRad(lat2 - lat1)
	dLambda := toRad(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// Point is a plain (lat, lon) pair.
type Point struct {
	Lat float64
	Lon float64
}

// BoundsOf returns the bounding box of the points. ok is false for an empty slice.
func BoundsOf(points []Point) (bound orb.Bound, ok bool) {
	if len(points) == 0 {
		return orb.Bound{}, false
	}
	first := orb.Point{points[0].Lon, points[0].Lat}
	bound = first.Bound()
	for _, p := range points[1:] {
		bound = bound.Extend(orb.Point{p.Lon, p.Lat})
	}
	return bound, true
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
