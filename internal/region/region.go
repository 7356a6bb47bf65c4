// Package region provides geographic membership predicates used to filter
// traces by station or event location.
package region

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Domain reports whether a point given in degrees lies inside a region.
type Domain interface {
	Contains(latitude, longitude float64) bool
}

// CircleDomain is an annulus around a centre point. Radii are great-circle
// distances in degrees and both bounds are exclusive.
type CircleDomain struct {
	Latitude  float64
	Longitude float64
	MinRadius float64
	MaxRadius float64
}

// NewCircleDomain validates the radii and returns the domain.
func NewCircleDomain(latitude, longitude, minRadius, maxRadius float64) (CircleDomain, error) {
	if minRadius < 0 || maxRadius < minRadius {
		return CircleDomain{}, fmt.Errorf("invalid circle radii [%g, %g]", minRadius, maxRadius)
	}
	return CircleDomain{Latitude: latitude, Longitude: longitude, MinRadius: minRadius, MaxRadius: maxRadius}, nil
}

// Contains reports MinRadius < distance(point, centre) < MaxRadius.
func (c CircleDomain) Contains(latitude, longitude float64) bool {
	if math.IsNaN(latitude) || math.IsNaN(longitude) {
		return false
	}
	d := Distance(c.Latitude, c.Longitude, latitude, longitude)
	return c.MinRadius < d && d < c.MaxRadius
}

// RectangleDomain is a latitude/longitude box with inclusive bounds. A box
// with MinLongitude > MaxLongitude wraps across the antimeridian.
type RectangleDomain struct {
	MinLatitude  float64
	MaxLatitude  float64
	MinLongitude float64
	MaxLongitude float64
}

// Contains reports whether the point lies within the box.
func (r RectangleDomain) Contains(latitude, longitude float64) bool {
	if math.IsNaN(latitude) || math.IsNaN(longitude) {
		return false
	}
	if latitude < r.MinLatitude || latitude > r.MaxLatitude {
		return false
	}
	if r.MinLongitude <= r.MaxLongitude {
		return r.MinLongitude <= longitude && longitude <= r.MaxLongitude
	}
	return longitude >= r.MinLongitude || longitude <= r.MaxLongitude
}

// Distance returns the great-circle distance in degrees between two points.
// It uses the atan2 form of the central angle, which stays accurate for both
// tiny and near-antipodal separations.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	a := unit(lat1, lon1)
	b := unit(lat2, lon2)
	return math.Atan2(r3.Norm(r3.Cross(a, b)), r3.Dot(a, b)) * 180 / math.Pi
}

func unit(lat, lon float64) r3.Vec {
	phi := lat * math.Pi / 180
	lambda := lon * math.Pi / 180
	return r3.Vec{
		X: math.Cos(phi) * math.Cos(lambda),
		Y: math.Cos(phi) * math.Sin(lambda),
		Z: math.Sin(phi),
	}
}

// Mask evaluates d for each coordinate pair.
func Mask(d Domain, latitudes, longitudes []float64) ([]bool, error) {
	if len(latitudes) != len(longitudes) {
		return nil, fmt.Errorf("coordinate length mismatch: %d latitudes, %d longitudes", len(latitudes), len(longitudes))
	}
	mask := make([]bool, len(latitudes))
	for i := range latitudes {
		mask[i] = d.Contains(latitudes[i], longitudes[i])
	}
	return mask, nil
}
