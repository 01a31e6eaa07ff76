// Package geo holds the coordinate types and the only unit conversions in the
// module. Every other package passes degrees in LatLon and receives meters
// back; none of them touch radians.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusM is the IUGG mean earth radius in meters.
const EarthRadiusM = 6371008.8

// LatLon is a WGS-84 position in decimal degrees.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the position is finite and inside the degree ranges.
func (p LatLon) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

func (p LatLon) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", p.Lat, p.Lon)
}

// Radians converts degrees to radians.
func Radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b LatLon) float64 {
	phi1 := Radians(a.Lat)
	phi2 := Radians(b.Lat)
	dPhi := Radians(b.Lat - a.Lat)
	dLambda := Radians(b.Lon - a.Lon)

	s := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	if s > 1 {
		s = 1
	}
	return 2 * EarthRadiusM * math.Asin(math.Sqrt(s))
}

// Centroid returns the arithmetic mean of the positions. It is only meant for
// picking a projection origin over a city-sized extent.
func Centroid(points []LatLon) LatLon {
	if len(points) == 0 {
		return LatLon{}
	}
	var sumLat, sumLon float64
	for _, p := range points {
		sumLat += p.Lat
		sumLon += p.Lon
	}
	n := float64(len(points))
	return LatLon{Lat: sumLat / n, Lon: sumLon / n}
}
