package stationlink

import "github.com/golang/geo/s2"

// earthRadiusMeters is the mean earth radius used for the spherical approximation
const earthRadiusMeters = 6371000.0

// DistanceMeters returns the great-circle distance between two points given in degrees
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lon1)
	b := s2.LatLngFromDegrees(lat2, lon2)
	return a.Distance(b).Radians() * earthRadiusMeters
}
