package geospatial

import (
	"math"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
)

const earthRadiusKm = 6371.0

// HaversineKm calculates the great-circle distance in kilometres between two points.
func HaversineKm(a, b domain.Coordinate) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// Haversine calculates the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	return HaversineKm(domain.Coordinate{Lat: lat1, Lng: lon1}, domain.Coordinate{Lat: lat2, Lng: lon2}) * 1000
}

// BoundingBox returns a bounding box around a point with the given radius in meters.
// Longitude spans are widened near the poles and clamped to valid ranges.
func BoundingBox(lat, lon, radiusMeters float64) (minLat, minLon, maxLat, maxLon float64) {
	latDelta := radiusMeters / 111320.0
	cos := math.Cos(toRad(lat))
	lonDelta := 180.0
	if cos > 1e-6 {
		lonDelta = math.Min(180, radiusMeters/(111320.0*cos))
	}

	minLat = math.Max(-90, lat-latDelta)
	maxLat = math.Min(90, lat+latDelta)
	minLon = math.Max(-180, lon-lonDelta)
	maxLon = math.Min(180, lon+lonDelta)
	return minLat, minLon, maxLat, maxLon
}

// SearchBounds returns the prefilter box for a radius search, padded by 10%
// so that screens right at the radius are never cut by the approximation.
func SearchBounds(center domain.Coordinate, radiusKm float64) domain.Bounds {
	minLat, minLng, maxLat, maxLng := BoundingBox(center.Lat, center.Lng, radiusKm*1000*1.1)
	return domain.Bounds{MinLat: minLat, MinLng: minLng, MaxLat: maxLat, MaxLng: maxLng}
}

// RoundKm rounds a distance to one decimal place for presentation.
func RoundKm(km float64) float64 {
	return math.Round(km*10) / 10
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
