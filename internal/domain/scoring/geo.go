package scoring

import (
	"math"

	"github.com/okian/rally/internal/domain/model"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between a and b, or nil when either is missing.
func DistanceKm(a, b *model.GeoPoint) *float64 {
	if a == nil || b == nil {
		return nil
	}
	d := haversineDistance(a.Lat, a.Lng, b.Lat, b.Lng)
	return &d
}

// haversineDistance calculates the distance between two lat/lon points in km.
func haversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}
