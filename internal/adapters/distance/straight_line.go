package distance

import (
	"context"
	"math"

	"donation-logistics-service/internal/domain"
	"donation-logistics-service/internal/ports"
)

const (
	earthRadiusMeters = 6371000.0
	// Great-circle distance understates road distance; scale it up.
	roadFactor = 1.3
	// Average urban driving speed used for the duration estimate.
	averageSpeedMetersPerSecond = 40000.0 / 3600.0
)

// StraightLineProvider estimates road distance from the great-circle
// distance. It never fails and is used when no routing API key is configured.
type StraightLineProvider struct{}

var _ ports.DistanceProvider = StraightLineProvider{}

func (StraightLineProvider) GetDistance(ctx context.Context, origin, destination domain.Coordinates) (ports.DistanceResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.DistanceResult{}, err
	}

	meters := Haversine(origin, destination) * roadFactor
	return ports.DistanceResult{
		DistanceMeters:  int(math.Round(meters)),
		DurationSeconds: int(math.Round(meters / averageSpeedMetersPerSecond)),
	}, nil
}

// Haversine returns the great-circle distance between two points in meters.
func Haversine(a, b domain.Coordinates) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}
