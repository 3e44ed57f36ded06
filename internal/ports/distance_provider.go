package ports

import (
	"context"
	"donation-logistics-service/internal/domain"
)

// Distance and travel duration between two locations.
type DistanceResult struct {
	DistanceMeters  int
	DurationSeconds int
}

// Contract for retrieving travel distance and duration between locations.
// Implementations make a network call and may fail or time out; callers
// bound the call with a context deadline.
type DistanceProvider interface {
	// Return travel distance and estimated duration between two points.
	GetDistance(ctx context.Context, origin domain.Coordinates, destination domain.Coordinates) (DistanceResult, error)
}
