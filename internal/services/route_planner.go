package services

import (
	"context"
	"errors"
	"fmt"
	"math"

	"donation-logistics-service/internal/domain"
	"donation-logistics-service/internal/ports"
)

// LegMeasurer measures travel between two encoded locations.
// GeoMatcher.Distance satisfies it.
type LegMeasurer interface {
	Distance(ctx context.Context, from, to string) (ports.DistanceResult, error)
}

// PlannedStop is one visit the planner orders: an id and where it happens.
type PlannedStop struct {
	ID       string
	Location string
}

// Order visits using a greedy nearest-neighbor algorithm.
//
// The algorithm minimizes immediate travel duration at each step.
// It does not attempt global route optimization (e.g., VRP solvers).
// The design prioritizes determinism and simplicity over optimality.
func PlanStopOrder(
	ctx context.Context,
	measurer LegMeasurer,
	startLocation string,
	stops []PlannedStop,
) ([]PlannedStop, error) {
	if startLocation == "" {
		return nil, errors.New("plan stop order: startLocation must be non-empty")
	}
	if len(stops) == 0 {
		return []PlannedStop{}, nil
	}

	// Several stops may share a location; measure each pair once.
	measured := make(map[string]ports.DistanceResult)
	measure := func(from, to string) (ports.DistanceResult, error) {
		k := from + "|" + to
		if r, ok := measured[k]; ok {
			return r, nil
		}
		r, err := measurer.Distance(ctx, from, to)
		if err != nil {
			return ports.DistanceResult{}, err
		}
		measured[k] = r
		return r, nil
	}

	remaining := append([]PlannedStop(nil), stops...)
	ordered := make([]PlannedStop, 0, len(stops))
	currentLocation := startLocation

	for len(remaining) > 0 {
		best := -1
		minDuration := math.MaxInt64

		// Select next stop by minimum travel duration (greedy step.)
		for i, s := range remaining {
			r, err := measure(currentLocation, s.Location)
			if err != nil {
				return nil, fmt.Errorf("plan stop order: from %q to %q: %w", currentLocation, s.Location, err)
			}
			// Tie-breaker ensures deterministic ordering when durations are equal.
			if r.DurationSeconds < minDuration || (r.DurationSeconds == minDuration && stopLess(s, remaining[best])) {
				minDuration = r.DurationSeconds
				best = i
			}
		}

		if best < 0 {
			return nil, errors.New("plan stop order: failed to select next stop")
		}
		next := remaining[best]
		ordered = append(ordered, next)
		remaining = append(remaining[:best], remaining[best+1:]...)
		currentLocation = next.Location
	}

	return ordered, nil
}

func stopLess(a, b PlannedStop) bool {
	if a.Location != b.Location {
		return a.Location < b.Location
	}
	return a.ID < b.ID
}

// MeasureStops walks the given visiting order from startLocation and returns
// every leg with its metrics. Legs[i] ends at stops[i]; with returnToStart
// a final leg goes back to startLocation.
func MeasureStops(
	ctx context.Context,
	measurer LegMeasurer,
	startLocation string,
	stops []PlannedStop,
	returnToStart bool,
) (domain.StopPlan, error) {
	if startLocation == "" {
		return domain.StopPlan{}, errors.New("measure stops: startLocation must be non-empty")
	}

	plan := domain.StopPlan{
		Order: make([]string, 0, len(stops)),
		Legs:  make([]domain.Leg, 0, len(stops)+1),
	}
	if len(stops) == 0 {
		return plan, nil
	}

	addLeg := func(from, to string) error {
		r, err := measurer.Distance(ctx, from, to)
		if err != nil {
			return fmt.Errorf("measure stops: leg %q -> %q: %w", from, to, err)
		}
		plan.Legs = append(plan.Legs, domain.Leg{
			From:            from,
			To:              to,
			DistanceMeters:  r.DistanceMeters,
			DurationSeconds: r.DurationSeconds,
		})
		plan.TotalDistanceMeters += r.DistanceMeters
		plan.TotalDurationSeconds += r.DurationSeconds
		return nil
	}

	currentLocation := startLocation
	for _, s := range stops {
		if err := addLeg(currentLocation, s.Location); err != nil {
			return domain.StopPlan{}, err
		}
		plan.Order = append(plan.Order, s.ID)
		currentLocation = s.Location
	}

	// Optionally includes return leg to the home branch for total route metrics.
	if returnToStart {
		if err := addLeg(currentLocation, startLocation); err != nil {
			return domain.StopPlan{}, err
		}
	}

	return plan, nil
}
