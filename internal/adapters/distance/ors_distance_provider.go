package distance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"donation-logistics-service/internal/domain"
	"donation-logistics-service/internal/platform/obs"
	"donation-logistics-service/internal/ports"

	"go.uber.org/zap"
)

// ORSDistanceProvider implements DistanceProvider using OpenRouteService.
//
// It coordinates:
//   - Persistent distance matrix caching
//   - External API calls with retry/backoff
//
// Locations already carry coordinates, so no geocoding happens here.
// The provider is safe for concurrent use.
type ORSDistanceProvider struct {
	session       *http.Client
	apiKey        string
	baseURL       string
	profile       string
	distanceCache ports.DistanceCache
	retry         retryPolicy
	log           *zap.Logger
}

// ErrNoRoute means the routing engine found no drivable path.
var ErrNoRoute = errors.New("no route between locations")

type ORSOption func(*ORSDistanceProvider)

// WithBaseURL points the provider at another ORS deployment.
func WithBaseURL(url string) ORSOption {
	return func(o *ORSDistanceProvider) { o.baseURL = strings.TrimRight(url, "/") }
}

func WithHTTPClient(c *http.Client) ORSOption {
	return func(o *ORSDistanceProvider) { o.session = c }
}

func NewORSDistanceProvider(
	apiKey string,
	distanceCache ports.DistanceCache,
	log *zap.Logger,
	opts ...ORSOption,
) (*ORSDistanceProvider, error) {
	if apiKey == "" {
		return nil, errors.New("ORS api key is empty")
	}
	if log == nil {
		log = zap.NewNop()
	}

	provider := &ORSDistanceProvider{
		session:       &http.Client{Timeout: 10 * time.Second},
		apiKey:        apiKey,
		baseURL:       "https://api.openrouteservice.org",
		profile:       "driving-car",
		distanceCache: distanceCache,
		retry:         defaultRetryPolicy,
		log:           log,
	}
	for _, opt := range opts {
		opt(provider)
	}

	return provider, nil
}

var _ ports.DistanceMatrixProvider = (*ORSDistanceProvider)(nil)

// Delegate to batched path to reuse caching and matrix logic.
func (o *ORSDistanceProvider) GetDistance(
	ctx context.Context,
	origin domain.Coordinates,
	destination domain.Coordinates,
) (ports.DistanceResult, error) {
	results, err := o.GetDistances(ctx, origin, []domain.Coordinates{destination})
	if err != nil {
		return ports.DistanceResult{}, fmt.Errorf(
			"get distances %q -> %q: %w",
			origin.Key(), destination.Key(), err,
		)
	}

	result, ok := results[destination.Key()]
	if !ok {
		return ports.DistanceResult{}, fmt.Errorf("%q -> %q: %w", origin.Key(), destination.Key(), ErrNoRoute)
	}

	return result, nil
}

// Compute distances from a single origin to many destinations. Destinations
// without a route are left out of the result; only reachable results are
// cached.
func (o *ORSDistanceProvider) GetDistances(
	ctx context.Context,
	origin domain.Coordinates,
	destinations []domain.Coordinates,
) (_ map[string]ports.DistanceResult, err error) {
	defer obs.Time(ctx, "ors.GetDistances")(&err)

	out := make(map[string]ports.DistanceResult, len(destinations))
	if len(destinations) == 0 {
		return out, nil
	}

	originKey := origin.Key()

	seen := make(map[string]struct{}, len(destinations))
	destList := make([]string, 0, len(destinations))
	coordsByKey := make(map[string]domain.Coordinates, len(destinations))
	for _, d := range destinations {
		k := d.Key()
		if k == originKey {
			out[k] = ports.DistanceResult{}
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}

		seen[k] = struct{}{}
		destList = append(destList, k)
		coordsByKey[k] = d
	}

	if len(destList) == 0 {
		return out, nil
	}

	// Check persistent distance cache before issuing external API calls.
	// A failing cache degrades to a miss.
	if o.distanceCache != nil {
		hits, err := o.distanceCache.GetMany(ctx, originKey, destList)
		if err != nil {
			o.log.Warn("distance cache read failed", zap.String("origin", originKey), zap.Error(err))
		}
		for k, v := range hits {
			out[k] = v
		}
	}

	destinationMisses := make([]string, 0, len(destList))
	destinationCoords := make([]domain.Coordinates, 0, len(destList))
	for _, d := range destList {
		if _, ok := out[d]; !ok {
			destinationMisses = append(destinationMisses, d)
			destinationCoords = append(destinationCoords, coordsByKey[d])
		}
	}

	if len(destinationMisses) == 0 {
		return out, nil
	}

	// Fetch origin->many matrix rows for all cache misses.
	fetched, unreachable, err := o.fetchMatrixRow(ctx, origin, destinationMisses, destinationCoords)
	if err != nil {
		return nil, fmt.Errorf("fetching matrix row: %w", err)
	}
	if len(unreachable) > 0 {
		o.log.Info("ORS has no route to some destinations",
			zap.String("origin", originKey),
			zap.Strings("destinations", unreachable),
		)
	}

	if o.distanceCache != nil {
		if err := o.distanceCache.PutMany(ctx, originKey, fetched); err != nil {
			o.log.Warn("distance cache write failed", zap.String("origin", originKey), zap.Error(err))
		}
	}

	for k, v := range fetched {
		out[k] = v
	}

	return out, nil
}
