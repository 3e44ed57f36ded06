package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"donation-logistics-service/internal/domain"
	"donation-logistics-service/internal/ports"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type GeoMatcherConfig struct {
	// Absolute limit for the nearest branch and for leg feasibility.
	MaxRadiusMeters int
	// Default threshold of the within-radius set.
	NearbyRadiusMeters int
	// Bound on every provider call. A timeout counts as a provider failure.
	Timeout time.Duration
	// Maximum number of provider calls in flight per matching pass.
	Concurrency int
}

func DefaultGeoMatcherConfig() GeoMatcherConfig {
	return GeoMatcherConfig{
		MaxRadiusMeters:    30000,
		NearbyRadiusMeters: 10000,
		Timeout:            5 * time.Second,
		Concurrency:        8,
	}
}

// GeoMatcher resolves branches around a location through the distance provider.
type GeoMatcher struct {
	provider ports.DistanceProvider
	cfg      GeoMatcherConfig
	log      *zap.Logger
}

func NewGeoMatcher(provider ports.DistanceProvider, cfg GeoMatcherConfig, log *zap.Logger) *GeoMatcher {
	def := DefaultGeoMatcherConfig()
	if cfg.MaxRadiusMeters <= 0 {
		cfg.MaxRadiusMeters = def.MaxRadiusMeters
	}
	if cfg.NearbyRadiusMeters <= 0 {
		cfg.NearbyRadiusMeters = def.NearbyRadiusMeters
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GeoMatcher{provider: provider, cfg: cfg, log: log}
}

type BranchDistance struct {
	Branch          domain.Branch
	DistanceMeters  int
	DurationSeconds int
}

// ExcludedBranch is a candidate left out of a match because its distance
// could not be resolved.
type ExcludedBranch struct {
	BranchID string
	Reason   error
}

// BranchMatch is the partial-result outcome of a matching pass. Excluded
// lists the candidates whose lookup failed; they never fail the pass.
type BranchMatch struct {
	Nearest      *BranchDistance
	WithinRadius []BranchDistance
	Excluded     []ExcludedBranch
}

// Candidates is the branch set offers go to: the within-radius branches,
// or the nearest one alone when none is that close.
func (m BranchMatch) Candidates() []domain.Branch {
	if len(m.WithinRadius) > 0 {
		out := make([]domain.Branch, 0, len(m.WithinRadius))
		for _, bd := range m.WithinRadius {
			out = append(out, bd.Branch)
		}
		return out
	}
	if m.Nearest != nil {
		return []domain.Branch{m.Nearest.Branch}
	}
	return nil
}

// NearbyAndNearestBranches measures location against every active candidate.
// A malformed location yields an empty match.
func (g *GeoMatcher) NearbyAndNearestBranches(
	ctx context.Context,
	location string,
	candidates []domain.Branch,
	radiusMeters *int,
) BranchMatch {
	origin, ok := domain.ParseLocation(location)
	if !ok {
		g.log.Debug("geo match skipped: malformed location", zap.String("location", location))
		return BranchMatch{}
	}
	return g.match(ctx, origin, candidates, radiusMeters, "")
}

// ReachableFromBranch runs the same match from a branch's own location,
// leaving the branch itself out.
func (g *GeoMatcher) ReachableFromBranch(
	ctx context.Context,
	origin domain.Branch,
	candidates []domain.Branch,
	radiusMeters *int,
) BranchMatch {
	c, ok := domain.ParseLocation(origin.Location)
	if !ok {
		g.log.Debug("geo match skipped: malformed branch location",
			zap.String("branch_id", origin.ID), zap.String("location", origin.Location))
		return BranchMatch{}
	}
	return g.match(ctx, c, candidates, radiusMeters, origin.ID)
}

type lookupResult struct {
	res ports.DistanceResult
	err error
}

func (g *GeoMatcher) match(
	ctx context.Context,
	origin domain.Coordinates,
	candidates []domain.Branch,
	radiusMeters *int,
	skipID string,
) BranchMatch {
	active := make([]domain.Branch, 0, len(candidates))
	for _, b := range candidates {
		if b.Active && b.ID != skipID {
			active = append(active, b)
		}
	}

	results := make([]lookupResult, len(active))

	var eg errgroup.Group
	eg.SetLimit(g.cfg.Concurrency)
	for i, b := range active {
		eg.Go(func() error {
			dest, ok := domain.ParseLocation(b.Location)
			if !ok {
				results[i].err = domain.NewValidationError("location", "branch location %q is malformed", b.Location)
				return nil
			}
			results[i].res, results[i].err = g.lookup(ctx, origin, dest)
			return nil
		})
	}
	_ = eg.Wait()

	maxRadius := g.cfg.MaxRadiusMeters
	nearby := g.cfg.NearbyRadiusMeters
	if radiusMeters != nil && *radiusMeters > 0 {
		maxRadius = *radiusMeters
		nearby = min(nearby, maxRadius)
	}

	var m BranchMatch
	measured := make([]BranchDistance, 0, len(active))
	for i, b := range active {
		if err := results[i].err; err != nil {
			g.log.Warn("branch excluded from geo match",
				zap.String("branch_id", b.ID), zap.Error(err))
			m.Excluded = append(m.Excluded, ExcludedBranch{BranchID: b.ID, Reason: err})
			continue
		}
		measured = append(measured, BranchDistance{
			Branch:          b,
			DistanceMeters:  results[i].res.DistanceMeters,
			DurationSeconds: results[i].res.DurationSeconds,
		})
	}

	sort.Slice(measured, func(i, j int) bool {
		if measured[i].DistanceMeters != measured[j].DistanceMeters {
			return measured[i].DistanceMeters < measured[j].DistanceMeters
		}
		return measured[i].Branch.ID < measured[j].Branch.ID
	})

	for _, bd := range measured {
		if bd.DistanceMeters > maxRadius {
			break
		}
		if m.Nearest == nil {
			nearest := bd
			m.Nearest = &nearest
		}
		if bd.DistanceMeters <= nearby {
			m.WithinRadius = append(m.WithinRadius, bd)
		}
	}

	return m
}

// lookup makes one bounded provider call. Any failure, timeout included,
// comes back wrapped in domain.ErrProviderUnavailable.
func (g *GeoMatcher) lookup(ctx context.Context, from, to domain.Coordinates) (ports.DistanceResult, error) {
	if from.Key() == to.Key() {
		return ports.DistanceResult{}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	res, err := g.provider.GetDistance(callCtx, from, to)
	if err != nil {
		return ports.DistanceResult{}, fmt.Errorf("distance %s -> %s: %w: %w", from.Key(), to.Key(), domain.ErrProviderUnavailable, err)
	}
	return res, nil
}

// Distance is a point-to-point lookup between two encoded locations.
func (g *GeoMatcher) Distance(ctx context.Context, from, to string) (ports.DistanceResult, error) {
	a, ok := domain.ParseLocation(from)
	if !ok {
		return ports.DistanceResult{}, domain.NewValidationError("from", "malformed location %q", from)
	}
	b, ok := domain.ParseLocation(to)
	if !ok {
		return ports.DistanceResult{}, domain.NewValidationError("to", "malformed location %q", to)
	}
	return g.lookup(ctx, a, b)
}

// CheckFeasible fails with a validation error when to lies beyond the
// absolute max radius from from.
func (g *GeoMatcher) CheckFeasible(ctx context.Context, from, to string) error {
	d, err := g.Distance(ctx, from, to)
	if err != nil {
		return err
	}
	if d.DistanceMeters > g.cfg.MaxRadiusMeters {
		return domain.NewValidationError("location",
			"%d m from %q to %q exceeds the max radius of %d m", d.DistanceMeters, from, to, g.cfg.MaxRadiusMeters)
	}
	return nil
}
