package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"donation-logistics-service/internal/adapters/distance"
	"donation-logistics-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var geoBranches = []domain.Branch{
	{ID: "b1", Location: locBranch1, Active: true},
	{ID: "b2", Location: locBranch2, Active: true},
	{ID: "b3", Location: locBranch3, Active: true},
}

func geoProvider() *distance.MockDistanceProvider {
	return distance.NewMockDistanceProvider([]distance.MockPair{
		{From: locDonor, To: locBranch1, Meters: 4000, Seconds: 400},
		{From: locDonor, To: locBranch2, Meters: 2500, Seconds: 250},
		{From: locDonor, To: locBranch3, Meters: 12000, Seconds: 1200},
		{From: locBranch1, To: locBranch2, Meters: 6000, Seconds: 600},
		{From: locBranch1, To: locBranch3, Meters: 40000, Seconds: 4000},
	})
}

func branchIDs(bds []BranchDistance) []string {
	out := make([]string, 0, len(bds))
	for _, bd := range bds {
		out = append(out, bd.Branch.ID)
	}
	return out
}

func TestNearbyAndNearestBranches(t *testing.T) {
	geo := NewGeoMatcher(geoProvider(), DefaultGeoMatcherConfig(), nil)

	m := geo.NearbyAndNearestBranches(context.Background(), locDonor, geoBranches, nil)

	require.NotNil(t, m.Nearest)
	assert.Equal(t, "b2", m.Nearest.Branch.ID)
	assert.Equal(t, []string{"b2", "b1"}, branchIDs(m.WithinRadius))
	assert.Empty(t, m.Excluded)
	assert.Len(t, m.Candidates(), 2)
}

func TestNearbyAndNearestBranchesFallsBackToNearest(t *testing.T) {
	geo := NewGeoMatcher(geoProvider(), GeoMatcherConfig{NearbyRadiusMeters: 1000}, nil)

	m := geo.NearbyAndNearestBranches(context.Background(), locDonor, geoBranches, nil)

	assert.Empty(t, m.WithinRadius)
	require.NotNil(t, m.Nearest)
	assert.Equal(t, "b2", m.Nearest.Branch.ID)

	candidates := m.Candidates()
	require.Len(t, candidates, 1)
	assert.Equal(t, "b2", candidates[0].ID)
}

func TestNearbyAndNearestBranchesRadiusOverride(t *testing.T) {
	geo := NewGeoMatcher(geoProvider(), DefaultGeoMatcherConfig(), nil)

	radius := 3000
	m := geo.NearbyAndNearestBranches(context.Background(), locDonor, geoBranches, &radius)
	assert.Equal(t, []string{"b2"}, branchIDs(m.WithinRadius))

	radius = 2000
	m = geo.NearbyAndNearestBranches(context.Background(), locDonor, geoBranches, &radius)
	assert.Nil(t, m.Nearest)
	assert.Empty(t, m.Candidates())
}

func TestNearbyAndNearestBranchesSkipsInactive(t *testing.T) {
	geo := NewGeoMatcher(geoProvider(), DefaultGeoMatcherConfig(), nil)

	branches := append([]domain.Branch(nil), geoBranches...)
	branches[1].Active = false

	m := geo.NearbyAndNearestBranches(context.Background(), locDonor, branches, nil)
	require.NotNil(t, m.Nearest)
	assert.Equal(t, "b1", m.Nearest.Branch.ID)
}

func TestNearbyAndNearestBranchesMalformedLocation(t *testing.T) {
	provider := geoProvider()
	geo := NewGeoMatcher(provider, DefaultGeoMatcherConfig(), nil)

	m := geo.NearbyAndNearestBranches(context.Background(), "somewhere downtown", geoBranches, nil)
	assert.Nil(t, m.Nearest)
	assert.Empty(t, m.WithinRadius)
	assert.Zero(t, provider.Calls())
}

func TestNearbyAndNearestBranchesTimeoutExcludesBranch(t *testing.T) {
	provider := geoProvider()
	provider.DelayTo(locBranch2, time.Second)
	geo := NewGeoMatcher(provider, GeoMatcherConfig{Timeout: 50 * time.Millisecond}, nil)

	m := geo.NearbyAndNearestBranches(context.Background(), locDonor, geoBranches, nil)

	require.NotNil(t, m.Nearest)
	assert.Equal(t, "b1", m.Nearest.Branch.ID)
	assert.Equal(t, []string{"b1"}, branchIDs(m.WithinRadius))

	require.Len(t, m.Excluded, 1)
	assert.Equal(t, "b2", m.Excluded[0].BranchID)
	assert.ErrorIs(t, m.Excluded[0].Reason, domain.ErrProviderUnavailable)
	assert.ErrorIs(t, m.Excluded[0].Reason, context.DeadlineExceeded)
}

func TestNearbyAndNearestBranchesProviderFailure(t *testing.T) {
	provider := geoProvider()
	provider.FailTo(locBranch1, errors.New("quota exceeded"))
	geo := NewGeoMatcher(provider, DefaultGeoMatcherConfig(), nil)

	m := geo.NearbyAndNearestBranches(context.Background(), locDonor, geoBranches, nil)

	assert.Equal(t, []string{"b2"}, branchIDs(m.WithinRadius))
	require.Len(t, m.Excluded, 1)
	assert.Equal(t, "b1", m.Excluded[0].BranchID)
}

func TestReachableFromBranch(t *testing.T) {
	geo := NewGeoMatcher(geoProvider(), DefaultGeoMatcherConfig(), nil)

	m := geo.ReachableFromBranch(context.Background(), geoBranches[0], geoBranches, nil)

	require.NotNil(t, m.Nearest)
	assert.Equal(t, "b2", m.Nearest.Branch.ID)
	// b3 is beyond the max radius from b1.
	assert.Equal(t, []string{"b2"}, branchIDs(m.WithinRadius))
	for _, bd := range m.WithinRadius {
		assert.NotEqual(t, "b1", bd.Branch.ID)
	}
}

func TestCheckFeasible(t *testing.T) {
	geo := NewGeoMatcher(geoProvider(), DefaultGeoMatcherConfig(), nil)
	ctx := context.Background()

	require.NoError(t, geo.CheckFeasible(ctx, locBranch1, locBranch2))

	err := geo.CheckFeasible(ctx, locBranch1, locBranch3)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = geo.Distance(ctx, "nowhere", locBranch1)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDistanceSameLocationSkipsProvider(t *testing.T) {
	provider := geoProvider()
	geo := NewGeoMatcher(provider, DefaultGeoMatcherConfig(), nil)

	d, err := geo.Distance(context.Background(), locBranch1, "10.0,106.0-same place other label")
	require.NoError(t, err)
	assert.Zero(t, d.DistanceMeters)
	assert.Zero(t, provider.Calls())
}
