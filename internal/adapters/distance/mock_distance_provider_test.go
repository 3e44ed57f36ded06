package distance

import (
	"context"
	"errors"
	"testing"
	"time"

	"donation-logistics-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coords(t *testing.T, loc string) domain.Coordinates {
	t.Helper()
	c, ok := domain.ParseLocation(loc)
	require.True(t, ok, loc)
	return c
}

func TestMockDistanceProvider(t *testing.T) {
	p := NewMockDistanceProvider([]MockPair{
		{From: "10.0,106.0", To: "10.1,106.0", Meters: 1200, Seconds: 180},
	})
	ctx := context.Background()

	r, err := p.GetDistance(ctx, coords(t, "10.0,106.0"), coords(t, "10.1,106.0"))
	require.NoError(t, err)
	assert.Equal(t, 1200, r.DistanceMeters)

	r, err = p.GetDistance(ctx, coords(t, "10.1,106.0"), coords(t, "10.0,106.0"))
	require.NoError(t, err)
	assert.Equal(t, 1200, r.DistanceMeters, "pairs are symmetric")

	_, err = p.GetDistance(ctx, coords(t, "10.0,106.0"), coords(t, "11.0,106.0"))
	assert.Error(t, err)

	p.WithFallback(StraightLineProvider{})
	r, err = p.GetDistance(ctx, coords(t, "10.0,106.0"), coords(t, "11.0,106.0"))
	require.NoError(t, err)
	assert.Greater(t, r.DistanceMeters, 100000)
	assert.Equal(t, 4, p.Calls())
}

func TestMockDistanceProviderInjection(t *testing.T) {
	p := NewMockDistanceProvider(nil).WithFallback(StraightLineProvider{})
	boom := errors.New("boom")
	p.FailTo("10.5,106.5", boom)
	p.DelayTo("10.6,106.6", time.Second)

	_, err := p.GetDistance(context.Background(), coords(t, "10,106"), coords(t, "10.5,106.5"))
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.GetDistance(ctx, coords(t, "10,106"), coords(t, "10.6,106.6"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHaversine(t *testing.T) {
	// One degree of latitude is about 111.2 km.
	d := Haversine(domain.Coordinates{Lat: 0, Lon: 0}, domain.Coordinates{Lat: 1, Lon: 0})
	assert.InDelta(t, 111195, d, 50)
}
