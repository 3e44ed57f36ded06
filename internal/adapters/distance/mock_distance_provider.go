package distance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"donation-logistics-service/internal/domain"
	"donation-logistics-service/internal/ports"
)

// MockPair is a fixed distance between two encoded locations ("lat,lon").
type MockPair struct {
	From, To string
	Meters   int
	Seconds  int
}

// MockDistanceProvider answers from a fixed table. Pairs are symmetric.
// Unknown pairs go to the fallback provider when one is set. Failures and
// delays can be injected per destination.
type MockDistanceProvider struct {
	mu       sync.Mutex
	m        map[string]ports.DistanceResult
	failures map[string]error
	delays   map[string]time.Duration
	fallback ports.DistanceProvider
	calls    int
}

// NewMockDistanceProvider panics on a malformed pair location.
func NewMockDistanceProvider(pairs []MockPair) *MockDistanceProvider {
	m := make(map[string]ports.DistanceResult, len(pairs))
	for _, p := range pairs {
		r := ports.DistanceResult{DistanceMeters: p.Meters, DurationSeconds: p.Seconds}
		m[mustKey(p.From)+"|"+mustKey(p.To)] = r
		if _, ok := m[mustKey(p.To)+"|"+mustKey(p.From)]; !ok {
			m[mustKey(p.To)+"|"+mustKey(p.From)] = r
		}
	}
	return &MockDistanceProvider{
		m:        m,
		failures: map[string]error{},
		delays:   map[string]time.Duration{},
	}
}

var _ ports.DistanceProvider = (*MockDistanceProvider)(nil)

// WithFallback answers unknown pairs from fb.
func (p *MockDistanceProvider) WithFallback(fb ports.DistanceProvider) *MockDistanceProvider {
	p.fallback = fb
	return p
}

// FailTo makes every lookup towards location fail with err.
func (p *MockDistanceProvider) FailTo(location string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[mustKey(location)] = err
}

// DelayTo makes every lookup towards location wait d before answering.
func (p *MockDistanceProvider) DelayTo(location string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays[mustKey(location)] = d
}

// Calls is the number of GetDistance calls served so far.
func (p *MockDistanceProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *MockDistanceProvider) GetDistance(ctx context.Context, origin, destination domain.Coordinates) (ports.DistanceResult, error) {
	p.mu.Lock()
	p.calls++
	failure := p.failures[destination.Key()]
	delay := p.delays[destination.Key()]
	r, ok := p.m[origin.Key()+"|"+destination.Key()]
	p.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ports.DistanceResult{}, ctx.Err()
		case <-timer.C:
		}
	}

	if failure != nil {
		return ports.DistanceResult{}, failure
	}
	if origin.Key() == destination.Key() {
		return ports.DistanceResult{}, nil
	}
	if ok {
		return r, nil
	}
	if p.fallback != nil {
		return p.fallback.GetDistance(ctx, origin, destination)
	}

	return ports.DistanceResult{}, fmt.Errorf("missing pair %q -> %q", origin.Key(), destination.Key())
}

func mustKey(location string) string {
	c, ok := domain.ParseLocation(location)
	if !ok {
		panic(fmt.Sprintf("mock distance provider: malformed location %q", location))
	}
	return c.Key()
}
