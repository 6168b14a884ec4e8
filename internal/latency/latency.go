// Package latency injects production-like delays into API dispatches.
// Profiles are registered per method (or per service as a fallback) when the
// service itself is registered; nothing is resolved at call time beyond a map
// lookup.
package latency

import (
	"math/rand"
	"sync"
	"time"
)

// Percentiles describes the latency distribution of one call in production.
// A zero bucket falls back to the previous one.
type Percentiles struct {
	P50 time.Duration
	P75 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// sample draws a target latency: a uniformly random percentile mapped onto
// the bucket table.
func (p Percentiles) sample(r *rand.Rand) time.Duration {
	draw := r.Float64()
	buckets := []struct {
		upTo  float64
		value time.Duration
	}{
		{0.50, p.P50},
		{0.75, p.P75},
		{0.90, p.P90},
		{0.95, p.P95},
		{1.01, p.P99},
	}
	last := time.Duration(0)
	for _, b := range buckets {
		if b.value > 0 {
			last = b.value
		}
		if draw < b.upTo {
			return last
		}
	}
	return last
}

// Simulator holds the registered profiles. It is a no-op unless enabled
// ("simulate production latencies" configuration).
type Simulator struct {
	mu       sync.RWMutex
	enabled  bool
	profiles map[string]Percentiles
	rand     *rand.Rand
	sleep    func(time.Duration) // swappable in tests
}

func NewSimulator(enabled bool) *Simulator {
	return &Simulator{
		enabled:  enabled,
		profiles: make(map[string]Percentiles),
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:    time.Sleep,
	}
}

func (s *Simulator) Enabled() bool {
	return s.enabled
}

// Register binds a latency profile to a key, either "service.Method" or the
// bare service name for service-wide granularity.
func (s *Simulator) Register(key string, p Percentiles) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[key] = p
}

// Profile resolves the percentile table for a call: method granularity wins
// over service granularity.
func (s *Simulator) Profile(service, method string) (Percentiles, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[service+"."+method]; ok {
		return p, true
	}
	p, ok := s.profiles[service]
	return p, ok
}

// Simulate sleeps long enough that the call's total duration matches a
// sampled percentile, net of the time the call has already spent.
func (s *Simulator) Simulate(service, method string, elapsed time.Duration) {
	if !s.enabled {
		return
	}
	p, ok := s.Profile(service, method)
	if !ok {
		return
	}
	s.mu.Lock()
	target := p.sample(s.rand)
	s.mu.Unlock()
	if remaining := target - elapsed; remaining > 0 {
		s.sleep(remaining)
	}
}
