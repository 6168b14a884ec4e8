package latency

import (
	"testing"
	"time"

	"github.com/devserver-emu/devserver/utils"
)

func TestProfileResolutionGranularity(t *testing.T) {
	s := NewSimulator(true)
	s.Register("memcache", Percentiles{P50: 1 * time.Millisecond})
	s.Register("memcache.Set", Percentiles{P50: 5 * time.Millisecond})

	p, ok := s.Profile("memcache", "Set")
	utils.AssertTrue(t, ok)
	utils.AssertEquals(t, 5*time.Millisecond, p.P50)

	p, ok = s.Profile("memcache", "Get")
	utils.AssertTrue(t, ok)
	utils.AssertEquals(t, 1*time.Millisecond, p.P50)

	_, ok = s.Profile("datastore", "Put")
	utils.AssertFalse(t, ok)
}

func TestSimulateSleepsRemainingTime(t *testing.T) {
	s := NewSimulator(true)
	s.Register("svc", Percentiles{P50: 100 * time.Millisecond})

	var slept time.Duration
	s.sleep = func(d time.Duration) { slept += d }

	// every percentile bucket falls back to P50 here
	s.Simulate("svc", "M", 30*time.Millisecond)
	utils.AssertEquals(t, 70*time.Millisecond, slept)

	// a call already over the target sleeps nothing
	slept = 0
	s.Simulate("svc", "M", 200*time.Millisecond)
	utils.AssertEquals(t, time.Duration(0), slept)
}

func TestDisabledSimulatorIsNoOp(t *testing.T) {
	s := NewSimulator(false)
	s.Register("svc", Percentiles{P50: time.Hour})

	var slept time.Duration
	s.sleep = func(d time.Duration) { slept += d }
	s.Simulate("svc", "M", 0)
	utils.AssertEquals(t, time.Duration(0), slept)
	utils.AssertFalse(t, s.Enabled())
}

func TestPercentileBucketFallback(t *testing.T) {
	p := Percentiles{P50: 2 * time.Millisecond, P99: 50 * time.Millisecond}
	s := NewSimulator(true)
	s.Register("svc", p)

	// with only P50 and P99 set, any draw resolves to one of the two
	for i := 0; i < 100; i++ {
		got := p.sample(s.rand)
		utils.AssertTrue(t, got == 2*time.Millisecond || got == 50*time.Millisecond)
	}
}
