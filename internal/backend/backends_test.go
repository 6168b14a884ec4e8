package backend

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/devserver-emu/devserver/internal/config"
	"github.com/devserver-emu/devserver/internal/instance"
	"github.com/devserver-emu/devserver/utils"
)

func newTestBackends(t *testing.T, configs ...Config) *Backends {
	config.Set(config.PORTS_BASE, 18100)
	config.Set(config.PORTS_MAX, 18899)
	s := NewBackends(instance.NewPortAllocator(), nil)
	utils.AssertNil(t, s.Configure(configs))
	return s
}

// markServing puts an instance straight into the serving state with its full
// permit budget, bypassing the startup handshake.
func markServing(t *testing.T, s *Backends, name string, idx int) *instance.Instance {
	inst, err := s.Instance(name, idx)
	utils.AssertNil(t, err)
	inst.State().Set(instance.StateRunning)
	inst.Permits().ReleaseN(inst.MaxConcurrent)
	return inst
}

func TestNormalizeDefaultsAndFailFast(t *testing.T) {
	cfg := Config{Name: "b"}
	utils.AssertNil(t, cfg.Normalize())
	utils.AssertEquals(t, DefaultInstances, cfg.Instances)
	utils.AssertEquals(t, DefaultMaxConcurrentRequests, cfg.MaxConcurrentRequests)
	utils.AssertEquals(t, DefaultMaxPendingQueueSize, cfg.MaxPendingQueueSize)

	ff := Config{Name: "b", FailFast: true, MaxPendingQueueSize: 5}
	utils.AssertNil(t, ff.Normalize())
	utils.AssertEquals(t, 0, ff.MaxPendingQueueSize)
	utils.AssertFalse(t, ff.queuingAllowed())

	bad := Config{Name: "b", Instances: -1}
	utils.AssertNonNil(t, bad.Normalize())
	empty := Config{}
	utils.AssertNonNil(t, empty.Normalize())
}

func TestConfigureRejectsDuplicates(t *testing.T) {
	config.Set(config.PORTS_BASE, 18100)
	config.Set(config.PORTS_MAX, 18899)
	s := NewBackends(instance.NewPortAllocator(), nil)
	err := s.Configure([]Config{{Name: "b"}, {Name: "b"}})
	utils.AssertNonNil(t, err)
}

func TestSlotIndexBoundaries(t *testing.T) {
	s := newTestBackends(t, Config{Name: "b", Instances: 2})

	lb, err := s.Instance("b", instance.LoadBalancerIndex)
	utils.AssertNil(t, err)
	utils.AssertTrue(t, lb.IsLoadBalancer())

	first, err := s.Instance("b", 0)
	utils.AssertNil(t, err)
	utils.AssertEquals(t, 0, first.Index)

	last, err := s.Instance("b", 1)
	utils.AssertNil(t, err)
	utils.AssertEquals(t, 1, last.Index)

	_, err = s.Instance("b", 2)
	utils.AssertTrue(t, errors.Is(err, ErrUnknownInstance))
	_, err = s.Instance("b", -2)
	utils.AssertTrue(t, errors.Is(err, ErrUnknownInstance))
	_, err = s.Instance("nope", 0)
	utils.AssertTrue(t, errors.Is(err, ErrUnknownBackend))
}

func TestStartupPosture(t *testing.T) {
	s := newTestBackends(t, Config{Name: "b", Instances: 2, MaxConcurrentRequests: 3})
	utils.AssertNil(t, s.StartupAll())

	lb, _ := s.Instance("b", instance.LoadBalancerIndex)
	utils.AssertEquals(t, instance.StateRunning, lb.State().Get())
	utils.AssertEquals(t, 3, lb.Permits().Available())

	for idx := 0; idx < 2; idx++ {
		inst, _ := s.Instance("b", idx)
		utils.AssertEquals(t, instance.StateSleeping, inst.State().Get())
		utils.AssertEquals(t, 0, inst.Permits().Available())
	}
}

func TestAcquireReleaseRoundTripLaw(t *testing.T) {
	s := newTestBackends(t, Config{Name: "b", Instances: 1, MaxConcurrentRequests: 2})
	markServing(t, s, "b", 0)

	before, err := s.GetApproximateQueueLength("b", 0)
	utils.AssertNil(t, err)

	ok, err := s.AcquireServingPermit("b", 0, true)
	utils.AssertNil(t, err)
	utils.AssertTrue(t, ok)
	utils.AssertNil(t, s.ReleaseServingPermit("b", 0))

	after, err := s.GetApproximateQueueLength("b", 0)
	utils.AssertNil(t, err)
	utils.AssertEquals(t, before, after)
}

func TestAcquireRejectsStoppedInstance(t *testing.T) {
	s := newTestBackends(t, Config{Name: "b", Instances: 1})
	inst, _ := s.Instance("b", 0)
	inst.State().Set(instance.StateStopped)

	ok, err := s.AcquireServingPermit("b", 0, true)
	utils.AssertNil(t, err)
	utils.AssertFalse(t, ok)

	state, err := s.InstanceState("b", 0)
	utils.AssertNil(t, err)
	utils.AssertEquals(t, instance.StateStopped, state)
}

func TestAcquireWakesSleepingInstance(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	s := newTestBackends(t, Config{Name: "b", Instances: 1, MaxConcurrentRequests: 2})
	utils.AssertNil(t, s.StartupAll())

	inst, _ := s.Instance("b", 0)
	host, portStr, _ := net.SplitHostPort(ts.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	inst.Host = host
	inst.SetPort(port)

	ok, err := s.AcquireServingPermit("b", 0, true)
	utils.AssertNil(t, err)
	utils.AssertTrue(t, ok)
	utils.AssertEquals(t, instance.StateRunning, inst.State().Get())

	// one of the two permits is held by us
	utils.AssertEquals(t, 1, inst.Permits().Available())
	utils.AssertNil(t, s.ReleaseServingPermit("b", 0))
	utils.AssertEquals(t, 2, inst.Permits().Available())
}

func TestQueueCapRejectsOutright(t *testing.T) {
	s := newTestBackends(t, Config{Name: "b", Instances: 1, MaxConcurrentRequests: 1})
	inst := markServing(t, s, "b", 0)

	// saturate the single permit, then fill the queue past the cap
	utils.AssertTrue(t, inst.Permits().TryAcquire())
	done := make(chan bool, 25)
	for i := 0; i < 21; i++ {
		go func() {
			done <- inst.Permits().Acquire(5 * time.Second)
		}()
	}
	deadline := time.Now().Add(2 * time.Second)
	for inst.Permits().QueueLength() < 21 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	utils.AssertEquals(t, 21, inst.Permits().QueueLength())

	ok, err := s.AcquireServingPermit("b", 0, true)
	utils.AssertNil(t, err)
	utils.AssertFalse(t, ok)

	// free the queued waiters
	inst.Permits().ReleaseN(21)
	for i := 0; i < 21; i++ {
		utils.AssertTrue(t, <-done)
	}
}

func TestGetAndReserveFreeInstancePicksDistinct(t *testing.T) {
	s := newTestBackends(t, Config{Name: "b", Instances: 2, MaxConcurrentRequests: 1, FailFast: true})
	markServing(t, s, "b", 0)
	markServing(t, s, "b", 1)

	first, ok, err := s.GetAndReserveFreeInstance("b")
	utils.AssertNil(t, err)
	utils.AssertTrue(t, ok)

	second, ok, err := s.GetAndReserveFreeInstance("b")
	utils.AssertNil(t, err)
	utils.AssertTrue(t, ok)
	utils.AssertTrue(t, first != second)

	// both permits are held and fail-fast backends never queue
	_, ok, err = s.GetAndReserveFreeInstance("b")
	utils.AssertNil(t, err)
	utils.AssertFalse(t, ok)
}

func TestShortestQueueFallback(t *testing.T) {
	s := newTestBackends(t, Config{Name: "b", Instances: 2, MaxConcurrentRequests: 1})
	busy := markServing(t, s, "b", 0)
	free := markServing(t, s, "b", 1)

	utils.AssertTrue(t, busy.Permits().TryAcquire())
	utils.AssertTrue(t, free.Permits().TryAcquire())

	// instance 0 has a waiter; the fallback must queue on instance 1
	go busy.Permits().Acquire(5 * time.Second)
	deadline := time.Now().Add(time.Second)
	for busy.Permits().QueueLength() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	result := make(chan int, 1)
	go func() {
		idx, ok, err := s.GetAndReserveFreeInstance("b")
		if err != nil || !ok {
			result <- -100
			return
		}
		result <- idx
	}()

	time.Sleep(50 * time.Millisecond)
	free.Permits().Release()
	busy.Permits().Release()

	select {
	case idx := <-result:
		utils.AssertEquals(t, 1, idx)
	case <-time.After(3 * time.Second):
		t.Fatal("fallback reservation never completed")
	}
}

func TestStopAndStartBackendLifecycle(t *testing.T) {
	s := newTestBackends(t, Config{Name: "b", Instances: 1, MaxConcurrentRequests: 2})
	utils.AssertNil(t, s.StartupAll())
	markServing(t, s, "b", 0)

	utils.AssertNil(t, s.StopBackend("b"))
	lbState, _ := s.InstanceState("b", instance.LoadBalancerIndex)
	utils.AssertEquals(t, instance.StateStopped, lbState)
	instState, _ := s.InstanceState("b", 0)
	utils.AssertEquals(t, instance.StateStopped, instState)

	inst, _ := s.Instance("b", 0)
	utils.AssertEquals(t, 0, inst.Permits().Available())

	// stopping twice fails outright
	utils.AssertNonNil(t, s.StopBackend("b"))

	utils.AssertNil(t, s.StartBackend("b"))
	lbState, _ = s.InstanceState("b", instance.LoadBalancerIndex)
	utils.AssertEquals(t, instance.StateRunning, lbState)
	instState, _ = s.InstanceState("b", 0)
	utils.AssertEquals(t, instance.StateSleeping, instState)

	// starting twice fails outright
	utils.AssertNonNil(t, s.StartBackend("b"))
}

func TestReleaseOnNonServingInstanceIgnored(t *testing.T) {
	s := newTestBackends(t, Config{Name: "b", Instances: 1})
	inst, _ := s.Instance("b", 0)
	inst.State().Set(instance.StateSleeping)

	utils.AssertNil(t, s.ReleaseServingPermit("b", 0))
	utils.AssertEquals(t, 0, inst.Permits().Available())
}

func TestPortMappingPublication(t *testing.T) {
	s := newTestBackends(t, Config{Name: "b", Instances: 2})

	var published map[string]string
	s.OnMappingChange(func(m map[string]string) { published = m })

	utils.AssertNonNil(t, published)
	utils.AssertEquals(t, 3, len(published))
	_, hasLB := published["b"]
	utils.AssertTrue(t, hasLB)
	_, hasFirst := published["0.b"]
	utils.AssertTrue(t, hasFirst)
	_, hasSecond := published["1.b"]
	utils.AssertTrue(t, hasSecond)
}
