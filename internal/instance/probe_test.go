package instance

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devserver-emu/devserver/utils"
)

// pointAt aims an instance at a test HTTP server.
func pointAt(t *testing.T, inst *Instance, ts *httptest.Server) {
	host, portStr, err := net.SplitHostPort(ts.Listener.Addr().String())
	utils.AssertNil(t, err)
	port, err := strconv.Atoi(portStr)
	utils.AssertNil(t, err)
	inst.Host = host
	inst.SetPort(port)
}

func waitForState(t *testing.T, inst *Instance, want State) {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if inst.State().Get() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("instance never reached %s, still %s", want, inst.State().Get())
}

func TestStartRequestTreats404AsSuccess(t *testing.T) {
	var probes int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&probes, 1)
		utils.AssertEquals(t, StartPath, r.URL.Path)
		utils.AssertEquals(t, "true", r.Header.Get(SkipAdminCheckHeader))
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	inst := New("web", 0, 8)
	pointAt(t, inst, ts)
	inst.State().Set(StateSleeping)

	var successes int32
	SendStartRequest(inst, func() { atomic.AddInt32(&successes, 1) })

	waitForState(t, inst, StateRunning)
	utils.AssertEquals(t, int32(1), atomic.LoadInt32(&successes))
	utils.AssertTrue(t, atomic.LoadInt32(&probes) >= 1)
}

func TestStartRequestIgnoredWhenNotSleeping(t *testing.T) {
	inst := New("web", 0, 8)
	inst.State().Set(StateRunning)

	var successes int32
	SendStartRequest(inst, func() { atomic.AddInt32(&successes, 1) })

	time.Sleep(50 * time.Millisecond)
	utils.AssertEquals(t, StateRunning, inst.State().Get())
	utils.AssertEquals(t, int32(0), atomic.LoadInt32(&successes))
}

func TestStartRequest2xxSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	inst := New("web", 1, 4)
	pointAt(t, inst, ts)
	inst.State().Set(StateSleeping)

	var successes int32
	SendStartRequest(inst, func() { atomic.AddInt32(&successes, 1) })

	waitForState(t, inst, StateRunning)
	utils.AssertEquals(t, int32(1), atomic.LoadInt32(&successes))
}

func TestShutdownRunsHookAndSurvivesHookFailure(t *testing.T) {
	inst := New("web", 0, 8)
	inst.State().Set(StateRunning)

	var hookRuns, stops int32
	inst.ShutdownHook = func() error {
		atomic.AddInt32(&hookRuns, 1)
		return http.ErrServerClosed // hook failures are logged, never fatal
	}

	Shutdown(inst, func(*Instance) error {
		atomic.AddInt32(&stops, 1)
		return nil
	})

	utils.AssertEquals(t, StateShutdown, inst.State().Get())
	utils.AssertEquals(t, int32(1), atomic.LoadInt32(&hookRuns))
	utils.AssertEquals(t, int32(1), atomic.LoadInt32(&stops))
}
