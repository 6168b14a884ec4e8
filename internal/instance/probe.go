package instance

import (
	"fmt"
	"log"
	"net/http"
	"time"
)

// SkipAdminCheckHeader bypasses admin-auth on internally generated requests.
const SkipAdminCheckHeader = "X-Google-DevAppserver-SkipAdminCheck"

// StartPath is the startup handshake URI probed on a waking instance.
const StartPath = "/_ah/start"

const probeRetryInterval = 1 * time.Second

// SendStartRequest wakes a sleeping instance. The SLEEPING ->
// RUNNING_START_REQUEST transition and the decision to fire the probe happen
// under the holder's monitor; losing that race to another thread is benign
// and only logged. The probe loop runs on its own goroutine and keeps
// retrying until the instance answers; onSuccess then runs exactly once
// (used to release the serving-permit semaphore).
func SendStartRequest(inst *Instance, onSuccess func()) {
	var started bool
	inst.State().Locked(func(view *LockedState) {
		_, started = view.TestAndSet(StateRunningStartRequest, StateSleeping)
	})
	if !started {
		log.Printf("start request for %s already in flight", inst)
		return
	}

	RunStartProbe(inst, onSuccess)
}

// RunStartProbe fires the probe loop for an instance already moved to
// RUNNING_START_REQUEST by the caller (who held the state monitor while
// deciding to do so).
func RunStartProbe(inst *Instance, onSuccess func()) {
	go runStartProbe(inst, onSuccess)
}

func runStartProbe(inst *Instance, onSuccess func()) {
	url := fmt.Sprintf("http://%s%s", inst.Address(), StartPath)
	for {
		if !probeOnce(url) {
			if !inst.State().Test(StateRunningStartRequest) {
				log.Printf("abandoning start probe for %s: %s", inst, inst.State().Get())
				return
			}
			time.Sleep(probeRetryInterval)
			continue
		}

		prior, ok := inst.State().TestAndSet(StateRunning, StateRunningStartRequest)
		if !ok {
			// Shut down while the request was in flight.
			log.Printf("start probe for %s completed in state %s", inst, prior)
			return
		}
		onSuccess()
		return
	}
}

// probeOnce sends one handshake request. Any 2xx answer is a success; so is
// 404, meaning the app serves traffic but registers no start handler.
func probeOnce(url string) bool {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set(SkipAdminCheckHeader, "true")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return (resp.StatusCode >= 200 && resp.StatusCode < 300) || resp.StatusCode == http.StatusNotFound
}

// Shutdown tears an instance down: the user shutdown hook runs first (its
// failure is logged, never fatal), then the backing container is destroyed by
// the caller-supplied stop function, then the state becomes SHUTDOWN. The
// whole sequence holds the state monitor so no admission check observes a
// half-stopped instance.
func Shutdown(inst *Instance, stopRuntime func(*Instance) error) {
	inst.State().Locked(func(view *LockedState) {
		if hook := inst.ShutdownHook; hook != nil {
			if err := hook(); err != nil {
				log.Printf("shutdown hook for %s failed: %v", inst, err)
			}
		}
		if stopRuntime != nil {
			if err := stopRuntime(inst); err != nil {
				log.Printf("stopping runtime for %s failed: %v", inst, err)
			}
		}
		view.Set(StateShutdown)
	})
}
