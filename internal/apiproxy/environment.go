package apiproxy

import (
	"sync"

	"github.com/devserver-emu/devserver/internal/permits"
	"github.com/lithammer/shortuuid"
)

// Environment is the per-request attribute bag an API call runs under. Its
// lifetime is one inbound HTTP request (or one background goroutine).
type Environment struct {
	RequestID string
	Module    string
	Version   string
	Instance  int
	Port      int

	// Deadline is the per-call override, in seconds. Zero means "use the
	// service default".
	Deadline float64

	// callPermits bounds concurrent in-flight API calls of this request.
	// A nil semaphore means unlimited concurrency; initialization paths
	// run without one.
	callPermits *permits.Semaphore
}

// NewEnvironment builds an environment with a fresh request id and a
// concurrency cap of maxConcurrentCalls (non-positive = unlimited).
func NewEnvironment(module string, instanceIdx int, port int, maxConcurrentCalls int) *Environment {
	env := &Environment{
		RequestID: shortuuid.New(),
		Module:    module,
		Instance:  instanceIdx,
		Port:      port,
	}
	if maxConcurrentCalls > 0 {
		env.callPermits = permits.NewSemaphore()
		env.callPermits.ReleaseN(maxConcurrentCalls)
	}
	return env
}

// releaseOnce pairs a semaphore acquisition with at-most-one release, no
// matter how completion and cancellation race.
type releaseOnce struct {
	mu       sync.Mutex
	sem      *permits.Semaphore
	released bool
}

func (r *releaseOnce) release() {
	if r.sem == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.released {
		r.released = true
		r.sem.Release()
	}
}
