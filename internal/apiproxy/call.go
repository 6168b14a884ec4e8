package apiproxy

import (
	"sync"
	"time"
)

// Call is the future handed back by MakeAsyncCall. The deadline is enforced
// on the waiter side: Wait races a timer against the real completion, so an
// overdue call surfaces DeadlineExceededError while the service goroutine is
// left to finish (and release resources) on its own.
type Call struct {
	Service string
	Method  string

	deadline time.Duration
	started  time.Time

	release *releaseOnce

	mu        sync.Mutex
	completed bool
	cancelled bool
	result    []byte
	err       error
	done      chan struct{}
}

func newCall(service, method string, deadline time.Duration, release *releaseOnce) *Call {
	return &Call{
		Service:  service,
		Method:   method,
		deadline: deadline,
		started:  time.Now(),
		release:  release,
		done:     make(chan struct{}),
	}
}

// complete records the outcome and releases the concurrency permit. A no-op
// if the call was cancelled first.
func (c *Call) complete(result []byte, err error) {
	c.mu.Lock()
	if c.completed {
		c.mu.Unlock()
		c.release.release()
		return
	}
	c.completed = true
	c.result = result
	c.err = err
	close(c.done)
	c.mu.Unlock()
	c.release.release()
}

// Cancel aborts the call from the caller's perspective. The permit is
// released exactly once regardless of how many cancellations race with each
// other or with normal completion.
func (c *Call) Cancel() {
	c.mu.Lock()
	if !c.completed {
		c.completed = true
		c.cancelled = true
		c.err = &CancelledError{Service: c.Service, Method: c.Method}
		close(c.done)
	}
	c.mu.Unlock()
	c.release.release()
}

// Cancelled reports whether Cancel won the race against completion.
func (c *Call) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// Wait blocks until completion, cancellation or deadline expiry.
func (c *Call) Wait() ([]byte, error) {
	remaining := c.deadline - time.Since(c.started)
	if remaining < 0 {
		remaining = 0
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-c.done:
	case <-timer.C:
		// Re-check: completion may have raced the timer.
		select {
		case <-c.done:
		default:
			return nil, &DeadlineExceededError{
				Service: c.Service,
				Method:  c.Method,
				Seconds: c.deadline.Seconds(),
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.err
}
