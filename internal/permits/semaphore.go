// Package permits implements the counting semaphore backing serving-permit
// admission control. Instances start with zero permits; the startup handshake
// releases up to maxConcurrentRequests of them.
package permits

import (
	"container/list"
	"sync"
	"time"
)

// Semaphore is a counting semaphore with FIFO hand-off to waiters, bounded
// waits and queue-length introspection. A released permit goes to the longest
// waiter first, so waiters of one semaphore observe FIFO-ish ordering; no
// ordering is guaranteed across semaphores.
type Semaphore struct {
	mu      sync.Mutex
	permits int
	waiters *list.List // list of chan struct{}, each buffered 1
}

func NewSemaphore() *Semaphore {
	return &Semaphore{waiters: list.New()}
}

// TryAcquire takes a permit without waiting.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.permits > 0 {
		s.permits--
		return true
	}
	return false
}

// Acquire takes a permit, waiting up to the given budget. A non-positive
// budget degenerates to TryAcquire.
func (s *Semaphore) Acquire(budget time.Duration) bool {
	s.mu.Lock()
	if s.permits > 0 {
		s.permits--
		s.mu.Unlock()
		return true
	}
	if budget <= 0 {
		s.mu.Unlock()
		return false
	}

	ready := make(chan struct{}, 1)
	elem := s.waiters.PushBack(ready)
	s.mu.Unlock()

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case <-ready:
		return true
	case <-timer.C:
	}

	// Timed out. A release may still have handed us a permit between the
	// timer firing and this lock: hand-off and removal are both done under
	// the lock, so whichever happens is unambiguous here.
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-ready:
		return true
	default:
		s.waiters.Remove(elem)
		return false
	}
}

// AcquireBlocking takes a permit, waiting with no bound. Used where the
// caller's own deadline machinery limits the wait instead.
func (s *Semaphore) AcquireBlocking() {
	s.mu.Lock()
	if s.permits > 0 {
		s.permits--
		s.mu.Unlock()
		return
	}
	ready := make(chan struct{}, 1)
	s.waiters.PushBack(ready)
	s.mu.Unlock()
	<-ready
}

// Release returns one permit, handing it to the longest waiter if any.
// Must be paired 1:1 with a successful acquire (or used to grant initial
// capacity after the startup handshake).
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.waiters.Len() > 0 {
		elem := s.waiters.Front()
		s.waiters.Remove(elem)
		ready := elem.Value.(chan struct{})
		// The waiter may have timed out but not unregistered yet; its
		// buffered channel still absorbs the permit and the waiter
		// consumes it under the lock, so the permit is never lost.
		ready <- struct{}{}
		return
	}
	s.permits++
}

// ReleaseN returns n permits.
func (s *Semaphore) ReleaseN(n int) {
	for i := 0; i < n; i++ {
		s.Release()
	}
}

// Drain removes all currently available permits and returns how many were
// taken. Waiters are not affected.
func (s *Semaphore) Drain() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	taken := s.permits
	s.permits = 0
	return taken
}

// QueueLength returns the approximate number of goroutines waiting for a
// permit. The value is stale as soon as it is read.
func (s *Semaphore) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.Len()
}

// Available returns the number of free permits.
func (s *Semaphore) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permits
}
