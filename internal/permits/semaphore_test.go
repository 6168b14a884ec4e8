package permits

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devserver-emu/devserver/utils"
)

func TestTryAcquireExhaustsPermits(t *testing.T) {
	s := NewSemaphore()
	s.ReleaseN(3)

	utils.AssertEquals(t, 3, s.Available())
	utils.AssertTrue(t, s.TryAcquire())
	utils.AssertTrue(t, s.TryAcquire())
	utils.AssertTrue(t, s.TryAcquire())
	utils.AssertFalse(t, s.TryAcquire())

	s.Release()
	utils.AssertTrue(t, s.TryAcquire())
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	s := NewSemaphore()
	s.ReleaseN(1)

	before := s.QueueLength()
	utils.AssertTrue(t, s.Acquire(time.Second))
	s.Release()
	utils.AssertEquals(t, before, s.QueueLength())
	utils.AssertEquals(t, 1, s.Available())
}

func TestAcquireTimesOut(t *testing.T) {
	s := NewSemaphore()

	start := time.Now()
	utils.AssertFalse(t, s.Acquire(50*time.Millisecond))
	utils.AssertTrue(t, time.Since(start) >= 50*time.Millisecond)
	// the timed-out waiter must unregister itself
	utils.AssertEquals(t, 0, s.QueueLength())
}

func TestZeroBudgetDoesNotWait(t *testing.T) {
	s := NewSemaphore()
	utils.AssertFalse(t, s.Acquire(0))
	utils.AssertEquals(t, 0, s.QueueLength())
}

func TestExactlyNConcurrentAcquires(t *testing.T) {
	const n = 5
	s := NewSemaphore()
	s.ReleaseN(n)

	var acquired int32
	var wg sync.WaitGroup
	for i := 0; i < n+1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TryAcquire() {
				atomic.AddInt32(&acquired, 1)
			}
		}()
	}
	wg.Wait()
	utils.AssertEquals(t, int32(n), atomic.LoadInt32(&acquired))

	// the (n+1)th caller blocks until a permit is returned
	got := make(chan bool, 1)
	go func() {
		got <- s.Acquire(2 * time.Second)
	}()

	select {
	case <-got:
		t.Fatal("acquire succeeded with no free permits")
	case <-time.After(100 * time.Millisecond):
	}

	s.Release()
	select {
	case ok := <-got:
		utils.AssertTrue(t, ok)
	case <-time.After(time.Second):
		t.Fatal("release did not wake the waiter")
	}
}

func TestReleaseHandsOffToWaiter(t *testing.T) {
	s := NewSemaphore()

	got := make(chan bool, 1)
	go func() {
		got <- s.Acquire(2 * time.Second)
	}()

	// wait for the goroutine to register as a waiter
	deadline := time.Now().Add(time.Second)
	for s.QueueLength() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	utils.AssertEquals(t, 1, s.QueueLength())

	s.Release()
	select {
	case ok := <-got:
		utils.AssertTrue(t, ok)
	case <-time.After(time.Second):
		t.Fatal("handed-off permit never arrived")
	}
	// the permit went to the waiter, not to the free pool
	utils.AssertEquals(t, 0, s.Available())
}

func TestDrain(t *testing.T) {
	s := NewSemaphore()
	s.ReleaseN(4)
	utils.AssertEquals(t, 4, s.Drain())
	utils.AssertEquals(t, 0, s.Available())
	utils.AssertEquals(t, 0, s.Drain())
}
