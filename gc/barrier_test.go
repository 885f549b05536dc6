// ABOUTME: Tests for the safepoint barrier: parking, resuming, mutual exclusion
// ABOUTME: Uses real goroutines; timing is driven by channels, never sleeps alone

package gc

import (
	"sync"
	"testing"
	"time"
)

func TestParkOthersWaitsForEveryThread(t *testing.T) {
	b := NewBarrier()
	collector := &ThreadState{}
	other := &ThreadState{}

	// The collector parks itself first, the way CollectGarbage does.
	b.EnterSafePoint(collector)

	parked := make(chan struct{})
	released := make(chan struct{})
	go func() {
		<-parked
		b.EnterSafePoint(other)
		b.LeaveSafePoint(other) // blocks until ResumeOthers
		close(released)
	}()

	done := make(chan struct{})
	go func() {
		b.ParkOthers(collector, 2, nil)
		close(done)
	}()

	// Wait until the stop request is visible before letting the other
	// thread park, so its LeaveSafePoint is guaranteed to block.
	for b.GCingThread() == nil {
		time.Sleep(time.Millisecond)
	}
	select {
	case <-done:
		t.Fatal("ParkOthers returned before the other thread parked")
	default:
	}

	close(parked)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ParkOthers did not return after all threads parked")
	}

	select {
	case <-released:
		t.Fatal("LeaveSafePoint returned during the stop-the-world")
	default:
	}

	b.ResumeOthers()
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("LeaveSafePoint did not return after ResumeOthers")
	}
	b.LeaveSafePoint(collector)

	if got := b.ParkedCount(); got != 0 {
		t.Errorf("ParkedCount() = %d, want 0", got)
	}
}

func TestCheckAndParkBlocksForStopTheWorld(t *testing.T) {
	b := NewBarrier()
	collector := &ThreadState{}
	other := &ThreadState{}

	b.EnterSafePoint(collector)

	var wg sync.WaitGroup
	wg.Add(1)
	resumed := make(chan struct{})
	go func() {
		defer wg.Done()
		// Parks until the collector resumes; a no-op afterwards.
		b.CheckAndPark(other)
		close(resumed)
	}()

	b.ParkOthers(collector, 2, nil)
	select {
	case <-resumed:
		t.Fatal("CheckAndPark returned while the world was stopped")
	default:
	}
	b.ResumeOthers()
	wg.Wait()
	b.LeaveSafePoint(collector)

	// Without a stop requested CheckAndPark returns immediately.
	doneCh := make(chan struct{})
	go func() {
		b.CheckAndPark(other)
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("CheckAndPark blocked with no stop requested")
	}
}

func TestCheckAndParkIsANoOpForTheCollector(t *testing.T) {
	b := NewBarrier()
	collector := &ThreadState{}
	b.EnterSafePoint(collector)
	b.ParkOthers(collector, 1, nil)
	// The collecting thread must pass through its own safepoints.
	b.CheckAndPark(collector)
	b.ResumeOthers()
	b.LeaveSafePoint(collector)
}

func TestSecondCollectorPanics(t *testing.T) {
	b := NewBarrier()
	first := &ThreadState{}
	second := &ThreadState{}
	b.EnterSafePoint(first)
	b.ParkOthers(first, 1, nil)
	defer func() {
		if recover() == nil {
			t.Error("second ParkOthers did not panic")
		}
		b.ResumeOthers()
		b.LeaveSafePoint(first)
	}()
	b.ParkOthers(second, 1, nil)
}

func TestInterruptCallbackRunsOnce(t *testing.T) {
	b := NewBarrier()
	collector := &ThreadState{}
	b.EnterSafePoint(collector)
	calls := 0
	b.ParkOthers(collector, 1, func() { calls++ })
	b.ResumeOthers()
	b.LeaveSafePoint(collector)
	if calls != 1 {
		t.Errorf("interrupt callback ran %d times, want 1", calls)
	}
}
