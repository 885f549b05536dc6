// ABOUTME: Safepoint barrier: stops all attached threads at GC-safe points
// ABOUTME: At most one thread collects; the rest park until it resumes them

package gc

import "sync"

// Barrier is the process-wide safepoint rendezvous. A would-be collecting
// thread, itself already at a safepoint, calls ParkOthers and proceeds
// alone once every other attached thread has independently reported
// parked. Threads park either synchronously (CheckAndPark) or across a
// region where they promise not to touch the managed heap
// (EnterSafePoint/LeaveSafePoint).
type Barrier struct {
	mu   sync.Mutex
	cond *sync.Cond

	// parked counts threads currently at a safepoint, the collecting
	// thread included.
	parked        int
	stopRequested bool
	gcThread      *ThreadState
}

// NewBarrier creates a barrier.
func NewBarrier() *Barrier {
	b := &Barrier{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// ParkOthers blocks until all total attached threads are parked. The
// caller must hold the registry attach mutex (so the attached set cannot
// change and no second collector can race here) and must already be at a
// safepoint itself. interrupt is invoked once to break registered
// long-running loops out to a safepoint. A thread that never reaches a
// safepoint blocks this call forever; that is a liveness bug in the
// calling code, not detected here.
func (b *Barrier) ParkOthers(ts *ThreadState, total int, interrupt func()) {
	b.mu.Lock()
	if b.gcThread != nil {
		b.mu.Unlock()
		panic("gc: ParkOthers while another thread is collecting")
	}
	b.gcThread = ts
	b.stopRequested = true
	b.mu.Unlock()

	if interrupt != nil {
		interrupt()
	}

	b.mu.Lock()
	for b.parked < total {
		b.cond.Wait()
	}
	b.mu.Unlock()
}

// ResumeOthers releases every parked thread.
func (b *Barrier) ResumeOthers() {
	b.mu.Lock()
	b.stopRequested = false
	b.gcThread = nil
	b.cond.Broadcast()
	b.mu.Unlock()
}

// CheckAndPark parks the calling thread for the duration of any requested
// stop-the-world, then returns. A no-op when no stop is requested.
func (b *Barrier) CheckAndPark(ts *ThreadState) {
	b.mu.Lock()
	for b.stopRequested && b.gcThread != ts {
		b.parked++
		b.cond.Broadcast()
		for b.stopRequested {
			b.cond.Wait()
		}
		b.parked--
	}
	b.mu.Unlock()
}

// EnterSafePoint registers the calling thread as parked. The thread must
// not touch the managed heap until LeaveSafePoint.
func (b *Barrier) EnterSafePoint(ts *ThreadState) {
	b.mu.Lock()
	b.parked++
	b.cond.Broadcast()
	b.mu.Unlock()
}

// LeaveSafePoint deregisters the thread, blocking first while any
// stop-the-world collection is in progress.
func (b *Barrier) LeaveSafePoint(ts *ThreadState) {
	b.mu.Lock()
	for b.stopRequested && b.gcThread != ts {
		b.cond.Wait()
	}
	b.parked--
	b.mu.Unlock()
}

// GCingThread returns the thread currently collecting, if any.
func (b *Barrier) GCingThread() *ThreadState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gcThread
}

// ParkedCount returns the number of threads currently at a safepoint.
func (b *Barrier) ParkedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parked
}
