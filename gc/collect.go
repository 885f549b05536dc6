// ABOUTME: The stop-the-world collection driver: park, mark, schedule sweeping
// ABOUTME: Also exhaustive and thread-termination collection variants

package gc

import (
	"time"

	"github.com/prateek/marksweep/heap"
)

// CollectGarbage stops the world and runs one marking pass, then schedules
// sweeping according to gcType. stackState declares whether the calling
// thread's own stack may hold heap pointers; other threads declared their
// state when they parked. Callable from any attached thread, but never
// from inside a GCForbiddenScope.
func (ts *ThreadState) CollectGarbage(stackState StackState, gcType GCType, reason GCReason) {
	if ts.IsGCForbidden() {
		panic("gc: CollectGarbage inside GCForbiddenScope")
	}
	r := ts.registry

	// Nothing below may start another collection on this thread.
	ts.EnterGCForbiddenScope()
	defer ts.LeaveGCForbiddenScope()

	// Enter the safepoint before taking the attach mutex: if another
	// thread is collecting it holds the mutex and is waiting for us to
	// park, which we just did.
	ts.EnterSafePoint(stackState)
	r.mu.Lock()
	r.barrier.ParkOthers(ts, len(r.attached), func() {
		r.requestInterruptsLocked(ts)
	})

	start := time.Now()

	// Sampling points for the growth-rate estimator. The persistent count
	// and size recorded here, together with handles freed afterwards,
	// extrapolate the live size until the next complete sweep.
	r.objectSizeAtLastGC.Store(r.allocatedObjectSize.Load() + r.markedObjectSize.Load())
	r.persistentCountAtLastGC.Store(r.totalPersistentCountLocked())
	r.collectedPersistentCount.Store(0)
	r.markedObjectSize.Store(0)

	for attached := range r.attached {
		attached.PreGC()
	}

	// Every thread's stack window is offered; each one gates itself on the
	// stack state it declared when it parked. The collector declared its
	// own through EnterSafePoint above.
	v := heap.NewVisitor(r)
	r.visitPersistentRootsLocked(v)
	v.Drain()
	r.visitStackRootsLocked(v)
	v.Drain()

	markingTime := time.Since(start)
	r.estimatedMarkingNanos.Store(int64(markingTime))

	// Everything unmarked at this point is garbage; what the mutator
	// allocates next belongs to the new cycle.
	r.allocatedObjectSize.Store(0)

	for attached := range r.attached {
		attached.PostGC(gcType)
	}

	r.logger.Infof("%v: marked %d bytes across %d threads in %v",
		reason, r.markedObjectSize.Load(), len(r.attached), markingTime)

	r.barrier.ResumeOthers()
	r.mu.Unlock()

	// Leaving the safepoint runs this thread's presweep work; parked
	// threads run theirs as they resume.
	ts.LeaveSafePoint()
}

// collectAllGarbageIterations bounds the release-everything loop; chains of
// finalizers freeing persistent handles shorten the live set each pass.
const collectAllGarbageIterations = 5

// CollectAllGarbage collects repeatedly, sweeping eagerly, until the
// marked size stops shrinking or the iteration bound is hit.
func (ts *ThreadState) CollectAllGarbage() {
	previousMarked := ^uint64(0)
	for i := 0; i < collectAllGarbageIterations; i++ {
		ts.CollectGarbage(NoHeapPointersOnStack, GCWithSweep, ForcedGC)
		marked := ts.registry.markedObjectSize.Load()
		if marked == previousMarked {
			break
		}
		previousMarked = marked
	}
}

// collectGarbageForTerminatingThreadLocked collects only ts's partition,
// rooted only in ts's thread-local persistents. The attach mutex must be
// held; no other thread is stopped, because terminating pages are already
// invisible to their conservative scans.
func (r *Registry) collectGarbageForTerminatingThreadLocked(ts *ThreadState) {
	ts.EnterGCForbiddenScope()

	ts.PreGC()

	v := heap.NewVisitor(r)
	v.SetFilter(func(obj *heap.Object) bool {
		return obj.OwnedBy(ts.partition)
	})
	ts.persistents.TraceNodes(v)
	v.Drain()

	ts.PostGC(GCWithSweep)

	ts.LeaveGCForbiddenScope()

	// The eager path completes the sweep synchronously, running
	// finalizers that may release further persistent handles.
	ts.PreSweep()
}
