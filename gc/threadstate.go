// ABOUTME: ThreadState: the per-thread collector context and its operations
// ABOUTME: Owns the partition and persistent region, schedules and runs GC phases

package gc

import (
	"fmt"
	"time"

	"github.com/prateek/marksweep/heap"
	"github.com/prateek/marksweep/persistent"
	"github.com/prateek/marksweep/stackscan"
)

// Interruptor breaks a registered long-running loop out to a safepoint
// when a collection is waiting on this thread.
type Interruptor interface {
	RequestInterrupt()
}

// PreFinalizerFunc runs before sweeping begins, while about-to-be-swept
// objects may still be inspected (never resurrected). It returns true once
// its work is done, which unregisters it.
type PreFinalizerFunc func(obj any) bool

type preFinalizer struct {
	name string
	obj  any
	fn   PreFinalizerFunc
}

type weakCallbackItem struct {
	callback heap.WeakCallback
}

// PeerGCType classifies a peer collector's cycle for followup decisions.
type PeerGCType int

const (
	PeerMinorGC PeerGCType = iota
	PeerMajorGC
)

// ThreadState is the collector context of one attached thread. It owns a
// heap partition and a persistent region exclusively and runs the
// per-thread GC state machine. All methods must be called from the owning
// thread unless noted otherwise; the safepoint barrier coordinates timing
// between threads, never the state value itself.
type ThreadState struct {
	registry    *Registry
	partition   *heap.Partition
	persistents *persistent.Region
	stack       *stackscan.Stack

	threadID     uint64
	isMainThread bool

	gcState     State
	stackState  StackState
	atSafePoint bool

	interruptors  []Interruptor
	preFinalizers []preFinalizer // FIFO registration order
	weakCallbacks []weakCallbackItem

	sweepForbidden    bool
	noAllocationCount int
	gcForbiddenCount  int
	isTerminating     bool

	accumulatedSweepingTime time.Duration
}

func newThreadState(r *Registry, main bool) *ThreadState {
	ts := &ThreadState{
		registry:     r,
		persistents:  persistent.NewRegion(),
		stack:        stackscan.New(),
		threadID:     r.nextThreadID.Add(1),
		isMainThread: main,
		gcState:      NoGCScheduled,
		stackState:   HeapPointersOnStack,
	}
	ts.partition = heap.NewPartition(r, r.pages)
	return ts
}

// Registry returns the owning registry.
func (ts *ThreadState) Registry() *Registry { return ts.registry }

// Partition returns the thread's heap partition.
func (ts *ThreadState) Partition() *heap.Partition { return ts.partition }

// Persistents returns the thread-local persistent region.
func (ts *ThreadState) Persistents() *persistent.Region { return ts.persistents }

// Stack returns the thread's conservative scan window.
func (ts *ThreadState) Stack() *stackscan.Stack { return ts.stack }

// IsMainThread reports whether this is the pinned main thread.
func (ts *ThreadState) IsMainThread() bool { return ts.isMainThread }

// ThreadID returns the collector-assigned thread identifier.
func (ts *ThreadState) ThreadID() uint64 { return ts.threadID }

// Allocate creates a managed object of the given type and size and may
// consult the scheduler. Allocating inside a NoAllocationScope is a
// programming error.
func (ts *ThreadState) Allocate(typeInfo *heap.TypeInfo, size uintptr) *heap.Object {
	if ts.noAllocationCount > 0 {
		panic(fmt.Sprintf("gc: allocation of %q inside NoAllocationScope", typeInfo.Name))
	}
	obj := ts.partition.Allocate(typeInfo, size)
	ts.ScheduleGCIfNeeded()
	return obj
}

// AllocatePersistent acquires a thread-local root handle for obj.
func (ts *ThreadState) AllocatePersistent(obj *heap.Object, trace persistent.TraceFunc) *persistent.Node {
	return ts.persistents.Allocate(obj, trace)
}

// FreePersistent releases a thread-local root handle and feeds the
// live-size estimator.
func (ts *ThreadState) FreePersistent(node *persistent.Node) {
	ts.persistents.Free(node)
	ts.registry.PersistentFreed()
}

// Guards.

// EnterGCForbiddenScope prevents any GC from starting on this thread.
func (ts *ThreadState) EnterGCForbiddenScope() { ts.gcForbiddenCount++ }

// LeaveGCForbiddenScope exits the innermost forbidden scope.
func (ts *ThreadState) LeaveGCForbiddenScope() {
	if ts.gcForbiddenCount == 0 {
		panic("gc: LeaveGCForbiddenScope without matching enter")
	}
	ts.gcForbiddenCount--
}

// IsGCForbidden reports whether a GC may start on this thread.
func (ts *ThreadState) IsGCForbidden() bool { return ts.gcForbiddenCount > 0 }

// EnterNoAllocationScope forbids allocation until the matching leave.
func (ts *ThreadState) EnterNoAllocationScope() { ts.noAllocationCount++ }

// LeaveNoAllocationScope exits the innermost no-allocation scope.
func (ts *ThreadState) LeaveNoAllocationScope() {
	if ts.noAllocationCount == 0 {
		panic("gc: LeaveNoAllocationScope without matching enter")
	}
	ts.noAllocationCount--
}

// IsAllocationAllowed reports whether allocation is currently permitted.
func (ts *ThreadState) IsAllocationAllowed() bool { return ts.noAllocationCount == 0 }

func (ts *ThreadState) enterSweepForbiddenScope() {
	if ts.sweepForbidden {
		panic("gc: nested sweep-forbidden scope")
	}
	ts.sweepForbidden = true
}

func (ts *ThreadState) leaveSweepForbiddenScope() { ts.sweepForbidden = false }

// SweepForbidden reports whether sweeping may run right now.
func (ts *ThreadState) SweepForbidden() bool { return ts.sweepForbidden }

func (ts *ThreadState) accumulateSweepingTime(d time.Duration) {
	ts.accumulatedSweepingTime += d
}

// AccumulatedSweepingTime returns the sweep time of the current cycle.
func (ts *ThreadState) AccumulatedSweepingTime() time.Duration {
	return ts.accumulatedSweepingTime
}

// Scheduling.

// ScheduleIdleGC posts a cooperative idle collection. Only the main thread
// runs idle GCs; a request during sweeping is deferred via the composite
// state and re-posted when the sweep completes.
func (ts *ThreadState) ScheduleIdleGC() {
	if !ts.isMainThread {
		return
	}
	if ts.IsSweepingInProgress() {
		ts.setGCState(SweepingAndIdleGCScheduled)
		return
	}
	if ts.registry.idleRunner == nil {
		ts.registry.logger.Warnf("idle GC requested without an idle task runner")
	} else {
		ts.registry.idleRunner.PostNonNestableIdleTask(ts.PerformIdleGC)
	}
	ts.setGCState(IdleGCScheduled)
	ts.registry.logger.Debugf("scheduled idle GC")
}

// scheduleIdleLazySweep posts the next lazy sweep slice.
func (ts *ThreadState) scheduleIdleLazySweep() {
	if !ts.isMainThread || ts.registry.idleRunner == nil {
		return
	}
	ts.registry.idleRunner.PostIdleTask(ts.PerformIdleLazySweep)
}

// SchedulePreciseGC requests a collection at the next pointer-free
// safepoint. A request during sweeping is deferred via the composite
// state.
func (ts *ThreadState) SchedulePreciseGC() {
	if ts.IsSweepingInProgress() {
		ts.setGCState(SweepingAndPreciseGCScheduled)
		return
	}
	ts.setGCState(PreciseGCScheduled)
	ts.registry.logger.Debugf("scheduled precise GC")
}

// ScheduleFullGC requests an exhaustive collection; any outstanding sweep
// is completed first.
func (ts *ThreadState) ScheduleFullGC() {
	ts.CompleteSweep()
	ts.setGCState(FullGCScheduled)
	ts.registry.logger.Debugf("scheduled full GC")
}

// SchedulePageNavigationGC requests a with-sweep collection for a
// navigation that discarded a document.
func (ts *ThreadState) SchedulePageNavigationGC() {
	if ts.IsSweepingInProgress() {
		panic("gc: SchedulePageNavigationGC while sweeping")
	}
	ts.setGCState(PageNavigationGCScheduled)
	ts.registry.logger.Debugf("scheduled page navigation GC")
}

// SchedulePageNavigationGCIfNeeded weighs a navigation's estimated heap
// removal ratio against the growth heuristics.
func (ts *ThreadState) SchedulePageNavigationGCIfNeeded(estimatedRemovalRatio float64) {
	if ts.IsGCForbidden() {
		return
	}
	ts.CompleteSweep()
	if ts.shouldForceMemoryPressureGC() {
		ts.registry.logger.Infof("memory pressure GC on page navigation")
		ts.CollectGarbage(HeapPointersOnStack, GCWithoutSweep, MemoryPressureGC)
		return
	}
	if ts.shouldSchedulePageNavigationGC(estimatedRemovalRatio) {
		ts.SchedulePageNavigationGC()
	}
}

// ScheduleGCIfNeeded is the general scheduling entry point, called from
// allocation. Tiers are consulted in priority order, and the two forcing
// tiers complete any outstanding sweep and re-check before escalating.
func (ts *ThreadState) ScheduleGCIfNeeded() {
	// Allocation is allowed during sweeping, but those allocations must
	// not trigger nested GCs.
	if ts.IsGCForbidden() || ts.IsSweepingInProgress() {
		return
	}
	if ts.shouldForceMemoryPressureGC() {
		ts.CompleteSweep()
		if ts.shouldForceMemoryPressureGC() {
			ts.registry.logger.Infof("scheduled memory pressure GC")
			ts.CollectGarbage(HeapPointersOnStack, GCWithoutSweep, MemoryPressureGC)
			return
		}
	}
	if ts.shouldForceConservativeGC() {
		ts.CompleteSweep()
		if ts.shouldForceConservativeGC() {
			ts.registry.logger.Infof("scheduled conservative GC")
			ts.CollectGarbage(HeapPointersOnStack, GCWithoutSweep, ConservativeGC)
			return
		}
	}
	if ts.shouldScheduleIdleGC() {
		ts.ScheduleIdleGC()
	}
}

// WillStartPeerGC finishes any outstanding sweep before a peer collector
// runs, improving the peer's yield, and front-runs a pending page
// navigation GC so the peer sees the dead document's references cleared.
func (ts *ThreadState) WillStartPeerGC() {
	ts.CompleteSweep()
	if ts.gcState == PageNavigationGCScheduled {
		ts.CollectGarbage(HeapPointersOnStack, GCWithSweep, PageNavigationGC)
	}
}

// SchedulePeerFollowupGCIfNeeded decides, after a peer collector cycle,
// whether this collector should now run.
func (ts *ThreadState) SchedulePeerFollowupGCIfNeeded(gcType PeerGCType) {
	if ts.IsGCForbidden() {
		return
	}
	// Usually a no-op: WillStartPeerGC already completed the sweep.
	ts.CompleteSweep()
	if gcType == PeerMajorGC && ts.shouldForceMemoryPressureGC() {
		ts.registry.logger.Infof("memory pressure GC after peer major GC")
		ts.CollectGarbage(HeapPointersOnStack, GCWithoutSweep, MemoryPressureGC)
		return
	}
	if ts.shouldSchedulePeerFollowupGC() {
		ts.SchedulePreciseGC()
		return
	}
	if gcType == PeerMajorGC {
		ts.ScheduleIdleGC()
	}
}

// RunScheduledGC runs a pending precise-family collection if the stack is
// provably pointer-free. Idle GCs wait for their posted task.
func (ts *ThreadState) RunScheduledGC(stackState StackState) {
	if stackState != NoHeapPointersOnStack {
		return
	}
	// A safepoint entered while initiating a GC must not start another.
	if ts.IsGCForbidden() {
		return
	}
	switch ts.gcState {
	case FullGCScheduled:
		ts.CollectAllGarbage()
	case PreciseGCScheduled:
		ts.CollectGarbage(NoHeapPointersOnStack, GCWithoutSweep, PreciseGC)
	case PageNavigationGCScheduled:
		ts.CollectGarbage(NoHeapPointersOnStack, GCWithSweep, PageNavigationGC)
	}
}

// PerformIdleGC is the posted idle task: it collects if marking fits the
// remaining idle budget, otherwise reschedules for the next idle period.
func (ts *ThreadState) PerformIdleGC(deadline time.Time) {
	if !ts.isMainThread {
		return
	}
	if ts.gcState != IdleGCScheduled {
		return
	}
	estimated := time.Duration(ts.registry.estimatedMarkingNanos.Load())
	if time.Until(deadline) <= estimated && !ts.registry.idleRunner.CanExceedIdleDeadline() {
		ts.registry.logger.Debugf("idle GC rescheduled: budget %v below estimated marking %v",
			time.Until(deadline), estimated)
		ts.ScheduleIdleGC()
		return
	}
	ts.CollectGarbage(NoHeapPointersOnStack, GCWithoutSweep, IdleGC)
}

// PerformIdleLazySweep is the posted sweep slice: it sweeps sub-heaps
// until the deadline and reschedules the remainder.
func (ts *ThreadState) PerformIdleLazySweep(deadline time.Time) {
	if !ts.IsSweepingInProgress() {
		return
	}
	if ts.sweepForbidden {
		return
	}
	sweepCompleted := true
	ts.enterSweepForbiddenScope()
	start := time.Now()
	for i := heap.SubHeapIndex(0); i < heap.NumberOfHeaps; i++ {
		// A small slack so a slice never starts a page it cannot afford.
		if time.Until(deadline) <= time.Millisecond || !ts.partition.Heap(i).LazySweepWithDeadline(deadline) {
			ts.scheduleIdleLazySweep()
			sweepCompleted = false
			break
		}
	}
	ts.accumulateSweepingTime(time.Since(start))
	if sweepCompleted {
		ts.PostSweep()
	}
	ts.leaveSweepForbiddenScope()
}

// Safepoints.

// SafePoint yields synchronously: a scheduled GC runs now if the stack is
// pointer-free, the thread parks for any stop-the-world in progress, and
// pending presweep work runs before returning.
func (ts *ThreadState) SafePoint(stackState StackState) {
	ts.RunScheduledGC(stackState)
	if ts.atSafePoint {
		panic("gc: SafePoint while already at a safepoint")
	}
	ts.stackState = stackState
	ts.atSafePoint = true
	ts.registry.barrier.CheckAndPark(ts)
	ts.atSafePoint = false
	ts.stackState = HeapPointersOnStack
	ts.PreSweep()
}

// EnterSafePoint brackets the start of a region (blocking I/O, lock waits)
// where the thread will not touch the managed heap. Another thread may
// collect while this one is parked here; the window of stack beyond the
// scope marker is copied now so the conservative scan never reads frames
// the collector's own machinery may be mutating.
func (ts *ThreadState) EnterSafePoint(stackState StackState) {
	ts.RunScheduledGC(stackState)
	if ts.atSafePoint {
		panic("gc: EnterSafePoint while already at a safepoint")
	}
	ts.atSafePoint = true
	ts.stackState = stackState
	if stackState == HeapPointersOnStack {
		ts.stack.SetMarker()
		ts.stack.CopyUntilMarker()
	}
	ts.registry.barrier.EnterSafePoint(ts)
}

// LeaveSafePoint exits the bracketed region, blocking while a
// stop-the-world collection is in progress, then runs pending presweep
// work for any cycle that happened while parked.
func (ts *ThreadState) LeaveSafePoint() {
	if !ts.atSafePoint {
		panic("gc: LeaveSafePoint without matching enter")
	}
	ts.registry.barrier.LeaveSafePoint(ts)
	ts.atSafePoint = false
	ts.stackState = HeapPointersOnStack
	if ts.stack.HasMarker() {
		ts.stack.ClearMarker()
	}
	ts.PreSweep()
}

// AtSafePoint reports whether the thread is currently parked.
func (ts *ThreadState) AtSafePoint() bool { return ts.atSafePoint }

// visitStack conservatively scans the thread's stack window.
func (ts *ThreadState) visitStack(v *heap.Visitor) {
	if ts.stackState == NoHeapPointersOnStack {
		return
	}
	ts.stack.Scan(func(word uintptr) {
		ts.registry.CheckAndMarkPointer(v, word)
	})
}

// AddInterruptor registers a way to break this thread's long-running
// loops out to a safepoint.
func (ts *ThreadState) AddInterruptor(i Interruptor) {
	ts.EnterSafePoint(HeapPointersOnStack)
	ts.registry.mu.Lock()
	ts.interruptors = append(ts.interruptors, i)
	ts.registry.mu.Unlock()
	ts.LeaveSafePoint()
}

// RemoveInterruptor unregisters a previously added interruptor.
func (ts *ThreadState) RemoveInterruptor(i Interruptor) {
	ts.EnterSafePoint(HeapPointersOnStack)
	ts.registry.mu.Lock()
	found := -1
	for idx, cur := range ts.interruptors {
		if cur == i {
			found = idx
			break
		}
	}
	if found < 0 {
		ts.registry.mu.Unlock()
		ts.LeaveSafePoint()
		panic("gc: RemoveInterruptor on unregistered interruptor")
	}
	ts.interruptors = append(ts.interruptors[:found], ts.interruptors[found+1:]...)
	ts.registry.mu.Unlock()
	ts.LeaveSafePoint()
}

// GC phases.

// PreGC flips the thread into marking mode. Called on every attached
// thread by the collecting thread, with the world stopped.
func (ts *ThreadState) PreGC() {
	if ts.isInGC() {
		panic("gc: PreGC while already in GC")
	}
	ts.setGCState(GCRunning)
	ts.partition.MakeConsistentForGC()
	ts.partition.ClearHeapAges()
}

// PostGC leaves marking mode: sweeping is scheduled eagerly, lazily, or a
// snapshot is taken and the heap handed straight back to the mutator.
func (ts *ThreadState) PostGC(gcType GCType) {
	if !ts.isInGC() {
		panic("gc: PostGC outside GC")
	}
	ts.partition.PrepareForSweep()
	switch gcType {
	case GCWithSweep:
		ts.setGCState(EagerSweepScheduled)
	case GCWithoutSweep:
		ts.setGCState(LazySweepScheduled)
	case GCTakeSnapshot:
		ts.takeSnapshot(heapSnapshot)
		// Unmark everything and drop what was garbage: the snapshot
		// cycle never sweeps.
		ts.partition.MakeConsistentForMutator()
		ts.takeSnapshot(freelistSnapshot)
		// Assigned directly: the snapshot path returns to idle from
		// GCRunning, which the transition table otherwise forbids.
		ts.gcState = NoGCScheduled
	}
}

// PreSweep runs the work pinned between marking and sweeping: thread-local
// weak processing, pre-finalizers, then the eager sub-heap. The default
// continuation is lazy sweeping; an eager cycle completes synchronously.
func (ts *ThreadState) PreSweep() {
	if ts.gcState != EagerSweepScheduled && ts.gcState != LazySweepScheduled {
		return
	}
	ts.threadLocalWeakProcessing()

	previous := ts.gcState
	// Sweeping must be the state before pre-finalizers run so a GC
	// cannot start from inside one.
	ts.setGCState(Sweeping)
	ts.invokePreFinalizers()
	ts.accumulatedSweepingTime = 0

	ts.eagerSweep()
	if previous == EagerSweepScheduled {
		ts.CompleteSweep()
	} else {
		ts.scheduleIdleLazySweep()
	}
}

// eagerSweep promptly finalizes the designated eager sub-heap; objects
// needing prompt destruction cannot wait for lazy slices.
func (ts *ThreadState) eagerSweep() {
	if !ts.IsSweepingInProgress() {
		panic("gc: eagerSweep outside sweep phase")
	}
	if ts.sweepForbidden {
		return
	}
	ts.enterSweepForbiddenScope()
	start := time.Now()
	ts.partition.Heap(heap.EagerSweepHeap).CompleteSweep()
	ts.accumulateSweepingTime(time.Since(start))
	ts.leaveSweepForbiddenScope()
}

// CompleteSweep finishes all outstanding sweeping synchronously. A no-op
// when no sweep is in progress; recursion from finalizer allocations is
// cut off by the sweep-forbidden scope.
func (ts *ThreadState) CompleteSweep() {
	if !ts.IsSweepingInProgress() {
		return
	}
	if ts.sweepForbidden {
		return
	}
	ts.enterSweepForbiddenScope()
	defer ts.leaveSweepForbiddenScope()

	start := time.Now()
	ts.partition.CompleteSweep()
	ts.accumulateSweepingTime(time.Since(start))
	ts.registry.logger.Debugf("complete sweep finished in %v", time.Since(start))

	// PostSweep runs inside the sweep-forbidden scope: it may re-enter
	// CompleteSweep through a deferred scheduling request, which must
	// bail out instead of sweeping again.
	ts.PostSweep()
}

// PostSweep closes the cycle and dispatches any collection request that
// arrived mid-sweep.
func (ts *ThreadState) PostSweep() {
	marked := ts.registry.markedObjectSize.Load()
	if sizeAtLastGC := ts.registry.objectSizeAtLastGC.Load(); sizeAtLastGC > 0 {
		rate := 1 - float64(marked)/float64(sizeAtLastGC)
		ts.registry.logger.Debugf("sweep complete: collection rate %.0f%%", 100*rate)
	}
	// May be underestimated if another thread has not finished its lazy
	// sweep yet.
	ts.registry.markedObjectSizeAtLastCompleteSweep.Store(marked)

	switch ts.gcState {
	case Sweeping:
		ts.setGCState(NoGCScheduled)
	case SweepingAndPreciseGCScheduled:
		ts.setGCState(PreciseGCScheduled)
	case SweepingAndIdleGCScheduled:
		ts.setGCState(NoGCScheduled)
		ts.ScheduleIdleGC()
	default:
		panic(fmt.Sprintf("gc: PostSweep in GC state %v", ts.gcState))
	}
}

// Weak callbacks.

// PushThreadLocalWeakCallback defers a weak-clearing callback to this
// thread's weak processing, which runs after marking, before sweeping.
func (ts *ThreadState) PushThreadLocalWeakCallback(callback heap.WeakCallback) {
	ts.weakCallbacks = append(ts.weakCallbacks, weakCallbackItem{callback: callback})
}

func (ts *ThreadState) popAndInvokeThreadLocalWeakCallback(v *heap.Visitor) bool {
	n := len(ts.weakCallbacks)
	if n == 0 {
		return false
	}
	item := ts.weakCallbacks[n-1]
	ts.weakCallbacks = ts.weakCallbacks[:n-1]
	// The callback may run for an object that died in a later cycle
	// while this thread was parked; clearing a dead reference twice is
	// wasteful but safe, because nothing is swept before this runs.
	item.callback(v)
	return true
}

// threadLocalWeakProcessing clears this thread's weak references to
// unmarked objects. Allocation is forbidden throughout: a weak callback
// mutating the object graph could resurrect a dead object.
func (ts *ThreadState) threadLocalWeakProcessing() {
	if ts.sweepForbidden {
		panic("gc: weak processing while sweep forbidden")
	}
	ts.enterSweepForbiddenScope()
	ts.EnterNoAllocationScope()
	v := heap.NewWeakVisitor()
	for ts.popAndInvokeThreadLocalWeakCallback(v) {
	}
	ts.LeaveNoAllocationScope()
	ts.leaveSweepForbiddenScope()
}

// Pre-finalizers.

// RegisterPreFinalizer associates a named callback with obj, to run
// before sweeping. Registering the same name and object twice is a
// programming error.
func (ts *ThreadState) RegisterPreFinalizer(name string, obj any, fn PreFinalizerFunc) {
	for _, pf := range ts.preFinalizers {
		if pf.name == name && pf.obj == obj {
			panic(fmt.Sprintf("gc: pre-finalizer %q registered twice for the same object", name))
		}
	}
	ts.preFinalizers = append(ts.preFinalizers, preFinalizer{name: name, obj: obj, fn: fn})
}

// UnregisterPreFinalizer removes a registration before it has fired.
func (ts *ThreadState) UnregisterPreFinalizer(name string, obj any) {
	for i, pf := range ts.preFinalizers {
		if pf.name == name && pf.obj == obj {
			ts.preFinalizers = append(ts.preFinalizers[:i], ts.preFinalizers[i+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("gc: UnregisterPreFinalizer: %q not registered", name))
}

// invokePreFinalizers runs registered pre-finalizers in reverse
// registration order. Ones reporting done are unregistered.
func (ts *ThreadState) invokePreFinalizers() {
	if ts.sweepForbidden {
		panic("gc: pre-finalizers while sweep forbidden")
	}
	ts.enterSweepForbiddenScope()
	// remaining must not alias preFinalizers: the reverse walk would read
	// entries already overwritten by kept ones.
	var remaining []preFinalizer
	for i := len(ts.preFinalizers) - 1; i >= 0; i-- {
		pf := ts.preFinalizers[i]
		if pf.fn(pf.obj) {
			continue
		}
		remaining = append(remaining, pf)
	}
	// remaining was filled newest-first; restore FIFO order.
	for i, j := 0, len(remaining)-1; i < j; i, j = i+1, j-1 {
		remaining[i], remaining[j] = remaining[j], remaining[i]
	}
	ts.preFinalizers = remaining
	ts.leaveSweepForbiddenScope()
}

// Detach.

// Detach runs the mandatory cleanup sequence and removes the thread from
// the registry. The thread-local persistent region must drain to zero;
// leftover handles are a bug in the embedder.
func (ts *ThreadState) Detach() {
	ts.cleanup()
	if ts.gcState != NoGCScheduled {
		panic(fmt.Sprintf("gc: detached in GC state %v", ts.gcState))
	}
}

func (ts *ThreadState) cleanup() {
	r := ts.registry
	// Park while waiting for the attach mutex: another thread may hold
	// it preparing a GC and waiting for us to reach a safepoint.
	ts.EnterSafePoint(NoHeapPointersOnStack)
	r.mu.Lock()
	ts.LeaveSafePoint()

	ts.CompleteSweep()

	// From here on, conservatively found pointers into this thread's
	// heap are ignored by everyone.
	ts.isTerminating = true
	ts.partition.PrepareForTermination()
	r.crossThread.PrepareForThreadTermination(ts.partition)

	// Collect locally as long as the persistent handle count keeps
	// changing: dropping one handle may unroot an object whose
	// finalizer drops the next.
	oldCount := -1
	currentCount := ts.persistents.NumberOfNodes()
	for currentCount != oldCount {
		r.collectGarbageForTerminatingThreadLocked(ts)
		oldCount = currentCount
		currentCount = ts.persistents.NumberOfNodes()
	}
	if currentCount != 0 {
		panic(fmt.Sprintf("gc: %d persistent handles leaked across thread detach", currentCount))
	}
	if len(ts.preFinalizers) != 0 {
		panic(fmt.Sprintf("gc: %d pre-finalizers unconsumed at thread detach", len(ts.preFinalizers)))
	}
	if ts.gcState != NoGCScheduled {
		panic(fmt.Sprintf("gc: thread detach in GC state %v", ts.gcState))
	}

	ts.partition.CleanupPages()
	r.detachLocked(ts)
	r.mu.Unlock()
}
