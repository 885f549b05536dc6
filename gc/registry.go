// ABOUTME: Process-wide registry: attached threads, barrier, page table, stats
// ABOUTME: Replaces file-scope singletons with an injectable, testable object

// Package gc implements the collector core: per-thread GC state machines,
// the safepoint barrier, scheduling heuristics and the stop-the-world
// collection driver. Application threads attach to a Registry, allocate
// through their ThreadState, and yield at safepoints.
package gc

import (
	"sync"
	"sync/atomic"

	"github.com/prateek/marksweep/heap"
	"github.com/prateek/marksweep/persistent"
)

// DumpSink receives structured memory dumps during snapshot collections.
// Absence of a sink never affects collection correctness.
type DumpSink interface {
	CreateAllocatorDump(name string) AllocatorDumper
	AddOwnershipEdge(source, target string)
}

// AllocatorDumper is one named dump accepting scalar statistics.
type AllocatorDumper interface {
	AddScalar(name, units string, value uint64)
}

// Registry owns everything shared between attached threads: the attach
// mutex and thread set, the cross-thread persistent region, the safepoint
// barrier, the page table and global size accounting. Construct one per
// process, or one per test.
type Registry struct {
	// mu is the attach mutex. It guards the attached set and serializes
	// collectors; any cross-thread enumeration of threads, stacks or
	// persistents requires it.
	mu       sync.Mutex
	attached map[*ThreadState]struct{}

	mainThread  *ThreadState
	crossThread *persistent.CrossThreadRegion
	barrier     *Barrier
	pages       *heap.PageTable

	logger     Logger
	tuning     Tuning
	sink       DumpSink
	idleRunner IdleTaskRunner

	shutdownCalled atomic.Bool
	nextThreadID   atomic.Uint64

	// Size accounting. allocatedObjectSize counts bytes allocated since
	// the last GC; markedObjectSize counts bytes marked live by it.
	allocatedObjectSize                 atomic.Uint64
	markedObjectSize                    atomic.Uint64
	objectSizeAtLastGC                  atomic.Uint64
	markedObjectSizeAtLastCompleteSweep atomic.Uint64
	persistentCountAtLastGC             atomic.Uint64
	collectedPersistentCount            atomic.Uint64

	// estimatedMarkingNanos is the duration of the last marking pass,
	// used to decide whether an idle GC fits its budget.
	estimatedMarkingNanos atomic.Int64
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger injects the embedder's logger.
func WithLogger(l Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithTuning overrides the scheduler thresholds.
func WithTuning(t Tuning) Option {
	return func(r *Registry) { r.tuning = t }
}

// WithDumpSink injects a memory-dump sink for snapshot collections.
func WithDumpSink(s DumpSink) Option {
	return func(r *Registry) { r.sink = s }
}

// WithIdleTaskRunner injects the main thread's idle-task capability.
func WithIdleTaskRunner(runner IdleTaskRunner) Option {
	return func(r *Registry) { r.idleRunner = runner }
}

// NewRegistry creates an isolated collector instance.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		attached:    make(map[*ThreadState]struct{}),
		crossThread: persistent.NewCrossThreadRegion(),
		barrier:     NewBarrier(),
		pages:       heap.NewPageTable(),
		logger:      nopLogger{},
		tuning:      DefaultTuning(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AttachMainThread attaches the process main thread. Its ThreadState is
// pinned for the registry's lifetime and is the only thread idle GCs run
// on.
func (r *Registry) AttachMainThread() *ThreadState {
	ts := r.attach(true)
	r.mainThread = ts
	return ts
}

// Attach registers the calling thread with the collector. The returned
// ThreadState must only be used from that thread.
func (r *Registry) Attach() *ThreadState {
	return r.attach(false)
}

func (r *Registry) attach(main bool) *ThreadState {
	if r.shutdownCalled.Load() {
		panic("gc: Attach after Shutdown")
	}
	ts := newThreadState(r, main)
	r.mu.Lock()
	r.attached[ts] = struct{}{}
	r.mu.Unlock()
	return ts
}

// detachLocked removes ts from the attached set; r.mu must be held.
func (r *Registry) detachLocked(ts *ThreadState) {
	if _, ok := r.attached[ts]; !ok {
		panic("gc: detaching a thread that is not attached")
	}
	delete(r.attached, ts)
	if r.mainThread == ts {
		r.mainThread = nil
	}
}

// Shutdown forbids further attaches. Threads still attached detach as
// usual; the registry carries no OS resources to release.
func (r *Registry) Shutdown() {
	r.shutdownCalled.Store(true)
}

// CrossThreadPersistents returns the lock-protected cross-thread region.
func (r *Registry) CrossThreadPersistents() *persistent.CrossThreadRegion {
	return r.crossThread
}

// Barrier returns the safepoint barrier.
func (r *Registry) Barrier() *Barrier {
	return r.barrier
}

// PageTable returns the conservative-lookup page table.
func (r *Registry) PageTable() *heap.PageTable {
	return r.pages
}

// AttachedThreadCount returns the number of attached threads.
func (r *Registry) AttachedThreadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attached)
}

// IncreaseAllocatedObjectSize implements heap.Stats.
func (r *Registry) IncreaseAllocatedObjectSize(delta uintptr) {
	r.allocatedObjectSize.Add(uint64(delta))
}

// DecreaseAllocatedObjectSize implements heap.Stats.
func (r *Registry) DecreaseAllocatedObjectSize(delta uintptr) {
	r.allocatedObjectSize.Add(^uint64(delta - 1))
}

// IncreaseMarkedObjectSize implements heap.Stats.
func (r *Registry) IncreaseMarkedObjectSize(delta uintptr) {
	r.markedObjectSize.Add(uint64(delta))
}

// AllocatedObjectSize returns bytes allocated since the last GC.
func (r *Registry) AllocatedObjectSize() uint64 {
	return r.allocatedObjectSize.Load()
}

// MarkedObjectSize returns bytes marked live by the last GC.
func (r *Registry) MarkedObjectSize() uint64 {
	return r.markedObjectSize.Load()
}

// PersistentFreed records a released persistent handle for the live-size
// estimate.
func (r *Registry) PersistentFreed() {
	r.collectedPersistentCount.Add(1)
}

// totalPersistentCountLocked sums handle counts; r.mu must be held.
func (r *Registry) totalPersistentCountLocked() uint64 {
	total := uint64(r.crossThread.NumberOfNodes())
	for ts := range r.attached {
		total += uint64(ts.persistents.NumberOfNodes())
	}
	return total
}

// visitPersistentRootsLocked traces the cross-thread region and every
// thread's persistent region; r.mu must be held.
func (r *Registry) visitPersistentRootsLocked(v *heap.Visitor) {
	r.crossThread.TraceNodes(v)
	for ts := range r.attached {
		ts.persistents.TraceNodes(v)
	}
}

// visitStackRootsLocked conservatively scans every attached thread's
// stack window; r.mu must be held.
func (r *Registry) visitStackRootsLocked(v *heap.Visitor) {
	for ts := range r.attached {
		ts.visitStack(v)
	}
}

// CheckAndMarkPointer resolves a candidate word against the page table and
// marks the containing object if the word points into a live one.
func (r *Registry) CheckAndMarkPointer(v *heap.Visitor, word uintptr) {
	page := r.pages.Lookup(heap.Address(word))
	if page == nil || page.IsTerminating() {
		return
	}
	if obj := page.ObjectContaining(heap.Address(word)); obj != nil {
		v.Mark(obj)
	}
}

// requestInterruptsLocked asks every other thread's interruptors to break
// out to a safepoint; r.mu must be held.
func (r *Registry) requestInterruptsLocked(collector *ThreadState) {
	for ts := range r.attached {
		if ts == collector {
			continue
		}
		for _, interruptor := range ts.interruptors {
			interruptor.RequestInterrupt()
		}
	}
}
