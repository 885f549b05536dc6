// ABOUTME: Snapshot collections: per-heap and per-class memory dumps
// ABOUTME: Emitted through the embedder's DumpSink; no sink means no-op

package gc

import (
	"fmt"

	"github.com/prateek/marksweep/heap"
)

type snapshotType int

const (
	heapSnapshot snapshotType = iota
	freelistSnapshot
)

// classSnapshot accumulates per-type live and dead totals across all
// sub-heaps of one thread.
type classSnapshot struct {
	liveCount uint64
	deadCount uint64
	liveSize  uint64
	deadSize  uint64
}

// CollectGarbageForSnapshot marks without sweeping and emits memory dumps
// for every attached thread's heaps, then hands the heap straight back to
// the mutator.
func (ts *ThreadState) CollectGarbageForSnapshot() {
	ts.CollectGarbage(NoHeapPointersOnStack, GCTakeSnapshot, ForcedGC)
}

// takeSnapshot walks the partition with marks still intact (heapSnapshot)
// or after the heap was made consistent again (freelistSnapshot) and feeds
// the registry's dump sink. Runs under the attach mutex from PostGC.
func (ts *ThreadState) takeSnapshot(st snapshotType) {
	sink := ts.registry.sink
	if sink == nil {
		return
	}
	threadDumpName := fmt.Sprintf("managedheap/thread_%d", ts.threadID)
	if st == freelistSnapshot {
		ts.takeFreelistSnapshot(sink, threadDumpName)
		return
	}

	classes := make([]classSnapshot, heap.TypeCount()+1)
	var totals classSnapshot

	for i := heap.SubHeapIndex(0); i < heap.NumberOfHeaps; i++ {
		sub := ts.partition.Heap(i)
		var live, dead classSnapshot
		var freeSize, pageCount uint64
		sub.ForEachPage(func(p *heap.Page) {
			pageCount++
			freeSize += uint64(p.FreeSize())
			p.ForEachObject(func(obj *heap.Object) {
				idx := obj.Type().Index()
				size := uint64(obj.Size())
				if obj.IsMarked() {
					live.liveCount++
					live.liveSize += size
					classes[idx].liveCount++
					classes[idx].liveSize += size
				} else {
					dead.deadCount++
					dead.deadSize += size
					classes[idx].deadCount++
					classes[idx].deadSize += size
				}
			})
		})

		dump := sink.CreateAllocatorDump(fmt.Sprintf("%s/heaps/%s", threadDumpName, i))
		dump.AddScalar("live_count", "objects", live.liveCount)
		dump.AddScalar("dead_count", "objects", dead.deadCount)
		dump.AddScalar("live_size", "bytes", live.liveSize)
		dump.AddScalar("dead_size", "bytes", dead.deadSize)
		dump.AddScalar("free_size", "bytes", freeSize)
		dump.AddScalar("page_count", "pages", pageCount)

		totals.liveCount += live.liveCount
		totals.deadCount += dead.deadCount
		totals.liveSize += live.liveSize
		totals.deadSize += dead.deadSize
	}

	threadDump := sink.CreateAllocatorDump(threadDumpName)
	threadDump.AddScalar("live_count", "objects", totals.liveCount)
	threadDump.AddScalar("dead_count", "objects", totals.deadCount)
	threadDump.AddScalar("live_size", "bytes", totals.liveSize)
	threadDump.AddScalar("dead_size", "bytes", totals.deadSize)

	classesDumpName := threadDumpName + "/classes"
	for idx := 1; idx <= heap.TypeCount(); idx++ {
		cls := classes[idx]
		if cls.liveCount == 0 && cls.deadCount == 0 {
			continue
		}
		typeInfo := heap.TypeByIndex(idx)
		classDumpName := fmt.Sprintf("%s/%s", classesDumpName, typeInfo.Name)
		dump := sink.CreateAllocatorDump(classDumpName)
		dump.AddScalar("live_count", "objects", cls.liveCount)
		dump.AddScalar("dead_count", "objects", cls.deadCount)
		dump.AddScalar("live_size", "bytes", cls.liveSize)
		dump.AddScalar("dead_size", "bytes", cls.deadSize)
		sink.AddOwnershipEdge(classDumpName, threadDumpName)
	}
}

// takeFreelistSnapshot records the free span of every sub-heap after the
// heap has been made consistent for the mutator.
func (ts *ThreadState) takeFreelistSnapshot(sink DumpSink, threadDumpName string) {
	for i := heap.SubHeapIndex(0); i < heap.NumberOfHeaps; i++ {
		var freeSize, pageCount uint64
		ts.partition.Heap(i).ForEachPage(func(p *heap.Page) {
			pageCount++
			freeSize += uint64(p.FreeSize())
		})
		dump := sink.CreateAllocatorDump(fmt.Sprintf("%s/heaps/%s/freelist", threadDumpName, i))
		dump.AddScalar("free_size", "bytes", freeSize)
		dump.AddScalar("page_count", "pages", pageCount)
	}
}
