// ABOUTME: Heap partition: the fixed arena of typed sub-heaps owned by one thread
// ABOUTME: Routes allocations by affinity and spreads vector backings by heap age

package heap

import "fmt"

// Partition is the per-thread collection of sub-heaps. It is owned
// exclusively by one thread context; nothing here is safe for concurrent
// use except through the safepoint protocol.
type Partition struct {
	stats Stats
	table *PageTable

	heaps [NumberOfHeaps]SubHeap

	// Vector-backing spreading state. Each sub-heap has an age bumped on
	// expansion; vector backings go to the least recently expanded of the
	// four vector heaps, so a heap full of promptly-freed churn is not
	// immediately churned again.
	heapAges           [NumberOfHeaps]uint64
	currentHeapAge     uint64
	vectorBackingIndex SubHeapIndex

	// likelyToBePromptlyFreed counts, per type-index bucket, how biased a
	// type's recent allocations are toward prompt freeing: +3 on a prompt
	// free, -1 on a backing expansion, so a bucket stays positive while
	// more than a third of recent allocations were promptly freed.
	likelyToBePromptlyFreed [PromptlyFreedTableSize]int
}

// NewPartition creates a partition reporting size deltas to stats and
// registering pages in table.
func NewPartition(stats Stats, table *PageTable) *Partition {
	p := &Partition{
		stats:              stats,
		table:              table,
		vectorBackingIndex: Vector1Heap,
	}
	for i := range p.heaps {
		p.heaps[i].index = SubHeapIndex(i)
		p.heaps[i].partition = p
	}
	return p
}

// Heap returns the sub-heap at the given index.
func (p *Partition) Heap(i SubHeapIndex) *SubHeap {
	return &p.heaps[i]
}

// Allocate creates an object of the given type and size on the sub-heap
// matching the type's affinity. Size zero and nil types are programming
// errors; allocation itself cannot fail.
func (p *Partition) Allocate(typeInfo *TypeInfo, size uintptr) *Object {
	if typeInfo == nil {
		panic("heap: Allocate with nil TypeInfo")
	}
	if size == 0 {
		panic(fmt.Sprintf("heap: zero-size allocation of type %q", typeInfo.Name))
	}
	size = roundAllocationSize(size)
	obj := p.heapFor(typeInfo, size).allocate(typeInfo, size)
	if p.stats != nil {
		p.stats.IncreaseAllocatedObjectSize(size)
	}
	return obj
}

// heapFor picks the sub-heap for an allocation. Vector-backing types use
// the dynamically chosen vector heap; oversized allocations always go to
// the large object heap; normal types are stratified by size.
func (p *Partition) heapFor(typeInfo *TypeInfo, size uintptr) *SubHeap {
	if size >= LargeObjectSizeThreshold {
		return &p.heaps[LargeObjectHeap]
	}
	affinity := typeInfo.Affinity
	if IsVectorHeap(affinity) {
		return p.vectorBackingHeap(typeInfo)
	}
	if affinity == NormalPage1Heap {
		return &p.heaps[normalHeapForSize(size)]
	}
	return &p.heaps[affinity]
}

// normalHeapForSize stratifies general-purpose allocations across the four
// normal sub-heaps so unrelated size classes do not share pages.
func normalHeapForSize(size uintptr) SubHeapIndex {
	switch {
	case size <= 64:
		return NormalPage1Heap
	case size <= 256:
		return NormalPage2Heap
	case size <= 1024:
		return NormalPage3Heap
	default:
		return NormalPage4Heap
	}
}

// vectorBackingHeap returns the current vector heap and charges the type's
// promptly-freed bucket for the allocation.
func (p *Partition) vectorBackingHeap(typeInfo *TypeInfo) *SubHeap {
	entry := typeInfo.Index() & PromptlyFreedTableMask
	p.likelyToBePromptlyFreed[entry]--
	return &p.heaps[p.vectorBackingIndex]
}

// allocationPointAdjusted records an expansion of the sub-heap and, if it
// was the current vector heap, rotates to the least recently expanded one.
func (p *Partition) allocationPointAdjusted(index SubHeapIndex) {
	p.currentHeapAge++
	p.heapAges[index] = p.currentHeapAge
	if p.vectorBackingIndex == index {
		p.vectorBackingIndex = p.leastRecentlyExpandedVectorHeap()
	}
}

func (p *Partition) leastRecentlyExpandedVectorHeap() SubHeapIndex {
	minIndex := Vector1Heap
	minAge := p.heapAges[Vector1Heap]
	for i := Vector1Heap + 1; i <= Vector4Heap; i++ {
		if p.heapAges[i] < minAge {
			minAge = p.heapAges[i]
			minIndex = i
		}
	}
	return minIndex
}

// PromptlyFreed records that an object of the given type was freed shortly
// after allocation, biasing future vector backings away from its heap.
func (p *Partition) PromptlyFreed(typeInfo *TypeInfo, size uintptr) {
	entry := typeInfo.Index() & PromptlyFreedTableMask
	p.likelyToBePromptlyFreed[entry] += 3
	if p.stats != nil {
		p.stats.DecreaseAllocatedObjectSize(roundAllocationSize(size))
	}
}

// ClearHeapAges resets the vector-spreading state; done at GC entry so
// ages measure recency within a cycle.
func (p *Partition) ClearHeapAges() {
	p.heapAges = [NumberOfHeaps]uint64{}
	p.likelyToBePromptlyFreed = [PromptlyFreedTableSize]int{}
	p.currentHeapAge = 0
}

// VectorBackingIndex exposes the current vector heap choice.
func (p *Partition) VectorBackingIndex() SubHeapIndex { return p.vectorBackingIndex }

// MakeConsistentForGC flips every sub-heap into marking mode.
func (p *Partition) MakeConsistentForGC() {
	for i := range p.heaps {
		p.heaps[i].makeConsistentForGC()
	}
}

// MakeConsistentForMutator flips every sub-heap back into allocation mode
// without sweeping (snapshot-only collections).
func (p *Partition) MakeConsistentForMutator() {
	for i := range p.heaps {
		p.heaps[i].makeConsistentForMutator()
	}
}

// PrepareForSweep moves all pages of all sub-heaps onto unswept lists.
func (p *Partition) PrepareForSweep() {
	for i := range p.heaps {
		p.heaps[i].prepareForSweep()
	}
}

// CompleteSweep sweeps every sub-heap; the eager-sweep heap is index 0 and
// therefore processed first.
func (p *Partition) CompleteSweep() {
	for i := range p.heaps {
		p.heaps[i].CompleteSweep()
	}
}

// IsSweepingComplete reports whether no sub-heap has unswept pages.
func (p *Partition) IsSweepingComplete() bool {
	for i := range p.heaps {
		if !p.heaps[i].IsSweepingComplete() {
			return false
		}
	}
	return true
}

// PrepareForTermination flags every page of every sub-heap.
func (p *Partition) PrepareForTermination() {
	for i := range p.heaps {
		p.heaps[i].prepareForTermination()
	}
}

// CleanupPages releases all pages, removing them from the page table.
func (p *Partition) CleanupPages() {
	for i := range p.heaps {
		p.heaps[i].cleanupPages()
	}
}

// ObjectPayloadSize sums live payload across all sub-heaps. Only meaningful
// when sweeping is complete.
func (p *Partition) ObjectPayloadSize() uintptr {
	var total uintptr
	for i := range p.heaps {
		total += p.heaps[i].objectPayloadSize()
	}
	return total
}

// ForEachPage visits every page of every sub-heap.
func (p *Partition) ForEachPage(fn func(*Page)) {
	for i := range p.heaps {
		p.heaps[i].forEachPage(fn)
	}
}
