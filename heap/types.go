// ABOUTME: Core types for the managed heap: addresses, sub-heap indices and geometry
// ABOUTME: Defines the fixed set of typed sub-heaps every partition carries

package heap

// Address is a synthetic, page-structured address of a managed object.
// Addresses are stable for the lifetime of an object (the collector is
// non-moving) and are only ever produced by the page table.
type Address uintptr

// Page geometry. Addresses are carved out of a flat synthetic space in
// page-sized, page-aligned chunks so that a candidate word can be mapped
// back to its page with a single mask.
const (
	// PageSize is the span of addresses covered by one normal page.
	PageSize = 1 << 12

	// PageBaseMask masks an address down to the base of its page.
	PageBaseMask = ^Address(PageSize - 1)

	// AllocationGranularity is the rounding unit for object sizes.
	AllocationGranularity = 16

	// LargeObjectSizeThreshold routes allocations at or above this size
	// to the large object sub-heap regardless of declared affinity.
	LargeObjectSizeThreshold = PageSize / 2
)

// SubHeapIndex identifies one of the typed sub-heaps of a partition.
type SubHeapIndex int

// The fixed sub-heap set. The eager-sweep heap must be index 0: objects
// needing prompt finalization are swept before everything else.
const (
	EagerSweepHeap SubHeapIndex = iota
	NormalPage1Heap
	NormalPage2Heap
	NormalPage3Heap
	NormalPage4Heap
	Vector1Heap
	Vector2Heap
	Vector3Heap
	Vector4Heap
	InlineVectorHeap
	HashTableHeap
	LargeObjectHeap
	NumberOfHeaps
)

var subHeapNames = [NumberOfHeaps]string{
	"EagerSweep",
	"NormalPage1",
	"NormalPage2",
	"NormalPage3",
	"NormalPage4",
	"Vector1",
	"Vector2",
	"Vector3",
	"Vector4",
	"InlineVector",
	"HashTable",
	"LargeObject",
}

// String returns the sub-heap name used in memory dumps.
func (i SubHeapIndex) String() string {
	if i < 0 || i >= NumberOfHeaps {
		return "Invalid"
	}
	return subHeapNames[i]
}

// IsVectorHeap reports whether i is one of the four vector-backing heaps.
func IsVectorHeap(i SubHeapIndex) bool {
	return i >= Vector1Heap && i <= Vector4Heap
}

// roundAllocationSize rounds size up to the allocation granularity.
func roundAllocationSize(size uintptr) uintptr {
	return (size + AllocationGranularity - 1) &^ uintptr(AllocationGranularity-1)
}

// Stats receives size accounting deltas from partitions and visitors.
// The registry owning all partitions implements it process-wide.
type Stats interface {
	IncreaseAllocatedObjectSize(delta uintptr)
	DecreaseAllocatedObjectSize(delta uintptr)
	IncreaseMarkedObjectSize(delta uintptr)
}
