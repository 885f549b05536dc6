// ABOUTME: Tests for allocation routing, size stratification and vector spreading
// ABOUTME: Covers the promptly-freed counter table and heap age rotation

package heap

import "testing"

type recordingStats struct {
	allocated int64
	marked    int64
}

func (s *recordingStats) IncreaseAllocatedObjectSize(delta uintptr) { s.allocated += int64(delta) }
func (s *recordingStats) DecreaseAllocatedObjectSize(delta uintptr) { s.allocated -= int64(delta) }
func (s *recordingStats) IncreaseMarkedObjectSize(delta uintptr)    { s.marked += int64(delta) }

var (
	normalType = RegisterType(&TypeInfo{Name: "partitionTestNormal", Affinity: NormalPage1Heap})
	vectorType = RegisterType(&TypeInfo{Name: "partitionTestVector", Affinity: Vector1Heap})
	hashType   = RegisterType(&TypeInfo{Name: "partitionTestHash", Affinity: HashTableHeap})
)

func newTestPartition() (*Partition, *recordingStats) {
	stats := &recordingStats{}
	return NewPartition(stats, NewPageTable()), stats
}

func TestNormalAllocationsStratifyBySize(t *testing.T) {
	p, _ := newTestPartition()
	cases := []struct {
		size uintptr
		want SubHeapIndex
	}{
		{16, NormalPage1Heap},
		{64, NormalPage1Heap},
		{65, NormalPage2Heap},
		{256, NormalPage2Heap},
		{1024, NormalPage3Heap},
		{1040, NormalPage4Heap},
	}
	for _, c := range cases {
		obj := p.Allocate(normalType, c.size)
		if got := obj.Page().heap.index; got != c.want {
			t.Errorf("Allocate(%d) landed in %v, want %v", c.size, got, c.want)
		}
	}
}

func TestDeclaredAffinityIsRespected(t *testing.T) {
	p, _ := newTestPartition()
	obj := p.Allocate(hashType, 32)
	if got := obj.Page().heap.index; got != HashTableHeap {
		t.Errorf("hash allocation landed in %v, want %v", got, HashTableHeap)
	}
}

func TestOversizedAllocationsGoToLargeObjectHeap(t *testing.T) {
	p, _ := newTestPartition()
	obj := p.Allocate(normalType, LargeObjectSizeThreshold)
	if got := obj.Page().heap.index; got != LargeObjectHeap {
		t.Errorf("oversized allocation landed in %v, want %v", got, LargeObjectHeap)
	}
	if !obj.Page().IsLarge() {
		t.Error("oversized allocation not on a large page")
	}
	// A large page holds exactly one object.
	second := p.Allocate(normalType, LargeObjectSizeThreshold)
	if second.Page() == obj.Page() {
		t.Error("two large objects share a page")
	}
}

func TestAllocationSizeIsRounded(t *testing.T) {
	p, _ := newTestPartition()
	obj := p.Allocate(normalType, 1)
	if obj.Size() != AllocationGranularity {
		t.Errorf("Size() = %d, want %d", obj.Size(), AllocationGranularity)
	}
	obj = p.Allocate(normalType, AllocationGranularity+1)
	if obj.Size() != 2*AllocationGranularity {
		t.Errorf("Size() = %d, want %d", obj.Size(), 2*AllocationGranularity)
	}
}

func TestZeroSizeAllocationPanics(t *testing.T) {
	p, _ := newTestPartition()
	defer func() {
		if recover() == nil {
			t.Error("Allocate(0) did not panic")
		}
	}()
	p.Allocate(normalType, 0)
}

func TestNilTypeAllocationPanics(t *testing.T) {
	p, _ := newTestPartition()
	defer func() {
		if recover() == nil {
			t.Error("Allocate with nil type did not panic")
		}
	}()
	p.Allocate(nil, 16)
}

func TestAllocationReportsToStats(t *testing.T) {
	p, stats := newTestPartition()
	p.Allocate(normalType, 32)
	if stats.allocated != 32 {
		t.Errorf("allocated = %d, want 32", stats.allocated)
	}
}

func TestPromptlyFreedBiasesCounterAndStats(t *testing.T) {
	p, stats := newTestPartition()
	obj := p.Allocate(vectorType, 32)
	entry := vectorType.Index() & PromptlyFreedTableMask
	// The allocation itself charged the entry.
	if got := p.likelyToBePromptlyFreed[entry]; got != -1 {
		t.Fatalf("counter after allocation = %d, want -1", got)
	}
	p.PromptlyFreed(vectorType, obj.Size())
	if got := p.likelyToBePromptlyFreed[entry]; got != 2 {
		t.Errorf("counter after prompt free = %d, want 2", got)
	}
	if stats.allocated != 0 {
		t.Errorf("allocated after prompt free = %d, want 0", stats.allocated)
	}
}

func TestVectorHeapRotatesOnExpansion(t *testing.T) {
	p, _ := newTestPartition()
	if p.VectorBackingIndex() != Vector1Heap {
		t.Fatalf("initial vector heap = %v", p.VectorBackingIndex())
	}
	// Expanding the current vector heap moves the choice to the least
	// recently expanded one.
	p.allocationPointAdjusted(Vector1Heap)
	if got := p.VectorBackingIndex(); got == Vector1Heap {
		t.Error("vector heap did not rotate after expansion")
	}
	// Expanding a non-vector heap leaves the choice alone.
	current := p.VectorBackingIndex()
	p.allocationPointAdjusted(HashTableHeap)
	if got := p.VectorBackingIndex(); got != current {
		t.Errorf("vector heap changed to %v on unrelated expansion", got)
	}
}

func TestVectorRotationPrefersLeastRecentlyExpanded(t *testing.T) {
	p, _ := newTestPartition()
	p.allocationPointAdjusted(Vector2Heap)
	p.allocationPointAdjusted(Vector3Heap)
	p.allocationPointAdjusted(Vector4Heap)
	// Vector1 is current and now the least recently expanded is... none of
	// the others; expanding Vector1 must pick the oldest age, Vector1's own
	// age being newest.
	p.allocationPointAdjusted(Vector1Heap)
	if got := p.VectorBackingIndex(); got != Vector2Heap {
		t.Errorf("rotated to %v, want %v", got, Vector2Heap)
	}
}

func TestClearHeapAgesResetsSpreadingState(t *testing.T) {
	p, _ := newTestPartition()
	p.Allocate(vectorType, 32)
	p.PromptlyFreed(vectorType, 32)
	p.allocationPointAdjusted(Vector1Heap)
	p.ClearHeapAges()
	if p.currentHeapAge != 0 {
		t.Error("currentHeapAge not reset")
	}
	entry := vectorType.Index() & PromptlyFreedTableMask
	if p.likelyToBePromptlyFreed[entry] != 0 {
		t.Error("promptly-freed counters not reset")
	}
}

func TestObjectPayloadSizeSumsLiveObjects(t *testing.T) {
	p, _ := newTestPartition()
	p.Allocate(normalType, 32)
	p.Allocate(normalType, 64)
	if got := p.ObjectPayloadSize(); got != 96 {
		t.Errorf("ObjectPayloadSize() = %d, want 96", got)
	}
}
