// ABOUTME: Sub-heap page list management: allocation, lazy and complete sweeping
// ABOUTME: Pages migrate between the swept and unswept lists across GC cycles

package heap

import "time"

// SubHeap is one typed sub-heap of a partition. It owns two page lists:
// pages accepting allocations and pages still awaiting sweeping from the
// previous cycle.
type SubHeap struct {
	index     SubHeapIndex
	partition *Partition

	firstPage        *Page
	firstUnsweptPage *Page
}

// Index returns the sub-heap's slot in the partition.
func (h *SubHeap) Index() SubHeapIndex { return h.index }

// allocate finds or expands a page with room for size.
func (h *SubHeap) allocate(typeInfo *TypeInfo, size uintptr) *Object {
	if h.index == LargeObjectHeap || size > PageSize {
		return h.allocateLarge(typeInfo, size)
	}
	for page := h.firstPage; page != nil; page = page.next {
		if obj := page.allocate(typeInfo, size); obj != nil {
			return obj
		}
	}
	page := h.addPage()
	obj := page.allocate(typeInfo, size)
	if obj == nil {
		panic("heap: fresh page rejected allocation")
	}
	return obj
}

func (h *SubHeap) allocateLarge(typeInfo *TypeInfo, size uintptr) *Object {
	table := h.partition.table
	page := newLargePage(h, table.allocateBase(size), size)
	table.register(page)
	page.link(&h.firstPage)
	h.partition.allocationPointAdjusted(h.index)
	return page.allocate(typeInfo, size)
}

// addPage expands the sub-heap by one page and records the expansion in
// the partition's age counters.
func (h *SubHeap) addPage() *Page {
	table := h.partition.table
	page := newPage(h, table.allocateBase(PageSize))
	table.register(page)
	page.link(&h.firstPage)
	h.partition.allocationPointAdjusted(h.index)
	return page
}

// prepareForSweep moves every page onto the unswept list. Called with the
// thread stopped, between marking and sweeping.
func (h *SubHeap) prepareForSweep() {
	if h.firstUnsweptPage != nil {
		panic("heap: prepareForSweep with unswept pages outstanding")
	}
	h.firstUnsweptPage = h.firstPage
	h.firstPage = nil
	for page := h.firstUnsweptPage; page != nil; page = page.next {
		page.swept = false
	}
}

// sweepUnsweptPage sweeps the head of the unswept list. Empty pages are
// returned to the page table; surviving pages resume accepting allocations.
func (h *SubHeap) sweepUnsweptPage() {
	page := h.firstUnsweptPage
	page.sweep()
	page.unlink(&h.firstUnsweptPage)
	if page.isEmpty() {
		h.partition.table.unregister(page)
		return
	}
	page.link(&h.firstPage)
	page.swept = true
}

// CompleteSweep sweeps every outstanding page of this sub-heap.
func (h *SubHeap) CompleteSweep() {
	for h.firstUnsweptPage != nil {
		h.sweepUnsweptPage()
	}
}

// deadlineCheckInterval bounds how often LazySweepWithDeadline consults
// the clock; sweeping one page is cheap relative to a time syscall.
const deadlineCheckInterval = 10

// LazySweepWithDeadline sweeps unswept pages until the deadline passes.
// Returns true if this sub-heap has been fully swept.
func (h *SubHeap) LazySweepWithDeadline(deadline time.Time) bool {
	pageCount := 1
	for h.firstUnsweptPage != nil {
		h.sweepUnsweptPage()
		if pageCount%deadlineCheckInterval == 0 && !time.Now().Before(deadline) {
			return h.firstUnsweptPage == nil
		}
		pageCount++
	}
	return true
}

// makeConsistentForGC readies the sub-heap for a fresh marking pass. Any
// pages a lazy sweep never reached are normalized and folded back into the
// allocating list: a fresh mark may not see stale marks or trace garbage.
func (h *SubHeap) makeConsistentForGC() {
	for page := h.firstPage; page != nil; page = page.next {
		page.swept = false
	}
	var last *Page
	for page := h.firstUnsweptPage; page != nil; page = page.next {
		page.makeConsistentForGC()
		last = page
	}
	if last != nil {
		last.next = h.firstPage
		h.firstPage = h.firstUnsweptPage
		h.firstUnsweptPage = nil
	}
}

// makeConsistentForMutator drops marks and garbage without a sweep phase,
// used by snapshot-only collections before resuming the mutator.
func (h *SubHeap) makeConsistentForMutator() {
	var last *Page
	for page := h.firstUnsweptPage; page != nil; page = page.next {
		page.makeConsistentForMutator()
		last = page
	}
	if last != nil {
		last.next = h.firstPage
		h.firstPage = h.firstUnsweptPage
		h.firstUnsweptPage = nil
	}
}

// prepareForTermination flags every page so other threads' collections
// skip objects owned by this terminating thread.
func (h *SubHeap) prepareForTermination() {
	if h.firstUnsweptPage != nil {
		panic("heap: terminating with unswept pages outstanding")
	}
	for page := h.firstPage; page != nil; page = page.next {
		page.setTerminating()
	}
}

// cleanupPages releases every page owned by the sub-heap.
func (h *SubHeap) cleanupPages() {
	for _, head := range []*Page{h.firstPage, h.firstUnsweptPage} {
		for page := head; page != nil; page = page.next {
			h.partition.table.unregister(page)
		}
	}
	h.firstPage = nil
	h.firstUnsweptPage = nil
}

// objectPayloadSize sums the payload of every page in the sub-heap.
func (h *SubHeap) objectPayloadSize() uintptr {
	var total uintptr
	for page := h.firstPage; page != nil; page = page.next {
		total += page.objectPayloadSize()
	}
	for page := h.firstUnsweptPage; page != nil; page = page.next {
		total += page.objectPayloadSize()
	}
	return total
}

// ForEachPage visits every page on both lists.
func (h *SubHeap) ForEachPage(fn func(*Page)) { h.forEachPage(fn) }

// forEachPage visits every page on both lists.
func (h *SubHeap) forEachPage(fn func(*Page)) {
	for page := h.firstPage; page != nil; page = page.next {
		fn(page)
	}
	for page := h.firstUnsweptPage; page != nil; page = page.next {
		fn(page)
	}
}

// IsSweepingComplete reports whether no unswept pages remain.
func (h *SubHeap) IsSweepingComplete() bool {
	return h.firstUnsweptPage == nil
}
