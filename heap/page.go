// ABOUTME: Heap pages: fixed address ranges owning object slots
// ABOUTME: Implements per-page allocation, sweeping and conservative object lookup

package heap

import "sort"

// freeSpan is one reusable gap left behind by swept objects.
type freeSpan struct {
	offset uintptr
	size   uintptr
}

// Page is a page-aligned range of the synthetic address space owned by
// exactly one sub-heap. Normal pages hold many objects; large-object pages
// hold exactly one and may span several page-sized address chunks.
type Page struct {
	base Address
	span uintptr
	heap *SubHeap
	next *Page

	// objects is kept sorted by address. Allocation takes a free span
	// first and bumps allocOffset otherwise; sweep rebuilds the spans.
	objects     []*Object
	allocOffset uintptr
	freeSpans   []freeSpan

	swept       bool
	terminating bool
	large       bool
}

func newPage(h *SubHeap, base Address) *Page {
	return &Page{base: base, span: PageSize, heap: h, swept: true}
}

func newLargePage(h *SubHeap, base Address, span uintptr) *Page {
	return &Page{base: base, span: span, heap: h, swept: true, large: true}
}

// Base returns the first address covered by the page.
func (p *Page) Base() Address { return p.base }

// Span returns the number of addresses covered by the page.
func (p *Page) Span() uintptr { return p.span }

// Contains reports whether addr falls inside the page's range.
func (p *Page) Contains(addr Address) bool {
	return addr >= p.base && addr < p.base+Address(p.span)
}

// IsTerminating reports whether the owning thread is shutting down. Objects
// on terminating pages are excluded from global marking.
func (p *Page) IsTerminating() bool { return p.terminating }

func (p *Page) setTerminating() { p.terminating = true }

// ObjectContaining returns the object whose slot covers addr, or nil. Used
// by the conservative scanner, so interior pointers resolve too.
func (p *Page) ObjectContaining(addr Address) *Object {
	if !p.Contains(addr) {
		return nil
	}
	// Binary search over the sorted slots.
	lo, hi := 0, len(p.objects)
	for lo < hi {
		mid := (lo + hi) / 2
		obj := p.objects[mid]
		if addr < obj.addr {
			hi = mid
		} else if addr >= obj.addr+Address(obj.size) {
			lo = mid + 1
		} else {
			return obj
		}
	}
	return nil
}

// allocate carves a slot out of the page, reusing a swept gap before
// bumping the end, or returns nil if no span fits.
func (p *Page) allocate(typeInfo *TypeInfo, size uintptr) *Object {
	if p.large && len(p.objects) > 0 {
		return nil
	}
	offset, ok := p.claimSpace(size)
	if !ok {
		return nil
	}
	obj := &Object{
		addr:     p.base + Address(offset),
		size:     size,
		typeInfo: typeInfo,
		page:     p,
	}
	p.insertObject(obj)
	return obj
}

// claimSpace takes the first free span that fits, falling back to the
// bump pointer at the end of the page.
func (p *Page) claimSpace(size uintptr) (uintptr, bool) {
	for i := range p.freeSpans {
		s := &p.freeSpans[i]
		if s.size < size {
			continue
		}
		offset := s.offset
		s.offset += size
		s.size -= size
		if s.size == 0 {
			p.freeSpans = append(p.freeSpans[:i], p.freeSpans[i+1:]...)
		}
		return offset, true
	}
	if p.allocOffset+size > p.span {
		return 0, false
	}
	offset := p.allocOffset
	p.allocOffset += size
	return offset, true
}

// insertObject keeps the slot list sorted by address for the conservative
// binary search.
func (p *Page) insertObject(obj *Object) {
	i := sort.Search(len(p.objects), func(i int) bool {
		return p.objects[i].addr > obj.addr
	})
	p.objects = append(p.objects, nil)
	copy(p.objects[i+1:], p.objects[i:])
	p.objects[i] = obj
}

// sweep finalizes every unmarked object, unmarks the survivors and
// rebuilds the free spans between them. Returns the surviving payload size.
func (p *Page) sweep() uintptr {
	live := p.objects[:0]
	var liveSize uintptr
	for _, obj := range p.objects {
		if obj.marked {
			obj.unmark()
			live = append(live, obj)
			liveSize += obj.size
			continue
		}
		obj.finalize()
	}
	for i := len(live); i < len(p.objects); i++ {
		p.objects[i] = nil
	}
	p.objects = live
	p.rebuildFreeSpans()
	return liveSize
}

// rebuildFreeSpans recomputes the gaps between survivors and pulls the
// bump pointer back to the end of the last one.
func (p *Page) rebuildFreeSpans() {
	p.freeSpans = p.freeSpans[:0]
	var cursor uintptr
	for _, obj := range p.objects {
		offset := uintptr(obj.addr - p.base)
		if offset > cursor {
			p.freeSpans = append(p.freeSpans, freeSpan{offset: cursor, size: offset - cursor})
		}
		cursor = offset + obj.size
	}
	p.allocOffset = cursor
}

// isEmpty reports whether no live objects remain on the page.
func (p *Page) isEmpty() bool {
	return len(p.objects) == 0
}

// makeConsistentForGC prepares an unswept page for a fresh marking pass:
// marks are cleared and objects that were dead at the last pass are marked
// dead so conservative marking cannot trace into garbage.
func (p *Page) makeConsistentForGC() {
	for _, obj := range p.objects {
		if obj.marked {
			obj.unmark()
		} else {
			obj.markDead()
		}
	}
}

// makeConsistentForMutator drops garbage and marks so the mutator can
// resume allocating on the page without an intervening sweep phase.
func (p *Page) makeConsistentForMutator() {
	p.sweep()
	p.swept = true
}

// objectPayloadSize returns the total size of objects on the page.
func (p *Page) objectPayloadSize() uintptr {
	var total uintptr
	for _, obj := range p.objects {
		total += obj.size
	}
	return total
}

// ForEachObject visits every object slot on the page, dead ones included.
func (p *Page) ForEachObject(fn func(*Object)) {
	for _, obj := range p.objects {
		fn(obj)
	}
}

// IsLarge reports whether the page holds a single large object.
func (p *Page) IsLarge() bool { return p.large }

// FreeSize returns the allocatable span of the page.
func (p *Page) FreeSize() uintptr { return p.freeSize() }

// freeSize returns the allocatable span: the untouched tail plus every
// swept gap. Dead-but-unswept slots do not count until a sweep reclaims
// them.
func (p *Page) freeSize() uintptr {
	free := p.span - p.allocOffset
	for _, s := range p.freeSpans {
		free += s.size
	}
	return free
}

// unlink removes the page from the list rooted at *head.
func (p *Page) unlink(head **Page) {
	for cur := head; *cur != nil; cur = &(*cur).next {
		if *cur == p {
			*cur = p.next
			p.next = nil
			return
		}
	}
}

// link prepends the page to the list rooted at *head.
func (p *Page) link(head **Page) {
	p.next = *head
	*head = p
}
