// ABOUTME: Process-wide table mapping addresses to heap pages
// ABOUTME: Backs conservative pointer checks and synthetic address assignment

package heap

import "sync"

// PageTable assigns page-aligned address ranges and resolves candidate
// words back to pages. Lookups happen during stop-the-world marking while
// registrations happen from allocating threads, so access is locked.
type PageTable struct {
	mu       sync.RWMutex
	pages    map[Address]*Page
	nextBase Address
}

// firstPageBase keeps the zero address and its page unused so that a zero
// word on a stack can never resolve to an object.
const firstPageBase = Address(1 << 20)

// NewPageTable creates an empty page table.
func NewPageTable() *PageTable {
	return &PageTable{
		pages:    make(map[Address]*Page),
		nextBase: firstPageBase,
	}
}

// allocateBase reserves span addresses (rounded up to whole pages) and
// returns the page-aligned base of the reservation.
func (t *PageTable) allocateBase(span uintptr) Address {
	pages := (span + PageSize - 1) / PageSize
	t.mu.Lock()
	base := t.nextBase
	t.nextBase += Address(pages * PageSize)
	t.mu.Unlock()
	return base
}

// register makes every page-sized chunk covered by p resolvable.
func (t *PageTable) register(p *Page) {
	t.mu.Lock()
	for off := uintptr(0); off < p.span; off += PageSize {
		t.pages[p.base+Address(off)] = p
	}
	t.mu.Unlock()
}

// unregister removes p from the table. Its address range is not reused.
func (t *PageTable) unregister(p *Page) {
	t.mu.Lock()
	for off := uintptr(0); off < p.span; off += PageSize {
		delete(t.pages, p.base+Address(off))
	}
	t.mu.Unlock()
}

// Lookup resolves a candidate word to the page containing it, or nil.
func (t *PageTable) Lookup(addr Address) *Page {
	t.mu.RLock()
	p := t.pages[addr&PageBaseMask]
	t.mu.RUnlock()
	if p != nil && p.Contains(addr) {
		return p
	}
	return nil
}

// PageCount returns the number of registered page chunks.
func (t *PageTable) PageCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pages)
}
