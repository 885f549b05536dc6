// ABOUTME: Managed object header: address, size, type, mark and dead bits
// ABOUTME: Objects never move; their address is fixed at allocation time

package heap

// Object is the header of one managed allocation. The mark and dead bits
// are only mutated while the owning thread is stopped at a safepoint or by
// the owning thread itself, so they need no atomicity.
type Object struct {
	addr     Address
	size     uintptr
	typeInfo *TypeInfo
	payload  any
	page     *Page

	marked bool
	// dead is set on objects of an aborted or snapshot-only cycle that
	// were never marked, so a later conservative find cannot trace them.
	dead bool
}

// Address returns the object's synthetic address.
func (o *Object) Address() Address { return o.addr }

// Size returns the rounded allocation size.
func (o *Object) Size() uintptr { return o.size }

// Type returns the object's type descriptor.
func (o *Object) Type() *TypeInfo { return o.typeInfo }

// Payload returns the embedder value carried by the object.
func (o *Object) Payload() any { return o.payload }

// SetPayload replaces the embedder value. The object must be alive.
func (o *Object) SetPayload(p any) {
	if o.dead {
		panic("heap: SetPayload on dead object")
	}
	o.payload = p
}

// IsMarked reports whether the object was marked in the current cycle.
func (o *Object) IsMarked() bool { return o.marked }

// IsDead reports whether the object has been excluded from tracing.
func (o *Object) IsDead() bool { return o.dead }

func (o *Object) mark()     { o.marked = true }
func (o *Object) unmark()   { o.marked = false }
func (o *Object) markDead() { o.dead = true }

// Page returns the page holding the object.
func (o *Object) Page() *Page { return o.page }

// OwnedBy reports whether the object lives in the given partition.
func (o *Object) OwnedBy(p *Partition) bool {
	return o.page != nil && o.page.heap != nil && o.page.heap.partition == p
}

// finalize runs the type finalizer, once.
func (o *Object) finalize() {
	if o.typeInfo != nil && o.typeInfo.Finalize != nil {
		o.typeInfo.Finalize(o.payload)
	}
	o.payload = nil
	o.markDead()
}
