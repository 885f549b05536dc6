// ABOUTME: Marking visitor: worklist-driven tracing of the managed object graph
// ABOUTME: Also carries the weak-processing mode used after marking completes

package heap

// WeakCallback clears references to objects that did not survive marking.
// Callbacks run after marking with the weak-processing visitor and may use
// IsAlive to decide what to clear.
type WeakCallback func(v *Visitor)

// Visitor drives one marking pass. Mark pushes newly marked objects onto a
// worklist; Drain traces them until the graph is exhausted. The zero mode
// is marking; weak-processing visitors mark nothing.
type Visitor struct {
	stats    Stats
	worklist []*Object

	// filter, when set, restricts marking to matching objects. Used by
	// thread-termination collections to stay within one partition.
	filter func(*Object) bool

	weakProcessing bool
}

// NewVisitor creates a marking visitor reporting marked sizes to stats.
func NewVisitor(stats Stats) *Visitor {
	return &Visitor{stats: stats}
}

// NewWeakVisitor creates a visitor for weak processing. Marking through it
// is a programming error.
func NewWeakVisitor() *Visitor {
	return &Visitor{weakProcessing: true}
}

// SetFilter restricts marking to objects accepted by fn.
func (v *Visitor) SetFilter(fn func(*Object) bool) {
	v.filter = fn
}

// Mark marks obj and schedules its references for tracing. Already marked,
// dead and filtered-out objects are skipped. Terminating pages are the
// conservative scanner's concern, not the visitor's: thread-termination
// collections must still trace their own partition.
func (v *Visitor) Mark(obj *Object) {
	if v.weakProcessing {
		panic("heap: Mark called on weak-processing visitor")
	}
	if obj == nil || obj.marked || obj.dead {
		return
	}
	if v.filter != nil && !v.filter(obj) {
		return
	}
	obj.mark()
	if v.stats != nil {
		v.stats.IncreaseMarkedObjectSize(obj.size)
	}
	v.worklist = append(v.worklist, obj)
}

// IsAlive reports whether obj survived the marking pass. Weak callbacks
// use it to decide whether to clear a reference.
func (v *Visitor) IsAlive(obj *Object) bool {
	return obj != nil && obj.marked
}

// Drain traces queued objects until the worklist is empty.
func (v *Visitor) Drain() {
	for len(v.worklist) > 0 {
		obj := v.worklist[len(v.worklist)-1]
		v.worklist = v.worklist[:len(v.worklist)-1]
		if obj.typeInfo != nil && obj.typeInfo.Trace != nil {
			obj.typeInfo.Trace(v, obj.payload)
		}
	}
}
