// ABOUTME: Cross-thread persistent region: the lock-protected variant
// ABOUTME: Handles may be created and destroyed concurrently from any thread

package persistent

import (
	"sync"

	"github.com/prateek/marksweep/heap"
)

// CrossThreadRegion is a Region whose handles are created and released
// from arbitrary threads. All operations take the region mutex; trace
// callbacks run with it released, so weak handles may Free their node
// from within the callback.
type CrossThreadRegion struct {
	mu     sync.Mutex
	region Region
}

// NewCrossThreadRegion creates an empty cross-thread region.
func NewCrossThreadRegion() *CrossThreadRegion {
	return &CrossThreadRegion{}
}

// Allocate claims a slot for the given root.
func (r *CrossThreadRegion) Allocate(obj *heap.Object, trace TraceFunc) *Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.region.Allocate(obj, trace)
}

// Free releases a slot.
func (r *CrossThreadRegion) Free(node *Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.region.Free(node)
}

// TraceNodes visits every occupied slot. The region mutex is dropped
// around each callback so a trace may Free nodes (weak clearing); slots
// freed during the walk are skipped from then on.
func (r *CrossThreadRegion) TraceNodes(v *heap.Visitor) {
	r.mu.Lock()
	nodes := make([]*Node, 0, r.region.count)
	for b := r.region.head; b != nil; b = b.next {
		for i := 0; i < b.used; i++ {
			if b.nodes[i].inUse {
				nodes = append(nodes, &b.nodes[i])
			}
		}
	}
	r.mu.Unlock()

	for _, node := range nodes {
		r.mu.Lock()
		if !node.inUse {
			r.mu.Unlock()
			continue
		}
		obj, trace := node.obj, node.trace
		r.mu.Unlock()
		if trace != nil {
			trace(v, obj)
			continue
		}
		v.Mark(obj)
	}
}

// NumberOfNodes returns the occupied slot count.
func (r *CrossThreadRegion) NumberOfNodes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.region.NumberOfNodes()
}

// PrepareForThreadTermination releases every handle whose referent lives
// in the terminating thread's partition. Remaining cross-thread handles to
// that heap would otherwise dangle once the thread's pages are torn down.
func (r *CrossThreadRegion) PrepareForThreadTermination(owner *heap.Partition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for b := r.region.head; b != nil; b = b.next {
		for i := 0; i < b.used; i++ {
			node := &b.nodes[i]
			if node.inUse && node.obj != nil && node.obj.OwnedBy(owner) {
				r.region.Free(node)
			}
		}
	}
}
