// ABOUTME: Persistent root regions: slot blocks holding (root, trace) pairs
// ABOUTME: Roots here outlive collection cycles and seed every marking pass

// Package persistent implements the root-handle regions of the collector.
// A thread-local region is owned by exactly one thread; the cross-thread
// variant wraps the same structure in a mutex.
package persistent

import "github.com/prateek/marksweep/heap"

// TraceFunc traces one persistent root. A nil TraceFunc marks the referent
// and its transitive references, which is what almost every handle wants;
// weak handles install their own callback and may free the node from
// within it.
type TraceFunc func(v *heap.Visitor, obj *heap.Object)

// blockSize is the slot capacity of one region block.
const blockSize = 256

// Node is one occupied or free slot of a region. Nodes are handed back to
// callers as the handle identity for Free.
type Node struct {
	obj   *heap.Object
	trace TraceFunc

	inUse    bool
	nextFree *Node
}

// Get returns the root object held by the node.
func (n *Node) Get() *heap.Object {
	if !n.inUse {
		return nil
	}
	return n.obj
}

// Set replaces the root object held by the node.
func (n *Node) Set(obj *heap.Object) {
	if !n.inUse {
		panic("persistent: Set on freed node")
	}
	n.obj = obj
}

type block struct {
	nodes [blockSize]Node
	used  int
	next  *block
}

// Region is a thread-local persistent region: a linked structure of
// fixed-capacity blocks with a free list of reusable slots. Not safe for
// concurrent use; see CrossThreadRegion.
type Region struct {
	head     *block
	freeList *Node
	count    int
}

// NewRegion creates an empty region.
func NewRegion() *Region {
	return &Region{}
}

// Allocate claims a slot for the given root. The returned node stays valid
// until Free.
func (r *Region) Allocate(obj *heap.Object, trace TraceFunc) *Node {
	node := r.freeList
	if node != nil {
		r.freeList = node.nextFree
		node.nextFree = nil
	} else {
		if r.head == nil || r.head.used == blockSize {
			b := &block{next: r.head}
			r.head = b
		}
		node = &r.head.nodes[r.head.used]
		r.head.used++
	}
	node.obj = obj
	node.trace = trace
	node.inUse = true
	r.count++
	return node
}

// Free releases the slot. Safe to call from a trace callback running
// inside TraceNodes (weak clearing); freeing twice is a programming error.
func (r *Region) Free(node *Node) {
	if node == nil {
		return
	}
	if !node.inUse {
		panic("persistent: Free on already freed node")
	}
	node.obj = nil
	node.trace = nil
	node.inUse = false
	node.nextFree = r.freeList
	r.freeList = node
	r.count--
}

// TraceNodes visits every occupied slot exactly once. Slots freed by trace
// callbacks during the walk are skipped from then on.
func (r *Region) TraceNodes(v *heap.Visitor) {
	for b := r.head; b != nil; b = b.next {
		for i := 0; i < b.used; i++ {
			node := &b.nodes[i]
			if !node.inUse {
				continue
			}
			if node.trace != nil {
				node.trace(v, node.obj)
				continue
			}
			v.Mark(node.obj)
		}
	}
}

// NumberOfNodes returns the occupied slot count.
func (r *Region) NumberOfNodes() int {
	return r.count
}
