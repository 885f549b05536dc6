// ABOUTME: Type descriptors for managed objects and the process-wide type registry
// ABOUTME: Hands out dense type indices used by the promptly-freed counter table

package heap

import (
	"fmt"
	"sync"
)

// TraceFunc visits the managed references held by an object's payload.
// It is invoked once per marking pass for every reachable object.
type TraceFunc func(v *Visitor, payload any)

// FinalizeFunc destroys an object's payload when it is swept. Finalizers
// must not resurrect heap objects and must not allocate into the heap
// being swept.
type FinalizeFunc func(payload any)

// TypeInfo describes one statically registered managed type.
type TypeInfo struct {
	// Name is the type name used in memory dumps.
	Name string
	// Affinity is the sub-heap this type prefers. Vector-backing types
	// declare one of the vector heaps; the partition then spreads their
	// allocations across all four dynamically.
	Affinity SubHeapIndex
	// Trace visits outgoing references. A nil Trace means the type holds
	// no managed references.
	Trace TraceFunc
	// Finalize runs when an unmarked object is swept. May be nil.
	Finalize FinalizeFunc

	index int
}

// Index returns the dense registration index of the type.
func (t *TypeInfo) Index() int { return t.index }

// typeRegistry holds all registered managed types.
type typeRegistry struct {
	mu    sync.RWMutex
	types []*TypeInfo
}

// Global registry instance. Types register once at program start, the
// way the original runtime builds its static type-info table.
var registry = &typeRegistry{
	types: make([]*TypeInfo, 0),
}

// RegisterType adds a managed type to the registry and assigns its index.
// Indices start at 1; index 0 is reserved for free slots in dumps.
func RegisterType(t *TypeInfo) *TypeInfo {
	if t == nil {
		panic("heap: RegisterType called with nil TypeInfo")
	}
	if t.Affinity < 0 || t.Affinity >= NumberOfHeaps {
		panic(fmt.Sprintf("heap: type %q declares invalid sub-heap affinity %d", t.Name, t.Affinity))
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.types = append(registry.types, t)
	t.index = len(registry.types)
	return t
}

// TypeCount returns the number of registered types.
func TypeCount() int {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	return len(registry.types)
}

// TypeByIndex returns the type registered with the given index, or nil.
func TypeByIndex(index int) *TypeInfo {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	if index < 1 || index > len(registry.types) {
		return nil
	}
	return registry.types[index-1]
}

// Saturating counter table geometry for "likely to be promptly freed"
// tracking. Types hash into the table by index, so unrelated types may
// share an entry; the heuristic tolerates that.
const (
	PromptlyFreedTableSize = 256
	PromptlyFreedTableMask = PromptlyFreedTableSize - 1
)
