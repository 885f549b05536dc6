// ABOUTME: Integration tests for the complete collector runtime
// ABOUTME: Validates multi-thread collection, detach and snapshot dumps end to end

package marksweep_test

import (
	"bytes"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/prateek/marksweep/dump"
	"github.com/prateek/marksweep/gc"
	"github.com/prateek/marksweep/heap"
)

type cell struct {
	next      *heap.Object
	finalized *atomic.Int64
}

var cellType = heap.RegisterType(&heap.TypeInfo{
	Name:     "integrationCell",
	Affinity: heap.NormalPage1Heap,
	Trace: func(v *heap.Visitor, payload any) {
		if c, ok := payload.(*cell); ok && c != nil {
			v.Mark(c.next)
		}
	},
	Finalize: func(payload any) {
		if c, ok := payload.(*cell); ok && c != nil && c.finalized != nil {
			c.finalized.Add(1)
		}
	},
})

func allocCell(ts *gc.ThreadState, next *heap.Object, finalized *atomic.Int64) *heap.Object {
	obj := ts.Allocate(cellType, 48)
	obj.SetPayload(&cell{next: next, finalized: finalized})
	return obj
}

func TestMultiThreadCollectionEndToEnd(t *testing.T) {
	r := gc.NewRegistry()
	main := r.AttachMainThread()

	const workers = 3
	const allocationsPerWorker = 200

	var garbageFinalized atomic.Int64
	var rootedFinalized atomic.Int64
	var stop atomic.Bool
	var wg sync.WaitGroup
	started := make(chan struct{}, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts := r.Attach()

			// A rooted linked list the collections must keep alive.
			var head *heap.Object
			for j := 0; j < 5; j++ {
				head = allocCell(ts, head, &rootedFinalized)
			}
			root := ts.AllocatePersistent(head, nil)

			started <- struct{}{}
			allocated := 0
			for !stop.Load() || allocated < allocationsPerWorker {
				if allocated < allocationsPerWorker {
					allocCell(ts, nil, &garbageFinalized)
					allocated++
				}
				ts.SafePoint(gc.HeapPointersOnStack)
			}

			ts.FreePersistent(root)
			ts.Detach()
		}()
	}

	for i := 0; i < workers; i++ {
		<-started
	}
	for i := 0; i < 5; i++ {
		main.CollectGarbage(gc.NoHeapPointersOnStack, gc.GCWithSweep, gc.ForcedGC)
	}
	if rootedFinalized.Load() != 0 {
		t.Errorf("rooted objects finalized mid-run: %d", rootedFinalized.Load())
	}

	stop.Store(true)
	wg.Wait()

	// Detach drained every worker heap, roots included.
	if got := rootedFinalized.Load(); got != workers*5 {
		t.Errorf("rooted cells finalized = %d, want %d", got, workers*5)
	}
	if got := r.AttachedThreadCount(); got != 1 {
		t.Errorf("AttachedThreadCount() = %d, want 1", got)
	}

	main.CollectGarbage(gc.NoHeapPointersOnStack, gc.GCWithSweep, gc.ForcedGC)
	if got := garbageFinalized.Load(); got != workers*allocationsPerWorker {
		t.Errorf("garbage finalized = %d, want %d", got, workers*allocationsPerWorker)
	}
}

func TestSnapshotProducesInspectableJSON(t *testing.T) {
	process := dump.NewProcessDump()
	r := gc.NewRegistry(gc.WithDumpSink(dump.NewSink(process)))
	ts := r.AttachMainThread()

	live := allocCell(ts, nil, nil)
	root := ts.AllocatePersistent(live, nil)
	allocCell(ts, nil, nil) // garbage

	ts.CollectGarbageForSnapshot()

	var buf bytes.Buffer
	if err := process.WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if !gjson.ValidBytes(buf.Bytes()) {
		t.Fatalf("snapshot JSON invalid: %s", buf.String())
	}

	doc := gjson.ParseBytes(buf.Bytes())
	thread := doc.Get(`dumps.#(name=="managedheap/thread_1")`)
	if !thread.Exists() {
		t.Fatalf("no thread dump in %s", buf.String())
	}
	liveCount := thread.Get(`scalars.#(name=="live_count").value`).Int()
	if liveCount != 1 {
		t.Errorf("live_count = %d, want 1", liveCount)
	}
	class := doc.Get(`dumps.#(name=="managedheap/thread_1/classes/integrationCell")`)
	if !class.Exists() {
		t.Error("no per-class dump for the test type")
	}

	ts.FreePersistent(root)
}

func TestCrossThreadHandlePublishesObjectToOtherThreads(t *testing.T) {
	r := gc.NewRegistry()
	main := r.AttachMainThread()

	published := make(chan *heap.Object)
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ts := r.Attach()
		obj := allocCell(ts, nil, nil)
		published <- obj
		ts.EnterSafePoint(gc.NoHeapPointersOnStack)
		<-release
		ts.LeaveSafePoint()
		ts.Detach()
	}()

	obj := <-published
	handle := r.CrossThreadPersistents().Allocate(obj, nil)
	main.CollectGarbage(gc.NoHeapPointersOnStack, gc.GCWithSweep, gc.ForcedGC)
	if !obj.IsMarked() {
		t.Error("cross-thread rooted object not traced")
	}

	close(release)
	<-done
	// Termination released the handle along with the thread's heap.
	if handle.Get() != nil {
		t.Error("cross-thread handle dangles after owner detach")
	}
}
