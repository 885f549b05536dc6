// ABOUTME: GC state machine: states, stack/sweep modes and validated transitions
// ABOUTME: Illegal transitions are programming errors and panic immediately

package gc

import "fmt"

// State is the per-thread GC state. Each thread owns its own state; the
// safepoint barrier coordinates timing, never the state value itself.
type State int

const (
	NoGCScheduled State = iota
	IdleGCScheduled
	PreciseGCScheduled
	FullGCScheduled
	PageNavigationGCScheduled
	GCRunning
	EagerSweepScheduled
	LazySweepScheduled
	Sweeping
	SweepingAndIdleGCScheduled
	SweepingAndPreciseGCScheduled
)

var stateNames = map[State]string{
	NoGCScheduled:                 "NoGCScheduled",
	IdleGCScheduled:               "IdleGCScheduled",
	PreciseGCScheduled:            "PreciseGCScheduled",
	FullGCScheduled:               "FullGCScheduled",
	PageNavigationGCScheduled:     "PageNavigationGCScheduled",
	GCRunning:                     "GCRunning",
	EagerSweepScheduled:           "EagerSweepScheduled",
	LazySweepScheduled:            "LazySweepScheduled",
	Sweeping:                      "Sweeping",
	SweepingAndIdleGCScheduled:    "SweepingAndIdleGCScheduled",
	SweepingAndPreciseGCScheduled: "SweepingAndPreciseGCScheduled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// StackState says whether a thread's stack may hold managed pointers at
// the point it yields to the collector.
type StackState int

const (
	// HeapPointersOnStack requires conservative stack scanning.
	HeapPointersOnStack StackState = iota
	// NoHeapPointersOnStack promises the stack is pointer-free.
	NoHeapPointersOnStack
)

// GCType selects how the cycle finishes.
type GCType int

const (
	// GCWithSweep completes sweeping before the cycle ends.
	GCWithSweep GCType = iota
	// GCWithoutSweep defers sweeping to lazy/idle slices.
	GCWithoutSweep
	// GCTakeSnapshot marks, dumps, and unmarks without sweeping.
	GCTakeSnapshot
)

// GCReason records why a collection ran; used only for logging and dumps.
type GCReason int

const (
	IdleGC GCReason = iota
	PreciseGC
	ConservativeGC
	ForcedGC
	MemoryPressureGC
	PageNavigationGC
	PeerFollowupGC
	ThreadTerminationGC
)

var reasonNames = map[GCReason]string{
	IdleGC:              "IdleGC",
	PreciseGC:           "PreciseGC",
	ConservativeGC:      "ConservativeGC",
	ForcedGC:            "ForcedGC",
	MemoryPressureGC:    "MemoryPressureGC",
	PageNavigationGC:    "PageNavigationGC",
	PeerFollowupGC:      "PeerFollowupGC",
	ThreadTerminationGC: "ThreadTerminationGC",
}

func (r GCReason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("GCReason(%d)", int(r))
}

// unexpectedGCState is the fatal-assertion path for the transition table.
func unexpectedGCState(current, next State) {
	panic(fmt.Sprintf("gc: unexpected transition to %v while in GC state %v", next, current))
}

// setGCState validates and applies a state transition. The reachable
// transitions are exactly the table in the design; anything else panics.
// Entering a Scheduled state force-completes any outstanding sweep first:
// objects cannot be half-swept and subject to a fresh mark.
func (ts *ThreadState) setGCState(next State) {
	current := ts.gcState
	switch next {
	case NoGCScheduled:
		if current != Sweeping && current != SweepingAndIdleGCScheduled {
			unexpectedGCState(current, next)
		}
	case IdleGCScheduled, PreciseGCScheduled, FullGCScheduled, PageNavigationGCScheduled:
		switch current {
		case NoGCScheduled, IdleGCScheduled, PreciseGCScheduled, FullGCScheduled,
			PageNavigationGCScheduled, SweepingAndIdleGCScheduled, SweepingAndPreciseGCScheduled:
		default:
			unexpectedGCState(current, next)
		}
		ts.CompleteSweep()
	case GCRunning:
		if current == GCRunning {
			unexpectedGCState(current, next)
		}
	case EagerSweepScheduled, LazySweepScheduled:
		if current != GCRunning {
			unexpectedGCState(current, next)
		}
	case Sweeping:
		if current != EagerSweepScheduled && current != LazySweepScheduled {
			unexpectedGCState(current, next)
		}
	case SweepingAndIdleGCScheduled, SweepingAndPreciseGCScheduled:
		if current != Sweeping && current != SweepingAndIdleGCScheduled && current != SweepingAndPreciseGCScheduled {
			unexpectedGCState(current, next)
		}
	default:
		panic(fmt.Sprintf("gc: setGCState with unknown state %d", int(next)))
	}
	ts.gcState = next
}

// GCState returns the thread's current GC state.
func (ts *ThreadState) GCState() State {
	return ts.gcState
}

// isInGC reports whether the thread is inside a marking phase.
func (ts *ThreadState) isInGC() bool {
	return ts.gcState == GCRunning
}

// IsSweepingInProgress reports whether a sweep phase is outstanding.
func (ts *ThreadState) IsSweepingInProgress() bool {
	switch ts.gcState {
	case Sweeping, SweepingAndIdleGCScheduled, SweepingAndPreciseGCScheduled:
		return true
	}
	return false
}
