// ABOUTME: Tests for the GC state machine: legal chains and illegal transitions
// ABOUTME: Every illegal transition must panic immediately

package gc

import "testing"

func newStateTestThread(t *testing.T) *ThreadState {
	t.Helper()
	return NewRegistry().AttachMainThread()
}

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s did not panic", name)
		}
	}()
	fn()
}

func TestLegalEagerSweepCycle(t *testing.T) {
	ts := newStateTestThread(t)
	chain := []State{PreciseGCScheduled, GCRunning, EagerSweepScheduled, Sweeping, NoGCScheduled}
	for _, next := range chain {
		ts.setGCState(next)
		if got := ts.GCState(); got != next {
			t.Fatalf("GCState() = %v, want %v", got, next)
		}
	}
}

func TestLegalLazySweepCycle(t *testing.T) {
	ts := newStateTestThread(t)
	for _, next := range []State{IdleGCScheduled, GCRunning, LazySweepScheduled, Sweeping, NoGCScheduled} {
		ts.setGCState(next)
	}
}

func TestScheduledStatesMayReplaceEachOther(t *testing.T) {
	ts := newStateTestThread(t)
	ts.setGCState(IdleGCScheduled)
	ts.setGCState(PreciseGCScheduled)
	ts.setGCState(FullGCScheduled)
	ts.setGCState(PageNavigationGCScheduled)
	if got := ts.GCState(); got != PageNavigationGCScheduled {
		t.Errorf("GCState() = %v", got)
	}
}

func TestCompositeSweepingStatesResolve(t *testing.T) {
	ts := newStateTestThread(t)
	for _, next := range []State{PreciseGCScheduled, GCRunning, LazySweepScheduled, Sweeping, SweepingAndIdleGCScheduled} {
		ts.setGCState(next)
	}
	// Scheduling from a composite sweeping state force-completes the sweep
	// (a no-op here, nothing is unswept) and lands in the scheduled state.
	ts.setGCState(PreciseGCScheduled)
	if got := ts.GCState(); got != PreciseGCScheduled {
		t.Errorf("GCState() = %v, want %v", got, PreciseGCScheduled)
	}
}

func TestIllegalTransitionsPanic(t *testing.T) {
	cases := []struct {
		name string
		from State
		to   State
	}{
		{"no-gc to no-gc", NoGCScheduled, NoGCScheduled},
		{"no-gc to sweeping", NoGCScheduled, Sweeping},
		{"no-gc to eager-sweep", NoGCScheduled, EagerSweepScheduled},
		{"gc-running to gc-running", GCRunning, GCRunning},
		{"gc-running to precise", GCRunning, PreciseGCScheduled},
		{"sweeping to eager-sweep", Sweeping, EagerSweepScheduled},
		{"scheduled to composite", PreciseGCScheduled, SweepingAndIdleGCScheduled},
	}
	for _, c := range cases {
		ts := newStateTestThread(t)
		ts.gcState = c.from
		mustPanic(t, c.name, func() { ts.setGCState(c.to) })
	}
}

func TestIsSweepingInProgress(t *testing.T) {
	ts := newStateTestThread(t)
	if ts.IsSweepingInProgress() {
		t.Error("fresh thread reports sweeping")
	}
	ts.gcState = Sweeping
	if !ts.IsSweepingInProgress() {
		t.Error("Sweeping not reported")
	}
	ts.gcState = SweepingAndPreciseGCScheduled
	if !ts.IsSweepingInProgress() {
		t.Error("composite sweeping state not reported")
	}
}

func TestStateAndReasonStrings(t *testing.T) {
	if NoGCScheduled.String() != "NoGCScheduled" {
		t.Errorf("String() = %q", NoGCScheduled.String())
	}
	if MemoryPressureGC.String() != "MemoryPressureGC" {
		t.Errorf("String() = %q", MemoryPressureGC.String())
	}
	if got := State(99).String(); got != "State(99)" {
		t.Errorf("String() = %q", got)
	}
}
