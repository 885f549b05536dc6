// ABOUTME: Tests for tuning parsing and the tiered scheduling thresholds
// ABOUTME: Exercises the growth-rate estimator and its sentinel behavior

package gc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTuning(t *testing.T) {
	testCases := []struct {
		name      string
		config    string
		expectErr bool
		check     func(t *testing.T, tuning Tuning)
	}{
		{
			name:   "empty config keeps defaults",
			config: "",
			check: func(t *testing.T, tuning Tuning) {
				assert.Equal(t, DefaultTuning(), tuning)
			},
		},
		{
			name:   "empty object keeps defaults",
			config: `{}`,
			check: func(t *testing.T, tuning Tuning) {
				assert.Equal(t, DefaultTuning(), tuning)
			},
		},
		{
			name:   "overrides are applied",
			config: `{"allocated_object_size_floor": 1, "idle_gc_memory_floor": 2, "memory_pressure_floor": 3}`,
			check: func(t *testing.T, tuning Tuning) {
				assert.Equal(t, uint64(1), tuning.AllocatedObjectSizeFloor)
				assert.Equal(t, uint64(2), tuning.IdleGCMemoryFloor)
				assert.Equal(t, uint64(3), tuning.MemoryPressureFloor)
				assert.Equal(t, DefaultTuning().ConservativeGCMemoryFloor, tuning.ConservativeGCMemoryFloor)
			},
		},
		{
			name:   "growth rates parse as floats",
			config: `{"idle_gc_growth_rate": 1.1, "conservative_gc_growth_rate": 9.5}`,
			check: func(t *testing.T, tuning Tuning) {
				assert.Equal(t, 1.1, tuning.IdleGCGrowthRate)
				assert.Equal(t, 9.5, tuning.ConservativeGCGrowthRate)
			},
		},
		{
			name:   "unknown keys are ignored",
			config: `{"no_such_knob": 42}`,
			check: func(t *testing.T, tuning Tuning) {
				assert.Equal(t, DefaultTuning(), tuning)
			},
		},
		{
			name:      "invalid json is rejected",
			config:    `{"allocated_object_size_floor": `,
			expectErr: true,
		},
		{
			name:      "inverted rate ordering is rejected",
			config:    `{"idle_gc_growth_rate": 6.0, "conservative_gc_growth_rate": 2.0}`,
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tuning, err := ParseTuning([]byte(tc.config))
			if tc.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tc.check(t, tuning)
		})
	}
}

// seedSizes installs a heap picture: bytes allocated since the last GC,
// bytes marked live by it, and the estimator's sampling points.
func seedSizes(r *Registry, allocated, marked, atLastSweep, persistentsAtGC, collected uint64) {
	r.allocatedObjectSize.Store(allocated)
	r.markedObjectSize.Store(marked)
	r.markedObjectSizeAtLastCompleteSweep.Store(atLastSweep)
	r.persistentCountAtLastGC.Store(persistentsAtGC)
	r.collectedPersistentCount.Store(collected)
}

func TestHeapGrowingRateUsesSentinelWithoutEstimate(t *testing.T) {
	r := NewRegistry()
	seedSizes(r, 1000, 0, 0, 0, 0)
	assert.Equal(t, growingRateSentinel, r.heapGrowingRate())
}

func TestHeapGrowingRateFromEstimate(t *testing.T) {
	r := NewRegistry()
	// 1000 live at the last sweep, 3000 on the heap now: rate 3.0.
	seedSizes(r, 2000, 1000, 1000, 1, 0)
	assert.InDelta(t, 3.0, r.heapGrowingRate(), 0.001)
}

func TestEstimatedLiveSizeScalesByCollectedPersistents(t *testing.T) {
	r := NewRegistry()
	// Half the persistent handles released since the GC halves the
	// estimate; the rate doubles accordingly.
	seedSizes(r, 2000, 1000, 1000, 4, 2)
	assert.InDelta(t, 6.0, r.heapGrowingRate(), 0.001)
}

func TestJudgeGCThresholdRespectsAllocationFloor(t *testing.T) {
	r := NewRegistry()
	seedSizes(r, DefaultTuning().AllocatedObjectSizeFloor-1, 0, 0, 0, 0)
	assert.False(t, r.judgeGCThreshold(0, 1.0))
	seedSizes(r, DefaultTuning().AllocatedObjectSizeFloor, 0, 0, 0, 0)
	assert.True(t, r.judgeGCThreshold(0, 1.0))
}

func TestJudgeGCThresholdRespectsMemoryFloor(t *testing.T) {
	r := NewRegistry()
	seedSizes(r, 200*1024, 0, 0, 0, 0)
	assert.False(t, r.judgeGCThreshold(300*1024, 1.0))
	assert.True(t, r.judgeGCThreshold(100*1024, 1.0))
}

func TestTierOrdering(t *testing.T) {
	r := NewRegistry()
	ts := r.AttachMainThread()
	tuning := DefaultTuning()

	// A modest heap growing fast: idle fires, the forcing tiers do not.
	seedSizes(r, tuning.IdleGCMemoryFloor*2, 0, 0, 0, 0)
	assert.True(t, ts.shouldScheduleIdleGC())
	assert.False(t, ts.shouldForceConservativeGC())
	assert.False(t, ts.shouldForceMemoryPressureGC())

	// A big heap growing fast: conservative fires too.
	seedSizes(r, tuning.ConservativeGCMemoryFloor, 0, 0, 0, 0)
	assert.True(t, ts.shouldForceConservativeGC())
	assert.False(t, ts.shouldForceMemoryPressureGC())

	// Above the emergency ceiling: everything fires.
	seedSizes(r, tuning.MemoryPressureFloor, 0, 0, 0, 0)
	assert.True(t, ts.shouldForceMemoryPressureGC())
}

func TestIdleGCRequiresNothingElseScheduled(t *testing.T) {
	r := NewRegistry()
	ts := r.AttachMainThread()
	seedSizes(r, DefaultTuning().IdleGCMemoryFloor*2, 0, 0, 0, 0)
	require.True(t, ts.shouldScheduleIdleGC())
	ts.gcState = PreciseGCScheduled
	assert.False(t, ts.shouldScheduleIdleGC())
}

func TestPageNavigationThresholdScalesWithRemovalRatio(t *testing.T) {
	r := NewRegistry()
	ts := r.AttachMainThread()
	// Rate is exactly 1.2: below the 1.5 idle threshold, but a navigation
	// expected to remove a third of the heap scales the threshold to 1.0.
	seedSizes(r, 200, 1000, 1000, 1, 0)
	r.allocatedObjectSize.Store(DefaultTuning().AllocatedObjectSizeFloor)
	r.markedObjectSize.Store(DefaultTuning().IdleGCMemoryFloor * 2)
	r.markedObjectSizeAtLastCompleteSweep.Store(DefaultTuning().IdleGCMemoryFloor * 2)
	assert.False(t, ts.shouldSchedulePageNavigationGC(0))
	assert.True(t, ts.shouldSchedulePageNavigationGC(0.5))
}
