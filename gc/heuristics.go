// ABOUTME: Scheduling heuristics: heap growth rate sampling and tiered thresholds
// ABOUTME: Tuning values parse from JSON; the tier ordering is what matters

package gc

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// Tuning holds the scheduler policy thresholds. The numbers are tuning
// constants, not correctness constraints, but the tier ordering must hold:
// memory pressure > forced conservative > idle.
type Tuning struct {
	// AllocatedObjectSizeFloor suppresses any GC while recent allocation
	// volume is below this.
	AllocatedObjectSizeFloor uint64
	// IdleGCMemoryFloor is the total-size floor for scheduling idle GCs.
	IdleGCMemoryFloor uint64
	// PeerFollowupMemoryFloor is the total-size floor for a precise GC
	// after a peer collector cycle.
	PeerFollowupMemoryFloor uint64
	// ConservativeGCMemoryFloor is the total-size floor for a forced
	// conservative GC.
	ConservativeGCMemoryFloor uint64
	// MemoryPressureFloor is the absolute size ceiling above which an
	// emergency GC fires regardless of growth rate.
	MemoryPressureFloor uint64
	// IdleGCGrowthRate is the growing-rate threshold for idle, peer
	// followup, page navigation and memory pressure decisions.
	IdleGCGrowthRate float64
	// ConservativeGCGrowthRate is the high growing-rate ceiling that
	// forces a conservative GC even below the emergency size floor.
	ConservativeGCGrowthRate float64
}

// DefaultTuning returns the production thresholds.
func DefaultTuning() Tuning {
	return Tuning{
		AllocatedObjectSizeFloor:  100 * 1024,
		IdleGCMemoryFloor:         1024 * 1024,
		PeerFollowupMemoryFloor:   32 * 1024 * 1024,
		ConservativeGCMemoryFloor: 32 * 1024 * 1024,
		MemoryPressureFloor:       300 * 1024 * 1024,
		IdleGCGrowthRate:          1.5,
		ConservativeGCGrowthRate:  5.0,
	}
}

// ParseTuning overlays JSON overrides onto the default tuning. Unknown
// keys are ignored; an empty document keeps every default.
func ParseTuning(data []byte) (Tuning, error) {
	tuning := DefaultTuning()
	if len(data) == 0 {
		return tuning, nil
	}
	if !gjson.ValidBytes(data) {
		return tuning, fmt.Errorf("invalid json: %q", data)
	}
	doc := gjson.ParseBytes(data)
	if v := doc.Get("allocated_object_size_floor"); v.Exists() {
		tuning.AllocatedObjectSizeFloor = v.Uint()
	}
	if v := doc.Get("idle_gc_memory_floor"); v.Exists() {
		tuning.IdleGCMemoryFloor = v.Uint()
	}
	if v := doc.Get("peer_followup_memory_floor"); v.Exists() {
		tuning.PeerFollowupMemoryFloor = v.Uint()
	}
	if v := doc.Get("conservative_gc_memory_floor"); v.Exists() {
		tuning.ConservativeGCMemoryFloor = v.Uint()
	}
	if v := doc.Get("memory_pressure_floor"); v.Exists() {
		tuning.MemoryPressureFloor = v.Uint()
	}
	if v := doc.Get("idle_gc_growth_rate"); v.Exists() {
		tuning.IdleGCGrowthRate = v.Float()
	}
	if v := doc.Get("conservative_gc_growth_rate"); v.Exists() {
		tuning.ConservativeGCGrowthRate = v.Float()
	}
	if tuning.ConservativeGCGrowthRate < tuning.IdleGCGrowthRate {
		return tuning, fmt.Errorf("conservative growth rate %.2f below idle growth rate %.2f",
			tuning.ConservativeGCGrowthRate, tuning.IdleGCGrowthRate)
	}
	return tuning, nil
}

// growingRateSentinel triggers a GC when no live-size estimate exists yet.
const growingRateSentinel = 100.0

// totalMemorySize is the current managed heap size: bytes allocated since
// the last GC plus bytes marked live by it.
func (r *Registry) totalMemorySize() uint64 {
	return r.allocatedObjectSize.Load() + r.markedObjectSize.Load()
}

// estimatedLiveSize extrapolates the live size from the size at the last
// complete sweep, scaled down by the share of persistent handles released
// since then.
func (r *Registry) estimatedLiveSize(estimationBase, sizeAtLastGC uint64) uint64 {
	countAtLastGC := r.persistentCountAtLastGC.Load()
	if countAtLastGC == 0 {
		// Reached only before the first GC.
		return 0
	}
	collected := r.collectedPersistentCount.Load()
	retainedByCollected := uint64(float64(sizeAtLastGC) / float64(countAtLastGC) * float64(collected))
	if estimationBase < retainedByCollected {
		return 0
	}
	return estimationBase - retainedByCollected
}

// heapGrowingRate is current size over estimated live size. A missing
// estimate returns the sentinel, forcing a GC.
func (r *Registry) heapGrowingRate() float64 {
	currentSize := r.totalMemorySize()
	base := r.markedObjectSizeAtLastCompleteSweep.Load()
	estimated := r.estimatedLiveSize(base, base)
	if estimated == 0 {
		return growingRateSentinel
	}
	return float64(currentSize) / float64(estimated)
}

// judgeGCThreshold applies one policy tier: a size floor and a growing
// rate ceiling.
func (r *Registry) judgeGCThreshold(memorySizeFloor uint64, growingRateThreshold float64) bool {
	if r.allocatedObjectSize.Load() < r.tuning.AllocatedObjectSizeFloor {
		return false
	}
	if r.totalMemorySize() < memorySizeFloor {
		return false
	}
	return r.heapGrowingRate() >= growingRateThreshold
}

// shouldScheduleIdleGC fires at the lowest tier, and only when nothing
// else is scheduled.
func (ts *ThreadState) shouldScheduleIdleGC() bool {
	if ts.gcState != NoGCScheduled {
		return false
	}
	return ts.registry.judgeGCThreshold(ts.registry.tuning.IdleGCMemoryFloor, ts.registry.tuning.IdleGCGrowthRate)
}

// shouldSchedulePeerFollowupGC decides whether a peer collector cycle
// warrants a precise GC here.
func (ts *ThreadState) shouldSchedulePeerFollowupGC() bool {
	return ts.registry.judgeGCThreshold(ts.registry.tuning.PeerFollowupMemoryFloor, ts.registry.tuning.IdleGCGrowthRate)
}

// shouldSchedulePageNavigationGC scales the growth threshold down by the
// share of the heap the navigation is estimated to free.
func (ts *ThreadState) shouldSchedulePageNavigationGC(estimatedRemovalRatio float64) bool {
	return ts.registry.judgeGCThreshold(ts.registry.tuning.IdleGCMemoryFloor,
		ts.registry.tuning.IdleGCGrowthRate*(1-estimatedRemovalRatio))
}

// shouldForceConservativeGC fires at a high growth-rate ceiling even below
// the emergency size floor.
func (ts *ThreadState) shouldForceConservativeGC() bool {
	return ts.registry.judgeGCThreshold(ts.registry.tuning.ConservativeGCMemoryFloor, ts.registry.tuning.ConservativeGCGrowthRate)
}

// shouldForceMemoryPressureGC is the emergency tier: above an absolute
// size ceiling, collect aggressively to avoid OOM.
func (ts *ThreadState) shouldForceMemoryPressureGC() bool {
	if ts.registry.totalMemorySize() < ts.registry.tuning.MemoryPressureFloor {
		return false
	}
	return ts.registry.judgeGCThreshold(0, ts.registry.tuning.IdleGCGrowthRate)
}
