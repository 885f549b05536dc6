// ABOUTME: Idle-task collaborator: the collector posts work, never owns a scheduler
// ABOUTME: Includes a manual runner for embedders and tests that pump idle time

package gc

import "time"

// IdleTask runs during idle time and must respect the given deadline.
type IdleTask func(deadline time.Time)

// IdleTaskRunner is the thread-scheduler capability the collector calls
// out to. Idle GCs and lazy sweep slices are posted here; the collector
// does not implement its own scheduler thread.
type IdleTaskRunner interface {
	// PostIdleTask schedules a one-shot task for the next idle period.
	PostIdleTask(task IdleTask)
	// PostNonNestableIdleTask schedules a task that must not run inside
	// another task; idle GCs use this so marking never nests in a sweep
	// slice.
	PostNonNestableIdleTask(task IdleTask)
	// CanExceedIdleDeadline reports whether a task may run past its
	// deadline if required.
	CanExceedIdleDeadline() bool
}

// ManualIdleTaskRunner queues tasks until the embedder pumps them. Useful
// for tests and for hosts with their own idle detection.
type ManualIdleTaskRunner struct {
	tasks     []IdleTask
	canExceed bool
}

// NewManualIdleTaskRunner creates a runner; canExceed configures whether
// tasks may overrun their deadline.
func NewManualIdleTaskRunner(canExceed bool) *ManualIdleTaskRunner {
	return &ManualIdleTaskRunner{canExceed: canExceed}
}

// PostIdleTask queues a task.
func (r *ManualIdleTaskRunner) PostIdleTask(task IdleTask) {
	r.tasks = append(r.tasks, task)
}

// PostNonNestableIdleTask queues a task; the manual runner never nests.
func (r *ManualIdleTaskRunner) PostNonNestableIdleTask(task IdleTask) {
	r.tasks = append(r.tasks, task)
}

// CanExceedIdleDeadline reports the configured overrun policy.
func (r *ManualIdleTaskRunner) CanExceedIdleDeadline() bool {
	return r.canExceed
}

// PendingTasks returns the number of queued tasks.
func (r *ManualIdleTaskRunner) PendingTasks() int {
	return len(r.tasks)
}

// RunIdleTasks drains the queue, handing each task the deadline. Tasks
// posted while draining run too.
func (r *ManualIdleTaskRunner) RunIdleTasks(deadline time.Time) {
	for len(r.tasks) > 0 {
		task := r.tasks[0]
		r.tasks = r.tasks[1:]
		task(deadline)
	}
}

// RunOneIdleTask runs the oldest queued task, if any.
func (r *ManualIdleTaskRunner) RunOneIdleTask(deadline time.Time) bool {
	if len(r.tasks) == 0 {
		return false
	}
	task := r.tasks[0]
	r.tasks = r.tasks[1:]
	task(deadline)
	return true
}
