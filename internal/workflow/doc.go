// Package workflow owns the workflow and task lifecycle.
//
// The Manager creates workflows with one task per requested type, starts
// them by offering every pending task to the assignment engine, dispatches
// assigned tasks to the external queue and applies status callbacks. After
// each task change it recomputes the owning workflow's status from its task
// counts.
//
// Every task mutation runs in a store transaction guarded by the task's
// version column. A concurrent writer causes the loser to re-read and
// re-validate, so a completion callback racing a cancellation resolves to
// exactly one outcome and worker load moves exactly once.
//
// The Reconciler runs the two periodic sweeps: stale in-progress tasks are
// returned to pending, and pending or retryable tasks of active workflows are
// offered to the engine again.
package workflow
