package workflow

import "sermonflow/internal/store"

var taskTransitions = map[store.TaskStatus][]store.TaskStatus{
	store.TaskPending:        {store.TaskCancelled},
	store.TaskAssigned:       {store.TaskInProgress, store.TaskCancelled},
	store.TaskInProgress:     {store.TaskCompleted, store.TaskFailed, store.TaskReviewRequired, store.TaskCancelled},
	store.TaskReviewRequired: {store.TaskCompleted, store.TaskFailed, store.TaskCancelled},
}

// CanTransition reports whether a callback may move a task from one status to
// another. Moving to pending and assigned is reserved for the engine and the
// sweeps.
func CanTransition(from, to store.TaskStatus) bool {
	for _, allowed := range taskTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// deriveWorkflowStatus computes a workflow's status from its task counts.
func deriveWorkflowStatus(counts map[store.TaskStatus]int) store.WorkflowStatus {
	var total int
	for _, n := range counts {
		total += n
	}
	completed := counts[store.TaskCompleted]
	failed := counts[store.TaskFailed]
	cancelled := counts[store.TaskCancelled]
	switch {
	case total > 0 && completed == total:
		return store.WorkflowCompleted
	case failed > 0:
		return store.WorkflowPartialFailure
	case total > 0 && cancelled > 0 && completed+cancelled == total:
		return store.WorkflowCancelled
	default:
		return store.WorkflowProcessing
	}
}
