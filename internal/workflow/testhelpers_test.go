package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"sermonflow/internal/assignment"
	"sermonflow/internal/audit"
	"sermonflow/internal/dispatch"
	"sermonflow/internal/logging"
	"sermonflow/internal/store"
	"sermonflow/internal/testsupport"
	"sermonflow/internal/workflow"
)

type recordingBridge struct {
	mu   sync.Mutex
	jobs []dispatch.Job
	err  error
}

func (b *recordingBridge) Enqueue(_ context.Context, job dispatch.Job) (dispatch.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	b.jobs = append(b.jobs, job)
	return dispatch.Handle(fmt.Sprintf("job-%d", len(b.jobs))), nil
}

func (b *recordingBridge) fail(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

func (b *recordingBridge) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.jobs)
}

type env struct {
	t      *testing.T
	st     *store.Store
	m      *workflow.Manager
	bridge *recordingBridge
	audit  *audit.Log
}

func newEnv(t *testing.T, opts ...testsupport.ConfigOption) *env {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	bridge := &recordingBridge{}
	log := audit.New(st, logger)
	m := workflow.NewManager(cfg, st, workflow.Dependencies{Bridge: bridge, Audit: log}, logger)
	return &env{t: t, st: st, m: m, bridge: bridge, audit: log}
}

func (e *env) create(maxRetries int, taskTypes ...string) *store.Workflow {
	e.t.Helper()
	wf, err := e.m.CreateWorkflow(context.Background(), workflow.CreateRequest{
		Name:       "Sunday service",
		EntityRef:  "sermon-2026-10-18",
		TaskTypes:  taskTypes,
		MaxRetries: &maxRetries,
	})
	if err != nil {
		e.t.Fatalf("CreateWorkflow: %v", err)
	}
	return wf
}

func (e *env) start(id string) workflow.StartResult {
	e.t.Helper()
	res, err := e.m.StartWorkflow(context.Background(), id, assignment.KindSkillMatch)
	if err != nil {
		e.t.Fatalf("StartWorkflow: %v", err)
	}
	return res
}

func (e *env) report(taskID string, statuses ...store.TaskStatus) workflow.UpdateResult {
	e.t.Helper()
	var res workflow.UpdateResult
	for _, status := range statuses {
		var err error
		res, err = e.m.UpdateTaskStatus(context.Background(), workflow.StatusUpdate{TaskID: taskID, Status: status, Error: "boom"})
		if err != nil {
			e.t.Fatalf("UpdateTaskStatus(%s): %v", status, err)
		}
	}
	return res
}

func (e *env) task(id string) *store.Task {
	e.t.Helper()
	return testsupport.MustGetTask(e.t, e.st, id)
}

func (e *env) workflowStatus(id string) store.WorkflowStatus {
	e.t.Helper()
	wf, err := e.st.GetWorkflow(context.Background(), id)
	if err != nil {
		e.t.Fatalf("GetWorkflow: %v", err)
	}
	return wf.Status
}

func (e *env) load(workerID string) int {
	e.t.Helper()
	return testsupport.MustGetWorker(e.t, e.st, workerID).CurrentLoad
}

func (e *env) auditActions(taskID string) []string {
	e.t.Helper()
	entries, err := e.audit.List(context.Background(), audit.Filter{TaskID: taskID})
	if err != nil {
		e.t.Fatalf("audit.List: %v", err)
	}
	actions := make([]string, 0, len(entries))
	for _, entry := range entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

var errQueueDown = errors.New("queue down")

// splitAssigned returns the ids of the assigned and the pending task of a
// two-task workflow.
func (e *env) splitAssigned(wf *store.Workflow) (string, string) {
	e.t.Helper()
	a, b := wf.Tasks[0].ID, wf.Tasks[1].ID
	if e.task(a).Status == store.TaskAssigned {
		return a, b
	}
	if e.task(b).Status != store.TaskAssigned {
		e.t.Fatalf("neither task is assigned")
	}
	return b, a
}
