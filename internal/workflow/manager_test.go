package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"sermonflow/internal/assignment"
	"sermonflow/internal/audit"
	"sermonflow/internal/services"
	"sermonflow/internal/skills"
	"sermonflow/internal/store"
	"sermonflow/internal/testsupport"
	"sermonflow/internal/workflow"
)

func TestCreateWorkflowPopulatesRequiredSkills(t *testing.T) {
	e := newEnv(t, testsupport.WithMaxRetries(2))
	wf, err := e.m.CreateWorkflow(context.Background(), workflow.CreateRequest{
		Name:      "Easter",
		TaskTypes: []string{"Transcription", skills.TaskThumbnail},
	})
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	if wf.Status != store.WorkflowCreated || wf.Priority != 3 || len(wf.Tasks) != 2 {
		t.Fatalf("unexpected workflow: %+v", wf)
	}
	first := e.task(wf.Tasks[0].ID)
	if first.TaskType != skills.TaskTranscription || first.Status != store.TaskPending || first.MaxRetries != 2 {
		t.Fatalf("unexpected task: %+v", first)
	}
	if !slices.Equal(first.RequiredSkills, []string{"audio_editing", "transcription"}) {
		t.Fatalf("required skills = %v", first.RequiredSkills)
	}
}

func TestCreateWorkflowValidation(t *testing.T) {
	e := newEnv(t)
	cases := []workflow.CreateRequest{
		{TaskTypes: []string{"transcription"}},
		{Name: "x"},
		{Name: "x", TaskTypes: []string{"juggling"}},
		{Name: "x", TaskTypes: []string{"transcription"}, Priority: 9},
	}
	for _, req := range cases {
		if _, err := e.m.CreateWorkflow(context.Background(), req); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("CreateWorkflow(%+v): expected validation error, got %v", req, err)
		}
	}
}

func TestStartWorkflowOnlyFromCreated(t *testing.T) {
	e := newEnv(t)
	testsupport.MustRegisterWorker(t, e.st, "scribe", 2, "transcription")
	wf := e.create(3, "transcription")

	res := e.start(wf.ID)
	if !res.Started || res.Assigned != 1 {
		t.Fatalf("unexpected start result: %+v", res)
	}
	if e.workflowStatus(wf.ID) != store.WorkflowProcessing {
		t.Fatalf("workflow not processing")
	}
	if _, err := e.m.StartWorkflow(context.Background(), wf.ID, ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("second start: expected validation error, got %v", err)
	}
	if _, err := e.m.StartWorkflow(context.Background(), "missing", ""); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	task := e.task(wf.Tasks[0].ID)
	if task.JobHandle != "job-1" || e.bridge.count() != 1 {
		t.Fatalf("task not dispatched: %+v", task)
	}
}

func TestSecondTaskWaitsForCapacityThenReconciles(t *testing.T) {
	e := newEnv(t)
	testsupport.MustRegisterWorker(t, e.st, "solo", 1, "transcription")
	wf := e.create(3, "transcription", "transcription")

	res := e.start(wf.ID)
	if res.Assigned != 1 || res.Unassigned != 1 {
		t.Fatalf("unexpected start result: %+v", res)
	}
	first, second := e.splitAssigned(wf)
	if got := e.task(second); got.Status != store.TaskPending {
		t.Fatalf("second task should stay pending: %+v", got)
	}
	if !slices.Contains(e.auditActions(second), audit.ActionAssignmentFailed) {
		t.Fatalf("missing assignment_failed audit for second task")
	}

	e.report(first, store.TaskInProgress, store.TaskCompleted)
	if e.load("solo") != 0 {
		t.Fatalf("load not released")
	}

	rec := workflow.NewReconciler(e.m, 0, 0, nil)
	pass, err := rec.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if pass.Assigned != 1 {
		t.Fatalf("pass = %+v", pass)
	}
	got := e.task(second)
	if got.Status != store.TaskAssigned || got.AssignedTo != "solo" {
		t.Fatalf("second task not assigned: %+v", got)
	}
	if e.load("solo") != 1 {
		t.Fatalf("load = %d, want 1", e.load("solo"))
	}
}

func TestFailureRetriesUntilBudgetExhausted(t *testing.T) {
	e := newEnv(t)
	testsupport.MustRegisterWorker(t, e.st, "editor", 1, "video_editing", "video_encoding")
	wf := e.create(3, "video_processing")
	taskID := wf.Tasks[0].ID
	e.start(wf.ID)
	rec := workflow.NewReconciler(e.m, 0, 0, nil)

	for attempt := 1; attempt <= 4; attempt++ {
		task := e.task(taskID)
		if task.Status != store.TaskAssigned {
			if _, err := rec.RunOnce(context.Background()); err != nil {
				t.Fatalf("RunOnce: %v", err)
			}
			task = e.task(taskID)
		}
		if task.Status != store.TaskAssigned {
			t.Fatalf("attempt %d: task not reassigned: %+v", attempt, task)
		}
		res := e.report(taskID, store.TaskInProgress, store.TaskFailed)
		if attempt <= 3 {
			if !res.Retried || res.Task.Status != store.TaskPending || res.Task.AssignedTo != "" {
				t.Fatalf("attempt %d: expected retry, got %+v", attempt, res.Task)
			}
			if res.WorkflowStatus != store.WorkflowProcessing {
				t.Fatalf("attempt %d: workflow = %s", attempt, res.WorkflowStatus)
			}
		}
		if e.load("editor") != 0 {
			t.Fatalf("attempt %d: load = %d", attempt, e.load("editor"))
		}
	}

	final := e.task(taskID)
	if final.Status != store.TaskFailed || final.RetryCount != 4 || final.AssignedTo != "editor" {
		t.Fatalf("expected terminal failure, got %+v", final)
	}
	if e.workflowStatus(wf.ID) != store.WorkflowPartialFailure {
		t.Fatalf("workflow = %s, want partial_failure", e.workflowStatus(wf.ID))
	}
	if _, err := e.m.UpdateTaskStatus(context.Background(), workflow.StatusUpdate{TaskID: taskID, Status: store.TaskInProgress}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("terminal task accepted a transition: %v", err)
	}
}

func TestDuplicateCompletionIsIdempotent(t *testing.T) {
	e := newEnv(t)
	testsupport.MustRegisterWorker(t, e.st, "social", 2, "social_media")
	wf := e.create(3, "social_clip", "social_clip")
	e.start(wf.ID)
	taskID := wf.Tasks[0].ID
	e.report(taskID, store.TaskInProgress)

	result := json.RawMessage(`{"clip":"s3://clips/1.mp4"}`)
	for i := 0; i < 2; i++ {
		res, err := e.m.UpdateTaskStatus(context.Background(), workflow.StatusUpdate{TaskID: taskID, Status: store.TaskCompleted, Result: result})
		if err != nil {
			t.Fatalf("completion %d: %v", i, err)
		}
		if (i == 0) != res.Changed {
			t.Fatalf("completion %d: changed = %v", i, res.Changed)
		}
	}
	if e.load("social") != 1 {
		t.Fatalf("load = %d, want 1", e.load("social"))
	}
	worker := testsupport.MustGetWorker(t, e.st, "social")
	if worker.Performance.CompletedCount != 1 {
		t.Fatalf("completed count = %d", worker.Performance.CompletedCount)
	}
	if got := e.task(taskID); string(got.Result) != string(result) || got.CompletedAt == nil {
		t.Fatalf("result not stored: %+v", got)
	}
}

func TestInvalidTransitionsAreRejected(t *testing.T) {
	e := newEnv(t)
	testsupport.MustRegisterWorker(t, e.st, "scribe", 1, "transcription")
	wf := e.create(3, "transcription")
	e.start(wf.ID)
	taskID := wf.Tasks[0].ID

	for _, status := range []store.TaskStatus{store.TaskCompleted, store.TaskPending, "exploded"} {
		if _, err := e.m.UpdateTaskStatus(context.Background(), workflow.StatusUpdate{TaskID: taskID, Status: status}); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", status, err)
		}
	}
	if got := e.task(taskID); got.Status != store.TaskAssigned || e.load("scribe") != 1 {
		t.Fatalf("rejected transition changed state: %+v", got)
	}
	if _, err := e.m.UpdateTaskStatus(context.Background(), workflow.StatusUpdate{TaskID: "nope", Status: store.TaskCompleted}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReviewRequiredResolves(t *testing.T) {
	e := newEnv(t)
	testsupport.MustRegisterWorker(t, e.st, "reviewer", 1, "ai_review")
	wf := e.create(3, "ai_metadata")
	e.start(wf.ID)
	taskID := wf.Tasks[0].ID

	res := e.report(taskID, store.TaskInProgress, store.TaskReviewRequired)
	if res.Task.Status != store.TaskReviewRequired || e.load("reviewer") != 1 {
		t.Fatalf("review must keep the slot: %+v", res.Task)
	}
	res = e.report(taskID, store.TaskCompleted)
	if res.WorkflowStatus != store.WorkflowCompleted || e.load("reviewer") != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	wfDone, err := e.m.GetWorkflow(context.Background(), wf.ID)
	if err != nil || wfDone.CompletedAt == nil {
		t.Fatalf("workflow completed_at missing: %+v, %v", wfDone, err)
	}
}

func TestWorkflowAggregation(t *testing.T) {
	e := newEnv(t)
	testsupport.MustRegisterWorker(t, e.st, "crew", 3, "transcription", "geotagging")
	wf := e.create(0, "transcription", "location_tagging", "transcription")
	e.start(wf.ID)
	a, b, c := wf.Tasks[0].ID, wf.Tasks[1].ID, wf.Tasks[2].ID

	if res := e.report(a, store.TaskInProgress, store.TaskCompleted); res.WorkflowStatus != store.WorkflowProcessing {
		t.Fatalf("after one completion: %s", res.WorkflowStatus)
	}
	if res := e.report(b, store.TaskInProgress, store.TaskFailed); res.WorkflowStatus != store.WorkflowPartialFailure {
		t.Fatalf("after terminal failure: %s", res.WorkflowStatus)
	}
	if res := e.report(c, store.TaskInProgress, store.TaskCompleted); res.WorkflowStatus != store.WorkflowPartialFailure {
		t.Fatalf("partial failure must stick: %s", res.WorkflowStatus)
	}

	progress, err := e.m.Progress(context.Background(), wf.ID)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if progress.Total != 3 || progress.Completed != 2 || progress.Failed != 1 || progress.Percentage < 66 || progress.Percentage > 67 {
		t.Fatalf("progress = %+v", progress)
	}
	if _, err := e.m.Progress(context.Background(), "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCancelledTasksCloseWorkflow(t *testing.T) {
	e := newEnv(t)
	testsupport.MustRegisterWorker(t, e.st, "crew", 2, "transcription")
	wf := e.create(3, "transcription", "transcription")
	e.start(wf.ID)
	a, b := wf.Tasks[0].ID, wf.Tasks[1].ID

	e.report(a, store.TaskInProgress, store.TaskCompleted)
	res, err := e.m.CancelTask(context.Background(), b, "producer")
	if err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	if res.WorkflowStatus != store.WorkflowCancelled || e.load("crew") != 0 {
		t.Fatalf("unexpected cancel result: %+v", res)
	}
	again, err := e.m.CancelTask(context.Background(), b, "producer")
	if err != nil || again.Changed {
		t.Fatalf("repeat cancel = %+v, %v", again, err)
	}
	if _, err := e.m.CancelTask(context.Background(), a, "producer"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("cancel of completed task: expected validation error, got %v", err)
	}
	if !slices.Contains(e.auditActions(b), audit.ActionTaskCancelled) {
		t.Fatal("missing task_cancelled audit")
	}
}

func TestCancelWorkflowReleasesLoad(t *testing.T) {
	e := newEnv(t)
	testsupport.MustRegisterWorker(t, e.st, "crew", 3, "video_editing", "video_encoding")
	wf := e.create(3, "video_processing", "thumbnail", "social_clip")
	e.start(wf.ID)
	e.report(wf.Tasks[0].ID, store.TaskInProgress)
	if e.load("crew") != 3 {
		t.Fatalf("load = %d, want 3", e.load("crew"))
	}

	closed, err := e.m.CancelWorkflow(context.Background(), wf.ID, "producer")
	if err != nil {
		t.Fatalf("CancelWorkflow: %v", err)
	}
	if closed.Status != store.WorkflowCancelled || e.load("crew") != 0 {
		t.Fatalf("unexpected state: %+v load=%d", closed, e.load("crew"))
	}
	for _, task := range closed.Tasks {
		if task.Status != store.TaskCancelled {
			t.Fatalf("task %s = %s", task.ID, task.Status)
		}
	}
	if _, err := e.m.CancelWorkflow(context.Background(), wf.ID, "producer"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("second cancel: expected validation error, got %v", err)
	}
}

func TestFailWorkflowRecordsReason(t *testing.T) {
	e := newEnv(t)
	wf := e.create(3, "transcription")
	failed, err := e.m.FailWorkflow(context.Background(), wf.ID, "source media missing", "system")
	if err != nil {
		t.Fatalf("FailWorkflow: %v", err)
	}
	if failed.Status != store.WorkflowFailed || failed.Error != "source media missing" || failed.CompletedAt == nil {
		t.Fatalf("unexpected workflow: %+v", failed)
	}
	if _, err := e.m.FailWorkflow(context.Background(), wf.ID, "", "system"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDispatchFailureReturnsTaskToPending(t *testing.T) {
	e := newEnv(t)
	testsupport.MustRegisterWorker(t, e.st, "scribe", 1, "transcription")
	e.bridge.fail(errQueueDown)
	wf := e.create(3, "transcription")

	res := e.start(wf.ID)
	if res.Assigned != 0 || res.Unassigned != 1 {
		t.Fatalf("unexpected start result: %+v", res)
	}
	task := e.task(wf.Tasks[0].ID)
	if task.Status != store.TaskPending || task.AssignedTo != "" || e.load("scribe") != 0 {
		t.Fatalf("assignment not undone: %+v", task)
	}
	actions := e.auditActions(task.ID)
	if !slices.Contains(actions, audit.ActionDispatchFailed) {
		t.Fatalf("audit actions = %v", actions)
	}

	e.bridge.fail(nil)
	assigned, err := e.m.ForceAssign(context.Background(), workflow.AssignRequest{TaskID: task.ID, WorkerID: "scribe", PerformedBy: "producer"})
	if err != nil || !assigned.Success || assigned.Strategy != assignment.KindManual {
		t.Fatalf("ForceAssign = %+v, %v", assigned, err)
	}
	if got := e.task(task.ID); got.JobHandle == "" {
		t.Fatalf("job handle missing after dispatch: %+v", got)
	}
}

func TestForceAssignRequiresActiveWorkflow(t *testing.T) {
	e := newEnv(t)
	testsupport.MustRegisterWorker(t, e.st, "scribe", 1, "transcription")
	wf := e.create(3, "transcription")
	if _, err := e.m.ForceAssign(context.Background(), workflow.AssignRequest{TaskID: wf.Tasks[0].ID}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHeartbeat(t *testing.T) {
	e := newEnv(t)
	testsupport.MustRegisterWorker(t, e.st, "scribe", 1, "transcription")
	wf := e.create(3, "transcription", "transcription")
	e.start(wf.ID)
	running, waiting := e.splitAssigned(wf)
	e.report(running, store.TaskInProgress)

	before := e.task(running).LastHeartbeat
	task, err := e.m.Heartbeat(context.Background(), running)
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if task.LastHeartbeat == nil || (before != nil && task.LastHeartbeat.Before(*before)) {
		t.Fatalf("heartbeat not advanced: %+v", task)
	}
	if _, err := e.m.Heartbeat(context.Background(), waiting); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("pending heartbeat: expected validation error, got %v", err)
	}
}

func TestReportsFromEarlierAttemptsAreIgnored(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	testsupport.MustRegisterWorker(t, e.st, "editor", 1, "video_editing", "video_encoding")
	wf := e.create(3, "video_processing")
	taskID := wf.Tasks[0].ID
	e.start(wf.ID)

	first := e.task(taskID).JobHandle
	if first == "" {
		t.Fatalf("expected a job handle after dispatch")
	}
	send := func(status store.TaskStatus, handle string) workflow.UpdateResult {
		t.Helper()
		res, err := e.m.UpdateTaskStatus(ctx, workflow.StatusUpdate{TaskID: taskID, Status: status, JobHandle: handle, Error: "render crashed"})
		if err != nil {
			t.Fatalf("UpdateTaskStatus(%s, %s): %v", status, handle, err)
		}
		return res
	}

	send(store.TaskInProgress, first)
	if res := send(store.TaskFailed, first); !res.Retried {
		t.Fatalf("expected first failure to retry, got %+v", res)
	}

	// Redelivered while the task waits for a new worker.
	for _, handle := range []string{first, ""} {
		res := send(store.TaskFailed, handle)
		if !res.Stale || res.Changed || res.Task.Status != store.TaskPending || res.Task.RetryCount != 1 {
			t.Fatalf("duplicate failure with handle %q was applied: %+v", handle, res)
		}
	}

	if _, err := workflow.NewReconciler(e.m, 0, 0, nil).RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	second := e.task(taskID).JobHandle
	if second == "" || second == first {
		t.Fatalf("expected a fresh job handle, got %q (first %q)", second, first)
	}
	send(store.TaskInProgress, second)

	// Redelivered after the next attempt started.
	for _, status := range []store.TaskStatus{store.TaskFailed, store.TaskCompleted} {
		res := send(status, first)
		if !res.Stale || res.Changed {
			t.Fatalf("late %s from the first attempt was applied: %+v", status, res)
		}
	}
	task := e.task(taskID)
	if task.Status != store.TaskInProgress || task.RetryCount != 1 || task.AssignedTo != "editor" {
		t.Fatalf("running attempt was disturbed: %+v", task)
	}
	if e.load("editor") != 1 {
		t.Fatalf("load = %d, want 1", e.load("editor"))
	}

	if res := send(store.TaskCompleted, second); !res.Changed || res.Task.Status != store.TaskCompleted {
		t.Fatalf("current attempt's completion was not applied: %+v", res)
	}
	if e.load("editor") != 0 {
		t.Fatalf("load = %d after completion", e.load("editor"))
	}
}

func TestReportBeforeHandleIsRecordedIsAConflict(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	testsupport.MustRegisterWorker(t, e.st, "tagger", 1, "geotagging")
	wf := e.create(3, "location_tagging")
	taskID := wf.Tasks[0].ID
	e.start(wf.ID)

	if err := e.st.WithTx(ctx, func(tx *store.Tx) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		task.JobHandle = ""
		return tx.UpdateTask(ctx, task)
	}); err != nil {
		t.Fatalf("clear handle: %v", err)
	}

	_, err := e.m.UpdateTaskStatus(ctx, workflow.StatusUpdate{TaskID: taskID, Status: store.TaskInProgress, JobHandle: "job-early"})
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if got := e.task(taskID); got.Status != store.TaskAssigned {
		t.Fatalf("task changed: %+v", got)
	}
}
