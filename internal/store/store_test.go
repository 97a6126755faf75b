package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sermonflow/internal/store"
	"sermonflow/internal/testsupport"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	return testsupport.MustOpenStore(t, testsupport.NewConfig(t))
}

func TestOpenReopensExistingDatabase(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	testsupport.MustRegisterWorker(t, st, "w1", 1, "transcription")
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st = testsupport.MustOpenStore(t, cfg)
	if w := testsupport.MustGetWorker(t, st, "w1"); w.Skills[0] != "transcription" {
		t.Fatalf("unexpected skills after reopen: %v", w.Skills)
	}

	health, err := st.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.DatabaseExists || !health.IntegrityCheck || health.SchemaVersion != 1 {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestReserveWorkerRespectsCapacity(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	testsupport.MustRegisterWorker(t, st, "w1", 2, "video")

	for i := 0; i < 2; i++ {
		ok, err := st.ReserveWorker(ctx, "w1")
		if err != nil || !ok {
			t.Fatalf("reserve %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, err := st.ReserveWorker(ctx, "w1")
	if err != nil {
		t.Fatalf("reserve over capacity: %v", err)
	}
	if ok {
		t.Fatal("expected reservation beyond capacity to fail")
	}

	for i := 0; i < 3; i++ {
		if err := st.ReleaseWorker(ctx, "w1"); err != nil {
			t.Fatalf("release: %v", err)
		}
	}
	if load := testsupport.MustGetWorker(t, st, "w1").CurrentLoad; load != 0 {
		t.Fatalf("expected load floored at 0, got %d", load)
	}
}

func TestReserveWorkerRejectsUnavailable(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	testsupport.MustRegisterWorker(t, st, "w1", 3)

	if err := st.SetWorkerAvailable(ctx, "w1", false); err != nil {
		t.Fatalf("SetWorkerAvailable: %v", err)
	}
	if ok, _ := st.ReserveWorker(ctx, "w1"); ok {
		t.Fatal("unavailable worker should not be reservable")
	}
	if err := st.SetWorkerAvailable(ctx, "w1", true); err != nil {
		t.Fatalf("SetWorkerAvailable: %v", err)
	}
	if err := st.SetWorkerActive(ctx, "w1", false); err != nil {
		t.Fatalf("SetWorkerActive: %v", err)
	}
	if ok, _ := st.ReserveWorker(ctx, "w1"); ok {
		t.Fatal("inactive worker should not be reservable")
	}
	if err := st.SetWorkerActive(ctx, "missing", true); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentReserveNeverOverbooks(t *testing.T) {
	st := openStore(t)
	testsupport.MustRegisterWorker(t, st, "w1", 3)

	var wg sync.WaitGroup
	var granted atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.ReserveWorker(context.Background(), "w1")
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			if ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := granted.Load(); got != 3 {
		t.Fatalf("expected exactly 3 reservations, got %d", got)
	}
	if load := testsupport.MustGetWorker(t, st, "w1").CurrentLoad; load != 3 {
		t.Fatalf("expected load 3, got %d", load)
	}
}

func TestUpdateTaskDetectsStaleVersion(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	wf := testsupport.MustInsertWorkflow(t, st, store.WorkflowProcessing, 3, []string{"transcription"})
	taskID := wf.Tasks[0].ID

	first := testsupport.MustGetTask(t, st, taskID)
	second := testsupport.MustGetTask(t, st, taskID)

	first.Status = store.TaskCancelled
	if err := st.WithTx(ctx, func(tx *store.Tx) error { return tx.UpdateTask(ctx, first) }); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if first.Version != 2 {
		t.Fatalf("expected version advanced to 2, got %d", first.Version)
	}

	second.Status = store.TaskAssigned
	err := st.WithTx(ctx, func(tx *store.Tx) error { return tx.UpdateTask(ctx, second) })
	if !errors.Is(err, store.ErrStaleVersion) {
		t.Fatalf("expected ErrStaleVersion, got %v", err)
	}
	if got := testsupport.MustGetTask(t, st, taskID); got.Status != store.TaskCancelled {
		t.Fatalf("stale write must not apply, status=%s", got.Status)
	}
}

func TestWithTxRollsBackReservation(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	testsupport.MustRegisterWorker(t, st, "w1", 1)

	boom := errors.New("audit write failed")
	err := st.WithTx(ctx, func(tx *store.Tx) error {
		ok, err := tx.ReserveWorker(ctx, "w1")
		if err != nil || !ok {
			t.Fatalf("reserve in tx: ok=%v err=%v", ok, err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected rollback error, got %v", err)
	}
	if load := testsupport.MustGetWorker(t, st, "w1").CurrentLoad; load != 0 {
		t.Fatalf("reservation leaked after rollback: load=%d", load)
	}
}

func TestTransitionWorkflowIsConditional(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	wf := testsupport.MustInsertWorkflow(t, st, store.WorkflowCreated, 3, []string{"a"})

	var moved, movedAgain bool
	err := st.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		moved, err = tx.TransitionWorkflow(ctx, wf.ID, []store.WorkflowStatus{store.WorkflowCreated}, store.WorkflowProcessing, "")
		if err != nil {
			return err
		}
		movedAgain, err = tx.TransitionWorkflow(ctx, wf.ID, []store.WorkflowStatus{store.WorkflowCreated}, store.WorkflowProcessing, "")
		return err
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !moved || movedAgain {
		t.Fatalf("expected exactly one transition, got %v/%v", moved, movedAgain)
	}

	got, err := st.GetWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if got.Status != store.WorkflowProcessing || got.StartedAt == nil || got.CompletedAt != nil {
		t.Fatalf("unexpected workflow after start: %+v", got)
	}
}

func TestAuditLogIsAppendOnlyAndFilterable(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, action := range []string{"assigned", "status_changed", "assigned"} {
		entry := &store.AuditEntry{
			TaskID:    "t1",
			Action:    action,
			Details:   map[string]any{"n": i},
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := st.InsertAudit(ctx, entry); err != nil {
			t.Fatalf("InsertAudit: %v", err)
		}
	}

	entries, err := st.ListAudit(ctx, store.AuditFilter{TaskID: "t1", Action: "assigned"})
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(entries) != 2 || entries[0].PerformedBy != "system" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	latest, err := st.ListAudit(ctx, store.AuditFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListAudit limit: %v", err)
	}
	if len(latest) != 1 || latest[0].Details["n"] != float64(2) {
		t.Fatalf("expected newest entry, got %+v", latest)
	}

	windowed, err := st.ListAudit(ctx, store.AuditFilter{Since: base.Add(30 * time.Second), Until: base.Add(90 * time.Second)})
	if err != nil {
		t.Fatalf("ListAudit window: %v", err)
	}
	if len(windowed) != 1 || windowed[0].Action != "status_changed" {
		t.Fatalf("unexpected windowed entries: %+v", windowed)
	}

	err = st.WithTx(ctx, func(tx *store.Tx) error {
		return tx.UpdateTask(ctx, &store.Task{ID: "missing", Version: 1})
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing task, got %v", err)
	}
}

func TestListAssignablePendingSkipsCreatedWorkflows(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	testsupport.MustInsertWorkflow(t, st, store.WorkflowCreated, 3, []string{"a"})
	active := testsupport.MustInsertWorkflow(t, st, store.WorkflowProcessing, 3, []string{"a"}, []string{"b"})

	pending, err := st.ListAssignablePending(ctx)
	if err != nil {
		t.Fatalf("ListAssignablePending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending tasks, got %d", len(pending))
	}
	for _, task := range pending {
		if task.WorkflowID != active.ID {
			t.Fatalf("task from inactive workflow returned: %+v", task)
		}
	}

	progress := store.ProgressFromCounts(map[store.TaskStatus]int{store.TaskCompleted: 1, store.TaskPending: 1, store.TaskAssigned: 2})
	if progress.Total != 4 || progress.InProgress != 2 || progress.Percentage != 25 {
		t.Fatalf("unexpected progress: %+v", progress)
	}
}
