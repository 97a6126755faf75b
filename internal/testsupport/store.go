package testsupport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"sermonflow/internal/config"
	"sermonflow/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// MustRegisterWorker inserts an active, available worker.
func MustRegisterWorker(t testing.TB, st *store.Store, id string, maxConcurrent int, skills ...string) *store.Worker {
	t.Helper()

	worker, err := st.InsertWorker(context.Background(), &store.Worker{
		ID:            id,
		Name:          id,
		Skills:        skills,
		IsActive:      true,
		IsAvailable:   true,
		MaxConcurrent: maxConcurrent,
	})
	if err != nil {
		t.Fatalf("InsertWorker: %v", err)
	}
	return worker
}

// MustGetWorker reloads a worker by id.
func MustGetWorker(t testing.TB, st *store.Store, id string) *store.Worker {
	t.Helper()

	worker, err := st.GetWorker(context.Background(), id)
	if err != nil {
		t.Fatalf("GetWorker: %v", err)
	}
	return worker
}

// MustGetTask reloads a task by id.
func MustGetTask(t testing.TB, st *store.Store, id string) *store.Task {
	t.Helper()

	task, err := st.GetTask(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	return task
}

// MustInsertWorkflow writes a workflow with one pending task per task type.
func MustInsertWorkflow(t testing.TB, st *store.Store, status store.WorkflowStatus, maxRetries int, taskSkills ...[]string) *store.Workflow {
	t.Helper()

	wf := &store.Workflow{Name: "test", EntityRef: "sermon-1", Status: status, Priority: 3}
	for i, skills := range taskSkills {
		wf.Tasks = append(wf.Tasks, &store.Task{
			TaskType:       "task-" + string(rune('a'+i)),
			RequiredSkills: skills,
			MaxRetries:     maxRetries,
		})
	}
	if err := st.WithTx(context.Background(), func(tx *store.Tx) error {
		return tx.InsertWorkflow(context.Background(), wf)
	}); err != nil {
		t.Fatalf("InsertWorkflow: %v", err)
	}
	return wf
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
