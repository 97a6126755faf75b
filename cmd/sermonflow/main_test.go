package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sermonflow/internal/store"
	"sermonflow/internal/workflow"
)

type cliTestEnv struct {
	configPath string
	dataDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("SERMONFLOW_API_TOKEN", "")

	env := &cliTestEnv{
		configPath: filepath.Join(base, "config.toml"),
		dataDir:    filepath.Join(base, "data"),
	}
	content := fmt.Sprintf(`[paths]
data_dir = %q
log_dir = %q
api_bind = "127.0.0.1:0"

[assignment]
default_strategy = "skill_match"

[reconciliation]
enabled = false
`, env.dataDir, filepath.Join(base, "logs"))
	if err := os.WriteFile(env.configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", env.configPath, "--actor", "tester"}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func mustRunCLI(t *testing.T, env *cliTestEnv, args ...string) string {
	t.Helper()
	out, err := runCLI(t, env, args...)
	if err != nil {
		t.Fatalf("sermonflow %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func decodeJSON[T any](t *testing.T, raw string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return v
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q\n%s", needle, haystack)
	}
}

func TestWorkflowLifecycleThroughCLI(t *testing.T) {
	env := setupCLITestEnv(t)

	mustRunCLI(t, env, "worker", "add", "Alice", "--id", "alice", "--skill", "transcription,audio_editing", "--max", "2")

	wf := decodeJSON[store.Workflow](t, mustRunCLI(t, env, "--json", "workflow", "create", "Sunday service",
		"--task", "transcription", "--entity", "sermon-42"))
	if wf.Status != store.WorkflowCreated || len(wf.Tasks) != 1 {
		t.Fatalf("unexpected workflow: %+v", wf)
	}
	taskID := wf.Tasks[0].ID

	start := decodeJSON[workflow.StartResult](t, mustRunCLI(t, env, "--json", "workflow", "start", wf.ID))
	if start.Assigned != 1 || start.Unassigned != 0 {
		t.Fatalf("unexpected start result: %+v", start)
	}

	task := decodeJSON[store.Task](t, mustRunCLI(t, env, "--json", "task", "show", taskID))
	if task.Status != store.TaskAssigned || task.AssignedTo != "alice" {
		t.Fatalf("expected task assigned to alice, got %s/%s", task.Status, task.AssignedTo)
	}

	mustRunCLI(t, env, "task", "status", taskID, "in_progress")
	out := mustRunCLI(t, env, "task", "status", taskID, "completed", "--result", `{"words":1200}`)
	requireContains(t, out, "is now completed")

	out = mustRunCLI(t, env, "workflow", "show", wf.ID)
	requireContains(t, out, "Status:    completed")

	progress := decodeJSON[store.Progress](t, mustRunCLI(t, env, "--json", "workflow", "progress", wf.ID))
	if progress.Completed != 1 || progress.Percentage != 100 {
		t.Fatalf("unexpected progress: %+v", progress)
	}

	worker := decodeJSON[store.Worker](t, mustRunCLI(t, env, "--json", "worker", "show", "alice"))
	if worker.CurrentLoad != 0 || worker.Performance.CompletedCount != 1 {
		t.Fatalf("expected released load and one completion, got %+v", worker)
	}

	entries := decodeJSON[[]store.AuditEntry](t, mustRunCLI(t, env, "--json", "audit", "list", "--task", taskID))
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
		if e.Action == "assigned" && e.PerformedBy != "tester" {
			t.Fatalf("expected actor tester on assignment, got %q", e.PerformedBy)
		}
	}
	requireContains(t, strings.Join(actions, ","), "assigned")
	requireContains(t, strings.Join(actions, ","), "status_changed")
}

func TestManualAssignThroughCLI(t *testing.T) {
	env := setupCLITestEnv(t)

	mustRunCLI(t, env, "worker", "add", "Bob", "--id", "bob", "--skill", "graphic_design")
	wf := decodeJSON[store.Workflow](t, mustRunCLI(t, env, "--json", "workflow", "create", "Easter", "--task", "transcription"))

	start := decodeJSON[workflow.StartResult](t, mustRunCLI(t, env, "--json", "workflow", "start", wf.ID))
	if start.Assigned != 0 || start.Unassigned != 1 {
		t.Fatalf("expected no eligible worker, got %+v", start)
	}

	out := mustRunCLI(t, env, "task", "assign", wf.Tasks[0].ID, "--worker", "bob")
	requireContains(t, out, "assigned to bob via manual")

	out = mustRunCLI(t, env, "task", "list", "--worker", "bob")
	requireContains(t, out, wf.Tasks[0].ID)
}

func TestTaskStatusRejectsInvalidTransition(t *testing.T) {
	env := setupCLITestEnv(t)

	wf := decodeJSON[store.Workflow](t, mustRunCLI(t, env, "--json", "workflow", "create", "Vigil", "--task", "thumbnail"))
	if _, err := runCLI(t, env, "task", "status", wf.Tasks[0].ID, "completed"); err == nil {
		t.Fatalf("expected pending -> completed to be rejected")
	}
	if _, err := runCLI(t, env, "task", "status", wf.Tasks[0].ID, "done"); err == nil {
		t.Fatalf("expected unknown status to be rejected")
	}
}

func TestWorkflowCreateRejectsUnknownTaskType(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := runCLI(t, env, "workflow", "create", "Bad", "--task", "juggling"); err == nil {
		t.Fatalf("expected unknown task type to be rejected")
	}
}

func TestWorkerCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	mustRunCLI(t, env, "worker", "add", "Carol", "--id", "carol", "--skill", "geotagging")
	out := mustRunCLI(t, env, "worker", "availability", "carol", "false")
	requireContains(t, out, "available: no")

	out = mustRunCLI(t, env, "worker", "rating", "carol", "4.5")
	requireContains(t, out, "rating: 4.5")
	if _, err := runCLI(t, env, "worker", "rating", "carol", "9"); err == nil {
		t.Fatalf("expected out-of-range rating to fail")
	}

	mustRunCLI(t, env, "worker", "deactivate", "carol")
	list := decodeJSON[[]store.Worker](t, mustRunCLI(t, env, "--json", "worker", "list", "--active"))
	if len(list) != 0 {
		t.Fatalf("expected no active workers, got %d", len(list))
	}
	out = mustRunCLI(t, env, "worker", "list")
	requireContains(t, out, "carol")
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	mustRunCLI(t, env, "worker", "add", "Dan", "--id", "dan", "--max", "3")
	out := mustRunCLI(t, env, "status")
	requireContains(t, out, "not running")
	requireContains(t, out, "0 of 3 slots")

	report := decodeJSON[statusReport](t, mustRunCLI(t, env, "--json", "status"))
	if report.Daemon.Running || !report.Database.IntegrityCheck || report.Summary.ActiveWorkers != 1 {
		t.Fatalf("unexpected status report: %+v", report)
	}
	if report.DefaultStrategy != "skill_match" {
		t.Fatalf("expected skill_match default, got %q", report.DefaultStrategy)
	}

	out = mustRunCLI(t, env, "status", "--preflight")
	requireContains(t, out, "Data directory")
	requireContains(t, out, "read/write ok")
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out := mustRunCLI(t, env, "config", "validate")
	requireContains(t, out, "Configuration valid")

	target := filepath.Join(t.TempDir(), "config.toml")
	out = mustRunCLI(t, env, "config", "init", "--path", target)
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, err := runCLI(t, env, "config", "init", "--path", target); err == nil {
		t.Fatalf("expected init to refuse an existing file")
	}
}

func TestDaemonStatusWhenStopped(t *testing.T) {
	env := setupCLITestEnv(t)
	out := mustRunCLI(t, env, "daemon", "status")
	requireContains(t, out, "Daemon is not running")

	out = mustRunCLI(t, env, "daemon", "stop")
	requireContains(t, out, "Daemon is not running")
}

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusError, "not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Daemon:", "[ERROR] not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusOK, "running", true)
	if !strings.HasPrefix(got, ansiGreen) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected green colorized line, got %q", got)
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}

func TestParseTimeFlag(t *testing.T) {
	if ts, err := parseTimeFlag("since", ""); err != nil || !ts.IsZero() {
		t.Fatalf("expected zero time for empty flag, got %v %v", ts, err)
	}
	if _, err := parseTimeFlag("since", "2026-01-02T03:04:05Z"); err != nil {
		t.Fatalf("rfc3339: %v", err)
	}
	if _, err := parseTimeFlag("since", "2h"); err != nil {
		t.Fatalf("duration: %v", err)
	}
	if _, err := parseTimeFlag("since", "yesterday"); err == nil {
		t.Fatalf("expected error for unparseable value")
	}
}

func TestDaemonLogsPrintsTail(t *testing.T) {
	env := setupCLITestEnv(t)
	logPath := filepath.Join(filepath.Dir(env.dataDir), "logs", "sermonflow.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		t.Fatalf("mkdir logs: %v", err)
	}
	if err := os.WriteFile(logPath, []byte("one\ntwo\nthree\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	out := mustRunCLI(t, env, "daemon", "logs", "-n", "2")
	if out != "two\nthree\n" {
		t.Fatalf("unexpected log tail %q", out)
	}
}
