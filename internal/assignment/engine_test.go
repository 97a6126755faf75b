package assignment_test

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"sermonflow/internal/assignment"
	"sermonflow/internal/audit"
	"sermonflow/internal/logging"
	"sermonflow/internal/scoring"
	"sermonflow/internal/services"
	"sermonflow/internal/store"
	"sermonflow/internal/testsupport"
	"sermonflow/internal/workers"
)

type fixture struct {
	st     *store.Store
	engine *assignment.Engine
	audit  *audit.Log
}

func newFixture(t *testing.T, opts ...assignment.Option) fixture {
	t.Helper()
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	logger := logging.NewNop()
	log := audit.New(st, logger)
	opts = append([]assignment.Option{assignment.WithRand(rand.New(rand.NewPCG(1, 2)))}, opts...)
	engine := assignment.NewEngine(st, workers.New(st, logger), scoring.New(scoring.DefaultWeights()), log, logger, opts...)
	return fixture{st: st, engine: engine, audit: log}
}

func pendingTask(t *testing.T, st *store.Store, skills ...string) *store.Task {
	t.Helper()
	wf := testsupport.MustInsertWorkflow(t, st, store.WorkflowProcessing, 3, skills)
	return wf.Tasks[0]
}

func TestSkillMatchPicksTopRankedWorker(t *testing.T) {
	f := newFixture(t)
	testsupport.MustRegisterWorker(t, f.st, "partial", 2, "transcription")
	testsupport.MustRegisterWorker(t, f.st, "full", 2, "transcription", "audio_editing")
	task := pendingTask(t, f.st, "audio_editing", "transcription")

	res, err := f.engine.Assign(context.Background(), assignment.Request{TaskID: task.ID, Strategy: assignment.KindSkillMatch})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if !res.Success || res.WorkerID != "full" || res.Strategy != assignment.KindSkillMatch {
		t.Fatalf("unexpected result: %+v", res)
	}

	got := testsupport.MustGetTask(t, f.st, task.ID)
	if got.Status != store.TaskAssigned || got.AssignedTo != "full" || got.AssignmentScore == nil || got.AssignedAt == nil {
		t.Fatalf("task not committed: %+v", got)
	}
	if w := testsupport.MustGetWorker(t, f.st, "full"); w.CurrentLoad != 1 {
		t.Fatalf("load = %d, want 1", w.CurrentLoad)
	}
	entries, err := f.audit.List(context.Background(), audit.Filter{TaskID: task.ID, Action: audit.ActionAssigned})
	if err != nil || len(entries) != 1 {
		t.Fatalf("audit entries = %v, %v", entries, err)
	}
	if entries[0].Details["worker_id"] != "full" {
		t.Fatalf("audit details: %+v", entries[0].Details)
	}
}

func TestAIFallbackCases(t *testing.T) {
	cases := []struct {
		name      string
		suggester assignment.Suggester
	}{
		{"not configured", nil},
		{"error", assignment.SuggesterFunc(func(context.Context, assignment.SuggestRequest) (assignment.Suggestion, error) {
			return assignment.Suggestion{}, errors.New("model overloaded")
		})},
		{"timeout", assignment.SuggesterFunc(func(ctx context.Context, _ assignment.SuggestRequest) (assignment.Suggestion, error) {
			<-ctx.Done()
			return assignment.Suggestion{}, ctx.Err()
		})},
		{"ineligible worker", assignment.SuggesterFunc(func(context.Context, assignment.SuggestRequest) (assignment.Suggestion, error) {
			return assignment.Suggestion{WorkerID: "ghost", Score: 0.9}, nil
		})},
		{"score out of range", assignment.SuggesterFunc(func(context.Context, assignment.SuggestRequest) (assignment.Suggestion, error) {
			return assignment.Suggestion{WorkerID: "editor", Score: 1.7}, nil
		})},
		{"NaN score", assignment.SuggesterFunc(func(context.Context, assignment.SuggestRequest) (assignment.Suggestion, error) {
			return assignment.Suggestion{WorkerID: "editor", Score: math.NaN()}, nil
		})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var opts []assignment.Option
			if tc.suggester != nil {
				opts = append(opts, assignment.WithSuggester(tc.suggester))
			}
			opts = append(opts, assignment.WithAITimeout(50*time.Millisecond))
			f := newFixture(t, opts...)
			testsupport.MustRegisterWorker(t, f.st, "editor", 1, "video_editing")
			task := pendingTask(t, f.st, "video_editing")

			res, err := f.engine.Assign(context.Background(), assignment.Request{TaskID: task.ID, Strategy: assignment.KindAI})
			if err != nil {
				t.Fatalf("Assign: %v", err)
			}
			if !res.Success || res.WorkerID != "editor" || res.Strategy != assignment.KindSkillMatch {
				t.Fatalf("expected skill_match fallback, got %+v", res)
			}
			if len(res.Errors) != 1 {
				t.Fatalf("expected one recorded ai error, got %v", res.Errors)
			}
			stats := f.engine.Stats()
			if stats.AIErrors != 1 || stats.Fallbacks != 1 || stats.Successes[assignment.KindSkillMatch] != 1 {
				t.Fatalf("stats = %+v", stats)
			}
		})
	}
}

func TestAITimeoutHoldsWhenSuggesterIgnoresContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	f := newFixture(t,
		assignment.WithAITimeout(50*time.Millisecond),
		assignment.WithSuggester(assignment.SuggesterFunc(func(context.Context, assignment.SuggestRequest) (assignment.Suggestion, error) {
			select {
			case <-release:
			case <-time.After(5 * time.Second):
			}
			return assignment.Suggestion{WorkerID: "editor", Score: 0.9}, nil
		})),
	)
	testsupport.MustRegisterWorker(t, f.st, "editor", 1, "video_editing")
	task := pendingTask(t, f.st, "video_editing")

	started := time.Now()
	res, err := f.engine.Assign(context.Background(), assignment.Request{TaskID: task.ID, Strategy: assignment.KindAI})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Fatalf("ai timeout not enforced, Assign took %s", elapsed)
	}
	if !res.Success || res.Strategy != assignment.KindSkillMatch {
		t.Fatalf("expected skill_match fallback, got %+v", res)
	}
}

func TestAISuggestionIsCommitted(t *testing.T) {
	var seen assignment.SuggestRequest
	f := newFixture(t, assignment.WithSuggester(assignment.SuggesterFunc(func(_ context.Context, req assignment.SuggestRequest) (assignment.Suggestion, error) {
		seen = req
		return assignment.Suggestion{WorkerID: "second", Score: 0.8, Reason: "knows the venue"}, nil
	})))
	testsupport.MustRegisterWorker(t, f.st, "first", 1, "geotagging")
	testsupport.MustRegisterWorker(t, f.st, "second", 1, "geotagging")
	task := pendingTask(t, f.st, "geotagging")

	res, err := f.engine.Assign(context.Background(), assignment.Request{TaskID: task.ID})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if res.WorkerID != "second" || res.Strategy != assignment.KindAI || res.Reason != "knows the venue" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Score == nil || *res.Score != 0.8 {
		t.Fatalf("score = %v", res.Score)
	}
	if len(seen.Roster) != 2 || seen.TaskType != task.TaskType {
		t.Fatalf("suggester saw %+v", seen)
	}
}

func TestWorkloadStrategyPrefersIdleWorker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testsupport.MustRegisterWorker(t, f.st, "a", 3, "social_media")
	testsupport.MustRegisterWorker(t, f.st, "b", 3, "social_media")
	if ok, _ := f.st.ReserveWorker(ctx, "a"); !ok {
		t.Fatal("reserve a")
	}
	task := pendingTask(t, f.st, "social_media")

	res, err := f.engine.Assign(ctx, assignment.Request{TaskID: task.ID, Strategy: assignment.KindWorkload})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if res.WorkerID != "b" {
		t.Fatalf("workload picked %s", res.WorkerID)
	}
}

func TestRandomStrategyStaysInPool(t *testing.T) {
	f := newFixture(t)
	testsupport.MustRegisterWorker(t, f.st, "x", 5, "graphic_design")
	testsupport.MustRegisterWorker(t, f.st, "y", 5, "graphic_design")
	testsupport.MustRegisterWorker(t, f.st, "other", 5, "transcription")
	for i := 0; i < 6; i++ {
		task := pendingTask(t, f.st, "graphic_design")
		res, err := f.engine.Assign(context.Background(), assignment.Request{TaskID: task.ID, Strategy: assignment.KindRandom})
		if err != nil {
			t.Fatalf("Assign: %v", err)
		}
		if res.WorkerID != "x" && res.WorkerID != "y" {
			t.Fatalf("random picked ineligible %s", res.WorkerID)
		}
	}
}

func TestNoEligibleWorkersLeavesTaskPending(t *testing.T) {
	f := newFixture(t)
	testsupport.MustRegisterWorker(t, f.st, "scribe", 1, "transcription")
	task := pendingTask(t, f.st, "video_encoding")

	res, err := f.engine.Assign(context.Background(), assignment.Request{TaskID: task.ID, Strategy: assignment.KindSkillMatch})
	if !errors.Is(err, services.ErrNoEligibleWorkers) {
		t.Fatalf("expected ErrNoEligibleWorkers, got %v", err)
	}
	if res.Success || res.Reason != assignment.ReasonNoEligibleWorkers {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := testsupport.MustGetTask(t, f.st, task.ID); got.Status != store.TaskPending || got.AssignedTo != "" {
		t.Fatalf("task changed: %+v", got)
	}
	entries, err := f.audit.List(context.Background(), audit.Filter{TaskID: task.ID})
	if err != nil || len(entries) != 1 || entries[0].Action != audit.ActionAssignmentFailed {
		t.Fatalf("expected assignment_failed audit, got %+v (%v)", entries, err)
	}

	for i := 0; i < 3; i++ {
		if _, err := f.engine.Assign(context.Background(), assignment.Request{TaskID: task.ID, Strategy: assignment.KindSkillMatch}); !errors.Is(err, services.ErrNoEligibleWorkers) {
			t.Fatalf("repeat %d: expected ErrNoEligibleWorkers, got %v", i, err)
		}
	}
	entries, err = f.audit.List(context.Background(), audit.Filter{TaskID: task.ID})
	if err != nil || len(entries) != 1 {
		t.Fatalf("repeated failures should not grow the audit log, got %d entries (%v)", len(entries), err)
	}
}

func TestEmptyRequirementAdmitsAnyFreeWorker(t *testing.T) {
	f := newFixture(t)
	testsupport.MustRegisterWorker(t, f.st, "generalist", 1, "metadata_entry")
	task := pendingTask(t, f.st)

	res, err := f.engine.Assign(context.Background(), assignment.Request{TaskID: task.ID, Strategy: assignment.KindSkillMatch})
	if err != nil || res.WorkerID != "generalist" {
		t.Fatalf("Assign = %+v, %v", res, err)
	}
}

func TestManualAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testsupport.MustRegisterWorker(t, f.st, "full", 1, "transcription")
	testsupport.MustRegisterWorker(t, f.st, "off", 1, "transcription")
	testsupport.MustRegisterWorker(t, f.st, "free", 1, "video_editing")
	if ok, _ := f.st.ReserveWorker(ctx, "full"); !ok {
		t.Fatal("reserve full")
	}
	if err := f.st.SetWorkerAvailable(ctx, "off", false); err != nil {
		t.Fatalf("SetWorkerAvailable: %v", err)
	}
	task := pendingTask(t, f.st, "transcription")

	for _, id := range []string{"full", "off", ""} {
		_, err := f.engine.Assign(ctx, assignment.Request{TaskID: task.ID, Strategy: assignment.KindManual, WorkerID: id})
		if !errors.Is(err, services.ErrValidation) {
			t.Fatalf("manual %q: expected validation error, got %v", id, err)
		}
	}
	if _, err := f.engine.Assign(ctx, assignment.Request{TaskID: task.ID, Strategy: assignment.KindManual, WorkerID: "nobody"}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if got := testsupport.MustGetTask(t, f.st, task.ID); got.Status != store.TaskPending {
		t.Fatalf("manual failure must not fall back: %+v", got)
	}

	res, err := f.engine.Assign(ctx, assignment.Request{TaskID: task.ID, Strategy: assignment.KindManual, WorkerID: "free", PerformedBy: "producer"})
	if err != nil || res.WorkerID != "free" || res.Strategy != assignment.KindManual {
		t.Fatalf("manual assign = %+v, %v", res, err)
	}
	entries, _ := f.audit.List(ctx, audit.Filter{TaskID: task.ID, Action: audit.ActionAssigned})
	if len(entries) != 1 || entries[0].PerformedBy != "producer" {
		t.Fatalf("audit = %+v", entries)
	}
}

func TestAssignRejectsNonPendingAndUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testsupport.MustRegisterWorker(t, f.st, "w", 2, "ai_review")
	task := pendingTask(t, f.st, "ai_review")
	if _, err := f.engine.Assign(ctx, assignment.Request{TaskID: task.ID}); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, err := f.engine.Assign(ctx, assignment.Request{TaskID: task.ID}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("second assign: expected validation error, got %v", err)
	}
	if _, err := f.engine.Assign(ctx, assignment.Request{TaskID: "missing"}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if w := testsupport.MustGetWorker(t, f.st, "w"); w.CurrentLoad != 1 {
		t.Fatalf("load = %d, want 1", w.CurrentLoad)
	}
}

func TestConcurrentAssignNeverOverbooks(t *testing.T) {
	f := newFixture(t)
	const capacity, tasks = 2, 6
	testsupport.MustRegisterWorker(t, f.st, "solo", capacity, "video_encoding")
	var ids []string
	for i := 0; i < tasks; i++ {
		ids = append(ids, pendingTask(t, f.st, "video_encoding").ID)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := f.engine.Assign(context.Background(), assignment.Request{TaskID: id, Strategy: assignment.KindSkillMatch})
			if err == nil && res.Success {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, services.ErrNoEligibleWorkers) && !errors.Is(err, services.ErrConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	if successes != capacity {
		t.Fatalf("successes = %d, want %d", successes, capacity)
	}
	if w := testsupport.MustGetWorker(t, f.st, "solo"); w.CurrentLoad != capacity {
		t.Fatalf("load = %d, want %d", w.CurrentLoad, capacity)
	}
}

func TestChainOrder(t *testing.T) {
	cases := map[assignment.Kind][]assignment.Kind{
		assignment.KindAI:         {assignment.KindAI, assignment.KindSkillMatch, assignment.KindWorkload, assignment.KindRandom},
		assignment.KindWorkload:   {assignment.KindWorkload, assignment.KindRandom},
		assignment.KindRandom:     {assignment.KindRandom},
		assignment.KindManual:     {assignment.KindManual},
		assignment.KindSkillMatch: {assignment.KindSkillMatch, assignment.KindWorkload, assignment.KindRandom},
	}
	for kind, want := range cases {
		got := assignment.Chain(kind)
		if len(got) != len(want) {
			t.Fatalf("Chain(%s) = %v, want %v", kind, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("Chain(%s) = %v, want %v", kind, got, want)
			}
		}
	}
	if _, err := assignment.ParseKind("Skill_Match"); err != nil {
		t.Fatalf("ParseKind: %v", err)
	}
	if _, err := assignment.ParseKind("round_robin"); err == nil {
		t.Fatal("expected unknown strategy error")
	}
}
