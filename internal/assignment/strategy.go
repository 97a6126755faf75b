package assignment

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"

	"sermonflow/internal/scoring"
	"sermonflow/internal/store"
)

// Kind names an assignment strategy.
type Kind string

const (
	KindAI         Kind = "ai"
	KindSkillMatch Kind = "skill_match"
	KindWorkload   Kind = "workload"
	KindRandom     Kind = "random"
	KindManual     Kind = "manual"
)

// fallbackOrder is the fixed chain automatic strategies fall back through.
var fallbackOrder = []Kind{KindAI, KindSkillMatch, KindWorkload, KindRandom}

// ParseKind converts a string to a Kind. An empty string is an error so
// callers substitute their own default first.
func ParseKind(value string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(value)))
	if kind == KindManual || slices.Contains(fallbackOrder, kind) {
		return kind, nil
	}
	return "", fmt.Errorf("unknown assignment strategy %q", value)
}

// Kinds lists every strategy.
func Kinds() []Kind {
	return append(slices.Clone(fallbackOrder), KindManual)
}

// Chain returns kind followed by the strategies after it in the fallback
// order. Manual has no fallback.
func Chain(kind Kind) []Kind {
	if kind == KindManual {
		return []Kind{KindManual}
	}
	idx := slices.Index(fallbackOrder, kind)
	if idx < 0 {
		return slices.Clone(fallbackOrder)
	}
	return slices.Clone(fallbackOrder[idx:])
}

// Candidate is what a strategy chooses from.
type Candidate struct {
	Task   *store.Task
	Pool   []*store.Worker
	Ranked []scoring.TeamMemberScore
}

func (c Candidate) scoreFor(workerID string) (scoring.TeamMemberScore, bool) {
	for _, s := range c.Ranked {
		if s.WorkerID == workerID {
			return s, true
		}
	}
	return scoring.TeamMemberScore{}, false
}

// Choice is a strategy's pick.
type Choice struct {
	WorkerID string
	Score    float64
	Reason   string
}

// Strategy picks one worker from a non-empty candidate pool.
type Strategy interface {
	Name() Kind
	Choose(ctx context.Context, c Candidate) (Choice, error)
}

var errEmptyPool = errors.New("empty candidate pool")

type skillMatchStrategy struct{}

func (skillMatchStrategy) Name() Kind { return KindSkillMatch }

func (skillMatchStrategy) Choose(_ context.Context, c Candidate) (Choice, error) {
	if len(c.Ranked) == 0 {
		return Choice{}, errEmptyPool
	}
	top := c.Ranked[0]
	return Choice{
		WorkerID: top.WorkerID,
		Score:    top.Overall,
		Reason: fmt.Sprintf("top skill match (skill %.2f, workload %.2f, availability %.2f)",
			top.SkillMatch, top.WorkloadScore, top.AvailabilityScore),
	}, nil
}

type workloadStrategy struct{}

func (workloadStrategy) Name() Kind { return KindWorkload }

func (workloadStrategy) Choose(_ context.Context, c Candidate) (Choice, error) {
	if len(c.Pool) == 0 {
		return Choice{}, errEmptyPool
	}
	best := slices.MinFunc(c.Pool, func(a, b *store.Worker) int {
		if a.CurrentLoad != b.CurrentLoad {
			return a.CurrentLoad - b.CurrentLoad
		}
		return strings.Compare(a.ID, b.ID)
	})
	score, _ := c.scoreFor(best.ID)
	return Choice{
		WorkerID: best.ID,
		Score:    score.Overall,
		Reason:   fmt.Sprintf("lowest load (%d/%d)", best.CurrentLoad, best.MaxConcurrent),
	}, nil
}

type randomStrategy struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newRandomStrategy(rng *rand.Rand) *randomStrategy {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &randomStrategy{rng: rng}
}

func (*randomStrategy) Name() Kind { return KindRandom }

func (s *randomStrategy) Choose(_ context.Context, c Candidate) (Choice, error) {
	if len(c.Pool) == 0 {
		return Choice{}, errEmptyPool
	}
	s.mu.Lock()
	pick := c.Pool[s.rng.IntN(len(c.Pool))]
	s.mu.Unlock()
	score, _ := c.scoreFor(pick.ID)
	return Choice{
		WorkerID: pick.ID,
		Score:    score.Overall,
		Reason:   fmt.Sprintf("random pick among %d eligible workers", len(c.Pool)),
	}, nil
}
