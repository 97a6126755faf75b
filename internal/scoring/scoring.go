// Package scoring ranks eligible workers for a task.
package scoring

import (
	"cmp"
	"slices"

	"sermonflow/internal/config"
	"sermonflow/internal/skills"
	"sermonflow/internal/store"
)

// Weights control how the score components combine.
type Weights struct {
	Skill        float64
	Workload     float64
	Availability float64
	// VeteranThreshold and VeteranDiscount scale availability down for workers
	// with more than VeteranThreshold completions. A discount of 1 disables it.
	VeteranThreshold int
	VeteranDiscount  float64
}

// DefaultWeights returns the stock weighting.
func DefaultWeights() Weights {
	return Weights{
		Skill:            0.6,
		Workload:         0.25,
		Availability:     0.15,
		VeteranThreshold: 100,
		VeteranDiscount:  0.9,
	}
}

// WeightsFromConfig reads the [scoring] section.
func WeightsFromConfig(cfg config.Scoring) Weights {
	return Weights{
		Skill:            cfg.SkillWeight,
		Workload:         cfg.WorkloadWeight,
		Availability:     cfg.AvailabilityWeight,
		VeteranThreshold: cfg.VeteranThreshold,
		VeteranDiscount:  cfg.VeteranDiscount,
	}
}

// TeamMemberScore is the breakdown for one worker.
type TeamMemberScore struct {
	WorkerID          string  `json:"worker_id"`
	SkillMatch        float64 `json:"skill_match"`
	WorkloadScore     float64 `json:"workload_score"`
	AvailabilityScore float64 `json:"availability_score"`
	Overall           float64 `json:"overall"`
	CurrentLoad       int     `json:"current_load"`
}

// Scorer computes TeamMemberScores.
type Scorer struct {
	weights Weights
}

// New returns a Scorer using w.
func New(w Weights) *Scorer {
	return &Scorer{weights: w}
}

// Weights returns the active weighting.
func (s *Scorer) Weights() Weights {
	return s.weights
}

// Score rates worker against requiredSkills. An empty requirement yields a
// skill match of zero.
func (s *Scorer) Score(worker *store.Worker, requiredSkills []string) TeamMemberScore {
	score := TeamMemberScore{
		WorkerID:    worker.ID,
		SkillMatch:  SkillMatch(worker.Skills, requiredSkills),
		CurrentLoad: worker.CurrentLoad,
	}
	if worker.MaxConcurrent > 0 {
		score.WorkloadScore = 1 - float64(worker.CurrentLoad)/float64(worker.MaxConcurrent)
	}
	score.AvailabilityScore = 1.0
	if worker.Performance.CompletedCount > s.weights.VeteranThreshold {
		score.AvailabilityScore *= s.weights.VeteranDiscount
	}
	score.Overall = s.weights.Skill*score.SkillMatch +
		s.weights.Workload*score.WorkloadScore +
		s.weights.Availability*score.AvailabilityScore
	return score
}

// Rank scores every worker and orders them by descending Overall, then lower
// current load, then worker id.
func (s *Scorer) Rank(workers []*store.Worker, requiredSkills []string) []TeamMemberScore {
	ranked := make([]TeamMemberScore, 0, len(workers))
	for _, worker := range workers {
		ranked = append(ranked, s.Score(worker, requiredSkills))
	}
	slices.SortStableFunc(ranked, func(a, b TeamMemberScore) int {
		if c := cmp.Compare(b.Overall, a.Overall); c != 0 {
			return c
		}
		if c := cmp.Compare(a.CurrentLoad, b.CurrentLoad); c != 0 {
			return c
		}
		return cmp.Compare(a.WorkerID, b.WorkerID)
	})
	return ranked
}

// SkillMatch returns the fraction of required skills the worker holds.
func SkillMatch(workerSkills, requiredSkills []string) float64 {
	required := skills.NormalizeNames(requiredSkills)
	if len(required) == 0 {
		return 0
	}
	held := make(map[string]struct{}, len(workerSkills))
	for _, name := range workerSkills {
		held[skills.NormalizeName(name)] = struct{}{}
	}
	matched := 0
	for _, name := range required {
		if _, ok := held[name]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}
