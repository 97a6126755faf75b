package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// WorkerMatchPrompt instructs the model to pick one worker for a task.
const WorkerMatchPrompt = `You assign work in a sermon media pipeline.
You receive a task type, the skills it requires and a roster of candidate workers.
Each roster entry lists the worker id, skills, current load, capacity and rating.
Pick exactly one worker from the roster. Prefer workers holding more of the
required skills, then lower load relative to capacity, then higher rating.
Respond with JSON only:
{"assigned_worker_id": "<id from roster>", "score": <0..1 confidence>, "reason": "<one sentence>"}`

// RosterEntry summarizes one candidate for the model.
type RosterEntry struct {
	ID            string   `json:"id"`
	Skills        []string `json:"skills"`
	Load          int      `json:"load"`
	MaxConcurrent int      `json:"max_concurrent"`
	Rating        float64  `json:"rating"`
}

// MatchRequest is the payload sent to the model.
type MatchRequest struct {
	TaskType       string        `json:"task_type"`
	RequiredSkills []string      `json:"required_skills"`
	WorkerRoster   []RosterEntry `json:"worker_roster"`
}

// Suggestion is the model's validated answer.
type Suggestion struct {
	WorkerID string  `json:"assigned_worker_id"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason"`
	Raw      string  `json:"-"`
}

// ErrInvalidSuggestion marks a response that parsed but violates the schema.
var ErrInvalidSuggestion = errors.New("invalid worker suggestion")

// SuggestWorker asks the model to choose a worker from req.WorkerRoster.
func (c *Client) SuggestWorker(ctx context.Context, req MatchRequest) (Suggestion, error) {
	if len(req.WorkerRoster) == 0 {
		return Suggestion{}, errors.New("llm suggest: empty roster")
	}
	encoded, err := json.Marshal(req)
	if err != nil {
		return Suggestion{}, fmt.Errorf("llm suggest: encode request: %w", err)
	}
	content, err := c.CompleteJSON(ctx, WorkerMatchPrompt, string(encoded))
	if err != nil {
		return Suggestion{}, err
	}
	return ParseSuggestion(content)
}

// ParseSuggestion decodes and validates a model response.
func ParseSuggestion(content string) (Suggestion, error) {
	var raw struct {
		WorkerID *string  `json:"assigned_worker_id"`
		Score    *float64 `json:"score"`
		Reason   string   `json:"reason"`
	}
	if err := DecodeLLMJSON(content, &raw); err != nil {
		return Suggestion{}, fmt.Errorf("llm suggest: parse payload: %w", err)
	}
	if raw.WorkerID == nil || strings.TrimSpace(*raw.WorkerID) == "" {
		return Suggestion{}, fmt.Errorf("%w: missing assigned_worker_id", ErrInvalidSuggestion)
	}
	if raw.Score == nil || *raw.Score < 0 || *raw.Score > 1 {
		return Suggestion{}, fmt.Errorf("%w: score must be within 0..1", ErrInvalidSuggestion)
	}
	return Suggestion{
		WorkerID: strings.TrimSpace(*raw.WorkerID),
		Score:    *raw.Score,
		Reason:   strings.TrimSpace(raw.Reason),
		Raw:      content,
	}, nil
}
