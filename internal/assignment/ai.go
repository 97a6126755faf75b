package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sermonflow/internal/services"
	"sermonflow/internal/services/llm"
	"sermonflow/internal/store"
)

// SuggestRequest is what the AI-matching service sees.
type SuggestRequest struct {
	TaskType       string
	RequiredSkills []string
	Roster         []*store.Worker
}

// Suggestion is the service's answer. It is untrusted until validated.
type Suggestion struct {
	WorkerID string
	Score    float64
	Reason   string
}

// Suggester is the port to the external AI-matching service.
type Suggester interface {
	Suggest(ctx context.Context, req SuggestRequest) (Suggestion, error)
}

// SuggesterFunc adapts a function to Suggester.
type SuggesterFunc func(ctx context.Context, req SuggestRequest) (Suggestion, error)

// Suggest calls f.
func (f SuggesterFunc) Suggest(ctx context.Context, req SuggestRequest) (Suggestion, error) {
	return f(ctx, req)
}

type llmSuggester struct {
	client *llm.Client
}

// NewLLMSuggester adapts the chat client to the Suggester port.
func NewLLMSuggester(client *llm.Client) Suggester {
	return &llmSuggester{client: client}
}

func (s *llmSuggester) Suggest(ctx context.Context, req SuggestRequest) (Suggestion, error) {
	roster := make([]llm.RosterEntry, 0, len(req.Roster))
	for _, w := range req.Roster {
		roster = append(roster, llm.RosterEntry{
			ID:            w.ID,
			Skills:        w.Skills,
			Load:          w.CurrentLoad,
			MaxConcurrent: w.MaxConcurrent,
			Rating:        w.Performance.Rating,
		})
	}
	got, err := s.client.SuggestWorker(ctx, llm.MatchRequest{
		TaskType:       req.TaskType,
		RequiredSkills: req.RequiredSkills,
		WorkerRoster:   roster,
	})
	if err != nil {
		return Suggestion{}, err
	}
	return Suggestion{WorkerID: got.WorkerID, Score: got.Score, Reason: got.Reason}, nil
}

type aiStrategy struct {
	suggester Suggester
	timeout   time.Duration
}

func (*aiStrategy) Name() Kind { return KindAI }

// Choose bounds the suggester call by the configured timeout and rejects any
// answer naming a worker outside the pool or a score outside 0..1. Every
// failure is reported as ErrExternalService so the chain moves on.
func (s *aiStrategy) Choose(ctx context.Context, c Candidate) (Choice, error) {
	if s.suggester == nil {
		return Choice{}, services.Wrap(services.ErrExternalService, "assignment", "ai", "ai matching not configured", nil)
	}
	if len(c.Pool) == 0 {
		return Choice{}, errEmptyPool
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type reply struct {
		suggestion Suggestion
		err        error
	}
	done := make(chan reply, 1)
	go func() {
		got, err := s.suggester.Suggest(callCtx, SuggestRequest{
			TaskType:       c.Task.TaskType,
			RequiredSkills: c.Task.RequiredSkills,
			Roster:         c.Pool,
		})
		done <- reply{suggestion: got, err: err}
	}()

	var got Suggestion
	select {
	case r := <-done:
		got = r.suggestion
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return Choice{}, s.timedOut(r.err)
			}
			return Choice{}, services.Wrap(services.ErrExternalService, "assignment", "ai", "suggest failed", r.err)
		}
	case <-callCtx.Done():
		// The suggester may ignore its context; done is buffered so the
		// goroutine still exits once it returns.
		if ctx.Err() != nil {
			return Choice{}, services.Wrap(services.ErrExternalService, "assignment", "ai", "cancelled", ctx.Err())
		}
		return Choice{}, s.timedOut(callCtx.Err())
	}
	if !(got.Score >= 0 && got.Score <= 1) {
		return Choice{}, services.Wrap(services.ErrExternalService, "assignment", "ai", fmt.Sprintf("score %v outside 0..1", got.Score), nil)
	}
	if _, ok := c.scoreFor(got.WorkerID); !ok {
		return Choice{}, services.Wrap(services.ErrExternalService, "assignment", "ai", fmt.Sprintf("suggested worker %q is not eligible", got.WorkerID), nil)
	}
	reason := got.Reason
	if reason == "" {
		reason = "ai recommendation"
	}
	return Choice{WorkerID: got.WorkerID, Score: got.Score, Reason: reason}, nil
}

func (s *aiStrategy) timedOut(cause error) error {
	return services.Wrap(services.ErrExternalService, "assignment", "ai",
		fmt.Sprintf("timed out after %s", s.timeout), errors.Join(services.ErrTimeout, cause))
}
