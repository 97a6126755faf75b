package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"sermonflow/internal/assignment"
	"sermonflow/internal/services"
	"sermonflow/internal/store"
	"sermonflow/internal/workflow"
)

// createWorkflow creates a workflow with one pending task per task type.
// (POST /api/workflows)
func (s *Server) createWorkflow(c echo.Context) error {
	var req workflow.CreateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	wf, err := s.manager.CreateWorkflow(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, wf)
}

// listWorkflows returns workflows, optionally filtered by a comma separated
// status list. (GET /api/workflows?status=)
func (s *Server) listWorkflows(c echo.Context) error {
	statuses, err := parseWorkflowStatuses(c.QueryParam("status"))
	if err != nil {
		return err
	}
	workflows, err := s.manager.ListWorkflows(c.Request().Context(), statuses...)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, WorkflowList{Workflows: nonNil(workflows)})
}

// getWorkflow returns one workflow with its tasks.
// (GET /api/workflows/:id)
func (s *Server) getWorkflow(c echo.Context) error {
	wf, err := s.manager.GetWorkflow(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, wf)
}

// startWorkflow moves a created workflow to processing and assigns its tasks.
// (POST /api/workflows/:id/start?strategy=)
func (s *Server) startWorkflow(c echo.Context) error {
	strategy, err := parseStrategy(c.QueryParam("strategy"))
	if err != nil {
		return err
	}
	ctx := services.WithWorkflowID(c.Request().Context(), c.Param("id"))
	result, err := s.manager.StartWorkflow(ctx, c.Param("id"), strategy)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// cancelWorkflow cancels every open task and closes the workflow.
// (POST /api/workflows/:id/cancel)
func (s *Server) cancelWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	wf, err := s.manager.CancelWorkflow(ctx, c.Param("id"), services.ActorFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, wf)
}

// failWorkflow records an orchestration-level failure.
// (POST /api/workflows/:id/fail)
func (s *Server) failWorkflow(c echo.Context) error {
	var req FailRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	ctx := c.Request().Context()
	wf, err := s.manager.FailWorkflow(ctx, c.Param("id"), req.Reason, services.ActorFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, wf)
}

// workflowProgress returns per-status task counts and percentage complete.
// (GET /api/workflows/:id/progress)
func (s *Server) workflowProgress(c echo.Context) error {
	progress, err := s.manager.Progress(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, progress)
}

func parseWorkflowStatuses(raw string) ([]store.WorkflowStatus, error) {
	var out []store.WorkflowStatus
	for _, part := range splitList(raw) {
		status, ok := store.ParseWorkflowStatus(part)
		if !ok {
			return nil, badRequest("unknown workflow status %q", part)
		}
		out = append(out, status)
	}
	return out, nil
}

func parseTaskStatuses(raw string) ([]store.TaskStatus, error) {
	var out []store.TaskStatus
	for _, part := range splitList(raw) {
		status, ok := store.ParseTaskStatus(part)
		if !ok {
			return nil, badRequest("unknown task status %q", part)
		}
		out = append(out, status)
	}
	return out, nil
}

func parseStrategy(raw string) (assignment.Kind, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	kind, err := assignment.ParseKind(raw)
	if err != nil {
		return "", badRequest("%v", err)
	}
	return kind, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
