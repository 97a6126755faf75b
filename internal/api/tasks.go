package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"sermonflow/internal/services"
	"sermonflow/internal/store"
	"sermonflow/internal/workflow"
)

// listTasks returns tasks filtered by workflow, assignee and status.
// (GET /api/tasks?workflow_id=&assigned_to=&status=)
func (s *Server) listTasks(c echo.Context) error {
	statuses, err := parseTaskStatuses(c.QueryParam("status"))
	if err != nil {
		return err
	}
	tasks, err := s.manager.ListTasks(c.Request().Context(), store.TaskFilter{
		WorkflowID: c.QueryParam("workflow_id"),
		AssignedTo: c.QueryParam("assigned_to"),
		Statuses:   statuses,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, TaskList{Tasks: nonNil(tasks)})
}

// getTask returns one task. (GET /api/tasks/:id)
func (s *Server) getTask(c echo.Context) error {
	task, err := s.manager.GetTask(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, task)
}

// assignTask forces an assignment attempt. A worker id without a strategy
// means manual assignment. (POST /api/tasks/:id/assign)
func (s *Server) assignTask(c echo.Context) error {
	var body AssignBody
	if err := c.Bind(&body); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	strategy, err := parseStrategy(body.Strategy)
	if err != nil {
		return err
	}
	ctx := services.WithTaskID(c.Request().Context(), c.Param("id"))
	result, err := s.manager.ForceAssign(ctx, workflow.AssignRequest{
		TaskID:      c.Param("id"),
		Strategy:    strategy,
		WorkerID:    body.WorkerID,
		PerformedBy: services.ActorFromContext(ctx),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// updateTaskStatus applies a status report, usually the external queue's
// callback. Repeating the current status is a no-op.
// (POST /api/tasks/:id/status)
func (s *Server) updateTaskStatus(c echo.Context) error {
	var body StatusBody
	if err := c.Bind(&body); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	if body.Status == "" {
		return badRequest("status is required")
	}
	ctx := c.Request().Context()
	result, err := s.manager.UpdateTaskStatus(ctx, workflow.StatusUpdate{
		TaskID:      c.Param("id"),
		Status:      store.TaskStatus(body.Status),
		Result:      body.Result,
		Error:       body.Error,
		PerformedBy: services.ActorFromContext(ctx),
		JobHandle:   body.JobHandle,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// heartbeat refreshes the liveness stamp of an assigned or running task.
// (POST /api/tasks/:id/heartbeat)
func (s *Server) heartbeat(c echo.Context) error {
	task, err := s.manager.Heartbeat(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, task)
}

// cancelTask cancels one non-terminal task. (POST /api/tasks/:id/cancel)
func (s *Server) cancelTask(c echo.Context) error {
	ctx := c.Request().Context()
	result, err := s.manager.CancelTask(ctx, c.Param("id"), services.ActorFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}
