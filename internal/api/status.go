package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"sermonflow/internal/audit"
	"sermonflow/internal/services"
)

// listAudit returns audit entries oldest first.
// (GET /api/audit?task_id=&workflow_id=&action=&since=&until=&limit=)
func (s *Server) listAudit(c echo.Context) error {
	filter := audit.Filter{
		TaskID:     c.QueryParam("task_id"),
		WorkflowID: c.QueryParam("workflow_id"),
		Action:     c.QueryParam("action"),
	}
	var err error
	if filter.Since, err = parseTimeParam(c, "since"); err != nil {
		return err
	}
	if filter.Until, err = parseTimeParam(c, "until"); err != nil {
		return err
	}
	if raw := c.QueryParam("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil {
			return badRequest("invalid limit %q", raw)
		}
	}
	entries, err := s.audit.List(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, AuditList{Entries: nonNil(entries)})
}

// status reports store counts, database health and assignment counters.
// (GET /api/status)
func (s *Server) status(c echo.Context) error {
	ctx := c.Request().Context()
	summary, err := s.store.Summary(ctx)
	if err != nil {
		return services.Wrap(services.ErrTransient, "api", "status", "summarize store", err)
	}
	health, err := s.store.CheckHealth(ctx)
	if err != nil {
		return services.Wrap(services.ErrTransient, "api", "status", "check database", err)
	}
	engine := s.manager.Engine()
	resp := StatusResponse{
		Summary:    summary,
		Database:   health,
		Assignment: engine.Stats(),
		Strategy:   engine.DefaultStrategy(),
	}
	if s.reconciler != nil {
		last, lastErr := s.reconciler.LastPass()
		resp.Reconciler = &ReconcilerStatus{Running: s.reconciler.Running(), LastPass: last}
		if lastErr != nil {
			resp.Reconciler.LastError = lastErr.Error()
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func parseTimeParam(c echo.Context, name string) (time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, badRequest("invalid %s %q: expected RFC3339", name, raw)
	}
	return t.UTC(), nil
}
