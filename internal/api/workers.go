package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"sermonflow/internal/workers"
)

// listWorkers returns registered workers. (GET /api/workers?active=true)
func (s *Server) listWorkers(c echo.Context) error {
	activeOnly := false
	if raw := c.QueryParam("active"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest("invalid active flag %q", raw)
		}
		activeOnly = v
	}
	list, err := s.workers.List(c.Request().Context(), activeOnly)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, WorkerList{Workers: nonNil(list)})
}

// registerWorker adds a worker to the pool. (POST /api/workers)
func (s *Server) registerWorker(c echo.Context) error {
	var req workers.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	worker, err := s.workers.Register(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, worker)
}

// getWorker returns one worker. (GET /api/workers/:id)
func (s *Server) getWorker(c echo.Context) error {
	worker, err := s.workers.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, worker)
}

// setAvailability toggles whether the worker takes new tasks.
// (POST /api/workers/:id/availability)
func (s *Server) setAvailability(c echo.Context) error {
	var body AvailabilityBody
	if err := c.Bind(&body); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	ctx := c.Request().Context()
	if err := s.workers.SetAvailability(ctx, c.Param("id"), body.Available); err != nil {
		return err
	}
	worker, err := s.workers.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, worker)
}

// deactivateWorker soft-deletes a worker. Tasks it already holds keep running.
// (POST /api/workers/:id/deactivate)
func (s *Server) deactivateWorker(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.workers.Deactivate(ctx, c.Param("id")); err != nil {
		return err
	}
	worker, err := s.workers.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, worker)
}
