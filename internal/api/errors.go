package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"sermonflow/internal/logging"
	"sermonflow/internal/services"
)

const problemContentType = "application/problem+json"

// Problem is an RFC 7807 error document.
type Problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func problemType(err error) string {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return "not_found"
	case errors.Is(err, services.ErrValidation):
		return "validation"
	case errors.Is(err, services.ErrNoEligibleWorkers):
		return "no_eligible_workers"
	case errors.Is(err, services.ErrConflict):
		return "conflict"
	case errors.Is(err, services.ErrTimeout):
		return "timeout"
	case errors.Is(err, services.ErrExternalService):
		return "external_service"
	default:
		return "internal"
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	problem := Problem{Instance: c.Request().URL.Path}
	if id, ok := services.RequestIDFromContext(c.Request().Context()); ok {
		problem.RequestID = id
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		problem.Status = he.Code
		problem.Type = "http"
		problem.Detail = fmt.Sprint(he.Message)
		if he.Code == http.StatusBadRequest {
			problem.Type = "validation"
		}
	} else {
		problem.Status = services.HTTPStatus(err)
		problem.Type = problemType(err)
		problem.Detail = err.Error()
	}
	problem.Title = http.StatusText(problem.Status)

	if problem.Status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(c.Request().Context(), s.logger), "api request failed", "api_error",
			logging.String("path", problem.Instance),
			logging.Int("status", problem.Status),
			logging.Error(err),
		)
	}

	body, merr := json.Marshal(problem)
	if merr != nil {
		_ = c.NoContent(problem.Status)
		return
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(problem.Status)
		return
	}
	_ = c.Blob(problem.Status, problemContentType, body)
}

func badRequest(format string, args ...any) error {
	return services.Validation("api", "request", fmt.Sprintf(format, args...))
}
