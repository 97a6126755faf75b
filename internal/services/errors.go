package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrValidation marks invalid transitions, unknown references and
	// ineligible manual assignments. Never retried automatically.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a missing workflow, task or worker. It is a kind of
	// validation error and also matches ErrValidation.
	ErrNotFound = fmt.Errorf("%w: not found", ErrValidation)
	// ErrNoEligibleWorkers leaves the task pending for the reconciliation sweep.
	ErrNoEligibleWorkers = errors.New("no eligible workers")
	// ErrExternalService marks AI-matching and dispatch failures.
	ErrExternalService = errors.New("external service error")
	// ErrConflict marks a lost optimistic-concurrency race.
	ErrConflict = errors.New("conflict")
	// ErrTimeout marks a bounded call that ran out of time.
	ErrTimeout = errors.New("timeout")
	// ErrTransient marks store and I/O failures a caller may retry.
	ErrTransient = errors.New("transient failure")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Validation is shorthand for Wrap(ErrValidation, ...) without a cause.
func Validation(component, operation, message string) error {
	return Wrap(ErrValidation, component, operation, message, nil)
}

// HTTPStatus maps an engine error to the status code the API surface returns.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict), errors.Is(err, ErrNoEligibleWorkers):
		return http.StatusConflict
	case errors.Is(err, ErrExternalService), errors.Is(err, ErrTimeout):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
