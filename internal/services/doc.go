// Package services defines shared utilities consumed by the assignment engine,
// the workflow manager and the external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, workflow IDs and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that let callers classify
//     failures (validation vs. no eligible worker vs. external service) with
//     errors.Is, and map them to HTTP statuses.
//
// Use these helpers when wiring new engine code so error handling and
// observability stay uniform across the orchestration layer.
package services
