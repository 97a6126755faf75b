// Package api exposes the engine over HTTP.
//
// The Server mounts workflow, task, worker, audit and status routes under
// /api on an echo router. Engine errors are rendered as RFC 7807
// problem+json documents whose status comes from services.HTTPStatus. The
// external job queue reports progress through POST /api/tasks/:id/status.
package api
