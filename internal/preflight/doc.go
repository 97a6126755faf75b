// Package preflight provides readiness checks for the paths and external
// services the engine depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll on start and logs every failed check. A failure
//     does not stop the daemon; assignments still work without AI matching and
//     dispatch failures return tasks to pending.
//   - The CLI "sermonflow status --preflight" command prints the same results.
//
// Remote checks are gated by configuration. Unconfigured services are skipped.
package preflight
