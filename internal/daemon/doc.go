// Package daemon coordinates the long-running sermonflow process.
//
// It wires configuration, the SQLite store, the skill and worker registries,
// the assignment engine, the dispatch bridge, the workflow manager and the
// reconciliation loop into a single lifecycle, with flock-based locking to
// prevent multiple instances. The HTTP API is served from here so the
// external job queue has a callback target while the daemon runs.
//
// Keep orchestration logic here: assignment and lifecycle rules live in their
// own packages while the daemon focuses on startup, shutdown and high level
// coordination.
package daemon
