// Command sermonflow runs and administers the sermon media task engine.
//
// "sermonflow daemon run" starts the long-running process that assigns tasks,
// reconciles stale and failed work, and serves the HTTP API. Every other
// command opens the SQLite database directly, so workflows, tasks and workers
// can be inspected and managed whether or not the daemon is running.
package main
