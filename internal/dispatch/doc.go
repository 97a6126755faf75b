// Package dispatch hands assigned tasks to the external task queue.
//
// NewBridge returns an HTTP bridge when an endpoint is configured and a
// log-only bridge otherwise. The queue reports back asynchronously through
// the task status callback; nothing here waits for execution.
package dispatch
