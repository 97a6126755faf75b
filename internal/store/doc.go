// Package store persists workflows, tasks, workers and the audit trail in
// SQLite.
//
// The schema is embedded and versioned; opening a database with a different
// version fails with ErrSchemaMismatch rather than migrating in place. All
// multi-row mutations run through WithTx so that a worker reservation, the
// task update that consumes it and the audit entry describing it commit or
// roll back together. Task rows carry an optimistic version counter; UpdateTask
// refuses to write over a concurrent change and reports ErrStaleVersion.
//
// Worker capacity is only ever changed with single conditional UPDATE
// statements (ReserveWorker, ReleaseWorker), never read-then-write, which keeps
// 0 <= current_load <= max_concurrent true under concurrent callers.
package store
