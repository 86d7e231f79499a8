/*
Package store implements the leader's central, single-writer persistence
layer: experiments, the worker inventory, current and historical
worker/experiment assignments, unit labels, the centralized log stream,
decimatable time-series tables, and configuration history.

# Architecture

	┌──────────────────────── STORE ────────────────────────┐
	│                                                         │
	│   Modify(ctx, stmt, args)  ──▶  single-writer *sql.DB   │
	│   Query(ctx, stmt, args, one) ──▶ read-only *sql.DB     │
	│                                                         │
	│   Typed helpers (CreateExperiment, ListWorkers, ...)    │
	│   build their SQL on top of Modify/Query — they are     │
	│   not a second code path.                               │
	└─────────────────────────────────────────────────────────┘

Store is backed by modernc.org/sqlite (a pure-Go SQLite driver, avoiding
a cgo build requirement). The writer connection is opened with
SetMaxOpenConns(1) so that "leader is single-writer" is enforced by the
connection pool itself rather than by external discipline; a second,
read-only connection (opened with mode=ro) serves concurrent Query calls
without blocking on the writer.

Query enforces "query-only" mode: any statement that is not a SELECT or
PRAGMA is rejected before it reaches the database, matching the
contract's "attempts to write through the read path must fail".

Deleting an experiment cascades to its assignments and best-effort runs
an incremental vacuum afterward; vacuum failure is logged and does not
fail the request.

Workers keep their own local persistence in pkg/localstore; only the
leader uses this package.
*/
package store
