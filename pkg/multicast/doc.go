/*
Package multicast fans one logical HTTP call out to a set of units
concurrently and aggregates per-unit outcomes into a map keyed by unit
name.

Calls run over golang.org/x/sync/errgroup: each unit gets its own
goroutine and its own entry in the result map, guarded by a single
mutex rather than per-entry locks since contention is brief (one write
each). A per-unit failure never fails the group: a non-2xx answer is
recorded as that unit's UnitResult with OK false, no response at all
(timeout, connection refused) as a nil entry, and every other unit's
call proceeds independently, matching "partial success is not an
error".

Multicaster never decides how its result becomes visible to a caller;
pkg/orchestrator always wraps a Call inside a pkg/taskqueue.Func so
every multicast is addressable by a task id the HTTP API can return as
202 + result_url_path.
*/
package multicast
