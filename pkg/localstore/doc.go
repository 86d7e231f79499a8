/*
Package localstore is the worker-local persistent key/value store: a
single-file bbolt database recording which calibration and which
estimator is "active" for each device namespace on this unit.

Unlike pkg/store (the leader's single-writer SQLite database), every
worker process opens its own localstore under its own data directory;
there is no cross-worker coordination and no Modify/Query indirection —
callers work directly against named buckets.

Calibration and estimator documents themselves are YAML files on disk
(handled by pkg/workerapi); localstore only holds the pointer to which
document is "active" per device namespace, the one piece of state that
must survive a process restart and be readable without a filesystem
scan.

# Layout

Two buckets, active_calibrations and active_estimators, both keyed by
device namespace (e.g. "od", "temperature", "stirring") with the active
document name as the value. At most one entry exists per namespace; deleting the active pointer is idempotent.
*/
package localstore
