/*
Package workerapi implements the worker-local HTTP surface mounted at
/unit_api/..., callable only by the leader.

A Server holds every piece of worker-local state as plain struct
fields — a JobRegistry tracking currently-running jobs, two
DocumentStore instances (calibrations and estimators) backed by YAML
files on disk plus a pkg/localstore pointer to whichever document is
active, a SessionRegistry for the interactive calibration wizard, a
SystemManager for filesystem browsing and power/clock operations, and a
PluginManager for plugin install/uninstall — and wires them onto a
gorilla/mux router in Router().

Mutating operations that touch the filesystem or the OS (remove a
file, reboot, shut down, update, sync the clock, install a plugin,
import an archive) are never run on the request goroutine: each is
submitted to the shared pkg/taskqueue.Queue, which returns a task
handle the caller polls. A second run of the same job name within one
second is rejected with HTTP 429 rather than silently coalescing.

# See also

  - pkg/localstore for the active-calibration/active-estimator pointer
  - pkg/taskqueue for the async task/lock machinery these handlers submit onto
  - pkg/apierror for the error envelope every handler renders through
*/
package workerapi
