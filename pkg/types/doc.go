/*
Package types defines the core data structures shared across the cluster
control plane: experiments, the worker inventory, worker/experiment
assignments, log records, time-series readings, worker-local job
instances, calibrations/estimators, and background tasks.

# Architecture

This package is the foundation of the control plane's data model. It
defines:

  - Cluster membership (Worker, its active/inactive lifecycle)
  - Experiment identity and metadata
  - The current and historical worker/experiment Assignment relation
  - LogRecord and TimeSeriesPoint, the two shapes persisted by pkg/store
    at high volume
  - JobInstance and PublishedSetting, the worker-local, transient view of
    a running job
  - Calibration and Estimator, worker-local YAML documents
  - Task, the leader-side asynchronous operation envelope

# Universal identifiers

Two sentinel strings stand in for "every unit" and "every experiment":
BroadcastUnit ("$broadcast") and UniversalExperiment ("$experiment").
Callers compare against these constants rather than hardcoding the
strings so a rename only touches this file.

# Usage

Creating an Experiment:

	exp := &types.Experiment{
		Experiment: "exp-001",
		CreatedAt:  time.Now().UTC(),
		MediaUsed:  "M9 minimal media",
	}

Creating a Task:

	task := &types.Task{
		ID:        uuid.New().String(),
		Kind:      "multicast",
		State:     types.TaskStatePending,
		CreatedAt: time.Now().UTC(),
	}

# Thread safety

Types in this package carry no behavior and are safe to read
concurrently; mutation and synchronization are the caller's
responsibility. pkg/store is the only component that persists them and
owns its own locking.

# See also

  - pkg/store for persistence
  - pkg/leaderapi, pkg/workerapi for the HTTP surfaces built on these types
  - pkg/taskqueue for Task lifecycle management
*/
package types
