package clibridge

import (
	"context"

	"github.com/pioreactor/cluster-core/pkg/types"
	"github.com/pioreactor/cluster-core/pkg/workerapi"
)

// Worker bridges unit-local CLI actions (pio) directly onto the worker's
// own registries — no targeting step and no HTTP hop, symmetric with
// Leader but scoped to this unit only.
type Worker struct {
	API *workerapi.Server
}

// Run starts a job locally, honoring the same per-job-name debounce the
// HTTP endpoint applies.
func (w *Worker) Run(ctx context.Context, inv Invocation) (*types.Task, error) {
	if err := w.API.Jobs.CheckAndMarkRateLimit(inv.JobOrAction); err != nil {
		return nil, err
	}
	experiment := inv.Env["EXPERIMENT"]
	jobName := inv.JobOrAction
	return w.API.Tasks.Submit("run_job", "", func(ctx context.Context) (any, error) {
		return w.API.Jobs.Register(jobName, experiment, true), nil
	}), nil
}

// Kill stops matching local jobs and returns how many were stopped.
func (w *Worker) Kill(inv Invocation, allJobs bool) int {
	if allJobs {
		return w.API.Jobs.StopAll()
	}
	experiment := ""
	if len(inv.Experiments) == 1 {
		experiment = inv.Experiments[0]
	}
	return w.API.Jobs.StopMatching(inv.JobOrAction, experiment, inv.Options["job-id"])
}

// Running lists the unit's running jobs.
func (w *Worker) Running() []*types.JobInstance {
	return w.API.Jobs.Running()
}
