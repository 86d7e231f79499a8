package workerapi

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pioreactor/cluster-core/pkg/apierror"
	"github.com/pioreactor/cluster-core/pkg/types"
)

// JobRegistry is the worker-local, in-memory record of running jobs.
// It is the only authoritative source for "what is running on this
// unit right now" — lifecycle transitions arrive over the Bus and are
// applied here by the worker daemon's command subscriber
// (cmd/pioreactord).
//
// Adapted from the sync-loop-over-a-map shape of a periodic health
// monitor: instead of polling container state, Register/Transition are
// called directly by whoever observes a state change (job spawn, Bus
// $state command, liveness sweep), since job lifecycle here is
// event-driven rather than exec-probed.
type JobRegistry struct {
	mu   sync.RWMutex
	jobs map[string]*types.JobInstance

	debounceMu sync.Mutex
	lastRun    map[string]time.Time
}

// RunDebounce is the minimum interval between two /jobs/run requests for
// the same job_name.
const RunDebounce = time.Second

// NewJobRegistry returns an empty registry.
func NewJobRegistry() *JobRegistry {
	return &JobRegistry{
		jobs:    make(map[string]*types.JobInstance),
		lastRun: make(map[string]time.Time),
	}
}

// CheckAndMarkRateLimit returns apierror KindRateLimited (HTTP 429) if
// jobName was started within the last RunDebounce, and otherwise records
// now as its last-run time.
func (r *JobRegistry) CheckAndMarkRateLimit(jobName string) error {
	r.debounceMu.Lock()
	defer r.debounceMu.Unlock()

	now := time.Now()
	if last, ok := r.lastRun[jobName]; ok && now.Sub(last) < RunDebounce {
		return apierror.RateLimitedf("job run rate-limited")
	}
	r.lastRun[jobName] = now
	return nil
}

// Register adds a newly-started job to the registry and returns the new
// instance, whose JobID is generated here.
func (r *JobRegistry) Register(jobName, experiment string, longRunning bool) *types.JobInstance {
	job := &types.JobInstance{
		JobID:            uuid.New().String(),
		JobName:          jobName,
		Experiment:       experiment,
		IsRunning:        true,
		IsLongRunningJob: longRunning,
		State:            types.JobStateInit,
	}
	r.mu.Lock()
	r.jobs[job.JobID] = job
	r.mu.Unlock()
	return job
}

// Transition applies a lifecycle state change to every running instance
// of jobName within experiment (the Bus addresses jobs by name, not by
// the generated job id).
func (r *JobRegistry) Transition(jobName, experiment string, state types.JobState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.JobName == jobName && j.Experiment == experiment && j.IsRunning {
			j.State = state
			if state == types.JobStateDisconnected {
				j.IsRunning = false
			}
		}
	}
}

// MarkLost flags an instance as lost, independent of a $state command.
// Invoked by the liveness sweep when a job stops responding.
func (r *JobRegistry) MarkLost(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[jobID]; ok {
		j.State = types.JobStateLost
		j.IsRunning = false
	}
}

// Stop marks a job as no longer running (used by /jobs/stop, /jobs/stop/all).
func (r *JobRegistry) Stop(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[jobID]; ok {
		j.IsRunning = false
		j.State = types.JobStateDisconnected
	}
}

// Get returns a copy of the job for jobID, or nil if unknown.
func (r *JobRegistry) Get(jobID string) *types.JobInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if j, ok := r.jobs[jobID]; ok {
		cp := *j
		return &cp
	}
	return nil
}

// Running returns every currently-running job.
func (r *JobRegistry) Running() []*types.JobInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.JobInstance, 0, len(r.jobs))
	for _, j := range r.jobs {
		if j.IsRunning {
			out = append(out, j)
		}
	}
	return out
}

// RunningByName returns currently-running jobs with the given name.
func (r *JobRegistry) RunningByName(jobName string) []*types.JobInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*types.JobInstance
	for _, j := range r.jobs {
		if j.IsRunning && j.JobName == jobName {
			out = append(out, j)
		}
	}
	return out
}

// RunningByExperiment returns currently-running jobs within experiment.
func (r *JobRegistry) RunningByExperiment(experiment string) []*types.JobInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*types.JobInstance
	for _, j := range r.jobs {
		if j.IsRunning && j.Experiment == experiment {
			out = append(out, j)
		}
	}
	return out
}

// StopMatching stops every running job matching the given non-empty
// filters.
func (r *JobRegistry) StopMatching(jobName, experiment, jobID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	stopped := 0
	for _, j := range r.jobs {
		if !j.IsRunning {
			continue
		}
		if jobID != "" && j.JobID != jobID {
			continue
		}
		if jobName != "" && j.JobName != jobName {
			continue
		}
		if experiment != "" && j.Experiment != experiment {
			continue
		}
		j.IsRunning = false
		j.State = types.JobStateDisconnected
		stopped++
	}
	return stopped
}

// StopAll stops every running job on the unit.
func (r *JobRegistry) StopAll() int {
	return r.StopMatching("", "", "")
}
