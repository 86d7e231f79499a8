/*
Package orchestrator wires Store, Bus, TaskQueue, Targeter and
Multicaster into one coordination point: per request it validates
input, reads Store, calls Targeter, schedules work on the
TaskQueue/Multicaster/Bus, and writes an audit log entry back to
Store. It is the only place assignment/active checks are enforced for
mutating requests — pkg/leaderapi handlers are thin adapters from HTTP
onto these methods.

A single struct built at startup from its constituent subsystems
(store, bus, task queue, targeter, multicaster); it is the only
component every request-handling surface is constructed with a
pointer to.
*/
package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pioreactor/cluster-core/pkg/apierror"
	"github.com/pioreactor/cluster-core/pkg/bus"
	"github.com/pioreactor/cluster-core/pkg/log"
	"github.com/pioreactor/cluster-core/pkg/metrics"
	"github.com/pioreactor/cluster-core/pkg/multicast"
	"github.com/pioreactor/cluster-core/pkg/store"
	"github.com/pioreactor/cluster-core/pkg/targeter"
	"github.com/pioreactor/cluster-core/pkg/taskqueue"
	"github.com/pioreactor/cluster-core/pkg/types"
	"github.com/pioreactor/cluster-core/pkg/unitclient"
)

// Orchestrator glues the leader-side subsystems together.
type Orchestrator struct {
	Store      store.Store
	Bus        *bus.Bus
	Tasks      *taskqueue.Queue
	Targeter   *targeter.Targeter
	Multicast  *multicast.Multicaster
	Unit       *unitclient.Client

	LeaderHostname string
	AppVersion     string
}

// New builds an Orchestrator. bus may be nil (e.g. offline CLI tooling)
// — every method that needs it checks first and falls back to a direct
// unit call or fails with a clear error rather than a nil pointer panic.
func New(st store.Store, b *bus.Bus, tasks *taskqueue.Queue, uc *unitclient.Client, leaderHostname, appVersion string) *Orchestrator {
	return &Orchestrator{
		Store:          st,
		Bus:            b,
		Tasks:          tasks,
		Targeter:       targeter.New(st),
		Multicast:      multicast.New(uc),
		Unit:           uc,
		LeaderHostname: leaderHostname,
		AppVersion:     appVersion,
	}
}

// --- experiment validation ---

var disallowedExperimentChars = regexp.MustCompile(`[#$%+/\\]`)

// ValidateExperimentName enforces the experiment-identifier rules.
func ValidateExperimentName(name string) error {
	if name == "" {
		return apierror.Validationf("experiment name is required")
	}
	if len(name) > 199 {
		return apierror.Validationf("experiment name must be 199 characters or fewer")
	}
	if name == types.CurrentExperimentAlias {
		return apierror.Validationf("experiment name %q is reserved", types.CurrentExperimentAlias)
	}
	if strings.HasPrefix(name, "_testing") {
		return apierror.Validationf("experiment name may not start with \"_testing\"")
	}
	if disallowedExperimentChars.MatchString(name) {
		return apierror.Validationf("experiment name may not contain any of #$%%+/\\")
	}
	return nil
}

// CreateExperiment validates and inserts e, translating a store-level
// "already exists" into a 409 Conflict.
func (o *Orchestrator) CreateExperiment(ctx context.Context, e *types.Experiment) error {
	if err := ValidateExperimentName(e.Experiment); err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := o.Store.CreateExperiment(ctx, e); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return apierror.Conflictf("experiment already exists")
		}
		return apierror.Internal(err, "create experiment")
	}
	o.audit(ctx, e.Experiment, "experiment.created", e.Experiment)
	return nil
}

// DeleteExperiment deletes the experiment (Store cascades its
// assignments) and, when a Bus is connected, publishes a $broadcast job
// disconnect to every active worker that was assigned to it, since those
// jobs otherwise keep running orphaned. With no Bus, no stop is sent.
func (o *Orchestrator) DeleteExperiment(ctx context.Context, experiment string) error {
	units, err := o.Store.ActiveWorkersInExperiment(ctx, experiment)
	if err != nil {
		return apierror.Internal(err, "list assigned workers")
	}
	if err := o.Store.DeleteExperiment(ctx, experiment); err != nil {
		return apierror.Internal(err, "delete experiment")
	}
	for _, u := range units {
		if o.Bus != nil {
			_ = o.Bus.PublishState(u, experiment, types.BroadcastUnit, "disconnected")
		}
	}
	o.audit(ctx, experiment, "experiment.deleted", experiment)
	return nil
}

// --- workers & assignment ---

// RegisterWorker validates and inserts a new worker.
func (o *Orchestrator) RegisterWorker(ctx context.Context, w *types.Worker) error {
	if w.PioreactorUnit == "" {
		return apierror.Validationf("pioreactor_unit is required")
	}
	if w.AddedAt.IsZero() {
		w.AddedAt = time.Now().UTC()
	}
	if err := o.Store.CreateWorker(ctx, w); err != nil {
		return apierror.Internal(err, "register worker")
	}
	o.audit(ctx, types.UniversalExperiment, "worker.registered", w.PioreactorUnit)
	return nil
}

// SetWorkerActive flips a worker's active flag; deactivating issues a
// stop-all to that worker.
func (o *Orchestrator) SetWorkerActive(ctx context.Context, unit string, active bool) (*types.Task, error) {
	if err := o.Store.SetWorkerActive(ctx, unit, active); err != nil {
		return nil, apierror.Internal(err, "set worker active")
	}
	o.audit(ctx, types.UniversalExperiment, "worker.active_changed", fmt.Sprintf("%s=%t", unit, active))
	if active {
		return nil, nil
	}
	task := o.Tasks.Submit("stop_all", "", func(ctx context.Context) (any, error) {
		return o.Multicast.Call(ctx, multicast.Request{
			Method:  "POST",
			Path:    "/unit_api/jobs/stop/all",
			Units:   []string{unit},
			Timeout: 30 * time.Second,
		}), nil
	})
	return task, nil
}

// DeleteWorker kills every job on the worker, purges its unit-specific
// config history (and the worker's on-disk unit_config.ini), and
// removes it from the inventory.
func (o *Orchestrator) DeleteWorker(ctx context.Context, unit string) (*types.Task, error) {
	task := o.Tasks.Submit("delete_worker", "", func(ctx context.Context) (any, error) {
		results := o.Multicast.Call(ctx, multicast.Request{
			Method:  "POST",
			Path:    "/unit_api/jobs/stop/all",
			Units:   []string{unit},
			Timeout: 30 * time.Second,
		})
		// The leader's own config stays: deleting the leader row from
		// the inventory must not destroy the document it distributes.
		if unit != o.LeaderHostname {
			if err := o.Store.DeleteConfigHistory(ctx, UnitConfigFilename(unit)); err != nil {
				return results, err
			}
			for u, res := range o.Multicast.Call(ctx, multicast.Request{
				Method:  "POST",
				Path:    "/unit_api/system/remove_file",
				Units:   []string{unit},
				JSON:    map[string]string{"filepath": "unit_config.ini"},
				Timeout: 30 * time.Second,
			}) {
				results[u+" (unit_config.ini)"] = res
			}
		}
		if err := o.Store.DeleteWorker(ctx, unit); err != nil {
			return results, err
		}
		return results, nil
	})
	o.audit(ctx, types.UniversalExperiment, "worker.deleted", unit)
	return task, nil
}

// AssignWorker replaces unit's current assignment with experiment.
// Repeated calls with the same (unit, experiment) pair are idempotent:
// exactly one current assignment row remains.
func (o *Orchestrator) AssignWorker(ctx context.Context, unit, experiment string) error {
	w, err := o.Store.GetWorker(ctx, unit)
	if err != nil {
		return apierror.Internal(err, "look up worker")
	}
	if w == nil {
		return apierror.NotFoundf("worker %q not found", unit)
	}
	if err := o.Store.AssignWorker(ctx, unit, experiment); err != nil {
		return apierror.Internal(err, "assign worker")
	}
	o.audit(ctx, experiment, "worker.assigned", unit)
	return nil
}

// UnassignWorker clears unit's current assignment, if any.
func (o *Orchestrator) UnassignWorker(ctx context.Context, unit string) error {
	if err := o.Store.UnassignWorker(ctx, unit); err != nil {
		return apierror.Internal(err, "unassign worker")
	}
	o.audit(ctx, types.UniversalExperiment, "worker.unassigned", unit)
	return nil
}

// --- jobs ---

// RunJob validates the worker is active and assigned to experiment (for
// the universal experiment only the active check applies), builds the
// worker-local run payload, and fans out through Multicaster as a Task.
func (o *Orchestrator) RunJob(ctx context.Context, unit, job, experiment string, payload types.RunJobPayload) (*types.Task, error) {
	if err := targeter.ValidateRunTargeting(unit, experiment); err != nil {
		return nil, err
	}
	if err := o.requireActiveAssignment(ctx, unit, experiment); err != nil {
		return nil, err
	}

	units, err := o.resolveUnits(ctx, unit, experiment)
	if err != nil {
		return nil, err
	}

	// Every worker receives its own payload carrying its resolved env
	// (the parallel-list form of the multicast contract).
	perUnit := make([]any, 0, len(units))
	for _, u := range units {
		w, err := o.Store.GetWorker(ctx, u)
		if err != nil {
			return nil, apierror.Internal(err, "look up worker")
		}
		p := payload
		p.Env = make(map[string]string, len(payload.Env)+5)
		for k, v := range payload.Env {
			p.Env[k] = v
		}
		p.Env["EXPERIMENT"] = experiment
		p.Env["HOSTNAME"] = u
		p.Env["ACTIVE"] = "1"
		if w != nil {
			p.Env["MODEL_NAME"] = w.ModelName
			p.Env["MODEL_VERSION"] = w.ModelVersion
			if !w.IsActive {
				p.Env["ACTIVE"] = "0"
			}
		}
		perUnit = append(perUnit, p)
	}

	task := o.Tasks.Submit("run_job", "", func(ctx context.Context) (any, error) {
		return o.Multicast.Call(ctx, multicast.Request{
			Method:      "POST",
			Path:        fmt.Sprintf("/unit_api/jobs/run/job_name/%s", job),
			Units:       units,
			PerUnitJSON: perUnit,
			Timeout:     30 * time.Second,
		}), nil
	})
	o.audit(ctx, experiment, "job.run", fmt.Sprintf("%s on %s", job, unit))
	return task, nil
}

// UpdateJobSettings translates {settings: {k:v}} into Bus publishes at
// pioreactor/<u>/<exp>/<job>/<k>/set for every resolved unit. If Bus is
// nil (offline tooling), or a publish fails, it falls back to a direct
// unit_api PATCH call.
func (o *Orchestrator) UpdateJobSettings(ctx context.Context, unit, job, experiment string, settings map[string]string) (*types.Task, error) {
	units, err := o.resolveBusTargets(ctx, unit, experiment)
	if err != nil {
		return nil, err
	}
	task := o.Tasks.Submit("update_job", "", func(ctx context.Context) (any, error) {
		failed := map[string]string{}
		for _, u := range units {
			for setting, value := range settings {
				if o.Bus == nil {
					if err := o.fallbackSettingUpdate(ctx, u, job, setting, value); err != nil {
						failed[u] = err.Error()
					}
					continue
				}
				if err := o.Bus.PublishSetting(u, experiment, job, setting, []byte(value)); err != nil {
					metrics.BusPublishesTotal.WithLabelValues("setting", "error").Inc()
					if ferr := o.fallbackSettingUpdate(ctx, u, job, setting, value); ferr != nil {
						failed[u] = ferr.Error()
					}
				} else {
					metrics.BusPublishesTotal.WithLabelValues("setting", "ok").Inc()
				}
			}
		}
		if len(failed) > 0 {
			return failed, fmt.Errorf("failed to update settings on %d unit(s)", len(failed))
		}
		return map[string]string{"status": "ok"}, nil
	})
	o.audit(ctx, experiment, "job.update_settings", fmt.Sprintf("%s on %s", job, unit))
	return task, nil
}

func (o *Orchestrator) fallbackSettingUpdate(ctx context.Context, unit, job, setting, value string) error {
	return o.Unit.Patch(ctx, unit, fmt.Sprintf("/unit_api/jobs/settings/job_name/%s/setting/%s", job, setting), map[string]string{"value": value}, nil)
}

// StopJob publishes $state/set disconnected over Bus; if Bus is nil or
// a publish fails (a publish-confirm timeout included) it falls back to
// a direct WorkerAPI /jobs/stop call. The task fails if any of those
// direct calls does not succeed.
func (o *Orchestrator) StopJob(ctx context.Context, unit, job, experiment string) (*types.Task, error) {
	units, err := o.resolveBusTargets(ctx, unit, experiment)
	if err != nil {
		return nil, err
	}
	task := o.Tasks.Submit("stop_job", "", func(ctx context.Context) (any, error) {
		results := make(map[string]*multicast.UnitResult, len(units))
		var fallback []string
		for _, u := range units {
			if o.Bus == nil {
				fallback = append(fallback, u)
				continue
			}
			if err := o.Bus.PublishState(u, experiment, job, "disconnected"); err != nil {
				metrics.BusPublishesTotal.WithLabelValues("state", "error").Inc()
				fallback = append(fallback, u)
				continue
			}
			metrics.BusPublishesTotal.WithLabelValues("state", "ok").Inc()
			results[u] = &multicast.UnitResult{OK: true}
		}
		if len(fallback) > 0 {
			fallbackResults := o.Multicast.Call(ctx, multicast.Request{
				Method: "POST",
				Path:   "/unit_api/jobs/stop",
				Units:  fallback,
				JSON:   map[string]string{"job_name": job, "experiment": experiment},
			})
			for u, res := range fallbackResults {
				results[u] = res
			}
			for _, u := range fallback {
				if res := results[u]; res == nil || !res.OK {
					return results, fmt.Errorf("failed to stop %s on unit %s", job, u)
				}
			}
		}
		return results, nil
	})
	o.audit(ctx, experiment, "job.stop", fmt.Sprintf("%s on %s", job, unit))
	return task, nil
}

// Blink identifies a unit by flickering its LED: a fire-and-forget
// publish on the monitor/flicker_led_response_okay topic, with no
// confirmation awaited.
func (o *Orchestrator) Blink(ctx context.Context, unit, experiment string) error {
	if o.Bus == nil {
		return apierror.Policyf("control bus is not connected")
	}
	o.Bus.Identify(unit, experiment)
	return nil
}

// PublishRaw publishes a payload to an arbitrary Bus topic on behalf of
// a plugin-manifest proxy-to-bus route.
func (o *Orchestrator) PublishRaw(topic string, payload []byte) error {
	if o.Bus == nil {
		return apierror.Policyf("control bus is not connected")
	}
	return o.Bus.PublishRawTopic(topic, payload)
}

// resolveBusTargets picks the unit set for Bus-addressed operations
// (stop, settings update). A concrete unit is taken as-is — the Bus is
// addressed by the URL, and consumers on the unit only act on their
// current experiment — so a stop aimed at the wrong experiment is a
// harmless publish, not a 400. Only $broadcast needs inventory
// resolution.
func (o *Orchestrator) resolveBusTargets(ctx context.Context, unit, experiment string) ([]string, error) {
	if unit != types.BroadcastUnit {
		return []string{unit}, nil
	}
	return o.resolveUnits(ctx, unit, experiment)
}

// resolveUnits expands a single target unit (possibly $broadcast) plus
// an experiment scope into the concrete unit list a job operation acts
// on, using Targeter with units-precedence semantics.
func (o *Orchestrator) resolveUnits(ctx context.Context, unit, experiment string) ([]string, error) {
	opts := types.TargetingOptions{
		Units:            []string{unit},
		FilterNonWorkers: true,
		Precedence:       types.PrecedenceUnits,
	}
	if experiment != types.UniversalExperiment {
		opts.Experiments = []string{experiment}
		opts.Precedence = types.PrecedenceIntersection
	}
	return o.Targeter.Resolve(ctx, opts)
}

// requireActiveAssignment enforces that unit is active and, unless
// experiment is the universal experiment, currently assigned to it.
func (o *Orchestrator) requireActiveAssignment(ctx context.Context, unit, experiment string) error {
	if unit == types.BroadcastUnit {
		return nil
	}
	w, err := o.Store.GetWorker(ctx, unit)
	if err != nil {
		return apierror.Internal(err, "look up worker")
	}
	if w == nil {
		return apierror.NotFoundf("worker %q not found", unit)
	}
	if !w.IsActive {
		return apierror.Policyf("worker %q is not active", unit)
	}
	if experiment == types.UniversalExperiment {
		return nil
	}
	a, err := o.Store.CurrentAssignment(ctx, unit)
	if err != nil {
		return apierror.Internal(err, "look up assignment")
	}
	if a == nil || a.Experiment != experiment {
		return apierror.Policyf("worker %q is not assigned to experiment %q", unit, experiment)
	}
	return nil
}

// --- audit log ---

// audit writes a NOTICE-level log row under source "audit".
// Most callers record the entry only after their own store write
// succeeded, returning early without one on error. Operations whose unit
// fan-out runs later as a task (worker deletion, config sync) record it
// before that fan-out's outcome is known, so the entry exists even when
// some units fail.
func (o *Orchestrator) audit(ctx context.Context, experiment, action, detail string) {
	rec := &types.LogRecord{
		Timestamp:      time.Now().UTC(),
		Level:          types.LogLevelNotice,
		PioreactorUnit: types.BroadcastUnit,
		Experiment:     experiment,
		Task:           "orchestrator",
		Source:         "audit",
		Message:        fmt.Sprintf("%s: %s", action, detail),
	}
	if err := o.Store.InsertLog(ctx, rec); err != nil {
		log.WithComponent("orchestrator").Warn().Err(err).Str("action", action).Msg("failed to write audit log entry")
	}
}
