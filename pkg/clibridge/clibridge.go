/*
Package clibridge translates a job/action invocation (name + args +
options + env + config overrides + targeting) into the same orchestrator
and worker calls the HTTP surfaces make. The pios and pio binaries are
thin cobra front-ends over this package: an invocation run inside the
leader process never makes a network round-trip to itself.
*/
package clibridge

import (
	"context"
	"fmt"
	"time"

	"github.com/pioreactor/cluster-core/pkg/apierror"
	"github.com/pioreactor/cluster-core/pkg/multicast"
	"github.com/pioreactor/cluster-core/pkg/orchestrator"
	"github.com/pioreactor/cluster-core/pkg/types"
)

// Invocation is one CLI action: a job or system action name plus its
// flags, environment, config overrides, and targeting.
type Invocation struct {
	JobOrAction     string
	Args            []string
	Options         map[string]string
	Env             map[string]string
	ConfigOverrides [][3]string
	Units           []string
	Experiments     []string
}

// payload converts the invocation's flags into the run-job wire payload.
func (inv Invocation) payload() types.RunJobPayload {
	opts := make(map[string]any, len(inv.Options))
	for k, v := range inv.Options {
		opts[k] = v
	}
	return types.RunJobPayload{
		Args:            inv.Args,
		Options:         opts,
		Env:             inv.Env,
		ConfigOverrides: inv.ConfigOverrides,
	}
}

// Leader bridges cluster-scoped CLI actions (pios) onto the
// orchestrator. Every method returns the submitted tasks so the CLI can
// poll them and derive its exit code (any per-unit failure → exit 1).
type Leader struct {
	Orch *orchestrator.Orchestrator
}

// resolveTargets expands the invocation's units/experiments into the
// concrete unit list, defaulting to every active worker when no units
// are named.
func (l *Leader) resolveTargets(ctx context.Context, inv Invocation) ([]string, error) {
	opts := types.TargetingOptions{
		Units:            inv.Units,
		Experiments:      inv.Experiments,
		ActiveOnly:       true,
		FilterNonWorkers: true,
		Precedence:       types.PrecedenceIntersection,
	}
	return l.Orch.Targeter.Resolve(ctx, opts)
}

// Run starts the invocation's job on every resolved unit. Each resolved
// unit gets its own run task so per-unit outcomes stay addressable.
func (l *Leader) Run(ctx context.Context, inv Invocation) ([]*types.Task, error) {
	if inv.JobOrAction == "" {
		return nil, apierror.Validationf("job name is required")
	}
	experiment := types.UniversalExperiment
	if len(inv.Experiments) == 1 {
		experiment = inv.Experiments[0]
	}

	units, err := l.resolveTargets(ctx, inv)
	if err != nil {
		return nil, err
	}

	tasks := make([]*types.Task, 0, len(units))
	for _, unit := range units {
		task, err := l.Orch.RunJob(ctx, unit, inv.JobOrAction, experiment, inv.payload())
		if err != nil {
			return tasks, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Kill stops jobs matching the invocation's filters on every resolved
// unit; allJobs stops everything.
func (l *Leader) Kill(ctx context.Context, inv Invocation, allJobs bool) (*types.Task, error) {
	units, err := l.resolveTargets(ctx, inv)
	if err != nil {
		return nil, err
	}
	if allJobs {
		return l.Orch.Tasks.Submit("kill_all", "", func(ctx context.Context) (any, error) {
			return l.Orch.Multicast.Call(ctx, multicast.Request{
				Method:  "POST",
				Path:    "/unit_api/jobs/stop/all",
				Units:   units,
				Timeout: 30 * time.Second,
			}), nil
		}), nil
	}

	body := map[string]string{}
	if inv.JobOrAction != "" {
		body["job_name"] = inv.JobOrAction
	}
	if len(inv.Experiments) == 1 {
		body["experiment"] = inv.Experiments[0]
	}
	if src, ok := inv.Options["job-source"]; ok {
		body["job_source"] = src
	}
	return l.Orch.Tasks.Submit("kill", "", func(ctx context.Context) (any, error) {
		return l.Orch.Multicast.Call(ctx, multicast.Request{
			Method:  "POST",
			Path:    "/unit_api/jobs/stop",
			Units:   units,
			JSON:    body,
			Timeout: 30 * time.Second,
		}), nil
	}), nil
}

// SyncConfigs re-distributes stored configs (pios sync-configs).
func (l *Leader) SyncConfigs(ctx context.Context, shared, specific bool) (*types.Task, error) {
	return l.Orch.SyncAllConfigs(ctx, shared, specific)
}

// Update fans a system update out to the resolved units. A non-empty
// target (e.g. app or ui) is appended to the /unit_api/system/update
// path; inv.Options (branch, version, or source per flags) is sent as
// the JSON body.
func (l *Leader) Update(ctx context.Context, inv Invocation, target string) (*types.Task, error) {
	units, err := l.resolveTargets(ctx, inv)
	if err != nil {
		return nil, err
	}
	path := "/unit_api/system/update"
	if target != "" {
		path += "/" + target
	}
	return l.Orch.Tasks.Submit("update", "", func(ctx context.Context) (any, error) {
		return l.Orch.Multicast.Call(ctx, multicast.Request{
			Method:  "POST",
			Path:    path,
			Units:   units,
			JSON:    inv.Options,
			Timeout: 120 * time.Second,
		}), nil
	}), nil
}

// Plugins installs or uninstalls one plugin on every resolved unit.
func (l *Leader) Plugins(ctx context.Context, inv Invocation, install bool, name, source string) (*types.Task, error) {
	if name == "" {
		return nil, apierror.Validationf("plugin name is required")
	}
	units, err := l.resolveTargets(ctx, inv)
	if err != nil {
		return nil, err
	}
	path := "/unit_api/plugins/uninstall"
	body := map[string]any{"args": []string{name}}
	if install {
		path = "/unit_api/plugins/install"
		body["options"] = map[string]string{"source": source}
	}
	return l.Orch.Tasks.Submit("plugins", "", func(ctx context.Context) (any, error) {
		return l.Orch.Multicast.Call(ctx, multicast.Request{
			Method:  "POST",
			Path:    path,
			Units:   units,
			JSON:    body,
			Timeout: 120 * time.Second,
		}), nil
	}), nil
}

// Cp distributes a leader-local file to the same relative path on every
// resolved unit (pios cp).
func (l *Leader) Cp(ctx context.Context, inv Invocation, relPath string, data []byte) (*types.Task, error) {
	units, err := l.resolveTargets(ctx, inv)
	if err != nil {
		return nil, err
	}
	return l.Orch.Tasks.Submit("cp", "", func(ctx context.Context) (any, error) {
		return l.Orch.Multicast.Call(ctx, multicast.Request{
			Method: "POST",
			Path:   "/unit_api/system/unit_config",
			Units:  units,
			JSON: map[string]string{
				"filename": relPath,
				"data":     string(data),
			},
			Timeout: 60 * time.Second,
		}), nil
	}), nil
}

// Rm removes a file within the data directory on every resolved unit.
func (l *Leader) Rm(ctx context.Context, inv Invocation, relPath string) (*types.Task, error) {
	units, err := l.resolveTargets(ctx, inv)
	if err != nil {
		return nil, err
	}
	return l.Orch.Tasks.Submit("rm", "", func(ctx context.Context) (any, error) {
		return l.Orch.Multicast.Call(ctx, multicast.Request{
			Method:  "POST",
			Path:    "/unit_api/system/remove_file",
			Units:   units,
			JSON:    map[string]string{"filepath": relPath},
			Timeout: 30 * time.Second,
		}), nil
	}), nil
}

// Power issues reboot or shutdown across the resolved units.
func (l *Leader) Power(ctx context.Context, inv Invocation, action string) (*types.Task, error) {
	if action != "reboot" && action != "shutdown" {
		return nil, apierror.Validationf("unknown power action %q", action)
	}
	units, err := l.resolveTargets(ctx, inv)
	if err != nil {
		return nil, err
	}
	return l.Orch.Tasks.Submit(action, "", func(ctx context.Context) (any, error) {
		return l.Orch.Multicast.Call(ctx, multicast.Request{
			Method:  "POST",
			Path:    "/unit_api/system/" + action,
			Units:   units,
			Timeout: 30 * time.Second,
		}), nil
	}), nil
}

// Await polls a task until it settles or the timeout elapses, returning
// whether every per-unit outcome succeeded. A false return maps to the
// CLI's partial-failure exit code 1.
func (l *Leader) Await(task *types.Task, timeout time.Duration) (ok bool, err error) {
	deadline := time.Now().Add(timeout)
	for {
		current, err := l.Orch.Tasks.Get(task.ID)
		if err != nil {
			return false, err
		}
		switch current.State {
		case types.TaskStateComplete:
			return resultsAllOK(current.Result), nil
		case types.TaskStateFailed:
			return false, fmt.Errorf("%s", current.Error)
		}
		if time.Now().After(deadline) {
			return false, fmt.Errorf("timed out waiting for task %s", task.ID)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// resultsAllOK inspects a multicast result map for per-unit failures.
// Non-multicast results count as success.
func resultsAllOK(result any) bool {
	m, ok := result.(map[string]*multicast.UnitResult)
	if !ok {
		return true
	}
	for _, r := range m {
		if r == nil || !r.OK {
			return false
		}
	}
	return true
}
