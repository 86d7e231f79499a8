package workerapi

import (
	"context"

	"github.com/pioreactor/cluster-core/pkg/apierror"
	"github.com/pioreactor/cluster-core/pkg/taskqueue"
	"github.com/pioreactor/cluster-core/pkg/types"
)

// InstalledPlugin describes one plugin recorded as installed on a unit.
type InstalledPlugin struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Source  string `json:"source,omitempty"`
}

// PluginManager installs/uninstalls worker-local plugins, one per call,
// each scheduled on the shared TaskQueue so a slow pip/apt invocation
// never blocks the request goroutine.
type PluginManager struct {
	dataDir string
	tasks   *taskqueue.Queue
	list    func() ([]InstalledPlugin, error)
	install func(ctx context.Context, name, source string) error
	remove  func(ctx context.Context, name string) error
}

// NewPluginManager returns a PluginManager rooted at dataDir. list,
// install, and remove are injected so the actual package-manager
// invocation (pip/apt, in the original) stays outside this package.
func NewPluginManager(dataDir string, tasks *taskqueue.Queue,
	list func() ([]InstalledPlugin, error),
	install func(ctx context.Context, name, source string) error,
	remove func(ctx context.Context, name string) error,
) *PluginManager {
	return &PluginManager{dataDir: dataDir, tasks: tasks, list: list, install: install, remove: remove}
}

func (p *PluginManager) sentinelPresent() bool {
	sm := &SystemManager{dataDir: p.dataDir}
	return sm.sentinelPresent(DisallowInstallsSentinel)
}

// Installed returns every plugin currently recorded as installed.
func (p *PluginManager) Installed() ([]InstalledPlugin, error) {
	plugins, err := p.list()
	if err != nil {
		return nil, apierror.Internal(err, "list installed plugins")
	}
	return plugins, nil
}

// Install schedules installation of exactly one plugin by name,
// optionally from an explicit source (package index name, URL, or
// uploaded file path). Multi-name requests are refused: one plugin
// per call.
func (p *PluginManager) Install(names []string, source string) (*types.Task, error) {
	if p.sentinelPresent() {
		return nil, apierror.Policyf("%s is present", DisallowInstallsSentinel)
	}
	if len(names) == 0 {
		return nil, apierror.Validationf("plugin name is required")
	}
	if len(names) > 1 {
		return nil, apierror.Validationf("install one plugin at a time via the API")
	}
	name := names[0]
	return p.tasks.Submit("install_plugin", "", func(ctx context.Context) (any, error) {
		if err := p.install(ctx, name, source); err != nil {
			return nil, err
		}
		return InstalledPlugin{Name: name, Source: source}, nil
	}), nil
}

// Uninstall schedules removal of exactly one plugin by name.
func (p *PluginManager) Uninstall(names []string) (*types.Task, error) {
	if p.sentinelPresent() {
		return nil, apierror.Policyf("%s is present", DisallowInstallsSentinel)
	}
	if len(names) == 0 {
		return nil, apierror.Validationf("plugin name is required")
	}
	if len(names) > 1 {
		return nil, apierror.Validationf("uninstall one plugin at a time via the API")
	}
	name := names[0]
	return p.tasks.Submit("uninstall_plugin", "", func(ctx context.Context) (any, error) {
		return nil, p.remove(ctx, name)
	}), nil
}
