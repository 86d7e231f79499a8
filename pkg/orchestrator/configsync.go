package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pioreactor/cluster-core/pkg/apierror"
	"github.com/pioreactor/cluster-core/pkg/config"
	"github.com/pioreactor/cluster-core/pkg/multicast"
	"github.com/pioreactor/cluster-core/pkg/types"
)

// SharedConfigFilename is the cluster-wide configuration document name;
// per-unit documents are named config_<unit>.ini.
const SharedConfigFilename = "config.ini"

// UnitConfigFilename returns the per-unit configuration document name.
func UnitConfigFilename(unit string) string {
	return fmt.Sprintf("config_%s.ini", unit)
}

// unitFromConfigFilename inverts UnitConfigFilename; ok is false for the
// shared document or anything that is not a config filename.
func unitFromConfigFilename(filename string) (string, bool) {
	if !strings.HasPrefix(filename, "config_") || !strings.HasSuffix(filename, ".ini") {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(filename, "config_"), ".ini"), true
}

// SaveConfig validates raw as strict INI, persists a history row, and
// schedules a config-sync task pushing the accepted document to the
// affected units: shared config.ini to every active worker except the
// leader itself, config_<unit>.ini to the matching worker only.
func (o *Orchestrator) SaveConfig(ctx context.Context, filename, raw string) (*types.Task, error) {
	normalized, err := config.Validate(raw)
	if err != nil {
		return nil, err
	}
	if err := o.Store.SaveConfigHistory(ctx, filename, normalized); err != nil {
		return nil, apierror.Internal(err, "save config history")
	}
	o.audit(ctx, types.UniversalExperiment, "config.updated", filename)

	task, err := o.scheduleConfigSync(ctx, filename, normalized)
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (o *Orchestrator) scheduleConfigSync(ctx context.Context, filename, data string) (*types.Task, error) {
	var units []string
	if unit, ok := unitFromConfigFilename(filename); ok {
		units = []string{unit}
	} else {
		workers, err := o.Store.ListActiveWorkers(ctx)
		if err != nil {
			return nil, apierror.Internal(err, "list workers for config sync")
		}
		for _, w := range workers {
			// The leader never receives its own shared config over the
			// wire; it would overwrite the file it is distributing from.
			if w.PioreactorUnit == o.LeaderHostname {
				continue
			}
			units = append(units, w.PioreactorUnit)
		}
	}
	if len(units) == 0 {
		return o.Tasks.Submit("sync_configs", "", func(ctx context.Context) (any, error) {
			return map[string]string{"status": "no units to sync"}, nil
		}), nil
	}

	return o.Tasks.Submit("sync_configs", "", func(ctx context.Context) (any, error) {
		return o.Multicast.Call(ctx, multicast.Request{
			Method: "POST",
			Path:   "/unit_api/system/unit_config",
			Units:  units,
			JSON: map[string]string{
				"filename": filename,
				"data":     data,
			},
			Timeout: 30 * time.Second,
		}), nil
	}), nil
}

// SyncAllConfigs re-distributes the latest accepted revision of the
// shared config (and, when specific is true, every per-unit config) to
// the cluster. Backs `pios sync-configs`.
func (o *Orchestrator) SyncAllConfigs(ctx context.Context, shared, specific bool) (*types.Task, error) {
	type push struct {
		filename string
		data     string
	}
	var pushes []push

	if shared {
		row, err := o.Store.LatestConfig(ctx, SharedConfigFilename)
		if err != nil {
			return nil, apierror.Internal(err, "load shared config")
		}
		if row != nil {
			pushes = append(pushes, push{row.Filename, row.Data})
		}
	}
	if specific {
		workers, err := o.Store.ListWorkers(ctx)
		if err != nil {
			return nil, apierror.Internal(err, "list workers")
		}
		for _, w := range workers {
			row, err := o.Store.LatestConfig(ctx, UnitConfigFilename(w.PioreactorUnit))
			if err != nil {
				return nil, apierror.Internal(err, "load unit config")
			}
			if row != nil {
				pushes = append(pushes, push{row.Filename, row.Data})
			}
		}
	}
	if len(pushes) == 0 {
		return nil, apierror.NotFoundf("no stored configs to sync")
	}

	return o.Tasks.Submit("sync_configs", "", func(ctx context.Context) (any, error) {
		results := make(map[string]any, len(pushes))
		for _, p := range pushes {
			task, err := o.scheduleConfigSync(ctx, p.filename, p.data)
			if err != nil {
				results[p.filename] = err.Error()
				continue
			}
			results[p.filename] = task.ID
		}
		return results, nil
	}), nil
}
