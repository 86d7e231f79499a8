package metrics

import (
	"context"
	"time"

	"github.com/pioreactor/cluster-core/pkg/store"
	"github.com/pioreactor/cluster-core/pkg/types"
)

// TaskQueueStats is the slice of pkg/taskqueue.Queue the collector
// samples. Declared here so taskqueue can itself observe per-task
// histograms without an import cycle.
type TaskQueueStats interface {
	StateCounts() map[types.TaskState]int
	ActiveLocks() map[string]string
}

// Collector periodically samples cluster state into the Prometheus
// gauges above: worker/experiment/assignment counts from the store,
// task-state counts and held locks from the task queue.
type Collector struct {
	store  store.Store
	tasks  TaskQueueStats
	stopCh chan struct{}
}

// NewCollector creates a collector reading from st and q.
func NewCollector(st store.Store, q TaskQueueStats) *Collector {
	return &Collector{
		store:  st,
		tasks:  q,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectInventoryMetrics()
	c.collectTaskMetrics()
}

func (c *Collector) collectInventoryMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	workers, err := c.store.ListWorkers(ctx)
	if err == nil {
		active, inactive := 0, 0
		for _, w := range workers {
			if w.IsActive {
				active++
			} else {
				inactive++
			}
		}
		WorkersTotal.WithLabelValues("active").Set(float64(active))
		WorkersTotal.WithLabelValues("inactive").Set(float64(inactive))
	}

	experiments, err := c.store.ListExperiments(ctx)
	if err == nil {
		ExperimentsTotal.Set(float64(len(experiments)))
	}

	res, err := c.store.Query(ctx, `SELECT COUNT(*) AS c FROM assignments`, true)
	if err == nil && res != nil {
		if row, ok := res.(store.Row); ok {
			if n, ok := row["c"].(int64); ok {
				AssignmentsTotal.Set(float64(n))
			}
		}
	}
}

func (c *Collector) collectTaskMetrics() {
	counts := c.tasks.StateCounts()
	for _, state := range []types.TaskState{
		types.TaskStatePending,
		types.TaskStateInProgress,
		types.TaskStateComplete,
		types.TaskStateFailed,
		types.TaskStateLocked,
	} {
		TasksByState.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
	HeldLocks.Set(float64(len(c.tasks.ActiveLocks())))
}
