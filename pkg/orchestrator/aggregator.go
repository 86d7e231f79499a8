package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/pioreactor/cluster-core/pkg/log"
	"github.com/pioreactor/cluster-core/pkg/metrics"
	"github.com/pioreactor/cluster-core/pkg/types"
)

// Batching bounds for the log aggregator: a batch is flushed to the
// store when it reaches flushBatchSize rows or flushInterval elapses,
// whichever happens first.
const (
	flushBatchSize = 100
	flushInterval  = 2 * time.Second
)

// LogAggregator is the leader-side subscriber that turns Bus-published
// log lines into rows in the store's logs table — the path by which
// worker logs become visible to GET /api/experiments/<exp>/logs.
type LogAggregator struct {
	orch *Orchestrator

	mu    sync.Mutex
	batch []*types.LogRecord

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// StartLogAggregator subscribes to the cluster-wide log topic filter and
// begins batching rows into the store. Call Stop to flush and detach.
func (o *Orchestrator) StartLogAggregator() (*LogAggregator, error) {
	a := &LogAggregator{orch: o, stopCh: make(chan struct{})}
	if err := o.Bus.SubscribeLogs(a.ingest); err != nil {
		return nil, err
	}
	a.wg.Add(1)
	go a.flushLoop()
	return a, nil
}

func (a *LogAggregator) ingest(unit, experiment, source, level string, payload []byte) {
	rec := &types.LogRecord{
		Timestamp:      time.Now().UTC(),
		Level:          types.LogLevel(level),
		PioreactorUnit: unit,
		Experiment:     experiment,
		Source:         source,
		Message:        string(payload),
	}

	// Mirror worker problems into the leader's own stream at the
	// matching severity, so a tail of the daemon log shows cluster
	// trouble without a store query.
	if rec.Level == types.LogLevelWarning || rec.Level == types.LogLevelError {
		log.ClusterEvent(log.WithUnit(unit), rec.Level).
			Str("experiment", experiment).Str("source", source).Msg(rec.Message)
	}

	a.mu.Lock()
	a.batch = append(a.batch, rec)
	full := len(a.batch) >= flushBatchSize
	a.mu.Unlock()

	if full {
		a.flush()
	}
}

func (a *LogAggregator) flushLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.flush()
		case <-a.stopCh:
			a.flush()
			return
		}
	}
}

func (a *LogAggregator) flush() {
	a.mu.Lock()
	batch := a.batch
	a.batch = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := a.orch.Store.InsertLogs(context.Background(), batch); err != nil {
		log.WithComponent("log-aggregator").Warn().Err(err).Int("rows", len(batch)).Msg("failed to persist log batch")
		return
	}
	metrics.LogRowsIngested.Add(float64(len(batch)))
}

// Stop flushes any buffered rows and stops the background loop. The Bus
// subscription itself is dropped when the Bus disconnects.
func (a *LogAggregator) Stop() {
	close(a.stopCh)
	a.wg.Wait()
}
