package store

import (
	"context"
	"time"

	"github.com/pioreactor/cluster-core/pkg/types"
)

// Row is the uniform dict-row shape returned by Query.
type Row = map[string]any

// Store is the leader's central persistence contract. Modify and Query
// are the low-level primitives; every typed method below is implemented
// in terms of them.
type Store interface {
	// Modify executes a mutating statement and returns the number of rows
	// affected. Integrity violations (e.g. unique constraint) return
	// (0, nil) rather than an error; unexpected errors roll back and are
	// returned.
	Modify(ctx context.Context, stmt string, args ...any) (int64, error)

	// Query executes a read-only statement. If one is true, it returns a
	// single Row (or nil if no rows matched); otherwise it returns
	// []Row. Any statement that is not SELECT/PRAGMA is rejected.
	Query(ctx context.Context, stmt string, one bool, args ...any) (any, error)

	// Experiments
	CreateExperiment(ctx context.Context, e *types.Experiment) error
	GetExperiment(ctx context.Context, experiment string) (*types.Experiment, error)
	ListExperiments(ctx context.Context) ([]*types.Experiment, error)
	LatestExperiment(ctx context.Context) (*types.Experiment, error)
	UpdateExperiment(ctx context.Context, experiment string, description, mediaUsed, organismUsed *string) error
	DeleteExperiment(ctx context.Context, experiment string) error
	HistoricalOrganisms(ctx context.Context) ([]string, error)
	HistoricalMedia(ctx context.Context) ([]string, error)

	// Workers
	CreateWorker(ctx context.Context, w *types.Worker) error
	GetWorker(ctx context.Context, unit string) (*types.Worker, error)
	ListWorkers(ctx context.Context) ([]*types.Worker, error)
	ListActiveWorkers(ctx context.Context) ([]*types.Worker, error)
	SetWorkerActive(ctx context.Context, unit string, active bool) error
	DeleteWorker(ctx context.Context, unit string) error

	// Assignments
	AssignWorker(ctx context.Context, unit, experiment string) error
	UnassignWorker(ctx context.Context, unit string) error
	CurrentAssignment(ctx context.Context, unit string) (*types.Assignment, error)
	AssignmentsForExperiment(ctx context.Context, experiment string) ([]*types.Assignment, error)
	ActiveWorkersInExperiment(ctx context.Context, experiment string) ([]string, error)
	AssignmentHistory(ctx context.Context, unit string) ([]*types.AssignmentHistory, error)
	ExperimentAtTime(ctx context.Context, unit string, at time.Time) (string, error)

	// Unit labels
	UpsertUnitLabel(ctx context.Context, experiment, unit, label string) error
	UnitLabels(ctx context.Context, experiment string) ([]*types.UnitLabel, error)

	// Logs
	InsertLog(ctx context.Context, r *types.LogRecord) error
	InsertLogs(ctx context.Context, rs []*types.LogRecord) error
	QueryLogs(ctx context.Context, experiment string, unit string, minLevel types.LogLevel, skip, limit int) ([]*types.LogRecord, error)

	// Time series
	InsertTimeSeriesPoint(ctx context.Context, table string, p *types.TimeSeriesPoint) error
	QueryTimeSeries(ctx context.Context, table, experiment, unit string, since time.Time) ([]*types.TimeSeriesPoint, error)
	CountTimeSeries(ctx context.Context, table, experiment, unit string, since time.Time) (int, error)

	// Config history
	SaveConfigHistory(ctx context.Context, filename, data string) error
	LatestConfig(ctx context.Context, filename string) (*types.ConfigHistoryRow, error)
	DeleteConfigHistory(ctx context.Context, filename string) error

	Close() error
}
