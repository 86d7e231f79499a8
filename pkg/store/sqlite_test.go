package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pioreactor/cluster-core/pkg/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetExperiment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &types.Experiment{Experiment: "exp1", CreatedAt: time.Now().UTC(), Description: "demo"}
	require.NoError(t, s.CreateExperiment(ctx, e))

	got, err := s.GetExperiment(ctx, "exp1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "exp1", got.Experiment)
	assert.Equal(t, "demo", got.Description)
}

func TestCreateDuplicateExperimentErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &types.Experiment{Experiment: "exp1", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateExperiment(ctx, e))
	err := s.CreateExperiment(ctx, e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestQueryRejectsMutatingStatements(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Query(context.Background(), `DELETE FROM experiments`, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not read-only")
}

func TestAssignWorkerReplacesPriorAssignment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateWorker(ctx, &types.Worker{PioreactorUnit: "u1", AddedAt: time.Now().UTC(), IsActive: true}))
	require.NoError(t, s.AssignWorker(ctx, "u1", "exp1"))
	require.NoError(t, s.AssignWorker(ctx, "u1", "exp2"))

	a, err := s.CurrentAssignment(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "exp2", a.Experiment)

	// Invariant 1: at most one current assignment per worker.
	res, err := s.Query(ctx, `SELECT COUNT(*) AS c FROM assignments WHERE pioreactor_unit = ?`, true, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.(Row)["c"])
}

func TestAssignWorkerRepeatedIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateWorker(ctx, &types.Worker{PioreactorUnit: "u1", AddedAt: time.Now().UTC(), IsActive: true}))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.AssignWorker(ctx, "u1", "exp1"))
	}
	res, err := s.Query(ctx, `SELECT COUNT(*) AS c FROM assignments`, true)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.(Row)["c"])
}

func TestDeleteExperimentRemovesAssignments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateExperiment(ctx, &types.Experiment{Experiment: "exp1", CreatedAt: time.Now().UTC()}))
	require.NoError(t, s.CreateWorker(ctx, &types.Worker{PioreactorUnit: "u1", AddedAt: time.Now().UTC(), IsActive: true}))
	require.NoError(t, s.AssignWorker(ctx, "u1", "exp1"))

	require.NoError(t, s.DeleteExperiment(ctx, "exp1"))

	a, err := s.CurrentAssignment(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestAssignmentHistoryRecordsUnassignment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateWorker(ctx, &types.Worker{PioreactorUnit: "u1", AddedAt: time.Now().UTC(), IsActive: true}))
	require.NoError(t, s.AssignWorker(ctx, "u1", "exp1"))
	require.NoError(t, s.UnassignWorker(ctx, "u1"))

	history, err := s.AssignmentHistory(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "exp1", history[0].Experiment)
	require.NotNil(t, history[0].UnassignedAt)
}

func TestExperimentAtTimeAttributesWithGraceWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateWorker(ctx, &types.Worker{PioreactorUnit: "u1", AddedAt: time.Now().UTC(), IsActive: true}))
	require.NoError(t, s.AssignWorker(ctx, "u1", "exp1"))
	assigned := time.Now()
	require.NoError(t, s.UnassignWorker(ctx, "u1"))

	// During the assignment.
	exp, err := s.ExperimentAtTime(ctx, "u1", assigned)
	require.NoError(t, err)
	assert.Equal(t, "exp1", exp)

	// Within the 5s grace window past unassignment.
	exp, err = s.ExperimentAtTime(ctx, "u1", time.Now().Add(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "exp1", exp)

	// Well past the grace window.
	exp, err = s.ExperimentAtTime(ctx, "u1", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "", exp)
}

func TestQueryLogsHonorsMinLevelSubset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for _, level := range []types.LogLevel{types.LogLevelDebug, types.LogLevelInfo, types.LogLevelNotice, types.LogLevelWarning, types.LogLevelError} {
		require.NoError(t, s.InsertLog(ctx, &types.LogRecord{
			Timestamp: now, Level: level, PioreactorUnit: "u1", Experiment: "exp1", Message: string(level),
		}))
	}

	rows, err := s.QueryLogs(ctx, "exp1", "", types.LogLevelWarning, 0, 100)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Contains(t, []types.LogLevel{types.LogLevelWarning, types.LogLevelError}, r.Level)
	}

	rows, err = s.QueryLogs(ctx, "exp1", "", types.LogLevelDebug, 0, 100)
	require.NoError(t, err)
	assert.Len(t, rows, 5)
}

func TestQueryLogsIncludesUniversalExperimentRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, s.InsertLog(ctx, &types.LogRecord{
		Timestamp: now, Level: types.LogLevelInfo, PioreactorUnit: "u1", Experiment: "exp1", Message: "experiment-scoped",
	}))
	// Audit entries are written against the universal experiment and
	// must still be readable through any experiment's log view.
	require.NoError(t, s.InsertLog(ctx, &types.LogRecord{
		Timestamp: now, Level: types.LogLevelNotice, PioreactorUnit: types.BroadcastUnit,
		Experiment: types.UniversalExperiment, Source: "audit", Message: "worker.registered: u1",
	}))
	require.NoError(t, s.InsertLog(ctx, &types.LogRecord{
		Timestamp: now, Level: types.LogLevelInfo, PioreactorUnit: "u2", Experiment: "exp2", Message: "other experiment",
	}))

	rows, err := s.QueryLogs(ctx, "exp1", "", types.LogLevelInfo, 0, 100)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	messages := []string{rows[0].Message, rows[1].Message}
	assert.Contains(t, messages, "experiment-scoped")
	assert.Contains(t, messages, "worker.registered: u1")
}

func TestDeleteConfigHistoryPurgesEveryRevision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveConfigHistory(ctx, "config_u1.ini", "rev1"))
	require.NoError(t, s.SaveConfigHistory(ctx, "config_u1.ini", "rev2"))
	require.NoError(t, s.SaveConfigHistory(ctx, "config.ini", "shared"))

	require.NoError(t, s.DeleteConfigHistory(ctx, "config_u1.ini"))

	row, err := s.LatestConfig(ctx, "config_u1.ini")
	require.NoError(t, err)
	assert.Nil(t, row)

	shared, err := s.LatestConfig(ctx, "config.ini")
	require.NoError(t, err)
	require.NotNil(t, shared)
}

func TestTimeSeriesRoundTripAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.InsertTimeSeriesPoint(ctx, "growth_rates", &types.TimeSeriesPoint{
			Experiment: "exp1", PioreactorUnit: "u1", Timestamp: base.Add(time.Duration(i) * time.Minute), Value: float64(i),
		}))
	}

	points, err := s.QueryTimeSeries(ctx, "growth_rates", "exp1", "", base.Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, points, 10)

	n, err := s.CountTimeSeries(ctx, "growth_rates", "exp1", "", base.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestUnknownTimeSeriesTableRejected(t *testing.T) {
	s := newTestStore(t)
	_, err := s.QueryTimeSeries(context.Background(), "experiments; DROP TABLE logs", "exp1", "", time.Now())
	require.Error(t, err)
}

func TestConfigHistoryLatestWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveConfigHistory(ctx, "config.ini", "rev1"))
	require.NoError(t, s.SaveConfigHistory(ctx, "config.ini", "rev2"))

	row, err := s.LatestConfig(ctx, "config.ini")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "rev2", row.Data)
}

func TestHistoricalOrganismsDistinctNonEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateExperiment(ctx, &types.Experiment{Experiment: "a", CreatedAt: time.Now().UTC(), OrganismUsed: "e. coli"}))
	require.NoError(t, s.CreateExperiment(ctx, &types.Experiment{Experiment: "b", CreatedAt: time.Now().UTC(), OrganismUsed: "e. coli"}))
	require.NoError(t, s.CreateExperiment(ctx, &types.Experiment{Experiment: "c", CreatedAt: time.Now().UTC()}))

	organisms, err := s.HistoricalOrganisms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"e. coli"}, organisms)
}
