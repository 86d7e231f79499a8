package clibridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pioreactor/cluster-core/pkg/multicast"
	"github.com/pioreactor/cluster-core/pkg/orchestrator"
	"github.com/pioreactor/cluster-core/pkg/store"
	"github.com/pioreactor/cluster-core/pkg/taskqueue"
	"github.com/pioreactor/cluster-core/pkg/types"
	"github.com/pioreactor/cluster-core/pkg/unitclient"
	"github.com/pioreactor/cluster-core/pkg/workerapi"
)

func newLeaderBridge(t *testing.T, workerNames ...string) (*Leader, *store.SQLiteStore, func(unit string) []string) {
	t.Helper()

	st, err := store.NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	tasks := taskqueue.New(2, time.Minute)
	t.Cleanup(tasks.Stop)

	var mu sync.Mutex
	hits := map[string][]string{}

	overrides := map[string]string{}
	for _, name := range workerNames {
		name := name
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			hits[name] = append(hits[name], r.URL.Path)
			mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		}))
		t.Cleanup(srv.Close)
		overrides[name] = srv.URL
	}

	uc := unitclient.New(unitclient.StaticResolver{Overrides: overrides}, 5*time.Second)
	orch := orchestrator.New(st, nil, tasks, uc, "leader", "test")

	pathsHit := func(unit string) []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), hits[unit]...)
	}
	return &Leader{Orch: orch}, st, pathsHit
}

func addActiveWorker(t *testing.T, st *store.SQLiteStore, name, experiment string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateWorker(ctx, &types.Worker{PioreactorUnit: name, AddedAt: time.Now().UTC(), IsActive: true}))
	if experiment != "" {
		require.NoError(t, st.AssignWorker(ctx, name, experiment))
	}
}

func TestLeaderRunTargetsAssignedWorkers(t *testing.T) {
	l, st, pathsHit := newLeaderBridge(t, "u1", "u2")
	addActiveWorker(t, st, "u1", "exp1")
	addActiveWorker(t, st, "u2", "exp1")

	inv := Invocation{
		JobOrAction: "stirring",
		Experiments: []string{"exp1"},
		Options:     map[string]string{"target-rpm": "400"},
	}
	tasks, err := l.Run(context.Background(), inv)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	for _, task := range tasks {
		ok, err := l.Await(task, 3*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Contains(t, pathsHit("u1"), "/unit_api/jobs/run/job_name/stirring")
	assert.Contains(t, pathsHit("u2"), "/unit_api/jobs/run/job_name/stirring")
}

func TestLeaderRunWithoutJobNameFails(t *testing.T) {
	l, _, _ := newLeaderBridge(t)
	_, err := l.Run(context.Background(), Invocation{})
	require.Error(t, err)
}

func TestLeaderKillAllFansOutStopAll(t *testing.T) {
	l, st, pathsHit := newLeaderBridge(t, "u1")
	addActiveWorker(t, st, "u1", "exp1")

	task, err := l.Kill(context.Background(), Invocation{Units: []string{"u1"}, Options: map[string]string{}}, true)
	require.NoError(t, err)
	ok, err := l.Await(task, 3*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, pathsHit("u1"), "/unit_api/jobs/stop/all")
}

func TestLeaderAwaitReportsPartialFailure(t *testing.T) {
	// One resolvable worker, one not: the fan-out aggregates a per-unit
	// failure, which Await must surface as ok=false (CLI exit 1).
	l, st, _ := newLeaderBridge(t, "u1")
	addActiveWorker(t, st, "u1", "exp1")
	addActiveWorker(t, st, "missing", "exp1")

	task, err := l.Kill(context.Background(), Invocation{Options: map[string]string{}}, true)
	require.NoError(t, err)
	ok, err := l.Await(task, 15*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvocationPayloadCarriesFlags(t *testing.T) {
	inv := Invocation{
		JobOrAction:     "stirring",
		Args:            []string{"a"},
		Options:         map[string]string{"target-rpm": "400"},
		Env:             map[string]string{"EXPERIMENT": "exp1"},
		ConfigOverrides: [][3]string{{"stirring", "target_rpm", "400"}},
	}
	p := inv.payload()
	assert.Equal(t, []string{"a"}, p.Args)
	assert.Equal(t, "400", p.Options["target-rpm"])
	assert.Equal(t, "exp1", p.Env["EXPERIMENT"])
	require.Len(t, p.ConfigOverrides, 1)
}

func TestResultsAllOK(t *testing.T) {
	assert.True(t, resultsAllOK(map[string]*multicast.UnitResult{
		"u1": {OK: true},
	}))
	assert.False(t, resultsAllOK(map[string]*multicast.UnitResult{
		"u1": {OK: true},
		"u2": {OK: false, Err: "connection refused"},
	}))
	assert.True(t, resultsAllOK("not a multicast result"))
}

func TestWorkerBridgeRunAndKill(t *testing.T) {
	tasks := taskqueue.New(1, time.Minute)
	t.Cleanup(tasks.Stop)

	api := &workerapi.Server{
		Jobs:  workerapi.NewJobRegistry(),
		Tasks: tasks,
	}
	w := &Worker{API: api}

	task, err := w.Run(context.Background(), Invocation{
		JobOrAction: "stirring",
		Env:         map[string]string{"EXPERIMENT": "exp1"},
	})
	require.NoError(t, err)
	require.NotNil(t, task)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(w.Running()) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Len(t, w.Running(), 1)
	assert.Equal(t, "exp1", w.Running()[0].Experiment)

	stopped := w.Kill(Invocation{Options: map[string]string{}}, true)
	assert.Equal(t, 1, stopped)
	assert.Empty(t, w.Running())
}
