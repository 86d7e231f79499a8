package leaderapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pioreactor/cluster-core/pkg/orchestrator"
	"github.com/pioreactor/cluster-core/pkg/store"
	"github.com/pioreactor/cluster-core/pkg/taskqueue"
	"github.com/pioreactor/cluster-core/pkg/types"
	"github.com/pioreactor/cluster-core/pkg/unitclient"
)

// fakeWorker records every request a multicast fan-out delivers to it.
type fakeWorker struct {
	mu       sync.Mutex
	requests []recordedRequest
	srv      *httptest.Server
}

type recordedRequest struct {
	Method string
	Path   string
	Body   []byte
}

func newFakeWorker(t *testing.T) *fakeWorker {
	fw := &fakeWorker{}
	fw.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := new(bytes.Buffer)
		_, _ = body.ReadFrom(r.Body)
		fw.mu.Lock()
		fw.requests = append(fw.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: body.Bytes()})
		fw.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(fw.srv.Close)
	return fw
}

func (fw *fakeWorker) recorded() []recordedRequest {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return append([]recordedRequest(nil), fw.requests...)
}

type testEnv struct {
	server  *Server
	store   *store.SQLiteStore
	tasks   *taskqueue.Queue
	workers map[string]*fakeWorker
}

func newTestEnv(t *testing.T, workerNames ...string) *testEnv {
	t.Helper()

	st, err := store.NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	tasks := taskqueue.New(2, time.Minute)
	t.Cleanup(tasks.Stop)

	overrides := map[string]string{}
	workers := map[string]*fakeWorker{}
	for _, name := range workerNames {
		fw := newFakeWorker(t)
		workers[name] = fw
		overrides[name] = fw.srv.URL
	}

	uc := unitclient.New(unitclient.StaticResolver{Overrides: overrides}, 5*time.Second)
	orch := orchestrator.New(st, nil, tasks, uc, "leader", "test")

	srv := &Server{
		Orchestrator: orch,
		Store:        st,
		Tasks:        tasks,
		DataDir:      t.TempDir(),
		AppVersion:   "test",
	}
	return &testEnv{server: srv, store: st, tasks: tasks, workers: workers}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) addWorker(t *testing.T, name, experiment string, active bool) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, env.store.CreateWorker(ctx, &types.Worker{
		PioreactorUnit: name, AddedAt: time.Now().UTC(), IsActive: active, ModelName: "pioreactor_20ml", ModelVersion: "1.1",
	}))
	if experiment != "" {
		require.NoError(t, env.store.AssignWorker(ctx, name, experiment))
	}
}

func (env *testEnv) awaitTask(t *testing.T, id string) *types.Task {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		task, err := env.tasks.Get(id)
		require.NoError(t, err)
		if task.State == types.TaskStateComplete || task.State == types.TaskStateFailed {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not settle", id)
	return nil
}

func TestCreateExperimentValidationRules(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		want int
	}{
		{"exp1", http.StatusCreated},
		{"current", http.StatusBadRequest},
		{strings.Repeat("x", 200), http.StatusBadRequest},
		{"_testing_foo", http.StatusBadRequest},
		{"bad#name", http.StatusBadRequest},
		{"", http.StatusBadRequest},
	}
	for _, tc := range cases {
		rec := env.do(t, http.MethodPost, "/api/experiments", map[string]string{"experiment": tc.name})
		assert.Equal(t, tc.want, rec.Code, "experiment name %q", tc.name)
	}
}

func TestCreateDuplicateExperimentIsConflict(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/experiments", map[string]string{"experiment": "exp1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/experiments", map[string]string{"experiment": "exp1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var envl struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envl))
	assert.Contains(t, strings.ToLower(envl.Error), "already exists")
}

func TestRunJobFansOutToAssignedActiveWorkersOnly(t *testing.T) {
	env := newTestEnv(t, "u1", "u2", "u3")
	env.addWorker(t, "u1", "exp1", true)
	env.addWorker(t, "u2", "exp1", true)
	env.addWorker(t, "u3", "exp2", true)

	rec := env.do(t, http.MethodPost, "/api/workers/$broadcast/jobs/run/job_name/stirring/experiments/exp1",
		map[string]any{"options": map[string]any{"target_rpm": 10}})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var envl taskqueue.ResultEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envl))
	require.NotEmpty(t, envl.TaskID)
	assert.True(t, strings.HasPrefix(envl.ResultURLPath, "/api/tasks/"))

	env.awaitTask(t, envl.TaskID)

	// Exactly u1 and u2 receive the run call; u3 is in another experiment.
	for _, name := range []string{"u1", "u2"} {
		reqs := env.workers[name].recorded()
		require.Len(t, reqs, 1, "worker %s", name)
		assert.Equal(t, "/unit_api/jobs/run/job_name/stirring", reqs[0].Path)

		var payload types.RunJobPayload
		require.NoError(t, json.Unmarshal(reqs[0].Body, &payload))
		assert.Equal(t, "exp1", payload.Env["EXPERIMENT"])
		assert.Equal(t, "1", payload.Env["ACTIVE"])
		assert.Equal(t, name, payload.Env["HOSTNAME"])
	}
	assert.Empty(t, env.workers["u3"].recorded())
}

func TestRunJobRejectsBroadcastWithUniversalExperiment(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/workers/$broadcast/jobs/run/job_name/stirring/experiments/$experiment", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunJobOnInactiveWorkerIsPolicyError(t *testing.T) {
	env := newTestEnv(t, "u1")
	env.addWorker(t, "u1", "exp1", false)

	rec := env.do(t, http.MethodPost, "/api/workers/u1/jobs/run/job_name/stirring/experiments/exp1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStopJobOnWrongExperimentStillAccepted(t *testing.T) {
	env := newTestEnv(t, "u1")
	env.addWorker(t, "u1", "exp1", true)

	// The Bus is addressed by the URL; with no bus attached the stop
	// falls back to the direct worker call, but the request is accepted
	// either way.
	rec := env.do(t, http.MethodPost, "/api/workers/u1/jobs/stop/job_name/stirring/experiments/exp99", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var envl taskqueue.ResultEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envl))
	env.awaitTask(t, envl.TaskID)

	reqs := env.workers["u1"].recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/unit_api/jobs/stop", reqs[0].Path)
}

func TestPatchConfigMissingMQTTSectionRejected(t *testing.T) {
	env := newTestEnv(t)

	body := "[cluster.topology]\nleader_hostname = leader\nleader_address = leader.local\n"
	rec := env.do(t, http.MethodPatch, "/api/configs/config.ini", map[string]string{"config_ini": body})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var envl struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envl))
	assert.Contains(t, strings.ToLower(envl.Error), "missing required")
}

func TestPatchConfigThenGetRoundTrips(t *testing.T) {
	env := newTestEnv(t)

	body := "[cluster.topology]\nleader_hostname = leader\nleader_address = leader.local\n\n[mqtt]\nbroker = localhost\n"
	rec := env.do(t, http.MethodPatch, "/api/configs/config.ini", map[string]string{"config_ini": body})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/configs/config.ini", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, rec.Body.String())
}

func TestTimeSeriesDecimationBudgetAndRounding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	const stored = 3000
	for i := 0; i < stored; i++ {
		unit := "u1"
		if i%2 == 0 {
			unit = "u2"
		}
		require.NoError(t, env.store.InsertTimeSeriesPoint(ctx, "growth_rates", &types.TimeSeriesPoint{
			Experiment:     "exp1",
			PioreactorUnit: unit,
			Timestamp:      base.Add(time.Duration(i) * time.Second),
			Value:          0.123456789,
		}))
	}

	rec := env.do(t, http.MethodGet, "/api/experiments/exp1/time_series/growth_rates?target_points=720&lookback=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Series []string `json:"series"`
		Data   [][]struct {
			X int64   `json:"x"`
			Y float64 `json:"y"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Series, 2)

	total := 0
	for _, series := range resp.Data {
		require.NotEmpty(t, series)
		total += len(series)
		for _, p := range series {
			// 5 dp rounding for growth rates.
			assert.Equal(t, 0.12346, p.Y)
		}
	}
	assert.LessOrEqual(t, total, int(float64(720)*1.1))
	assert.Greater(t, total, 0)
}

func TestTimeSeriesTargetPointsZeroRejected(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/experiments/exp1/time_series/growth_rates?target_points=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownTaskIDReportsPendingOrNotPresent(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/tasks/no-such-id", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var envl taskqueue.ResultEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envl))
	assert.Equal(t, "pending or not present", envl.Status)
}

func TestAssignWorkerRepeatedIsIdempotentOverHTTP(t *testing.T) {
	env := newTestEnv(t, "u1")
	env.addWorker(t, "u1", "", true)
	require.Equal(t, http.StatusCreated,
		env.do(t, http.MethodPost, "/api/experiments", map[string]string{"experiment": "exp1"}).Code)

	for i := 0; i < 3; i++ {
		rec := env.do(t, http.MethodPut, "/api/experiments/exp1/workers/u1", nil)
		require.Equal(t, http.StatusNoContent, rec.Code, "iteration %d", i)
	}

	rec := env.do(t, http.MethodGet, "/api/experiments/exp1/workers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var assignments []types.Assignment
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&assignments))
	require.Len(t, assignments, 1)
	assert.Equal(t, "u1", assignments[0].PioreactorUnit)
}

func TestRecentLogsHonorMinLevel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for i, level := range []types.LogLevel{types.LogLevelDebug, types.LogLevelInfo, types.LogLevelError} {
		require.NoError(t, env.store.InsertLog(ctx, &types.LogRecord{
			Timestamp: now.Add(time.Duration(i) * time.Second), Level: level,
			PioreactorUnit: "u1", Experiment: "exp1", Message: fmt.Sprintf("m%d", i),
		}))
	}

	rec := env.do(t, http.MethodGet, "/api/experiments/exp1/recent_logs?min_level=ERROR", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []types.LogRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&logs))
	require.Len(t, logs, 1)
	assert.Equal(t, types.LogLevelError, logs[0].Level)
}

func TestExperimentProfileFilenameValidation(t *testing.T) {
	env := newTestEnv(t)

	profile := "experiment_profile_name: demo\nstages:\n  - actions:\n      - type: start\n        job: stirring\n"
	cases := []struct {
		filename string
		want     int
	}{
		{"demo.yaml", http.StatusCreated},
		{"demo profile.yml", http.StatusCreated},
		{".hidden.yaml", http.StatusBadRequest},
		{"-dash.yaml", http.StatusBadRequest},
		{"bad/slash.yaml", http.StatusBadRequest},
		{"noext", http.StatusBadRequest},
	}
	for _, tc := range cases {
		rec := env.do(t, http.MethodPost, "/api/contrib/experiment_profiles",
			map[string]string{"filename": tc.filename, "body": profile})
		assert.Equal(t, tc.want, rec.Code, "filename %q", tc.filename)
	}
}

func TestUnitAPIPathOnLeaderIs404(t *testing.T) {
	// The leader serves /api; a request to /unit_api on the leader's
	// router is simply unrouted. The worker-side prefix hint lives in
	// pkg/workerapi's router and is not asserted here; this test pins
	// only the leader 404 behavior.
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/unit_api/jobs/running", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
