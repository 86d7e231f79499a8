package workerapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pioreactor/cluster-core/pkg/apierror"
	"github.com/pioreactor/cluster-core/pkg/localstore"
	"github.com/pioreactor/cluster-core/pkg/metrics"
	"github.com/pioreactor/cluster-core/pkg/pluginregistry"
	"github.com/pioreactor/cluster-core/pkg/taskqueue"
	"github.com/pioreactor/cluster-core/pkg/types"
)

func timeNowUTCString() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func parseISO8601(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// Server holds every worker-local piece of state (job registry,
// calibration/estimator stores, system manager, plugin manager,
// calibration sessions) and wires them into the /unit_api/... HTTP
// surface.
type Server struct {
	Jobs         *JobRegistry
	Settings     *SettingsCache
	Calibrations *DocumentStore
	Estimators   *DocumentStore
	Sessions     *SessionRegistry
	System       *SystemManager
	Plugins      *PluginManager
	Registry     *pluginregistry.Registry
	Local        *localstore.Store
	Tasks        *taskqueue.Queue

	AppVersion   string
	Capabilities map[string]bool

	// OS-touching actions, injected by the daemon so the HTTP layer
	// stays testable; nil means the scheduled task is a no-op.
	RebootFn    func(ctx context.Context) error
	ShutdownFn  func(ctx context.Context) error
	UpdateFn    func(ctx context.Context, target string) error
	SetClockFn  func(ctx context.Context, t time.Time) error
	SyncClockFn func(ctx context.Context) error
}

func noopCtx(fn func(ctx context.Context) error) func(ctx context.Context) error {
	if fn == nil {
		return func(ctx context.Context) error { return nil }
	}
	return fn
}

// Router builds the gorilla/mux router serving the /unit_api/... surface.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			timer := metrics.NewTimer()
			next.ServeHTTP(w, r)
			timer.ObserveDurationVec(metrics.HTTPRequestDuration, "worker", r.Method)
		})
	})
	api := r.PathPrefix("/unit_api").Subrouter()

	api.HandleFunc("/jobs/run/job_name/{job_name}", s.handleRunJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/stop", s.handleStopJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/stop/all", s.handleStopAllJobs).Methods(http.MethodPost)
	api.HandleFunc("/jobs/running", s.handleRunningJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/running/{job_name}", s.handleRunningJobsByName).Methods(http.MethodGet)
	api.HandleFunc("/jobs/running/experiments/{experiment}", s.handleRunningJobsByExperiment).Methods(http.MethodGet)
	api.HandleFunc("/jobs/settings/job_name/{job_name}", s.handleJobSettings).Methods(http.MethodGet, http.MethodPatch)
	api.HandleFunc("/jobs/settings/job_name/{job_name}/setting/{setting}", s.handleJobSetting).Methods(http.MethodGet, http.MethodPatch)

	api.HandleFunc("/calibrations", s.handleListCalibrationDevices).Methods(http.MethodGet)
	api.HandleFunc("/calibrations/{device}", s.handleListCalibrations).Methods(http.MethodGet)
	api.HandleFunc("/calibrations/{device}", s.handleCreateCalibration).Methods(http.MethodPost)
	api.HandleFunc("/calibrations/{device}/{name}", s.handleGetCalibration).Methods(http.MethodGet)
	api.HandleFunc("/calibrations/{device}/{name}", s.handleDeleteCalibration).Methods(http.MethodDelete)
	api.HandleFunc("/active_calibrations/{device}/{name}", s.handleSetActiveCalibration).Methods(http.MethodPatch)
	api.HandleFunc("/active_calibrations/{device}", s.handleClearActiveCalibration).Methods(http.MethodDelete)
	api.HandleFunc("/zipped_calibrations", s.handleZippedCalibrations).Methods(http.MethodGet)

	api.HandleFunc("/calibrations/{device}/sessions", s.handleStartCalibrationSession).Methods(http.MethodPost)
	api.HandleFunc("/calibrations/{device}/sessions/{id}", s.handleGetCalibrationSession).Methods(http.MethodGet)
	api.HandleFunc("/calibrations/{device}/sessions/{id}", s.handlePostCalibrationSession).Methods(http.MethodPost)
	api.HandleFunc("/calibrations/{device}/sessions/{id}/advance", s.handleAdvanceCalibrationSession).Methods(http.MethodPost)
	api.HandleFunc("/calibrations/{device}/sessions/{id}/abort", s.handleAbortCalibrationSession).Methods(http.MethodPost)

	api.HandleFunc("/estimators", s.handleListEstimatorDevices).Methods(http.MethodGet)
	api.HandleFunc("/estimators/{device}", s.handleListEstimators).Methods(http.MethodGet)
	api.HandleFunc("/estimators/{device}", s.handleCreateEstimator).Methods(http.MethodPost)
	api.HandleFunc("/estimators/{device}/{name}", s.handleGetEstimator).Methods(http.MethodGet)
	api.HandleFunc("/estimators/{device}/{name}", s.handleDeleteEstimator).Methods(http.MethodDelete)
	api.HandleFunc("/active_estimators/{device}/{name}", s.handleSetActiveEstimator).Methods(http.MethodPatch)
	api.HandleFunc("/active_estimators/{device}", s.handleClearActiveEstimator).Methods(http.MethodDelete)
	api.HandleFunc("/zipped_estimators", s.handleZippedEstimators).Methods(http.MethodGet)

	api.HandleFunc("/zipped_dot_pioreactor", s.handleZippedDotPioreactor).Methods(http.MethodGet)
	api.HandleFunc("/import_zipped_dot_pioreactor", s.handleImportZippedDotPioreactor).Methods(http.MethodPost)

	api.HandleFunc("/system/path", s.handleBrowsePath).Methods(http.MethodGet)
	api.HandleFunc("/system/path/{path:.*}", s.handleBrowsePath).Methods(http.MethodGet)
	api.HandleFunc("/system/remove_file", s.handleRemoveFile).Methods(http.MethodPost)
	api.HandleFunc("/system/reboot", s.handleReboot).Methods(http.MethodPost)
	api.HandleFunc("/system/shutdown", s.handleShutdown).Methods(http.MethodPost)
	api.HandleFunc("/system/update", s.handleUpdate).Methods(http.MethodPost)
	api.HandleFunc("/system/update/{target}", s.handleUpdate).Methods(http.MethodPost)
	api.HandleFunc("/system/unit_config", s.handleSetUnitConfig).Methods(http.MethodPost)
	api.HandleFunc("/system/utc_clock", s.handleGetClock).Methods(http.MethodGet)
	api.HandleFunc("/system/utc_clock", s.handleSetClock).Methods(http.MethodPost, http.MethodPatch)

	api.HandleFunc("/plugins/installed", s.handlePluginsInstalled).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/plugins/install", s.handlePluginInstall).Methods(http.MethodPost)
	api.HandleFunc("/plugins/uninstall", s.handlePluginUninstall).Methods(http.MethodPost)

	api.HandleFunc("/task_results/{id}", s.handleTaskResult).Methods(http.MethodGet)

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/versions/app", s.handleVersion).Methods(http.MethodGet)
	api.HandleFunc("/capabilities", s.handleCapabilities).Methods(http.MethodGet)

	// plugin-manifest routes for the worker surface; only the static
	// kinds are available here (proxy-to-bus is a leader concern).
	if s.Registry != nil {
		for _, rt := range s.Registry.RoutesFor("worker") {
			rt := rt
			if rt.Kind == pluginregistry.HandlerStaticMetadata || rt.Kind == pluginregistry.HandlerContribListing {
				r.HandleFunc(rt.Path, func(w http.ResponseWriter, _ *http.Request) {
					writeJSON(w, http.StatusOK, rt.Metadata)
				}).Methods(rt.Method)
			}
		}
	}

	// A worker does not host the leader's surface; requests landing on
	// /api here get a hint at the right prefix rather than a bare 404.
	r.PathPrefix("/api").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apierror.WriteJSON(w, &apierror.Error{
			Kind:        apierror.KindNotFound,
			Message:     "this unit does not serve the leader API",
			Remediation: "did you mean /unit_api/?",
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeTask renders a task through the shared result envelope; the same
// mapping serves both submission responses and GET /task_results polls.
func writeTask(w http.ResponseWriter, task *types.Task) {
	env, status := taskqueue.Envelope(task, "/unit_api/task_results")
	writeJSON(w, status, env)
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		// An entirely absent body is fine; handlers validate required
		// fields themselves.
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apierror.Validationf("invalid JSON body: %v", err)
	}
	return nil
}

// --- jobs ---

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	jobName := mux.Vars(r)["job_name"]
	if err := s.Jobs.CheckAndMarkRateLimit(jobName); err != nil {
		apierror.WriteJSON(w, err)
		return
	}

	var payload types.RunJobPayload
	if err := decodeJSON(r, &payload); err != nil {
		apierror.WriteJSON(w, err)
		return
	}

	experiment := payload.Env["EXPERIMENT"]
	longRunning := true
	task := s.Tasks.Submit("run_job", "", func(ctx context.Context) (any, error) {
		job := s.Jobs.Register(jobName, experiment, longRunning)
		return job, nil
	})
	writeTask(w, task)
}

func (s *Server) handleStopJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		JobName    string `json:"job_name"`
		Experiment string `json:"experiment"`
		JobID      string `json:"job_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	stopped := s.Jobs.StopMatching(body.JobName, body.Experiment, body.JobID)
	writeJSON(w, http.StatusOK, map[string]int{"stopped": stopped})
}

func (s *Server) handleStopAllJobs(w http.ResponseWriter, r *http.Request) {
	stopped := s.Jobs.StopAll()
	writeJSON(w, http.StatusOK, map[string]int{"stopped": stopped})
}

func (s *Server) handleRunningJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Jobs.Running())
}

func (s *Server) handleRunningJobsByName(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["job_name"]
	writeJSON(w, http.StatusOK, s.Jobs.RunningByName(name))
}

func (s *Server) handleRunningJobsByExperiment(w http.ResponseWriter, r *http.Request) {
	exp := mux.Vars(r)["experiment"]
	writeJSON(w, http.StatusOK, s.Jobs.RunningByExperiment(exp))
}

// handleJobSettings and handleJobSetting serve the last Bus-published
// value for a job's settings. PATCH is declared but inert: settings
// are mutated only by Bus-subscribed handlers, never by this endpoint.
func (s *Server) handleJobSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPatch {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "not implemented; settings are updated via the control bus",
		})
		return
	}
	job := mux.Vars(r)["job_name"]
	writeJSON(w, http.StatusOK, map[string]any{"settings": s.Settings.Settings(job)})
}

func (s *Server) handleJobSetting(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPatch {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "not implemented; settings are updated via the control bus",
		})
		return
	}
	v := mux.Vars(r)
	value, ok := s.Settings.Setting(v["job_name"], v["setting"])
	if !ok {
		apierror.WriteJSON(w, apierror.NotFoundf("no published value for setting %q on job %q", v["setting"], v["job_name"]))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"setting": v["setting"], "value": value})
}

// --- calibrations ---

func (s *Server) handleListCalibrationDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.Calibrations.Devices()
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleListCalibrations(w http.ResponseWriter, r *http.Request) {
	device := mux.Vars(r)["device"]
	names, err := s.Calibrations.List(device)
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleCreateCalibration(w http.ResponseWriter, r *http.Request) {
	device := mux.Vars(r)["device"]
	var body struct {
		Name string         `json:"calibration_name"`
		Data map[string]any `json:"data"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	doc := NewCalibrationDoc(device, body.Name, body.Data)
	if err := s.Calibrations.Put(device, body.Name, doc); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleGetCalibration(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	var doc types.CalibrationDoc
	if err := s.Calibrations.Get(v["device"], v["name"], &doc); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteCalibration(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	if err := s.Calibrations.Delete(v["device"], v["name"]); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetActiveCalibration(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	if err := s.Calibrations.SetActive(v["device"], v["name"]); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearActiveCalibration(w http.ResponseWriter, r *http.Request) {
	device := mux.Vars(r)["device"]
	if err := s.Calibrations.ClearActive(device); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleZippedCalibrations(w http.ResponseWriter, r *http.Request) {
	path, err := s.Calibrations.WriteZipArchive(s.System.dataDir + "/uploads")
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	http.ServeFile(w, r, path)
}

// --- calibration sessions ---

func (s *Server) handleStartCalibrationSession(w http.ResponseWriter, r *http.Request) {
	device := mux.Vars(r)["device"]
	var body struct {
		Name  string   `json:"calibration_name"`
		Steps []string `json:"steps"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	session := s.Sessions.Start(device, body.Name, body.Steps)
	writeJSON(w, http.StatusCreated, map[string]any{"session": session, "next_prompt": session.NextPrompt()})
}

func (s *Server) handleGetCalibrationSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	session, err := s.Sessions.Get(id)
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handlePostCalibrationSession(w http.ResponseWriter, r *http.Request) {
	s.handleAdvanceCalibrationSession(w, r)
}

func (s *Server) handleAdvanceCalibrationSession(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	var body struct {
		Reading map[string]any `json:"reading"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	session, err := s.Sessions.Advance(v["id"], body.Reading)
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	if session.Done {
		doc := NewCalibrationDoc(session.Device, session.Name, session.Document())
		writeJSON(w, http.StatusOK, map[string]any{"session": session, "document": doc})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session, "next_prompt": session.NextPrompt()})
}

func (s *Server) handleAbortCalibrationSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.Sessions.Abort(id); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- estimators (structurally identical to calibrations) ---

func (s *Server) handleListEstimatorDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.Estimators.Devices()
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleListEstimators(w http.ResponseWriter, r *http.Request) {
	device := mux.Vars(r)["device"]
	names, err := s.Estimators.List(device)
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleCreateEstimator(w http.ResponseWriter, r *http.Request) {
	device := mux.Vars(r)["device"]
	var body struct {
		Name string         `json:"estimator_name"`
		Data map[string]any `json:"data"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	doc := NewEstimatorDoc(device, body.Name, body.Data)
	if err := s.Estimators.Put(device, body.Name, doc); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleGetEstimator(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	var doc types.EstimatorDoc
	if err := s.Estimators.Get(v["device"], v["name"], &doc); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteEstimator(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	if err := s.Estimators.Delete(v["device"], v["name"]); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetActiveEstimator(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	if err := s.Estimators.SetActive(v["device"], v["name"]); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearActiveEstimator(w http.ResponseWriter, r *http.Request) {
	device := mux.Vars(r)["device"]
	if err := s.Estimators.ClearActive(device); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleZippedEstimators(w http.ResponseWriter, r *http.Request) {
	path, err := s.Estimators.WriteZipArchive(s.System.dataDir + "/uploads")
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	http.ServeFile(w, r, path)
}

// --- dot-pioreactor archive ---

func (s *Server) handleZippedDotPioreactor(w http.ResponseWriter, r *http.Request) {
	dest := s.System.dataDir + "/uploads/dot_pioreactor.zip"
	if err := s.System.ZipDotPioreactor(dest); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	http.ServeFile(w, r, dest)
}

func (s *Server) handleImportZippedDotPioreactor(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		apierror.WriteJSON(w, apierror.Validationf("invalid multipart upload: %v", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		apierror.WriteJSON(w, apierror.Validationf("missing file field: %v", err))
		return
	}
	task := s.System.ImportDotPioreactor(file, header)
	writeTask(w, task)
}

// --- system ---

func (s *Server) handleBrowsePath(w http.ResponseWriter, r *http.Request) {
	reqPath := mux.Vars(r)["path"]
	entry, isFile, safePath, err := s.System.BrowsePath(reqPath)
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	if isFile {
		http.ServeFile(w, r, safePath)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleRemoveFile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Filepath string `json:"filepath"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	if body.Filepath == "" {
		apierror.WriteJSON(w, apierror.Validationf("filepath field is required"))
		return
	}
	task, err := s.System.RemoveFile(body.Filepath)
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	writeTask(w, task)
}

func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	task := s.System.Reboot(noopCtx(s.RebootFn))
	writeTask(w, task)
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	task := s.System.Shutdown(noopCtx(s.ShutdownFn))
	writeTask(w, task)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	target := mux.Vars(r)["target"]
	updateFn := s.UpdateFn
	if updateFn == nil {
		updateFn = func(ctx context.Context, target string) error { return nil }
	}
	task := s.System.Update(target, updateFn)
	writeTask(w, task)
}

// handleSetUnitConfig receives a config document pushed by the leader's
// config-sync task. The shared config.ini lands as unit_config.ini so a
// worker's local copy never shadows the leader's authoritative one.
func (s *Server) handleSetUnitConfig(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Filename string `json:"filename"`
		Data     string `json:"data"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	if body.Data == "" {
		apierror.WriteJSON(w, apierror.Validationf("data field is required"))
		return
	}
	if err := s.System.WriteUnitConfig(body.Data); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetClock(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "clock_time": timeNowUTCString()})
}

func (s *Server) handleSetClock(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UTCClockTime string `json:"utc_clock_time"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	t, parseErr := parseISO8601(body.UTCClockTime)
	if body.UTCClockTime == "" || parseErr != nil {
		apierror.WriteJSON(w, apierror.Validationf("utc_clock_time field is required and must be ISO 8601"))
		return
	}
	setClock := s.SetClockFn
	if setClock == nil {
		setClock = func(ctx context.Context, t time.Time) error { return nil }
	}
	task := s.System.SetUTCClock(t, setClock, noopCtx(s.SyncClockFn))
	writeTask(w, task)
}

// --- plugins ---

func (s *Server) handlePluginsInstalled(w http.ResponseWriter, r *http.Request) {
	plugins, err := s.Plugins.Installed()
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plugins)
}

func (s *Server) handlePluginInstall(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Args    []string          `json:"args"`
		Options map[string]string `json:"options"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	task, err := s.Plugins.Install(body.Args, body.Options["source"])
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	writeTask(w, task)
}

func (s *Server) handlePluginUninstall(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Args []string `json:"args"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	task, err := s.Plugins.Uninstall(body.Args)
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	writeTask(w, task)
}

// --- misc ---

func (s *Server) handleTaskResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	task, err := s.Tasks.Get(id)
	if err != nil {
		// An unknown or evicted id reports "pending or not present"
		// rather than 404, so pollers see a uniform envelope.
		env, status := taskqueue.Envelope(&types.Task{ID: id}, "/unit_api/task_results")
		writeJSON(w, status, env)
		return
	}
	writeTask(w, task)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.AppVersion})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"capabilities": s.Capabilities}
	if s.Registry != nil {
		tools := []string{}
		for _, t := range s.Registry.Tools() {
			tools = append(tools, t.JobName)
		}
		out["contrib_tools"] = tools
	}
	writeJSON(w, http.StatusOK, out)
}
