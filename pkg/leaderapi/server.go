/*
Package leaderapi is the leader's HTTP surface, URL prefix /api/...,
mirroring pkg/workerapi's handler-holder-struct shape and routing
everything worker-touching through pkg/orchestrator (which itself wraps
Targeter + Multicaster/Bus), and everything else through pkg/store
directly.
*/
package leaderapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pioreactor/cluster-core/pkg/apierror"
	"github.com/pioreactor/cluster-core/pkg/metrics"
	"github.com/pioreactor/cluster-core/pkg/orchestrator"
	"github.com/pioreactor/cluster-core/pkg/pluginregistry"
	"github.com/pioreactor/cluster-core/pkg/store"
	"github.com/pioreactor/cluster-core/pkg/taskqueue"
	"github.com/pioreactor/cluster-core/pkg/types"
)

// Server holds the leader's central dependencies and wires them into
// the /api/... HTTP surface.
type Server struct {
	Orchestrator *orchestrator.Orchestrator
	Store        store.Store
	Tasks        *taskqueue.Queue
	Plugins      *pluginregistry.Registry

	DataDir    string
	AppVersion string
}

// Router builds the gorilla/mux router serving the /api/... surface.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestTiming)
	api := r.PathPrefix("/api").Subrouter()

	// experiments
	api.HandleFunc("/experiments", s.handleListExperiments).Methods(http.MethodGet)
	api.HandleFunc("/experiments", s.handleCreateExperiment).Methods(http.MethodPost)
	api.HandleFunc("/experiments/latest", s.handleLatestExperiment).Methods(http.MethodGet)
	api.HandleFunc("/experiments/{experiment}", s.handleGetExperiment).Methods(http.MethodGet)
	api.HandleFunc("/experiments/{experiment}", s.handleUpdateExperiment).Methods(http.MethodPatch)
	api.HandleFunc("/experiments/{experiment}", s.handleDeleteExperiment).Methods(http.MethodDelete)
	api.HandleFunc("/historical_organisms", s.handleHistoricalOrganisms).Methods(http.MethodGet)
	api.HandleFunc("/historical_media", s.handleHistoricalMedia).Methods(http.MethodGet)

	// unit labels
	api.HandleFunc("/experiments/{experiment}/unit_labels", s.handleListUnitLabels).Methods(http.MethodGet)
	api.HandleFunc("/experiments/{experiment}/unit_labels", s.handlePutUnitLabel).Methods(http.MethodPut)
	api.HandleFunc("/experiments/{experiment}/unit_labels/{unit}", s.handlePutUnitLabel).Methods(http.MethodPut)

	// workers & assignments
	api.HandleFunc("/workers", s.handleListWorkers).Methods(http.MethodGet)
	api.HandleFunc("/workers", s.handleCreateWorker).Methods(http.MethodPut)
	api.HandleFunc("/workers/{unit}", s.handleGetWorker).Methods(http.MethodGet)
	api.HandleFunc("/workers/{unit}", s.handleSetWorkerActive).Methods(http.MethodPatch)
	api.HandleFunc("/workers/{unit}", s.handleDeleteWorker).Methods(http.MethodDelete)
	api.HandleFunc("/experiments/{experiment}/workers", s.handleAssignmentsForExperiment).Methods(http.MethodGet)
	api.HandleFunc("/experiments/{experiment}/workers/{unit}", s.handleAssignWorker).Methods(http.MethodPut)
	api.HandleFunc("/experiments/{experiment}/workers/{unit}", s.handleUnassignWorker).Methods(http.MethodDelete)

	// jobs (run/update/stop fan out through Targeter+Multicaster/Bus)
	api.HandleFunc("/workers/{unit}/jobs/run/job_name/{job}/experiments/{experiment}", s.handleRunJob).Methods(http.MethodPost)
	api.HandleFunc("/workers/{unit}/jobs/update/job_name/{job}/experiments/{experiment}", s.handleUpdateJob).Methods(http.MethodPatch)
	api.HandleFunc("/workers/{unit}/jobs/stop/job_name/{job}/experiments/{experiment}", s.handleStopJob).Methods(http.MethodPost)
	api.HandleFunc("/workers/{unit}/blink", s.handleBlink).Methods(http.MethodPost)

	// time series / logs
	api.HandleFunc("/experiments/{experiment}/time_series/{metric}", s.handleTimeSeries).Methods(http.MethodGet)
	api.HandleFunc("/experiments/{experiment}/media_rates", s.handleMediaRates).Methods(http.MethodGet)
	api.HandleFunc("/experiments/{experiment}/recent_logs", s.handleRecentLogs).Methods(http.MethodGet)
	api.HandleFunc("/experiments/{experiment}/logs", s.handleLogs).Methods(http.MethodGet)

	// configs
	api.HandleFunc("/configs/{filename}", s.handleGetConfig).Methods(http.MethodGet)
	api.HandleFunc("/configs/{filename}", s.handlePatchConfig).Methods(http.MethodPatch)

	// contrib: experiment profiles, automations/jobs/charts, export, upload
	api.HandleFunc("/contrib/experiment_profiles", s.handleListProfiles).Methods(http.MethodGet)
	api.HandleFunc("/contrib/experiment_profiles", s.handleCreateProfile).Methods(http.MethodPost)
	api.HandleFunc("/contrib/experiment_profiles/{filename}", s.handleGetProfile).Methods(http.MethodGet)
	api.HandleFunc("/contrib/experiment_profiles/{filename}", s.handlePutProfile).Methods(http.MethodPatch)
	api.HandleFunc("/contrib/experiment_profiles/{filename}", s.handleDeleteProfile).Methods(http.MethodDelete)
	api.HandleFunc("/contrib/experiment_profiles/{filename}/execute", s.handleExecuteProfile).Methods(http.MethodPost)
	api.HandleFunc("/contrib/automations/{automation_type}", s.handleContribAutomations).Methods(http.MethodGet)
	api.HandleFunc("/contrib/jobs", s.handleContribJobs).Methods(http.MethodGet)
	api.HandleFunc("/contrib/charts", s.handleContribCharts).Methods(http.MethodGet)
	api.HandleFunc("/contrib/exportable_datasets", s.handleExportableDatasets).Methods(http.MethodGet)
	api.HandleFunc("/contrib/exportable_datasets/{name}/preview", s.handlePreviewDataset).Methods(http.MethodPost)
	api.HandleFunc("/export_datasets", s.handleExportDatasets).Methods(http.MethodPost)
	api.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)

	// tasks & misc
	api.HandleFunc("/tasks/{id}", s.handleGetTask).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/versions/app", s.handleVersion).Methods(http.MethodGet)

	// plugin-manifest routes, registered explicitly at construction —
	// never via import side effects.
	if s.Plugins != nil {
		for _, rt := range s.Plugins.RoutesFor("leader") {
			rt := rt
			r.HandleFunc(rt.Path, s.pluginHandler(rt)).Methods(rt.Method)
		}
	}

	return r
}

// pluginHandler builds the generic handler a plugin route selected via
// its manifest kind.
func (s *Server) pluginHandler(rt pluginregistry.Route) http.HandlerFunc {
	switch rt.Kind {
	case pluginregistry.HandlerProxyToBus:
		return func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err := s.Orchestrator.PublishRaw(rt.Topic, body); err != nil {
				apierror.WriteJSON(w, err)
				return
			}
			w.WriteHeader(http.StatusAccepted)
		}
	case pluginregistry.HandlerStaticMetadata, pluginregistry.HandlerContribListing:
		return func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, rt.Metadata)
		}
	default:
		return func(w http.ResponseWriter, r *http.Request) {
			apierror.WriteJSON(w, apierror.NotFoundf("unknown plugin handler kind %q", rt.Kind))
		}
	}
}

func requestTiming(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		next.ServeHTTP(w, r)
		timer.ObserveDurationVec(metrics.HTTPRequestDuration, "leader", r.Method)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeTask renders a task through the shared result envelope, the same
// mapping pkg/workerapi uses, with the leader's polling route prefix.
func writeTask(w http.ResponseWriter, task *types.Task) {
	env, status := taskqueue.Envelope(task, "/api/tasks")
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

func decodeJSONBytes(raw []byte, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return apierror.Validationf("invalid JSON body: %v", err)
	}
	return nil
}

func ctxOrBackground(r *http.Request) context.Context {
	if r.Context() != nil {
		return r.Context()
	}
	return context.Background()
}
