package leaderapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/pioreactor/cluster-core/pkg/apierror"
	"github.com/pioreactor/cluster-core/pkg/types"
)

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	var (
		workers []*types.Worker
		err     error
	)
	if r.URL.Query().Get("active") == "1" {
		workers, err = s.Store.ListActiveWorkers(ctxOrBackground(r))
	} else {
		workers, err = s.Store.ListWorkers(ctxOrBackground(r))
	}
	if err != nil {
		apierror.WriteJSON(w, apierror.Internal(err, "list workers"))
		return
	}
	writeJSON(w, http.StatusOK, workers)
}

func (s *Server) handleCreateWorker(w http.ResponseWriter, r *http.Request) {
	var wk types.Worker
	if err := decodeJSON(r, &wk); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	if err := s.Orchestrator.RegisterWorker(ctxOrBackground(r), &wk); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wk)
}

func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	unit := mux.Vars(r)["unit"]
	wk, err := s.Store.GetWorker(ctxOrBackground(r), unit)
	if err != nil {
		apierror.WriteJSON(w, apierror.Internal(err, "get worker"))
		return
	}
	if wk == nil {
		apierror.WriteJSON(w, apierror.NotFoundf("worker %q not found", unit))
		return
	}
	writeJSON(w, http.StatusOK, wk)
}

func (s *Server) handleSetWorkerActive(w http.ResponseWriter, r *http.Request) {
	unit := mux.Vars(r)["unit"]
	var body struct {
		IsActive *bool `json:"is_active"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	if body.IsActive == nil {
		apierror.WriteJSON(w, apierror.Validationf("is_active is required"))
		return
	}
	task, err := s.Orchestrator.SetWorkerActive(ctxOrBackground(r), unit, *body.IsActive)
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	if task == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeTask(w, task)
}

func (s *Server) handleDeleteWorker(w http.ResponseWriter, r *http.Request) {
	unit := mux.Vars(r)["unit"]
	task, err := s.Orchestrator.DeleteWorker(ctxOrBackground(r), unit)
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	writeTask(w, task)
}

func (s *Server) handleAssignmentsForExperiment(w http.ResponseWriter, r *http.Request) {
	exp := mux.Vars(r)["experiment"]
	assignments, err := s.Store.AssignmentsForExperiment(ctxOrBackground(r), exp)
	if err != nil {
		apierror.WriteJSON(w, apierror.Internal(err, "list assignments"))
		return
	}
	writeJSON(w, http.StatusOK, assignments)
}

func (s *Server) handleAssignWorker(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	if err := s.Orchestrator.AssignWorker(ctxOrBackground(r), v["unit"], v["experiment"]); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnassignWorker(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	if err := s.Orchestrator.UnassignWorker(ctxOrBackground(r), v["unit"]); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// skipParam and limitParam are the shared skip/limit query-string
// parsers used by the logs handlers.
func skipParam(r *http.Request) int {
	v, _ := strconv.Atoi(r.URL.Query().Get("skip"))
	if v < 0 {
		return 0
	}
	return v
}

func limitParam(r *http.Request, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
