package leaderapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pioreactor/cluster-core/pkg/apierror"
	"github.com/pioreactor/cluster-core/pkg/types"
)

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	var payload types.RunJobPayload
	if err := decodeJSON(r, &payload); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	task, err := s.Orchestrator.RunJob(ctxOrBackground(r), v["unit"], v["job"], v["experiment"], payload)
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	writeTask(w, task)
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	var body struct {
		Settings map[string]string `json:"settings"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	if len(body.Settings) == 0 {
		apierror.WriteJSON(w, apierror.Validationf("settings field is required"))
		return
	}
	task, err := s.Orchestrator.UpdateJobSettings(ctxOrBackground(r), v["unit"], v["job"], v["experiment"], body.Settings)
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	writeTask(w, task)
}

func (s *Server) handleStopJob(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	task, err := s.Orchestrator.StopJob(ctxOrBackground(r), v["unit"], v["job"], v["experiment"])
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	writeTask(w, task)
}

func (s *Server) handleBlink(w http.ResponseWriter, r *http.Request) {
	unit := mux.Vars(r)["unit"]
	experiment := r.URL.Query().Get("experiment")
	if experiment == "" {
		experiment = types.UniversalExperiment
	}
	if err := s.Orchestrator.Blink(ctxOrBackground(r), unit, experiment); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
