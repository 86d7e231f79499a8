package leaderapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pioreactor/cluster-core/pkg/apierror"
	"github.com/pioreactor/cluster-core/pkg/types"
)

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	exps, err := s.Store.ListExperiments(ctxOrBackground(r))
	if err != nil {
		apierror.WriteJSON(w, apierror.Internal(err, "list experiments"))
		return
	}
	writeJSON(w, http.StatusOK, exps)
}

func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var e types.Experiment
	if err := decodeJSON(r, &e); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	if err := s.Orchestrator.CreateExperiment(ctxOrBackground(r), &e); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleLatestExperiment(w http.ResponseWriter, r *http.Request) {
	e, err := s.Store.LatestExperiment(ctxOrBackground(r))
	if err != nil {
		apierror.WriteJSON(w, apierror.Internal(err, "latest experiment"))
		return
	}
	if e == nil {
		apierror.WriteJSON(w, apierror.NotFoundf("no experiments exist"))
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["experiment"]
	e, err := s.Store.GetExperiment(ctxOrBackground(r), name)
	if err != nil {
		apierror.WriteJSON(w, apierror.Internal(err, "get experiment"))
		return
	}
	if e == nil {
		apierror.WriteJSON(w, apierror.NotFoundf("experiment %q not found", name))
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleUpdateExperiment(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["experiment"]
	var body struct {
		Description  *string `json:"description"`
		MediaUsed    *string `json:"media_used"`
		OrganismUsed *string `json:"organism_used"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	if err := s.Store.UpdateExperiment(ctxOrBackground(r), name, body.Description, body.MediaUsed, body.OrganismUsed); err != nil {
		apierror.WriteJSON(w, apierror.Internal(err, "update experiment"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteExperiment(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["experiment"]
	if err := s.Orchestrator.DeleteExperiment(ctxOrBackground(r), name); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistoricalOrganisms(w http.ResponseWriter, r *http.Request) {
	out, err := s.Store.HistoricalOrganisms(ctxOrBackground(r))
	if err != nil {
		apierror.WriteJSON(w, apierror.Internal(err, "historical organisms"))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistoricalMedia(w http.ResponseWriter, r *http.Request) {
	out, err := s.Store.HistoricalMedia(ctxOrBackground(r))
	if err != nil {
		apierror.WriteJSON(w, apierror.Internal(err, "historical media"))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// --- unit labels ---

func (s *Server) handleListUnitLabels(w http.ResponseWriter, r *http.Request) {
	exp := mux.Vars(r)["experiment"]
	labels, err := s.Store.UnitLabels(ctxOrBackground(r), exp)
	if err != nil {
		apierror.WriteJSON(w, apierror.Internal(err, "list unit labels"))
		return
	}
	writeJSON(w, http.StatusOK, labels)
}

func (s *Server) handlePutUnitLabel(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	var body struct {
		PioreactorUnit string `json:"pioreactor_unit"`
		Label          string `json:"label"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	unit := v["unit"]
	if unit == "" {
		unit = body.PioreactorUnit
	}
	if unit == "" || body.Label == "" {
		apierror.WriteJSON(w, apierror.Validationf("pioreactor_unit and label are required"))
		return
	}
	if err := s.Store.UpsertUnitLabel(ctxOrBackground(r), v["experiment"], unit, body.Label); err != nil {
		apierror.WriteJSON(w, apierror.Internal(err, "set unit label"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
