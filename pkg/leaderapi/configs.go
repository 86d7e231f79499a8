package leaderapi

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pioreactor/cluster-core/pkg/apierror"
)

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]
	row, err := s.Store.LatestConfig(ctxOrBackground(r), filename)
	if err != nil {
		apierror.WriteJSON(w, apierror.Internal(err, "load config"))
		return
	}
	if row == nil {
		apierror.WriteJSON(w, apierror.NotFoundf("config %q not found", filename))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(row.Data))
}

// handlePatchConfig accepts either a raw INI body or {"config_ini": "..."}
// JSON, validates it strictly, persists a history row, and schedules the
// config-sync task against the affected units.
func (s *Server) handlePatchConfig(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]

	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		apierror.WriteJSON(w, apierror.Validationf("read request body: %v", err))
		return
	}
	data := string(raw)
	if r.Header.Get("Content-Type") == "application/json" {
		var body struct {
			ConfigINI string `json:"config_ini"`
		}
		if err := decodeJSONBytes(raw, &body); err != nil {
			apierror.WriteJSON(w, err)
			return
		}
		data = body.ConfigINI
	}
	if data == "" {
		apierror.WriteJSON(w, apierror.Validationf("config body is required"))
		return
	}

	task, err := s.Orchestrator.SaveConfig(ctxOrBackground(r), filename, data)
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	writeTask(w, task)
}
