package leaderapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pioreactor/cluster-core/pkg/taskqueue"
	"github.com/pioreactor/cluster-core/pkg/types"
)

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	task, err := s.Tasks.Get(id)
	if err != nil {
		// Unknown or evicted ids report "pending or not present" with a
		// uniform envelope so UI pollers need no special casing.
		env, status := taskqueue.Envelope(&types.Task{ID: id}, "/api/tasks")
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
