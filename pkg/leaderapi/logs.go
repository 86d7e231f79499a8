package leaderapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pioreactor/cluster-core/pkg/apierror"
	"github.com/pioreactor/cluster-core/pkg/types"
)

// DefaultLogPageSize bounds one page of log rows.
const DefaultLogPageSize = 50

// minLevelParam parses the min_level query parameter, defaulting to INFO
// (which includes NOTICE, WARNING and ERROR per the containment chain).
func minLevelParam(r *http.Request) (types.LogLevel, error) {
	raw := r.URL.Query().Get("min_level")
	if raw == "" {
		return types.LogLevelInfo, nil
	}
	level := types.LogLevel(raw)
	switch level {
	case types.LogLevelDebug, types.LogLevelInfo, types.LogLevelNotice, types.LogLevelWarning, types.LogLevelError:
		return level, nil
	}
	return "", apierror.Validationf("invalid min_level %q", raw)
}

func (s *Server) handleRecentLogs(w http.ResponseWriter, r *http.Request) {
	s.serveLogs(w, r, DefaultLogPageSize)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	s.serveLogs(w, r, limitParam(r, DefaultLogPageSize))
}

func (s *Server) serveLogs(w http.ResponseWriter, r *http.Request, limit int) {
	experiment := mux.Vars(r)["experiment"]
	minLevel, err := minLevelParam(r)
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}

	logs, err := s.Store.QueryLogs(ctxOrBackground(r), experiment, r.URL.Query().Get("unit"), minLevel, skipParam(r), limit)
	if err != nil {
		apierror.WriteJSON(w, apierror.Internal(err, "query logs"))
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
