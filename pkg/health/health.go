/*
Package health serves the liveness/readiness surface both the leader and
worker processes expose on their own port, alongside the Prometheus
/metrics endpoint. Components (store, bus, task queue) register a check
function at startup; readiness aggregates them, liveness is
unconditional.
*/
package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/pioreactor/cluster-core/pkg/metrics"
)

// Check reports a component's current health; a non-nil error marks the
// component (and therefore readiness) unhealthy.
type Check func() error

// Status is the JSON body /health and /ready respond with.
type Status struct {
	Status     string            `json:"status"` // "healthy" | "degraded"
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// Server is a small standalone HTTP server for health/readiness/metrics,
// kept separate from the API routers so probes work even when the API
// surface is saturated.
type Server struct {
	mu     sync.RWMutex
	checks map[string]Check

	version   string
	startTime time.Time
	mux       *http.ServeMux
	srv       *http.Server
}

// NewServer creates a health server reporting the given app version.
func NewServer(version string) *Server {
	mux := http.NewServeMux()
	s := &Server{
		checks:    make(map[string]Check),
		version:   version,
		startTime: time.Now(),
		mux:       mux,
	}

	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.HandleFunc("/live", s.liveHandler)
	mux.Handle("/metrics", metrics.Handler())

	return s
}

// Register adds (or replaces) a named component check.
func (s *Server) Register(name string, check Check) {
	s.mu.Lock()
	s.checks[name] = check
	s.mu.Unlock()
}

// Start begins listening on addr. Blocks until the server exits.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the server down.
func (s *Server) Stop() error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Close()
}

// Handler exposes the mux for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// evaluate runs every registered check and returns the aggregate status.
func (s *Server) evaluate() (Status, bool) {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make(map[string]Check, len(names))
	for _, name := range names {
		checks[name] = s.checks[name]
	}
	s.mu.RUnlock()

	status := Status{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Components: make(map[string]string, len(names)),
		Version:    s.version,
		Uptime:     time.Since(s.startTime).Round(time.Second).String(),
	}
	healthy := true
	for _, name := range names {
		if err := checks[name](); err != nil {
			status.Components[name] = fmt.Sprintf("unhealthy: %v", err)
			healthy = false
			continue
		}
		status.Components[name] = "healthy"
	}
	if !healthy {
		status.Status = "degraded"
	}
	return status, healthy
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, healthy := s.evaluate()
	writeStatus(w, status, healthy)
}

// readyHandler is identical to health today but kept as its own route so
// orchestration probes can diverge later without a client change.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	status, healthy := s.evaluate()
	writeStatus(w, status, healthy)
}

func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, Status{Status: "healthy", Timestamp: time.Now()}, true)
}

func writeStatus(w http.ResponseWriter, status Status, healthy bool) {
	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
