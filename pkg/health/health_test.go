package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getStatus(t *testing.T, s *Server, path string) (int, Status) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var status Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	return rec.Code, status
}

func TestHealthyWithNoChecks(t *testing.T) {
	s := NewServer("1.0.0")
	code, status := getStatus(t, s, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "1.0.0", status.Version)
}

func TestDegradedWhenAComponentFails(t *testing.T) {
	s := NewServer("1.0.0")
	s.Register("store", func() error { return nil })
	s.Register("bus", func() error { return errors.New("broker unreachable") })

	code, status := getStatus(t, s, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", status.Status)
	assert.Equal(t, "healthy", status.Components["store"])
	assert.Contains(t, status.Components["bus"], "broker unreachable")
}

func TestRegisterReplacesCheck(t *testing.T) {
	s := NewServer("1.0.0")
	s.Register("store", func() error { return errors.New("down") })
	s.Register("store", func() error { return nil })

	code, status := getStatus(t, s, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", status.Components["store"])
}

func TestLivenessIgnoresChecks(t *testing.T) {
	s := NewServer("1.0.0")
	s.Register("bus", func() error { return errors.New("down") })

	code, status := getStatus(t, s, "/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", status.Status)
}

func TestMetricsEndpointMounted(t *testing.T) {
	s := NewServer("1.0.0")
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pioreactor_")
}
