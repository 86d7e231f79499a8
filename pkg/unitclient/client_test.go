package unitclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedResolver struct{ base string }

func (r fixedResolver) Resolve(unit string) (string, error) { return r.base, nil }

func TestClientGetDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/unit_api/jobs/running", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"job_name":"stirring"}`))
	}))
	defer srv.Close()

	c := New(fixedResolver{base: srv.URL}, time.Second)
	var out struct {
		JobName string `json:"job_name"`
	}
	err := c.Get(context.Background(), "pio-01", "/unit_api/jobs/running", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "stirring", out.JobName)
}

func TestClientNon2xxReturnsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	}))
	defer srv.Close()

	c := New(fixedResolver{base: srv.URL}, time.Second)
	err := c.Get(context.Background(), "pio-01", "/unit_api/jobs/running", nil, nil)
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
}

func TestClientRejectsPathOutsideUnitAPI(t *testing.T) {
	c := New(fixedResolver{base: "http://example.invalid"}, time.Second)
	err := c.Get(context.Background(), "pio-01", "/other/path", nil, nil)
	require.Error(t, err)
}

func TestClientPostSendsJSONBody(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(fixedResolver{base: srv.URL}, time.Second)
	err := c.Post(context.Background(), "pio-01", "/unit_api/jobs/run/job_name/stirring", map[string]any{"args": []string{}}, nil)
	require.NoError(t, err)
	assert.Contains(t, gotBody, "args")
}
