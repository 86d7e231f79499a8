package unitclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPError is returned for any non-2xx response from a unit.
type HTTPError struct {
	Unit       string
	Method     string
	Path       string
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unitclient: %s %s on %s: status %d: %s", e.Method, e.Path, e.Unit, e.StatusCode, string(e.Body))
}

// Resolver maps a pioreactor_unit name to a base URL. The default
// resolver applies the http://<unit>.local:<port> convention; an
// explicit [network.peers] override in the leader's config.ini takes
// precedence.
type Resolver interface {
	Resolve(unit string) (string, error)
}

// StaticResolver resolves a fixed unit->baseURL map, falling back to the
// <unit>.local:<port> convention for unlisted units.
type StaticResolver struct {
	Overrides map[string]string
	Port      int
}

// DefaultWorkerPort is the WorkerAPI's listen port on every unit absent
// an override.
const DefaultWorkerPort = 4999

func (r StaticResolver) Resolve(unit string) (string, error) {
	if r.Overrides != nil {
		if addr, ok := r.Overrides[unit]; ok {
			return addr, nil
		}
	}
	port := r.Port
	if port == 0 {
		port = DefaultWorkerPort
	}
	return fmt.Sprintf("http://%s.local:%d", unit, port), nil
}

// Client issues single HTTP calls against a unit's WorkerAPI. No
// retries are performed at this layer, ever: a caller that wants retry
// semantics (e.g. pkg/orchestrator's direct-call fallback after a failed
// bus publish) implements it itself.
type Client struct {
	resolver Resolver
	http     *http.Client
}

// New returns a Client resolving units via resolver. timeout bounds
// every individual call unless the caller's context has a tighter
// deadline.
func New(resolver Resolver, timeout time.Duration) *Client {
	return &Client{
		resolver: resolver,
		http:     &http.Client{Timeout: timeout},
	}
}

// Request describes a single call to a unit's WorkerAPI.
type Request struct {
	Method string // GET, POST, PATCH, DELETE
	Path   string // must start with /unit_api
	Query  url.Values
	JSON   any // marshaled as the request body if non-nil
	Body   []byte
	Raw    bool // if true, Do returns the raw response body instead of decoding JSON
}

// Do issues req against unit and, unless req.Raw, decodes the JSON
// response body into out (which may be nil to discard it). Non-2xx
// responses return *HTTPError; out is left untouched.
func (c *Client) Do(ctx context.Context, unit string, req Request, out any) ([]byte, error) {
	if !strings.HasPrefix(req.Path, "/unit_api") {
		return nil, fmt.Errorf("unitclient: path %q must start with /unit_api", req.Path)
	}

	base, err := c.resolver.Resolve(unit)
	if err != nil {
		return nil, fmt.Errorf("unitclient: resolve %s: %w", unit, err)
	}

	u, err := url.Parse(base + req.Path)
	if err != nil {
		return nil, fmt.Errorf("unitclient: build url for %s: %w", unit, err)
	}
	if req.Query != nil {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	switch {
	case req.JSON != nil:
		payload, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("unitclient: marshal body for %s: %w", unit, err)
		}
		body = bytes.NewReader(payload)
	case req.Body != nil:
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("unitclient: build request for %s: %w", unit, err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("unitclient: %s %s on %s: %w", req.Method, req.Path, unit, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unitclient: read response from %s: %w", unit, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Unit: unit, Method: req.Method, Path: req.Path, StatusCode: resp.StatusCode, Body: respBody}
	}

	if req.Raw || out == nil {
		return respBody, nil
	}
	if len(respBody) == 0 {
		return respBody, nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return respBody, fmt.Errorf("unitclient: decode response from %s: %w", unit, err)
	}
	return respBody, nil
}

// Get is a convenience wrapper for Do with method GET.
func (c *Client) Get(ctx context.Context, unit, path string, query url.Values, out any) error {
	_, err := c.Do(ctx, unit, Request{Method: http.MethodGet, Path: path, Query: query}, out)
	return err
}

// Post is a convenience wrapper for Do with method POST and a JSON body.
func (c *Client) Post(ctx context.Context, unit, path string, jsonBody any, out any) error {
	_, err := c.Do(ctx, unit, Request{Method: http.MethodPost, Path: path, JSON: jsonBody}, out)
	return err
}

// Patch is a convenience wrapper for Do with method PATCH and a JSON body.
func (c *Client) Patch(ctx context.Context, unit, path string, jsonBody any, out any) error {
	_, err := c.Do(ctx, unit, Request{Method: http.MethodPatch, Path: path, JSON: jsonBody}, out)
	return err
}

// Delete is a convenience wrapper for Do with method DELETE.
func (c *Client) Delete(ctx context.Context, unit, path string) error {
	_, err := c.Do(ctx, unit, Request{Method: http.MethodDelete, Path: path}, nil)
	return err
}
