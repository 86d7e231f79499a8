package multicast

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pioreactor/cluster-core/pkg/metrics"
	"github.com/pioreactor/cluster-core/pkg/unitclient"
)

// UnitResult is one unit's outcome from a multicast call. A nil Body
// with Err == "" denotes no response body (e.g. a 204); a nil
// *UnitResult in the map returned by Call denotes no response at all
// (timeout or connection failure).
type UnitResult struct {
	OK   bool
	Body []byte
	Err  string
}

// Request describes one multicast call. Method and Path are shared
// across every unit; JSON, if set, is used as the body for every unit
// unless PerUnitJSON is provided, in which case PerUnitJSON[i]
// corresponds to Units[i] (used by run-job fan-out, where each worker
// needs its own env).
type Request struct {
	Method      string
	Path        string
	Units       []string
	Query       url.Values
	JSON        any
	PerUnitJSON []any
	Timeout     time.Duration
	Raw         bool
}

// Multicaster fans one logical call out to N units concurrently over
// unitclient.Client and aggregates per-unit outcomes. It never runs
// inline: every call is submitted as a taskqueue.Func by the caller
// (pkg/orchestrator), so Multicaster itself has no notion of tasks.
type Multicaster struct {
	client *unitclient.Client
}

// New returns a Multicaster issuing calls through client.
func New(client *unitclient.Client) *Multicaster {
	return &Multicaster{client: client}
}

// Call runs req against every unit in req.Units concurrently (bounded
// by len(req.Units) goroutines) and returns a map of unit -> *UnitResult
// with one entry per unit. A unit that answered with a non-2xx status
// is represented with OK: false and Err set to the error's message; a
// unit that gave no response (timeout, connection failure) maps to nil.
func (m *Multicaster) Call(ctx context.Context, req Request) map[string]*UnitResult {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MulticastDuration)

	results := make(map[string]*UnitResult, len(req.Units))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, unit := range req.Units {
		unit := unit
		var body any = req.JSON
		if req.PerUnitJSON != nil && i < len(req.PerUnitJSON) {
			body = req.PerUnitJSON[i]
		}

		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()

			raw, err := m.client.Do(callCtx, unit, unitclient.Request{
				Method: req.Method,
				Path:   req.Path,
				Query:  req.Query,
				JSON:   body,
				Raw:    true,
			}, nil)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				metrics.MulticastCallsTotal.WithLabelValues("error").Inc()
				var httpErr *unitclient.HTTPError
				if errors.As(err, &httpErr) {
					results[unit] = &UnitResult{OK: false, Err: err.Error()}
				} else {
					results[unit] = nil // no response at all
				}
				return nil // a per-unit failure never fails the group
			}
			metrics.MulticastCallsTotal.WithLabelValues("ok").Inc()
			results[unit] = &UnitResult{OK: true, Body: raw}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
