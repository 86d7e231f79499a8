package leaderapi

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/pioreactor/cluster-core/pkg/apierror"
	"github.com/pioreactor/cluster-core/pkg/types"
)

// DefaultTargetPoints is the decimation budget when the request does not
// specify target_points.
const DefaultTargetPoints = 720

// DefaultLookbackHours bounds the query window when lookback is absent.
const DefaultLookbackHours = 4.0

// roundingByMetric is the per-table decimal-place contract: growth rates
// 5 dp, temperatures 2 dp, OD 7 dp. Metrics not listed keep 5 dp.
var roundingByMetric = map[string]int{
	"growth_rates":         5,
	"temperature_readings": 2,
	"od_readings":          7,
	"od_readings_filtered": 7,
	"od_readings_fused":    7,
	"raw_od_readings":      7,
}

// point is one {x, y} chart datum; x is epoch milliseconds.
type point struct {
	X int64   `json:"x"`
	Y float64 `json:"y"`
}

// timeSeriesResponse is the {series, data} shape the UI charts consume.
type timeSeriesResponse struct {
	Series []string  `json:"series"`
	Data   [][]point `json:"data"`
}

func (s *Server) handleTimeSeries(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	metric := v["metric"]
	experiment := v["experiment"]

	targetPoints := DefaultTargetPoints
	if tp := r.URL.Query().Get("target_points"); tp != "" {
		n, err := strconv.Atoi(tp)
		if err != nil || n <= 0 {
			apierror.WriteJSON(w, apierror.Validationf("target_points must be a positive integer"))
			return
		}
		targetPoints = n
	}

	lookback := DefaultLookbackHours
	if lb := r.URL.Query().Get("lookback"); lb != "" {
		h, err := strconv.ParseFloat(lb, 64)
		if err != nil || h <= 0 {
			apierror.WriteJSON(w, apierror.Validationf("lookback must be a positive number of hours"))
			return
		}
		lookback = h
	}
	since := time.Now().Add(-time.Duration(lookback * float64(time.Hour)))

	points, err := s.Store.QueryTimeSeries(ctxOrBackground(r), metric, experiment, r.URL.Query().Get("unit"), since)
	if err != nil {
		if strings.Contains(err.Error(), "unknown time series table") {
			apierror.WriteJSON(w, apierror.Validationf("unknown metric %q", metric))
			return
		}
		apierror.WriteJSON(w, apierror.Internal(err, "query time series"))
		return
	}

	resp := decimate(points, targetPoints, decimalsFor(metric))
	writeJSON(w, http.StatusOK, resp)
}

func decimalsFor(metric string) int {
	if dp, ok := roundingByMetric[metric]; ok {
		return dp
	}
	return 5
}

// seriesKey groups points into chart series: one per unit, split further
// by channel when the table carries one.
func seriesKey(p *types.TimeSeriesPoint) string {
	if p.Channel != "" {
		return p.PioreactorUnit + "-" + p.Channel
	}
	return p.PioreactorUnit
}

// decimate groups the stored points into series and applies a
// deterministic stride subsample so the total returned point count is
// at most ~targetPoints. A series with any stored points always keeps
// at least its first point.
func decimate(points []*types.TimeSeriesPoint, targetPoints, decimals int) timeSeriesResponse {
	grouped := map[string][]*types.TimeSeriesPoint{}
	var order []string
	for _, p := range points {
		key := seriesKey(p)
		if _, seen := grouped[key]; !seen {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], p)
	}

	stride := 1
	if total := len(points); total > targetPoints {
		stride = int(math.Ceil(float64(total) / float64(targetPoints)))
	}

	factor := math.Pow10(decimals)
	resp := timeSeriesResponse{Series: []string{}, Data: [][]point{}}
	for _, key := range order {
		series := grouped[key]
		out := make([]point, 0, len(series)/stride+1)
		for i := 0; i < len(series); i += stride {
			p := series[i]
			out = append(out, point{
				X: p.Timestamp.UnixMilli(),
				Y: math.Round(p.Value*factor) / factor,
			})
		}
		resp.Series = append(resp.Series, key)
		resp.Data = append(resp.Data, out)
	}
	return resp
}

// handleMediaRates serves the derived dosing-rate series: per unit, the
// sum of the fallback_readings values on channel "media_rate" over the
// lookback window divided by the window length, as a single point per
// unit.
func (s *Server) handleMediaRates(w http.ResponseWriter, r *http.Request) {
	experiment := mux.Vars(r)["experiment"]

	lookback := DefaultLookbackHours
	if lb := r.URL.Query().Get("lookback"); lb != "" {
		h, err := strconv.ParseFloat(lb, 64)
		if err != nil || h <= 0 {
			apierror.WriteJSON(w, apierror.Validationf("lookback must be a positive number of hours"))
			return
		}
		lookback = h
	}
	since := time.Now().Add(-time.Duration(lookback * float64(time.Hour)))

	points, err := s.Store.QueryTimeSeries(ctxOrBackground(r), "fallback_readings", experiment, "", since)
	if err != nil {
		apierror.WriteJSON(w, apierror.Internal(err, "query dosing readings"))
		return
	}

	totals := map[string]float64{}
	var order []string
	for _, p := range points {
		if p.Channel != "media_rate" {
			continue
		}
		if _, seen := totals[p.PioreactorUnit]; !seen {
			order = append(order, p.PioreactorUnit)
		}
		totals[p.PioreactorUnit] += p.Value
	}

	now := time.Now().UnixMilli()
	resp := timeSeriesResponse{Series: []string{}, Data: [][]point{}}
	for _, unit := range order {
		rate := totals[unit] / lookback
		resp.Series = append(resp.Series, unit)
		resp.Data = append(resp.Data, []point{{X: now, Y: math.Round(rate*1e5) / 1e5}})
	}
	writeJSON(w, http.StatusOK, resp)
}
