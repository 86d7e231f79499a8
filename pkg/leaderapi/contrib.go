package leaderapi

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gorilla/mux"

	"github.com/pioreactor/cluster-core/pkg/apierror"
	"github.com/pioreactor/cluster-core/pkg/store"
)

// builtinAutomations is the static metadata describing installable
// automations per type, used by the UI to render forms. Plugin-provided
// tools are folded in by the contrib handlers.
var builtinAutomations = map[string][]map[string]any{
	"dosing": {
		{"automation_name": "turbidostat", "display_name": "Turbidostat", "fields": []string{"target_normalized_od", "volume"}},
		{"automation_name": "morbidostat", "display_name": "Morbidostat", "fields": []string{"target_normalized_od", "volume", "target_growth_rate"}},
		{"automation_name": "chemostat", "display_name": "Chemostat", "fields": []string{"volume", "duration"}},
	},
	"led": {
		{"automation_name": "light_dark_cycle", "display_name": "Light/dark cycle", "fields": []string{"light_intensity", "light_duration_minutes", "dark_duration_minutes"}},
	},
	"temperature": {
		{"automation_name": "thermostat", "display_name": "Thermostat", "fields": []string{"target_temperature"}},
	},
}

// builtinJobs is the set of first-party runnable jobs surfaced through
// /api/contrib/jobs alongside plugin-registered tools.
var builtinJobs = []map[string]any{
	{"job_name": "stirring", "display_name": "Stirring", "settings": []string{"target_rpm"}},
	{"job_name": "od_reading", "display_name": "Optical density reading", "settings": []string{"interval"}},
	{"job_name": "growth_rate_calculating", "display_name": "Growth rate", "settings": []string{}},
	{"job_name": "temperature_automation", "display_name": "Temperature automation", "settings": []string{"target_temperature"}},
	{"job_name": "dosing_automation", "display_name": "Dosing automation", "settings": []string{"volume", "duration"}},
}

// builtinCharts describes the UI's default chart definitions keyed by
// the time-series metric each one plots.
var builtinCharts = []map[string]any{
	{"chart_key": "implied_growth_rate", "metric": "growth_rates", "y_axis_label": "Implied growth rate, h⁻¹"},
	{"chart_key": "normalized_od", "metric": "od_readings_filtered", "y_axis_label": "Normalized OD"},
	{"chart_key": "raw_od", "metric": "raw_od_readings", "y_axis_label": "Raw OD"},
	{"chart_key": "temperature", "metric": "temperature_readings", "y_axis_label": "Temperature, ℃"},
}

func (s *Server) handleContribAutomations(w http.ResponseWriter, r *http.Request) {
	automationType := mux.Vars(r)["automation_type"]
	autos, ok := builtinAutomations[automationType]
	if !ok {
		apierror.WriteJSON(w, apierror.NotFoundf("unknown automation type %q", automationType))
		return
	}
	writeJSON(w, http.StatusOK, autos)
}

func (s *Server) handleContribJobs(w http.ResponseWriter, r *http.Request) {
	jobs := append([]map[string]any{}, builtinJobs...)
	if s.Plugins != nil {
		for _, t := range s.Plugins.Tools() {
			jobs = append(jobs, map[string]any{
				"job_name":     t.JobName,
				"display_name": t.Name,
				"description":  t.Description,
				"contrib":      true,
			})
		}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleContribCharts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, builtinCharts)
}

// --- exportable datasets ---

// exportableDatasets maps a dataset name to the query producing its
// rows. Every query is SELECT-only and runs through the store's
// read-only path.
var exportableDatasets = map[string]string{
	"experiments":          `SELECT * FROM experiments ORDER BY created_at`,
	"workers":              `SELECT * FROM workers ORDER BY pioreactor_unit`,
	"logs":                 `SELECT * FROM logs ORDER BY timestamp`,
	"growth_rates":         `SELECT * FROM growth_rates ORDER BY timestamp`,
	"od_readings":          `SELECT * FROM od_readings ORDER BY timestamp`,
	"temperature_readings": `SELECT * FROM temperature_readings ORDER BY timestamp`,
	"assignment_history":   `SELECT * FROM assignment_history ORDER BY assigned_at`,
	"config_history":       `SELECT * FROM config_history ORDER BY id`,
}

// previewRowLimit bounds POST .../preview responses.
const previewRowLimit = 10

func (s *Server) handleExportableDatasets(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(exportableDatasets))
	for name := range exportableDatasets {
		names = append(names, name)
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handlePreviewDataset(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	stmt, ok := exportableDatasets[name]
	if !ok {
		apierror.WriteJSON(w, apierror.NotFoundf("unknown dataset %q", name))
		return
	}
	res, err := s.Store.Query(ctxOrBackground(r), stmt+fmt.Sprintf(" LIMIT %d", previewRowLimit), false)
	if err != nil {
		apierror.WriteJSON(w, apierror.Internal(err, "preview dataset"))
		return
	}
	rows, _ := res.([]store.Row)
	if rows == nil {
		rows = []store.Row{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleExportDatasets schedules an export task producing one zipped CSV
// bundle for the requested datasets. The task result is the bundle's
// path under the data directory.
func (s *Server) handleExportDatasets(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Datasets []string `json:"datasets"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	if len(body.Datasets) == 0 {
		apierror.WriteJSON(w, apierror.Validationf("datasets field is required"))
		return
	}
	for _, name := range body.Datasets {
		if _, ok := exportableDatasets[name]; !ok {
			apierror.WriteJSON(w, apierror.NotFoundf("unknown dataset %q", name))
			return
		}
	}

	datasets := body.Datasets
	task := s.Tasks.Submit("export", "", func(ctx context.Context) (any, error) {
		return s.exportDatasets(ctx, datasets)
	})
	writeTask(w, task)
}

func (s *Server) exportDatasets(ctx context.Context, datasets []string) (any, error) {
	exportsDir := filepath.Join(s.DataDir, "exports")
	if err := os.MkdirAll(exportsDir, 0o755); err != nil {
		return nil, err
	}
	dest := filepath.Join(exportsDir, fmt.Sprintf("export_%s.zip", time.Now().UTC().Format("20060102T150405")))

	out, err := os.Create(dest)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	for _, name := range datasets {
		res, err := s.Store.Query(ctx, exportableDatasets[name], false)
		if err != nil {
			return nil, fmt.Errorf("query dataset %s: %w", name, err)
		}
		rows, _ := res.([]store.Row)
		entry, err := zw.Create(name + ".csv")
		if err != nil {
			return nil, err
		}
		if err := writeCSV(entry, rows); err != nil {
			return nil, fmt.Errorf("write dataset %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return map[string]string{"path": dest}, nil
}

// writeCSV renders rows with a deterministic (sorted) header order.
func writeCSV(w io.Writer, rows []store.Row) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if len(rows) == 0 {
		return nil
	}
	header := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		header = append(header, col)
	}
	sort.Strings(header)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		record := make([]string, len(header))
		for i, col := range header {
			if v := row[col]; v != nil {
				record[i] = fmt.Sprintf("%v", v)
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// --- uploads ---

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		apierror.WriteJSON(w, apierror.Validationf("invalid multipart upload: %v", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		apierror.WriteJSON(w, apierror.Validationf("missing file field: %v", err))
		return
	}
	defer file.Close()

	if err := validatePortableFilename(header.Filename); err != nil {
		apierror.WriteJSON(w, err)
		return
	}

	uploadsDir := filepath.Join(s.DataDir, "uploads")
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		apierror.WriteJSON(w, apierror.Internal(err, "create uploads directory"))
		return
	}
	dest := filepath.Join(uploadsDir, header.Filename)
	out, err := os.Create(dest)
	if err != nil {
		apierror.WriteJSON(w, apierror.Internal(err, "create upload file"))
		return
	}
	defer out.Close()
	if _, err := io.Copy(out, file); err != nil {
		apierror.WriteJSON(w, apierror.Internal(err, "store upload"))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": dest})
}
