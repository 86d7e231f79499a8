package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pioreactor/cluster-core/pkg/log"
	"github.com/pioreactor/cluster-core/pkg/types"
	_ "modernc.org/sqlite"
)

// timeSeriesTables is the fixed set of tables InsertTimeSeriesPoint and
// QueryTimeSeries may address. Table names cannot be bound as statement
// parameters, so every caller-supplied table name is checked against this
// allow-list before it is interpolated into SQL.
var timeSeriesTables = map[string]bool{
	"growth_rates":           true,
	"od_readings":            true,
	"od_readings_filtered":   true,
	"od_readings_fused":      true,
	"raw_od_readings":        true,
	"temperature_readings":   true,
	"fallback_readings":      true,
}

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
	experiment TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	description TEXT,
	media_used TEXT,
	organism_used TEXT
);
CREATE TABLE IF NOT EXISTS workers (
	pioreactor_unit TEXT PRIMARY KEY,
	added_at TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	model_name TEXT,
	model_version TEXT
);
CREATE TABLE IF NOT EXISTS assignments (
	pioreactor_unit TEXT PRIMARY KEY,
	experiment TEXT NOT NULL,
	assigned_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS assignment_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pioreactor_unit TEXT NOT NULL,
	experiment TEXT NOT NULL,
	assigned_at TEXT NOT NULL,
	unassigned_at TEXT
);
CREATE TABLE IF NOT EXISTS unit_labels (
	experiment TEXT NOT NULL,
	pioreactor_unit TEXT NOT NULL,
	label TEXT NOT NULL,
	PRIMARY KEY (experiment, pioreactor_unit)
);
CREATE TABLE IF NOT EXISTS logs (
	timestamp TEXT NOT NULL,
	level TEXT NOT NULL,
	pioreactor_unit TEXT NOT NULL,
	experiment TEXT NOT NULL,
	task TEXT,
	source TEXT,
	message TEXT
);
CREATE INDEX IF NOT EXISTS idx_logs_experiment_ts ON logs(experiment, timestamp);
CREATE TABLE IF NOT EXISTS config_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	filename TEXT NOT NULL,
	data TEXT NOT NULL,
	timestamp TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS growth_rates (experiment TEXT, pioreactor_unit TEXT, channel TEXT, timestamp TEXT, value REAL);
CREATE TABLE IF NOT EXISTS od_readings (experiment TEXT, pioreactor_unit TEXT, channel TEXT, timestamp TEXT, value REAL);
CREATE TABLE IF NOT EXISTS od_readings_filtered (experiment TEXT, pioreactor_unit TEXT, channel TEXT, timestamp TEXT, value REAL);
CREATE TABLE IF NOT EXISTS od_readings_fused (experiment TEXT, pioreactor_unit TEXT, channel TEXT, timestamp TEXT, value REAL);
CREATE TABLE IF NOT EXISTS raw_od_readings (experiment TEXT, pioreactor_unit TEXT, channel TEXT, timestamp TEXT, value REAL);
CREATE TABLE IF NOT EXISTS temperature_readings (experiment TEXT, pioreactor_unit TEXT, channel TEXT, timestamp TEXT, value REAL);
CREATE TABLE IF NOT EXISTS fallback_readings (experiment TEXT, pioreactor_unit TEXT, channel TEXT, timestamp TEXT, value REAL);
CREATE INDEX IF NOT EXISTS idx_growth_rates ON growth_rates(experiment, pioreactor_unit, timestamp);
CREATE INDEX IF NOT EXISTS idx_od_readings ON od_readings(experiment, pioreactor_unit, timestamp);
CREATE INDEX IF NOT EXISTS idx_od_readings_filtered ON od_readings_filtered(experiment, pioreactor_unit, timestamp);
CREATE INDEX IF NOT EXISTS idx_od_readings_fused ON od_readings_fused(experiment, pioreactor_unit, timestamp);
CREATE INDEX IF NOT EXISTS idx_raw_od_readings ON raw_od_readings(experiment, pioreactor_unit, timestamp);
CREATE INDEX IF NOT EXISTS idx_temperature_readings ON temperature_readings(experiment, pioreactor_unit, timestamp);
`

// SQLiteStore is the Store implementation backed by modernc.org/sqlite.
type SQLiteStore struct {
	writer *sql.DB // SetMaxOpenConns(1): the leader's single writer
	reader *sql.DB // read-only pool, serves concurrent Query calls
}

// NewSQLiteStore opens (creating if absent) cluster.sqlite under dataDir.
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	dbPath := filepath.Join(dataDir, "cluster.sqlite")

	writer, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open writer connection: %w", err)
	}
	writer.SetMaxOpenConns(1)

	if _, err := writer.Exec(schema); err != nil {
		writer.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	reader, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&mode=ro")
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open reader connection: %w", err)
	}

	return &SQLiteStore{writer: writer, reader: reader}, nil
}

// Close closes both connections.
func (s *SQLiteStore) Close() error {
	err1 := s.writer.Close()
	err2 := s.reader.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Modify executes a mutating statement through the single writer
// connection. Integrity constraint violations are swallowed into
// (0, nil) per the contract; anything else is returned as an error.
func (s *SQLiteStore) Modify(ctx context.Context, stmt string, args ...any) (int64, error) {
	res, err := s.writer.ExecContext(ctx, stmt, args...)
	if err != nil {
		if isConstraintError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("modify: %w", err)
	}
	return res.RowsAffected()
}

func isConstraintError(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint") ||
		strings.Contains(err.Error(), "constraint failed")
}

var nonReadPrefixes = []string{"insert", "update", "delete", "drop", "alter", "create", "replace"}

// Query executes a read-only statement through the reader connection.
// Statements that aren't SELECT/PRAGMA are rejected outright, enforcing
// query-only mode even if a caller passes a mutating statement by
// mistake.
func (s *SQLiteStore) Query(ctx context.Context, stmt string, one bool, args ...any) (any, error) {
	trimmed := strings.ToLower(strings.TrimSpace(stmt))
	if !strings.HasPrefix(trimmed, "select") && !strings.HasPrefix(trimmed, "pragma") {
		return nil, errors.New("query: statement is not read-only")
	}

	rows, err := s.reader.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
		if one {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if one {
		if len(out) == 0 {
			return nil, nil
		}
		return out[0], nil
	}
	return out, nil
}

func utc(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(v any) time.Time {
	s, _ := v.(string)
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func asFloat64(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	default:
		return 0
	}
}

// --- Experiments ---

func (s *SQLiteStore) CreateExperiment(ctx context.Context, e *types.Experiment) error {
	affected, err := s.Modify(ctx,
		`INSERT INTO experiments (experiment, created_at, description, media_used, organism_used) VALUES (?, ?, ?, ?, ?)`,
		e.Experiment, utc(e.CreatedAt), e.Description, e.MediaUsed, e.OrganismUsed)
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.New("experiment already exists")
	}
	return nil
}

func experimentFromRow(r Row) *types.Experiment {
	return &types.Experiment{
		Experiment:   asString(r["experiment"]),
		CreatedAt:    parseTime(r["created_at"]),
		Description:  asString(r["description"]),
		MediaUsed:    asString(r["media_used"]),
		OrganismUsed: asString(r["organism_used"]),
	}
}

func (s *SQLiteStore) GetExperiment(ctx context.Context, experiment string) (*types.Experiment, error) {
	res, err := s.Query(ctx, `SELECT * FROM experiments WHERE experiment = ?`, true, experiment)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return experimentFromRow(res.(Row)), nil
}

func (s *SQLiteStore) ListExperiments(ctx context.Context) ([]*types.Experiment, error) {
	res, err := s.Query(ctx, `SELECT * FROM experiments ORDER BY created_at DESC`, false)
	if err != nil {
		return nil, err
	}
	rows, _ := res.([]Row)
	out := make([]*types.Experiment, 0, len(rows))
	for _, r := range rows {
		out = append(out, experimentFromRow(r))
	}
	return out, nil
}

func (s *SQLiteStore) LatestExperiment(ctx context.Context) (*types.Experiment, error) {
	res, err := s.Query(ctx, `SELECT * FROM experiments ORDER BY created_at DESC LIMIT 1`, true)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return experimentFromRow(res.(Row)), nil
}

func (s *SQLiteStore) UpdateExperiment(ctx context.Context, experiment string, description, mediaUsed, organismUsed *string) error {
	if description != nil {
		if _, err := s.Modify(ctx, `UPDATE experiments SET description = ? WHERE experiment = ?`, *description, experiment); err != nil {
			return err
		}
	}
	if mediaUsed != nil {
		if _, err := s.Modify(ctx, `UPDATE experiments SET media_used = ? WHERE experiment = ?`, *mediaUsed, experiment); err != nil {
			return err
		}
	}
	if organismUsed != nil {
		if _, err := s.Modify(ctx, `UPDATE experiments SET organism_used = ? WHERE experiment = ?`, *organismUsed, experiment); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) DeleteExperiment(ctx context.Context, experiment string) error {
	if _, err := s.Modify(ctx, `DELETE FROM assignments WHERE experiment = ?`, experiment); err != nil {
		return err
	}
	if _, err := s.Modify(ctx, `DELETE FROM experiments WHERE experiment = ?`, experiment); err != nil {
		return err
	}
	// Best-effort space reclamation; failure is non-fatal.
	if _, err := s.writer.ExecContext(ctx, `PRAGMA incremental_vacuum`); err != nil {
		log.WithComponent("store").Warn().Err(err).Msg("incremental_vacuum failed after experiment delete")
	}
	return nil
}

func (s *SQLiteStore) HistoricalOrganisms(ctx context.Context) ([]string, error) {
	return s.distinctNonEmpty(ctx, "organism_used")
}

func (s *SQLiteStore) HistoricalMedia(ctx context.Context) ([]string, error) {
	return s.distinctNonEmpty(ctx, "media_used")
}

func (s *SQLiteStore) distinctNonEmpty(ctx context.Context, column string) ([]string, error) {
	res, err := s.Query(ctx, fmt.Sprintf(`SELECT DISTINCT %s AS v FROM experiments WHERE %s IS NOT NULL AND %s != '' ORDER BY %s`, column, column, column, column), false)
	if err != nil {
		return nil, err
	}
	rows, _ := res.([]Row)
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, asString(r["v"]))
	}
	return out, nil
}

// --- Workers ---

func (s *SQLiteStore) CreateWorker(ctx context.Context, w *types.Worker) error {
	active := 0
	if w.IsActive {
		active = 1
	}
	affected, err := s.Modify(ctx,
		`INSERT INTO workers (pioreactor_unit, added_at, is_active, model_name, model_version) VALUES (?, ?, ?, ?, ?)`,
		w.PioreactorUnit, utc(w.AddedAt), active, w.ModelName, w.ModelVersion)
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.New("worker already exists")
	}
	return nil
}

func workerFromRow(r Row) *types.Worker {
	return &types.Worker{
		PioreactorUnit: asString(r["pioreactor_unit"]),
		AddedAt:        parseTime(r["added_at"]),
		IsActive:       asInt64(r["is_active"]) == 1,
		ModelName:      asString(r["model_name"]),
		ModelVersion:   asString(r["model_version"]),
	}
}

func (s *SQLiteStore) GetWorker(ctx context.Context, unit string) (*types.Worker, error) {
	res, err := s.Query(ctx, `SELECT * FROM workers WHERE pioreactor_unit = ?`, true, unit)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return workerFromRow(res.(Row)), nil
}

func (s *SQLiteStore) ListWorkers(ctx context.Context) ([]*types.Worker, error) {
	res, err := s.Query(ctx, `SELECT * FROM workers ORDER BY pioreactor_unit`, false)
	if err != nil {
		return nil, err
	}
	rows, _ := res.([]Row)
	out := make([]*types.Worker, 0, len(rows))
	for _, r := range rows {
		out = append(out, workerFromRow(r))
	}
	return out, nil
}

func (s *SQLiteStore) ListActiveWorkers(ctx context.Context) ([]*types.Worker, error) {
	res, err := s.Query(ctx, `SELECT * FROM workers WHERE is_active = 1 ORDER BY pioreactor_unit`, false)
	if err != nil {
		return nil, err
	}
	rows, _ := res.([]Row)
	out := make([]*types.Worker, 0, len(rows))
	for _, r := range rows {
		out = append(out, workerFromRow(r))
	}
	return out, nil
}

func (s *SQLiteStore) SetWorkerActive(ctx context.Context, unit string, active bool) error {
	v := 0
	if active {
		v = 1
	}
	_, err := s.Modify(ctx, `UPDATE workers SET is_active = ? WHERE pioreactor_unit = ?`, v, unit)
	return err
}

func (s *SQLiteStore) DeleteWorker(ctx context.Context, unit string) error {
	if _, err := s.Modify(ctx, `DELETE FROM assignments WHERE pioreactor_unit = ?`, unit); err != nil {
		return err
	}
	_, err := s.Modify(ctx, `DELETE FROM workers WHERE pioreactor_unit = ?`, unit)
	return err
}

// --- Assignments ---

func (s *SQLiteStore) AssignWorker(ctx context.Context, unit, experiment string) error {
	now := utc(time.Now())
	if cur, err := s.CurrentAssignment(ctx, unit); err != nil {
		return err
	} else if cur != nil {
		if _, err := s.Modify(ctx,
			`UPDATE assignment_history SET unassigned_at = ? WHERE pioreactor_unit = ? AND experiment = ? AND unassigned_at IS NULL`,
			now, unit, cur.Experiment); err != nil {
			return err
		}
	}
	if _, err := s.Modify(ctx,
		`INSERT INTO assignments (pioreactor_unit, experiment, assigned_at) VALUES (?, ?, ?)
		 ON CONFLICT(pioreactor_unit) DO UPDATE SET experiment = excluded.experiment, assigned_at = excluded.assigned_at`,
		unit, experiment, now); err != nil {
		return err
	}
	_, err := s.Modify(ctx,
		`INSERT INTO assignment_history (pioreactor_unit, experiment, assigned_at) VALUES (?, ?, ?)`,
		unit, experiment, now)
	return err
}

func (s *SQLiteStore) UnassignWorker(ctx context.Context, unit string) error {
	cur, err := s.CurrentAssignment(ctx, unit)
	if err != nil {
		return err
	}
	if cur == nil {
		return nil
	}
	now := utc(time.Now())
	if _, err := s.Modify(ctx,
		`UPDATE assignment_history SET unassigned_at = ? WHERE pioreactor_unit = ? AND experiment = ? AND unassigned_at IS NULL`,
		now, unit, cur.Experiment); err != nil {
		return err
	}
	_, err = s.Modify(ctx, `DELETE FROM assignments WHERE pioreactor_unit = ?`, unit)
	return err
}

func assignmentFromRow(r Row) *types.Assignment {
	return &types.Assignment{
		PioreactorUnit: asString(r["pioreactor_unit"]),
		Experiment:     asString(r["experiment"]),
		AssignedAt:     parseTime(r["assigned_at"]),
	}
}

func (s *SQLiteStore) CurrentAssignment(ctx context.Context, unit string) (*types.Assignment, error) {
	res, err := s.Query(ctx, `SELECT * FROM assignments WHERE pioreactor_unit = ?`, true, unit)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return assignmentFromRow(res.(Row)), nil
}

func (s *SQLiteStore) AssignmentsForExperiment(ctx context.Context, experiment string) ([]*types.Assignment, error) {
	res, err := s.Query(ctx, `SELECT * FROM assignments WHERE experiment = ? ORDER BY pioreactor_unit`, false, experiment)
	if err != nil {
		return nil, err
	}
	rows, _ := res.([]Row)
	out := make([]*types.Assignment, 0, len(rows))
	for _, r := range rows {
		out = append(out, assignmentFromRow(r))
	}
	return out, nil
}

func (s *SQLiteStore) ActiveWorkersInExperiment(ctx context.Context, experiment string) ([]string, error) {
	res, err := s.Query(ctx,
		`SELECT a.pioreactor_unit AS pioreactor_unit FROM assignments a
		 JOIN workers w ON w.pioreactor_unit = a.pioreactor_unit
		 WHERE a.experiment = ? AND w.is_active = 1 ORDER BY a.pioreactor_unit`, false, experiment)
	if err != nil {
		return nil, err
	}
	rows, _ := res.([]Row)
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, asString(r["pioreactor_unit"]))
	}
	return out, nil
}

func (s *SQLiteStore) AssignmentHistory(ctx context.Context, unit string) ([]*types.AssignmentHistory, error) {
	res, err := s.Query(ctx, `SELECT * FROM assignment_history WHERE pioreactor_unit = ? ORDER BY assigned_at`, false, unit)
	if err != nil {
		return nil, err
	}
	rows, _ := res.([]Row)
	out := make([]*types.AssignmentHistory, 0, len(rows))
	for _, r := range rows {
		h := &types.AssignmentHistory{
			ID:             asInt64(r["id"]),
			PioreactorUnit: asString(r["pioreactor_unit"]),
			Experiment:     asString(r["experiment"]),
			AssignedAt:     parseTime(r["assigned_at"]),
		}
		if ua := asString(r["unassigned_at"]); ua != "" {
			t := parseTime(r["unassigned_at"])
			h.UnassignedAt = &t
		}
		out = append(out, h)
	}
	return out, nil
}

// ExperimentAtTime attributes a timestamp on unit to the experiment that
// was assigned at that time invariant 3 (a 5s grace window
// past unassigned_at still attributes to the prior experiment).
func (s *SQLiteStore) ExperimentAtTime(ctx context.Context, unit string, at time.Time) (string, error) {
	history, err := s.AssignmentHistory(ctx, unit)
	if err != nil {
		return "", err
	}
	for _, h := range history {
		if at.Before(h.AssignedAt) {
			continue
		}
		if h.UnassignedAt == nil || at.Before(h.UnassignedAt.Add(5*time.Second)) {
			return h.Experiment, nil
		}
	}
	return "", nil
}

// --- Unit labels ---

func (s *SQLiteStore) UpsertUnitLabel(ctx context.Context, experiment, unit, label string) error {
	_, err := s.Modify(ctx,
		`INSERT INTO unit_labels (experiment, pioreactor_unit, label) VALUES (?, ?, ?)
		 ON CONFLICT(experiment, pioreactor_unit) DO UPDATE SET label = excluded.label`,
		experiment, unit, label)
	return err
}

func (s *SQLiteStore) UnitLabels(ctx context.Context, experiment string) ([]*types.UnitLabel, error) {
	res, err := s.Query(ctx, `SELECT * FROM unit_labels WHERE experiment = ?`, false, experiment)
	if err != nil {
		return nil, err
	}
	rows, _ := res.([]Row)
	out := make([]*types.UnitLabel, 0, len(rows))
	for _, r := range rows {
		out = append(out, &types.UnitLabel{
			Experiment:     asString(r["experiment"]),
			PioreactorUnit: asString(r["pioreactor_unit"]),
			Label:          asString(r["label"]),
		})
	}
	return out, nil
}

// --- Logs ---

func (s *SQLiteStore) InsertLog(ctx context.Context, r *types.LogRecord) error {
	_, err := s.Modify(ctx,
		`INSERT INTO logs (timestamp, level, pioreactor_unit, experiment, task, source, message) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		utc(r.Timestamp), string(r.Level), r.PioreactorUnit, r.Experiment, r.Task, r.Source, r.Message)
	return err
}

func (s *SQLiteStore) InsertLogs(ctx context.Context, rs []*types.LogRecord) error {
	for _, r := range rs {
		if err := s.InsertLog(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// levelsAtOrAbove returns the SQL IN(...) placeholder levels implied by
// floor, per the ERROR ⊂ WARNING ⊂ NOTICE ⊂ INFO ⊂ DEBUG chain.
func levelsAtOrAbove(floor types.LogLevel) []string {
	all := []types.LogLevel{types.LogLevelError, types.LogLevelWarning, types.LogLevelNotice, types.LogLevelInfo, types.LogLevelDebug}
	var out []string
	for _, l := range all {
		if floor.Includes(l) {
			out = append(out, string(l))
		}
	}
	if len(out) == 0 {
		out = []string{string(types.LogLevelError)}
	}
	return out
}

// QueryLogs returns experiment's log rows at or above minLevel. Rows
// addressed to the universal experiment (audit entries, cluster-wide
// notices) are visible to every experiment, so they are unioned in.
func (s *SQLiteStore) QueryLogs(ctx context.Context, experiment string, unit string, minLevel types.LogLevel, skip, limit int) ([]*types.LogRecord, error) {
	levels := levelsAtOrAbove(minLevel)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(levels)), ",")
	args := make([]any, 0, len(levels)+5)
	stmt := `SELECT * FROM logs WHERE (experiment = ? OR experiment = ?)`
	args = append(args, experiment, types.UniversalExperiment)
	if unit != "" {
		stmt += ` AND pioreactor_unit = ?`
		args = append(args, unit)
	}
	stmt += fmt.Sprintf(` AND level IN (%s)`, placeholders)
	for _, l := range levels {
		args = append(args, l)
	}
	stmt += ` ORDER BY timestamp DESC LIMIT ? OFFSET ?`
	args = append(args, limit, skip)

	res, err := s.Query(ctx, stmt, false, args...)
	if err != nil {
		return nil, err
	}
	rows, _ := res.([]Row)
	out := make([]*types.LogRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, &types.LogRecord{
			Timestamp:      parseTime(r["timestamp"]),
			Level:          types.LogLevel(asString(r["level"])),
			PioreactorUnit: asString(r["pioreactor_unit"]),
			Experiment:     asString(r["experiment"]),
			Task:           asString(r["task"]),
			Source:         asString(r["source"]),
			Message:        asString(r["message"]),
		})
	}
	return out, nil
}

// --- Time series ---

func (s *SQLiteStore) InsertTimeSeriesPoint(ctx context.Context, table string, p *types.TimeSeriesPoint) error {
	if !timeSeriesTables[table] {
		return fmt.Errorf("unknown time series table %q", table)
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (experiment, pioreactor_unit, channel, timestamp, value) VALUES (?, ?, ?, ?, ?)`, table)
	_, err := s.Modify(ctx, stmt, p.Experiment, p.PioreactorUnit, p.Channel, utc(p.Timestamp), p.Value)
	return err
}

func (s *SQLiteStore) QueryTimeSeries(ctx context.Context, table, experiment, unit string, since time.Time) ([]*types.TimeSeriesPoint, error) {
	if !timeSeriesTables[table] {
		return nil, fmt.Errorf("unknown time series table %q", table)
	}
	stmt := fmt.Sprintf(`SELECT * FROM %s WHERE experiment = ? AND timestamp >= ?`, table)
	args := []any{experiment, utc(since)}
	if unit != "" {
		stmt += ` AND pioreactor_unit = ?`
		args = append(args, unit)
	}
	stmt += ` ORDER BY pioreactor_unit, timestamp`

	res, err := s.Query(ctx, stmt, false, args...)
	if err != nil {
		return nil, err
	}
	rows, _ := res.([]Row)
	out := make([]*types.TimeSeriesPoint, 0, len(rows))
	for _, r := range rows {
		out = append(out, &types.TimeSeriesPoint{
			Experiment:     asString(r["experiment"]),
			PioreactorUnit: asString(r["pioreactor_unit"]),
			Channel:        asString(r["channel"]),
			Timestamp:      parseTime(r["timestamp"]),
			Value:          asFloat64(r["value"]),
		})
	}
	return out, nil
}

func (s *SQLiteStore) CountTimeSeries(ctx context.Context, table, experiment, unit string, since time.Time) (int, error) {
	if !timeSeriesTables[table] {
		return 0, fmt.Errorf("unknown time series table %q", table)
	}
	stmt := fmt.Sprintf(`SELECT COUNT(*) AS c FROM %s WHERE experiment = ? AND timestamp >= ?`, table)
	args := []any{experiment, utc(since)}
	if unit != "" {
		stmt += ` AND pioreactor_unit = ?`
		args = append(args, unit)
	}
	res, err := s.Query(ctx, stmt, true, args...)
	if err != nil {
		return 0, err
	}
	if res == nil {
		return 0, nil
	}
	return int(asInt64(res.(Row)["c"])), nil
}

// --- Config history ---

func (s *SQLiteStore) SaveConfigHistory(ctx context.Context, filename, data string) error {
	_, err := s.Modify(ctx,
		`INSERT INTO config_history (filename, data, timestamp) VALUES (?, ?, ?)`,
		filename, data, utc(time.Now()))
	return err
}

// DeleteConfigHistory purges every stored revision of filename, used
// when a worker is removed from the inventory.
func (s *SQLiteStore) DeleteConfigHistory(ctx context.Context, filename string) error {
	_, err := s.Modify(ctx, `DELETE FROM config_history WHERE filename = ?`, filename)
	return err
}

func (s *SQLiteStore) LatestConfig(ctx context.Context, filename string) (*types.ConfigHistoryRow, error) {
	res, err := s.Query(ctx,
		`SELECT * FROM config_history WHERE filename = ? ORDER BY id DESC LIMIT 1`, true, filename)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	r := res.(Row)
	return &types.ConfigHistoryRow{
		ID:        asInt64(r["id"]),
		Filename:  asString(r["filename"]),
		Data:      asString(r["data"]),
		Timestamp: parseTime(r["timestamp"]),
	}, nil
}
