package types

import "time"

// BroadcastUnit is the universal identifier wildcard meaning "every unit".
const BroadcastUnit = "$broadcast"

// UniversalExperiment is the wildcard experiment visible to all experiments.
const UniversalExperiment = "$experiment"

// CurrentExperimentAlias is a reserved experiment name that may never be
// assigned to a real experiment (it is used by clients to mean "whichever
// experiment this unit is presently assigned to").
const CurrentExperimentAlias = "current"

// LogLevel is one of the five severities a LogRecord may carry.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelNotice  LogLevel = "NOTICE"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// levelOrder gives each level's position in the ERROR ⊂ WARNING ⊂ NOTICE ⊂
// INFO ⊂ DEBUG containment chain; lower means more severe/restrictive.
var levelOrder = map[LogLevel]int{
	LogLevelError:   0,
	LogLevelWarning: 1,
	LogLevelNotice:  2,
	LogLevelInfo:    3,
	LogLevelDebug:   4,
}

// Includes reports whether a LogRecord at level other passes a floor of l
// (e.g. floor WARNING includes WARNING and ERROR, but not NOTICE/INFO/DEBUG).
func (l LogLevel) Includes(other LogLevel) bool {
	lo, ok := levelOrder[l]
	if !ok {
		return false
	}
	oo, ok := levelOrder[other]
	if !ok {
		return false
	}
	return oo <= lo
}

// Experiment is a named logical context to which workers may be assigned
// and within which jobs run.
type Experiment struct {
	Experiment    string    `json:"experiment"`
	CreatedAt     time.Time `json:"created_at"`
	Description   string    `json:"description,omitempty"`
	MediaUsed     string    `json:"media_used,omitempty"`
	OrganismUsed  string    `json:"organism_used,omitempty"`
}

// Worker is a registered cluster node capable of running jobs.
type Worker struct {
	PioreactorUnit string    `json:"pioreactor_unit"`
	AddedAt        time.Time `json:"added_at"`
	IsActive       bool      `json:"is_active"`
	ModelName      string    `json:"model_name,omitempty"`
	ModelVersion   string    `json:"model_version,omitempty"`
}

// Assignment is the current (worker, experiment) relation; a worker is in
// at most one experiment at a time.
type Assignment struct {
	PioreactorUnit string    `json:"pioreactor_unit"`
	Experiment     string    `json:"experiment"`
	AssignedAt     time.Time `json:"assigned_at"`
}

// AssignmentHistory is an append-only log of every assignment a worker has
// ever held, used to attribute historical log/time-series rows to the
// experiment that was active at their timestamp.
type AssignmentHistory struct {
	ID             int64      `json:"id"`
	PioreactorUnit string     `json:"pioreactor_unit"`
	Experiment     string     `json:"experiment"`
	AssignedAt     time.Time  `json:"assigned_at"`
	UnassignedAt   *time.Time `json:"unassigned_at,omitempty"`
}

// UnitLabel is a human-assigned display name for a unit within an
// experiment, independent of assignment.
type UnitLabel struct {
	Experiment     string `json:"experiment"`
	PioreactorUnit string `json:"pioreactor_unit"`
	Label          string `json:"label"`
}

// LogRecord is one row of the cluster's centralized log stream.
type LogRecord struct {
	Timestamp      time.Time `json:"timestamp"`
	Level          LogLevel  `json:"level"`
	PioreactorUnit string    `json:"pioreactor_unit"`
	Experiment     string    `json:"experiment"`
	Task           string    `json:"task"`
	Source         string    `json:"source"`
	Message        string    `json:"message"`
}

// TimeSeriesPoint is one reading in a time-series table
// (growth_rates, od_readings, od_readings_filtered, od_readings_fused,
// raw_od_readings, temperature_readings, or a generic fallback table).
type TimeSeriesPoint struct {
	Experiment     string    `json:"experiment"`
	PioreactorUnit string    `json:"pioreactor_unit"`
	Channel        string    `json:"channel,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Value          float64   `json:"value"`
}

// ConfigHistoryRow is one accepted revision of a configuration file.
type ConfigHistoryRow struct {
	ID        int64     `json:"id"`
	Filename  string    `json:"filename"`
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// JobInstance is the worker-local, transient record of a running job.
type JobInstance struct {
	JobID             string `json:"job_id"`
	JobName           string `json:"job_name"`
	Experiment        string `json:"experiment"`
	IsRunning         bool   `json:"is_running"`
	IsLongRunningJob  bool   `json:"is_long_running_job"`
	State             JobState `json:"state"`
}

// JobState is the worker-local job lifecycle state.
type JobState string

const (
	JobStateInit         JobState = "init"
	JobStateReady        JobState = "ready"
	JobStateSleeping     JobState = "sleeping"
	JobStateDisconnected JobState = "disconnected"
	JobStateLost         JobState = "lost"
)

// PublishedSetting is the last value a job published for one of its
// settings on the control bus.
type PublishedSetting struct {
	JobID   string `json:"job_id"`
	Setting string `json:"setting"`
	Value   string `json:"value"`
}

// CalibrationDoc is a worker-local YAML calibration document under a
// device namespace (<device>/<name>.yaml).
type CalibrationDoc struct {
	Device    string         `json:"device" yaml:"device"`
	Name      string         `json:"calibration_name" yaml:"calibration_name"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
	Data      map[string]any `json:"data" yaml:"data"`
}

// EstimatorDoc is a worker-local YAML estimator document, structurally
// identical to a CalibrationDoc but stored under a separate namespace.
type EstimatorDoc struct {
	Device    string         `json:"device" yaml:"device"`
	Name      string         `json:"estimator_name" yaml:"estimator_name"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
	Data      map[string]any `json:"data" yaml:"data"`
}

// TaskState is the lifecycle state of a leader-side asynchronous Task.
type TaskState string

const (
	TaskStatePending    TaskState = "pending"
	TaskStateInProgress TaskState = "in_progress"
	TaskStateComplete   TaskState = "complete"
	TaskStateFailed     TaskState = "failed"
	TaskStateLocked     TaskState = "locked"
)

// Task is a leader-side asynchronous operation, addressed by ID, with an
// optional named lock.
type Task struct {
	ID        string    `json:"task_id"`
	Kind      string    `json:"kind"`
	LockName  string    `json:"lock_name,omitempty"`
	State     TaskState `json:"state"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RunJobPayload is the body of POST .../jobs/run/job_name/<job>.
type RunJobPayload struct {
	Args             []string          `json:"args,omitempty"`
	Options          map[string]any    `json:"options,omitempty"`
	Env              map[string]string `json:"env,omitempty"`
	ConfigOverrides  [][3]string       `json:"config_overrides,omitempty"`
}

// TargetingPrecedence decides how an experiment-derived unit set and an
// explicit unit set are combined by the Targeter.
type TargetingPrecedence string

const (
	PrecedenceIntersection TargetingPrecedence = "intersection"
	PrecedenceExperiments  TargetingPrecedence = "experiments"
	PrecedenceUnits        TargetingPrecedence = "units"
)

// TargetingOptions is the input to pkg/targeter.Resolve.
type TargetingOptions struct {
	Units             []string
	Experiments       []string
	ActiveOnly        bool
	IncludeLeader     *bool // nil = follow inventory
	FilterNonWorkers  bool
	Precedence        TargetingPrecedence
}
