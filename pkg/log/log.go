package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pioreactor/cluster-core/pkg/types"
)

// Logger is the process-wide root logger. Init replaces it; the zero
// value logs JSON to stdout so packages can log before Init runs.
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Level is the process log level, set once at startup from the
// --log-level flag.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

func (l Level) zerolog() zerolog.Level {
	switch Level(strings.ToLower(string(l))) {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer // defaults to os.Stdout
}

// Init initializes the global logger. JSON output is the production
// default; console output is for a human watching a terminal.
func Init(cfg Config) {
	zerolog.SetGlobalLevel(cfg.Level.zerolog())

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if !cfg.JSONOutput {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(output).With().Timestamp().Logger()
}

// with returns a child logger carrying one context field. The field
// names below are the same keys pkg/store persists in the logs table,
// so a daemon log line and a cluster log row grep the same way.
func with(field, value string) zerolog.Logger {
	return Logger.With().Str(field, value).Logger()
}

// WithComponent tags log lines with the emitting subsystem
// (orchestrator, taskqueue, bus, log-aggregator, ...).
func WithComponent(component string) zerolog.Logger {
	return with("component", component)
}

// WithUnit tags log lines with a pioreactor_unit.
func WithUnit(unit string) zerolog.Logger {
	return with("pioreactor_unit", unit)
}

// WithExperiment tags log lines with an experiment.
func WithExperiment(experiment string) zerolog.Logger {
	return with("experiment", experiment)
}

// WithTaskID tags log lines with a background task id.
func WithTaskID(taskID string) zerolog.Logger {
	return with("task_id", taskID)
}

// zerologByCluster maps the cluster's five-level log vocabulary onto
// zerolog's levels. NOTICE has no zerolog equivalent and maps to info;
// an unknown level also logs at info rather than being dropped.
var zerologByCluster = map[types.LogLevel]zerolog.Level{
	types.LogLevelDebug:   zerolog.DebugLevel,
	types.LogLevelInfo:    zerolog.InfoLevel,
	types.LogLevelNotice:  zerolog.InfoLevel,
	types.LogLevelWarning: zerolog.WarnLevel,
	types.LogLevelError:   zerolog.ErrorLevel,
}

// ClusterEvent starts a log event on logger at the zerolog level
// matching a cluster LogLevel. The leader's log aggregator uses this to
// mirror high-severity worker log rows into its own stream.
func ClusterEvent(logger zerolog.Logger, level types.LogLevel) *zerolog.Event {
	zl, ok := zerologByCluster[level]
	if !ok {
		zl = zerolog.InfoLevel
	}
	return logger.WithLevel(zl)
}
