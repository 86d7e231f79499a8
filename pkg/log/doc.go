/*
Package log provides structured logging for the cluster control plane
using zerolog, carrying the same field vocabulary pkg/store persists in
the logs table (component, pioreactor_unit, experiment, task_id) so a
daemon log line and a cluster log row grep the same way.

# Architecture

A single global zerolog.Logger is initialized once via Init and is safe
for concurrent use from every package. Component loggers (WithComponent,
WithUnit, WithExperiment, WithTaskID) attach one context field and return
a child logger; callers chain these to build up context without
repeating themselves at every call site.

ClusterEvent bridges the cluster's five-level log vocabulary (DEBUG,
INFO, NOTICE, WARNING, ERROR — what workers publish on the Bus and what
the store's logs table records) onto zerolog's levels; the leader's log
aggregator uses it to mirror high-severity worker rows into the
daemon's own stream.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	log.WithComponent("leader").Info().Msg("leader starting")

	unitLog := log.WithUnit("pio-01").With().Str("experiment", "exp-001").Logger()
	unitLog.Info().Msg("worker registered")

	log.ClusterEvent(log.WithUnit("pio-01"), types.LogLevelWarning).
		Msg("stirring stalled")

# Output

JSON (production default):

	{"level":"info","component":"orchestrator","time":"2026-07-31T10:30:00Z","message":"task scheduled"}

Console (--log-json=false, for local development):

	10:30:00 INF task scheduled component=orchestrator

# Practices

Use structured fields (.Str, .Int, .Err) rather than string
interpolation; never log calibration data, MQTT credentials, or config
file contents verbatim. Debug level is for local troubleshooting only —
production processes run at Info.
*/
package log
