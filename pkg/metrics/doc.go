/*
Package metrics exposes the leader's Prometheus instrumentation: cluster
inventory gauges (workers, experiments, assignments), task-queue state
gauges, fan-out and bus counters/histograms, and HTTP request timing.

A Collector samples the store and task queue on a fixed interval; the
point-in-time metrics (fan-out outcomes, bus publishes, request
durations) are incremented inline at their call sites. Handler serves
the standard /metrics endpoint and is mounted by pkg/health's server.

	collector := metrics.NewCollector(st, tasks)
	collector.Start()
	defer collector.Stop()

	timer := metrics.NewTimer()
	// ... fan out ...
	timer.ObserveDuration(metrics.MulticastDuration)
*/
package metrics
