/*
Package bus is the control plane's pub/sub transport: a fixed topic
grammar over MQTT (github.com/eclipse/paho.mqtt.golang) used to command
running jobs and ingest their logs.

# Topic grammar

	pioreactor/<unit>/<experiment>/<job>/<setting>/set   mutate a job setting
	pioreactor/<unit>/<experiment>/<job>/$state/set      lifecycle transition
	pioreactor/<unit>/<experiment>/logs/<source>/<level> log ingest
	pioreactor/<unit>/<experiment>/monitor/flicker_led_response_okay

Only the leader holds a Bus (publishes commands, subscribes to
LogSubscriptionFilter for the log aggregator). Each worker holds a
Subscriber, which only ever subscribes to its own unit's command
topics via CommandSubscriptionFilter.

# Publish confirmation

PublishSetting and PublishState block for up to PublishConfirmTimeout
waiting on the broker's delivery acknowledgement. A timeout returns
ErrPublishTimeout, distinct from a transport error. pkg/orchestrator
retries the same command over UnitClient directly on either kind of
publish failure, and the operation's task fails (a 500 when polled)
only if that direct call also fails.

Identify is fire-and-forget: no confirmation wait, no task, no result.

# Wakeup

Wakeup (internal.go) is unrelated to MQTT: it's an in-process
non-blocking broadcaster pkg/taskqueue uses to wake idle workers when a
task is enqueued, instead of polling on a timer.
*/
package bus
