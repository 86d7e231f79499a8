/*
Package taskqueue runs asynchronous, pollable tasks: every multicast
fan-out, system operation (reboot/shutdown/update/clock), and export job
is registered here and returns a Task immediately, to be polled via Get.

# State machine

	pending -> in_progress -> complete | failed
	pending -> locked (if lockName is already held) -> pending (once free)

locked tasks never enter the worker pool's pending channel; they sit in
an ordered waiting list until the lock they need is released, at which
point they rejoin pending in submission order.

# Concurrency

A fixed pool of workers (default runtime.NumCPU()) drains a buffered
channel of task ids. Named locks are a plain map[string]string (lock
name -> holding task id) guarded by a mutex — update-lock, power-lock,
clock-lock, web-restart-lock, and import-dot-pioreactor-lock are the
named locks pkg/workerapi and pkg/leaderapi use.

Results are retained in memory for DefaultResultTTL (1h) after
completion; Get on an id whose result has been evicted returns
apierror's NotFound, matching "the task existed, its result did not
survive," rather than "this id was never valid."
*/
package taskqueue
