package taskqueue

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pioreactor/cluster-core/pkg/apierror"
	"github.com/pioreactor/cluster-core/pkg/bus"
	"github.com/pioreactor/cluster-core/pkg/log"
	"github.com/pioreactor/cluster-core/pkg/metrics"
	"github.com/pioreactor/cluster-core/pkg/types"
)

// DefaultResultTTL is how long a completed or failed task's result is
// retained before Get on its id returns NotFound.
const DefaultResultTTL = time.Hour

// Func is the work a task performs. lockName, if non-empty, is held for
// the task's duration and released regardless of outcome.
type Func func(ctx context.Context) (any, error)

type entry struct {
	task       *types.Task
	fn         Func
	lockName   string
	expiresAt  time.Time
	hasExpiry  bool
}

// Queue is the leader's (and worker's, for local async ops) async task
// runner: a buffered channel of task ids drained by a fixed worker
// pool, an in-memory result map with bounded TTL, and named mutual
// exclusion locks that hold a task in Locked state until free.
type Queue struct {
	pending chan string
	wakeup  *bus.Wakeup

	mu      sync.Mutex
	tasks   map[string]*entry
	locks   map[string]string // lock name -> holding task id
	waiting []string          // ids of tasks blocked on a lock, in submit order

	resultTTL time.Duration
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New starts a Queue with workerCount background workers (runtime.NumCPU()
// if workerCount <= 0) and the given result TTL (DefaultResultTTL if ttl <= 0).
func New(workerCount int, ttl time.Duration) *Queue {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}

	q := &Queue{
		pending:   make(chan string, 1024),
		wakeup:    bus.NewWakeup(),
		tasks:     make(map[string]*entry),
		locks:     make(map[string]string),
		resultTTL: ttl,
		stopCh:    make(chan struct{}),
	}

	for i := 0; i < workerCount; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.wg.Add(1)
	go q.evictLoop()

	return q
}

// Stop signals the workers to exit and waits for them. An idle worker
// returns at once, so task ids still buffered in the pending channel
// may never run; in-flight task executions are not cancelled, and Stop
// waits for them to finish.
func (q *Queue) Stop() {
	close(q.stopCh)
	q.wg.Wait()
}

// Submit registers fn as a new task and schedules it, or — if lockName
// is held by another task — marks it Locked until that lock frees.
// kind is an opaque label surfaced in the Task for callers/UI (e.g.
// "multicast", "system.reboot").
func (q *Queue) Submit(kind, lockName string, fn Func) *types.Task {
	task := &types.Task{
		ID:        uuid.New().String(),
		Kind:      kind,
		LockName:  lockName,
		State:     types.TaskStatePending,
		CreatedAt: time.Now(),
	}

	q.mu.Lock()
	e := &entry{task: task, fn: fn, lockName: lockName}
	q.tasks[task.ID] = e
	locked := lockName != "" && q.locks[lockName] != ""
	if locked {
		task.State = types.TaskStateLocked
		q.waiting = append(q.waiting, task.ID)
	} else {
		if lockName != "" {
			q.locks[lockName] = task.ID
		}
	}
	q.mu.Unlock()

	if !locked {
		q.enqueue(task.ID)
	}
	return task
}

func (q *Queue) enqueue(id string) {
	select {
	case q.pending <- id:
		q.wakeup.Broadcast()
	default:
		// Buffer full: the worker loop will pick it up once drained;
		// store it back in waiting so it is not lost.
		q.mu.Lock()
		q.waiting = append(q.waiting, id)
		q.mu.Unlock()
	}
}

// Get returns the current state of a task, or apierror NotFound if the
// id is unknown or its result has been evicted past the TTL.
func (q *Queue) Get(id string) (*types.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.tasks[id]
	if !ok {
		return nil, apierror.NotFoundf("task %s not found", id)
	}
	return e.task, nil
}

func (q *Queue) worker() {
	defer q.wg.Done()
	ch := q.wakeup.Subscribe()
	defer q.wakeup.Unsubscribe(ch)

	for {
		select {
		case id := <-q.pending:
			q.run(id)
		case <-ch:
			q.drainWaiting()
		case <-q.stopCh:
			return
		}
	}
}

// drainWaiting moves any now-unlocked waiting tasks into the pending
// channel. Called whenever a lock is released or a task is enqueued.
func (q *Queue) drainWaiting() {
	for {
		q.mu.Lock()
		if len(q.waiting) == 0 {
			q.mu.Unlock()
			return
		}
		id := q.waiting[0]
		e, ok := q.tasks[id]
		if !ok {
			q.waiting = q.waiting[1:]
			q.mu.Unlock()
			continue
		}
		if e.lockName != "" && q.locks[e.lockName] != "" && q.locks[e.lockName] != id {
			q.mu.Unlock()
			return
		}
		q.waiting = q.waiting[1:]
		if e.lockName != "" {
			q.locks[e.lockName] = id
		}
		e.task.State = types.TaskStatePending
		q.mu.Unlock()

		select {
		case q.pending <- id:
		default:
			q.mu.Lock()
			q.waiting = append([]string{id}, q.waiting...)
			q.mu.Unlock()
			return
		}
	}
}

func (q *Queue) run(id string) {
	q.mu.Lock()
	e, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	e.task.State = types.TaskStateInProgress
	fn := e.fn
	lockName := e.lockName
	q.mu.Unlock()

	timer := metrics.NewTimer()
	result, err := fn(context.Background())
	timer.ObserveDurationVec(metrics.TaskDuration, e.task.Kind)

	q.mu.Lock()
	if err != nil {
		e.task.State = types.TaskStateFailed
		e.task.Error = err.Error()
		log.WithComponent("taskqueue").Warn().Str("task_id", id).Str("kind", e.task.Kind).Err(err).Msg("task failed")
	} else {
		e.task.State = types.TaskStateComplete
		e.task.Result = result
	}
	e.expiresAt = time.Now().Add(q.resultTTL)
	e.hasExpiry = true
	if lockName != "" && q.locks[lockName] == id {
		delete(q.locks, lockName)
	}
	q.mu.Unlock()

	if lockName != "" {
		q.wakeup.Broadcast()
		q.drainWaiting()
	}
}

func (q *Queue) evictLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			q.evictExpired()
		case <-q.stopCh:
			return
		}
	}
}

func (q *Queue) evictExpired() {
	now := time.Now()
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, e := range q.tasks {
		if e.hasExpiry && now.After(e.expiresAt) {
			delete(q.tasks, id)
		}
	}
}

// StateCounts returns how many retained tasks are in each state, for
// the metrics collector.
func (q *Queue) StateCounts() map[types.TaskState]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[types.TaskState]int)
	for _, e := range q.tasks {
		out[e.task.State]++
	}
	return out
}

// ActiveLocks returns a snapshot of currently held lock names and the
// task id holding each, for introspection/diagnostics.
func (q *Queue) ActiveLocks() map[string]string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]string, len(q.locks))
	for k, v := range q.locks {
		out[k] = v
	}
	return out
}
