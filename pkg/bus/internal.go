package bus

import "sync"

// Wakeup is an in-process, non-blocking broadcaster used to nudge idle
// TaskQueue workers when a task is enqueued, so they don't have to poll
// on a tight timer. It carries no payload: a worker that wakes just
// re-checks the queue itself.
//
// Adapted from the fan-out/non-blocking-publish shape of a conventional
// in-memory event broker, trimmed to the one signal TaskQueue needs.
type Wakeup struct {
	mu   sync.Mutex
	subs map[chan struct{}]bool
}

// NewWakeup returns a ready-to-use Wakeup.
func NewWakeup() *Wakeup {
	return &Wakeup{subs: make(map[chan struct{}]bool)}
}

// Subscribe returns a channel that receives one value per Broadcast
// call, as long as the subscriber is keeping up; a subscriber that is
// not ready to receive simply misses that particular broadcast instead
// of blocking the broadcaster.
func (w *Wakeup) Subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	w.mu.Lock()
	w.subs[ch] = true
	w.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (w *Wakeup) Unsubscribe(ch chan struct{}) {
	w.mu.Lock()
	if w.subs[ch] {
		delete(w.subs, ch)
		close(ch)
	}
	w.mu.Unlock()
}

// Broadcast wakes every current subscriber. Non-blocking: a subscriber
// whose buffer is already full (i.e. hasn't consumed the previous wake)
// is skipped rather than stalling the caller.
func (w *Wakeup) Broadcast() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for ch := range w.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
