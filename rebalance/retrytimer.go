package rebalance

import (
	"sync"
	"time"
)

// RetryTimer is a single-slot, replaceable one-shot timer. Arming it while
// a previous timer is pending cancels the previous one first, mirroring
// the single-slot semantics of a "replace any previously armed timer"
// deferred-assignment schedule.
//
// Unlike heartbeat.Publisher (a recurring ticker with its own goroutine
// lifecycle), RetryTimer only ever needs stdlib's time.AfterFunc: there is
// no background loop to start/stop, just a slot that Set/Cancel swap under
// a mutex.
type RetryTimer struct {
	mu    sync.Mutex
	timer *time.Timer
}

// NewRetryTimer creates an empty, unarmed RetryTimer.
func NewRetryTimer() *RetryTimer {
	return &RetryTimer{}
}

// Set arms the timer to invoke action after delay, replacing (and
// cancelling) any timer already pending in this slot. A zero or negative
// delay runs action on the next scheduler tick via time.AfterFunc(0, ...).
func (t *RetryTimer) Set(delay time.Duration, action func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}

	t.timer = time.AfterFunc(delay, action)
}

// Cancel removes any pending timer from the slot. It is idempotent and
// safe to call whether or not a timer is currently armed.
func (t *RetryTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Pending reports whether a timer is currently armed in this slot. It does
// not distinguish "never armed" from "already fired and not replaced".
func (t *RetryTimer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.timer != nil
}
