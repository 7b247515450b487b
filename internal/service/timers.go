package service

import (
	"sync"
	"time"
)

// Timer purposes. One entry per failure mode the coordinator supervises;
// arming a purpose again replaces the previous timer, so duplicates cannot
// accumulate across re-subscription.
const (
	timerBootSafety  = "boot_safety"
	timerFetchSafety = "fetch_safety"
	timerGuardRetry  = "guard_retry"
	timerPendingPoll = "pending_poll"
)

// timerRegistry is a supervised table of named one-shot timers with a single
// teardown path. It replaces the scattered ad-hoc timers the reconciliation
// logic historically accumulated.
type timerRegistry struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

func newTimerRegistry() *timerRegistry {
	return &timerRegistry{timers: make(map[string]*time.Timer)}
}

// Arm schedules fn to run after d under the given purpose, replacing any
// timer already armed for that purpose. No-op after Shutdown.
func (r *timerRegistry) Arm(purpose string, d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if t, ok := r.timers[purpose]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		r.mu.Lock()
		// Only fire if we are still the registered timer for this purpose
		// and the registry is alive.
		current, ok := r.timers[purpose]
		live := ok && current == t && !r.closed
		if live {
			delete(r.timers, purpose)
		}
		r.mu.Unlock()
		if live {
			fn()
		}
	})
	r.timers[purpose] = t
}

// Cancel stops and removes the timer for a purpose, if armed.
func (r *timerRegistry) Cancel(purpose string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[purpose]; ok {
		t.Stop()
		delete(r.timers, purpose)
	}
}

// Armed reports whether a timer is currently scheduled for the purpose.
func (r *timerRegistry) Armed(purpose string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[purpose]
	return ok
}

// Shutdown cancels every armed timer and rejects all future arms.
func (r *timerRegistry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for purpose, t := range r.timers {
		t.Stop()
		delete(r.timers, purpose)
	}
}
