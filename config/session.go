package config

import "time"

// SessionConfig tunes the session/profile reconciliation core. The defaults
// are product-tuned values; correctness does not depend on them, but the
// relative ordering (attempt timeout < safety timeout) does, and Sanitize
// enforces it.
type SessionConfig struct {
	// AttemptTimeout bounds one profile lookup. A lookup that stalls past it
	// is aborted and classified as BLOCKED.
	AttemptTimeout time.Duration `env:"SESSION_ATTEMPT_TIMEOUT" envDefault:"8s"`

	// RetryDelay is the pause between the two attempts of a full fetch. It
	// absorbs the race with the out-of-band profile row creation after
	// sign-up.
	RetryDelay time.Duration `env:"SESSION_RETRY_DELAY" envDefault:"1500ms"`

	// SafetyTimeout bounds the whole fetch sequence and the wait for the
	// first auth event at boot. When it fires, loading is forced off and the
	// error set to BLOCKED so the UI is never stuck on a spinner.
	SafetyTimeout time.Duration `env:"SESSION_SAFETY_TIMEOUT" envDefault:"12s"`

	// GuardMaxRetries is the number of automatic background refreshes the
	// route guard schedules while a transient error is active, before it
	// falls through to the error card.
	GuardMaxRetries int `env:"SESSION_GUARD_MAX_RETRIES" envDefault:"3"`

	// GuardRetryDelay spaces the guard's automatic background refreshes.
	GuardRetryDelay time.Duration `env:"SESSION_GUARD_RETRY_DELAY" envDefault:"4s"`

	// PendingPollInterval spaces the profile polls of the pending-approval
	// page, so a freshly approved user gets in without re-logging.
	PendingPollInterval time.Duration `env:"SESSION_PENDING_POLL_INTERVAL" envDefault:"30s"`
}

// Sanitize applies guardrails to session tuning values.
func (s *SessionConfig) Sanitize() {
	if s.AttemptTimeout <= 0 {
		s.AttemptTimeout = 8 * time.Second
	}
	if s.RetryDelay < 0 {
		s.RetryDelay = 0
	}
	if s.SafetyTimeout <= 0 {
		s.SafetyTimeout = 12 * time.Second
	}
	// The safety net must outlive a single attempt, or every slow fetch
	// reports BLOCKED before the attempt concludes.
	if s.SafetyTimeout < s.AttemptTimeout {
		s.SafetyTimeout = s.AttemptTimeout + s.RetryDelay
	}
	if s.GuardMaxRetries < 0 {
		s.GuardMaxRetries = 0
	}
	if s.GuardRetryDelay <= 0 {
		s.GuardRetryDelay = 4 * time.Second
	}
	if s.PendingPollInterval <= 0 {
		s.PendingPollInterval = 30 * time.Second
	}
}
