package resilience

import "time"

// FromSettings overrides the policy fields that are set to positive values.
func FromSettings(base Policy, maxAttempts, initialBackoffMs, maxBackoffMs int) Policy {
	if maxAttempts > 0 {
		base.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		base.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		base.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	return base
}
