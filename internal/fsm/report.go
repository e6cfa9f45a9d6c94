package fsm

import "time"

// RestartPolicy bounds how long / how many times a PRIMARY is allowed to
// keep retrying a failed start locally before the keeper admits defeat
// and reports it to the monitor (spec §4.2's pgIsRunning reporting
// policy). Defaults per spec: 20s timeout, 3 retries.
type RestartPolicy struct {
	Timeout    time.Duration
	MaxRetries int
}

// DefaultRestartPolicy matches the reference implementation's defaults.
var DefaultRestartPolicy = RestartPolicy{Timeout: 20 * time.Second, MaxRetries: 3}

// ReportPgIsRunning decides what pgIsRunning value to send to the monitor
// this tick. currentRole is the node's own current role (not the
// assignment); firstFailure is the zero time if no failure is currently
// being tracked.
func ReportPgIsRunning(policy RestartPolicy, currentRole NodeState, running bool, firstFailure time.Time, retries int, now time.Time) bool {
	if currentRole != Primary {
		return running
	}
	if running {
		return true
	}
	if firstFailure.IsZero() {
		// PRIMARY + not running + never-failed-before: unexpected,
		// report true and let the next tick start tracking the failure.
		return true
	}
	if now.Sub(firstFailure) > policy.Timeout || retries >= policy.MaxRetries {
		return false
	}
	return true
}
