// Copyright 2019 Sorint.lab
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied
// See the License for the specific language governing permissions and
// limitations under the License.

package monitor

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy is a pure decorrelated-jitter backoff schedule, parameterized
// per call site. It carries no state of its own beyond the parameters;
// callers thread the previous sleep duration through NextSleep, which keeps
// the jitter function trivially testable (grounded in
// pgsql_compute_connection_retry_sleep_time in the reference
// implementation's pgsql.c).
type RetryPolicy struct {
	// MaxTotalTime bounds the whole retry loop's wall-clock duration.
	// Zero means "no time bound" (use MaxAttempts instead).
	MaxTotalTime time.Duration
	// MaxAttempts bounds the number of tries. 0 means "no retry"
	// (single attempt only); negative means "unbounded".
	MaxAttempts int
	// MaxSleepMs is the backoff cap.
	MaxSleepMs int
	// BaseSleepMs is the backoff floor.
	BaseSleepMs int
}

// Four named policies. MainLoop, MonitorInteractive and Init each have one
// production call site; Interactive is exercised only by its tests.

// MainLoop never retries: a single nodeActive failure returns control to
// the control loop, which will try again on the next tick.
var MainLoop = RetryPolicy{MaxTotalTime: 0, MaxAttempts: 0, MaxSleepMs: 0, BaseSleepMs: 0}

// Interactive is bounded by the configured connect timeout and used for
// user-initiated, one-shot operations (operator CLI calls).
func Interactive(connectTimeout time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxTotalTime: connectTimeout,
		MaxAttempts:  -1,
		MaxSleepMs:   2000,
		BaseSleepMs:  100,
	}
}

// MonitorInteractive covers operator-initiated monitor round trips (the
// drop command's remove_node) that must ride out a restarting monitor:
// 15 minutes, unbounded attempts, 1-5s jitter.
var MonitorInteractive = RetryPolicy{
	MaxTotalTime: 15 * time.Minute,
	MaxAttempts:  -1,
	MaxSleepMs:   5000,
	BaseSleepMs:  1000,
}

// Init covers the one-time registration transaction at `keeper init`
// time: 15 minutes, unbounded attempts, 2s cap, 100ms floor.
var Init = RetryPolicy{
	MaxTotalTime: 15 * time.Minute,
	MaxAttempts:  -1,
	MaxSleepMs:   2000,
	BaseSleepMs:  100,
}

// Retrier drives one RetryPolicy through successive attempts, tracking
// elapsed time, attempt count, and the previous sleep (seed for the next
// jitter sample).
type Retrier struct {
	policy       RetryPolicy
	start        time.Time
	attempts     int
	previousSleep int
	rand         *rand.Rand
}

// NewRetrier seeds a retrier for a single logical retry loop. now is
// injected so callers (and tests) control elapsed-time accounting.
func NewRetrier(policy RetryPolicy, now time.Time) *Retrier {
	return &Retrier{
		policy:        policy,
		start:         now,
		previousSleep: policy.BaseSleepMs,
		rand:          rand.New(rand.NewSource(now.UnixNano())),
	}
}

// Expired reports whether the policy has been exhausted as of now:
// maxTotalTime elapsed, or maxAttempts reached (when positive).
func (r *Retrier) Expired(now time.Time) bool {
	if r.policy.MaxTotalTime > 0 && now.Sub(r.start) >= r.policy.MaxTotalTime {
		return true
	}
	if r.policy.MaxAttempts > 0 && r.attempts >= r.policy.MaxAttempts {
		return true
	}
	if r.policy.MaxAttempts == 0 {
		return true
	}
	return false
}

// NextSleep returns the next decorrelated-jitter sleep duration and
// records the attempt. sleep <- min(maxSleep, uniform(base, previousSleep*3)).
func (r *Retrier) NextSleep() time.Duration {
	r.attempts++

	base := r.policy.BaseSleepMs
	upper := r.previousSleep * 3
	if upper <= base {
		upper = base + 1
	}

	sleepMs := base + r.rand.Intn(upper-base+1)
	if sleepMs > r.policy.MaxSleepMs {
		sleepMs = r.policy.MaxSleepMs
	}
	r.previousSleep = sleepMs

	return time.Duration(sleepMs) * time.Millisecond
}

// Attempts reports how many NextSleep calls have been made so far.
func (r *Retrier) Attempts() int {
	return r.attempts
}

// WithRetry runs op under policy, classifying every failure and retrying
// it with decorrelated-jitter backoff until op succeeds, the error is
// non-retryable (Classify+IsRetryable), the policy expires, or ctx is
// cancelled. It is the one place production code drives a Retrier; op is
// expected to apply its own per-attempt timeout (the policy bounds the
// whole loop, not a single attempt).
func WithRetry(ctx context.Context, policy RetryPolicy, op func() error) error {
	r := NewRetrier(policy, time.Now())

	for {
		err := Classify(op())
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		// NextSleep records the attempt just made, so Expired sees the
		// count including it.
		sleep := r.NextSleep()
		if r.Expired(time.Now()) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}
