package monitor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pgautoctl/keeper/internal/monitor"
)

func TestRetrierNextSleepRespectsBounds(t *testing.T) {
	now := time.Unix(0, 0)
	r := monitor.NewRetrier(monitor.MonitorInteractive, now)

	for i := 0; i < 50; i++ {
		sleep := r.NextSleep()
		if sleep < time.Duration(monitor.MonitorInteractive.BaseSleepMs)*time.Millisecond {
			t.Fatalf("attempt %d: sleep %v below base", i, sleep)
		}
		if sleep > time.Duration(monitor.MonitorInteractive.MaxSleepMs)*time.Millisecond {
			t.Fatalf("attempt %d: sleep %v above cap", i, sleep)
		}
	}
	if r.Attempts() != 50 {
		t.Fatalf("expected 50 recorded attempts, got %d", r.Attempts())
	}
}

func TestRetrierExpiredOnMaxTotalTime(t *testing.T) {
	start := time.Unix(0, 0)
	r := monitor.NewRetrier(monitor.MonitorInteractive, start)

	if r.Expired(start.Add(1 * time.Second)) {
		t.Fatal("should not be expired immediately")
	}
	if !r.Expired(start.Add(monitor.MonitorInteractive.MaxTotalTime + time.Second)) {
		t.Fatal("should be expired once MaxTotalTime has elapsed")
	}
}

func TestRetrierExpiredOnMaxAttempts(t *testing.T) {
	policy := monitor.RetryPolicy{MaxAttempts: 3, MaxSleepMs: 100, BaseSleepMs: 10}
	start := time.Unix(0, 0)
	r := monitor.NewRetrier(policy, start)

	for i := 0; i < 3; i++ {
		if r.Expired(start) {
			t.Fatalf("should not be expired before attempt %d", i)
		}
		r.NextSleep()
	}
	if !r.Expired(start) {
		t.Fatal("should be expired once MaxAttempts is reached")
	}
}

func TestRetrierMainLoopNeverRetries(t *testing.T) {
	r := monitor.NewRetrier(monitor.MainLoop, time.Unix(0, 0))
	if !r.Expired(time.Unix(0, 0)) {
		t.Fatal("a policy with MaxAttempts == 0 must be expired before the first attempt")
	}
}

func TestInteractiveBoundedByConnectTimeout(t *testing.T) {
	policy := monitor.Interactive(5 * time.Second)
	if policy.MaxTotalTime != 5*time.Second {
		t.Fatalf("expected MaxTotalTime == connectTimeout, got %v", policy.MaxTotalTime)
	}
	if policy.MaxAttempts != -1 {
		t.Fatalf("expected unbounded attempts, got %d", policy.MaxAttempts)
	}
}

func TestWithRetrySucceedsWithoutRetryingOnFirstSuccess(t *testing.T) {
	calls := 0
	err := monitor.WithRetry(context.Background(), monitor.MainLoop, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call, got %d", calls)
	}
}

func TestWithRetryRetriesObjectInUseUntilItSucceeds(t *testing.T) {
	policy := monitor.RetryPolicy{MaxAttempts: -1, MaxSleepMs: 1, BaseSleepMs: 1}
	calls := 0
	err := monitor.WithRetry(context.Background(), policy, func() error {
		calls++
		if calls < 3 {
			return monitor.ErrObjectInUse
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected retry until the 3rd call succeeds, got %d calls", calls)
	}
}

func TestWithRetryStopsImmediatelyOnNonRetryableError(t *testing.T) {
	calls := 0
	err := monitor.WithRetry(context.Background(), monitor.MonitorInteractive, func() error {
		calls++
		return monitor.ErrVersionMismatch
	})
	if !errors.Is(err, monitor.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch to surface unchanged, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no retries for a non-retryable error, got %d calls", calls)
	}
}

func TestWithRetryGivesUpWhenMaxAttemptsReached(t *testing.T) {
	policy := monitor.RetryPolicy{MaxAttempts: 2, MaxSleepMs: 1, BaseSleepMs: 1}
	calls := 0
	err := monitor.WithRetry(context.Background(), policy, func() error {
		calls++
		return monitor.ErrObjectInUse
	})
	if !errors.Is(err, monitor.ErrObjectInUse) {
		t.Fatalf("expected the last error to surface once exhausted, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 attempts (MaxAttempts), got %d", calls)
	}
}

func TestWithRetryStopsWhenContextCancelled(t *testing.T) {
	policy := monitor.RetryPolicy{MaxAttempts: -1, MaxSleepMs: 60000, BaseSleepMs: 60000}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := monitor.WithRetry(ctx, policy, func() error {
		calls++
		cancel()
		return monitor.ErrObjectInUse
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call before the cancellation is observed, got %d", calls)
	}
}
