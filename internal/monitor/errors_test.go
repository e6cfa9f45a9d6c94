package monitor_test

import (
	"errors"
	"testing"

	"github.com/pgautoctl/keeper/internal/monitor"
)

func TestClassifyPassesThroughNil(t *testing.T) {
	if monitor.Classify(nil) != nil {
		t.Fatal("expected nil to classify as nil")
	}
}

func TestClassifyPassesThroughPlainErrors(t *testing.T) {
	want := errors.New("dial tcp: connection refused")
	if got := monitor.Classify(want); !errors.Is(got, want) {
		t.Fatalf("expected plain network errors to pass through unchanged, got %v", got)
	}
}

func TestIsRetryable(t *testing.T) {
	if monitor.IsRetryable(nil) {
		t.Fatal("nil is not retryable")
	}
	if monitor.IsRetryable(monitor.ErrVersionMismatch) {
		t.Fatal("version mismatch must not be retryable")
	}
	if monitor.IsRetryable(monitor.ErrIdentityMismatch) {
		t.Fatal("identity mismatch must not be retryable")
	}
	if !monitor.IsRetryable(errors.New("transient")) {
		t.Fatal("an unrecognized error should default to retryable")
	}
}
