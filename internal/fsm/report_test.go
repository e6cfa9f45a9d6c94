package fsm_test

import (
	"testing"
	"time"

	"github.com/pgautoctl/keeper/internal/fsm"
)

func TestReportPgIsRunningNonPrimaryReportsObservedValue(t *testing.T) {
	now := time.Now()
	if !fsm.ReportPgIsRunning(fsm.DefaultRestartPolicy, fsm.Secondary, true, time.Time{}, 0, now) {
		t.Fatal("expected true when running")
	}
	if fsm.ReportPgIsRunning(fsm.DefaultRestartPolicy, fsm.Secondary, false, time.Time{}, 0, now) {
		t.Fatal("expected false to pass through unmodified for a non-primary")
	}
}

func TestReportPgIsRunningPrimaryGraceWindow(t *testing.T) {
	now := time.Now()
	firstFailure := now.Add(-5 * time.Second)

	if !fsm.ReportPgIsRunning(fsm.DefaultRestartPolicy, fsm.Primary, false, firstFailure, 1, now) {
		t.Fatal("expected true while still inside the grace window")
	}
}

func TestReportPgIsRunningPrimaryReportsFalseAfterTimeout(t *testing.T) {
	now := time.Now()
	firstFailure := now.Add(-30 * time.Second)

	if fsm.ReportPgIsRunning(fsm.DefaultRestartPolicy, fsm.Primary, false, firstFailure, 1, now) {
		t.Fatal("expected false once the grace timeout elapsed")
	}
}

func TestReportPgIsRunningPrimaryReportsFalseAfterMaxRetries(t *testing.T) {
	now := time.Now()
	firstFailure := now.Add(-1 * time.Second)

	if fsm.ReportPgIsRunning(fsm.DefaultRestartPolicy, fsm.Primary, false, firstFailure, fsm.DefaultRestartPolicy.MaxRetries, now) {
		t.Fatal("expected false once retries are exhausted even inside the time window")
	}
}

func TestReportPgIsRunningPrimaryRunningAlwaysReportsTrue(t *testing.T) {
	now := time.Now()
	if !fsm.ReportPgIsRunning(fsm.DefaultRestartPolicy, fsm.Primary, true, now.Add(-1*time.Hour), 99, now) {
		t.Fatal("expected true whenever the database is actually running")
	}
}
