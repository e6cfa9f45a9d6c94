package keeper

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pgautoctl/keeper/internal/fsm"
)

func TestSetStateSetsExactlyOneLabelValue(t *testing.T) {
	gv := assignedRoleGauge
	setState(gv, fsm.Primary)

	if got := testutil.ToFloat64(gv.WithLabelValues(fsm.Primary.String())); got != 1 {
		t.Fatalf("expected %s to be 1, got %v", fsm.Primary, got)
	}
	if got := testutil.ToFloat64(gv.WithLabelValues(fsm.Secondary.String())); got != 0 {
		t.Fatalf("expected %s to be 0, got %v", fsm.Secondary, got)
	}

	setState(gv, fsm.Secondary)
	if got := testutil.ToFloat64(gv.WithLabelValues(fsm.Primary.String())); got != 0 {
		t.Fatalf("expected %s to be reset to 0 once a different state is set, got %v", fsm.Primary, got)
	}
	if got := testutil.ToFloat64(gv.WithLabelValues(fsm.Secondary.String())); got != 1 {
		t.Fatalf("expected %s to be 1, got %v", fsm.Secondary, got)
	}
}

func TestSetStateNoStateClearsAllLabels(t *testing.T) {
	gv := currentRoleGauge
	setState(gv, fsm.Single)
	setState(gv, fsm.NoState)

	if got := testutil.ToFloat64(gv.WithLabelValues(fsm.Single.String())); got != 0 {
		t.Fatalf("expected every label to be cleared for NoState, got %v for %s", got, fsm.Single)
	}
}

func TestRecordMetricsReflectsPgIsRunning(t *testing.T) {
	state := &State{CurrentRole: fsm.Primary, AssignedRole: fsm.Primary}
	facts := LocalFacts{PgIsRunning: true}

	recordMetrics(state, facts, 2*time.Second)

	if got := testutil.ToFloat64(pgIsRunningGauge); got != 1 {
		t.Fatalf("expected pg_is_running to be 1, got %v", got)
	}
	if got := testutil.ToFloat64(sleepIntervalGauge); got != 2 {
		t.Fatalf("expected sleep interval to be 2 seconds, got %v", got)
	}

	facts.PgIsRunning = false
	recordMetrics(state, facts, time.Second)
	if got := testutil.ToFloat64(pgIsRunningGauge); got != 0 {
		t.Fatalf("expected pg_is_running to be 0, got %v", got)
	}
}

func TestRecordMetricsSkipsContactGaugesWhenNeverSet(t *testing.T) {
	state := &State{CurrentRole: fsm.Secondary, AssignedRole: fsm.Secondary}
	facts := LocalFacts{PgIsRunning: true}

	recordMetrics(state, facts, time.Second)

	state.LastMonitorContact = 1_700_000_000
	recordMetrics(state, facts, time.Second)
	if got := testutil.ToFloat64(lastMonitorContactSeconds); got != 1_700_000_000 {
		t.Fatalf("expected last monitor contact to be recorded, got %v", got)
	}

	state.LastMonitorContact = 0
	recordMetrics(state, facts, time.Second)
	if got := testutil.ToFloat64(lastMonitorContactSeconds); got != 1_700_000_000 {
		t.Fatalf("expected an unset last monitor contact to leave the gauge alone, got %v", got)
	}
}
