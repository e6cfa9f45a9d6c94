package fsm_test

import (
	"testing"
	"time"

	"github.com/pgautoctl/keeper/internal/fsm"
)

func TestShouldSelfDemote(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	stale := now.Add(-30 * time.Second)
	fresh := now.Add(-1 * time.Second)

	tests := []struct {
		name                 string
		timeout              time.Duration
		lastMonitorContact   time.Time
		lastSecondaryContact time.Time
		replicaConnected     bool
		want                 bool
	}{
		{"both stale and no replica visible", 20 * time.Second, stale, stale, false, true},
		{"zero timeout disables the check", 0, stale, stale, false, false},
		{"replica still connected locally", 20 * time.Second, stale, stale, true, false},
		{"monitor contact still fresh", 20 * time.Second, fresh, stale, false, false},
		{"secondary contact still fresh", 20 * time.Second, stale, fresh, false, false},
		{"never had a standby", 20 * time.Second, stale, time.Time{}, false, false},
		{"never contacted the monitor", 20 * time.Second, time.Time{}, stale, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := fsm.PartitionCheck{Timeout: tt.timeout}
			got := check.ShouldSelfDemote(now, tt.lastMonitorContact, tt.lastSecondaryContact, tt.replicaConnected)
			if got != tt.want {
				t.Errorf("ShouldSelfDemote() = %t, want %t", got, tt.want)
			}
		})
	}
}
