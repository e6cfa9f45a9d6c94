package fsm

import "time"

// PartitionCheck implements the network-partition self-demotion policy
// from spec §4.2. It is a pure function of the timestamps and the
// replica-visibility observation so it can be unit tested without a
// clock or a database.
type PartitionCheck struct {
	// Timeout is the configured networkPartitionTimeout. Zero disables
	// self-demotion entirely (spec §8 boundary behaviour).
	Timeout time.Duration
}

// ShouldSelfDemote decides, given that the monitor call just failed and
// currentRole == PRIMARY, whether this node should self-assign
// DEMOTE_TIMEOUT. replicaConnected reports whether a configured
// replication peer is currently visible in the local replication-status
// view; if true the primary is not actually isolated and must not demote.
//
// Both lastMonitorContact and lastSecondaryContact must be nonzero and
// stale by more than Timeout. A primary that has never had a standby
// (lastSecondaryContact == zero) never satisfies this and is never
// self-demoted by this check alone — see spec §9's open question, decided
// here in favor of the conservative reading: no standby history means no
// partition signal from that side, so we never demote solely because the
// monitor is unreachable on a node that has always been alone.
func (p PartitionCheck) ShouldSelfDemote(now, lastMonitorContact, lastSecondaryContact time.Time, replicaConnected bool) bool {
	if p.Timeout <= 0 {
		return false
	}
	if replicaConnected {
		return false
	}
	if lastMonitorContact.IsZero() || lastSecondaryContact.IsZero() {
		return false
	}
	return now.Sub(lastMonitorContact) > p.Timeout && now.Sub(lastSecondaryContact) > p.Timeout
}
