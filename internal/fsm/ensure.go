package fsm

import "fmt"

// EnsureCurrentState normalizes the local database for role, per the
// per-role table in spec §4.2. Called before attempting a transition,
// and as a keep-alive when the monitor was reachable but no transition
// is due. Skipped entirely by the control loop when either side of a
// pending transition is a shutdown state (IsShutdownState) — see that
// function's doc for why.
func EnsureCurrentState(db Database, role NodeState, otherNodeIDs []int64, peers []PeerLSN, primary PrimaryInfo) error {
	switch role {
	case Primary:
		if !db.IsRunning() {
			if err := db.Start(); err != nil {
				return fmt.Errorf("ensureCurrentState(PRIMARY): start: %w", err)
			}
		}
		return db.DropObsoleteReplicationSlots(otherNodeIDs)

	case Single:
		if !db.IsRunning() {
			if err := db.Start(); err != nil {
				return fmt.Errorf("ensureCurrentState(SINGLE): start: %w", err)
			}
		}
		return db.DropObsoleteReplicationSlots(otherNodeIDs)

	case WaitPrimary, PrepPromotion, StopReplication:
		if !db.IsRunning() {
			if err := db.Start(); err != nil {
				return fmt.Errorf("ensureCurrentState(%s): start: %w", role, err)
			}
		}
		return nil

	case Secondary:
		if !db.IsRunning() {
			if err := db.Start(); err != nil {
				return fmt.Errorf("ensureCurrentState(SECONDARY): start: %w", err)
			}
		}
		if primary.ConnString != "" {
			if _, err := db.EnsureFollowsPrimary(primary); err != nil {
				return fmt.Errorf("ensureCurrentState(SECONDARY): follow primary: %w", err)
			}
		}
		return db.MaintainReplicationSlots(peers)

	case CatchingUp:
		// Do not maintain slots here: advancing a slot against an older
		// restart point than the peer already has can fail outright.
		if !db.IsRunning() {
			if err := db.Start(); err != nil {
				return fmt.Errorf("ensureCurrentState(CATCHINGUP): start: %w", err)
			}
		}
		if primary.ConnString != "" {
			if _, err := db.EnsureFollowsPrimary(primary); err != nil {
				return fmt.Errorf("ensureCurrentState(CATCHINGUP): follow primary: %w", err)
			}
		}
		return nil

	case Demoted, DemoteTimeout, Draining:
		if db.IsRunning() {
			if err := db.Stop(); err != nil {
				return fmt.Errorf("ensureCurrentState(%s): stop: %w", role, err)
			}
		}
		return nil

	case Maintenance:
		if primary.ConnString != "" && db.IsRunning() {
			if _, err := db.EnsureFollowsPrimary(primary); err != nil {
				return fmt.Errorf("ensureCurrentState(MAINTENANCE): follow primary: %w", err)
			}
		}
		return nil

	default:
		return nil
	}
}

// ShouldEnsureCurrentState reports whether the ensure-current-state step
// should run before attempting a transition from current to assigned.
// It is skipped when either side is a shutdown state, to avoid starting
// the database only to immediately stop it again (split-brain hazard).
func ShouldEnsureCurrentState(current, assigned NodeState) bool {
	return !IsShutdownState(current) && !IsShutdownState(assigned)
}
