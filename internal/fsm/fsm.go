package fsm

import "fmt"

// TransitionFunc performs the concrete local-database operations needed
// to move from current to assigned, given db as the local-database
// surface and peers as the current otherNodes snapshot. It returns nil
// on success. On failure, currentRole is left unchanged by the caller
// and the loop retries the same transition next tick (spec §4.2).
type TransitionFunc func(db Database, peers []PeerLSN) error

// key identifies one cell of the transition table.
type key struct {
	from NodeState
	to   NodeState
}

// table is keyed by (currentRole, assignedRole) and matched exactly;
// Lookup falls back to role-class defaults only after a miss here.
var table = map[key]TransitionFunc{
	{Init, Single}: func(db Database, peers []PeerLSN) error {
		return db.Start()
	},
	{Init, WaitStandby}: func(db Database, peers []PeerLSN) error {
		// This transition only starts the database: it runs no basebackup
		// or pg_rewind, so the data directory must already hold a standby
		// copy when it runs.
		return db.Start()
	},
	{Single, WaitPrimary}: func(db Database, peers []PeerLSN) error {
		if !db.IsRunning() {
			return db.Start()
		}
		return nil
	},
	{WaitPrimary, Primary}: func(db Database, peers []PeerLSN) error {
		return nil // already running and accepting writes; nothing to do
	},
	{CatchingUp, Secondary}: func(db Database, peers []PeerLSN) error {
		return db.MaintainReplicationSlots(peers)
	},
	{Secondary, PrepPromotion}: func(db Database, peers []PeerLSN) error {
		return nil // wait for WAL to catch up; nothing to drive yet
	},
	{PrepPromotion, StopReplication}: func(db Database, peers []PeerLSN) error {
		return nil // the monitor coordinates stopping the old primary first
	},
	{StopReplication, WaitPrimary}: func(db Database, peers []PeerLSN) error {
		return db.Promote()
	},
	{Primary, PrepPromotion}: func(db Database, peers []PeerLSN) error {
		return nil // can't happen on a healthy primary; guarded upstream
	},
	{Secondary, WaitStandby}: func(db Database, peers []PeerLSN) error {
		return db.MaintainReplicationSlots(peers)
	},
	{Primary, ApplySettings}: func(db Database, peers []PeerLSN) error {
		return nil // settings are applied by the control loop before the
		// transition runs; this cell exists so the table has an explicit
		// entry rather than falling through to the generic default.
	},
	{ApplySettings, Primary}: func(db Database, peers []PeerLSN) error {
		return nil
	},
}

// shutdownTransition is the "anything -> shutdown state" function,
// since every (X, Draining|DemoteTimeout|Demoted) cell does the same
// thing regardless of X.
func shutdownTransition(db Database, peers []PeerLSN) error {
	if db.IsRunning() {
		return db.Stop()
	}
	return nil
}

// dropTransition is used for (X, Dropped): stop the database; the caller
// (control loop) is responsible for the remove_node monitor call and
// unlinking the state file once this returns successfully.
func dropTransition(db Database, peers []PeerLSN) error {
	if db.IsRunning() {
		return db.Stop()
	}
	return nil
}

// maintenanceTransition is used for any (X, Maintenance) cell: the
// database keeps running, nothing local changes.
func maintenanceTransition(db Database, peers []PeerLSN) error {
	return nil
}

// Lookup resolves the transition function for (from, to), falling back
// to role-class defaults (shutdown / maintenance / dropped) before
// finally refusing an unknown transition outright.
func Lookup(from, to NodeState) (TransitionFunc, error) {
	if fn, ok := table[key{from, to}]; ok {
		return fn, nil
	}
	switch to {
	case Draining, DemoteTimeout, Demoted:
		return shutdownTransition, nil
	case Dropped:
		return dropTransition, nil
	case Maintenance, PrepareMaintenance, WaitMaintenance:
		return maintenanceTransition, nil
	}
	return nil, fmt.Errorf("no transition registered for %s -> %s", from, to)
}

// Apply runs the transition from current to assigned. On success the
// caller is expected to set currentRole = assigned and persist before
// informing the monitor (spec §4.2).
func Apply(db Database, current, assigned NodeState, peers []PeerLSN) error {
	fn, err := Lookup(current, assigned)
	if err != nil {
		return err
	}
	return fn(db, peers)
}
