package fsm

// Database is the local-database surface the FSM drives. It is satisfied
// by internal/postgresql.DatabaseAdapter; the FSM package depends only on this
// narrow interface, never on postgresql directly, so transition logic
// stays pure and unit-testable against a fake.
type Database interface {
	IsRunning() bool
	Start() error
	Stop() error
	Promote() error
	DropObsoleteReplicationSlots(keepPeerIDs []int64) error
	MaintainReplicationSlots(peers []PeerLSN) error
	ConnectedReplicationUsers() ([]string, error)
	EnsureFollowsPrimary(primary PrimaryInfo) (bool, error)
}

// PeerLSN is the subset of peer information the slot-maintenance
// operation needs: identity and reported LSN.
type PeerLSN struct {
	NodeID int64
	LSN    string
}

// PrimaryInfo is what EnsureFollowsPrimary needs to point this node's
// standby configuration at the current primary (spec §4.4). A zero value
// (empty ConnString) means the primary is not known yet this tick, which
// callers treat as "nothing to do".
type PrimaryInfo struct {
	ConnString      string
	ApplicationName string
	SlotName        string
	SSLMode         string
}
