package fsm_test

import (
	"errors"
	"testing"

	"github.com/pgautoctl/keeper/internal/fsm"
)

// fakeDB is a hand-written fake over fsm.Database, matching the
// teacher's own keeper_test.go style of faking a narrow interface rather
// than generating one with a mocking framework.
type fakeDB struct {
	running         bool
	startErr        error
	stopErr         error
	promoteErr      error
	promoted        bool
	droppedPeerIDs  []int64
	maintainedPeers []fsm.PeerLSN
	syncUsers       []string
	followedPrimary fsm.PrimaryInfo
	followErr       error
	followChanged   bool
}

func (f *fakeDB) IsRunning() bool { return f.running }

func (f *fakeDB) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeDB) Stop() error {
	if f.stopErr != nil {
		return f.stopErr
	}
	f.running = false
	return nil
}

func (f *fakeDB) Promote() error {
	if f.promoteErr != nil {
		return f.promoteErr
	}
	f.promoted = true
	return nil
}

func (f *fakeDB) DropObsoleteReplicationSlots(keepPeerIDs []int64) error {
	f.droppedPeerIDs = keepPeerIDs
	return nil
}

func (f *fakeDB) MaintainReplicationSlots(peers []fsm.PeerLSN) error {
	f.maintainedPeers = peers
	return nil
}

func (f *fakeDB) ConnectedReplicationUsers() ([]string, error) {
	return f.syncUsers, nil
}

func (f *fakeDB) EnsureFollowsPrimary(primary fsm.PrimaryInfo) (bool, error) {
	f.followedPrimary = primary
	return f.followChanged, f.followErr
}

func TestApplyKnownTransitionsStartTheDatabase(t *testing.T) {
	db := &fakeDB{}
	if err := fsm.Apply(db, fsm.Init, fsm.Single, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !db.running {
		t.Fatal("expected database to be started after init -> single")
	}
}

func TestApplyStopReplicationToWaitPrimaryPromotes(t *testing.T) {
	db := &fakeDB{running: true}
	if err := fsm.Apply(db, fsm.StopReplication, fsm.WaitPrimary, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !db.promoted {
		t.Fatal("expected the database to be promoted after stop_replication -> wait_primary")
	}
}

func TestApplyUnknownTransitionIsRejected(t *testing.T) {
	db := &fakeDB{}
	if err := fsm.Apply(db, fsm.Single, fsm.CatchingUp, nil); err == nil {
		t.Fatal("expected an error for an unregistered transition")
	}
}

func TestApplyShutdownTargetsStopARunningDatabase(t *testing.T) {
	for _, to := range []fsm.NodeState{fsm.Draining, fsm.DemoteTimeout, fsm.Demoted} {
		db := &fakeDB{running: true}
		if err := fsm.Apply(db, fsm.Primary, to, nil); err != nil {
			t.Fatalf("%s: unexpected error: %v", to, err)
		}
		if db.running {
			t.Fatalf("%s: expected database to be stopped", to)
		}
	}
}

func TestApplyDroppedStopsARunningDatabase(t *testing.T) {
	db := &fakeDB{running: true}
	if err := fsm.Apply(db, fsm.Secondary, fsm.Dropped, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db.running {
		t.Fatal("expected database to be stopped on drop")
	}
}

func TestApplyMaintenanceLeavesTheDatabaseAlone(t *testing.T) {
	db := &fakeDB{running: true}
	if err := fsm.Apply(db, fsm.Secondary, fsm.Maintenance, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !db.running {
		t.Fatal("maintenance transition must not stop the database")
	}
}

func TestApplyPropagatesTransitionFailure(t *testing.T) {
	want := errors.New("boom")
	db := &fakeDB{startErr: want}
	err := fsm.Apply(db, fsm.Init, fsm.Single, nil)
	if !errors.Is(err, want) {
		t.Fatalf("expected wrapped %v, got %v", want, err)
	}
}

func TestEnsureCurrentStatePrimaryStartsAndDropsObsoleteSlots(t *testing.T) {
	db := &fakeDB{}
	if err := fsm.EnsureCurrentState(db, fsm.Primary, []int64{1, 2}, nil, fsm.PrimaryInfo{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !db.running {
		t.Fatal("expected PRIMARY ensureCurrentState to start the database")
	}
	if len(db.droppedPeerIDs) != 2 {
		t.Fatalf("expected obsolete slots dropped against 2 peers, got %v", db.droppedPeerIDs)
	}
}

func TestEnsureCurrentStateSecondaryMaintainsSlots(t *testing.T) {
	db := &fakeDB{running: true}
	peers := []fsm.PeerLSN{{NodeID: 1, LSN: "0/1"}}
	if err := fsm.EnsureCurrentState(db, fsm.Secondary, nil, peers, fsm.PrimaryInfo{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(db.maintainedPeers) != 1 {
		t.Fatalf("expected slots maintained against peers, got %v", db.maintainedPeers)
	}
}

func TestEnsureCurrentStateSecondaryFollowsPrimaryWhenKnown(t *testing.T) {
	db := &fakeDB{running: true}
	primary := fsm.PrimaryInfo{ConnString: "host=10.0.0.1 port=5432", ApplicationName: "node2", SlotName: "pgautoctl_2"}
	if err := fsm.EnsureCurrentState(db, fsm.Secondary, nil, nil, primary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db.followedPrimary != primary {
		t.Fatalf("expected SECONDARY to follow primary %+v, got %+v", primary, db.followedPrimary)
	}
}

func TestEnsureCurrentStateCatchingUpFollowsPrimaryWhenKnown(t *testing.T) {
	db := &fakeDB{running: true}
	primary := fsm.PrimaryInfo{ConnString: "host=10.0.0.1 port=5432", ApplicationName: "node2", SlotName: "pgautoctl_2"}
	if err := fsm.EnsureCurrentState(db, fsm.CatchingUp, nil, nil, primary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db.followedPrimary != primary {
		t.Fatalf("expected CATCHINGUP to follow primary %+v, got %+v", primary, db.followedPrimary)
	}
}

func TestEnsureCurrentStateSkipsFollowPrimaryWhenUnknown(t *testing.T) {
	db := &fakeDB{running: true}
	if err := fsm.EnsureCurrentState(db, fsm.Secondary, nil, nil, fsm.PrimaryInfo{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db.followedPrimary != (fsm.PrimaryInfo{}) {
		t.Fatalf("expected no follow-primary call when primary is unknown, got %+v", db.followedPrimary)
	}
}

func TestEnsureCurrentStateCatchingUpDoesNotMaintainSlots(t *testing.T) {
	db := &fakeDB{running: true}
	peers := []fsm.PeerLSN{{NodeID: 1, LSN: "0/1"}}
	if err := fsm.EnsureCurrentState(db, fsm.CatchingUp, nil, peers, fsm.PrimaryInfo{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db.maintainedPeers != nil {
		t.Fatal("CATCHINGUP must not advance replication slots")
	}
}

func TestEnsureCurrentStateShutdownRolesStopARunningDatabase(t *testing.T) {
	for _, role := range []fsm.NodeState{fsm.Demoted, fsm.DemoteTimeout, fsm.Draining} {
		db := &fakeDB{running: true}
		if err := fsm.EnsureCurrentState(db, role, nil, nil, fsm.PrimaryInfo{}); err != nil {
			t.Fatalf("%s: unexpected error: %v", role, err)
		}
		if db.running {
			t.Fatalf("%s: expected database to be stopped", role)
		}
	}
}

func TestShouldEnsureCurrentStateSkipsShutdownTransitions(t *testing.T) {
	tests := []struct {
		current, assigned fsm.NodeState
		want              bool
	}{
		{fsm.Primary, fsm.Secondary, true},
		{fsm.Primary, fsm.DemoteTimeout, false},
		{fsm.Draining, fsm.Dropped, false},
		{fsm.Secondary, fsm.CatchingUp, true},
	}
	for _, tt := range tests {
		got := fsm.ShouldEnsureCurrentState(tt.current, tt.assigned)
		if got != tt.want {
			t.Errorf("ShouldEnsureCurrentState(%s, %s) = %t, want %t", tt.current, tt.assigned, got, tt.want)
		}
	}
}

func TestValidRejectsUnknownStates(t *testing.T) {
	if fsm.Valid(fsm.NodeState("bogus")) {
		t.Fatal("expected an unknown state to be invalid")
	}
	if !fsm.Valid(fsm.Primary) {
		t.Fatal("expected PRIMARY to be valid")
	}
}

func TestIsShutdownState(t *testing.T) {
	for _, s := range []fsm.NodeState{fsm.Draining, fsm.DemoteTimeout, fsm.Demoted} {
		if !fsm.IsShutdownState(s) {
			t.Errorf("expected %s to be a shutdown state", s)
		}
	}
	if fsm.IsShutdownState(fsm.Primary) {
		t.Fatal("PRIMARY must not be a shutdown state")
	}
}
