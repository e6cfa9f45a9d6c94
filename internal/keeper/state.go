// Copyright 2019 Sorint.lab
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied
// See the License for the specific language governing permissions and
// limitations under the License.

// Package keeper owns the control loop and the crash-safe on-disk state:
// the top-level assembly that wires internal/monitor, internal/fsm and
// internal/postgresql together. Nothing outside this package reads or
// writes the state file directly.
package keeper

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pgautoctl/keeper/internal/common"
	"github.com/pgautoctl/keeper/internal/fsm"
)

// stateFileVersion is written into every persisted state file. Readers
// reject a file with an unknown version rather than guess at a layout.
const stateFileVersion = 1

// State is the on-disk, crash-safe keeper state (spec §3). It is written
// only by the control loop, always via write-temp-then-rename.
type State struct {
	Version int `json:"version"`

	CurrentNodeID  int64 `json:"currentNodeId"`
	CurrentGroupID int64 `json:"currentGroupId"`

	CurrentRole  fsm.NodeState `json:"currentRole"`
	AssignedRole fsm.NodeState `json:"assignedRole"`

	LastMonitorContact   int64 `json:"lastMonitorContact"`
	LastSecondaryContact int64 `json:"lastSecondaryContact"`

	PgControlVersion int64  `json:"pgControlVersion"`
	CatalogVersionNo int64  `json:"catalogVersionNo"`
	SystemIdentifier string `json:"systemIdentifier"`

	// FirstFailureUnixTime and StartRetries track a PRIMARY's local
	// restart failures across ticks, per the pgIsRunning reporting
	// policy (spec §4.2): 0 means "no failure recorded". They live here,
	// not on LocalFacts, because LocalFacts is resampled from scratch
	// every tick and would lose the failure history immediately.
	FirstFailureUnixTime int64 `json:"firstFailureUnixTime"`
	StartRetries         int   `json:"startRetries"`
}

// NewState returns a freshly-initialized, unregistered state: nodeID is
// unset (0) and both roles are NoState/Init per the spec's initial state.
func NewState() *State {
	return &State{
		Version:      stateFileVersion,
		CurrentRole:  fsm.NoState,
		AssignedRole: fsm.Init,
	}
}

// LoadState reads the state file. A missing file is not an error: it
// means first boot, and the caller should proceed with NewState().
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state file %s: %w", path, err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	if s.Version != stateFileVersion {
		return nil, fmt.Errorf("state file %s has version %d, expected %d: migration required", path, s.Version, stateFileVersion)
	}
	if !fsm.Valid(s.CurrentRole) || !fsm.Valid(s.AssignedRole) {
		return nil, fmt.Errorf("state file %s contains an unknown node state", path)
	}
	return &s, nil
}

// Save persists the state atomically (write-temp-then-rename). The
// control loop calls this after every iteration, including failed
// transitions, so that partition timestamps still advance (spec §4.3
// step 12).
func (s *State) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return common.WriteFileAtomic(path, data, 0600)
}

// SetNodeIdentity sets currentNodeId/currentGroupId exactly once; a
// second call with a different nodeId is a programming error (the spec's
// invariant #4: "currentNodeId is monotonically fixed once set").
func (s *State) SetNodeIdentity(nodeID, groupID int64) error {
	if s.CurrentNodeID != 0 && s.CurrentNodeID != nodeID {
		return fmt.Errorf("refusing to change currentNodeId from %d to %d", s.CurrentNodeID, nodeID)
	}
	s.CurrentNodeID = nodeID
	s.CurrentGroupID = groupID
	return nil
}

// CheckSystemIdentifier enforces invariant #5: once nonzero, the cached
// systemIdentifier must equal what the local database reports; any other
// value is fatal (distinct database files under our pgdata).
func (s *State) CheckSystemIdentifier(observed string) error {
	if s.SystemIdentifier == "" || s.SystemIdentifier == "0" {
		s.SystemIdentifier = observed
		return nil
	}
	if s.SystemIdentifier != observed {
		return fmt.Errorf("system identifier changed from %s to %s: refusing to continue", s.SystemIdentifier, observed)
	}
	return nil
}

// LocalFacts are the never-persisted, every-tick-refreshed facts about
// the local database (spec §3).
type LocalFacts struct {
	PgIsRunning          bool
	IsInRecovery         bool
	CurrentLSN           string
	ReplicationSyncState string // empty when no standby connected
	PidFilePID           int
	PidFilePort          int
}
