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

// Package monitor is a typed client over the remote procedures exposed by
// the monitor database: register_node, node_active, get_other_nodes, and
// the rest of the surface named in monitor.h. It owns connection retry
// with decorrelated-jitter backoff and classifies transient from fatal
// failures; it knows nothing about the local FSM or database.
package monitor

import (
	"github.com/pgautoctl/keeper/internal/fsm"
)

// NodeAddress identifies one peer node as reported by the monitor.
type NodeAddress struct {
	NodeID     int64
	Name       string
	Host       string
	Port       int
	LSN        string
	IsPrimary  bool
}

// MaxOtherNodes bounds the in-memory otherNodes cache (spec §3: "cap: small
// constant, e.g. 12"). GetOtherNodes keeps at most this many rows and
// drops the rest with a warning.
const MaxOtherNodes = 12

// AssignedState is the reply shape returned by register_node and every
// node_active heartbeat.
type AssignedState struct {
	NodeID            int64
	GroupID           int64
	State             fsm.NodeState
	CandidatePriority int
	ReplicationQuorum bool
	Name              string
}

// ExtensionVersion reports the monitor's installed schema version versus
// the version this keeper binary was compiled against.
type ExtensionVersion struct {
	Default   string
	Installed string
}

// StateNotification is the payload of a "state" channel NOTIFY.
type StateNotification struct {
	FormationID string
	NodeID      int64
	GroupID     int64
	Name        string
	Host        string
	Port        int
	ReportedState fsm.NodeState
	GoalState     fsm.NodeState
}
