// Copyright 2015 Sorint.lab
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

package postgresql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgautoctl/keeper/internal/fsm"
)

// DatabaseAdapter wraps a *Manager to satisfy fsm.Database: the FSM never
// sees Manager directly, only this narrower surface,
// keeping the (much larger) Manager free to grow init/recovery/HBA
// machinery without widening the FSM's dependency.
type DatabaseAdapter struct {
	*Manager
	replSlotPrefix string
}

// NewDatabaseAdapter builds the fsm.Database view of m. replSlotPrefix is
// the fixed pattern every keeper in the formation uses to name slots it
// manages for a given peer nodeId (spec §4.4).
func NewDatabaseAdapter(m *Manager, replSlotPrefix string) *DatabaseAdapter {
	return &DatabaseAdapter{Manager: m, replSlotPrefix: replSlotPrefix}
}

// IsRunning satisfies fsm.Database. Unlike IsStarted it collapses the
// "unknown state" case to false: ensureCurrentState decides whether to
// start the database, and claiming it's up when pg_ctl can't tell is the
// wrong side to err on.
func (a *DatabaseAdapter) IsRunning() bool {
	started, err := a.IsStarted()
	return err == nil && started
}

// Stop satisfies fsm.Database's no-argument shutdown by always requesting
// a fast shutdown, matching every other caller in the control loop that
// wants the database down now rather than waiting out active sessions.
func (a *DatabaseAdapter) Stop() error {
	return a.Manager.Stop(true)
}

// SlotName derives the managed slot name for a peer nodeId.
func (a *DatabaseAdapter) SlotName(nodeID int64) string {
	return fmt.Sprintf("%s%d", a.replSlotPrefix, nodeID)
}

// DropObsoleteReplicationSlots drops every managed slot (one whose name
// matches replSlotPrefix) whose embedded nodeId is not in keepPeerIDs.
// Run by ensureCurrentState(PRIMARY|SINGLE) (spec §4.2).
func (a *DatabaseAdapter) DropObsoleteReplicationSlots(keepPeerIDs []int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.requestTimeout)
	defer cancel()

	keep := make(map[string]bool, len(keepPeerIDs))
	for _, id := range keepPeerIDs {
		keep[a.SlotName(id)] = true
	}

	slots, err := getManagedReplicationSlots(ctx, a.localConnParams, a.replSlotPrefix)
	if err != nil {
		return err
	}
	for _, s := range slots {
		if !keep[s.name] {
			if err := a.DropReplicationSlot(s.name); err != nil {
				return fmt.Errorf("drop obsolete slot %s: %w", s.name, err)
			}
		}
	}
	return nil
}

// MaintainReplicationSlots is the standby-side slot maintenance from spec
// §4.4: create slots for new peers, drop slots for peers no longer
// present, and advance a remaining slot to a peer's reported LSN when the
// peer is at least as far ahead as the slot's current restart_lsn.
func (a *DatabaseAdapter) MaintainReplicationSlots(peers []fsm.PeerLSN) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.requestTimeout)
	defer cancel()

	existing, err := getManagedReplicationSlots(ctx, a.localConnParams, a.replSlotPrefix)
	if err != nil {
		return err
	}
	existingByName := make(map[string]slotRestartLSN, len(existing))
	for _, s := range existing {
		existingByName[s.name] = s
	}

	wanted := make(map[string]bool, len(peers))
	for _, peer := range peers {
		name := a.SlotName(peer.NodeID)
		wanted[name] = true

		slot, ok := existingByName[name]
		if !ok {
			if err := a.CreateReplicationSlot(name); err != nil {
				return fmt.Errorf("create slot %s: %w", name, err)
			}
			continue
		}

		if peer.LSN == "" || peer.LSN == "0/0" {
			continue
		}
		peerLSN, err := PGLsnToInt(peer.LSN)
		if err != nil {
			continue
		}
		slotLSN, err := PGLsnToInt(slot.restartLSN)
		if err != nil {
			continue
		}
		if peerLSN >= slotLSN {
			if advanceErr := advanceReplicationSlot(ctx, a.localConnParams, name, peer.LSN); advanceErr != nil {
				log.Warnw("failed to advance replication slot, skipping", "slot", name, "error", advanceErr)
			}
		}
	}

	for name := range existingByName {
		if !wanted[name] {
			if err := a.DropReplicationSlot(name); err != nil {
				return fmt.Errorf("drop slot %s: %w", name, err)
			}
		}
	}
	return nil
}

// ConnectedReplicationUsers lists the replication username of every
// connected walsender, used by the network-partition self-demotion check
// to decide whether a configured replica is still locally visible. Any
// sync_state counts: a healthy async standby must keep a primary from
// self-demoting just as much as a sync one.
func (a *DatabaseAdapter) ConnectedReplicationUsers() ([]string, error) {
	return a.GetConnectedReplicationUsers()
}

// EnsureFollowsPrimary satisfies fsm.Database: it points this node's
// standby configuration at primary, restarting only if the recovery
// parameters actually changed (spec §4.4). Run every tick the FSM is in
// SECONDARY, CATCHINGUP, or MAINTENANCE.
func (a *DatabaseAdapter) EnsureFollowsPrimary(primary fsm.PrimaryInfo) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.requestTimeout)
	defer cancel()

	return a.Manager.EnsureStandbyConfig(ctx, StandbyConfig{
		PrimaryConnString: primary.ConnString,
		ApplicationName:   primary.ApplicationName,
		SlotName:          primary.SlotName,
		SSLMode:           primary.SSLMode,
	})
}

// Checkpoint issues CHECKPOINT on the local instance, used before a
// standby-config-triggered restart (spec §4.4).
func (a *DatabaseAdapter) Checkpoint(ctx context.Context) error {
	db, err := sql.Open("postgres", a.localConnParams.ConnString())
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = dbExec(ctx, db, "checkpoint")
	return err
}
