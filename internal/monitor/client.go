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

package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	slog "github.com/pgautoctl/keeper/internal/log"

	"github.com/pgautoctl/keeper/internal/fsm"
)

var log = slog.S()

// Client is a short-lived-connection wrapper around the monitor's SQL
// RPC surface. Like internal/postgresql, every call opens, uses, and
// closes its own *sql.DB: the control loop never holds a pooled
// connection to the monitor across iterations (spec §4.3 step 11).
type Client struct {
	connString string
	extVersion string
}

// NewClient builds a monitor client for the given libpq connection
// string. extVersion is the schema version compiled into this binary,
// checked against the monitor's installed version on every tick.
func NewClient(connString, extVersion string) *Client {
	return &Client{connString: connString, extVersion: extVersion}
}

func (c *Client) open() (*sql.DB, error) {
	db, err := sql.Open("postgres", c.connString)
	if err != nil {
		return nil, fmt.Errorf("open monitor connection: %w", err)
	}
	return db, nil
}

// RegisterNode performs the one-time registration transaction. The caller
// is responsible for the "commit only after local persistence" ordering
// from spec §4.1: RegisterNode itself commits the remote side
// immediately (the monitor has no notion of a two-phase commit with the
// keeper's local disk), and the caller must unlink any partially-created
// local state file if the local write that follows fails.
func (c *Client) RegisterNode(ctx context.Context, formation, name, host string, port int, systemID, dbname string, desiredGroupID int64, initialState fsm.NodeState, kind string, candidatePriority int, replicationQuorum bool) (*AssignedState, error) {
	db, err := c.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	row := db.QueryRowContext(ctx,
		"select nodeid, groupid, reportedstate, candidatepriority, replicationquorum, nodename "+
			"from pgautofailover.register_node($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)",
		formation, host, port, dbname, name, systemID, desiredGroupID, string(initialState), kind, candidatePriority, replicationQuorum)

	var as AssignedState
	var state string
	if err := row.Scan(&as.NodeID, &as.GroupID, &state, &as.CandidatePriority, &as.ReplicationQuorum, &as.Name); err != nil {
		return nil, Classify(fmt.Errorf("register_node: %w", err))
	}
	as.State = fsm.NodeState(state)
	return &as, nil
}

// NodeActive reports local health and fetches the latest assignment.
// Called every tick with the main-loop policy: a single failure returns
// control to the control loop rather than retrying here.
func (c *Client) NodeActive(ctx context.Context, formation string, nodeID, groupID int64, currentState fsm.NodeState, pgIsRunning bool, currentLSN string, syncState string) (*AssignedState, error) {
	db, err := c.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	row := db.QueryRowContext(ctx,
		"select nodeid, groupid, reportedstate, candidatepriority, replicationquorum, nodename "+
			"from pgautofailover.node_active($1,$2,$3,$4,$5,$6,$7)",
		formation, nodeID, groupID, string(currentState), pgIsRunning, currentLSN, syncState)

	var as AssignedState
	var state string
	if err := row.Scan(&as.NodeID, &as.GroupID, &state, &as.CandidatePriority, &as.ReplicationQuorum, &as.Name); err != nil {
		return nil, Classify(fmt.Errorf("node_active: %w", err))
	}
	as.State = fsm.NodeState(state)
	return &as, nil
}

// GetOtherNodes fetches the peer set for nodeID, capped at MaxOtherNodes.
func (c *Client) GetOtherNodes(ctx context.Context, nodeID int64) ([]NodeAddress, error) {
	db, err := c.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "select nodeid, nodename, nodehost, nodeport, reportedlsn, isprimary from pgautofailover.get_other_nodes($1)", nodeID)
	if err != nil {
		return nil, Classify(fmt.Errorf("get_other_nodes: %w", err))
	}
	defer rows.Close()

	var nodes []NodeAddress
	for rows.Next() {
		var n NodeAddress
		if err := rows.Scan(&n.NodeID, &n.Name, &n.Host, &n.Port, &n.LSN, &n.IsPrimary); err != nil {
			return nil, err
		}
		if len(nodes) >= MaxOtherNodes {
			log.Warnw("otherNodes cap reached, dropping additional peers", "cap", MaxOtherNodes)
			break
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (c *Client) scanSingleNode(ctx context.Context, query string, args ...interface{}) (*NodeAddress, error) {
	db, err := c.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	row := db.QueryRowContext(ctx, query, args...)
	var n NodeAddress
	if err := row.Scan(&n.NodeID, &n.Name, &n.Host, &n.Port, &n.LSN, &n.IsPrimary); err != nil {
		return nil, Classify(err)
	}
	return &n, nil
}

// GetPrimary returns the current primary of a group.
func (c *Client) GetPrimary(ctx context.Context, formation string, groupID int64) (*NodeAddress, error) {
	return c.scanSingleNode(ctx,
		"select nodeid, nodename, nodehost, nodeport, reportedlsn, isprimary from pgautofailover.get_primary($1,$2)",
		formation, groupID)
}

// GetCoordinator returns the formation's coordinator node, if any.
func (c *Client) GetCoordinator(ctx context.Context, formation string) (*NodeAddress, error) {
	return c.scanSingleNode(ctx,
		"select nodeid, nodename, nodehost, nodeport, reportedlsn, isprimary from pgautofailover.get_coordinator($1)",
		formation)
}

// GetMostAdvancedStandby is used during failover to pick a promotion
// candidate; the keeper only ever reads this to decide whether it is the
// node the monitor is about to promote.
func (c *Client) GetMostAdvancedStandby(ctx context.Context, formation string, groupID int64) (*NodeAddress, error) {
	return c.scanSingleNode(ctx,
		"select nodeid, nodename, nodehost, nodeport, reportedlsn, isprimary from pgautofailover.get_most_advanced_standby($1,$2)",
		formation, groupID)
}

func (c *Client) exec(ctx context.Context, query string, args ...interface{}) error {
	db, err := c.open()
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.ExecContext(ctx, query, args...)
	return Classify(err)
}

// StartMaintenance asks the monitor to move a node into MAINTENANCE.
func (c *Client) StartMaintenance(ctx context.Context, nodeID int64) error {
	return c.exec(ctx, "select pgautofailover.start_maintenance($1)", nodeID)
}

// StopMaintenance asks the monitor to bring a node back out of MAINTENANCE.
func (c *Client) StopMaintenance(ctx context.Context, nodeID int64) error {
	return c.exec(ctx, "select pgautofailover.stop_maintenance($1)", nodeID)
}

// SetCandidatePriority updates a node's promotion candidate priority.
func (c *Client) SetCandidatePriority(ctx context.Context, nodeID int64, priority int) error {
	return c.exec(ctx, "select pgautofailover.set_node_candidate_priority($1,$2)", nodeID, priority)
}

// SetReplicationQuorum updates whether a node counts toward synchronous
// replication quorum.
func (c *Client) SetReplicationQuorum(ctx context.Context, nodeID int64, quorum bool) error {
	return c.exec(ctx, "select pgautofailover.set_node_replication_quorum($1,$2)", nodeID, quorum)
}

// SetFormationNumberSyncStandbys updates the formation-wide synchronous
// standby count.
func (c *Client) SetFormationNumberSyncStandbys(ctx context.Context, formation string, n int) error {
	return c.exec(ctx, "select pgautofailover.set_formation_number_sync_standbys($1,$2)", formation, n)
}

// SetNodeSystemIdentifier records the database's system identifier on the
// monitor once known (typically right after initdb on a SINGLE node).
func (c *Client) SetNodeSystemIdentifier(ctx context.Context, nodeID int64, systemIdentifier string) error {
	return c.exec(ctx, "select pgautofailover.set_node_system_identifier($1,$2)", nodeID, systemIdentifier)
}

// UpdateNodeMetadata pushes a changed name/host/port to the monitor,
// triggered by a config reload (spec §4.5).
func (c *Client) UpdateNodeMetadata(ctx context.Context, nodeID int64, name, host string, port int) error {
	return c.exec(ctx, "select pgautofailover.update_node_metadata($1,$2,$3,$4)", nodeID, name, host, port)
}

// RemoveNode asks the monitor to forget a node, by address. Called before
// the local state file is unlinked (spec §3 lifecycle).
func (c *Client) RemoveNode(ctx context.Context, host string, port int) error {
	return c.exec(ctx, "select pgautofailover.remove_node($1,$2)", host, port)
}

// PerformFailover triggers an operator-initiated failover of a group.
func (c *Client) PerformFailover(ctx context.Context, formation string, groupID int64) error {
	return c.exec(ctx, "select pgautofailover.perform_failover($1,$2)", formation, groupID)
}

// GetExtensionVersion fetches the monitor extension's default and
// installed versions; CheckCompatibility does the comparison.
func (c *Client) GetExtensionVersion(ctx context.Context) (*ExtensionVersion, error) {
	db, err := c.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	row := db.QueryRowContext(ctx, "select default_version, installed_version from pg_available_extensions where name = 'pgautofailover'")
	var ev ExtensionVersion
	if err := row.Scan(&ev.Default, &ev.Installed); err != nil {
		return nil, Classify(fmt.Errorf("get_extension_version: %w", err))
	}
	return &ev, nil
}

// CheckCompatibility verifies the monitor's installed extension version
// equals the version compiled into this binary (spec §4.1). A mismatch
// is fatal: the caller should exit with the monitor-incompatibility exit
// code and let the supervisor restart with a possibly-updated binary.
func (c *Client) CheckCompatibility(ctx context.Context) error {
	ev, err := c.GetExtensionVersion(ctx)
	if err != nil {
		return err
	}
	if ev.Installed != c.extVersion {
		return fmt.Errorf("%w: keeper compiled for %s, monitor has %s installed", ErrVersionMismatch, c.extVersion, ev.Installed)
	}
	return nil
}

// Listener wraps a pq.Listener subscribed to the "state" and "log"
// channels the monitor NOTIFYs on.
type Listener struct {
	l *pq.Listener
}

// ListenNotifications opens a dedicated LISTEN connection. minReconnect/
// maxReconnect bound pq.Listener's own reconnect backoff.
func (c *Client) ListenNotifications(minReconnect, maxReconnect time.Duration) (*Listener, error) {
	errCb := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warnw("monitor notification listener error", "error", err)
		}
	}
	l := pq.NewListener(c.connString, minReconnect, maxReconnect, errCb)
	if err := l.Listen("state"); err != nil {
		l.Close()
		return nil, fmt.Errorf("listen state: %w", err)
	}
	if err := l.Listen("log"); err != nil {
		l.Close()
		return nil, fmt.Errorf("listen log: %w", err)
	}
	return &Listener{l: l}, nil
}

// Close stops the listener.
func (ln *Listener) Close() error {
	return ln.l.Close()
}

// WaitForNotification blocks, draining notifications, until predicate
// returns true for a "state" payload or timeout elapses. Returns the
// matching notification, or nil on timeout. Matches spec §5's
// "consumes notifications until a timeout or the predicate holds".
func (ln *Listener) WaitForNotification(ctx context.Context, timeout time.Duration, predicate func(StateNotification) bool) (*StateNotification, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case n := <-ln.l.Notify:
			if n == nil {
				continue // reconnect event, keep waiting
			}
			if n.Channel != "state" {
				log.Debugw("monitor log notification", "payload", n.Extra)
				continue
			}
			var sn StateNotification
			if err := json.Unmarshal([]byte(n.Extra), &sn); err != nil {
				log.Warnw("malformed state notification", "error", err, "payload", n.Extra)
				continue
			}
			if predicate(sn) {
				return &sn, nil
			}
		}
	}
}
