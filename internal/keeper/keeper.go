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

package keeper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/mitchellh/copystructure"

	"github.com/pgautoctl/keeper/internal/common"
	"github.com/pgautoctl/keeper/internal/config"
	"github.com/pgautoctl/keeper/internal/fsm"
	slog "github.com/pgautoctl/keeper/internal/log"
	"github.com/pgautoctl/keeper/internal/monitor"
	"github.com/pgautoctl/keeper/internal/postgresql"
	"github.com/pgautoctl/keeper/internal/util"
)

var log = slog.S()

// defaultTickInterval is the loop's normal sleep between iterations
// (spec §4.3 step 3); a transition on the previous iteration skips it
// entirely for a fast cycle.
const defaultTickInterval = 5 * time.Second

// Keeper owns the assembled control loop: configuration, the monitor
// client, the local database, the PID-file guard, and the in-memory
// otherNodes cache. Nothing outside this type reads or writes the state
// file (internal/keeper/state.go) directly.
type Keeper struct {
	cfg       *config.Config
	configPath string
	statePath string
	pidPath   string

	pidFile *PIDFile
	db      *postgresql.Manager
	dba     *postgresql.DatabaseAdapter
	monitor *monitor.Client

	otherNodes []monitor.NodeAddress

	lastTransition bool // true when the previous iteration ran a transition (fast cycle)
	stopRequested  int32
	reloadRequested int32
}

// ExtensionVersion is the monitor schema version this binary was built
// against, checked via CheckCompatibility on every tick.
const ExtensionVersion = "1.6"

// New assembles a Keeper from a loaded configuration. statePath and
// pidPath are derived from cfg.PGData by the caller (cmd/keeper).
func New(cfg *config.Config, configPath, statePath, pidPath string) *Keeper {
	localConnParams := postgresql.ConnParams{
		"host":   "/tmp",
		"port":   fmt.Sprintf("%d", cfg.NodePort),
		"dbname": cfg.DBName,
		"user":   cfg.ReplUsername,
	}
	replConnParams := postgresql.ConnParams{}
	for k, v := range localConnParams {
		replConnParams[k] = v
	}

	db := postgresql.NewManager(cfg.PGBin, cfg.PGData, localConnParams, replConnParams,
		"trust", "postgres", "", "trust", cfg.ReplUsername, cfg.ReplPassword, cfg.RequestTimeout)
	dba := postgresql.NewDatabaseAdapter(db, cfg.ReplSlotPrefix)

	return &Keeper{
		cfg:        cfg,
		configPath: configPath,
		statePath:  statePath,
		pidPath:    pidPath,
		db:         db,
		dba:        dba,
		monitor:    monitor.NewClient(cfg.MonitorURI, ExtensionVersion),
	}
}

// RequestStop asks the loop to exit at its next safe point (spec §4.3
// step 2), called from a SIGTERM/SIGINT handler.
func (k *Keeper) RequestStop() {
	atomic.StoreInt32(&k.stopRequested, 1)
}

// RequestReload asks the loop to reread its configuration at the start of
// its next iteration (spec §4.3 step 1), called from a SIGHUP handler.
func (k *Keeper) RequestReload() {
	atomic.StoreInt32(&k.reloadRequested, 1)
}

func (k *Keeper) consumeStop() bool    { return atomic.LoadInt32(&k.stopRequested) != 0 }
func (k *Keeper) consumeReload() bool  { return atomic.CompareAndSwapInt32(&k.reloadRequested, 1, 0) }

// Run drives the control loop until asked to stop or a fatal condition
// (version mismatch, system-identifier mismatch, PID-file takeover)
// occurs. It follows the step order of spec §4.3; no step rewrites the
// configuration file when the monitor assigns a new group id or slot name.
func (k *Keeper) Run(ctx context.Context) error {
	pidFile, err := CreatePIDFile(k.pidPath)
	if err != nil {
		return fmt.Errorf("create pid file: %w", err)
	}
	k.pidFile = pidFile
	defer k.pidFile.Remove()

	first := true
	for {
		if k.consumeReload() || first {
			if err := k.reloadConfig(); err != nil {
				log.Warnw("configuration reload failed, keeping old configuration", "error", err)
			}
		}
		first = false

		if k.consumeStop() {
			log.Infow("stop requested, exiting control loop")
			return nil
		}

		if !k.lastTransition {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(k.tickInterval()):
			}
		}

		if err := k.pidFile.Check(); err != nil {
			return fmt.Errorf("pid file takeover detected: %w", err)
		}

		if err := k.tick(ctx); err != nil {
			var fatal *fatalError
			if errors.As(err, &fatal) {
				return fatal.err
			}
			log.Warnw("control loop iteration failed, retrying next tick", "error", err)
		}
	}
}

func (k *Keeper) tickInterval() time.Duration {
	if k.cfg.LoopSleepInterval > 0 {
		return k.cfg.LoopSleepInterval
	}
	return defaultTickInterval
}

// fatalError marks a condition that must terminate Run rather than be
// retried next tick: version mismatch, or an unrecoverable local state
// invariant violation.
type fatalError struct{ err error }

func (f *fatalError) Error() string { return f.err.Error() }
func (f *fatalError) Unwrap() error { return f.err }

// tick runs one iteration (spec §4.3 steps 5-12). Reload/stop/sleep/
// pid-check (steps 1-4) are handled by Run.
func (k *Keeper) tick(ctx context.Context) error {
	k.lastTransition = false

	state, err := k.loadOrInitState()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	facts := k.sampleLocalFacts(ctx)

	if err := k.checkFatalMismatches(state, facts); err != nil {
		return &fatalError{err}
	}

	if err := k.monitor.CheckCompatibility(ctx); err != nil {
		if errors.Is(err, monitor.ErrVersionMismatch) {
			return &fatalError{err}
		}
		log.Warnw("monitor compatibility check failed, continuing", "error", err)
	}

	now := time.Now()
	if state.CurrentRole == fsm.Primary {
		trackStartFailures(state, facts, now)
	}
	assigned, monitorErr := k.reportToMonitor(ctx, state, facts, now)
	if monitorErr != nil {
		if err := k.handleMonitorFailure(state, now); err != nil {
			return err
		}
	} else {
		state.LastMonitorContact = now.Unix()
		state.AssignedRole = assigned.State
		if err := k.refreshOtherNodesAndHBA(ctx, state); err != nil {
			log.Warnw("failed to refresh peers/hba", "error", err)
		}
	}

	if err := k.reconcile(state, facts); err != nil {
		log.Warnw("reconcile failed, will retry next tick", "error", err)
	}

	if err := state.Save(k.statePath); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}

	recordMetrics(state, facts, k.tickInterval())

	if slog.IsDebug() {
		log.Debugw("tick complete", "state", spew.Sdump(state), "otherNodes", spew.Sdump(k.otherNodes))
	}

	return nil
}

func (k *Keeper) loadOrInitState() (*State, error) {
	state, err := LoadState(k.statePath)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = NewState()
	}
	return state, nil
}

func (k *Keeper) sampleLocalFacts(ctx context.Context) LocalFacts {
	var facts LocalFacts
	facts.PgIsRunning = k.dba.IsRunning()
	if facts.PgIsRunning {
		if sd, err := k.db.GetSystemData(); err == nil {
			facts.CurrentLSN = fmt.Sprintf("%d", sd.XLogPos)
		}
		if role, err := k.db.GetRole(); err == nil {
			facts.IsInRecovery = role == common.RoleStandby
		}
		if syncStandbys, err := k.db.GetSyncStandbys(); err == nil && len(syncStandbys) > 0 {
			facts.ReplicationSyncState = "sync"
		}
	}
	return facts
}

func (k *Keeper) checkFatalMismatches(state *State, facts LocalFacts) error {
	if !facts.PgIsRunning {
		return nil
	}
	sd, err := k.db.GetSystemData()
	if err != nil {
		return nil // sampled again next tick; not fatal on its own
	}
	return state.CheckSystemIdentifier(sd.SystemID)
}

func (k *Keeper) reportToMonitor(ctx context.Context, state *State, facts LocalFacts, now time.Time) (*monitor.AssignedState, error) {
	pgIsRunning := fsm.ReportPgIsRunning(fsm.DefaultRestartPolicy, state.CurrentRole, facts.PgIsRunning,
		unixOrZero(state.FirstFailureUnixTime), state.StartRetries, now)

	rctx, cancel := context.WithTimeout(ctx, k.cfg.RequestTimeout)
	defer cancel()

	var assigned *monitor.AssignedState
	err := monitor.WithRetry(rctx, monitor.MainLoop, func() error {
		a, err := k.monitor.NodeActive(rctx, k.cfg.Formation, state.CurrentNodeID, state.CurrentGroupID,
			state.CurrentRole, pgIsRunning, facts.CurrentLSN, facts.ReplicationSyncState)
		if err != nil {
			return err
		}
		assigned = a
		return nil
	})
	return assigned, err
}

// trackStartFailures updates the persisted first-failure timestamp and
// retry count that the pgIsRunning reporting policy escalates on (spec
// §4.2): both reset the moment the database is seen running again.
func trackStartFailures(state *State, facts LocalFacts, now time.Time) {
	if facts.PgIsRunning {
		state.FirstFailureUnixTime = 0
		state.StartRetries = 0
		return
	}
	if state.FirstFailureUnixTime == 0 {
		state.FirstFailureUnixTime = now.Unix()
	}
	state.StartRetries++
}

func unixOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// handleMonitorFailure implements the network-partition self-demotion
// policy from spec §4.2 when the monitor call itself failed.
func (k *Keeper) handleMonitorFailure(state *State, now time.Time) error {
	if state.CurrentRole != fsm.Primary {
		return nil
	}

	users, err := k.dba.ConnectedReplicationUsers()
	replicaConnected := err == nil && util.StringInSlice(users, k.cfg.ReplUsername)
	if replicaConnected {
		state.LastSecondaryContact = now.Unix()
		return nil
	}

	check := fsm.PartitionCheck{Timeout: k.cfg.NetworkPartitionTimeout}
	if check.ShouldSelfDemote(now, unixOrZero(state.LastMonitorContact), unixOrZero(state.LastSecondaryContact), false) {
		log.Warnw("network partition detected, self-demoting", "nodeId", state.CurrentNodeID)
		state.AssignedRole = fsm.DemoteTimeout
	}
	return nil
}

// refreshOtherNodesAndHBA fetches the current peer set and, if it
// changed, rebuilds and applies pg_hba.conf (spec §4.4's "HBA update on
// peer-set change"). The previous snapshot is deep-copied before being
// replaced so the change can be logged against a value that the new
// assignment does not alias.
func (k *Keeper) refreshOtherNodesAndHBA(ctx context.Context, state *State) error {
	rctx, cancel := context.WithTimeout(ctx, k.cfg.RequestTimeout)
	defer cancel()

	nodes, err := k.monitor.GetOtherNodes(rctx, state.CurrentNodeID)
	if err != nil {
		return err
	}

	// Snapshot the previous peer set before replacing it, so the change
	// can be logged from a value nothing else can mutate underneath us.
	previousCopy, err := copystructure.Copy(k.otherNodes)
	if err != nil {
		return fmt.Errorf("snapshot otherNodes: %w", err)
	}
	previous := previousCopy.([]monitor.NodeAddress)
	k.otherNodes = nodes

	peers := make([]postgresql.HBAPeer, 0, len(nodes))
	for _, n := range nodes {
		peers = append(peers, postgresql.HBAPeer{NodeID: n.NodeID, Host: n.Host})
	}
	previousPeers := make([]postgresql.HBAPeer, 0, len(previous))
	for _, n := range previous {
		previousPeers = append(previousPeers, postgresql.HBAPeer{NodeID: n.NodeID, Host: n.Host})
	}
	if postgresql.DiffPeers(previousPeers, peers) {
		log.Infow("peer set changed", "previousCount", len(previous), "currentCount", len(nodes))
	}

	rules := postgresql.HBARules{DBName: k.cfg.DBName, ReplUser: k.cfg.ReplUsername, AuthMethod: "trust"}
	if err := k.db.EnsureHBA(rules, peers); err != nil {
		return fmt.Errorf("ensure hba: %w", err)
	}

	return nil
}

// reconcile implements spec §4.3 steps 9-10: run the FSM transition if
// assignedRole differs from currentRole, otherwise ensureCurrentState as
// a keep-alive.
func (k *Keeper) reconcile(state *State, facts LocalFacts) error {
	peers := make([]fsm.PeerLSN, 0, len(k.otherNodes))
	otherIDs := make([]int64, 0, len(k.otherNodes))
	for _, n := range k.otherNodes {
		peers = append(peers, fsm.PeerLSN{NodeID: n.NodeID, LSN: n.LSN})
		otherIDs = append(otherIDs, n.NodeID)
	}
	primary := k.currentPrimaryInfo(state)

	if state.AssignedRole != state.CurrentRole {
		if fsm.ShouldEnsureCurrentState(state.CurrentRole, state.AssignedRole) {
			if err := fsm.EnsureCurrentState(k.dba, state.CurrentRole, otherIDs, peers, primary); err != nil {
				log.Warnw("ensureCurrentState before transition failed", "error", err)
			}
		}

		if err := fsm.Apply(k.dba, state.CurrentRole, state.AssignedRole, peers); err != nil {
			return fmt.Errorf("transition %s -> %s: %w", state.CurrentRole, state.AssignedRole, err)
		}

		log.Infow("state transition", "from", state.CurrentRole, "to", state.AssignedRole)
		state.CurrentRole = state.AssignedRole
		k.lastTransition = true
		return nil
	}

	return fsm.EnsureCurrentState(k.dba, state.CurrentRole, otherIDs, peers, primary)
}

// currentPrimaryInfo finds the primary among the last-fetched peer set
// and builds what EnsureFollowsPrimary needs to point this node's
// standby configuration at it (spec §4.4). A zero value is returned
// when no peer is currently reported as primary (e.g. mid-failover).
func (k *Keeper) currentPrimaryInfo(state *State) fsm.PrimaryInfo {
	for _, n := range k.otherNodes {
		if !n.IsPrimary {
			continue
		}
		connParams := postgresql.ConnParams{
			"host":   n.Host,
			"port":   fmt.Sprintf("%d", n.Port),
			"dbname": k.cfg.DBName,
			"user":   k.cfg.ReplUsername,
		}
		if k.cfg.ReplPassword != "" {
			connParams["password"] = k.cfg.ReplPassword
		}
		return fsm.PrimaryInfo{
			ConnString:      connParams.ConnString(),
			ApplicationName: k.cfg.NodeName,
			SlotName:        k.dba.SlotName(state.CurrentNodeID),
			SSLMode:         k.cfg.SSLMode,
		}
	}
	return fsm.PrimaryInfo{}
}

// reloadConfig re-reads configuration from disk and applies the field
// policy from spec §4.5, closing and rebuilding the monitor client when
// the monitor URI changed.
func (k *Keeper) reloadConfig() error {
	next, err := config.Load(k.configPath, nil)
	if err != nil {
		return err
	}

	merged, outcome := config.Reload(k.cfg, next)
	k.cfg = merged

	if len(outcome.Rejected) > 0 {
		log.Warnw("configuration fields rejected on reload", "fields", outcome.Rejected)
	}
	if len(outcome.Warned) > 0 {
		log.Warnw("configuration fields changed but require re-registration, keeping old value", "fields", outcome.Warned)
	}
	if len(outcome.Accepted) > 0 {
		log.Infow("configuration reloaded", "fields", outcome.Accepted)
	}

	if outcome.MonitorURIChanged {
		k.monitor = monitor.NewClient(k.cfg.MonitorURI, ExtensionVersion)
	}
	if outcome.IdentityChanged {
		ctx, cancel := context.WithTimeout(context.Background(), k.cfg.RequestTimeout)
		defer cancel()
		state, err := LoadState(k.statePath)
		if err == nil && state != nil {
			if err := k.monitor.UpdateNodeMetadata(ctx, state.CurrentNodeID, k.cfg.NodeName, k.cfg.NodeHost, k.cfg.NodePort); err != nil {
				log.Warnw("updateNodeMetadata after reload failed", "error", err)
			}
		}
	}
	if outcome.SSLChanged {
		log.Infow("ssl configuration changed, will reapply on next database settings write")
	}

	return nil
}
