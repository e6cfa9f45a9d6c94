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

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgautoctl/keeper/internal/config"
	"github.com/pgautoctl/keeper/internal/fsm"
	"github.com/pgautoctl/keeper/internal/keeper"
	slog "github.com/pgautoctl/keeper/internal/log"
	"github.com/pgautoctl/keeper/internal/monitor"
	"github.com/pgautoctl/keeper/internal/postgresql"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "register this node with the monitor and create its local state",
	RunE:  runInit,
}

func init() {
	config.BindFlags(initCmd.Flags())
}

// runInit implements the one-time bootstrap described in spec §3's
// "first boot" note: initdb the local cluster if pgdata is empty,
// register with the monitor to obtain a nodeId/groupId/initial state,
// and persist that as the keeper's first on-disk State. It does not
// start the control loop; `run` is a separate step (spec §4.1).
func runInit(c *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, c.Flags())
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cfg.Debug {
		slog.SetDebug()
	}

	localConnParams := postgresql.ConnParams{
		"host":   "/tmp",
		"port":   fmt.Sprintf("%d", cfg.NodePort),
		"dbname": cfg.DBName,
		"user":   cfg.ReplUsername,
	}
	db := postgresql.NewManager(cfg.PGBin, cfg.PGData, localConnParams, localConnParams,
		"trust", "postgres", "", "trust", cfg.ReplUsername, cfg.ReplPassword, cfg.RequestTimeout)

	initialized, err := db.IsInitialized()
	if err != nil {
		return fmt.Errorf("check pgdata: %w", err)
	}
	if !initialized {
		log.Infow("initializing postgres data directory", "pgdata", cfg.PGData)
		if err := db.Init(&postgresql.InitConfig{DataChecksums: true}); err != nil {
			return fmt.Errorf("initdb: %w", err)
		}
	}

	systemID := ""
	if err := db.Start(); err == nil {
		if sd, err := db.GetSystemData(); err == nil {
			systemID = sd.SystemID
		}
	}

	mon := monitor.NewClient(cfg.MonitorURI, keeper.ExtensionVersion)

	// register_node can return "object in use" while another standby in
	// the same group is concurrently registering; retry with backoff for
	// up to the Init policy's budget rather than failing outright (spec
	// §4.1 end-to-end scenario 4).
	var assigned *monitor.AssignedState
	retryCtx, retryCancel := context.WithTimeout(context.Background(), monitor.Init.MaxTotalTime)
	defer retryCancel()

	err = monitor.WithRetry(retryCtx, monitor.Init, func() error {
		attemptCtx, cancel := context.WithTimeout(retryCtx, cfg.RequestTimeout)
		defer cancel()

		a, regErr := mon.RegisterNode(attemptCtx, cfg.Formation, cfg.NodeName, cfg.NodeHost, cfg.NodePort,
			systemID, cfg.DBName, cfg.GroupID, fsm.Init, "pgautoctl", cfg.CandidatePriority, cfg.ReplicationQuorum)
		if regErr != nil {
			return regErr
		}
		assigned = a
		return nil
	})
	if err != nil {
		return fmt.Errorf("register with monitor: %w", err)
	}

	state := keeper.NewState()
	if err := state.SetNodeIdentity(assigned.NodeID, assigned.GroupID); err != nil {
		return err
	}
	state.AssignedRole = assigned.State

	if err := state.Save(statePath(cfg.PGData)); err != nil {
		return fmt.Errorf("write initial state: %w", err)
	}

	log.Infow("node registered", "nodeId", assigned.NodeID, "groupId", assigned.GroupID, "state", assigned.State)
	return nil
}
