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
	"os"

	"github.com/spf13/cobra"

	"github.com/pgautoctl/keeper/internal/config"
	"github.com/pgautoctl/keeper/internal/keeper"
	"github.com/pgautoctl/keeper/internal/monitor"
)

var dropCmd = &cobra.Command{
	Use:   "drop",
	Short: "ask the monitor to forget this node, then remove its local state file",
	RunE:  runDrop,
}

func init() {
	config.BindFlags(dropCmd.Flags())
}

// runDrop implements the drop-node lifecycle operation (spec §3): the
// monitor is told to forget this node's address first, and only once that
// succeeds is the local state file unlinked. A keeper must not be running
// against this pgdata while this runs; `reload`'s PID-file convention is
// what stop/drop operator tooling would use to check that first.
func runDrop(c *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, c.Flags())
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	mon := monitor.NewClient(cfg.MonitorURI, keeper.ExtensionVersion)

	retryCtx, retryCancel := context.WithTimeout(context.Background(), monitor.MonitorInteractive.MaxTotalTime)
	defer retryCancel()

	err = monitor.WithRetry(retryCtx, monitor.MonitorInteractive, func() error {
		attemptCtx, cancel := context.WithTimeout(retryCtx, cfg.RequestTimeout)
		defer cancel()
		return mon.RemoveNode(attemptCtx, cfg.NodeHost, cfg.NodePort)
	})
	if err != nil {
		return fmt.Errorf("remove node from monitor: %w", err)
	}

	path := statePath(cfg.PGData)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state file: %w", err)
	}

	log.Infow("node dropped", "host", cfg.NodeHost, "port", cfg.NodePort, "statePath", path)
	return nil
}
