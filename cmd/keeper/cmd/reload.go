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
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pgautoctl/keeper/internal/config"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "signal the running keeper for this pgdata to reload its configuration",
	RunE:  runReload,
}

func init() {
	config.BindFlags(reloadCmd.Flags())
}

// runReload reads the PID file next to pgdata and sends SIGHUP, the same
// mechanism `run` installs a handler for (spec §4.5).
func runReload(c *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, c.Flags())
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	data, err := os.ReadFile(pidPath(cfg.PGData))
	if err != nil {
		return fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("parse pid file: %w", err)
	}

	if err := syscall.Kill(pid, syscall.SIGHUP); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}
	log.Infow("reload signal sent", "pid", pid)
	return nil
}
