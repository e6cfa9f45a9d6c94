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

// Package cmd wires the keeper's cobra subcommands (init, run, reload,
// drop) to internal/config and internal/keeper, following the teacher's
// cmd/keeper/cmd/keeper.go layout.
package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	slog "github.com/pgautoctl/keeper/internal/log"
)

var log = slog.S()

var configFile string

var rootCmd = &cobra.Command{
	Use:   "pg_autoctl_keeper",
	Short: "keeper manages one node of a pg_auto_failover formation",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to the keeper's .ini configuration file")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(dropCmd)
}

// Execute runs the root command, exactly like the teacher's Execute in
// cmd/keeper/cmd/keeper.go, minus the STKEEPER env-prefix flag loading
// that internal/config now does itself via viper.
func Execute() error {
	return rootCmd.Execute()
}

// statePath and pidPath are both derived from pgdata, matching the C
// implementation's convention of keeping keeper-owned bookkeeping files
// next to (not inside) the data directory it manages.
func statePath(pgdata string) string {
	return filepath.Join(filepath.Dir(filepath.Clean(pgdata)), fmt.Sprintf("%s.state", filepath.Base(pgdata)))
}

func pidPath(pgdata string) string {
	return filepath.Join(filepath.Dir(filepath.Clean(pgdata)), fmt.Sprintf("%s.pid", filepath.Base(pgdata)))
}
