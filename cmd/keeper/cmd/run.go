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
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/pgautoctl/keeper/internal/config"
	"github.com/pgautoctl/keeper/internal/keeper"
	slog "github.com/pgautoctl/keeper/internal/log"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run the control loop for this node",
	RunE:  runRun,
}

func init() {
	config.BindFlags(runCmd.Flags())
}

// runRun drives Keeper.Run until a signal or a fatal condition stops it,
// mirroring the teacher's cmd/keeper/cmd/keeper.go's signal wiring
// (SIGINT/SIGTERM cancel the context) extended with SIGHUP for
// configuration reload (spec §4.5), which the teacher's etcd-based
// keeper never needed since it watched etcd for changes instead.
func runRun(c *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, c.Flags())
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cfg.Debug {
		slog.SetDebug()
	}

	k := keeper.New(cfg, configFile, statePath(cfg.PGData), pidPath(cfg.PGData))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for s := range sigs {
			switch s {
			case syscall.SIGHUP:
				log.Infow("received SIGHUP, will reload configuration")
				k.RequestReload()
			default:
				log.Infow("received signal, stopping", "signal", s)
				k.RequestStop()
				cancel()
			}
		}
	}()

	if cfg.MetricsListenAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.MetricsListenAddress, mux); err != nil {
				log.Errorw("metrics http server exited", "error", err)
			}
		}()
	}

	if err := k.Run(ctx); err != nil && err != context.Canceled {
		return fmt.Errorf("control loop exited: %w", err)
	}
	return nil
}
