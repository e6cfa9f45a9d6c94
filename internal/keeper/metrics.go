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
	"time"

	"github.com/pgautoctl/keeper/internal/fsm"
	"github.com/prometheus/client_golang/prometheus"
)

var allStates = []fsm.NodeState{
	fsm.Init, fsm.Single, fsm.WaitPrimary, fsm.Primary, fsm.ApplySettings,
	fsm.PrepPromotion, fsm.StopReplication, fsm.WaitStandby, fsm.CatchingUp,
	fsm.Secondary, fsm.Maintenance, fsm.PrepareMaintenance, fsm.WaitMaintenance,
	fsm.Draining, fsm.DemoteTimeout, fsm.Demoted, fsm.ReportLSN,
	fsm.FastForward, fsm.Dropped,
}

var (
	assignedRoleGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pgautoctl_keeper_assigned_role",
			Help: "Node state last assigned by the monitor",
		},
		[]string{"state"},
	)
	currentRoleGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pgautoctl_keeper_current_role",
			Help: "Keeper current local node state",
		},
		[]string{"state"},
	)
	lastMonitorContactSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgautoctl_keeper_last_monitor_contact_seconds",
			Help: "Last time the monitor was successfully contacted, as unix seconds",
		},
	)
	lastSecondaryContactSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgautoctl_keeper_last_secondary_contact_seconds",
			Help: "Last time a connected replica was observed locally, as unix seconds",
		},
	)
	pgIsRunningGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgautoctl_keeper_pg_is_running",
			Help: "Set to 1 when the local database is up",
		},
	)
	sleepIntervalGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgautoctl_keeper_sleep_interval_seconds",
			Help: "Seconds to sleep between control loop iterations",
		},
	)
)

// setState is a helper that controls a state-labeled gauge vector by
// setting only one label value to 1 at any one time.
func setState(gv *prometheus.GaugeVec, s fsm.NodeState) {
	for _, st := range allStates {
		gv.WithLabelValues(st.String()).Set(0)
	}
	if s != fsm.NoState {
		gv.WithLabelValues(s.String()).Set(1)
	}
}

// recordMetrics updates every gauge from the current tick's state and
// facts, called once per iteration at the end of tick().
func recordMetrics(state *State, facts LocalFacts, sleepInterval time.Duration) {
	setState(assignedRoleGauge, state.AssignedRole)
	setState(currentRoleGauge, state.CurrentRole)

	if state.LastMonitorContact > 0 {
		lastMonitorContactSeconds.Set(float64(state.LastMonitorContact))
	}
	if state.LastSecondaryContact > 0 {
		lastSecondaryContactSeconds.Set(float64(state.LastSecondaryContact))
	}

	if facts.PgIsRunning {
		pgIsRunningGauge.Set(1)
	} else {
		pgIsRunningGauge.Set(0)
	}

	sleepIntervalGauge.Set(sleepInterval.Seconds())
}

func init() {
	prometheus.MustRegister(assignedRoleGauge)
	prometheus.MustRegister(currentRoleGauge)
	prometheus.MustRegister(lastMonitorContactSeconds)
	prometheus.MustRegister(lastSecondaryContactSeconds)
	prometheus.MustRegister(pgIsRunningGauge)
	prometheus.MustRegister(sleepIntervalGauge)
	setState(assignedRoleGauge, fsm.NoState)
	setState(currentRoleGauge, fsm.NoState)
}
