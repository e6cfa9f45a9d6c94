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
	"fmt"
	"sort"
	"strings"

	"github.com/pgautoctl/keeper/internal/common"
)

// StandbyConfig is everything EnsureStandbyConfig needs to know to follow
// a primary: its connection string, the replication slot this node
// consumes on it, and the SSL mode to connect with. Rebuilt every tick
// from the monitor's current primary report (spec §4.4).
type StandbyConfig struct {
	PrimaryConnString string
	ApplicationName   string
	SlotName          string
	SSLMode           string
}

// render produces a deterministic textual form of cfg so two configs can
// be compared byte-for-byte without touching disk; the same text is what
// ends up in the recovery parameters written to postgresql.conf /
// recovery.conf by writeConfs.
func (c StandbyConfig) render() string {
	params := c.recoveryParameters()
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s = '%s'\n", k, params[k])
	}
	return b.String()
}

func (c StandbyConfig) recoveryParameters() common.Parameters {
	conninfo := c.PrimaryConnString
	if c.SSLMode != "" {
		conninfo = conninfo + " sslmode=" + c.SSLMode
	}
	if c.ApplicationName != "" {
		conninfo = conninfo + " application_name=" + c.ApplicationName
	}

	params := common.Parameters{
		"primary_conninfo": conninfo,
	}
	if c.SlotName != "" {
		params["primary_slot_name"] = c.SlotName
	}
	return params
}

// EnsureStandbyConfig rewrites the standby configuration when cfg differs
// from what was last applied, restarting the database only if the
// content actually changed and only after a checkpoint (spec §4.4).
// Callers only invoke this while the FSM is in CATCHINGUP, SECONDARY, or
// MAINTENANCE.
func (p *Manager) EnsureStandbyConfig(ctx context.Context, cfg StandbyConfig) (bool, error) {
	content := cfg.render()
	if content == p.curStandbyConf {
		return false, nil
	}

	ro := NewRecoveryOptions()
	ro.RecoveryMode = RecoveryModeStandby
	for k, v := range cfg.recoveryParameters() {
		ro.RecoveryParameters[k] = v
	}
	p.SetRecoveryOptions(ro)
	p.UpdateCurRecoveryOptions()

	if err := p.writeConfs(false); err != nil {
		return false, fmt.Errorf("write standby configuration: %w", err)
	}

	running, err := p.IsStarted()
	if err != nil {
		return false, fmt.Errorf("check running state before standby restart: %w", err)
	}
	if running {
		if err := (&DatabaseAdapter{Manager: p}).Checkpoint(ctx); err != nil {
			return false, fmt.Errorf("checkpoint before standby restart: %w", err)
		}
		if err := p.Restart(true); err != nil {
			return false, fmt.Errorf("restart after standby config change: %w", err)
		}
	}

	p.curStandbyConf = content
	return true, nil
}
