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
	"strings"
	"testing"
)

func TestStandbyConfigRecoveryParametersIncludesSlotWhenSet(t *testing.T) {
	cfg := StandbyConfig{
		PrimaryConnString: "host=10.0.0.1 port=5432",
		SlotName:          "pgautoctl_2",
	}
	params := cfg.recoveryParameters()
	if params["primary_slot_name"] != "pgautoctl_2" {
		t.Fatalf("expected primary_slot_name to be set, got %q", params["primary_slot_name"])
	}
}

func TestStandbyConfigRecoveryParametersOmitsSlotWhenEmpty(t *testing.T) {
	cfg := StandbyConfig{PrimaryConnString: "host=10.0.0.1 port=5432"}
	params := cfg.recoveryParameters()
	if _, ok := params["primary_slot_name"]; ok {
		t.Fatal("expected primary_slot_name to be absent when SlotName is empty")
	}
}

func TestStandbyConfigRecoveryParametersAppendsSSLModeAndApplicationName(t *testing.T) {
	cfg := StandbyConfig{
		PrimaryConnString: "host=10.0.0.1 port=5432",
		ApplicationName:   "node_2",
		SSLMode:           "require",
	}
	conninfo := cfg.recoveryParameters()["primary_conninfo"]
	if !strings.Contains(conninfo, "sslmode=require") {
		t.Fatalf("expected sslmode to be appended, got %q", conninfo)
	}
	if !strings.Contains(conninfo, "application_name=node_2") {
		t.Fatalf("expected application_name to be appended, got %q", conninfo)
	}
}

func TestStandbyConfigRenderIsDeterministic(t *testing.T) {
	cfg := StandbyConfig{
		PrimaryConnString: "host=10.0.0.1 port=5432",
		ApplicationName:   "node_2",
		SlotName:          "pgautoctl_2",
		SSLMode:           "require",
	}
	first := cfg.render()
	second := cfg.render()
	if first != second {
		t.Fatalf("render must be deterministic: %q != %q", first, second)
	}
}

func TestStandbyConfigRenderChangesWithSlotName(t *testing.T) {
	base := StandbyConfig{PrimaryConnString: "host=10.0.0.1 port=5432", SlotName: "pgautoctl_2"}
	changed := base
	changed.SlotName = "pgautoctl_3"

	if base.render() == changed.render() {
		t.Fatal("expected render to change when SlotName changes")
	}
}

func TestStandbyConfigRenderIsSortedByParameterName(t *testing.T) {
	cfg := StandbyConfig{PrimaryConnString: "host=10.0.0.1 port=5432", SlotName: "pgautoctl_2"}
	rendered := cfg.render()

	connIdx := strings.Index(rendered, "primary_conninfo")
	slotIdx := strings.Index(rendered, "primary_slot_name")
	if connIdx < 0 || slotIdx < 0 {
		t.Fatalf("expected both parameters present, got %q", rendered)
	}
	if connIdx > slotIdx {
		t.Fatalf("expected primary_conninfo before primary_slot_name, got %q", rendered)
	}
}
