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

package common

// Role is the physical role Postgres itself reports for the local
// instance (standby.signal / recovery.conf present or not), independent
// of the FSM's assigned role: a PRIMARY that has just been told to
// PREP_PROMOTION is still physically a Role Primary until pg_ctl promote
// actually runs.
type Role string

const (
	RoleUndefined Role = "undefined"
	RolePrimary   Role = "primary"
	RoleStandby   Role = "standby"
)
