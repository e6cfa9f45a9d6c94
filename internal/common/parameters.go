// Copyright 2018 Sorint.lab
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

// PgUnixSocketDirectories is the unix_socket_directories value every
// postgres/pg_ctl invocation is forced to, so the keeper always knows
// where to find the socket regardless of what postgresql.conf says.
const PgUnixSocketDirectories = "/tmp"

// Parameters is a postgresql.conf-style parameter set: name to setting,
// as either read back from pg_settings or built up in memory before being
// written out by the postgresql package.
type Parameters map[string]string

// Diff returns the names present in either p or n whose values differ,
// including names added or removed entirely. Used to decide whether a
// configuration change requires a restart versus a reload.
func (p Parameters) Diff(n Parameters) []string {
	diff := []string{}
	for k, v := range p {
		if nv, ok := n[k]; !ok || nv != v {
			diff = append(diff, k)
		}
	}
	for k := range n {
		if _, ok := p[k]; !ok {
			diff = append(diff, k)
		}
	}
	return diff
}
