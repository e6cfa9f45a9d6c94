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
	"fmt"
	"net"
	"sort"
)

// HBAPeer is the subset of a peer's identity the HBA builder needs: its
// nodeId (for nodeId-ordered merge) and the host other keepers see it on.
type HBAPeer struct {
	NodeID int64
	Host   string
}

// HBARules is a host-based-access rule set, built fresh every time
// otherNodes is refreshed and diffed against the previous snapshot
// (spec §4.4). Two authentication rules are generated per peer: one for
// regular connections to dbname, one for replication connections by
// replUser. EnsureHBA never drops a peer once added — HBA only grows, so a
// node that later drops out of the formation still keeps the access it
// already had (spec's "removals are not pruned from HBA" edge case); only
// a peer whose host changes has its old host's rules replaced.
type HBARules struct {
	DBName     string
	ReplUser   string
	AuthMethod string
}

// Build renders the full pg_hba.conf body for peers, in nodeId order so
// the output is deterministic and diffable across calls with the same
// peer set.
func (h HBARules) Build(peers []HBAPeer) []string {
	sorted := make([]HBAPeer, len(peers))
	copy(sorted, peers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].NodeID < sorted[j].NodeID })

	lines := []string{
		"local all all trust",
	}
	for _, p := range sorted {
		lines = append(lines, h.rulesForHost(p.Host)...)
	}
	return lines
}

func (h HBARules) rulesForHost(host string) []string {
	addrs := hostAddressForms(host)
	lines := make([]string, 0, 2*len(addrs))
	for _, addr := range addrs {
		lines = append(lines, fmt.Sprintf("host %s all %s %s", h.DBName, addr, h.AuthMethod))
		lines = append(lines, fmt.Sprintf("host replication %s %s %s", h.ReplUser, addr, h.AuthMethod))
	}
	return lines
}

// hostAddressForms returns the CIDR-qualified addresses to match host.
// A literal IP address is emitted as a /32 (IPv4) or /128 (IPv6) host
// rule; a hostname is passed through unchanged, since pg_hba.conf also
// accepts bare hostnames and resolves them at connection time.
func hostAddressForms(host string) []string {
	ip := net.ParseIP(host)
	if ip == nil {
		return []string{host}
	}
	if ip4 := ip.To4(); ip4 != nil {
		return []string{ip4.String() + "/32"}
	}
	return []string{ip.String() + "/128"}
}

// DiffPeers reports whether the peer set changed (new, missing, or
// changed-host peer) between previous and current, which is what determines whether
// a rebuild + reload is needed at all (spec §4.4, §8 property 6:
// diff(A, A) = ∅).
func DiffPeers(previous, current []HBAPeer) bool {
	if len(previous) != len(current) {
		return true
	}
	prevByID := make(map[int64]string, len(previous))
	for _, p := range previous {
		prevByID[p.NodeID] = p.Host
	}
	for _, c := range current {
		if h, ok := prevByID[c.NodeID]; !ok || h != c.Host {
			return true
		}
	}
	return false
}

// EnsureHBA merges peers into the peers already covered (a peer missing
// from peers keeps its rules; a peer whose host changed has its rules
// rewritten for the new host) and rebuilds and writes pg_hba.conf when
// that merge adds or changes a peer, reloading the running database only if it is
// currently up; otherwise the new rules simply take effect at next
// start (spec §4.4).
func (p *Manager) EnsureHBA(rules HBARules, peers []HBAPeer) error {
	merged := append([]HBAPeer(nil), p.curHBAPeers()...)
	for _, c := range peers {
		found := false
		for i := range merged {
			if merged[i].NodeID == c.NodeID {
				merged[i].Host = c.Host
				found = true
			}
		}
		if !found {
			merged = append(merged, c)
		}
	}
	if !DiffPeers(p.curHBAPeers(), merged) {
		return nil
	}

	p.SetHba(rules.Build(merged))
	if err := p.writePgHba(); err != nil {
		return fmt.Errorf("write pg_hba.conf: %w", err)
	}
	p.setHbaPeers(merged)

	if started, err := p.IsStarted(); err == nil && started {
		if err := p.Reload(); err != nil {
			return fmt.Errorf("reload after hba update: %w", err)
		}
	}
	return nil
}
