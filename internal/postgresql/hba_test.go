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
	"reflect"
	"testing"
)

func TestHBARulesBuildIsOrderedByNodeID(t *testing.T) {
	rules := HBARules{DBName: "pgautoctl", ReplUser: "repl", AuthMethod: "trust"}
	peers := []HBAPeer{
		{NodeID: 3, Host: "10.0.0.3"},
		{NodeID: 1, Host: "10.0.0.1"},
	}

	lines := rules.Build(peers)

	want := []string{
		"local all all trust",
		"host pgautoctl all 10.0.0.1/32 trust",
		"host replication repl 10.0.0.1/32 trust",
		"host pgautoctl all 10.0.0.3/32 trust",
		"host replication repl 10.0.0.3/32 trust",
	}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("got %v, want %v", lines, want)
	}
}

func TestHBARulesBuildIsDeterministicAcrossCalls(t *testing.T) {
	rules := HBARules{DBName: "pgautoctl", ReplUser: "repl", AuthMethod: "trust"}
	peers := []HBAPeer{{NodeID: 2, Host: "host-b"}, {NodeID: 1, Host: "host-a"}}

	first := rules.Build(peers)
	second := rules.Build(peers)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("Build must be deterministic for the same input: %v != %v", first, second)
	}
}

func TestHostAddressFormsIPv4GetsSlash32(t *testing.T) {
	got := hostAddressForms("192.168.1.5")
	want := []string{"192.168.1.5/32"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestHostAddressFormsIPv6GetsSlash128(t *testing.T) {
	got := hostAddressForms("::1")
	want := []string{"::1/128"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestHostAddressFormsHostnamePassesThrough(t *testing.T) {
	got := hostAddressForms("node-b.internal")
	want := []string{"node-b.internal"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestDiffPeersIsIdempotent(t *testing.T) {
	peers := []HBAPeer{{NodeID: 1, Host: "a"}, {NodeID: 2, Host: "b"}}
	if DiffPeers(peers, peers) {
		t.Fatal("diff(A, A) must be empty")
	}
}

func TestDiffPeersDetectsNewPeer(t *testing.T) {
	previous := []HBAPeer{{NodeID: 1, Host: "a"}}
	current := []HBAPeer{{NodeID: 1, Host: "a"}, {NodeID: 2, Host: "b"}}
	if !DiffPeers(previous, current) {
		t.Fatal("expected a newly added peer to register as a change")
	}
}

func TestDiffPeersDetectsHostChange(t *testing.T) {
	previous := []HBAPeer{{NodeID: 1, Host: "10.0.0.1"}}
	current := []HBAPeer{{NodeID: 1, Host: "10.0.0.99"}}
	if !DiffPeers(previous, current) {
		t.Fatal("expected a changed host to register as a change")
	}
}

func TestDiffPeersIgnoresOrder(t *testing.T) {
	previous := []HBAPeer{{NodeID: 1, Host: "a"}, {NodeID: 2, Host: "b"}}
	current := []HBAPeer{{NodeID: 2, Host: "b"}, {NodeID: 1, Host: "a"}}
	if DiffPeers(previous, current) {
		t.Fatal("peer order must not affect the diff")
	}
}
