package config_test

import (
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/pgautoctl/keeper/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		PGData:     "/var/lib/pgsql/data",
		MonitorURI: "postgres://monitor:5432/pg_auto_failover",
		NodeName:   "node_a",
		NodeHost:   "10.0.0.1",
		NodePort:   5432,
		Formation:  "default",
	}
}

func TestLoadRequiresMonitorURIAndPGData(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.BindFlags(flags)
	if err := flags.Set("pgdata", "/var/lib/pgsql/data"); err != nil {
		t.Fatal(err)
	}

	if _, err := config.Load("", flags); err == nil {
		t.Fatal("expected Load to fail without a monitor URI")
	}
}

func TestLoadGeneratesANodeNameWhenUnset(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.BindFlags(flags)
	if err := flags.Set("pgdata", "/var/lib/pgsql/data"); err != nil {
		t.Fatal(err)
	}
	if err := flags.Set("monitor", "postgres://monitor:5432/pg_auto_failover"); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load("", flags)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.NodeName == "" {
		t.Fatal("expected a generated node name")
	}
}

func TestLoadRejectsOutOfRangePort(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.BindFlags(flags)
	if err := flags.Set("pgdata", "/var/lib/pgsql/data"); err != nil {
		t.Fatal(err)
	}
	if err := flags.Set("monitor", "postgres://monitor:5432/pg_auto_failover"); err != nil {
		t.Fatal(err)
	}
	if err := flags.Set("port", "99999"); err != nil {
		t.Fatal(err)
	}

	if _, err := config.Load("", flags); err == nil {
		t.Fatal("expected Load to reject an out-of-range port")
	}
}

func TestReloadRejectsPGDataChange(t *testing.T) {
	cur := baseConfig()
	next := baseConfig()
	next.PGData = "/var/lib/pgsql/other"

	merged, outcome := config.Reload(cur, next)

	if merged.PGData != cur.PGData {
		t.Fatalf("pgdata must never change via reload, got %q", merged.PGData)
	}
	if len(outcome.Rejected) != 1 || outcome.Rejected[0] != "pgdata" {
		t.Fatalf("expected pgdata to be rejected, got %v", outcome.Rejected)
	}
}

func TestReloadWarnsOnFormationChangeButKeepsOldValue(t *testing.T) {
	cur := baseConfig()
	next := baseConfig()
	next.Formation = "other"

	merged, outcome := config.Reload(cur, next)

	if merged.Formation != cur.Formation {
		t.Fatalf("formation must be kept on reload, got %q", merged.Formation)
	}
	if len(outcome.Warned) != 1 || outcome.Warned[0] != "formation" {
		t.Fatalf("expected formation to be warned, got %v", outcome.Warned)
	}
}

func TestReloadAcceptsMonitorURIChange(t *testing.T) {
	cur := baseConfig()
	next := baseConfig()
	next.MonitorURI = "postgres://other-monitor:5432/pg_auto_failover"

	merged, outcome := config.Reload(cur, next)

	if merged.MonitorURI != next.MonitorURI {
		t.Fatal("expected the new monitor URI to be applied")
	}
	if !outcome.MonitorURIChanged {
		t.Fatal("expected MonitorURIChanged to be set")
	}
}

func TestReloadAcceptsIdentityChangeAsAGroup(t *testing.T) {
	cur := baseConfig()
	next := baseConfig()
	next.NodeName = "node_b"

	merged, outcome := config.Reload(cur, next)

	if merged.NodeName != "node_b" {
		t.Fatal("expected the new node name to be applied")
	}
	if !outcome.IdentityChanged {
		t.Fatal("expected IdentityChanged to be set")
	}
	found := false
	for _, f := range outcome.Accepted {
		if f == "name" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected name to be listed as accepted, got %v", outcome.Accepted)
	}
}

func TestReloadAcceptsTimeoutsHot(t *testing.T) {
	cur := baseConfig()
	cur.RequestTimeout = 5 * time.Second
	next := baseConfig()
	next.RequestTimeout = 10 * time.Second

	merged, outcome := config.Reload(cur, next)

	if merged.RequestTimeout != 10*time.Second {
		t.Fatal("expected request-timeout to be applied")
	}
	found := false
	for _, f := range outcome.Accepted {
		if f == "request-timeout" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected request-timeout to be listed as accepted, got %v", outcome.Accepted)
	}
}

func TestReloadGroupsSSLFieldsTogether(t *testing.T) {
	cur := baseConfig()
	next := baseConfig()
	next.SSLMode = "require"

	merged, outcome := config.Reload(cur, next)

	if merged.SSLMode != "require" {
		t.Fatal("expected SSLMode to be applied")
	}
	if !outcome.SSLChanged {
		t.Fatal("expected SSLChanged to be set")
	}
}

func TestReloadIsANoopWhenNothingChanged(t *testing.T) {
	cur := baseConfig()
	next := baseConfig()

	merged, outcome := config.Reload(cur, next)

	if *merged != *cur {
		t.Fatal("expected an unchanged config to round-trip identically")
	}
	if len(outcome.Accepted) != 0 || len(outcome.Rejected) != 0 || len(outcome.Warned) != 0 {
		t.Fatalf("expected no field changes to be reported, got %+v", outcome)
	}
}
