// Package config loads and reloads the keeper's on-disk configuration.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pgautoctl/keeper/internal/common"
)

// Config is the full set of knobs the keeper needs: where the database
// lives, how to reach the monitor, this node's identity, and the
// timeouts/retry policy parameters. Reload's doc comment lists the fields
// a reload may change; every other field keeps its loaded value.
type Config struct {
	PGData string `mapstructure:"pgdata"`
	PGBin  string `mapstructure:"pgbin"`

	Formation string `mapstructure:"formation"`
	GroupID   int64  `mapstructure:"group-id"`

	MonitorURI string `mapstructure:"monitor"`

	NodeName string `mapstructure:"name"`
	NodeHost string `mapstructure:"hostname"`
	NodePort int    `mapstructure:"port"`

	DBName         string `mapstructure:"dbname"`
	ReplUsername   string `mapstructure:"repl-username"`
	ReplPassword   string `mapstructure:"repl-password"`
	ReplSlotPrefix string `mapstructure:"repl-slot-prefix"`

	MaximumBackupRate string `mapstructure:"maximum-backup-rate"`
	BackupDirectory   string `mapstructure:"backup-directory"`

	SSLMode     string `mapstructure:"ssl-mode"`
	SSLCAFile   string `mapstructure:"ssl-ca-file"`
	SSLCertFile string `mapstructure:"ssl-cert-file"`
	SSLKeyFile  string `mapstructure:"ssl-key-file"`

	NetworkPartitionTimeout time.Duration `mapstructure:"network-partition-timeout"`
	RequestTimeout          time.Duration `mapstructure:"request-timeout"`
	LoopSleepInterval       time.Duration `mapstructure:"loop-sleep-interval"`

	CandidatePriority  int  `mapstructure:"candidate-priority"`
	ReplicationQuorum  bool `mapstructure:"replication-quorum"`

	MetricsListenAddress string `mapstructure:"metrics-listen-address"`

	Debug bool `mapstructure:"debug"`
}

// BindFlags registers pflag flags for every field that the teacher's
// cmd/common.go bound directly on the command, so `keeper run --pgdata
// ...` continues to work the same way; fields omitted here (SSL, replica
// quorum) are file/env-only, matching the original CLI's coverage.
func BindFlags(flags *pflag.FlagSet) {
	flags.String("pgdata", "", "postgres data directory")
	flags.String("pgbin", "", "postgres binaries directory")
	flags.String("formation", "default", "formation name")
	flags.Int64("group-id", 0, "replication group id")
	flags.String("monitor", "", "monitor connection string")
	flags.String("name", "", "node name")
	flags.String("hostname", "", "node hostname")
	flags.Int("port", 5432, "postgres port")
	flags.String("dbname", "postgres", "application database name")
	flags.String("metrics-listen-address", "", "address to serve Prometheus metrics on, empty disables")
	flags.Bool("debug", false, "enable debug logging")
}

// Load reads configPath (an .ini file, matching pg_autoctl's own config
// format) layered under flags and PGAUTOCTL_-prefixed environment
// variables, in viper's usual precedence order (flag > env > file >
// default).
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("ini")
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	v.SetEnvPrefix("PGAUTOCTL")
	v.AutomaticEnv()
	// Debug logging is also switched on by PG_AUTOCTL_DEBUG, pg_autoctl's
	// own spelling, next to the prefixed PGAUTOCTL_DEBUG.
	if err := v.BindEnv("debug", "PGAUTOCTL_DEBUG", "PG_AUTOCTL_DEBUG"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	setDefaultsOn(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// A node name is only ever used for display and HBA/log correlation;
	// an operator who doesn't care picks an unreadable but unique one for
	// free rather than being forced to invent something.
	if cfg.NodeName == "" {
		cfg.NodeName = "node_" + common.UID()[:8]
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaultsOn(v *viper.Viper) {
	v.SetDefault("dbname", "postgres")
	v.SetDefault("port", 5432)
	v.SetDefault("formation", "default")
	v.SetDefault("repl-username", "pgautoctl_repl")
	v.SetDefault("repl-slot-prefix", "pgautoctl_")
	v.SetDefault("ssl-mode", "prefer")
	v.SetDefault("network-partition-timeout", 20*time.Second)
	v.SetDefault("request-timeout", 5*time.Second)
	v.SetDefault("loop-sleep-interval", 5*time.Second)
	v.SetDefault("candidate-priority", 100)
	v.SetDefault("replication-quorum", true)
}

func (c *Config) validate() error {
	if c.PGData == "" {
		return fmt.Errorf("pgdata is required")
	}
	if c.MonitorURI == "" {
		return fmt.Errorf("monitor connection string is required")
	}
	if c.NodePort < 1 || c.NodePort > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.MaximumBackupRate != "" {
		if _, err := common.ParseBytesize(c.MaximumBackupRate); err != nil {
			return fmt.Errorf("maximum-backup-rate: %w", err)
		}
	}
	if c.SSLCertFile != "" || c.SSLKeyFile != "" || c.SSLCAFile != "" {
		// NewTLSConfig is not used to dial anything here: lib/pq builds its
		// own TLS context from the DSN's sslcert/sslkey/sslrootcert
		// parameters. Calling it here is purely validation, so a malformed
		// cert/key pair fails at config load instead of at first connect.
		if _, err := common.NewTLSConfig(c.SSLCertFile, c.SSLKeyFile, c.SSLCAFile, false); err != nil {
			return fmt.Errorf("invalid ssl certificate configuration: %w", err)
		}
	}
	return nil
}

// ReloadOutcome reports, per field, what Reload actually did with the
// newly loaded configuration, so the control loop can log a single
// summary line and decide whether updateNodeMetadata is owed to the
// monitor.
type ReloadOutcome struct {
	Accepted           []string
	Rejected           []string
	Warned             []string
	MonitorURIChanged  bool
	IdentityChanged    bool
	SSLChanged         bool
}

// Reload applies next on top of cur per spec §4.5's per-field policy:
//   - pgdata: must not change — rejected outright, old value kept.
//   - formation: warn and keep old (changing it needs re-registration).
//   - monitor URI: accepted; caller must reinitialize the monitor client.
//   - name/hostname/port: accepted; caller owes the monitor an
//     updateNodeMetadata RPC.
//   - replication password, maximum backup rate, backup directory, all
//     timeouts: accepted hot.
//   - SSL options: accepted hot; caller must reapply database settings
//     and, on a standby, rewrite the standby configuration.
//
// Reload never mutates next; it returns a new *Config built from cur with
// only the accepted fields replaced, plus the outcome describing what
// happened, so a rejected field is guaranteed to still be cur's value.
func Reload(cur, next *Config) (*Config, ReloadOutcome) {
	var outcome ReloadOutcome
	merged := *cur

	if next.PGData != cur.PGData {
		outcome.Rejected = append(outcome.Rejected, "pgdata")
	}

	if next.Formation != cur.Formation {
		outcome.Warned = append(outcome.Warned, "formation")
	}

	if next.MonitorURI != cur.MonitorURI {
		merged.MonitorURI = next.MonitorURI
		outcome.Accepted = append(outcome.Accepted, "monitor")
		outcome.MonitorURIChanged = true
	}

	if next.NodeName != cur.NodeName || next.NodeHost != cur.NodeHost || next.NodePort != cur.NodePort {
		merged.NodeName = next.NodeName
		merged.NodeHost = next.NodeHost
		merged.NodePort = next.NodePort
		outcome.Accepted = append(outcome.Accepted, "name", "hostname", "port")
		outcome.IdentityChanged = true
	}

	if next.ReplPassword != cur.ReplPassword {
		merged.ReplPassword = next.ReplPassword
		outcome.Accepted = append(outcome.Accepted, "repl-password")
	}
	if next.MaximumBackupRate != cur.MaximumBackupRate {
		merged.MaximumBackupRate = next.MaximumBackupRate
		outcome.Accepted = append(outcome.Accepted, "maximum-backup-rate")
	}
	if next.BackupDirectory != cur.BackupDirectory {
		merged.BackupDirectory = next.BackupDirectory
		outcome.Accepted = append(outcome.Accepted, "backup-directory")
	}
	if next.NetworkPartitionTimeout != cur.NetworkPartitionTimeout {
		merged.NetworkPartitionTimeout = next.NetworkPartitionTimeout
		outcome.Accepted = append(outcome.Accepted, "network-partition-timeout")
	}
	if next.RequestTimeout != cur.RequestTimeout {
		merged.RequestTimeout = next.RequestTimeout
		outcome.Accepted = append(outcome.Accepted, "request-timeout")
	}
	if next.LoopSleepInterval != cur.LoopSleepInterval {
		merged.LoopSleepInterval = next.LoopSleepInterval
		outcome.Accepted = append(outcome.Accepted, "loop-sleep-interval")
	}

	if next.SSLMode != cur.SSLMode || next.SSLCAFile != cur.SSLCAFile ||
		next.SSLCertFile != cur.SSLCertFile || next.SSLKeyFile != cur.SSLKeyFile {
		merged.SSLMode = next.SSLMode
		merged.SSLCAFile = next.SSLCAFile
		merged.SSLCertFile = next.SSLCertFile
		merged.SSLKeyFile = next.SSLKeyFile
		outcome.Accepted = append(outcome.Accepted, "ssl")
		outcome.SSLChanged = true
	}

	return &merged, outcome
}
