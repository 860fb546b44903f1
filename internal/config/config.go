// Package config loads the coordinator's runtime configuration,
// layering defaults, an optional YAML file, environment variables, and
// CLI flags via viper — the same layered-override shape the teacher's
// MktsConfig loader gives its settings, adapted from struct-tag YAML
// parsing onto viper's bind-and-unmarshal path.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is everything cmd/coordinator needs to stand up one node:
// its identity, the cluster backend to use, where the partition
// layout lives, and the ambient knobs (timeouts, resync period,
// admin HTTP bind address, log level).
type Config struct {
	Node string `mapstructure:"node"`

	Cluster ClusterConfig `mapstructure:"cluster"`

	PartitionConfigPath string `mapstructure:"partition_config_path"`

	OfferTimeout   time.Duration `mapstructure:"offer_timeout"`
	LockTimeout    time.Duration `mapstructure:"lock_timeout"`
	ResyncEvery    time.Duration `mapstructure:"resync_every"`
	ProbeInterval  time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	ProbeMaxFails  int           `mapstructure:"probe_max_fails"`

	AdminHTTPAddr string `mapstructure:"admin_http_addr"`

	LogLevel       string `mapstructure:"log_level"`
	LogDevelopment bool   `mapstructure:"log_development"`

	Chaos ChaosConfig `mapstructure:"chaos"`
}

// ClusterConfig picks and configures one of the three clusterprim
// adapters (memcluster/natscluster/boltmap).
type ClusterConfig struct {
	Backend  string            `mapstructure:"backend"` // "mem", "nats", or "bolt"
	NATSURL  string            `mapstructure:"nats_url"`
	BoltPath string            `mapstructure:"bolt_path"`
	Peers    map[string]string `mapstructure:"peers"` // nodeID -> admin HTTP base URL, probed for liveness
}

// ChaosConfig optionally wraps the cluster Queue with injected faults,
// for drill runs against the dispatcher/executor error paths.
type ChaosConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Latency    time.Duration `mapstructure:"latency"`
	OfferDrop  float64       `mapstructure:"offer_drop"`
	TakeDrop   float64       `mapstructure:"take_drop"`
	Corruption float64       `mapstructure:"corruption"`
}

// defaults matches the zero-config behavior a single-node dev run
// should have: in-process cluster primitives, short timeouts, resync
// on, admin surface on localhost.
func defaults(v *viper.Viper) {
	v.SetDefault("node", "node-1")
	v.SetDefault("cluster.backend", "mem")
	v.SetDefault("cluster.nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("cluster.bolt_path", "orientdb-cluster.db")
	v.SetDefault("partition_config_path", "")
	v.SetDefault("offer_timeout", 5*time.Second)
	v.SetDefault("lock_timeout", 10*time.Second)
	v.SetDefault("resync_every", 5*time.Minute)
	v.SetDefault("probe_interval", 3*time.Second)
	v.SetDefault("probe_timeout", 2*time.Second)
	v.SetDefault("probe_max_fails", 3)
	v.SetDefault("admin_http_addr", "127.0.0.1:8088")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_development", false)
	v.SetDefault("chaos.enabled", false)
	v.SetDefault("chaos.latency", 20*time.Millisecond)
	v.SetDefault("chaos.offer_drop", 0.02)
	v.SetDefault("chaos.take_drop", 0.02)
	v.SetDefault("chaos.corruption", 0.01)
}

// Load builds a Config from defaults, an optional file at path (viper
// infers its format from the extension; skipped entirely if path is
// empty), ORIENTDB_-prefixed environment variables, and flags, in that
// increasing order of precedence. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("orientdb")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.Node == "" {
		return Config{}, fmt.Errorf("config: node identity must not be empty")
	}
	return cfg, nil
}
