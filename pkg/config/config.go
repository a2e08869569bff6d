package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Cluster holds the settings shared by every daemon in one FFS cluster:
// the bootstrap peer set and the chain table a fresh store starts from.
type Cluster struct {
	// NodeID is this daemon's identity within the cluster.
	NodeID string `yaml:"node_id"`
	// BootstrapPeers lists the mgmtd raft peers to join or form a
	// quorum with on first start.
	BootstrapPeers []string `yaml:"bootstrap_peers"`
	// ChainTableID and ChainTableVersion seed the default layout new
	// files inherit when no layout is set explicitly.
	ChainTableID      uint64 `yaml:"chain_table_id"`
	ChainTableVersion uint64 `yaml:"chain_table_version"`
}

// Timeouts holds the duration knobs named in spec.md's control-loop
// descriptions (HeartbeatChecker, distributor's background updater).
type Timeouts struct {
	// NodeTimeout is how long a node may go without a heartbeat before
	// HeartbeatChecker marks it missing.
	NodeTimeout time.Duration `yaml:"node_timeout"`
	// UpdateInterval is how often the distributor's background updater
	// refreshes server-presence markers.
	UpdateInterval time.Duration `yaml:"update_interval"`
	// FailureTimeout is how long a server-presence marker may go
	// without advancing before that server is considered dead.
	FailureTimeout time.Duration `yaml:"failure_timeout"`
	// RetryInitial, RetryMax, RetryTotal parameterize kv.RetryPolicy
	// for every transaction this daemon runs.
	RetryInitial time.Duration `yaml:"retry_initial"`
	RetryMax     time.Duration `yaml:"retry_max"`
	RetryTotal   time.Duration `yaml:"retry_total"`
}

// Layout holds the default chunk/stripe sizing new files get when a
// client doesn't set a layout explicitly.
type Layout struct {
	ChunkSize  uint32 `yaml:"chunk_size"`
	StripeSize uint32 `yaml:"stripe_size"`
}

// Config is the top-level daemon configuration, loaded once at startup
// and shared (read-only) across every subsystem a daemon process runs.
type Config struct {
	Cluster  Cluster  `yaml:"cluster"`
	Timeouts Timeouts `yaml:"timeouts"`
	Layout   Layout   `yaml:"layout"`

	// DataDir is where this daemon keeps its local Bolt store (kv
	// engine for mgmtd/meta, chunk-metadata index for storage targets).
	DataDir string `yaml:"data_dir"`
	// ListenAddr is the address this daemon's transport listens on.
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the configuration a single-node, single-process
// deployment can start from without a config file.
func Default() Config {
	return Config{
		Cluster: Cluster{
			NodeID:            "node-1",
			ChainTableID:      1,
			ChainTableVersion: 1,
		},
		Timeouts: Timeouts{
			NodeTimeout:    30 * time.Second,
			UpdateInterval: 5 * time.Second,
			FailureTimeout: 15 * time.Second,
			RetryInitial:   10 * time.Millisecond,
			RetryMax:       1 * time.Second,
			RetryTotal:     5 * time.Second,
		},
		Layout: Layout{
			ChunkSize:  1 << 20,
			StripeSize: 1,
		},
		DataDir:    "./ffs-data",
		ListenAddr: "127.0.0.1:8000",
	}
}

// Load reads a YAML config file, filling in Default() for any field
// the file leaves unset.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configuration that would cause a daemon to fail in
// a confusing way later instead of at startup.
func (c Config) Validate() error {
	if c.Cluster.NodeID == "" {
		return fmt.Errorf("config: cluster.node_id is required")
	}
	if c.Layout.ChunkSize == 0 || c.Layout.ChunkSize&(c.Layout.ChunkSize-1) != 0 {
		return fmt.Errorf("config: layout.chunk_size must be a power of two, got %d", c.Layout.ChunkSize)
	}
	if c.Layout.StripeSize == 0 {
		return fmt.Errorf("config: layout.stripe_size must be at least 1")
	}
	if c.Timeouts.NodeTimeout <= 0 {
		return fmt.Errorf("config: timeouts.node_timeout must be positive")
	}
	if c.Timeouts.RetryMax < c.Timeouts.RetryInitial {
		return fmt.Errorf("config: timeouts.retry_max must be >= retry_initial")
	}
	return nil
}
