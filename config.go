package shelfsync

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config aggregates the configuration for every component of the sync
// layer. Zero values are filled in with defaults when the service is
// constructed, so a partial YAML file is enough.
type Config struct {
	Store        StoreConfig        `yaml:"store"`
	Client       ClientConfig       `yaml:"client"`
	Sync         SyncConfig         `yaml:"sync"`
	Conflict     ConflictConfig     `yaml:"conflict"`
	Queue        QueueConfig        `yaml:"queue"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Team         TeamStoreConfig    `yaml:"team"`
	Snapshot     SnapshotConfig     `yaml:"snapshot"`
}

// SyncConfig controls the sync engine.
type SyncConfig struct {
	// ProgressCeiling is an advisory estimate of total objects, used only
	// for progress reporting. Zero means unknown.
	ProgressCeiling int `yaml:"progress_ceiling"`
}

// DefaultSyncConfig returns default sync engine configuration.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{}
}

// ConflictConfig controls the conflict resolver.
type ConflictConfig struct {
	// DefaultStrategy applies when a conflict is resolved without an
	// explicit strategy
	DefaultStrategy ResolutionStrategy `yaml:"default_strategy"`

	// HistoryLimit caps the resolved-conflict history
	HistoryLimit int `yaml:"history_limit"`
}

// DefaultConflictConfig returns default conflict resolver configuration.
func DefaultConflictConfig() ConflictConfig {
	return ConflictConfig{
		DefaultStrategy: StrategyLastWriteWins,
		HistoryLimit:    100,
	}
}

// QueueConfig controls the offline operation queue.
type QueueConfig struct {
	// MaxRetries is the per-operation retry budget before the operation is
	// dropped to the failure log
	MaxRetries int `yaml:"max_retries"`

	// DrainInterval is the periodic backstop between connectivity-driven
	// drains
	DrainInterval time.Duration `yaml:"drain_interval"`
}

// DefaultQueueConfig returns default queue configuration.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxRetries:    3,
		DrainInterval: 30 * time.Second,
	}
}

// DefaultConfig returns a Config with every component defaulted.
func DefaultConfig() Config {
	return Config{
		Store:        DefaultStoreConfig(),
		Client:       DefaultClientConfig(),
		Sync:         DefaultSyncConfig(),
		Conflict:     DefaultConflictConfig(),
		Queue:        DefaultQueueConfig(),
		Connectivity: DefaultConnectivityConfig(),
		Team:         DefaultTeamStoreConfig(),
		Snapshot:     DefaultSnapshotConfig(),
	}
}

// LoadConfig reads a YAML configuration file, layering it over defaults.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}
