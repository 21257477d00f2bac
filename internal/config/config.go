package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"tss/internal/domain"
)

// Weights are the planner's test scoring weights.
type Weights struct {
	Duration    float64 `yaml:"duration"`
	Priority    float64 `yaml:"priority"`
	Reliability float64 `yaml:"reliability"`
	Complexity  float64 `yaml:"complexity"`
}

// SelectionWeights are exponents of the runner score
// capacity^Capacity / unitCost^Cost * health^Health.
type SelectionWeights struct {
	Capacity float64 `yaml:"capacity"`
	Cost     float64 `yaml:"cost"`
	Health   float64 `yaml:"health"`
}

// StorageConfig selects the results sink.
type StorageConfig struct {
	Driver     string `yaml:"driver"` // json, mysql or sqlite
	DSN        string `yaml:"dsn"`
	OutputPath string `yaml:"output_path"`
}

// ExecutorConfig configures the command executor used by the CLI.
type ExecutorConfig struct {
	Command []string `yaml:"command"`
	WorkDir string   `yaml:"workdir"`
}

// Config holds all configuration for a scheduling run. It is immutable once a run starts.
type Config struct {
	MaxConcurrentShards int              `yaml:"max_concurrent_shards"`
	TargetShardDuration time.Duration    `yaml:"target_shard_duration"`
	MaxRetries          int              `yaml:"max_retries"`
	HealthCheckInterval time.Duration    `yaml:"health_check_interval"`
	UnhealthyThreshold  float64          `yaml:"unhealthy_threshold"`
	NoRunnerWait        time.Duration    `yaml:"no_runner_wait"`
	ShardTimeout        time.Duration    `yaml:"shard_timeout"`
	AbandonInFlight     bool             `yaml:"abandon_in_flight"`
	DurationCeiling     time.Duration    `yaml:"duration_ceiling"`
	Weights             Weights          `yaml:"weights"`
	Selection           SelectionWeights `yaml:"selection"`

	Runners []domain.RunnerSpec `yaml:"runners"`

	Storage     StorageConfig  `yaml:"storage"`
	Executor    ExecutorConfig `yaml:"executor"`
	LogLevel    string         `yaml:"log_level"`
	MetricsAddr string         `yaml:"metrics_addr"`

	// Discovery settings
	CatalogPath   string   `yaml:"catalog"`
	ScanPath      string   `yaml:"scan_path"`
	PathsToIgnore []string `yaml:"paths_to_ignore"`

	// Command flags
	Flags Flags `yaml:"-"`
}

// Flags holds command-line overrides
type Flags struct {
	ConfigPath          string
	CatalogPath         string
	ScanPath            string
	NameFilter          string
	MaxConcurrentShards int
	MaxRetries          int // negative when not passed
	TargetShardDuration time.Duration
	StorageDriver       string
	DSN                 string
	LogLevel            string
	MetricsAddr         string
	AbandonInFlight     bool
	NoProgress          bool
	OpenViewer          bool
	ShowTests           bool
}

// New creates a new Config with defaults
func New() *Config {
	cfg := &Config{
		MaxConcurrentShards: DefaultMaxConcurrentShards,
		TargetShardDuration: DefaultTargetShardDuration,
		MaxRetries:          DefaultMaxRetries,
		HealthCheckInterval: DefaultHealthCheckInterval,
		UnhealthyThreshold:  DefaultUnhealthyThreshold,
		NoRunnerWait:        DefaultNoRunnerWait,
		Weights:             DefaultWeights,
		Selection:           DefaultSelectionWeights,
		Storage: StorageConfig{
			Driver:     DefaultStorageDriver,
			OutputPath: DefaultOutputPath,
		},
		LogLevel: DefaultLogLevel,
		ScanPath: DefaultScanPath,
	}
	cfg.Executor.Command = append([]string(nil), DefaultCommand...)
	// Copy default paths to ignore
	cfg.PathsToIgnore = make([]string, len(DefaultPathsToIgnore))
	copy(cfg.PathsToIgnore, DefaultPathsToIgnore)
	return cfg
}

// ApplyFlags copies non-zero command-line overrides onto the config.
func (c *Config) ApplyFlags(flags Flags) {
	c.Flags = flags
	if flags.CatalogPath != "" {
		c.CatalogPath = flags.CatalogPath
	}
	if flags.ScanPath != "" {
		c.ScanPath = flags.ScanPath
	}
	if flags.MaxConcurrentShards > 0 {
		c.MaxConcurrentShards = flags.MaxConcurrentShards
	}
	if flags.MaxRetries >= 0 {
		c.MaxRetries = flags.MaxRetries
	}
	if flags.TargetShardDuration > 0 {
		c.TargetShardDuration = flags.TargetShardDuration
	}
	if flags.StorageDriver != "" {
		c.Storage.Driver = flags.StorageDriver
	}
	if flags.DSN != "" {
		c.Storage.DSN = flags.DSN
	}
	if flags.LogLevel != "" {
		c.LogLevel = flags.LogLevel
	}
	if flags.MetricsAddr != "" {
		c.MetricsAddr = flags.MetricsAddr
	}
	if flags.AbandonInFlight {
		c.AbandonInFlight = true
	}
}

// Validate checks the invariants a run depends on.
func (c *Config) Validate() error {
	if c.MaxConcurrentShards <= 0 {
		return &domain.ConfigError{Field: "max_concurrent_shards", Reason: "must be positive"}
	}
	if c.TargetShardDuration <= 0 {
		return &domain.ConfigError{Field: "target_shard_duration", Reason: "must be positive"}
	}
	if c.MaxRetries < 0 {
		return &domain.ConfigError{Field: "max_retries", Reason: "must not be negative"}
	}
	if c.HealthCheckInterval <= 0 {
		return &domain.ConfigError{Field: "health_check_interval", Reason: "must be positive"}
	}
	if c.UnhealthyThreshold < 0 || c.UnhealthyThreshold > 1 {
		return &domain.ConfigError{Field: "unhealthy_threshold", Reason: "must be within [0,1]"}
	}
	if c.NoRunnerWait < 0 {
		return &domain.ConfigError{Field: "no_runner_wait", Reason: "must not be negative"}
	}
	if c.ShardTimeout < 0 {
		return &domain.ConfigError{Field: "shard_timeout", Reason: "must not be negative"}
	}
	if c.DurationCeiling < 0 {
		return &domain.ConfigError{Field: "duration_ceiling", Reason: "must not be negative"}
	}
	w := c.Weights
	if w.Duration == 0 && w.Priority == 0 && w.Reliability == 0 && w.Complexity == 0 {
		return &domain.ConfigError{Field: "weights", Reason: "all planner weights are zero, ordering would be degenerate"}
	}
	s := c.Selection
	if s.Capacity < 0 || s.Cost < 0 || s.Health < 0 {
		return &domain.ConfigError{Field: "selection", Reason: "weights must not be negative"}
	}
	if s.Capacity == 0 && s.Cost == 0 && s.Health == 0 {
		return &domain.ConfigError{Field: "selection", Reason: "all selection weights are zero, ordering would be degenerate"}
	}
	return ValidateRunners(c.Runners)
}

// ValidateRunners checks runner specs for ids, capacity and cost.
func ValidateRunners(runners []domain.RunnerSpec) error {
	seen := make(map[string]struct{}, len(runners))
	for i, r := range runners {
		field := fmt.Sprintf("runners[%d]", i)
		if strings.TrimSpace(r.ID) == "" {
			return &domain.ConfigError{Field: field + ".id", Reason: "must not be empty"}
		}
		if _, dup := seen[r.ID]; dup {
			return &domain.ConfigError{Field: field + ".id", Reason: fmt.Sprintf("duplicate runner id %q", r.ID)}
		}
		seen[r.ID] = struct{}{}
		if r.Capacity <= 0 {
			return &domain.ConfigError{Field: field + ".capacity", Reason: "must be positive"}
		}
		if r.UnitCost <= 0 {
			return &domain.ConfigError{Field: field + ".unit_cost", Reason: "must be positive"}
		}
		if h := r.InitialHealth; h != nil && (*h < 0 || *h > 1) {
			return &domain.ConfigError{Field: field + ".initial_health", Reason: "must be within [0,1]"}
		}
	}
	return nil
}

// GetOutputPath returns the absolute path of the JSON summary file.
func (c *Config) GetOutputPath() string {
	p := c.Storage.OutputPath
	if p == "" {
		p = DefaultOutputPath
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
