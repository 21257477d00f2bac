// Package cli holds the command-line flags and the config loading that turns
// them into a run configuration.
package cli

import (
	"fmt"
	"time"

	"tss/internal/config"
	"tss/internal/domain"
)

// Flags holds command-line flags
type Flags struct {
	ConfigPath          string
	EnvFile             string
	CatalogPath         string
	ScanPath            string
	NameFilter          string
	MaxConcurrentShards int
	MaxRetries          int
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

// ToConfigFlags converts CLI flags to config flags
func (f *Flags) ToConfigFlags() config.Flags {
	return config.Flags{
		ConfigPath:          f.ConfigPath,
		CatalogPath:         f.CatalogPath,
		ScanPath:            f.ScanPath,
		NameFilter:          f.NameFilter,
		MaxConcurrentShards: f.MaxConcurrentShards,
		MaxRetries:          f.MaxRetries,
		TargetShardDuration: f.TargetShardDuration,
		StorageDriver:       f.StorageDriver,
		DSN:                 f.DSN,
		LogLevel:            f.LogLevel,
		MetricsAddr:         f.MetricsAddr,
		AbandonInFlight:     f.AbandonInFlight,
		NoProgress:          f.NoProgress,
		OpenViewer:          f.OpenViewer,
		ShowTests:           f.ShowTests,
	}
}

// LoadConfig builds the effective config: defaults, then the YAML file, then
// TSS_* environment variables (after loading the .env file), then flags.
func LoadConfig(flags *Flags) (*config.Config, error) {
	cfg, err := config.LoadFile(flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	envFile := flags.EnvFile
	if envFile == "" {
		envFile = config.DefaultEnvFile
	}
	if err := cfg.ApplyEnv(envFile); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}
	cfg.ApplyFlags(flags.ToConfigFlags())
	return cfg, nil
}

// LocalRunnerID names the runner used when the config declares none.
const LocalRunnerID = "local"

// Runners returns the configured runners, or a single local runner sized to
// the concurrency budget when none are configured.
func Runners(cfg *config.Config) []domain.RunnerSpec {
	if len(cfg.Runners) > 0 {
		return cfg.Runners
	}
	return []domain.RunnerSpec{{
		ID:       LocalRunnerID,
		Type:     "local",
		Capacity: max(cfg.MaxConcurrentShards, 1),
		UnitCost: 1,
	}}
}
