package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tss/internal/domain"
)

func TestNew(t *testing.T) {
	cfg := New()

	assert.Equal(t, DefaultMaxConcurrentShards, cfg.MaxConcurrentShards)
	assert.Equal(t, DefaultTargetShardDuration, cfg.TargetShardDuration)
	assert.Equal(t, DefaultWeights, cfg.Weights)
	assert.Equal(t, DefaultCommand, cfg.Executor.Command)
	assert.Len(t, cfg.PathsToIgnore, len(DefaultPathsToIgnore))
	require.NoError(t, cfg.Validate())

	// Defaults are copied, not shared.
	cfg.PathsToIgnore[0] = "changed"
	assert.NotEqual(t, "changed", DefaultPathsToIgnore[0])
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{
			name:   "zero concurrency",
			mutate: func(c *Config) { c.MaxConcurrentShards = 0 },
			field:  "max_concurrent_shards",
		},
		{
			name:   "negative retries",
			mutate: func(c *Config) { c.MaxRetries = -1 },
			field:  "max_retries",
		},
		{
			name:   "threshold above one",
			mutate: func(c *Config) { c.UnhealthyThreshold = 1.5 },
			field:  "unhealthy_threshold",
		},
		{
			name:   "all planner weights zero",
			mutate: func(c *Config) { c.Weights = Weights{} },
			field:  "weights",
		},
		{
			name:   "negative selection weight",
			mutate: func(c *Config) { c.Selection.Cost = -1 },
			field:  "selection",
		},
		{
			name: "duplicate runner",
			mutate: func(c *Config) {
				c.Runners = []domain.RunnerSpec{
					{ID: "r1", Capacity: 1, UnitCost: 0.01},
					{ID: "r1", Capacity: 1, UnitCost: 0.01},
				}
			},
			field: "runners[1].id",
		},
		{
			name: "zero cost runner",
			mutate: func(c *Config) {
				c.Runners = []domain.RunnerSpec{{ID: "r1", Capacity: 1}}
			},
			field: "runners[0].unit_cost",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			err := cfg.Validate()
			var cerr *domain.ConfigError
			require.True(t, errors.As(err, &cerr), "expected ConfigError, got %v", err)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}

	t.Run("negative duration weight is allowed", func(t *testing.T) {
		cfg := New()
		cfg.Weights = Weights{Duration: -1}
		assert.NoError(t, cfg.Validate())
	})
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tss.yaml")
	content := `
max_concurrent_shards: 2
target_shard_duration: 90s
max_retries: 1
weights:
  duration: -1
runners:
  - id: r1
    capacity: 4
    unit_cost: 0.008
    capabilities: [docker]
    memory: 2
  - id: r2
    capacity: 8
    unit_cost: 0.005
storage:
  driver: sqlite
  dsn: file:tss.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.MaxConcurrentShards)
	assert.Equal(t, 90*time.Second, cfg.TargetShardDuration)
	assert.Equal(t, 1, cfg.MaxRetries)
	assert.Equal(t, Weights{Duration: -1, Priority: 20, Reliability: 50, Complexity: 5}, cfg.Weights)
	require.Len(t, cfg.Runners, 2)
	assert.Equal(t, []string{"docker"}, cfg.Runners[0].Capabilities)
	assert.Equal(t, 2, cfg.Runners[0].MemoryTier)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	// Unset keys keep their defaults.
	assert.Equal(t, DefaultHealthCheckInterval, cfg.HealthCheckInterval)
	assert.Equal(t, DefaultCommand, cfg.Executor.Command)
	require.NoError(t, cfg.Validate())

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_ApplyEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("TSS_MAX_RETRIES=5\nTSS_STORAGE_DRIVER=mysql\n"), 0644))

	t.Setenv(EnvMaxConcurrentShards, "7")
	t.Setenv(EnvTargetShardDuration, "2m")
	t.Setenv(EnvStorageDriver, "sqlite")
	t.Setenv(EnvMaxRetries, "")
	os.Unsetenv(EnvMaxRetries)

	cfg := New()
	require.NoError(t, cfg.ApplyEnv(envFile))

	assert.Equal(t, 7, cfg.MaxConcurrentShards)
	assert.Equal(t, 2*time.Minute, cfg.TargetShardDuration)
	assert.Equal(t, 5, cfg.MaxRetries)
	// The process environment wins over the file.
	assert.Equal(t, "sqlite", cfg.Storage.Driver)

	t.Run("missing env file is fine", func(t *testing.T) {
		assert.NoError(t, New().ApplyEnv(filepath.Join(dir, "nope.env")))
	})

	t.Run("bad value", func(t *testing.T) {
		t.Setenv(EnvMaxConcurrentShards, "many")
		assert.Error(t, New().ApplyEnv(""))
	})
}

func TestConfig_ApplyFlags(t *testing.T) {
	cfg := New()
	cfg.ApplyFlags(Flags{MaxConcurrentShards: 3, MaxRetries: -1, DSN: "root@tcp(db:3306)/tss", AbandonInFlight: true})

	assert.Equal(t, 3, cfg.MaxConcurrentShards)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, "root@tcp(db:3306)/tss", cfg.Storage.DSN)
	assert.True(t, cfg.AbandonInFlight)

	cfg.ApplyFlags(Flags{MaxRetries: 0})
	assert.Equal(t, 0, cfg.MaxRetries)
}
