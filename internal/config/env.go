package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Environment overrides, applied between the config file and command-line flags.
const (
	EnvMaxConcurrentShards = "TSS_MAX_CONCURRENT_SHARDS"
	EnvMaxRetries          = "TSS_MAX_RETRIES"
	EnvTargetShardDuration = "TSS_TARGET_SHARD_DURATION"
	EnvStorageDriver       = "TSS_STORAGE_DRIVER"
	EnvStorageDSN          = "TSS_STORAGE_DSN"
	EnvLogLevel            = "TSS_LOG_LEVEL"
)

// ApplyEnv loads envFile (if it exists) into the process environment and
// applies TSS_* overrides. Variables already set in the environment win over the file.
func (c *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if v := os.Getenv(EnvMaxConcurrentShards); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxConcurrentShards, err)
		}
		c.MaxConcurrentShards = n
	}
	if v := os.Getenv(EnvMaxRetries); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxRetries, err)
		}
		c.MaxRetries = n
	}
	if v := os.Getenv(EnvTargetShardDuration); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTargetShardDuration, err)
		}
		c.TargetShardDuration = d
	}
	if v := os.Getenv(EnvStorageDriver); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv(EnvStorageDSN); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	return nil
}
