package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML config file over the defaults. An empty path returns the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if len(cfg.Executor.Command) == 0 {
		cfg.Executor.Command = append([]string(nil), DefaultCommand...)
	}
	return cfg, nil
}
