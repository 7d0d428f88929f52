package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the worker configuration
type Config struct {
	Broker  BrokerConfig  `yaml:"broker"`
	Sink    SinkConfig    `yaml:"sink"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Health  HealthConfig  `yaml:"health"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns the configuration used before any file or
// environment variable is applied.
func DefaultConfig() *Config {
	return &Config{
		Broker:  DefaultBrokerConfig(),
		Sink:    DefaultSinkConfig(),
		Ingest:  DefaultIngestConfig(),
		Health:  DefaultHealthConfig(),
		Metrics: DefaultMetricsConfig(),
		Logging: DefaultLoggingConfig(),
	}
}

// Load loads configuration from configDir and environment variables.
// Order: defaults -> config.yml -> config.local.yml -> ApplyDefaults ->
// ApplyEnvOverrides -> ResolvePaths -> Validate
func Load(configDir string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadFile(filepath.Join(configDir, "config.yml"), cfg); err != nil {
		return nil, err
	}
	if err := loadFile(filepath.Join(configDir, "config.local.yml"), cfg); err != nil {
		return nil, err
	}

	if err := ApplyServiceConfigs(configDir,
		&cfg.Broker,
		&cfg.Sink,
		&cfg.Ingest,
		&cfg.Health,
		&cfg.Metrics,
		&cfg.Logging,
	); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func loadFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return nil
}

// resolvePath makes a relative path relative to the parent of configDir,
// or to configDir itself when it starts with "..".
func resolvePath(configDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if len(path) >= 2 && path[0:2] == ".." {
		return filepath.Clean(filepath.Join(configDir, path))
	}
	return filepath.Clean(filepath.Join(filepath.Dir(configDir), path))
}
