// Package config loads the coordinator's declarative YAML configuration:
// listen port, fake-data generation parameters, partitioner and
// pregenerated-file directories, and ingest connection details.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigError reports a missing or malformed configuration file, carrying
// enough context for the CLI layer to print a precise startup diagnostic.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Config is the coordinator's full startup configuration.
type Config struct {
	Server            ServerConfig            `yaml:"server"`
	FakeDataGenerator FakeDataGeneratorConfig `yaml:"fakeDataGenerator"`
	Partitioner       PartitionerConfig       `yaml:"partitioner"`
	Pregenerated      PregeneratedConfig      `yaml:"pregenerated"`
	Ingest            IngestConfig            `yaml:"ingest"`
}

// ServerConfig holds the coordinator's TCP listen parameters.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// FakeDataGeneratorConfig parameterizes synthetic-data generation handed to
// each worker via S_INIT_R.
type FakeDataGeneratorConfig struct {
	CfgFileName     string `yaml:"cfgFileName"`
	Objects         int    `yaml:"objects"`
	Visits          int    `yaml:"visits"`
	Seed            int64  `yaml:"seed"`
	TransactionSize int    `yaml:"transaction_size"`
}

// PartitionerConfig points at the directory of spatial-partitioner config
// files served to workers over S_PCFG_A.
type PartitionerConfig struct {
	CfgDir string `yaml:"cfgDir"`
}

// PregeneratedConfig points at a directory of files (e.g. a visit table)
// served to workers alongside the partitioner bundle.
type PregeneratedConfig struct {
	CfgDir string `yaml:"cfgDir"`
}

// IngestConfig holds connection parameters for the downstream ingest
// service.
type IngestConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	AuthKey string `yaml:"authKey"`
	DBName  string `yaml:"dbName"`
	CfgDir  string `yaml:"cfgDir"`
}

// Load reads and validates a Config from path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("parse: %w", err)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Validate checks that every field required to start a coordinator is
// present and sane.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive, got %d", c.Server.Port)
	}
	if c.FakeDataGenerator.Objects < 0 {
		return fmt.Errorf("fakeDataGenerator.objects must be non-negative, got %d", c.FakeDataGenerator.Objects)
	}
	if c.FakeDataGenerator.Visits < 0 {
		return fmt.Errorf("fakeDataGenerator.visits must be non-negative, got %d", c.FakeDataGenerator.Visits)
	}
	if c.FakeDataGenerator.TransactionSize <= 0 {
		return fmt.Errorf("fakeDataGenerator.transaction_size must be positive, got %d", c.FakeDataGenerator.TransactionSize)
	}
	if c.Ingest.DBName == "" {
		return fmt.Errorf("ingest.dbName is required")
	}
	return nil
}
