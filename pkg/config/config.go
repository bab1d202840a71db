package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Defaults applied where neither flags, env nor file provide a value.
const (
	DefaultBaseURL      = "http://127.0.0.1:8099"
	DefaultDBPath       = "./.threadsync"
	DefaultMaxLineBytes = 1 << 20
)

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and the THREADSYNC_CONFIG environment variable when the flag was
// not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("THREADSYNC_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

// ApplyDefaults fills whatever the merged sources left empty.
func (c *Config) ApplyDefaults() {
	if c.Agent.BaseURL == "" {
		c.Agent.BaseURL = DefaultBaseURL
	}
	if c.Agent.MaxLineBytes <= 0 {
		c.Agent.MaxLineBytes = DefaultMaxLineBytes
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = DefaultDBPath
	}
	if c.Storage.StateDir == "" {
		c.Storage.StateDir = filepath.Join(c.Storage.DBPath, "state")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate rejects configs the process cannot start with.
func (c *Config) Validate() error {
	if c.Agent.BaseURL == "" {
		return fmt.Errorf("agent.base_url is required")
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}
