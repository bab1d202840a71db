package config

import (
	"flag"
	"os"
	"strings"
	"time"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Backend string
	DB      string
	Config  string
	Set     map[string]bool
}

// ParseConfigFlags parses command-line flags and returns them as a Flags struct.
func ParseConfigFlags() Flags {
	backendPtr := flag.String("backend", DefaultBaseURL, "agent backend base URL")
	dbPtr := flag.String("db", DefaultDBPath, "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Backend: *backendPtr, DB: *dbPtr, Config: *cfgPtr, Set: setFlags}
}

// ParseConfigFile resolves the config path and loads the YAML file. It
// returns the parsed config, a boolean indicating whether the file was
// present, and an error for fatal parsing problems.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := Load(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// ApplyEnvOverrides applies THREADSYNC_* environment variables onto cfg
// and reports whether any were present.
func ApplyEnvOverrides(cfg *Config) bool {
	envUsed := false
	if v := os.Getenv("THREADSYNC_BASE_URL"); v != "" {
		envUsed = true
		cfg.Agent.BaseURL = v
	}
	if v := os.Getenv("THREADSYNC_TOKEN"); v != "" {
		envUsed = true
		cfg.Agent.Token = v
	}
	if v := os.Getenv("THREADSYNC_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Agent.Timeout = Duration(d)
		}
	}
	if v := os.Getenv("THREADSYNC_DB_PATH"); v != "" {
		envUsed = true
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("THREADSYNC_STATE_DIR"); v != "" {
		envUsed = true
		cfg.Storage.StateDir = v
	}
	if v := os.Getenv("THREADSYNC_REFRESH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Session.RefreshInterval = Duration(d)
		}
	}
	if v := os.Getenv("THREADSYNC_REFRESH_CRON"); v != "" {
		envUsed = true
		cfg.Session.RefreshCron = v
	}
	if v := os.Getenv("THREADSYNC_LOG_LEVEL"); v != "" {
		envUsed = true
		cfg.Logging.Level = v
	}
	if v := os.Getenv("THREADSYNC_LOG_FORMAT"); v != "" {
		envUsed = true
		cfg.Logging.Format = v
	}
	return envUsed
}

// LoadEffective merges the three sources with flags strongest, then env,
// then the config file, and fills defaults last.
func LoadEffective(flags Flags) (*Config, error) {
	cfg, _, err := ParseConfigFile(flags)
	if err != nil {
		return nil, err
	}
	ApplyEnvOverrides(cfg)
	if flags.Set["backend"] {
		cfg.Agent.BaseURL = flags.Backend
	}
	if flags.Set["db"] {
		cfg.Storage.DBPath = flags.DB
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
