// Package config handles loading and validating the config.toml
// configuration file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration.
type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	Rules    RulesConfig    `toml:"rules"`
	Analysis AnalysisConfig `toml:"analysis"`
	Server   ServerConfig   `toml:"server"`
	Log      LogConfig      `toml:"log"`
}

// StorageConfig configures the evidence and result store.
type StorageConfig struct {
	// Dir is the storage root for uploads and persisted results.
	Dir string `toml:"dir"`
	// RetentionDays bounds how long upload workdirs are kept before the
	// retention sweep removes them. 0 disables sweeping.
	RetentionDays int `toml:"retention_days"`
}

// RulesConfig configures the detection rule set.
type RulesConfig struct {
	// Dir points at a directory of Sigma rules. Empty means the embedded
	// default rules.
	Dir string `toml:"dir"`
}

// AnalysisConfig toggles the optional pipeline phases.
type AnalysisConfig struct {
	MITRE    bool `toml:"mitre"`
	Timeline bool `toml:"timeline"`
}

// ServerConfig configures the local HTTP API.
type ServerConfig struct {
	Port int `toml:"port"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Storage:  StorageConfig{Dir: "data", RetentionDays: 30},
		Analysis: AnalysisConfig{MITRE: true, Timeline: true},
		Server:   ServerConfig{Port: 8714},
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads a config.toml file and returns a validated Config. A
// missing file yields the defaults; a present but invalid file is an
// error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, cfg.validate()
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	applyEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides values from the environment.
func applyEnv(cfg *Config) {
	if dir := os.Getenv("THREATLINE_STORAGE_DIR"); dir != "" {
		cfg.Storage.Dir = dir
	}
	if dir := os.Getenv("THREATLINE_RULES_DIR"); dir != "" {
		cfg.Rules.Dir = dir
	}
	if level := os.Getenv("THREATLINE_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

func (c *Config) validate() error {
	c.Log.Level = strings.ToLower(c.Log.Level)
	switch c.Log.Level {
	case "", "debug", "info", "warn", "warning", "error":
		// valid
	default:
		return fmt.Errorf("unsupported log.level: %q", c.Log.Level)
	}

	if c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir is required")
	}
	if c.Storage.RetentionDays < 0 {
		return fmt.Errorf("storage.retention_days must be >= 0")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}
