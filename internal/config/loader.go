// internal/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListenPort    = 9876
	DefaultIntervalMs    = 500
	DefaultRetentionDays = 90
)

// LoadGlobal loads the global configuration from a YAML file
func LoadGlobal(path string) (*Global, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Global
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	ApplyGlobalDefaults(&cfg)
	if err := ValidateGlobal(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadRule loads a rule configuration from a YAML file
func LoadRule(path string) (*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}

	var rule Rule
	if err := yaml.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("parsing rule file: %w", err)
	}

	rule.File = path
	return &rule, nil
}

// LoadRulesDir loads all rules from a directory
func LoadRulesDir(dir string) ([]*Rule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading rules directory: %w", err)
	}

	var rules []*Rule
	for _, entry := range entries {
		if entry.IsDir() || !IsRuleFile(entry.Name()) {
			continue
		}

		rule, err := LoadRule(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("loading rule %s: %w", entry.Name(), err)
		}
		rules = append(rules, rule)
	}

	return rules, nil
}

// IsRuleFile reports whether name looks like a rule file.
func IsRuleFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

// ApplyGlobalDefaults fills unset fields of cfg.
func ApplyGlobalDefaults(cfg *Global) {
	if cfg.Daemon.LogLevel == "" {
		cfg.Daemon.LogLevel = "info"
	}
	if cfg.Daemon.ListenPort == 0 {
		cfg.Daemon.ListenPort = DefaultListenPort
	}
	if cfg.Daemon.ListenAddress == "" {
		cfg.Daemon.ListenAddress = "127.0.0.1"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.MaxSizeMB <= 0 {
		cfg.Logging.MaxSizeMB = 50
	}
	if cfg.Logging.MaxBackups <= 0 {
		cfg.Logging.MaxBackups = 5
	}
	if cfg.State.Path == "" {
		cfg.State.Path = DefaultStatePath()
	}
	if cfg.State.RetentionDays <= 0 {
		cfg.State.RetentionDays = DefaultRetentionDays
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "tapguard:"
	}
	if cfg.RuleExecution.MaxConcurrent <= 0 {
		cfg.RuleExecution.MaxConcurrent = 10
	}
	if cfg.DebounceDefaults.IntervalMs <= 0 {
		cfg.DebounceDefaults.IntervalMs = DefaultIntervalMs
	}
	if cfg.DebounceDefaults.Stamp == "" {
		cfg.DebounceDefaults.Stamp = "after_action"
	}
	if cfg.DebounceDefaults.Window == "" {
		cfg.DebounceDefaults.Window = "fixed"
	}
}

// DefaultStatePath is where attempt history lives when state.path is unset.
func DefaultStatePath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "tapguard", "state.db")
	}
	return filepath.Join(os.TempDir(), "tapguard", "state.db")
}
