// internal/config/types.go
package config

// Global configuration loaded from config.yaml
type Global struct {
	Daemon           DaemonConfig   `yaml:"daemon"`
	Logging          LoggingConfig  `yaml:"logging"`
	State            StateConfig    `yaml:"state"`
	Metrics          MetricsConfig  `yaml:"metrics"`
	Redis            RedisConfig    `yaml:"redis"`
	RuleExecution    RuleExecConfig `yaml:"rule_execution"`
	DebounceDefaults Debounce       `yaml:"debounce_defaults"`
}

type DaemonConfig struct {
	LogLevel      string `yaml:"log_level"`
	ListenAddress string `yaml:"listen_address"`
	ListenPort    int    `yaml:"listen_port"`
}

type LoggingConfig struct {
	Format     string `yaml:"format"`
	File       string `yaml:"file"` // empty logs to stdout
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

type StateConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"` // nil = enabled
	Path    string `yaml:"path"`
}

// IsEnabled reports whether the metrics endpoint should be served.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

type RedisConfig struct {
	URL       string `yaml:"url"` // empty disables the shared gate
	KeyPrefix string `yaml:"key_prefix"`
}

type RuleExecConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
}

// Debounce controls a rule's trigger. Zero values inherit from the global
// debounce_defaults.
type Debounce struct {
	IntervalMs int    `yaml:"interval_ms"`
	Stamp      string `yaml:"stamp"`  // after_action | decision
	Window     string `yaml:"window"` // fixed | sliding
	Shared     bool   `yaml:"shared"`
}

// Rule configuration loaded from individual YAML files
type Rule struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Enabled     bool     `yaml:"enabled"`
	RunAsUser   string   `yaml:"run_as_user"`
	DryRun      bool     `yaml:"dry_run"`
	Source      Source   `yaml:"source"`
	Debounce    Debounce `yaml:"debounce"`
	Action      Action   `yaml:"action"`

	File string `yaml:"-"` // set by LoadRule
}

type Source struct {
	Type string `yaml:"type"`
	// Filesystem
	WatchPaths     []string `yaml:"watch_paths"`
	OnEvents       []string `yaml:"on_events"`
	IgnorePatterns []string `yaml:"ignore_patterns"`
	Recursive      bool     `yaml:"recursive"`
	// Scheduled
	CronExpression string `yaml:"cron_expression"`
	RunEvery       string `yaml:"run_every"`
	RunAt          string `yaml:"run_at"`
	// Webhook
	ListenPath     string   `yaml:"listen_path"`
	AllowedMethods []string `yaml:"allowed_methods"`
	RequireSecret  bool     `yaml:"require_secret"`
	SecretHeader   string   `yaml:"secret_header"`
	SecretEnvVar   string   `yaml:"secret_env_var"`
	// Lifecycle
	// (uses OnEvents)
}

type Action struct {
	Command        string            `yaml:"command"`
	Args           []string          `yaml:"args"`
	WorkDir        string            `yaml:"workdir"`
	Env            map[string]string `yaml:"env"`
	TimeoutSeconds int               `yaml:"timeout_seconds"` // default 300
}
