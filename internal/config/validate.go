package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/colebrumley/tapguard/internal/debounce"
)

var validSourceTypes = map[string]bool{
	"filesystem": true,
	"scheduled":  true,
	"webhook":    true,
	"lifecycle":  true,
	"manual":     true,
}

var validFilesystemEvents = map[string]bool{
	"file_created":      true,
	"file_modified":     true,
	"file_deleted":      true,
	"directory_created": true,
	"directory_deleted": true,
}

var validLifecycleEvents = map[string]bool{
	"daemon_started": true,
	"daemon_stopped": true,
}

// ValidateRule checks a rule for missing or contradictory fields.
// All problems are reported together.
func ValidateRule(rule *Rule) error {
	var errs []error

	if strings.TrimSpace(rule.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	} else if strings.ContainsAny(rule.Name, "/ \t") {
		errs = append(errs, fmt.Errorf("name %q must not contain slashes or whitespace", rule.Name))
	}

	if rule.Action.Command == "" {
		errs = append(errs, errors.New("action.command is required"))
	}
	if rule.Action.TimeoutSeconds < 0 {
		errs = append(errs, errors.New("action.timeout_seconds must not be negative"))
	}

	if rule.Debounce.IntervalMs < 0 {
		errs = append(errs, errors.New("debounce.interval_ms must not be negative"))
	}
	if _, err := debounce.ParseStampMode(rule.Debounce.Stamp); err != nil {
		errs = append(errs, fmt.Errorf("debounce.stamp: %w", err))
	}
	if _, err := debounce.ParseWindowMode(rule.Debounce.Window); err != nil {
		errs = append(errs, fmt.Errorf("debounce.window: %w", err))
	}

	errs = append(errs, validateSource(rule.Source)...)

	if len(errs) > 0 {
		return fmt.Errorf("rule %q: %w", rule.Name, errors.Join(errs...))
	}
	return nil
}

func validateSource(src Source) []error {
	if !validSourceTypes[src.Type] {
		return []error{fmt.Errorf("source.type %q is not one of filesystem, scheduled, webhook, lifecycle, manual", src.Type)}
	}

	var errs []error
	switch src.Type {
	case "filesystem":
		if len(src.WatchPaths) == 0 {
			errs = append(errs, errors.New("source.watch_paths is required for filesystem sources"))
		}
		for _, e := range src.OnEvents {
			if !validFilesystemEvents[e] {
				errs = append(errs, fmt.Errorf("source.on_events: unknown filesystem event %q", e))
			}
		}
	case "scheduled":
		if src.CronExpression == "" && src.RunEvery == "" && src.RunAt == "" {
			errs = append(errs, errors.New("scheduled sources need cron_expression, run_every or run_at"))
		}
	case "webhook":
		if !strings.HasPrefix(src.ListenPath, "/") {
			errs = append(errs, errors.New("source.listen_path must start with /"))
		}
		if strings.HasPrefix(src.ListenPath, "/api/") || src.ListenPath == "/health" {
			errs = append(errs, fmt.Errorf("source.listen_path %q collides with the daemon API", src.ListenPath))
		}
		if src.RequireSecret && (src.SecretHeader == "" || src.SecretEnvVar == "") {
			errs = append(errs, errors.New("require_secret needs secret_header and secret_env_var"))
		}
	case "lifecycle":
		if len(src.OnEvents) == 0 {
			errs = append(errs, errors.New("source.on_events is required for lifecycle sources"))
		}
		for _, e := range src.OnEvents {
			if !validLifecycleEvents[e] {
				errs = append(errs, fmt.Errorf("source.on_events: unknown lifecycle event %q", e))
			}
		}
	}
	return errs
}

// ValidateGlobal checks the global config after defaults are applied.
func ValidateGlobal(cfg *Global) error {
	var errs []error

	if p := cfg.Metrics.Path; !ValidRoutePath(p) {
		errs = append(errs, fmt.Errorf("metrics.path %q must start with / and must not contain spaces or braces", p))
	}
	if port := cfg.Daemon.ListenPort; port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("daemon.listen_port %d is out of range", port))
	}
	if cfg.DebounceDefaults.IntervalMs < 0 {
		errs = append(errs, errors.New("debounce_defaults.interval_ms must not be negative"))
	}
	if _, err := debounce.ParseStampMode(cfg.DebounceDefaults.Stamp); err != nil {
		errs = append(errs, fmt.Errorf("debounce_defaults.stamp: %w", err))
	}
	if _, err := debounce.ParseWindowMode(cfg.DebounceDefaults.Window); err != nil {
		errs = append(errs, fmt.Errorf("debounce_defaults.window: %w", err))
	}

	return errors.Join(errs...)
}

// ValidRoutePath reports whether p can be registered as a literal HTTP route.
func ValidRoutePath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.ContainsAny(p, "{} \t\n")
}

// ValidateRuleWithGlobal returns warnings that need the global config or the
// other loaded rules to detect. They never block loading.
func ValidateRuleWithGlobal(rule *Rule, global *Global, all map[string]*Rule) []string {
	var warnings []string

	if rule.Debounce.Shared && (global == nil || global.Redis.URL == "") {
		warnings = append(warnings, fmt.Sprintf("rule %q sets debounce.shared but redis.url is not configured; using the local trigger only", rule.Name))
	}

	if rule.Source.Type == "webhook" {
		for name, other := range all {
			if name == rule.Name || other.Source.Type != "webhook" {
				continue
			}
			if other.Source.ListenPath == rule.Source.ListenPath {
				warnings = append(warnings, fmt.Sprintf("rules %q and %q share webhook path %s", rule.Name, name, rule.Source.ListenPath))
			}
		}
	}

	if global != nil && global.Metrics.IsEnabled() && rule.Source.Type == "webhook" && rule.Source.ListenPath == global.Metrics.Path {
		warnings = append(warnings, fmt.Sprintf("rule %q webhook path %s is shadowed by the metrics endpoint", rule.Name, rule.Source.ListenPath))
	}

	return warnings
}

// DebounceSettings is a rule's effective trigger configuration.
type DebounceSettings struct {
	Interval time.Duration
	Stamp    debounce.StampMode
	Window   debounce.WindowMode
	Shared   bool
}

// Options converts the settings into trigger options.
func (s DebounceSettings) Options() []debounce.Option {
	return []debounce.Option{
		debounce.WithInterval(s.Interval),
		debounce.WithStampMode(s.Stamp),
		debounce.WithWindowMode(s.Window),
	}
}

// DebounceSettings resolves the rule's debounce block against the global
// defaults. global may be nil.
func (r *Rule) DebounceSettings(global *Global) (DebounceSettings, error) {
	defaults := Debounce{IntervalMs: DefaultIntervalMs}
	if global != nil {
		defaults = global.DebounceDefaults
	}

	intervalMs := r.Debounce.IntervalMs
	if intervalMs <= 0 {
		intervalMs = defaults.IntervalMs
	}
	if intervalMs <= 0 {
		intervalMs = DefaultIntervalMs
	}

	stampName := r.Debounce.Stamp
	if stampName == "" {
		stampName = defaults.Stamp
	}
	stamp, err := debounce.ParseStampMode(stampName)
	if err != nil {
		return DebounceSettings{}, err
	}

	windowName := r.Debounce.Window
	if windowName == "" {
		windowName = defaults.Window
	}
	window, err := debounce.ParseWindowMode(windowName)
	if err != nil {
		return DebounceSettings{}, err
	}

	return DebounceSettings{
		Interval: time.Duration(intervalMs) * time.Millisecond,
		Stamp:    stamp,
		Window:   window,
		Shared:   r.Debounce.Shared,
	}, nil
}
