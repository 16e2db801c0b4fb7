// internal/daemon/rules.go
package daemon

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/colebrumley/tapguard/internal/config"
	"github.com/colebrumley/tapguard/internal/debounce"
	"github.com/colebrumley/tapguard/internal/security"
	"github.com/colebrumley/tapguard/internal/source"
	"github.com/fsnotify/fsnotify"
)

// ruleEntry is an enabled rule with its running source and its trigger.
// The trigger survives reloads that leave source and debounce untouched.
type ruleEntry struct {
	rule     *config.Rule
	settings config.DebounceSettings
	src      source.Source
	trigger  *debounce.Trigger[*call]
	cancel   context.CancelFunc

	// attempts the trigger accepted but the shared gate turned away
	sharedDropped atomic.Uint64
}

func (e *ruleEntry) stop() {
	e.cancel()
	_ = e.src.Stop()
}

// sameTrigger reports whether next can reuse e's source and trigger.
func (e *ruleEntry) sameTrigger(next *config.Rule, settings config.DebounceSettings) bool {
	return e.settings == settings &&
		e.rule.RunAsUser == next.RunAsUser &&
		reflect.DeepEqual(e.rule.Source, next.Source)
}

// readRules loads and validates the rules directory. Invalid rules are
// logged and skipped so one bad file does not take down the rest.
func (d *Daemon) readRules() (map[string]*config.Rule, error) {
	loaded, err := config.LoadRulesDir(d.rulesDir)
	if err != nil {
		return nil, err
	}

	rules := make(map[string]*config.Rule, len(loaded))
	for _, rule := range loaded {
		if err := security.ValidateFilePermissions(rule.File); err != nil {
			d.logger.Error("CRITICAL: rule file has unsafe permissions, skipping", "rule", rule.Name, "error", err)
			continue
		}
		if err := config.ValidateRule(rule); err != nil {
			d.logger.Error("invalid rule, skipping", "rule", rule.Name, "error", err)
			continue
		}
		if _, dup := rules[rule.Name]; dup {
			d.logger.Error("duplicate rule name, skipping", "rule", rule.Name)
			continue
		}
		rules[rule.Name] = rule
	}

	for _, rule := range rules {
		for _, w := range config.ValidateRuleWithGlobal(rule, d.config, rules) {
			d.logger.Warn(w)
		}
	}
	return rules, nil
}

// applyRules makes rules the live rule set.
func (d *Daemon) applyRules(ctx context.Context, rules map[string]*config.Rule) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for name, e := range d.entries {
		next, ok := rules[name]
		if ok && next.Enabled {
			continue
		}
		d.logger.Info("stopping source for removed or disabled rule", "rule", name)
		e.stop()
		delete(d.entries, name)
		d.metrics.Forget(name)
	}

	for name, rule := range rules {
		if !rule.Enabled {
			d.logger.Debug("skipping disabled rule", "rule", name)
			continue
		}

		settings, err := rule.DebounceSettings(d.config)
		if err != nil {
			d.logger.Error("invalid debounce settings, skipping", "rule", name, "error", err)
			if e, ok := d.entries[name]; ok {
				e.stop()
				delete(d.entries, name)
			}
			delete(rules, name)
			continue
		}

		if e, ok := d.entries[name]; ok {
			if e.sameTrigger(rule, settings) {
				e.rule = rule
				continue
			}
			e.stop()
			delete(d.entries, name)
			d.logger.Info("rebuilding trigger for changed rule", "rule", name)
		}

		e, err := d.newEntry(ctx, rule, settings)
		if err != nil {
			d.logger.Error("failed to create source", "rule", name, "error", err)
			continue
		}
		d.entries[name] = e
	}

	d.rules = rules
}

// newEntry builds and starts a rule's source. Must be called with mu held.
func (d *Daemon) newEntry(ctx context.Context, rule *config.Rule, settings config.DebounceSettings) (*ruleEntry, error) {
	src, err := source.New(rule.Name, rule.Source, rule.RunAsUser)
	if err != nil {
		return nil, err
	}

	opts := append(settings.Options(), debounce.WithClock(d.clock))
	srcCtx, cancel := context.WithCancel(ctx)
	e := &ruleEntry{
		rule:     rule,
		settings: settings,
		src:      src,
		trigger:  debounce.New(d.runAction, opts...),
		cancel:   cancel,
	}

	go func() {
		if err := src.Start(srcCtx, d.events); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("source error", "rule", src.RuleName(), "error", err)
		}
	}()
	return e, nil
}

// startHotReload watches the rules directory and reloads one second after
// the last change.
func (d *Daemon) startHotReload(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.logger.Error("could not create rules watcher", "error", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(d.rulesDir); err != nil {
		d.logger.Error("could not watch rules directory", "error", err, "dir", d.rulesDir)
		return
	}
	d.logger.Info("hot-reload watcher started", "dir", d.rulesDir)

	var delay *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !config.IsRuleFile(filepath.Base(event.Name)) {
				continue
			}
			if delay != nil {
				delay.Stop()
			}
			delay = time.AfterFunc(time.Second, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			d.logger.Info("reloading rules (hot-reload)")
			d.reloadRules(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.logger.Error("rules watcher error", "error", err)

		case <-ctx.Done():
			if delay != nil {
				delay.Stop()
			}
			return
		}
	}
}

// reloadRules re-reads the rules directory and applies it.
func (d *Daemon) reloadRules(ctx context.Context) {
	if err := security.ValidateDirectoryPermissions(d.rulesDir); err != nil {
		d.logger.Error("CRITICAL: rules directory has unsafe permissions during reload", "error", err)
		return
	}

	rules, err := d.readRules()
	if err != nil {
		d.logger.Error("failed to reload rules", "error", err)
		return
	}
	d.applyRules(ctx, rules)
	d.logger.Info("rules reloaded", "rules_loaded", len(rules))
}
