// internal/daemon/daemon.go
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/colebrumley/tapguard/internal/config"
	"github.com/colebrumley/tapguard/internal/logging"
	"github.com/colebrumley/tapguard/internal/metrics"
	"github.com/colebrumley/tapguard/internal/redisgate"
	"github.com/colebrumley/tapguard/internal/security"
	"github.com/colebrumley/tapguard/internal/source"
	"github.com/colebrumley/tapguard/internal/state"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
)

var (
	ErrRuleNotFound = errors.New("rule not found")
	ErrRuleDisabled = errors.New("rule is disabled")
)

// sharedGate claims a rule's window across daemons.
type sharedGate interface {
	Acquire(ctx context.Context, key string, window time.Duration) (bool, error)
	Extend(ctx context.Context, key string, window time.Duration) error
	Close() error
}

// Daemon owns the rules, their sources and their debounced triggers.
type Daemon struct {
	configPath string
	rulesDir   string
	config     *config.Global
	logger     *slog.Logger
	logCloser  func() error
	clock      clockwork.Clock

	mu      sync.RWMutex
	rules   map[string]*config.Rule // every loaded rule, enabled or not
	entries map[string]*ruleEntry   // enabled rules only

	events  chan source.Event
	baseCtx context.Context

	stateDB     *state.DB
	registry    *prometheus.Registry
	metrics     *metrics.TriggerMetrics
	gate        sharedGate
	housekeeper *cron.Cron
	httpServer  *http.Server
	startTime   time.Time

	sem chan struct{}  // concurrency limiter
	wg  sync.WaitGroup // tracks in-flight event handlers
}

// New creates a new daemon instance
func New(configPath, rulesDir string) *Daemon {
	return &Daemon{
		configPath: configPath,
		rulesDir:   rulesDir,
		clock:      clockwork.NewRealClock(),
		rules:      make(map[string]*config.Rule),
		entries:    make(map[string]*ruleEntry),
		events:     make(chan source.Event, 100),
		baseCtx:    context.Background(),
		logger:     slog.Default(),
	}
}

// Run starts the daemon and blocks until ctx is cancelled
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.init(ctx); err != nil {
		return err
	}

	go d.startHTTPServer(ctx)
	go d.startHotReload(ctx)

	d.fireLifecycleEvent(source.DaemonStarted)

	d.mu.RLock()
	d.logger.Info("daemon started", "rules_loaded", len(d.rules), "rules_enabled", len(d.entries))
	d.mu.RUnlock()

	for {
		select {
		case event := <-d.events:
			select {
			case d.sem <- struct{}{}:
			case <-ctx.Done():
				continue
			}
			d.wg.Add(1)
			go func() {
				defer func() {
					<-d.sem
					d.wg.Done()
				}()
				d.handleEvent(ctx, event)
			}()
		case <-ctx.Done():
			d.logger.Info("daemon stopping, waiting for in-flight handlers")
			d.wg.Wait()
			// the run context is gone; daemon_stopped rules get a fresh one
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			d.handleLifecycleShutdown(shutdownCtx)
			cancel()
			return d.shutdown()
		}
	}
}

// init loads configuration and rules and builds every dependency short of
// the HTTP listener and the reload watcher.
func (d *Daemon) init(ctx context.Context) error {
	d.startTime = time.Now()
	d.baseCtx = ctx

	if err := d.loadConfig(); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	d.initLogger()
	d.logger.Info("starting daemon", "config", d.configPath, "rules_dir", d.rulesDir)

	if err := d.initStateDB(); err != nil {
		d.logger.Warn("failed to initialize state database, history will not be recorded", "error", err)
	}

	d.registry = metrics.NewRegistry()
	d.metrics = metrics.NewTriggerMetrics(d.registry)

	if err := d.initGate(ctx); err != nil {
		d.logger.Warn("shared gate unavailable, shared rules debounce locally only", "error", err)
	}

	if err := security.ValidateDirectoryPermissions(d.rulesDir); err != nil {
		d.logger.Error("CRITICAL: rules directory has unsafe permissions", "error", err, "path", d.rulesDir)
	}

	d.sem = make(chan struct{}, d.config.RuleExecution.MaxConcurrent)

	rules, err := d.readRules()
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	d.applyRules(ctx, rules)
	return nil
}

func (d *Daemon) loadConfig() error {
	cfg, err := config.LoadGlobal(d.configPath)
	if err != nil {
		return err
	}
	d.config = cfg
	return nil
}

// initLogger logs to the configured rotating file, falling back to stdout.
func (d *Daemon) initLogger() {
	logCfg := d.config.Logging
	if logCfg.File == "" {
		d.logger = logging.NewLogger(logCfg.Format, d.config.Daemon.LogLevel, os.Stdout)
		return
	}

	w, err := logging.NewRotatingWriter(logCfg.File, int64(logCfg.MaxSizeMB)*1024*1024, logCfg.MaxBackups)
	if err != nil {
		d.logger = logging.NewLogger(logCfg.Format, d.config.Daemon.LogLevel, os.Stdout)
		d.logger.Warn("failed to initialize rotating log writer, using stdout", "error", err)
		return
	}
	d.logger = logging.NewLogger(logCfg.Format, d.config.Daemon.LogLevel, w)
	d.logCloser = w.Close
}

// initStateDB opens the history database and schedules retention cleanup.
func (d *Daemon) initStateDB() error {
	db, err := state.Open(d.config.State.Path)
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	d.stateDB = db

	retention := d.config.State.RetentionDays
	cleanup := func() {
		if deleted, err := db.Cleanup(retention); err != nil {
			d.logger.Warn("state cleanup failed", "error", err)
		} else if deleted > 0 {
			d.logger.Info("cleaned up old attempt records", "deleted", deleted)
		}
	}
	go cleanup()

	d.housekeeper = cron.New()
	if _, err := d.housekeeper.AddFunc("@daily", cleanup); err != nil {
		return fmt.Errorf("scheduling state cleanup: %w", err)
	}
	d.housekeeper.Start()
	return nil
}

func (d *Daemon) initGate(ctx context.Context) error {
	if d.config.Redis.URL == "" {
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	g, err := redisgate.New(pingCtx, d.config.Redis.URL, d.config.Redis.KeyPrefix)
	if err != nil {
		return err
	}
	d.gate = g
	return nil
}

func (d *Daemon) shutdown() error {
	d.mu.Lock()
	for _, e := range d.entries {
		e.stop()
	}
	d.mu.Unlock()

	if d.housekeeper != nil {
		<-d.housekeeper.Stop().Done()
	}
	if d.gate != nil {
		d.gate.Close()
	}

	var errs []error
	if d.stateDB != nil {
		errs = append(errs, d.stateDB.Close())
	}
	if d.logCloser != nil {
		errs = append(errs, d.logCloser())
	}
	return errors.Join(errs...)
}
