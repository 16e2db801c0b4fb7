// internal/daemon/http.go
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/colebrumley/tapguard/internal/api"
	"github.com/colebrumley/tapguard/internal/config"
	"github.com/colebrumley/tapguard/internal/debounce"
	"github.com/colebrumley/tapguard/internal/metrics"
	"github.com/colebrumley/tapguard/internal/source"
	"github.com/colebrumley/tapguard/internal/state"
	"golang.org/x/time/rate"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	maxAttemptBody      = 64 * 1024
)

// startHTTPServer serves the API, metrics and webhooks until ctx is done.
func (d *Daemon) startHTTPServer(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", d.config.Daemon.ListenAddress, d.config.Daemon.ListenPort)
	d.httpServer = &http.Server{
		Addr:              addr,
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	d.logger.Info("starting HTTP server", "address", addr)
	go func() {
		if err := d.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.httpServer.Shutdown(shutdownCtx)
}

// Handler returns the daemon's HTTP routes.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", rateLimit(60, d.handleHealth))
	mux.HandleFunc("GET /api/rules", rateLimit(30, d.handleAPIRules))
	mux.HandleFunc("POST /api/rules/{name}/attempt", rateLimit(30, d.handleAPIAttempt))
	mux.HandleFunc("GET /api/history", rateLimit(30, d.handleAPIHistory))
	mux.HandleFunc("GET /api/history/{id}", rateLimit(30, d.handleAPIAttemptRecord))
	mux.HandleFunc("GET /api/stats", rateLimit(30, d.handleAPIStats))

	if d.config.Metrics.IsEnabled() && d.registry != nil {
		path := d.config.Metrics.Path
		switch {
		case !config.ValidRoutePath(path):
			d.logger.Warn("metrics path is not a literal absolute path, metrics disabled", "path", path)
		case path == "/health" || strings.HasPrefix(path, "/api/"):
			d.logger.Warn("metrics path collides with the API, metrics disabled", "path", path)
		default:
			promHandler := metrics.Handler(d.registry)
			mux.HandleFunc("GET "+path, func(w http.ResponseWriter, r *http.Request) {
				d.refreshCooling()
				promHandler.ServeHTTP(w, r)
			})
		}
	}

	mux.HandleFunc("/", rateLimit(10, d.handleWebhook))
	return mux
}

// rateLimit wraps handler with a token bucket refilled at perMinute.
func rateLimit(perMinute int, handler http.HandlerFunc) http.HandlerFunc {
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		handler(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, api.Error{Error: msg})
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	d.mu.RLock()
	health := api.Health{
		Status:       "ok",
		Uptime:       time.Since(d.startTime).Truncate(time.Second).String(),
		RulesLoaded:  len(d.rules),
		RulesEnabled: len(d.entries),
		SharedGate:   d.gate != nil,
		History:      d.stateDB != nil,
	}
	d.mu.RUnlock()

	writeJSON(w, http.StatusOK, health)
}

// ruleStatuses snapshots every rule, sorted by name.
func (d *Daemon) ruleStatuses() []api.RuleStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	statuses := make([]api.RuleStatus, 0, len(d.rules))
	for name, rule := range d.rules {
		rs := api.RuleStatus{
			Name:        name,
			Description: rule.Description,
			Enabled:     rule.Enabled,
			DryRun:      rule.DryRun,
			SourceType:  rule.Source.Type,
			State:       "disabled",
			Shared:      rule.Debounce.Shared,
		}
		if e, ok := d.entries[name]; ok {
			// the trigger counts shared drops as accepted; report them
			// as dropped to match the history
			stats := e.trigger.Stats()
			shared := min(e.sharedDropped.Load(), stats.Accepted)
			rs.State = e.trigger.State().String()
			rs.Accepted = stats.Accepted - shared
			rs.Dropped = stats.Dropped + shared
			rs.LastAccepted = stats.LastAccepted
			rs.IntervalMs = e.settings.Interval.Milliseconds()
			rs.Stamp = e.settings.Stamp.String()
			rs.Window = e.settings.Window.String()
			rs.Shared = e.settings.Shared
		}
		statuses = append(statuses, rs)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

func (d *Daemon) handleAPIRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.ruleStatuses())
}

func (d *Daemon) handleAPIAttempt(w http.ResponseWriter, r *http.Request) {
	var req api.AttemptRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAttemptBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body: "+err.Error())
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
	}

	event := source.NewEvent(r.PathValue("name"), "manual", req.Data)
	res, err := d.attemptRule(d.baseCtx, event)
	switch {
	case errors.Is(err, ErrRuleNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrRuleDisabled):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (d *Daemon) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	if d.stateDB == nil {
		writeJSON(w, http.StatusOK, []state.AttemptRecord{})
		return
	}

	q := r.URL.Query()
	limit := defaultHistoryLimit
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := d.stateDB.GetHistory(q.Get("rule"), q.Get("outcome"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("querying history: %v", err))
		return
	}
	if records == nil {
		records = []state.AttemptRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (d *Daemon) handleAPIAttemptRecord(w http.ResponseWriter, r *http.Request) {
	if d.stateDB == nil {
		writeError(w, http.StatusServiceUnavailable, "attempt history is not available")
		return
	}

	rec, err := d.stateDB.GetAttempt(r.PathValue("id"))
	switch {
	case errors.Is(err, state.ErrNotFound):
		writeError(w, http.StatusNotFound, "attempt not found: "+r.PathValue("id"))
	case err != nil:
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("querying attempt: %v", err))
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

// handleAPIStats serves per-rule totals from the history, which unlike the
// trigger counters survive restarts.
func (d *Daemon) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	if d.stateDB == nil {
		writeJSON(w, http.StatusOK, []state.RuleStats{})
		return
	}

	stats, err := d.stateDB.RuleStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("querying stats: %v", err))
		return
	}
	if stats == nil {
		stats = []state.RuleStats{}
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleWebhook routes any other path to the webhook source listening on it.
func (d *Daemon) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var wh *source.Webhook
	d.mu.RLock()
	for _, e := range d.entries {
		if candidate, ok := e.src.(*source.Webhook); ok && candidate.ListenPath() == r.URL.Path {
			wh = candidate
			break
		}
	}
	d.mu.RUnlock()

	if wh == nil {
		http.NotFound(w, r)
		return
	}

	switch err := wh.HandleRequest(r, d.events); {
	case err == nil:
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	case errors.Is(err, source.ErrQueueFull):
		http.Error(w, "Busy", http.StatusServiceUnavailable)
	case errors.Is(err, source.ErrBadBody):
		d.logger.Warn("webhook body read failed", "path", r.URL.Path, "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
	default:
		http.Error(w, "Forbidden", http.StatusForbidden)
	}
}

// refreshCooling brings the cooling gauge up to date before a scrape.
func (d *Daemon) refreshCooling() {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for name, e := range d.entries {
		d.metrics.SetCooling(name, e.trigger.State() == debounce.Cooling)
	}
}
