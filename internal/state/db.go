// internal/state/db.go
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when an attempt ID is unknown.
var ErrNotFound = errors.New("attempt not found")

// Attempt outcomes. Everything except the dropped ones means the trigger
// accepted the attempt and the action ran (or would have, for dry_run).
const (
	OutcomeSuccess       = "success"
	OutcomeFailure       = "failure"
	OutcomeTimeout       = "timeout"
	OutcomeCancelled     = "cancelled"
	OutcomeDryRun        = "dry_run"
	OutcomeDropped       = "dropped"
	OutcomeDroppedShared = "dropped_shared"
)

const (
	maxEventDataBytes = 1024
	maxOutputBytes    = 10 * 1024
)

// AttemptRecord is one invocation attempt against a rule's trigger.
type AttemptRecord struct {
	AttemptID   string    `json:"attempt_id"`
	RuleName    string    `json:"rule_name"`
	SourceType  string    `json:"source_type"`
	Outcome     string    `json:"outcome"`
	AttemptedAt time.Time `json:"attempted_at"`
	DurationMs  int64     `json:"duration_ms"`
	EventData   string    `json:"event_data,omitempty"` // JSON, max 1KB
	Error       string    `json:"error,omitempty"`
	Output      string    `json:"output,omitempty"` // max 10KB, scrubbed by the caller
}

// Accepted reports whether the trigger let this attempt through.
func (r AttemptRecord) Accepted() bool {
	return r.Outcome != OutcomeDropped && r.Outcome != OutcomeDroppedShared
}

// RuleStats aggregates a rule's recorded attempts.
type RuleStats struct {
	RuleName     string    `json:"rule_name"`
	Accepted     int64     `json:"accepted"`
	Dropped      int64     `json:"dropped"`
	LastAccepted time.Time `json:"last_accepted,omitzero"`
}

// DB wraps the SQLite database connection for attempt history.
type DB struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL,
    applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS attempts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    attempt_id TEXT NOT NULL UNIQUE,
    rule_name TEXT NOT NULL,
    source_type TEXT NOT NULL,
    outcome TEXT NOT NULL,
    attempted_at DATETIME NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    event_data TEXT,
    error TEXT,
    output TEXT
);

CREATE INDEX IF NOT EXISTS idx_attempts_rule ON attempts(rule_name);
CREATE INDEX IF NOT EXISTS idx_attempts_outcome ON attempts(outcome);
CREATE INDEX IF NOT EXISTS idx_attempts_attempted ON attempts(attempted_at);
`

// Open opens or creates a state database at the given path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite allows a single writer; concurrent attempts queue on the pool.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		db.Close()
		return nil, fmt.Errorf("reading schema version: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
			db.Close()
			return nil, fmt.Errorf("writing schema version: %w", err)
		}
	}

	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// RecordAttempt stores an attempt. Oversized event data and output are truncated.
func (d *DB) RecordAttempt(rec AttemptRecord) error {
	if rec.AttemptID == "" {
		return errors.New("recording attempt: attempt_id is required")
	}

	_, err := d.db.Exec(`
		INSERT INTO attempts
		(attempt_id, rule_name, source_type, outcome, attempted_at, duration_ms, event_data, error, output)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.AttemptID, rec.RuleName, rec.SourceType, rec.Outcome, rec.AttemptedAt.UTC(),
		rec.DurationMs, truncate(rec.EventData, maxEventDataBytes), rec.Error,
		truncate(rec.Output, maxOutputBytes),
	)
	if err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}
	return nil
}

const selectAttempt = `SELECT attempt_id, rule_name, source_type, outcome, attempted_at,
	duration_ms, event_data, error, output FROM attempts`

// GetHistory returns attempts newest first, filtered by rule and/or outcome.
// A non-positive limit means no limit.
func (d *DB) GetHistory(ruleName, outcome string, limit int) ([]AttemptRecord, error) {
	query := selectAttempt + " WHERE 1=1"
	var args []any

	if ruleName != "" {
		query += " AND rule_name = ?"
		args = append(args, ruleName)
	}
	if outcome != "" {
		query += " AND outcome = ?"
		args = append(args, outcome)
	}

	query += " ORDER BY attempted_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var records []AttemptRecord
	for rows.Next() {
		r, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// GetAttempt returns a single attempt by ID.
func (d *DB) GetAttempt(attemptID string) (AttemptRecord, error) {
	row := d.db.QueryRow(selectAttempt+" WHERE attempt_id = ?", attemptID)
	r, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return AttemptRecord{}, ErrNotFound
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(s scanner) (AttemptRecord, error) {
	var r AttemptRecord
	var eventData, errStr, output sql.NullString
	if err := s.Scan(&r.AttemptID, &r.RuleName, &r.SourceType, &r.Outcome, &r.AttemptedAt,
		&r.DurationMs, &eventData, &errStr, &output); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scanning attempt: %w", err)
	}
	r.EventData = eventData.String
	r.Error = errStr.String
	r.Output = output.String
	return r, nil
}

// RuleStats returns per-rule accepted/dropped counts, ordered by rule name.
func (d *DB) RuleStats() ([]RuleStats, error) {
	rows, err := d.db.Query(`
		SELECT rule_name,
		       SUM(CASE WHEN outcome IN (?, ?) THEN 0 ELSE 1 END),
		       SUM(CASE WHEN outcome IN (?, ?) THEN 1 ELSE 0 END)
		FROM attempts
		GROUP BY rule_name
		ORDER BY rule_name`,
		OutcomeDropped, OutcomeDroppedShared, OutcomeDropped, OutcomeDroppedShared,
	)
	if err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	defer rows.Close()

	var stats []RuleStats
	for rows.Next() {
		var s RuleStats
		if err := rows.Scan(&s.RuleName, &s.Accepted, &s.Dropped); err != nil {
			return nil, fmt.Errorf("scanning stats: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range stats {
		last, err := d.lastAccepted(stats[i].RuleName)
		if err != nil {
			return nil, err
		}
		stats[i].LastAccepted = last
	}
	return stats, nil
}

func (d *DB) lastAccepted(ruleName string) (time.Time, error) {
	var t time.Time
	err := d.db.QueryRow(`
		SELECT attempted_at FROM attempts
		WHERE rule_name = ? AND outcome NOT IN (?, ?)
		ORDER BY attempted_at DESC LIMIT 1`,
		ruleName, OutcomeDropped, OutcomeDroppedShared,
	).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("getting last accepted attempt: %w", err)
	}
	return t, nil
}

// Cleanup removes attempts older than the specified number of days.
func (d *DB) Cleanup(retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	result, err := d.db.Exec("DELETE FROM attempts WHERE attempted_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning up history: %w", err)
	}
	return result.RowsAffected()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
