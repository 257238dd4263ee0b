package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"signin-automation/captcha"
)

// Database is the sqlite journal of captcha attempts
type Database struct {
	db     *sql.DB
	logger *logrus.Logger
}

// Attempt is a stored captcha attempt
type Attempt struct {
	ID          int       `json:"id"`
	RunID       string    `json:"run_id"`
	Attempt     int       `json:"attempt"`
	GapX        int       `json:"gap_x"`
	GapFallback bool      `json:"gap_fallback"`
	Scale       float64   `json:"scale"`
	Distance    int       `json:"distance"`
	Steps       int       `json:"steps"`
	Outcome     string    `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Stats summarises attempts over a period
type Stats struct {
	Runs          int `json:"runs"`
	Attempts      int `json:"attempts"`
	Solved        int `json:"solved"`
	Unsolved      int `json:"unsolved"`
	Indeterminate int `json:"indeterminate"`
	Fallbacks     int `json:"fallbacks"`
}

// NewDatabase creates a new database connection
func NewDatabase(dbPath string, logger *logrus.Logger) (*Database, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &Database{
		db:     db,
		logger: logger,
	}

	if err := database.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	logger.WithField("path", dbPath).Info("Attempt journal initialized")
	return database, nil
}

func (d *Database) initTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS captcha_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			gap_x INTEGER,
			gap_fallback BOOLEAN DEFAULT 0,
			scale REAL,
			distance INTEGER,
			steps INTEGER,
			outcome TEXT NOT NULL,
			reason TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_captcha_attempts_run_id ON captcha_attempts(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_captcha_attempts_created_at ON captcha_attempts(created_at)`,
	}

	for _, query := range queries {
		if _, err := d.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %s, error: %w", query, err)
		}
	}
	return nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// RecordAttempt stores one solver attempt.
func (d *Database) RecordAttempt(ctx context.Context, rec captcha.AttemptRecord) error {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	query := `INSERT INTO captcha_attempts (run_id, attempt, gap_x, gap_fallback, scale, distance, steps, outcome, reason, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := d.db.ExecContext(ctx, query,
		rec.RunID, rec.Attempt, rec.GapX, rec.GapFallback, rec.Scale,
		rec.Distance, rec.Steps, rec.Outcome.String(), rec.Reason, created.UTC())
	if err != nil {
		return fmt.Errorf("failed to save attempt: %w", err)
	}

	d.logger.WithFields(logrus.Fields{
		"run_id":  rec.RunID,
		"attempt": rec.Attempt,
		"outcome": rec.Outcome.String(),
	}).Debug("Captcha attempt saved")
	return nil
}

// GetRunAttempts returns the attempts of the runs whose id starts with runID,
// oldest first. A short id as printed by the status command is enough.
func (d *Database) GetRunAttempts(ctx context.Context, runID string) ([]*Attempt, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	query := `SELECT id, run_id, attempt, gap_x, gap_fallback, scale, distance, steps, outcome, reason, created_at
			  FROM captcha_attempts WHERE substr(run_id, 1, ?) = ? ORDER BY id`
	return d.queryAttempts(ctx, query, len(runID), runID)
}

// GetRecentAttempts returns the newest attempts first.
func (d *Database) GetRecentAttempts(ctx context.Context, limit int) ([]*Attempt, error) {
	query := `SELECT id, run_id, attempt, gap_x, gap_fallback, scale, distance, steps, outcome, reason, created_at
			  FROM captcha_attempts ORDER BY id DESC LIMIT ?`
	return d.queryAttempts(ctx, query, limit)
}

func (d *Database) queryAttempts(ctx context.Context, query string, args ...interface{}) ([]*Attempt, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		var a Attempt
		var reason sql.NullString
		err := rows.Scan(&a.ID, &a.RunID, &a.Attempt, &a.GapX, &a.GapFallback, &a.Scale,
			&a.Distance, &a.Steps, &a.Outcome, &reason, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.Reason = reason.String
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}

// GetStats summarises attempts created at or after since.
func (d *Database) GetStats(ctx context.Context, since time.Time) (*Stats, error) {
	query := `
		SELECT
			COUNT(DISTINCT run_id),
			COUNT(*),
			COALESCE(SUM(CASE WHEN outcome = 'solved' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'unsolved' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'indeterminate' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN gap_fallback THEN 1 ELSE 0 END), 0)
		FROM captcha_attempts WHERE created_at >= ?
	`

	var s Stats
	err := d.db.QueryRowContext(ctx, query, since.UTC()).Scan(
		&s.Runs, &s.Attempts, &s.Solved, &s.Unsolved, &s.Indeterminate, &s.Fallbacks)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &s, nil
}
