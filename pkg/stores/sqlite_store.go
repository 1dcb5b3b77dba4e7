// Package stores persists run reports so past enforcement runs can be
// inspected after the fact.
package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/cloudwarden/cloudwarden/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements engine.ReportStore on a local SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration. Zero pool values fall back to
// defaults.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	return c
}

// NewSQLiteStore creates a store instance. Call Init before use.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{cfg: cfg.withDefaults()}, nil
}

// Init opens the database, enables WAL mode and runs migrations.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return s.migrate()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// SaveReport implements engine.ReportStore. The run row and its results are
// written in one transaction.
func (s *SQLiteStore) SaveReport(ctx context.Context, report *engine.Report) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var runErr sql.NullString
	if report.Err != nil {
		runErr = sql.NullString{String: report.Err.Error(), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, policy, resource_type, region, queried, matched, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.RunID,
		report.Policy,
		report.ResourceType,
		report.Region,
		report.Queried,
		report.Matched,
		runErr,
		report.StartedAt,
		report.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, result := range report.Results {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_results (run_id, resource_id, action, status, error)
			VALUES (?, ?, ?, ?, ?)
		`,
			report.RunID,
			result.ResourceID,
			result.Action,
			string(result.Status),
			result.Error,
		)
		if err != nil {
			return fmt.Errorf("failed to insert result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit report: %w", err)
	}
	return nil
}

// RunSummary is one persisted run row.
type RunSummary struct {
	RunID        string
	Policy       string
	ResourceType string
	Region       string
	Queried      int
	Matched      int
	Error        string
	StartedAt    time.Time
	CompletedAt  time.Time
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, policy, resource_type, region, queried, matched, error, started_at, completed_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var run RunSummary
		var runErr sql.NullString
		if err := rows.Scan(
			&run.RunID,
			&run.Policy,
			&run.ResourceType,
			&run.Region,
			&run.Queried,
			&run.Matched,
			&runErr,
			&run.StartedAt,
			&run.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Error = runErr.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns one run and its per-resource results.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*RunSummary, []engine.Result, error) {
	var run RunSummary
	var runErr sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, policy, resource_type, region, queried, matched, error, started_at, completed_at
		FROM runs
		WHERE id = ?
	`, runID).Scan(
		&run.RunID,
		&run.Policy,
		&run.ResourceType,
		&run.Region,
		&run.Queried,
		&run.Matched,
		&runErr,
		&run.StartedAt,
		&run.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, engine.NewNotFoundError(fmt.Sprintf("run not found: %s", runID), nil)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get run: %w", err)
	}
	run.Error = runErr.String

	rows, err := s.db.QueryContext(ctx, `
		SELECT resource_id, action, status, error
		FROM run_results
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var results []engine.Result
	for rows.Next() {
		var result engine.Result
		var status string
		var resultErr sql.NullString
		if err := rows.Scan(&result.ResourceID, &result.Action, &status, &resultErr); err != nil {
			return nil, nil, fmt.Errorf("failed to scan result: %w", err)
		}
		result.Status = engine.ResultStatus(status)
		result.Error = resultErr.String
		results = append(results, result)
	}
	return &run, results, rows.Err()
}

// AppendEvent implements engine.EventSink. Events are written outside the
// report transaction so a run that never completes still leaves a trail.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event engine.RunEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (run_id, level, message, timestamp)
		VALUES (?, ?, ?, ?)
	`,
		event.RunID,
		event.Level,
		event.Message,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// GetEvents returns a run's event log in the order events were recorded.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID string) ([]engine.RunEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, level, message, timestamp
		FROM events
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []engine.RunEvent
	for rows.Next() {
		var event engine.RunEvent
		if err := rows.Scan(&event.RunID, &event.Level, &event.Message, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// HealthCheck verifies the database connection.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
