// Package journal persists orchestration run outcomes in a local SQLite
// database so operators can review deployment history.
package journal

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

	"github.com/groundworkhq/groundwork/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run is one persisted run record.
type Run struct {
	ID         string
	Mode       string
	Phase      string
	Success    bool
	Error      string
	HostAddr   string
	SSLEnabled bool
	StartedAt  time.Time
	DurationMS int64
	CreatedAt  time.Time
}

// SQLiteJournal implements run persistence using SQLite.
type SQLiteJournal struct {
	db   *sql.DB
	path string
}

// Config holds journal database configuration.
type Config struct {
	Path string
}

// New creates a journal instance. Init must be called before use.
func New(cfg Config) (*SQLiteJournal, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteJournal{path: cfg.Path}, nil
}

// Init opens the database connection and enables WAL mode.
func (j *SQLiteJournal) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", j.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// The journal is written by a single CLI process; one connection avoids
	// writer contention entirely.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	j.db = db
	return nil
}

// Close closes the database connection.
func (j *SQLiteJournal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded migration files.
func (j *SQLiteJournal) Migrate(_ context.Context) error {
	if j.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(j.db, &sqlite3.Config{})
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

// RecordRun persists the outcome of one orchestration run.
func (j *SQLiteJournal) RecordRun(ctx context.Context, result *engine.Result) error {
	query := `
		INSERT INTO runs (id, mode, phase, success, error, host_addr, ssl_enabled, started_at, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := j.db.ExecContext(ctx, query,
		result.RunID,
		string(result.Mode),
		string(result.Phase),
		result.Success,
		result.Error,
		result.HostAddr,
		result.SSLEnabled,
		result.StartedAt.UTC().Format(time.RFC3339),
		result.Duration.Milliseconds(),
		time.Now().UTC().Format(time.RFC3339),
	)

	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID.
func (j *SQLiteJournal) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, mode, phase, success, error, host_addr, ssl_enabled, started_at, duration_ms, created_at
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(j.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists the most recent runs, newest first.
func (j *SQLiteJournal) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `
		SELECT id, mode, phase, success, error, host_addr, ssl_enabled, started_at, duration_ms, created_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var startedAt, createdAt string
	err := row.Scan(
		&run.ID,
		&run.Mode,
		&run.Phase,
		&run.Success,
		&run.Error,
		&run.HostAddr,
		&run.SSLEnabled,
		&startedAt,
		&run.DurationMS,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	if run.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
		return nil, fmt.Errorf("malformed started_at %q: %w", startedAt, err)
	}
	if run.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("malformed created_at %q: %w", createdAt, err)
	}
	return run, nil
}
