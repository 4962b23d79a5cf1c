// Package store implements the durable Store of spec §4.A: CRUD for
// projects, tasks, agents, activities, documents, and notifications, backed
// by SQLite so writes are atomic per entity without hand-rolled
// write-temp-then-rename file juggling (the teacher's own file-store used
// that trick; SQLite gives the same per-entity atomicity through a
// transaction, and the teacher itself migrated its job queue to SQLite for
// exactly this reason — see zkoranges-go-claw/internal/persistence).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	schemaVersion = 1

	busyRetryAttempts = 5
	busyRetryBase     = 10 * time.Millisecond
)

// Store is the durable backing store for all Mission-Control entities.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (and, if needed, creates) the SQLite database at path. Pass
// ":memory:" for an ephemeral store, used throughout the test suite.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if path == ":memory:" {
		// A single shared in-memory connection: a second connection would see
		// an empty database.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_info (version INTEGER NOT NULL);`,
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			tags_json TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL,
			creator_id TEXT NOT NULL DEFAULT '',
			prd_document_id TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			priority TEXT NOT NULL DEFAULT 'medium',
			assignee_ids_json TEXT NOT NULL DEFAULT '[]',
			creator_id TEXT NOT NULL DEFAULT '',
			parent_task_id TEXT,
			blocked_by_json TEXT NOT NULL DEFAULT '[]',
			blocks_json TEXT NOT NULL DEFAULT '[]',
			tags_json TEXT NOT NULL DEFAULT '[]',
			project_id TEXT,
			task_type TEXT NOT NULL DEFAULT 'agent',
			active_description TEXT NOT NULL DEFAULT '',
			estimated_minutes INTEGER,
			completed_at TEXT,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);`,
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			specialties_json TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL,
			current_task_id TEXT,
			backend TEXT NOT NULL DEFAULT '',
			level TEXT NOT NULL DEFAULT '',
			last_heartbeat TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS activities (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			agent_id TEXT,
			task_id TEXT,
			project_id TEXT,
			message TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_activities_project ON activities(project_id);`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			author_id TEXT NOT NULL DEFAULT '',
			task_id TEXT,
			project_id TEXT,
			tags_json TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_task ON documents(task_id);`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			recipient_id TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			task_id TEXT,
			read INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_info;`).Scan(&count); err != nil {
		return fmt.Errorf("check schema_info: %w", err)
	}
	if count == 0 {
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_info (version) VALUES (?);`, schemaVersion); err != nil {
			return fmt.Errorf("seed schema_info: %w", err)
		}
	}
	return tx.Commit()
}

// withTx runs fn inside a transaction, retrying on SQLITE_BUSY with bounded
// jitter (mirrors the teacher's retryOnBusy in internal/persistence/store.go).
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			if isBusyErr(err) {
				lastErr = err
				sleepJitter(attempt)
				continue
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			if isBusyErr(err) {
				lastErr = err
				sleepJitter(attempt)
				continue
			}
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	}
	return fmt.Errorf("tx retries exhausted: %w", lastErr)
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "database is locked" || err.Error() == "SQLITE_BUSY"
}

func sleepJitter(attempt int) {
	base := busyRetryBase * time.Duration(1<<attempt)
	jitter := time.Duration(rand.Int64N(int64(base)))
	time.Sleep(base + jitter)
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
