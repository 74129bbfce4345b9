package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/valter-silva-au/duealert/pkg/models"
)

// SQLiteActionStore keeps the queue in a local SQLite database. Insertion
// order is the autoincrement seq column.
type SQLiteActionStore struct {
	db   *sqlx.DB
	path string
}

// actionRow is the scanned form of a queued_actions row. Timestamps are
// stored as RFC 3339 text.
type actionRow struct {
	ID         string `db:"id"`
	ActionType string `db:"action_type"`
	Payload    string `db:"payload"`
	EnqueuedAt string `db:"enqueued_at"`
	Attempts   int    `db:"attempts"`
}

func (r actionRow) toModel() (models.QueuedAction, error) {
	at, err := time.Parse(time.RFC3339Nano, r.EnqueuedAt)
	if err != nil {
		return models.QueuedAction{}, fmt.Errorf("parsing enqueued_at for %s: %w", r.ID, err)
	}
	return models.QueuedAction{
		ID:         r.ID,
		ActionType: r.ActionType,
		Payload:    []byte(r.Payload),
		EnqueuedAt: at,
		Attempts:   r.Attempts,
	}, nil
}

// NewSQLiteActionStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteActionStore(dbPath string) (*SQLiteActionStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating sqlite dir: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// One writer keeps the FIFO head stable across concurrent callers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteActionStore{db: db, path: dbPath}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// LockFlush serialises flushes across every process using the database file.
func (s *SQLiteActionStore) LockFlush(ctx context.Context) (func(), error) {
	release, err := lockFileContext(ctx, s.path+".flush.lock", flushLockPoll)
	if err != nil {
		return nil, fmt.Errorf("locking %s for flush: %w", s.path, err)
	}
	return func() { _ = release() }, nil
}

// Close closes the underlying database connection.
func (s *SQLiteActionStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteActionStore) Append(ctx context.Context, action models.QueuedAction) error {
	payload := string(action.Payload)
	if payload == "" {
		payload = "null"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO queued_actions (id, action_type, payload, enqueued_at, attempts)
		 VALUES (?, ?, ?, ?, ?)`,
		action.ID, action.ActionType, payload,
		action.EnqueuedAt.UTC().Format(time.RFC3339Nano), action.Attempts,
	)
	if err != nil {
		return fmt.Errorf("inserting action %s: %w", action.ID, err)
	}
	return nil
}

func (s *SQLiteActionStore) List(ctx context.Context) ([]models.QueuedAction, error) {
	var rows []actionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, action_type, payload, enqueued_at, attempts
		 FROM queued_actions ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing actions: %w", err)
	}

	out := make([]models.QueuedAction, 0, len(rows))
	for _, r := range rows {
		a, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *SQLiteActionStore) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM queued_actions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("removing action %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteActionStore) IncrementAttempts(ctx context.Context, id string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queued_actions SET attempts = attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("recording attempt for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}

	var attempts int
	err = s.db.GetContext(ctx, &attempts, `SELECT attempts FROM queued_actions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}
	if err != nil {
		return 0, fmt.Errorf("reading attempts for %s: %w", id, err)
	}
	return attempts, nil
}

func (s *SQLiteActionStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM queued_actions`); err != nil {
		return 0, fmt.Errorf("counting actions: %w", err)
	}
	return n, nil
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteActionStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range sqliteMigrations {
		if m.version <= currentVersion {
			continue
		}
		tx, err := s.db.Beginx()
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", m.version, err)
		}
	}
	return nil
}

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// sqliteMigrations must be sequential starting from 1.
var sqliteMigrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS queued_actions (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	action_type TEXT NOT NULL,
	payload     TEXT NOT NULL DEFAULT 'null',
	enqueued_at TEXT NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
