package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/valter-silva-au/duealert/pkg/models"
)

const (
	postgresQueueTableName   = "duealert_queued_actions"
	postgresOperationTimeout = 5 * time.Second
)

// PostgresActionStore keeps the queue in a shared Postgres table so several
// hosts of the same user see one backlog. The connection and schema are set
// up lazily on first use, and a failed attempt is retried by the next
// operation. Payloads are stored as TEXT so they come back byte for byte.
type PostgresActionStore struct {
	dsn       string
	tableName string

	mu     sync.Mutex
	db     *sqlx.DB
	closed bool
	open   func(ctx context.Context) (*sqlx.DB, error)
}

// NewPostgresActionStore validates the DSN. No connection is made until the
// first operation.
func NewPostgresActionStore(dsn string) (*PostgresActionStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidDSN
	}
	s := &PostgresActionStore{dsn: dsn, tableName: postgresQueueTableName}
	s.open = s.connect
	return s, nil
}

func (s *PostgresActionStore) table() string {
	return pq.QuoteIdentifier(s.tableName)
}

// ensureReady returns the connection pool, connecting and creating the table
// unless an earlier call already did.
func (s *PostgresActionStore) ensureReady(ctx context.Context) (*sqlx.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("postgres queue: %w", ErrStoreClosed)
	}
	if s.db != nil {
		return s.db, nil
	}
	db, err := s.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres queue: %w", err)
	}
	s.db = db
	return db, nil
}

func (s *PostgresActionStore) connect(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", s.dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			seq         BIGSERIAL PRIMARY KEY,
			id          TEXT NOT NULL UNIQUE,
			action_type TEXT NOT NULL,
			payload     TEXT NOT NULL DEFAULT 'null',
			enqueued_at TIMESTAMPTZ NOT NULL,
			attempts    INTEGER NOT NULL DEFAULT 0
		)`, s.table()))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// LockFlush holds a session-level advisory lock keyed on the table name, so
// flushes from every host sharing the table run one at a time.
func (s *PostgresActionStore) LockFlush(ctx context.Context) (func(), error) {
	db, err := s.ensureReady(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserving flush connection: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(hashtext($1))`, s.tableName); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("locking %s for flush: %w", s.tableName, err)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()
		_, _ = conn.ExecContext(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, s.tableName)
		_ = conn.Close()
	}, nil
}

func (s *PostgresActionStore) Append(ctx context.Context, action models.QueuedAction) error {
	db, err := s.ensureReady(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	payload := string(action.Payload)
	if payload == "" {
		payload = "null"
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, action_type, payload, enqueued_at, attempts) VALUES ($1, $2, $3, $4, $5)`,
		s.table()), action.ID, action.ActionType, payload, action.EnqueuedAt.UTC(), action.Attempts)
	if err != nil {
		return fmt.Errorf("inserting action %s: %w", action.ID, err)
	}
	return nil
}

type pgActionRow struct {
	ID         string    `db:"id"`
	ActionType string    `db:"action_type"`
	Payload    string    `db:"payload"`
	EnqueuedAt time.Time `db:"enqueued_at"`
	Attempts   int       `db:"attempts"`
}

func (s *PostgresActionStore) List(ctx context.Context) ([]models.QueuedAction, error) {
	db, err := s.ensureReady(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	var rows []pgActionRow
	err = db.SelectContext(ctx, &rows, fmt.Sprintf(
		`SELECT id, action_type, payload, enqueued_at, attempts FROM %s ORDER BY seq ASC`,
		s.table()))
	if err != nil {
		return nil, fmt.Errorf("listing actions: %w", err)
	}
	out := make([]models.QueuedAction, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.QueuedAction{
			ID:         r.ID,
			ActionType: r.ActionType,
			Payload:    []byte(r.Payload),
			EnqueuedAt: r.EnqueuedAt.UTC(),
			Attempts:   r.Attempts,
		})
	}
	return out, nil
}

func (s *PostgresActionStore) Remove(ctx context.Context, id string) error {
	db, err := s.ensureReady(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	if _, err := db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table()), id); err != nil {
		return fmt.Errorf("removing action %s: %w", id, err)
	}
	return nil
}

func (s *PostgresActionStore) IncrementAttempts(ctx context.Context, id string) (int, error) {
	db, err := s.ensureReady(ctx)
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	var attempts []int
	err = db.SelectContext(ctx, &attempts, fmt.Sprintf(
		`UPDATE %s SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts`, s.table()), id)
	if err != nil {
		return 0, fmt.Errorf("recording attempt for %s: %w", id, err)
	}
	if len(attempts) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}
	return attempts[0], nil
}

func (s *PostgresActionStore) Len(ctx context.Context) (int, error) {
	db, err := s.ensureReady(ctx)
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	var n int
	if err := db.GetContext(ctx, &n, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table())); err != nil {
		return 0, fmt.Errorf("counting actions: %w", err)
	}
	return n, nil
}

func (s *PostgresActionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
