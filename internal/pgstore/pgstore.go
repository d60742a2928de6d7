// Package pgstore is the durable implementation of internal/queue.Queue
// and internal/taskstore.Store, backed by Postgres via pgx. There are two
// logical tables: items (one row per live prioritised item, unique hash
// per scheduler_id) and tasks (append-only history keyed by id, indexed
// by hash and scheduler_id).
package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scanhive/mula/internal/model"
	"github.com/scanhive/mula/internal/queue"
)

// Store bundles the queue and task-store tables behind one connection
// pool, so a push can write both rows inside a single transaction.
type Store struct {
	pool *pgxpool.Pool
}

// New opens a pool against connString.
func New(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, model.NewError("pgstore.New", model.KindPersistenceError, err)
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, model.NewError("pgstore.New", model.KindPersistenceError, err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, model.NewError("pgstore.New", model.KindPersistenceError, err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Migrate creates the items/tasks tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS items (
	id TEXT PRIMARY KEY,
	scheduler_id TEXT NOT NULL,
	priority INT NOT NULL,
	data JSONB NOT NULL,
	hash TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	modified_at TIMESTAMPTZ NOT NULL,
	UNIQUE (scheduler_id, hash)
);
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	scheduler_id TEXT NOT NULL,
	hash TEXT NOT NULL,
	p_item JSONB NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	modified_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS tasks_hash_idx ON tasks (scheduler_id, hash);
CREATE INDEX IF NOT EXISTS tasks_scheduler_status_idx ON tasks (scheduler_id, status);
`
	_, err := s.pool.Exec(ctx, ddl)
	if err != nil {
		return model.NewError("pgstore.Migrate", model.KindPersistenceError, err)
	}
	return nil
}

// Queue returns a queue.Queue backed by this store's items table, scoped to
// schedulerID and the given payload variant/policy.
func (s *Store) Queue(schedulerID string, variant model.PayloadKind, maxSize int, policy queue.PushPolicy, clock model.Clock) *PostgresQueue {
	if clock == nil {
		clock = model.RealClock
	}
	return &PostgresQueue{
		store:       s,
		schedulerID: schedulerID,
		variant:     variant,
		maxSize:     maxSize,
		policy:      policy,
		clock:       clock,
	}
}

// TaskStore returns a taskstore.Store backed by this store's tasks table.
func (s *Store) TaskStore() *PostgresTaskStore {
	return &PostgresTaskStore{store: s}
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
