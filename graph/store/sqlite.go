package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/agentgraph-go/graph"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed implementation of graph.CheckpointStore and
// graph.IdempotencyStore, adapted from the teacher's generic SQLiteStore[S].
//
// Designed for development, single-process deployments, and prototyping
// before migrating to MySQLStore. Uses WAL mode for concurrent reads and a
// single-writer connection pool, matching SQLite's concurrency model.
//
// Schema:
//   - run_checkpoints: one row per RunID, holding the serialized Checkpoint
//   - idempotency_entries: cached step outputs keyed by the composite
//     IdempotencyKey string, with optional TTL expiry
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at path
// and prepares its schema. Pass ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	store := &SQLiteStore{db: db, path: path}
	if err := store.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	checkpointsTable := `
		CREATE TABLE IF NOT EXISTS run_checkpoints (
			run_id TEXT PRIMARY KEY,
			graph_id TEXT NOT NULL,
			execution_state TEXT NOT NULL,
			checkpoint TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := s.db.ExecContext(ctx, checkpointsTable); err != nil {
		return fmt.Errorf("failed to create run_checkpoints table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_checkpoints_graph_state ON run_checkpoints(graph_id, execution_state)"); err != nil {
		return fmt.Errorf("failed to create idx_checkpoints_graph_state: %w", err)
	}

	idempotencyTable := `
		CREATE TABLE IF NOT EXISTS idempotency_entries (
			key_value TEXT PRIMARY KEY,
			message TEXT NOT NULL,
			expires_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := s.db.ExecContext(ctx, idempotencyTable); err != nil {
		return fmt.Errorf("failed to create idempotency_entries table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_idempotency_expires ON idempotency_entries(expires_at)"); err != nil {
		return fmt.Errorf("failed to create idx_idempotency_expires: %w", err)
	}

	return nil
}

// Save persists cp, replacing any prior checkpoint for the same RunID.
func (s *SQLiteStore) Save(ctx context.Context, cp graph.Checkpoint) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	cpJSON, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	query := `
		INSERT INTO run_checkpoints (run_id, graph_id, execution_state, checkpoint, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			graph_id = excluded.graph_id,
			execution_state = excluded.execution_state,
			checkpoint = excluded.checkpoint,
			timestamp = excluded.timestamp
	`
	_, err = s.db.ExecContext(ctx, query, cp.RunID, cp.GraphID, string(cp.ExecutionState), string(cpJSON), cp.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load retrieves the checkpoint for runID, if any.
func (s *SQLiteStore) Load(ctx context.Context, runID string) (graph.Checkpoint, bool, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return graph.Checkpoint{}, false, fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	var cpJSON string
	err := s.db.QueryRowContext(ctx, "SELECT checkpoint FROM run_checkpoints WHERE run_id = ?", runID).Scan(&cpJSON)
	if err == sql.ErrNoRows {
		return graph.Checkpoint{}, false, nil
	}
	if err != nil {
		return graph.Checkpoint{}, false, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var cp graph.Checkpoint
	if err := json.Unmarshal([]byte(cpJSON), &cp); err != nil {
		return graph.Checkpoint{}, false, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return cp, true, nil
}

// ListPending returns checkpoints still in the Waiting state, narrowed by
// filter.GraphID and filter.ExpiredBefore, capped by filter.Limit/Offset.
func (s *SQLiteStore) ListPending(ctx context.Context, filter graph.CheckpointFilter) ([]graph.Checkpoint, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	query := "SELECT checkpoint FROM run_checkpoints WHERE execution_state = ?"
	args := []interface{}{string(graph.StateWaiting)}

	if filter.GraphID != "" {
		query += " AND graph_id = ?"
		args = append(args, filter.GraphID)
	}
	if !filter.ExpiredBefore.IsZero() {
		query += " AND timestamp < ?"
		args = append(args, filter.ExpiredBefore.Format(time.RFC3339Nano))
	}
	query += " ORDER BY timestamp ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []graph.Checkpoint
	for rows.Next() {
		var cpJSON string
		if err := rows.Scan(&cpJSON); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		var cp graph.Checkpoint
		if err := json.Unmarshal([]byte(cpJSON), &cp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
		}
		results = append(results, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoint rows: %w", err)
	}
	return results, nil
}

// Lookup returns the cached Message for key, if present and unexpired.
func (s *SQLiteStore) Lookup(ctx context.Context, key graph.IdempotencyKey) (graph.Message, bool, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return graph.Message{}, false, fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	var msgJSON string
	var expiresAt sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT message, expires_at FROM idempotency_entries WHERE key_value = ?", key.String()).
		Scan(&msgJSON, &expiresAt)
	if err == sql.ErrNoRows {
		return graph.Message{}, false, nil
	}
	if err != nil {
		return graph.Message{}, false, fmt.Errorf("failed to look up idempotency entry: %w", err)
	}

	if expiresAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, expiresAt.String)
		if err == nil && time.Now().After(t) {
			return graph.Message{}, false, nil
		}
	}

	var m graph.Message
	if err := json.Unmarshal([]byte(msgJSON), &m); err != nil {
		return graph.Message{}, false, fmt.Errorf("failed to unmarshal cached message: %w", err)
	}
	return m, true, nil
}

// Store caches m under key for ttl (zero means no expiry).
func (s *SQLiteStore) Store(ctx context.Context, key graph.IdempotencyKey, m graph.Message, ttl time.Duration) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	msgJSON, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	var expiresAt interface{}
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).Format(time.RFC3339Nano)
	}

	query := `
		INSERT INTO idempotency_entries (key_value, message, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key_value) DO UPDATE SET
			message = excluded.message,
			expires_at = excluded.expires_at
	`
	_, err = s.db.ExecContext(ctx, query, key.String(), string(msgJSON), expiresAt)
	if err != nil {
		return fmt.Errorf("failed to store idempotency entry: %w", err)
	}
	return nil
}

// Close closes the database connection. Calling Close multiple times is
// safe (subsequent calls are no-ops).
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}
