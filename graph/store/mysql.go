package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/agentgraph-go/graph"
	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB-backed implementation of
// graph.CheckpointStore and graph.IdempotencyStore, adapted from the
// teacher's generic MySQLStore[S]. Intended for production deployments
// with multiple runner processes sharing durable state.
//
// Schema:
//   - run_checkpoints: one row per RunID, holding the serialized Checkpoint
//   - idempotency_entries: cached step outputs keyed by the composite
//     IdempotencyKey string, with optional TTL expiry
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore opens a connection pool against dsn and prepares the
// schema. DSN format:
//
//	user:password@tcp(host:port)/dbname?parseTime=true
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	store := &MySQLStore{db: db}
	if err := store.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (m *MySQLStore) createTables(ctx context.Context) error {
	checkpointsTable := `
		CREATE TABLE IF NOT EXISTS run_checkpoints (
			run_id VARCHAR(255) NOT NULL PRIMARY KEY,
			graph_id VARCHAR(255) NOT NULL,
			execution_state VARCHAR(32) NOT NULL,
			checkpoint JSON NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_graph_state (graph_id, execution_state),
			INDEX idx_timestamp (timestamp)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, checkpointsTable); err != nil {
		return fmt.Errorf("failed to create run_checkpoints table: %w", err)
	}

	idempotencyTable := `
		CREATE TABLE IF NOT EXISTS idempotency_entries (
			key_value VARCHAR(512) NOT NULL PRIMARY KEY,
			message JSON NOT NULL,
			expires_at TIMESTAMP NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_expires (expires_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, idempotencyTable); err != nil {
		return fmt.Errorf("failed to create idempotency_entries table: %w", err)
	}
	return nil
}

// Save persists cp, replacing any prior checkpoint for the same RunID.
func (m *MySQLStore) Save(ctx context.Context, cp graph.Checkpoint) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	cpJSON, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	query := `
		INSERT INTO run_checkpoints (run_id, graph_id, execution_state, checkpoint, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			graph_id = VALUES(graph_id),
			execution_state = VALUES(execution_state),
			checkpoint = VALUES(checkpoint),
			timestamp = VALUES(timestamp)
	`
	_, err = m.db.ExecContext(ctx, query, cp.RunID, cp.GraphID, string(cp.ExecutionState), cpJSON, cp.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load retrieves the checkpoint for runID, if any.
func (m *MySQLStore) Load(ctx context.Context, runID string) (graph.Checkpoint, bool, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return graph.Checkpoint{}, false, fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	var cpJSON []byte
	err := m.db.QueryRowContext(ctx, "SELECT checkpoint FROM run_checkpoints WHERE run_id = ?", runID).Scan(&cpJSON)
	if err == sql.ErrNoRows {
		return graph.Checkpoint{}, false, nil
	}
	if err != nil {
		return graph.Checkpoint{}, false, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var cp graph.Checkpoint
	if err := json.Unmarshal(cpJSON, &cp); err != nil {
		return graph.Checkpoint{}, false, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return cp, true, nil
}

// ListPending returns checkpoints still in the Waiting state, narrowed by
// filter.GraphID and filter.ExpiredBefore, capped by filter.Limit/Offset.
func (m *MySQLStore) ListPending(ctx context.Context, filter graph.CheckpointFilter) ([]graph.Checkpoint, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	query := "SELECT checkpoint FROM run_checkpoints WHERE execution_state = ?"
	args := []interface{}{string(graph.StateWaiting)}

	if filter.GraphID != "" {
		query += " AND graph_id = ?"
		args = append(args, filter.GraphID)
	}
	if !filter.ExpiredBefore.IsZero() {
		query += " AND timestamp < ?"
		args = append(args, filter.ExpiredBefore)
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

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []graph.Checkpoint
	for rows.Next() {
		var cpJSON []byte
		if err := rows.Scan(&cpJSON); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		var cp graph.Checkpoint
		if err := json.Unmarshal(cpJSON, &cp); err != nil {
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
func (m *MySQLStore) Lookup(ctx context.Context, key graph.IdempotencyKey) (graph.Message, bool, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return graph.Message{}, false, fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	var msgJSON []byte
	var expiresAt sql.NullTime
	err := m.db.QueryRowContext(ctx, "SELECT message, expires_at FROM idempotency_entries WHERE key_value = ?", key.String()).
		Scan(&msgJSON, &expiresAt)
	if err == sql.ErrNoRows {
		return graph.Message{}, false, nil
	}
	if err != nil {
		return graph.Message{}, false, fmt.Errorf("failed to look up idempotency entry: %w", err)
	}

	if expiresAt.Valid && time.Now().After(expiresAt.Time) {
		return graph.Message{}, false, nil
	}

	var msg graph.Message
	if err := json.Unmarshal(msgJSON, &msg); err != nil {
		return graph.Message{}, false, fmt.Errorf("failed to unmarshal cached message: %w", err)
	}
	return msg, true, nil
}

// Store caches m under key for ttl (zero means no expiry).
func (m *MySQLStore) Store(ctx context.Context, key graph.IdempotencyKey, msg graph.Message, ttl time.Duration) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	var expiresAt interface{}
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	query := `
		INSERT INTO idempotency_entries (key_value, message, expires_at)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			message = VALUES(message),
			expires_at = VALUES(expires_at)
	`
	_, err = m.db.ExecContext(ctx, query, key.String(), msgJSON, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to store idempotency entry: %w", err)
	}
	return nil
}

// Close closes the connection pool. Calling Close multiple times is safe.
func (m *MySQLStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// Ping verifies the database connection is alive.
func (m *MySQLStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()
	return m.db.PingContext(ctx)
}

// Stats returns database connection pool statistics.
func (m *MySQLStore) Stats() sql.DBStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db.Stats()
}
