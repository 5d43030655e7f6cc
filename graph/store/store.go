// Package store provides persistence backends for graph.CheckpointStore and
// graph.IdempotencyStore: an in-memory reference implementation plus
// SQLite and MySQL implementations for durable, multi-process deployments.
package store

import "errors"

// ErrNotFound is returned when a requested run ID or checkpoint ID does not
// exist in the backing store.
var ErrNotFound = errors.New("not found")
