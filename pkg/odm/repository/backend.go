// Package repository implements the typed CRUD, query, aggregate and
// snapshot operations of a collection on top of any Backend.
package repository

import (
	"context"

	"firestore-odm/pkg/odm/query"
	"firestore-odm/pkg/odm/schema"
)

// Snapshot is a raw document read from a backend.
type Snapshot struct {
	// Path is the full document path, e.g. "Authors/a1/Posts/p1".
	Path string
	// ID is the last path segment.
	ID     string
	Exists bool
	Data   schema.Data
}

// Unsubscribe detaches a snapshot listener. Calling it more than once is a no-op.
type Unsubscribe func()

// Backend is the database client a Repository runs on. Tx is the
// backend's transaction handle, B its write batch handle and Q its native
// query type.
//
// Reads of absent documents return a Snapshot with Exists == false, never an
// error. Deleting an absent document is a no-op.
type Backend[Tx, B, Q any] interface {
	// Name identifies the backend in errors, logs and metrics.
	Name() string

	Translate(n query.Node) (Q, error)

	Get(ctx context.Context, path string) (Snapshot, error)
	TxGet(ctx context.Context, tx Tx, path string) (Snapshot, error)

	Set(ctx context.Context, path string, data schema.Data) error
	TxSet(ctx context.Context, tx Tx, path string, data schema.Data) error
	BatchSet(ctx context.Context, b B, path string, data schema.Data) error

	Delete(ctx context.Context, path string) error
	TxDelete(ctx context.Context, tx Tx, path string) error
	BatchDelete(ctx context.Context, b B, path string) error

	NewBatch(ctx context.Context) (B, error)
	CommitBatch(ctx context.Context, b B) error
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Query(ctx context.Context, q Q) ([]Snapshot, error)
	// Aggregate returns one value per spec key: count as an integer, sum as
	// a number and average as a number or nil when nothing matched.
	Aggregate(ctx context.Context, q Q, spec query.AggregateSpec) (map[string]any, error)

	WatchDocument(ctx context.Context, path string, l Listener[Snapshot]) Unsubscribe
	WatchQuery(ctx context.Context, q Q, l Listener[[]Snapshot]) Unsubscribe
}
