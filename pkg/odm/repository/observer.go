package repository

import (
	"context"
	"time"
)

// OperationEvent describes one finished repository operation.
type OperationEvent struct {
	Backend    string
	Collection string
	Operation  string
	// Path is the document path for single-document operations.
	Path     string
	Duration time.Duration
	Err      error
}

// Observer is notified after every repository operation.
type Observer interface {
	Observe(ctx context.Context, ev OperationEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev OperationEvent)

func (f ObserverFunc) Observe(ctx context.Context, ev OperationEvent) { f(ctx, ev) }

// Operation names reported to observers.
const (
	OpGet            = "get"
	OpGetOnSnapshot  = "get_on_snapshot"
	OpList           = "list"
	OpListOnSnapshot = "list_on_snapshot"
	OpAggregate      = "aggregate"
	OpSet            = "set"
	OpDelete         = "delete"
	OpBatchSet       = "batch_set"
	OpBatchDelete    = "batch_delete"
)
