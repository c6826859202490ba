package repository

import (
	"fmt"

	odmerrors "firestore-odm/pkg/errors"
)

// TargetKind tags the variants of Target.
type TargetKind int

const (
	// TargetNone writes directly, or through a fresh batch for batched writes.
	TargetNone TargetKind = iota
	// TargetTransaction stages the write on a running transaction.
	TargetTransaction
	// TargetBatch stages the write on a caller-owned batch.
	TargetBatch
)

func (k TargetKind) String() string {
	switch k {
	case TargetNone:
		return "none"
	case TargetTransaction:
		return "transaction"
	case TargetBatch:
		return "batch"
	default:
		return fmt.Sprintf("TargetKind(%d)", int(k))
	}
}

// Target says where a write goes.
type Target[Tx, B any] struct {
	Kind  TargetKind
	Tx    Tx
	Batch B
}

// WithTx targets a transaction.
func WithTx[Tx, B any](tx Tx) Target[Tx, B] {
	return Target[Tx, B]{Kind: TargetTransaction, Tx: tx}
}

// WithBatch targets a batch.
func WithBatch[Tx, B any](b B) Target[Tx, B] {
	return Target[Tx, B]{Kind: TargetBatch, Batch: b}
}

func resolveTarget[Tx, B any](at []Target[Tx, B]) (Target[Tx, B], error) {
	switch len(at) {
	case 0:
		return Target[Tx, B]{Kind: TargetNone}, nil
	case 1:
		return at[0], nil
	default:
		return Target[Tx, B]{}, odmerrors.NewValidationError(fmt.Sprintf("at most one write target, got %d", len(at))).
			WithCause(odmerrors.ErrInvalidInput)
	}
}
