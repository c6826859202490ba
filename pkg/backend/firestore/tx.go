package firestore

import (
	"context"

	"cloud.google.com/go/firestore"

	odmerrors "firestore-odm/pkg/errors"
	"firestore-odm/pkg/odm/repository"
	"firestore-odm/pkg/odm/schema"
)

// Batch wraps a Firestore write batch. The SDK refuses to commit an empty
// batch, so the staged write count is tracked here.
type Batch struct {
	wb        *firestore.WriteBatch
	n         int
	committed bool
}

// Size returns the number of staged writes.
func (b *Batch) Size() int { return b.n }

// RunTransaction runs fn in a Firestore transaction. The SDK retries fn on
// contention, so fn may run more than once.
func (b *Backend) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx *firestore.Transaction) error) error {
	return b.client.RunTransaction(ctx, fn)
}

func (b *Backend) TxGet(_ context.Context, tx *firestore.Transaction, path string) (repository.Snapshot, error) {
	ref, err := b.doc(path)
	if err != nil {
		return repository.Snapshot{}, err
	}
	return readSnapshot(tx.Get(ref))
}

func (b *Backend) TxSet(_ context.Context, tx *firestore.Transaction, path string, data schema.Data) error {
	ref, err := b.doc(path)
	if err != nil {
		return err
	}
	return tx.Set(ref, toFirestore(data))
}

func (b *Backend) TxDelete(_ context.Context, tx *firestore.Transaction, path string) error {
	ref, err := b.doc(path)
	if err != nil {
		return err
	}
	return tx.Delete(ref)
}

func (b *Backend) NewBatch(context.Context) (*Batch, error) {
	//nolint:staticcheck // BulkWriter does not commit atomically.
	return &Batch{wb: b.client.Batch()}, nil
}

func (b *Backend) BatchSet(_ context.Context, batch *Batch, path string, data schema.Data) error {
	if err := checkBatch(batch); err != nil {
		return err
	}
	ref, err := b.doc(path)
	if err != nil {
		return err
	}
	batch.wb.Set(ref, toFirestore(data))
	batch.n++
	return nil
}

func (b *Backend) BatchDelete(_ context.Context, batch *Batch, path string) error {
	if err := checkBatch(batch); err != nil {
		return err
	}
	ref, err := b.doc(path)
	if err != nil {
		return err
	}
	batch.wb.Delete(ref)
	batch.n++
	return nil
}

func (b *Backend) CommitBatch(ctx context.Context, batch *Batch) error {
	if err := checkBatch(batch); err != nil {
		return err
	}
	batch.committed = true
	if batch.n == 0 {
		return nil
	}
	if _, err := batch.wb.Commit(ctx); err != nil {
		return remoteError("batch commit failed", err)
	}
	return nil
}

func checkBatch(batch *Batch) error {
	if batch == nil || batch.committed {
		return odmerrors.NewValidationError("batch already committed").
			WithCause(odmerrors.ErrInvalidInput).
			WithComponent(backendName)
	}
	return nil
}

// Repository is a repository on the Firestore backend.
type Repository[T any] = repository.Repository[T, *firestore.Transaction, *Batch, firestore.Query]

// Target is a write target on the Firestore backend.
type Target = repository.Target[*firestore.Transaction, *Batch]

// NewRepository binds c to b.
func NewRepository[T any](c *schema.Collection[T], b *Backend, opts ...repository.Option) (*Repository[T], error) {
	return repository.New[T, *firestore.Transaction, *Batch, firestore.Query](c, b, opts...)
}

// InTx targets a write at tx.
func InTx(tx *firestore.Transaction) Target {
	return repository.WithTx[*firestore.Transaction, *Batch](tx)
}

// InBatch targets a write at batch.
func InBatch(batch *Batch) Target {
	return repository.WithBatch[*firestore.Transaction](batch)
}
