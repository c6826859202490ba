package memory

import (
	"context"

	"firestore-odm/pkg/changefeed"
	odmerrors "firestore-odm/pkg/errors"
	"firestore-odm/pkg/odm/repository"
	"firestore-odm/pkg/odm/schema"
)

// Tx is a running transaction. Reads see committed state; writes are
// buffered and applied atomically when the transaction function returns nil.
type Tx struct {
	writes []write
	done   bool
}

// Batch buffers writes until CommitBatch.
type Batch struct {
	writes    []write
	committed bool
}

// Size returns the number of staged writes.
func (b *Batch) Size() int { return len(b.writes) }

// RunTransaction runs fn and commits its writes. Listeners are notified
// after the transaction lock is released.
func (b *Backend) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	changes, err := b.runTransaction(ctx, fn)
	if err != nil {
		return err
	}
	b.publish(ctx, changes)
	return nil
}

func (b *Backend) runTransaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) ([]changefeed.Change, error) {
	b.txMu.Lock()
	defer b.txMu.Unlock()

	tx := &Tx{}
	err := fn(ctx, tx)
	tx.done = true
	if err != nil {
		return nil, err
	}
	return b.commit(tx.writes)
}

// TxGet reads committed state. Like Firestore, reads must precede writes.
func (b *Backend) TxGet(ctx context.Context, tx *Tx, path string) (repository.Snapshot, error) {
	if err := checkTx(tx); err != nil {
		return repository.Snapshot{}, err
	}
	if len(tx.writes) > 0 {
		return repository.Snapshot{}, odmerrors.NewValidationError("transaction reads must happen before writes").
			WithCause(odmerrors.ErrInvalidInput).
			WithComponent(backendName)
	}
	return b.Get(ctx, path)
}

func (b *Backend) TxSet(_ context.Context, tx *Tx, path string, data schema.Data) error {
	if err := checkTx(tx); err != nil {
		return err
	}
	if _, _, _, err := schema.ParsePath(path); err != nil {
		return err
	}
	tx.writes = append(tx.writes, write{path: path, data: cloneData(data)})
	return nil
}

func (b *Backend) TxDelete(_ context.Context, tx *Tx, path string) error {
	if err := checkTx(tx); err != nil {
		return err
	}
	if _, _, _, err := schema.ParsePath(path); err != nil {
		return err
	}
	tx.writes = append(tx.writes, write{path: path, delete: true})
	return nil
}

func (b *Backend) NewBatch(context.Context) (*Batch, error) {
	return &Batch{}, nil
}

func (b *Backend) BatchSet(_ context.Context, batch *Batch, path string, data schema.Data) error {
	if err := checkBatch(batch); err != nil {
		return err
	}
	if _, _, _, err := schema.ParsePath(path); err != nil {
		return err
	}
	batch.writes = append(batch.writes, write{path: path, data: cloneData(data)})
	return nil
}

func (b *Backend) BatchDelete(_ context.Context, batch *Batch, path string) error {
	if err := checkBatch(batch); err != nil {
		return err
	}
	if _, _, _, err := schema.ParsePath(path); err != nil {
		return err
	}
	batch.writes = append(batch.writes, write{path: path, delete: true})
	return nil
}

// CommitBatch applies every staged write atomically. A batch commits once.
func (b *Backend) CommitBatch(ctx context.Context, batch *Batch) error {
	if err := checkBatch(batch); err != nil {
		return err
	}
	batch.committed = true
	return b.apply(ctx, batch.writes)
}

func checkTx(tx *Tx) error {
	if tx == nil || tx.done {
		return odmerrors.NewValidationError("transaction is not active").
			WithCause(odmerrors.ErrInvalidInput).
			WithComponent(backendName)
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

// Repository is a repository on the memory backend.
type Repository[T any] = repository.Repository[T, *Tx, *Batch, *Plan]

// Target is a write target on the memory backend.
type Target = repository.Target[*Tx, *Batch]

// NewRepository binds c to b.
func NewRepository[T any](c *schema.Collection[T], b *Backend, opts ...repository.Option) (*Repository[T], error) {
	return repository.New[T, *Tx, *Batch, *Plan](c, b, opts...)
}

// InTx targets a write at tx.
func InTx(tx *Tx) Target { return repository.WithTx[*Tx, *Batch](tx) }

// InBatch targets a write at batch.
func InBatch(batch *Batch) Target { return repository.WithBatch[*Tx](batch) }
