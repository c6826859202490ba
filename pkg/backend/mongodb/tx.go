package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"firestore-odm/pkg/changefeed"
	odmerrors "firestore-odm/pkg/errors"
	"firestore-odm/pkg/odm/repository"
	"firestore-odm/pkg/odm/schema"
)

type pendingChange struct {
	path string
	kind changefeed.Kind
}

// Tx is a running MongoDB transaction bound to one session.
type Tx struct {
	sc      mongo.SessionContext
	changes []pendingChange
	done    bool
}

// Batch stages writes for one ordered bulk write.
type Batch struct {
	models    []mongo.WriteModel
	changes   []pendingChange
	committed bool
}

// Size returns the number of staged writes.
func (b *Batch) Size() int { return len(b.models) }

// RunTransaction runs fn in a session transaction. The driver retries fn on
// transient transaction errors, so fn may run more than once.
func (b *Backend) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	if !b.transactions {
		return odmerrors.NewCapabilityError(backendName, "transactions")
	}

	var tx *Tx
	err := b.withSession(ctx, func(sc mongo.SessionContext) error {
		if tx != nil {
			tx.done = true
		}
		tx = &Tx{sc: sc}
		return fn(sc, tx)
	})
	if tx != nil {
		tx.done = true
	}
	if err != nil {
		return err
	}
	for _, c := range tx.changes {
		b.publish(ctx, c.path, c.kind)
	}
	return nil
}

func (b *Backend) withSession(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := b.client.StartSession()
	if err != nil {
		return infraError("failed to start session", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// TxGet reads inside the transaction. Reads must precede writes.
func (b *Backend) TxGet(_ context.Context, tx *Tx, path string) (repository.Snapshot, error) {
	if err := checkTx(tx); err != nil {
		return repository.Snapshot{}, err
	}
	if len(tx.changes) > 0 {
		return repository.Snapshot{}, odmerrors.NewValidationError("transaction reads must happen before writes").
			WithCause(odmerrors.ErrInvalidInput).
			WithComponent(backendName)
	}
	return b.Get(tx.sc, path)
}

func (b *Backend) TxSet(_ context.Context, tx *Tx, path string, data schema.Data) error {
	if err := checkTx(tx); err != nil {
		return err
	}
	doc, err := newStoredDocument(path, data, b.now().UTC())
	if err != nil {
		return err
	}
	if err := b.replace(tx.sc, doc); err != nil {
		return err
	}
	tx.changes = append(tx.changes, pendingChange{path: path, kind: changefeed.KindSet})
	return nil
}

func (b *Backend) TxDelete(_ context.Context, tx *Tx, path string) error {
	if err := checkTx(tx); err != nil {
		return err
	}
	if _, _, _, err := schema.ParsePath(path); err != nil {
		return err
	}
	if err := b.remove(tx.sc, path); err != nil {
		return err
	}
	tx.changes = append(tx.changes, pendingChange{path: path, kind: changefeed.KindDelete})
	return nil
}

func (b *Backend) NewBatch(context.Context) (*Batch, error) {
	return &Batch{}, nil
}

func (b *Backend) BatchSet(_ context.Context, batch *Batch, path string, data schema.Data) error {
	if err := checkBatch(batch); err != nil {
		return err
	}
	doc, err := newStoredDocument(path, data, b.now().UTC())
	if err != nil {
		return err
	}
	batch.models = append(batch.models, mongo.NewReplaceOneModel().
		SetFilter(bson.D{{Key: fieldPath, Value: path}}).
		SetReplacement(doc).
		SetUpsert(true))
	batch.changes = append(batch.changes, pendingChange{path: path, kind: changefeed.KindSet})
	return nil
}

func (b *Backend) BatchDelete(_ context.Context, batch *Batch, path string) error {
	if err := checkBatch(batch); err != nil {
		return err
	}
	if _, _, _, err := schema.ParsePath(path); err != nil {
		return err
	}
	batch.models = append(batch.models, mongo.NewDeleteOneModel().SetFilter(bson.D{{Key: fieldPath, Value: path}}))
	batch.changes = append(batch.changes, pendingChange{path: path, kind: changefeed.KindDelete})
	return nil
}

// CommitBatch writes the staged models in order, inside a transaction when
// transactions are enabled. A batch commits once.
func (b *Backend) CommitBatch(ctx context.Context, batch *Batch) error {
	if err := checkBatch(batch); err != nil {
		return err
	}
	batch.committed = true
	if len(batch.models) == 0 {
		return nil
	}

	write := func(ctx context.Context) error {
		if _, err := b.coll.BulkWrite(ctx, batch.models, options.BulkWrite().SetOrdered(true)); err != nil {
			return writeError("batch write failed", err)
		}
		return nil
	}
	var err error
	if b.transactions {
		err = b.withSession(ctx, func(sc mongo.SessionContext) error { return write(sc) })
	} else {
		err = write(ctx)
	}
	if err != nil {
		return err
	}

	for _, c := range batch.changes {
		b.publish(ctx, c.path, c.kind)
	}
	return nil
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

// Repository is a repository on the MongoDB backend.
type Repository[T any] = repository.Repository[T, *Tx, *Batch, *FindSpec]

// Target is a write target on the MongoDB backend.
type Target = repository.Target[*Tx, *Batch]

// NewRepository binds c to b.
func NewRepository[T any](c *schema.Collection[T], b *Backend, opts ...repository.Option) (*Repository[T], error) {
	return repository.New[T, *Tx, *Batch, *FindSpec](c, b, opts...)
}

// InTx targets a write at tx.
func InTx(tx *Tx) Target { return repository.WithTx[*Tx, *Batch](tx) }

// InBatch targets a write at batch.
func InBatch(batch *Batch) Target { return repository.WithBatch[*Tx](batch) }
