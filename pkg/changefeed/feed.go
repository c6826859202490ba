// Package changefeed carries document change notifications from writers to
// snapshot listeners, either inside one process or across processes through
// Redis pub/sub.
package changefeed

import (
	"context"
	"time"

	"firestore-odm/pkg/eventbus"
	"firestore-odm/pkg/odm/schema"
)

// Kind is the kind of write that produced a change.
type Kind string

const (
	KindSet    Kind = "set"
	KindDelete Kind = "delete"
)

// Change announces that the document at Path was written.
type Change struct {
	Path string `json:"path"`
	// Collection is the leaf collection name, used to match collection-group listeners.
	Collection string `json:"collection"`
	// CollectionPath is the path of the collection holding the document.
	CollectionPath string    `json:"collectionPath"`
	Kind           Kind      `json:"kind"`
	At             time.Time `json:"at"`
}

// NewChange builds the change record for a write at docPath.
func NewChange(docPath string, kind Kind) (Change, error) {
	collectionPath, name, _, err := schema.ParsePath(docPath)
	if err != nil {
		return Change{}, err
	}
	return Change{
		Path:           docPath,
		Collection:     name,
		CollectionPath: collectionPath,
		Kind:           kind,
		At:             time.Now().UTC(),
	}, nil
}

// Handler consumes changes.
type Handler func(ctx context.Context, c Change)

// Feed publishes and delivers changes. Handlers of one subscription are
// invoked sequentially, in delivery order.
type Feed interface {
	Publish(ctx context.Context, c Change) error
	// Subscribe registers h until the returned cancel func is called.
	Subscribe(ctx context.Context, h Handler) (cancel func(), err error)
	Close() error
}

// LocalFeed delivers changes in-process through an event bus.
type LocalFeed struct {
	bus *eventbus.EventBus
}

// NewLocalFeed wraps bus, or a new synchronous bus when nil.
func NewLocalFeed(bus *eventbus.EventBus) *LocalFeed {
	if bus == nil {
		bus = eventbus.NewEventBus(nil)
	}
	return &LocalFeed{bus: bus}
}

func (f *LocalFeed) Publish(ctx context.Context, c Change) error {
	return f.bus.Publish(ctx, eventbus.NewBasicEventWithSource(eventbus.EventTypeDocumentChanged, c, "changefeed"))
}

func (f *LocalFeed) Subscribe(_ context.Context, h Handler) (func(), error) {
	id := f.bus.Subscribe(eventbus.EventTypeDocumentChanged, func(ctx context.Context, ev eventbus.Event) error {
		if c, ok := ev.Data().(Change); ok {
			h(ctx, c)
		}
		return nil
	})
	return func() { f.bus.Remove(id) }, nil
}

func (f *LocalFeed) Close() error {
	f.bus.Unsubscribe(eventbus.EventTypeDocumentChanged)
	return nil
}
