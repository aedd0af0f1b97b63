package snapshot

import (
	"context"

	"github.com/authzed/hashgraph/internal/datastore"
)

// Engine composes a Dumper and a Restorer over the same EntityStore/
// OntologyStore pair, satisfying datastore.SnapshotEngine as a single
// value — the shape pkg/cmd wires into a constructed Datastore.
type Engine struct {
	Entities datastore.EntityStore
	Ontology datastore.OntologyStore
}

// Dump implements datastore.SnapshotEngine.
func (e *Engine) Dump(ctx context.Context, records chan<- datastore.SnapshotRecord) error {
	d := Dumper{Entities: e.Entities, Ontology: e.Ontology}
	return d.Dump(ctx, records)
}

// Restore implements datastore.SnapshotEngine.
func (e *Engine) Restore(ctx context.Context, records <-chan datastore.SnapshotRecord) error {
	r := Restorer{Entities: e.Entities, Ontology: e.Ontology}
	return r.Restore(ctx, records)
}

var _ datastore.SnapshotEngine = (*Engine)(nil)
