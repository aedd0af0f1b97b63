package snapshot

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/authzed/hashgraph/internal/datastore"
	"github.com/authzed/hashgraph/pkg/grapherr"
)

// Restorer implements datastore.SnapshotEngine's Restore half against an
// EntityStore/OntologyStore pair.
//
// The three stages spec §4.I describes (begin/write/commit against SQL
// staging tables) are a natively transactional design for a single
// relational backend. Restorer is backend-agnostic, built only against the
// portable Store interfaces, so it approximates them instead of
// implementing them literally: "write" buffers every record fully in
// memory with no store calls at all, "commit" decodes each buffered record
// and applies it to the store, so a record whose payload fails to decode
// ends the restore after the records before it were written. Because EntityStore/OntologyStore expose no cross-call
// transaction primitive, a failure partway through commit does not roll
// back records already written — Restore returns the first such error
// without undoing prior writes. A strictly atomic commit stage would
// require a backend-specific engine (e.g. one built directly against
// postgres's staging tables inside a single pgx.Tx, bypassing Store) —
// see DESIGN.md.
type Restorer struct {
	Entities datastore.EntityStore
	Ontology datastore.OntologyStore
}

// Restore implements datastore.SnapshotEngine.
func (r *Restorer) Restore(ctx context.Context, records <-chan datastore.SnapshotRecord) error {
	disp := newDispatcher()
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error { return disp.run(egCtx, records) })

	var dataTypes, propertyTypes, entityTypes, entities []datastore.SnapshotRecord
	eg.Go(func() error { dataTypes = drain(disp.dataTypes); return nil })
	eg.Go(func() error { propertyTypes = drain(disp.propertyTypes); return nil })
	eg.Go(func() error { entityTypes = drain(disp.entityTypes); return nil })
	eg.Go(func() error { entities = drain(disp.entities); return nil })

	if err := eg.Wait(); err != nil {
		return fmt.Errorf("snapshot: restore: %w", err)
	}

	if disp.headers != 1 {
		return grapherr.New(grapherr.Parsing, "restore",
			fmt.Errorf("expected exactly one snapshot header record, got %d", disp.headers))
	}

	// Ontology types commit before entities: an entity's TypeIds reference
	// entity types by VersionedUrl, so creating the referent first lets the
	// underlying store's own referential check (if any) succeed rather than
	// spuriously failing on stream order.
	for _, batch := range []struct {
		kind  datastore.OntologyTypeKind
		recs  []datastore.SnapshotRecord
	}{
		{datastore.OntologyDataType, dataTypes},
		{datastore.OntologyPropertyType, propertyTypes},
		{datastore.OntologyEntityType, entityTypes},
	} {
		for _, rec := range batch.recs {
			params, err := decodeOntologyType(batch.kind, rec.Payload)
			if err != nil {
				return err
			}
			if _, err := r.Ontology.CreateOntologyType(ctx, params); err != nil {
				return fmt.Errorf("snapshot: restore %v %s: %w", batch.kind, params.Record.Url, err)
			}
		}
	}

	for _, rec := range entities {
		params, err := decodeEntity(rec.Payload)
		if err != nil {
			return err
		}
		if _, err := r.Entities.CreateEntity(ctx, params); err != nil {
			return fmt.Errorf("snapshot: restore entity %s: %w", params.WebId, err)
		}
	}

	return nil
}

func drain(in <-chan datastore.SnapshotRecord) []datastore.SnapshotRecord {
	var out []datastore.SnapshotRecord
	for rec := range in {
		out = append(out, rec)
	}
	return out
}
