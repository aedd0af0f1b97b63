package snapshot

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/authzed/hashgraph/internal/datastore"
	"github.com/authzed/hashgraph/internal/query"
	"github.com/authzed/hashgraph/pkg/temporal"
)

// pageSize is the query_entities page size the entity producer walks with;
// it has no bearing on the wire format, only on how many rows are held in
// memory between pages.
const pageSize = 500

// Dumper implements datastore.SnapshotEngine's Dump half, reading from an
// EntityStore and OntologyStore pair and producing one record per entity
// and per currently-open ontology type edition (spec §4.I).
type Dumper struct {
	Entities datastore.EntityStore
	Ontology datastore.OntologyStore
}

// Dump implements datastore.SnapshotEngine. One producer goroutine per
// record stream (header, each ontology kind, entities) writes onto records
// through a shared merge point; ordering across kinds is not guaranteed,
// matching within a kind is stable by identifier (entities by the cursor
// sort order, ontology types by ListOntologyTypes' order).
func (d *Dumper) Dump(ctx context.Context, records chan<- datastore.SnapshotRecord) error {
	defer close(records)

	header, err := encodeHeader()
	if err != nil {
		return err
	}
	select {
	case records <- datastore.SnapshotRecord{Kind: datastore.RecordSnapshot, Payload: header}:
	case <-ctx.Done():
		return ctx.Err()
	}

	eg, egCtx := errgroup.WithContext(ctx)

	for _, kind := range []datastore.OntologyTypeKind{
		datastore.OntologyDataType, datastore.OntologyPropertyType, datastore.OntologyEntityType,
	} {
		kind := kind
		eg.Go(func() error {
			return d.dumpOntologyKind(egCtx, kind, records)
		})
	}

	eg.Go(func() error {
		return d.dumpEntities(egCtx, records)
	})

	return eg.Wait()
}

func (d *Dumper) dumpOntologyKind(ctx context.Context, kind datastore.OntologyTypeKind, records chan<- datastore.SnapshotRecord) error {
	list, err := d.Ontology.ListOntologyTypes(ctx, kind)
	if err != nil {
		return fmt.Errorf("snapshot: dump %v: %w", kind, err)
	}
	for _, record := range list {
		payload, err := encodeOntologyType(record)
		if err != nil {
			return err
		}
		select {
		case records <- datastore.SnapshotRecord{Kind: ontologyRecordType(kind), Payload: payload}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (d *Dumper) dumpEntities(ctx context.Context, records chan<- datastore.SnapshotRecord) error {
	params := datastore.QueryParams{
		Filter:     query.MatchAll(),
		Resolution: temporal.PinnedAtNow(temporal.TransactionTimeAxis, time.Now()),
		Limit:      pageSize,
	}

	for {
		page, err := d.Entities.QueryEntities(ctx, params)
		if err != nil {
			return fmt.Errorf("snapshot: dump entities: %w", err)
		}
		for _, row := range page.Rows {
			payload, err := encodeEntity(row)
			if err != nil {
				return err
			}
			select {
			case records <- datastore.SnapshotRecord{Kind: datastore.RecordEntity, Payload: payload}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if page.NextCursor == nil {
			return nil
		}
		params.Cursor = page.NextCursor
	}
}
