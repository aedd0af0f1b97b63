package snapshot

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/authzed/hashgraph/internal/datastore"
	"github.com/authzed/hashgraph/pkg/grapherr"
)

// chunkSize bounds every per-kind sub-channel. A single dispatcher
// goroutine feeds all of them, so a consumer that stops reading one kind
// blocks routing of every kind once that kind's buffer is full.
const chunkSize = 256

// dispatcher fans a single incoming record stream out to one buffered
// channel per record kind (spec §4.I "a dispatcher routes each record to
// its typed sub-channel"). Kinds this engine has no backing store for
// (account, policy, embeddings, ...) are drained and dropped rather than
// routed, consistent with the restore error policy (spec §7: malformed or
// unsupported records are dropped with a logged warning, not fatal).
type dispatcher struct {
	dataTypes     chan datastore.SnapshotRecord
	propertyTypes chan datastore.SnapshotRecord
	entityTypes   chan datastore.SnapshotRecord
	entities      chan datastore.SnapshotRecord

	headers int
	dropped []datastore.SnapshotRecordKind
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		dataTypes:     make(chan datastore.SnapshotRecord, chunkSize),
		propertyTypes: make(chan datastore.SnapshotRecord, chunkSize),
		entityTypes:   make(chan datastore.SnapshotRecord, chunkSize),
		entities:      make(chan datastore.SnapshotRecord, chunkSize),
	}
}

func (d *dispatcher) closeAll() {
	close(d.dataTypes)
	close(d.propertyTypes)
	close(d.entityTypes)
	close(d.entities)
}

// run drains in, routing each record to its sub-channel, until in closes or
// ctx is cancelled. The sub-channels are closed on return so their
// consumers see end-of-stream.
func (d *dispatcher) run(ctx context.Context, in <-chan datastore.SnapshotRecord) error {
	defer d.closeAll()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-in:
			if !ok {
				return nil
			}
			var out chan datastore.SnapshotRecord
			switch rec.Kind {
			case datastore.RecordSnapshot:
				d.headers++
				version, err := decodeHeader(rec.Payload)
				if err != nil {
					return grapherr.New(grapherr.Parsing, "restore", err)
				}
				if version != datastore.SupportedGraphModuleVersion {
					return grapherr.New(grapherr.Parsing, "restore",
						fmt.Errorf("unsupported graph module version %q", version))
				}
				continue
			case datastore.RecordDataType:
				out = d.dataTypes
			case datastore.RecordPropertyType:
				out = d.propertyTypes
			case datastore.RecordEntityType:
				out = d.entityTypes
			case datastore.RecordEntity:
				out = d.entities
			default:
				log.Warn().Str("kind", string(rec.Kind)).Msg("snapshot: dropping record of unsupported kind")
				d.dropped = append(d.dropped, rec.Kind)
				continue
			}
			select {
			case out <- rec:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
