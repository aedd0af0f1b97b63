package snapshot_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/authzed/hashgraph/internal/datastore"
	"github.com/authzed/hashgraph/internal/datastore/memory"
	"github.com/authzed/hashgraph/internal/query"
	"github.com/authzed/hashgraph/internal/snapshot"
	"github.com/authzed/hashgraph/pkg/identifier"
	"github.com/authzed/hashgraph/pkg/property"
	"github.com/authzed/hashgraph/pkg/temporal"
)

// TestMain verifies the dump/restore goroutines this package fans records
// through (Dumper/Restorer's channel producers in dump.go/restore.go) always
// exit instead of leaking on an early return or cancelled context.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func seedSource(t *testing.T) (*memory.Store, *memory.OntologyStore) {
	t.Helper()
	entities, err := memory.New()
	require.NoError(t, err)
	ontology := memory.NewOntologyStore()

	ctx := context.Background()
	nameType, err := identifier.ParseVersionedUrl("https://example.com/property-type/name/v/1")
	require.NoError(t, err)
	_, err = ontology.CreateOntologyType(ctx, datastore.CreateOntologyTypeParams{
		Record: datastore.OntologyTypeRecord{Kind: datastore.OntologyPropertyType, Url: nameType, Schema: map[string]any{"title": "Name"}},
	})
	require.NoError(t, err)

	personType, err := identifier.ParseVersionedUrl("https://example.com/entity-type/person/v/1")
	require.NoError(t, err)
	_, err = ontology.CreateOntologyType(ctx, datastore.CreateOntologyTypeParams{
		Record: datastore.OntologyTypeRecord{Kind: datastore.OntologyEntityType, Url: personType, Schema: map[string]any{"title": "Person"}},
	})
	require.NoError(t, err)

	_, err = entities.CreateEntity(ctx, datastore.CreateEntityParams{
		WebId:      identifier.NewWebId(),
		TypeIds:    []identifier.VersionedUrl{personType},
		Properties: property.Object{identifier.BaseUrl("https://example.com/property-type/name/"): property.Value{Scalar: "ada"}},
	})
	require.NoError(t, err)

	return entities, ontology
}

// dumpThenRestore runs a Dumper over source, piping its records through the
// NDJSON wire encoding and back, into a Restorer over destination — the
// same path pkg/cmd's snapshot export/import would exercise via files.
func dumpThenRestore(t *testing.T, srcEntities datastore.EntityStore, srcOntology datastore.OntologyStore,
	dstEntities datastore.EntityStore, dstOntology datastore.OntologyStore) {
	t.Helper()
	ctx := context.Background()

	dumper := &snapshot.Dumper{Entities: srcEntities, Ontology: srcOntology}
	dumpRecords := make(chan datastore.SnapshotRecord)
	dumpErr := make(chan error, 1)
	go func() { dumpErr <- dumper.Dump(ctx, dumpRecords) }()

	var buf bytes.Buffer
	require.NoError(t, snapshot.WriteStream(&buf, dumpRecords))
	require.NoError(t, <-dumpErr)

	restoreRecords := make(chan datastore.SnapshotRecord)
	readErr := make(chan error, 1)
	go func() { readErr <- snapshot.ReadStream(&buf, restoreRecords) }()

	restorer := &snapshot.Restorer{Entities: dstEntities, Ontology: dstOntology}
	require.NoError(t, restorer.Restore(ctx, restoreRecords))
	require.NoError(t, <-readErr)
}

func TestDumpThenRestoreReproducesEntitiesAndOntologyTypes(t *testing.T) {
	srcEntities, srcOntology := seedSource(t)

	dstEntities, err := memory.New()
	require.NoError(t, err)
	dstOntology := memory.NewOntologyStore()

	dumpThenRestore(t, srcEntities, srcOntology, dstEntities, dstOntology)

	ctx := context.Background()
	personType, err := identifier.ParseVersionedUrl("https://example.com/entity-type/person/v/1")
	require.NoError(t, err)
	restored, err := dstOntology.GetOntologyType(ctx, personType)
	require.NoError(t, err)
	require.Equal(t, "Person", restored.Schema["title"])

	page, err := dstEntities.QueryEntities(ctx, datastore.QueryParams{
		Filter:     query.MatchAll(),
		Resolution: temporal.PinnedAtNow(temporal.TransactionTimeAxis, time.Now()),
	})
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
	require.Equal(t, "ada", page.Rows[0].Edition.Properties[identifier.BaseUrl("https://example.com/property-type/name/")].Scalar)
}

func TestEngineSatisfiesSnapshotEngineAndRoundTrips(t *testing.T) {
	srcEntities, srcOntology := seedSource(t)
	dstEntities, err := memory.New()
	require.NoError(t, err)
	dstOntology := memory.NewOntologyStore()

	var srcEngine datastore.SnapshotEngine = &snapshot.Engine{Entities: srcEntities, Ontology: srcOntology}
	var dstEngine datastore.SnapshotEngine = &snapshot.Engine{Entities: dstEntities, Ontology: dstOntology}

	ctx := context.Background()
	dumpRecords := make(chan datastore.SnapshotRecord)
	dumpErr := make(chan error, 1)
	go func() { dumpErr <- srcEngine.Dump(ctx, dumpRecords) }()

	var buf bytes.Buffer
	require.NoError(t, snapshot.WriteStream(&buf, dumpRecords))
	require.NoError(t, <-dumpErr)

	restoreRecords := make(chan datastore.SnapshotRecord)
	readErr := make(chan error, 1)
	go func() { readErr <- snapshot.ReadStream(&buf, restoreRecords) }()
	require.NoError(t, dstEngine.Restore(ctx, restoreRecords))
	require.NoError(t, <-readErr)

	page, err := dstEntities.QueryEntities(ctx, datastore.QueryParams{
		Filter:     query.MatchAll(),
		Resolution: temporal.PinnedAtNow(temporal.TransactionTimeAxis, time.Now()),
	})
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
}

func TestRestoreRejectsMissingHeader(t *testing.T) {
	dstEntities, err := memory.New()
	require.NoError(t, err)
	dstOntology := memory.NewOntologyStore()

	records := make(chan datastore.SnapshotRecord)
	close(records)

	restorer := &snapshot.Restorer{Entities: dstEntities, Ontology: dstOntology}
	err = restorer.Restore(context.Background(), records)
	require.Error(t, err)
}

func TestRestoreRejectsDuplicateHeader(t *testing.T) {
	dstEntities, err := memory.New()
	require.NoError(t, err)
	dstOntology := memory.NewOntologyStore()

	records := make(chan datastore.SnapshotRecord, 2)
	records <- datastore.SnapshotRecord{Kind: datastore.RecordSnapshot, Payload: []byte(`{"type":"snapshot","blockProtocolModuleVersions":{"graph":"0.3.0"}}`)}
	records <- datastore.SnapshotRecord{Kind: datastore.RecordSnapshot, Payload: []byte(`{"type":"snapshot","blockProtocolModuleVersions":{"graph":"0.3.0"}}`)}
	close(records)

	restorer := &snapshot.Restorer{Entities: dstEntities, Ontology: dstOntology}
	err = restorer.Restore(context.Background(), records)
	require.Error(t, err)
}

func TestWriteStreamThenReadStreamRoundTripsRawRecords(t *testing.T) {
	in := make(chan datastore.SnapshotRecord, 2)
	in <- datastore.SnapshotRecord{Kind: datastore.RecordSnapshot, Payload: []byte(`{"type":"snapshot","blockProtocolModuleVersions":{"graph":"0.3.0"}}`)}
	in <- datastore.SnapshotRecord{Kind: datastore.RecordEntity, Payload: []byte(`{"type":"entity"}`)}
	close(in)

	var buf bytes.Buffer
	require.NoError(t, snapshot.WriteStream(&buf, in))

	out := make(chan datastore.SnapshotRecord)
	go func() { _ = snapshot.ReadStream(&buf, out) }()

	var got []datastore.SnapshotRecord
	for rec := range out {
		got = append(got, rec)
	}
	require.Len(t, got, 2)
	require.Equal(t, datastore.RecordSnapshot, got[0].Kind)
	require.Equal(t, datastore.RecordEntity, got[1].Kind)
}
