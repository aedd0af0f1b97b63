package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/authzed/hashgraph/internal/datastore"
	"github.com/authzed/hashgraph/internal/datastore/postgres"
	"github.com/authzed/hashgraph/internal/query"
	"github.com/authzed/hashgraph/pkg/identifier"
	"github.com/authzed/hashgraph/pkg/property"
	"github.com/authzed/hashgraph/pkg/temporal"
	"github.com/authzed/hashgraph/pkg/typesystem"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if HASHGRAPH_TEST_POSTGRES_DSN is not set. Run with
// `go test -tags integration` to have dockertest_test.go's TestMain supply
// a disposable container automatically instead of setting this by hand.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("HASHGRAPH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HASHGRAPH_TEST_POSTGRES_DSN not set — skipping postgres integration tests")
	}
	return dsn
}

// newTestStore creates a fresh *postgres.Store against a clean schema and
// registers t.Cleanup to drop everything and close the store.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool, err := pgxpool.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	store, err := postgres.NewStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS entity_edge CASCADE",
		"DROP TABLE IF EXISTS entity_link_data CASCADE",
		"DROP TABLE IF EXISTS entity_is_of_type CASCADE",
		"DROP TABLE IF EXISTS entity_temporal_metadata CASCADE",
		"DROP TABLE IF EXISTS entity_editions CASCADE",
		"DROP TABLE IF EXISTS entity_types CASCADE",
		"DROP TABLE IF EXISTS entity_ids CASCADE",
		"DROP TABLE IF EXISTS ontology_types CASCADE",
	} {
		_, err := pool.Exec(ctx, stmt)
		require.NoError(t, err)
	}
}

func createPersonType(t *testing.T, ctx context.Context, s *postgres.Store, baseUrl identifier.BaseUrl) identifier.VersionedUrl {
	t.Helper()
	url := identifier.VersionedUrl{BaseUrl: baseUrl, Version: identifier.OntologyTypeVersion{Major: 1}}
	_, err := s.CreateOntologyType(ctx, datastore.CreateOntologyTypeParams{
		Record: datastore.OntologyTypeRecord{
			Kind:   datastore.OntologyEntityType,
			Url:    url,
			Schema: map[string]any{"title": "Person"},
		},
	})
	require.NoError(t, err)
	return url
}

func TestCreateEntityAssignsUuidAndEdition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row, err := s.CreateEntity(ctx, datastore.CreateEntityParams{
		WebId:      identifier.NewWebId(),
		Properties: property.Object{},
	})
	require.NoError(t, err)
	require.False(t, row.Edition.Archived)
	require.Nil(t, row.Id.DraftId)
}

func TestCreateEntityRejectsDuplicateUuid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	webId := identifier.NewWebId()
	uuid := identifier.NewEntityUuid()

	_, err := s.CreateEntity(ctx, datastore.CreateEntityParams{WebId: webId, EntityUuid: &uuid})
	require.NoError(t, err)

	_, err = s.CreateEntity(ctx, datastore.CreateEntityParams{WebId: webId, EntityUuid: &uuid})
	require.Error(t, err)
}

func TestCreateEntityAllowsConcurrentDraftsOnSameUuid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	webId := identifier.NewWebId()
	uuid := identifier.NewEntityUuid()

	_, err := s.CreateEntity(ctx, datastore.CreateEntityParams{WebId: webId, EntityUuid: &uuid, Draft: true})
	require.NoError(t, err)
	_, err = s.CreateEntity(ctx, datastore.CreateEntityParams{WebId: webId, EntityUuid: &uuid, Draft: true})
	require.NoError(t, err)
}

func TestPatchEntityAppliesPropertyPatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := identifier.BaseUrl("https://example.com/property-type/name/")

	row, err := s.CreateEntity(ctx, datastore.CreateEntityParams{
		WebId:      identifier.NewWebId(),
		Properties: property.Object{},
	})
	require.NoError(t, err)

	patched, err := s.PatchEntity(ctx, datastore.PatchEntityParams{
		Id: row.Id,
		PropertyPatch: []property.Patch{
			{Op: property.OpAdd, Path: property.Path{property.ObjectToken(base)}, Value: property.Value{Scalar: "ada"}},
		},
	})
	require.NoError(t, err)
	v, ok := patched.Edition.Properties.Get(property.Path{property.ObjectToken(base)})
	require.True(t, ok)
	require.Equal(t, "ada", v.Scalar)
	require.NotEqual(t, row.Edition.EditionId, patched.Edition.EditionId)
}

func TestPatchEntityPromotesDraftWithNoPublishedTimeline(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	webId := identifier.NewWebId()
	uuid := identifier.NewEntityUuid()

	draft, err := s.CreateEntity(ctx, datastore.CreateEntityParams{WebId: webId, EntityUuid: &uuid, Draft: true})
	require.NoError(t, err)

	promoted, err := s.PatchEntity(ctx, datastore.PatchEntityParams{Id: draft.Id, PromoteFromDraft: true})
	require.NoError(t, err)
	require.Nil(t, promoted.Id.DraftId)

	count, err := s.CountEntities(ctx, query.ByEntityId(identifier.EntityId{WebId: webId, EntityUuid: uuid}),
		temporal.PinnedAtNow(temporal.TransactionTimeAxis, time.Now()))
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestPatchEntityPromotesDraftOverPublishedTimeline(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	webId := identifier.NewWebId()
	uuid := identifier.NewEntityUuid()

	_, err := s.CreateEntity(ctx, datastore.CreateEntityParams{WebId: webId, EntityUuid: &uuid})
	require.NoError(t, err)

	draft, err := s.CreateEntity(ctx, datastore.CreateEntityParams{WebId: webId, EntityUuid: &uuid, Draft: true})
	require.NoError(t, err)

	promoted, err := s.PatchEntity(ctx, datastore.PatchEntityParams{Id: draft.Id, PromoteFromDraft: true})
	require.NoError(t, err)
	require.Nil(t, promoted.Id.DraftId)

	count, err := s.CountEntities(ctx, query.ByEntityId(identifier.EntityId{WebId: webId, EntityUuid: uuid}),
		temporal.PinnedAtNow(temporal.TransactionTimeAxis, time.Now()))
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestQueryEntitiesFiltersByTypeUrl(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	typeUrl := createPersonType(t, ctx, s, identifier.BaseUrl("https://example.com/entity-type/person/"))

	_, err := s.CreateEntity(ctx, datastore.CreateEntityParams{
		WebId:      identifier.NewWebId(),
		TypeIds:    []identifier.VersionedUrl{typeUrl},
		Properties: property.Object{},
	})
	require.NoError(t, err)
	_, err = s.CreateEntity(ctx, datastore.CreateEntityParams{
		WebId:      identifier.NewWebId(),
		Properties: property.Object{},
	})
	require.NoError(t, err)

	page, err := s.QueryEntities(ctx, datastore.QueryParams{
		Filter:     query.ByTypeUrl(typeUrl.BaseUrl, 0),
		Resolution: temporal.PinnedAtNow(temporal.TransactionTimeAxis, time.Now()),
	})
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
}

func TestQueryEntitySubgraphWalksLinkEdges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	left, err := s.CreateEntity(ctx, datastore.CreateEntityParams{
		WebId:      identifier.NewWebId(),
		Properties: property.Object{},
	})
	require.NoError(t, err)
	right, err := s.CreateEntity(ctx, datastore.CreateEntityParams{
		WebId:      identifier.NewWebId(),
		Properties: property.Object{},
	})
	require.NoError(t, err)

	link, err := s.CreateEntity(ctx, datastore.CreateEntityParams{
		WebId:      identifier.NewWebId(),
		Properties: property.Object{},
		LinkData: &property.LinkData{
			LeftEntityId:  left.Id,
			RightEntityId: right.Id,
		},
	})
	require.NoError(t, err)

	result, err := s.QueryEntitySubgraph(ctx, datastore.QueryParams{
		Filter:     query.ByEntityId(link.Id),
		Resolution: temporal.PinnedAtNow(temporal.TransactionTimeAxis, time.Now()),
	}, query.SubgraphTraversalParams{
		Paths: []query.TraversalPath{
			{Edge: query.EdgeHasLeftEntity, Direction: query.Outgoing, MaxDepth: 1},
			{Edge: query.EdgeHasRightEntity, Direction: query.Outgoing, MaxDepth: 1},
		},
	})
	require.NoError(t, err)
	require.Contains(t, result.Vertices, left.Id.String())
	require.Contains(t, result.Vertices, right.Id.String())
	require.Len(t, result.Edges, 2)
}

func TestPatchEntityPreservesLinkDataAcrossRevisions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	left, err := s.CreateEntity(ctx, datastore.CreateEntityParams{WebId: identifier.NewWebId(), Properties: property.Object{}})
	require.NoError(t, err)
	right, err := s.CreateEntity(ctx, datastore.CreateEntityParams{WebId: identifier.NewWebId(), Properties: property.Object{}})
	require.NoError(t, err)

	link, err := s.CreateEntity(ctx, datastore.CreateEntityParams{
		WebId:      identifier.NewWebId(),
		Properties: property.Object{},
		LinkData:   &property.LinkData{LeftEntityId: left.Id, RightEntityId: right.Id},
	})
	require.NoError(t, err)

	patched, err := s.PatchEntity(ctx, datastore.PatchEntityParams{
		Id: link.Id,
		PropertyPatch: []property.Patch{
			{Op: property.OpAdd, Path: property.Path{property.ObjectToken("https://example.com/property-type/note/")}, Value: property.Value{Scalar: "hi"}},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, patched.Edition.LinkData)
	require.Equal(t, left.Id.WebId, patched.Edition.LinkData.LeftEntityId.WebId)
	require.Equal(t, right.Id.WebId, patched.Edition.LinkData.RightEntityId.WebId)
}

func TestDeleteEraseDowngradesToDraftWhenPublishedTimelineSurvives(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	webId := identifier.NewWebId()
	uuid := identifier.NewEntityUuid()

	_, err := s.CreateEntity(ctx, datastore.CreateEntityParams{WebId: webId, EntityUuid: &uuid})
	require.NoError(t, err)
	draft, err := s.CreateEntity(ctx, datastore.CreateEntityParams{WebId: webId, EntityUuid: &uuid, Draft: true})
	require.NoError(t, err)

	err = s.Delete(ctx, query.ByEntityId(draft.Id), datastore.ScopeErase)
	require.NoError(t, err)

	count, err := s.CountEntities(ctx, query.ByEntityId(identifier.EntityId{WebId: webId, EntityUuid: uuid}),
		temporal.PinnedAtNow(temporal.TransactionTimeAxis, time.Now()))
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestDeleteAbortsOnSurvivingReference(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	left, err := s.CreateEntity(ctx, datastore.CreateEntityParams{WebId: identifier.NewWebId(), Properties: property.Object{}})
	require.NoError(t, err)
	right, err := s.CreateEntity(ctx, datastore.CreateEntityParams{WebId: identifier.NewWebId(), Properties: property.Object{}})
	require.NoError(t, err)
	_, err = s.CreateEntity(ctx, datastore.CreateEntityParams{
		WebId:      identifier.NewWebId(),
		Properties: property.Object{},
		LinkData:   &property.LinkData{LeftEntityId: left.Id, RightEntityId: right.Id},
	})
	require.NoError(t, err)

	err = s.Delete(ctx, query.ByEntityId(left.Id), datastore.ScopeErase)
	require.Error(t, err)
}

func TestCreateOntologyTypeAndResolveInheritance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parent := identifier.VersionedUrl{BaseUrl: identifier.BaseUrl("https://example.com/entity-type/agent/"), Version: identifier.OntologyTypeVersion{Major: 1}}
	_, err := s.CreateOntologyType(ctx, datastore.CreateOntologyTypeParams{
		Record: datastore.OntologyTypeRecord{Kind: datastore.OntologyEntityType, Url: parent, Schema: map[string]any{"title": "Agent"}},
	})
	require.NoError(t, err)

	child := identifier.VersionedUrl{BaseUrl: identifier.BaseUrl("https://example.com/entity-type/person/"), Version: identifier.OntologyTypeVersion{Major: 1}}
	_, err = s.CreateOntologyType(ctx, datastore.CreateOntologyTypeParams{
		Record: datastore.OntologyTypeRecord{
			Kind: datastore.OntologyEntityType, Url: child, Schema: map[string]any{"title": "Person"},
			InheritsFrom: []identifier.VersionedUrl{parent},
		},
	})
	require.NoError(t, err)

	chain, err := s.ResolveInheritance(ctx, child)
	require.NoError(t, err)
	require.Len(t, chain, 2)
}

func TestCreateOntologyTypeRoundTripsConversions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	url := identifier.VersionedUrl{BaseUrl: identifier.BaseUrl("https://example.com/data-type/celsius/"), Version: identifier.OntologyTypeVersion{Major: 1}}
	key := typesystem.ConversionKey{From: "celsius", To: "fahrenheit"}
	_, err := s.CreateOntologyType(ctx, datastore.CreateOntologyTypeParams{
		Record: datastore.OntologyTypeRecord{
			Kind:   datastore.OntologyDataType,
			Url:    url,
			Schema: map[string]any{"title": "Celsius"},
			Conversions: typesystem.Conversions{
				key: typesystem.Conversion{},
			},
		},
	})
	require.NoError(t, err)

	record, err := s.GetOntologyType(ctx, url)
	require.NoError(t, err)
	_, ok := record.Conversions[key]
	require.True(t, ok)
}
