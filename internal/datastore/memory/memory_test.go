package memory

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/authzed/hashgraph/internal/datastore"
	"github.com/authzed/hashgraph/internal/query"
	"github.com/authzed/hashgraph/pkg/filter"
	"github.com/authzed/hashgraph/pkg/grapherr"
	"github.com/authzed/hashgraph/pkg/identifier"
	"github.com/authzed/hashgraph/pkg/property"
	"github.com/authzed/hashgraph/pkg/temporal"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New()
	require.NoError(t, err)
	return s
}

// TestCreateEntityStampsInjectedClock pins the store's clock to a known
// instant and asserts that instant, not wall-clock time, becomes the
// edition's decision/transaction-time lower bound.
func TestCreateEntityStampsInjectedClock(t *testing.T) {
	s := newStore(t)
	mock := clock.NewMock()
	stamp := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.Set(stamp)
	s.Clock = mock
	ctx := context.Background()

	row, err := s.CreateEntity(ctx, datastore.CreateEntityParams{
		WebId:      identifier.NewWebId(),
		Properties: property.Object{},
	})
	require.NoError(t, err)
	require.Equal(t, stamp, row.Edition.Axes.DecisionTime.Lower.Instant)
	require.Equal(t, stamp, row.Edition.Axes.TransactionTime.Lower.Instant)
}

func TestCreateEntityAssignsUuidAndEdition(t *testing.T) {
	s := newStore(t)
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
	s := newStore(t)
	ctx := context.Background()
	webId := identifier.NewWebId()
	uuid := identifier.NewEntityUuid()

	_, err := s.CreateEntity(ctx, datastore.CreateEntityParams{WebId: webId, EntityUuid: &uuid})
	require.NoError(t, err)

	_, err = s.CreateEntity(ctx, datastore.CreateEntityParams{WebId: webId, EntityUuid: &uuid})
	require.Error(t, err)
	require.True(t, grapherr.Is(err, grapherr.Uniqueness))
}

func TestCreateEntityAllowsConcurrentDraftsOnSameUuid(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	webId := identifier.NewWebId()
	uuid := identifier.NewEntityUuid()

	_, err := s.CreateEntity(ctx, datastore.CreateEntityParams{WebId: webId, EntityUuid: &uuid, Draft: true})
	require.NoError(t, err)
	_, err = s.CreateEntity(ctx, datastore.CreateEntityParams{WebId: webId, EntityUuid: &uuid, Draft: true})
	require.NoError(t, err)
}

func TestPatchEntityAppliesPropertyPatch(t *testing.T) {
	s := newStore(t)
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
	s := newStore(t)
	ctx := context.Background()
	webId := identifier.NewWebId()
	uuid := identifier.NewEntityUuid()

	draft, err := s.CreateEntity(ctx, datastore.CreateEntityParams{WebId: webId, EntityUuid: &uuid, Draft: true})
	require.NoError(t, err)

	promoted, err := s.PatchEntity(ctx, datastore.PatchEntityParams{Id: draft.Id, PromoteFromDraft: true})
	require.NoError(t, err)
	require.Nil(t, promoted.Id.DraftId)

	page, err := s.QueryEntities(ctx, datastore.QueryParams{
		Filter:     query.ByEntityId(identifier.EntityId{WebId: webId, EntityUuid: uuid}),
		Resolution: temporal.PinnedAtNow(temporal.TransactionTimeAxis, time.Now()),
	})
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
}

func TestPatchEntityPromotesDraftOverPublishedTimeline(t *testing.T) {
	s := newStore(t)
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
	s := newStore(t)
	ctx := context.Background()
	typeUrl := identifier.BaseUrl("https://example.com/entity-type/person/")

	_, err := s.CreateEntity(ctx, datastore.CreateEntityParams{
		WebId:      identifier.NewWebId(),
		TypeIds:    []identifier.VersionedUrl{{BaseUrl: typeUrl, Version: identifier.OntologyTypeVersion{Major: 1}}},
		Properties: property.Object{},
	})
	require.NoError(t, err)
	_, err = s.CreateEntity(ctx, datastore.CreateEntityParams{
		WebId:      identifier.NewWebId(),
		Properties: property.Object{},
	})
	require.NoError(t, err)

	page, err := s.QueryEntities(ctx, datastore.QueryParams{
		Filter:     query.ByTypeUrl(typeUrl, 0),
		Resolution: temporal.PinnedAtNow(temporal.TransactionTimeAxis, time.Now()),
	})
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
}

func TestQueryEntitiesExcludesArchived(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	row, err := s.CreateEntity(ctx, datastore.CreateEntityParams{WebId: identifier.NewWebId()})
	require.NoError(t, err)
	archived := true
	_, err = s.PatchEntity(ctx, datastore.PatchEntityParams{Id: row.Id, Archived: &archived})
	require.NoError(t, err)

	page, err := s.QueryEntities(ctx, datastore.QueryParams{
		Filter:     query.NotArchived(),
		Resolution: temporal.PinnedAtNow(temporal.TransactionTimeAxis, time.Now()),
	})
	require.NoError(t, err)
	require.Empty(t, page.Rows)
}

func TestCountEntitiesMatchesQueryLength(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.CreateEntity(ctx, datastore.CreateEntityParams{WebId: identifier.NewWebId()})
		require.NoError(t, err)
	}

	count, err := s.CountEntities(ctx, query.EntityFilter{Op: filter.OpAll}, temporal.PinnedAtNow(temporal.TransactionTimeAxis, time.Now()))
	require.NoError(t, err)
	require.Equal(t, 3, count)
}
