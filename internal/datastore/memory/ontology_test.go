package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/authzed/hashgraph/internal/datastore"
	"github.com/authzed/hashgraph/pkg/grapherr"
	"github.com/authzed/hashgraph/pkg/identifier"
)

func versionedUrl(base string, major uint32) identifier.VersionedUrl {
	return identifier.VersionedUrl{
		BaseUrl: identifier.BaseUrl(base),
		Version: identifier.OntologyTypeVersion{Major: major},
	}
}

func TestCreateOntologyTypeRejectsDuplicateByDefault(t *testing.T) {
	s := NewOntologyStore()
	ctx := context.Background()
	url := versionedUrl("https://example.com/data-type/text/", 1)

	_, err := s.CreateOntologyType(ctx, datastore.CreateOntologyTypeParams{
		Record: datastore.OntologyTypeRecord{Kind: datastore.OntologyDataType, Url: url},
	})
	require.NoError(t, err)

	_, err = s.CreateOntologyType(ctx, datastore.CreateOntologyTypeParams{
		Record: datastore.OntologyTypeRecord{Kind: datastore.OntologyDataType, Url: url},
	})
	require.Error(t, err)
	require.True(t, grapherr.Is(err, grapherr.Uniqueness))
}

func TestCreateOntologyTypeSkipsOnConflictSkip(t *testing.T) {
	s := NewOntologyStore()
	ctx := context.Background()
	url := versionedUrl("https://example.com/data-type/text/", 1)

	first, err := s.CreateOntologyType(ctx, datastore.CreateOntologyTypeParams{
		Record: datastore.OntologyTypeRecord{Kind: datastore.OntologyDataType, Url: url},
	})
	require.NoError(t, err)

	second, err := s.CreateOntologyType(ctx, datastore.CreateOntologyTypeParams{
		Record:   datastore.OntologyTypeRecord{Kind: datastore.OntologyDataType, Url: url},
		Conflict: datastore.ConflictSkip,
	})
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestCreateOntologyTypeRejectsCycle(t *testing.T) {
	s := NewOntologyStore()
	ctx := context.Background()
	parent := versionedUrl("https://example.com/entity-type/animal/", 1)
	child := versionedUrl("https://example.com/entity-type/dog/", 1)

	_, err := s.CreateOntologyType(ctx, datastore.CreateOntologyTypeParams{
		Record: datastore.OntologyTypeRecord{Kind: datastore.OntologyEntityType, Url: parent, InheritsFrom: []identifier.VersionedUrl{child}},
	})
	require.NoError(t, err)

	_, err = s.CreateOntologyType(ctx, datastore.CreateOntologyTypeParams{
		Record: datastore.OntologyTypeRecord{Kind: datastore.OntologyEntityType, Url: child, InheritsFrom: []identifier.VersionedUrl{parent}},
	})
	require.Error(t, err)
}

func TestResolveInheritanceWalksAncestorsBreadthFirst(t *testing.T) {
	s := NewOntologyStore()
	ctx := context.Background()
	grandparent := versionedUrl("https://example.com/entity-type/living-thing/", 1)
	parent := versionedUrl("https://example.com/entity-type/animal/", 1)
	child := versionedUrl("https://example.com/entity-type/dog/", 1)

	_, err := s.CreateOntologyType(ctx, datastore.CreateOntologyTypeParams{
		Record: datastore.OntologyTypeRecord{Kind: datastore.OntologyEntityType, Url: grandparent},
	})
	require.NoError(t, err)
	_, err = s.CreateOntologyType(ctx, datastore.CreateOntologyTypeParams{
		Record: datastore.OntologyTypeRecord{Kind: datastore.OntologyEntityType, Url: parent, InheritsFrom: []identifier.VersionedUrl{grandparent}},
	})
	require.NoError(t, err)
	_, err = s.CreateOntologyType(ctx, datastore.CreateOntologyTypeParams{
		Record: datastore.OntologyTypeRecord{Kind: datastore.OntologyEntityType, Url: child, InheritsFrom: []identifier.VersionedUrl{parent}},
	})
	require.NoError(t, err)

	chain, err := s.ResolveInheritance(ctx, child)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	require.Equal(t, child, chain[0].Url)
}

func TestGetOntologyTypeNotFound(t *testing.T) {
	s := NewOntologyStore()
	_, err := s.GetOntologyType(context.Background(), versionedUrl("https://example.com/data-type/missing/", 1))
	require.Error(t, err)
	require.True(t, grapherr.Is(err, grapherr.NotFound))
}
