package datastore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/authzed/hashgraph/internal/datastore"
	"github.com/authzed/hashgraph/internal/query"
	"github.com/authzed/hashgraph/pkg/identifier"
	"github.com/authzed/hashgraph/pkg/temporal"
)

func TestDefaults(t *testing.T) {
	f := pflag.FlagSet{}
	expected := Config{}
	err := RegisterDatastoreFlagsWithPrefix(&f, "", &expected)
	require.NoError(t, err)
	received := DefaultDatastoreConfig()
	require.Equal(t, expected, *received)
}

func TestRegisterDatastoreFlagsWithPrefixPrefixesFlagNames(t *testing.T) {
	f := pflag.FlagSet{}
	var cfg Config
	require.NoError(t, RegisterDatastoreFlagsWithPrefix(&f, "migrate", &cfg))
	require.NotNil(t, f.Lookup("migrate-datastore-engine"))
	require.NotNil(t, f.Lookup("migrate-datastore-postgres-uri"))
}

const personBootstrap = `
propertyTypes:
  - baseUrl: https://example.com/property-type/name/
    version: 1
    schema:
      title: Name
entityTypes:
  - baseUrl: https://example.com/entity-type/person/
    version: 1
    schema:
      title: Person
entities:
  - typeIds: ["https://example.com/entity-type/person/v/1"]
    properties:
      https://example.com/property-type/name/: ada
`

const repositoryBootstrap = `
propertyTypes:
  - baseUrl: https://example.com/property-type/title/
    version: 1
    schema:
      title: Title
entityTypes:
  - baseUrl: https://example.com/entity-type/repository/
    version: 1
    schema:
      title: Repository
entities:
  - typeIds: ["https://example.com/entity-type/repository/v/1"]
    properties:
      https://example.com/property-type/title/: hashgraph
`

func countEntities(t *testing.T, ds *Datastore) int {
	t.Helper()
	page, err := ds.Entities.QueryEntities(context.Background(), datastore.QueryParams{
		Filter:     query.MatchAll(),
		Resolution: temporal.PinnedAtNow(temporal.TransactionTimeAxis, time.Now()),
	})
	require.NoError(t, err)
	return len(page.Rows)
}

func TestLoadDatastoreFromFileContents(t *testing.T) {
	ctx := context.Background()
	ds, err := NewDatastore(ctx,
		SetBootstrapFileContents(map[string][]byte{"person": []byte(personBootstrap)}),
		WithEngine(MemoryEngine))
	require.NoError(t, err)

	require.Equal(t, 1, countEntities(t, ds))

	personType, err := identifier.ParseVersionedUrl("https://example.com/entity-type/person/v/1")
	require.NoError(t, err)
	record, err := ds.Ontology.GetOntologyType(ctx, personType)
	require.NoError(t, err)
	require.Equal(t, "Person", record.Schema["title"])
}

func TestLoadDatastoreFromFile(t *testing.T) {
	file, err := os.CreateTemp(t.TempDir(), "*.yaml")
	require.NoError(t, err)
	_, err = file.WriteString(personBootstrap)
	require.NoError(t, err)
	require.NoError(t, file.Close())

	ctx := context.Background()
	ds, err := NewDatastore(ctx,
		SetBootstrapFiles([]string{file.Name()}),
		WithEngine(MemoryEngine))
	require.NoError(t, err)

	require.Equal(t, 1, countEntities(t, ds))
}

func TestLoadDatastoreFromFileAndContents(t *testing.T) {
	file, err := os.CreateTemp(t.TempDir(), "*.yaml")
	require.NoError(t, err)
	_, err = file.WriteString(repositoryBootstrap)
	require.NoError(t, err)
	require.NoError(t, file.Close())

	ctx := context.Background()
	ds, err := NewDatastore(ctx,
		SetBootstrapFiles([]string{file.Name()}),
		SetBootstrapFileContents(map[string][]byte{"person": []byte(personBootstrap)}),
		WithEngine(MemoryEngine))
	require.NoError(t, err)

	require.Equal(t, 2, countEntities(t, ds))
}

func TestLoadDatastoreFromFileOnMemMapFs(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/bootstrap/person.yaml", []byte(personBootstrap), 0o644))

	ctx := context.Background()
	ds, err := NewDatastore(ctx,
		SetBootstrapFiles([]string{"/bootstrap/person.yaml"}),
		WithFilesystem(fs),
		WithEngine(MemoryEngine))
	require.NoError(t, err)

	require.Equal(t, 1, countEntities(t, ds))
}

func TestNewDatastorePostgresRequiresURI(t *testing.T) {
	_, err := NewDatastore(context.Background(), WithEngine(PostgresEngine))
	require.Error(t, err)
}

func TestDatastoreIsReadyAndClose(t *testing.T) {
	ds, err := NewDatastore(context.Background(), WithEngine(MemoryEngine))
	require.NoError(t, err)

	ready, err := ds.IsReady(context.Background())
	require.NoError(t, err)
	require.True(t, ready)

	require.NoError(t, ds.Close())
}
