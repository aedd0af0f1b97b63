// Package datastore wires the engine selection (memory vs postgres), flag
// registration, and bootstrap-file loading the CLI needs to stand up a
// ready-to-use set of stores, mirroring the shape of the teacher's own
// pkg/cmd/datastore: a Config struct flags bind into, a constructor taking
// functional options, and a resulting handle the rest of pkg/cmd builds on.
package datastore

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/authzed/hashgraph/internal/datastore"
	"github.com/authzed/hashgraph/internal/datastore/memory"
	"github.com/authzed/hashgraph/internal/datastore/postgres"
	"github.com/authzed/hashgraph/internal/snapshot"
)

// EngineType selects which concrete datastore.EntityStore/OntologyStore
// implementation NewDatastore constructs.
type EngineType string

const (
	MemoryEngine   EngineType = "memory"
	PostgresEngine EngineType = "postgres"
)

// Config is the set of values RegisterDatastoreFlagsWithPrefix binds flags
// onto; DefaultDatastoreConfig's result is what an unparsed FlagSet leaves
// a zero Config equal to.
type Config struct {
	Engine      EngineType
	PostgresURI string
}

// DefaultDatastoreConfig returns the Config a freshly-registered, unparsed
// FlagSet produces.
func DefaultDatastoreConfig() *Config {
	return &Config{
		Engine: MemoryEngine,
	}
}

func flagName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "-" + name
}

// RegisterDatastoreFlagsWithPrefix registers the datastore-engine and
// datastore-postgres-uri flags onto flags, each prefixed by prefix (empty
// for the top-level command, non-empty when a subcommand needs its own
// independently-configured datastore).
func RegisterDatastoreFlagsWithPrefix(flags *pflag.FlagSet, prefix string, config *Config) error {
	flags.Var(newEngineValue(&config.Engine), flagName(prefix, "datastore-engine"),
		"datastore engine to use (memory, postgres)")
	flags.StringVar(&config.PostgresURI, flagName(prefix, "datastore-postgres-uri"), "",
		"postgres connection URI, required when datastore-engine=postgres")
	return nil
}

// engineValue adapts EngineType to pflag.Value so RegisterDatastoreFlagsWithPrefix
// can validate the flag's string against the known engine names at parse time
// rather than deferring to NewDatastore.
type engineValue EngineType

func newEngineValue(e *EngineType) *engineValue {
	*e = MemoryEngine
	return (*engineValue)(e)
}

func (e *engineValue) String() string { return string(*e) }
func (e *engineValue) Type() string   { return "engine" }
func (e *engineValue) Set(s string) error {
	switch EngineType(s) {
	case MemoryEngine, PostgresEngine:
		*e = engineValue(s)
		return nil
	default:
		return fmt.Errorf("unknown datastore engine %q", s)
	}
}

// Datastore bundles the four component contracts the rest of the engine is
// built against. Fields are named rather than embedded: EntityStore and
// OntologyStore both embed datastore.DataSource, so embedding both here
// would leave IsReady/Close ambiguous selectors.
type Datastore struct {
	Entities datastore.EntityStore
	Ontology datastore.OntologyStore
	Deletion datastore.DeletionEngine
	Snapshot datastore.SnapshotEngine
}

// IsReady reports whether both the entity and ontology components are
// ready to accept traffic.
func (d *Datastore) IsReady(ctx context.Context) (bool, error) {
	entitiesReady, err := d.Entities.IsReady(ctx)
	if err != nil {
		return false, err
	}
	if !entitiesReady {
		return false, nil
	}
	return d.Ontology.IsReady(ctx)
}

// Close releases both components' underlying connections or memory.
func (d *Datastore) Close() error {
	if err := d.Entities.Close(); err != nil {
		return err
	}
	return d.Ontology.Close()
}

type configOptions struct {
	engine                EngineType
	postgresURI           string
	bootstrapFiles        []string
	bootstrapFileContents map[string][]byte
	fs                    afero.Fs
}

// ConfigOption configures NewDatastore.
type ConfigOption func(*configOptions)

// WithEngine selects which concrete engine NewDatastore constructs.
func WithEngine(engine EngineType) ConfigOption {
	return func(o *configOptions) { o.engine = engine }
}

// WithPostgresURI sets the connection URI used when the engine is
// PostgresEngine.
func WithPostgresURI(uri string) ConfigOption {
	return func(o *configOptions) { o.postgresURI = uri }
}

// SetBootstrapFiles loads bootstrap documents (see bootstrap.go) from disk
// paths, applied in the given order after SetBootstrapFileContents.
func SetBootstrapFiles(paths []string) ConfigOption {
	return func(o *configOptions) { o.bootstrapFiles = paths }
}

// SetBootstrapFileContents loads bootstrap documents already held in
// memory, keyed by a name used only for error messages; applied in
// key-sorted order so loading is deterministic.
func SetBootstrapFileContents(contents map[string][]byte) ConfigOption {
	return func(o *configOptions) { o.bootstrapFileContents = contents }
}

// WithFilesystem overrides the afero.Fs bootstrapFiles is read through;
// tests substitute afero.NewMemMapFs() to exercise SetBootstrapFiles
// without touching disk. Unset, NewDatastore reads the real filesystem.
func WithFilesystem(fs afero.Fs) ConfigOption {
	return func(o *configOptions) { o.fs = fs }
}

// NewDatastore constructs the selected engine, wires a snapshot.Engine over
// it, and applies every configured bootstrap document before returning.
func NewDatastore(ctx context.Context, opts ...ConfigOption) (*Datastore, error) {
	options := configOptions{engine: MemoryEngine, fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(&options)
	}

	var ds Datastore
	switch options.engine {
	case PostgresEngine:
		if options.postgresURI == "" {
			return nil, fmt.Errorf("datastore: postgres engine requires a connection URI")
		}
		store, err := postgres.NewStore(ctx, options.postgresURI)
		if err != nil {
			return nil, fmt.Errorf("datastore: construct postgres store: %w", err)
		}
		ds = Datastore{Entities: store, Ontology: store, Deletion: store}
	case MemoryEngine, "":
		entities, err := memory.New()
		if err != nil {
			return nil, fmt.Errorf("datastore: construct memory entity store: %w", err)
		}
		ds = Datastore{Entities: entities, Ontology: memory.NewOntologyStore(), Deletion: entities}
	default:
		return nil, fmt.Errorf("datastore: unknown engine %q", options.engine)
	}
	ds.Snapshot = &snapshot.Engine{Entities: ds.Entities, Ontology: ds.Ontology}

	names := make([]string, 0, len(options.bootstrapFileContents))
	for name := range options.bootstrapFileContents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := loadBootstrap(ctx, &ds, name, options.bootstrapFileContents[name]); err != nil {
			return nil, err
		}
	}

	for _, path := range options.bootstrapFiles {
		contents, err := afero.ReadFile(options.fs, path)
		if err != nil {
			return nil, fmt.Errorf("datastore: read bootstrap file %q: %w", path, err)
		}
		if err := loadBootstrap(ctx, &ds, path, contents); err != nil {
			return nil, err
		}
	}

	return &ds, nil
}
