// Package datastore defines the storage interfaces the graph engine is
// built against: entity editions, ontology types, deletion, and snapshot
// transfer. Concrete engines (memory, postgres) live in sibling packages
// and satisfy these interfaces.
package datastore

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/authzed/hashgraph/internal/query"
	"github.com/authzed/hashgraph/pkg/identifier"
	"github.com/authzed/hashgraph/pkg/property"
	"github.com/authzed/hashgraph/pkg/temporal"
	"github.com/authzed/hashgraph/pkg/typesystem"
)

// DataSource is the base interface every store engine implements.
type DataSource interface {
	// IsReady returns whether the store is ready to accept data. Engines that
	// require schema migration return false until migrations have run.
	IsReady(ctx context.Context) (bool, error)

	// Close releases the underlying connection or memory structures.
	Close() error
}

// Revision is a bitemporal transaction-time stamp. Implementations code
// directly against decimal.Decimal when creating or parsing one; it is
// kept distinct from the exact-rational arithmetic pkg/typesystem uses for
// data-type Conversions, which has a different precision requirement (see
// DESIGN.md).
type Revision = decimal.Decimal

// NoRevision is the zero Revision, used to signal an empty/error result.
var NoRevision Revision

// EntityEdition is the edition-observable state of one entity at one
// point in its timeline: the tuple (properties, type set, link data,
// archived) that defines edition identity (spec §4.F "Edition policy").
type EntityEdition struct {
	EditionId  identifier.EntityEditionId
	Properties property.Object
	TypeIds    []identifier.VersionedUrl
	LinkData   *property.LinkData
	Archived   bool
	Provenance property.EditionProvenance
	Axes       temporal.Axes
}

// EntityRow pairs an entity's identity with its current edition, the unit
// query_entities returns per match.
type EntityRow struct {
	Id      identifier.EntityId
	Edition EntityEdition
}

// SubgraphResult is the traversal-augmented read query_entity_subgraph
// returns: vertices keyed by identifier and edges discovered while
// walking the requested TraversalPaths.
type SubgraphResult struct {
	Vertices map[string]EntityRow
	Edges    []SubgraphEdge
}

// SubgraphEdge is one (source, kind, direction, target) traversal hop.
type SubgraphEdge struct {
	Source    identifier.EntityId
	Kind      query.EdgeKind
	Direction query.Direction
	Target    identifier.EntityId
}

// CreateEntityParams is the contract for create_entity (spec §4.F).
type CreateEntityParams struct {
	WebId        identifier.WebId
	EntityUuid   *identifier.EntityUuid // nil: engine mints a fresh uuid
	Draft        bool
	Properties   property.Object
	TypeIds      []identifier.VersionedUrl
	LinkData     *property.LinkData
	DecisionTime *temporal.Bound // nil: opens at now
	Provenance   property.EditionProvenance
}

// PropertyPatch is one Add/Replace/Remove operation applied by
// patch_entity, reusing the property-patch algebra (spec §4.F).
type PropertyPatch = property.Patch

// PatchEntityParams is the contract for patch_entity.
type PatchEntityParams struct {
	Id             identifier.EntityId
	PropertyPatch  []PropertyPatch
	TypeIds        []identifier.VersionedUrl // nil: unchanged
	Archived       *bool                     // nil: unchanged
	PromoteFromDraft bool                    // draft=true -> false
	Provenance     property.EditionProvenance
}

// QueryParams bundles a filter, temporal resolution, and pagination state
// shared by query_entities, query_entity_subgraph, and count_entities.
type QueryParams struct {
	Filter       query.EntityFilter
	Resolution   temporal.Resolution
	Cursor       *temporal.Cursor
	Limit        int
	IncludeCount bool
}

// QueryPage is the result of query_entities: a page of rows, the cursor
// to request the next page (nil at the end), and an optional total count.
type QueryPage struct {
	Rows       []EntityRow
	NextCursor *temporal.Cursor
	Count      *int
}

// EntityStore is the component F contract.
type EntityStore interface {
	DataSource

	CreateEntity(ctx context.Context, params CreateEntityParams) (EntityRow, error)
	PatchEntity(ctx context.Context, params PatchEntityParams) (EntityRow, error)
	QueryEntities(ctx context.Context, params QueryParams) (QueryPage, error)
	QueryEntitySubgraph(ctx context.Context, params QueryParams, traversal query.SubgraphTraversalParams) (SubgraphResult, error)
	CountEntities(ctx context.Context, filter query.EntityFilter, resolution temporal.Resolution) (int, error)
}

// ConflictBehavior governs ontology type creation on a VersionedUrl
// collision (spec §4.G).
type ConflictBehavior int

const (
	ConflictFail ConflictBehavior = iota
	ConflictSkip
)

// OntologyTypeKind discriminates the three ontology record kinds, which
// share a create/update/inheritance-resolution contract.
type OntologyTypeKind int

const (
	OntologyDataType OntologyTypeKind = iota
	OntologyPropertyType
	OntologyEntityType
)

// OntologyTypeRecord is one edition of a DataType, PropertyType, or
// EntityType. Schema is left as a generic payload: the lattice
// (pkg/typesystem) interprets DataType schemas as Conversions-bearing
// constraints, while PropertyType/EntityType schemas reference other
// VersionedUrls resolved at inheritance time.
type OntologyTypeRecord struct {
	Kind       OntologyTypeKind
	Url        identifier.VersionedUrl
	Schema     map[string]any
	InheritsFrom []identifier.VersionedUrl
	Conversions  typesystem.Conversions
	Provenance property.EditionProvenance
	Axes       temporal.Axes
}

// CreateOntologyTypeParams is the contract for creating a DataType,
// PropertyType, or EntityType edition.
type CreateOntologyTypeParams struct {
	Record   OntologyTypeRecord
	Conflict ConflictBehavior
}

// OntologyStore is the component G contract.
type OntologyStore interface {
	DataSource

	CreateOntologyType(ctx context.Context, params CreateOntologyTypeParams) (OntologyTypeRecord, error)
	UpdateOntologyType(ctx context.Context, record OntologyTypeRecord) (OntologyTypeRecord, error)
	GetOntologyType(ctx context.Context, url identifier.VersionedUrl) (OntologyTypeRecord, error)

	// ResolveInheritance expands url's effective schema by walking
	// InheritsFrom edges. The memory engine rejects an inheritance cycle at
	// insert time; the postgres engine does not check for cycles, and its
	// walk skips types it has already visited.
	ResolveInheritance(ctx context.Context, url identifier.VersionedUrl) ([]OntologyTypeRecord, error)

	// ListOntologyTypes returns every currently-open edition of kind, in no
	// particular cross-call-stable order beyond "stable by identifier"
	// (spec §4.I); used by the snapshot engine to walk the full catalog.
	ListOntologyTypes(ctx context.Context, kind OntologyTypeKind) ([]OntologyTypeRecord, error)
}

// DeletionScope is one of the three deletion engine scopes (spec §4.H).
type DeletionScope int

const (
	// ScopeDraft removes one matched draft row; the entity_ids row and any
	// published timeline are untouched.
	ScopeDraft DeletionScope = iota
	// ScopePurge removes all editions and drafts but keeps the entity_ids
	// row, stamped with deletion provenance.
	ScopePurge
	// ScopeErase removes the entity_ids row entirely, unless the match was
	// draft-only on an entity that also has a published timeline (spec
	// §4.H "Partial draft semantics"), in which case it behaves as Draft.
	ScopeErase
)

// DeletionEngine is the component H contract.
type DeletionEngine interface {
	// Delete removes everything matched by filter under scope, in the
	// FK-safe order spec §4.H mandates. An incoming edge from a surviving
	// entity aborts the delete with a Referential error.
	Delete(ctx context.Context, filter query.EntityFilter, scope DeletionScope) error
}

// SnapshotRecordKind discriminates records in the NDJSON wire format
// (spec §6.2).
type SnapshotRecordKind string

const (
	RecordSnapshot             SnapshotRecordKind = "snapshot"
	RecordAccount              SnapshotRecordKind = "account"
	RecordAccountGroup         SnapshotRecordKind = "accountGroup"
	RecordDataType             SnapshotRecordKind = "dataType"
	RecordPropertyType         SnapshotRecordKind = "propertyType"
	RecordEntityType           SnapshotRecordKind = "entityType"
	RecordEntity               SnapshotRecordKind = "entity"
	RecordDataTypeEmbedding    SnapshotRecordKind = "dataTypeEmbedding"
	RecordPropertyTypeEmbedding SnapshotRecordKind = "propertyTypeEmbedding"
	RecordEntityTypeEmbedding  SnapshotRecordKind = "entityTypeEmbedding"
	RecordEntityEmbedding      SnapshotRecordKind = "entityEmbedding"
	RecordPrincipal            SnapshotRecordKind = "principal"
	RecordAction               SnapshotRecordKind = "action"
	RecordPolicy               SnapshotRecordKind = "policy"
	RecordPolicyActions        SnapshotRecordKind = "policyActions"
)

// SupportedGraphModuleVersion is the blockProtocolModuleVersions.graph
// value this engine accepts in a snapshot header record.
const SupportedGraphModuleVersion = "0.3.0"

// SnapshotRecord is one decoded line of the NDJSON stream, keyed by Kind
// with Payload left as raw JSON for the typed dispatcher to route (spec
// §4.I, §6.2).
type SnapshotRecord struct {
	Kind    SnapshotRecordKind
	Payload []byte
}

// SnapshotEngine is the component I contract.
type SnapshotEngine interface {
	// Dump streams a snapshot header, the ontology types and the entities
	// onto records, closing records when it returns; the returned error is
	// the first producer failure.
	Dump(ctx context.Context, records chan<- SnapshotRecord) error

	// Restore buffers every record, then writes them to the stores. A
	// failure while writing does not roll back the records already
	// written. Exactly one RecordSnapshot header is required.
	Restore(ctx context.Context, records <-chan SnapshotRecord) error
}
