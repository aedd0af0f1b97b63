// Package query implements the relational query compiler: turning a
// filter.Filter over a concrete QueryPath into a SQL plan plus
// CompilationArtifacts for row decoding (spec §4.E).
package query

import (
	"fmt"
	"strings"

	"github.com/authzed/hashgraph/pkg/filter"
	"github.com/authzed/hashgraph/pkg/identifier"
)

// EdgeKind names a traversal edge out of an entity, used both by
// EntityQueryPath.EntityTypeEdge/LeftEntity/RightEntity and by
// SubgraphTraversalParams (spec §3.5, §4.E step 4).
type EdgeKind int

const (
	EdgeIsOfType EdgeKind = iota
	EdgeHasLeftEntity
	EdgeHasRightEntity
	EdgeHasLeftEndpoint
	EdgeHasRightEndpoint
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeIsOfType:
		return "is_of_type"
	case EdgeHasLeftEntity:
		return "has_left_entity"
	case EdgeHasRightEntity:
		return "has_right_entity"
	case EdgeHasLeftEndpoint:
		return "has_left_endpoint"
	case EdgeHasRightEndpoint:
		return "has_right_endpoint"
	default:
		return "unknown_edge"
	}
}

// EntityTypeQueryPath navigates within an entity type reached via an edge,
// e.g. the BaseUrl of the entity type an entity `IsOfType`.
type EntityTypeQueryPath int

const (
	EntityTypeBaseUrl EntityTypeQueryPath = iota
	EntityTypeVersion
	EntityTypeTitle
)

func (p EntityTypeQueryPath) String() string {
	switch p {
	case EntityTypeBaseUrl:
		return "base_url"
	case EntityTypeVersion:
		return "version"
	case EntityTypeTitle:
		return "title"
	default:
		return "unknown_entity_type_path"
	}
}

// EntityQueryPathKind discriminates EntityQueryPath variants.
type EntityQueryPathKind int

const (
	PathUuid EntityQueryPathKind = iota
	PathWebId
	PathDraftId
	PathEditionId
	PathArchived
	PathProperties
	PathEntityTypeEdge
	PathRecordCreatedById
	PathRecordCreatedAtTransactionTime
	PathRecordCreatedAtDecisionTime
	PathLeftEntity
	PathRightEntity
	PathEmbedding
)

// EntityQueryPath is a typed navigation through the entity data model
// (spec §3.5). It implements filter.QueryPath so it can be used directly
// as the type parameter of filter.Filter[EntityQueryPath].
type EntityQueryPath struct {
	Kind EntityQueryPathKind

	// PathProperties
	PropertyBaseUrl *identifier.BaseUrl

	// PathEntityTypeEdge
	EdgeKind         EdgeKind
	EntityTypePath   EntityTypeQueryPath
	InheritanceDepth *int

	// PathLeftEntity / PathRightEntity: traversal to the linked entity,
	// recursing into another EntityQueryPath.
	Nested *EntityQueryPath
}

// ExpectedType implements filter.QueryPath.
func (p EntityQueryPath) ExpectedType() filter.ParameterType {
	switch p.Kind {
	case PathUuid, PathWebId, PathDraftId, PathEditionId, PathRecordCreatedById:
		return filter.ParameterUuid
	case PathArchived:
		return filter.ParameterBoolean
	case PathProperties:
		return filter.ParameterAny
	case PathEntityTypeEdge:
		switch p.EntityTypePath {
		case EntityTypeBaseUrl:
			return filter.ParameterBaseUrl
		case EntityTypeVersion:
			return filter.ParameterNumber
		default:
			return filter.ParameterText
		}
	case PathRecordCreatedAtTransactionTime, PathRecordCreatedAtDecisionTime:
		return filter.ParameterTimeStamp
	case PathLeftEntity, PathRightEntity:
		if p.Nested != nil {
			return p.Nested.ExpectedType()
		}
		return filter.ParameterUuid
	case PathEmbedding:
		return filter.ParameterVector
	default:
		return filter.ParameterAny
	}
}

// String implements filter.QueryPath (and fmt.Stringer), rendering the
// path as a dotted token chain for diagnostics and prepared-statement
// cache keys.
func (p EntityQueryPath) String() string {
	switch p.Kind {
	case PathUuid:
		return "uuid"
	case PathWebId:
		return "web_id"
	case PathDraftId:
		return "draft_id"
	case PathEditionId:
		return "edition_id"
	case PathArchived:
		return "archived"
	case PathProperties:
		if p.PropertyBaseUrl != nil {
			return "properties." + string(*p.PropertyBaseUrl)
		}
		return "properties.*"
	case PathEntityTypeEdge:
		var b strings.Builder
		fmt.Fprintf(&b, "%s.%s", p.EdgeKind, p.EntityTypePath)
		if p.InheritanceDepth != nil {
			fmt.Fprintf(&b, "[depth=%d]", *p.InheritanceDepth)
		}
		return b.String()
	case PathRecordCreatedById:
		return "record_created_by_id"
	case PathRecordCreatedAtTransactionTime:
		return "record_created_at_transaction_time"
	case PathRecordCreatedAtDecisionTime:
		return "record_created_at_decision_time"
	case PathLeftEntity:
		if p.Nested != nil {
			return "left_entity." + p.Nested.String()
		}
		return "left_entity"
	case PathRightEntity:
		if p.Nested != nil {
			return "right_entity." + p.Nested.String()
		}
		return "right_entity"
	case PathEmbedding:
		return "embedding"
	default:
		return "unknown_path"
	}
}

// Convenience constructors, mirroring canonical helpers expected to
// produce identical structure to hand-written filters (spec §4.D).

func Uuid() EntityQueryPath    { return EntityQueryPath{Kind: PathUuid} }
func WebId() EntityQueryPath   { return EntityQueryPath{Kind: PathWebId} }
func DraftId() EntityQueryPath { return EntityQueryPath{Kind: PathDraftId} }
func Archived() EntityQueryPath { return EntityQueryPath{Kind: PathArchived} }

func Properties(base *identifier.BaseUrl) EntityQueryPath {
	return EntityQueryPath{Kind: PathProperties, PropertyBaseUrl: base}
}

func EntityTypeEdge(edge EdgeKind, path EntityTypeQueryPath, depth *int) EntityQueryPath {
	return EntityQueryPath{Kind: PathEntityTypeEdge, EdgeKind: edge, EntityTypePath: path, InheritanceDepth: depth}
}

func LeftEntity(nested EntityQueryPath) EntityQueryPath {
	return EntityQueryPath{Kind: PathLeftEntity, Nested: &nested}
}

func RightEntity(nested EntityQueryPath) EntityQueryPath {
	return EntityQueryPath{Kind: PathRightEntity, Nested: &nested}
}
