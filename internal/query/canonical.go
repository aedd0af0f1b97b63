package query

import (
	"github.com/authzed/hashgraph/pkg/filter"
	"github.com/authzed/hashgraph/pkg/identifier"
)

// EntityFilter is the concrete filter.Filter instantiated over
// EntityQueryPath — the type every Entity Store operation accepts.
type EntityFilter = filter.Filter[EntityQueryPath]

// ByEntityId builds the canonical filter matching one exact EntityId,
// structured identically regardless of call site so that hand-written
// filters compare equal to this helper's output (spec §4.D).
func ByEntityId(id identifier.EntityId) EntityFilter {
	combinators := []EntityFilter{
		filter.Equal(filter.PathExpr[EntityQueryPath](WebId()), paramPtr(filter.ParameterUuid, id.WebId.String())),
		filter.Equal(filter.PathExpr[EntityQueryPath](Uuid()), paramPtr(filter.ParameterUuid, id.EntityUuid.String())),
	}
	if id.DraftId != nil {
		combinators = append(combinators, filter.Equal(
			filter.PathExpr[EntityQueryPath](DraftId()),
			paramPtr(filter.ParameterUuid, id.DraftId.String()),
		))
	} else {
		combinators = append(combinators, filter.Equal(filter.PathExpr[EntityQueryPath](DraftId()), nil))
	}
	return filter.All(combinators...)
}

// ByTypeUrl builds the canonical filter matching entities whose type set
// includes the given entity type base URL, at the given inheritance depth
// (0 = directly typed, >0 = inherited).
func ByTypeUrl(baseUrl identifier.BaseUrl, inheritanceDepth int) EntityFilter {
	depth := inheritanceDepth
	return filter.Equal(
		filter.PathExpr[EntityQueryPath](EntityTypeEdge(EdgeIsOfType, EntityTypeBaseUrl, &depth)),
		paramPtr(filter.ParameterBaseUrl, string(baseUrl)),
	)
}

// ByDataTypeAncestry builds an Any() over each depth level
// 0..maxInheritanceDepth of an is-of-type entity-type edge whose base URL
// equals baseUrl (mirroring how the compiler expands bounded inheritance
// per spec §4.E step 4). The filter does not inspect data types or
// properties: propertyBase is not used.
func ByDataTypeAncestry(propertyBase identifier.BaseUrl, baseUrl identifier.BaseUrl, maxInheritanceDepth int) EntityFilter {
	alternatives := make([]EntityFilter, 0, maxInheritanceDepth+1)
	for depth := 0; depth <= maxInheritanceDepth; depth++ {
		d := depth
		alternatives = append(alternatives, filter.Equal(
			filter.PathExpr[EntityQueryPath](EntityTypeEdge(EdgeIsOfType, EntityTypeBaseUrl, &d)),
			paramPtr(filter.ParameterBaseUrl, string(baseUrl)),
		))
	}
	_ = propertyBase // data-type ancestry is expressed via the entity-type edge chain; property scoping is applied by the caller ANDing a Properties() filter alongside this helper.
	return filter.Any(alternatives...)
}

// NotArchived is the canonical filter excluding archived entities.
func NotArchived() EntityFilter {
	return filter.Equal(filter.PathExpr[EntityQueryPath](Archived()), paramPtr(filter.ParameterBoolean, false))
}

// MatchAll is the canonical filter matching every entity visible at a given
// temporal resolution, an OpAll combinator with no combinators (vacuously
// true). Used by the snapshot engine's entity enumeration, where the
// caller wants every row rather than a targeted predicate.
func MatchAll() EntityFilter {
	return filter.All[EntityQueryPath]()
}

func paramPtr(t filter.ParameterType, v any) *filter.Expression[EntityQueryPath] {
	expr := filter.ParamExpr[EntityQueryPath](filter.Parameter{Type: t, Value: v})
	return &expr
}
