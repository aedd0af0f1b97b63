// Package filter implements the composable predicate algebra over typed
// query paths (spec §4.D). It is deliberately generic over the path type
// so that the same algebra serves entity queries, data-type queries,
// property-type queries, and entity-type queries (spec §3.5, §4.E): each
// concrete record kind supplies its own QueryPath implementation (see
// package query) and instantiates Filter[P] with it.
package filter

import "fmt"

// ParameterType is the type a path expects its comparison literal to be
// coerced to before compilation (spec §4.D "Parameter coercion"); carried
// from original_source's filter/mod.rs ParameterType enum rather than
// collapsed to a generic "typed literal", per SPEC_FULL's supplemented
// detail.
type ParameterType int

const (
	ParameterBoolean ParameterType = iota
	ParameterNumber
	ParameterText
	ParameterAny
	ParameterVector
	ParameterUuid
	ParameterBaseUrl
	ParameterVersionedUrl
	ParameterTimeStamp
	ParameterTimeInterval
	ParameterDecision
	ParameterEntityId
)

func (p ParameterType) String() string {
	switch p {
	case ParameterBoolean:
		return "boolean"
	case ParameterNumber:
		return "number"
	case ParameterText:
		return "text"
	case ParameterAny:
		return "any"
	case ParameterVector:
		return "vector"
	case ParameterUuid:
		return "uuid"
	case ParameterBaseUrl:
		return "base_url"
	case ParameterVersionedUrl:
		return "versioned_url"
	case ParameterTimeStamp:
		return "timestamp"
	case ParameterTimeInterval:
		return "time_interval"
	case ParameterDecision:
		return "decision"
	case ParameterEntityId:
		return "entity_id"
	default:
		return "unknown_parameter_type"
	}
}

// QueryPath is implemented by every concrete path type (EntityQueryPath,
// DataTypeQueryPath, ...). ExpectedType tells the coercion pass what a
// Parameter compared against this path must be coerced to.
type QueryPath interface {
	ExpectedType() ParameterType
	fmt.Stringer
}

// Parameter is a typed literal: the right (or left) side of a comparison
// that is not itself a path.
type Parameter struct {
	Type  ParameterType
	Value any
}

// Expression is either a Path navigation or a typed Parameter literal.
// Exactly one of Path/IsPath and Param is meaningful.
type Expression[P QueryPath] struct {
	IsPath bool
	Path   P
	Param  *Parameter
}

// PathExpr builds a path-valued Expression.
func PathExpr[P QueryPath](p P) Expression[P] {
	return Expression[P]{IsPath: true, Path: p}
}

// ParamExpr builds a parameter-valued Expression.
func ParamExpr[P QueryPath](param Parameter) Expression[P] {
	return Expression[P]{Param: &param}
}

// Op is the kind of a Filter node.
type Op int

const (
	OpAll Op = iota
	OpAny
	OpNot
	OpEqual
	OpNotEqual
	OpGreater
	OpGreaterOrEqual
	OpLess
	OpLessOrEqual
	OpStartsWith
	OpEndsWith
	OpContainsSegment
	OpIn
	OpCosineDistance
)

func (o Op) String() string {
	names := [...]string{
		"all", "any", "not", "equal", "not_equal", "greater", "greater_or_equal",
		"less", "less_or_equal", "starts_with", "ends_with", "contains_segment",
		"in", "cosine_distance",
	}
	if int(o) < len(names) {
		return names[o]
	}
	return "unknown_op"
}

// Filter is the sum type from spec §4.D. Only the fields relevant to Op
// are meaningful:
//   - OpAll / OpAny: Combinators
//   - OpNot: Inner
//   - binary comparisons (Equal .. ContainsSegment): Lhs, Rhs (Rhs may be
//     nil on Equal/NotEqual to express a null check)
//   - OpIn: Lhs, List
//   - OpCosineDistance: Lhs, Rhs, Threshold
type Filter[P QueryPath] struct {
	Op          Op
	Combinators []Filter[P]
	Inner       *Filter[P]
	Lhs         *Expression[P]
	Rhs         *Expression[P]
	List        []Expression[P]
	Threshold   float64
}

func All[P QueryPath](fs ...Filter[P]) Filter[P] { return Filter[P]{Op: OpAll, Combinators: fs} }
func Any[P QueryPath](fs ...Filter[P]) Filter[P] { return Filter[P]{Op: OpAny, Combinators: fs} }
func Not[P QueryPath](f Filter[P]) Filter[P]     { return Filter[P]{Op: OpNot, Inner: &f} }

func binary[P QueryPath](op Op, lhs, rhs Expression[P]) Filter[P] {
	return Filter[P]{Op: op, Lhs: &lhs, Rhs: &rhs}
}

func Equal[P QueryPath](lhs Expression[P], rhs *Expression[P]) Filter[P] {
	return Filter[P]{Op: OpEqual, Lhs: &lhs, Rhs: rhs}
}

func NotEqual[P QueryPath](lhs Expression[P], rhs *Expression[P]) Filter[P] {
	return Filter[P]{Op: OpNotEqual, Lhs: &lhs, Rhs: rhs}
}

func Greater[P QueryPath](lhs, rhs Expression[P]) Filter[P]        { return binary(OpGreater, lhs, rhs) }
func GreaterOrEqual[P QueryPath](lhs, rhs Expression[P]) Filter[P] { return binary(OpGreaterOrEqual, lhs, rhs) }
func Less[P QueryPath](lhs, rhs Expression[P]) Filter[P]           { return binary(OpLess, lhs, rhs) }
func LessOrEqual[P QueryPath](lhs, rhs Expression[P]) Filter[P]    { return binary(OpLessOrEqual, lhs, rhs) }
func StartsWith[P QueryPath](lhs, rhs Expression[P]) Filter[P]     { return binary(OpStartsWith, lhs, rhs) }
func EndsWith[P QueryPath](lhs, rhs Expression[P]) Filter[P]       { return binary(OpEndsWith, lhs, rhs) }
func ContainsSegment[P QueryPath](lhs, rhs Expression[P]) Filter[P] {
	return binary(OpContainsSegment, lhs, rhs)
}

func In[P QueryPath](lhs Expression[P], list []Expression[P]) Filter[P] {
	return Filter[P]{Op: OpIn, Lhs: &lhs, List: list}
}

func CosineDistance[P QueryPath](lhs, rhs Expression[P], threshold float64) Filter[P] {
	return Filter[P]{Op: OpCosineDistance, Lhs: &lhs, Rhs: &rhs, Threshold: threshold}
}
