// Package typesystem implements the type lattice: subtyping, join/meet,
// simplification, and structural projection/subscript over an interned
// universe of types (spec §4.C). This is deliberately the largest package
// in the module — schema validation and query-path inference both compile
// down to lattice operations.
package typesystem

import (
	"fmt"
	"sort"
	"strings"
)

// TypeId is an interned reference into an Environment's type arena. The
// zero value is never a valid id.
type TypeId int

// Kind discriminates the variant held by a Type.
type Kind int

const (
	KindNever Kind = iota
	KindUnknown
	KindPrimitive
	KindStruct
	KindTuple
	KindList
	KindDict
	KindUnion
	KindIntersection
	KindOpaque
	KindFunction
	KindGeneric
	KindTypeVar
	KindRecursive
)

func (k Kind) String() string {
	switch k {
	case KindNever:
		return "Never"
	case KindUnknown:
		return "Unknown"
	case KindPrimitive:
		return "Primitive"
	case KindStruct:
		return "Struct"
	case KindTuple:
		return "Tuple"
	case KindList:
		return "List"
	case KindDict:
		return "Dict"
	case KindUnion:
		return "Union"
	case KindIntersection:
		return "Intersection"
	case KindOpaque:
		return "Opaque"
	case KindFunction:
		return "Function"
	case KindGeneric:
		return "Generic"
	case KindTypeVar:
		return "TypeVar"
	case KindRecursive:
		return "Recursive"
	default:
		return "InvalidKind"
	}
}

// Primitive is the set of scalar primitive kinds.
type Primitive int

const (
	PrimitiveBoolean Primitive = iota
	PrimitiveNumber
	PrimitiveString
	PrimitiveNull
)

// DictType is a homogeneously-keyed mapping type.
type DictType struct {
	Key   TypeId
	Value TypeId
}

// OpaqueType names a nominal wrapper around an inner structural type,
// e.g. a data-type-backed scalar such as "Celsius" wrapping Number.
type OpaqueType struct {
	Name  string
	Inner TypeId
}

// FunctionType is a parameter list and return type.
type FunctionType struct {
	Params []TypeId
	Return TypeId
}

// GenericType is a named, optionally-bounded generic parameter scoped to
// the struct/function that introduced it.
type GenericType struct {
	Name  string
	Bound TypeId // KindUnknown when unbounded
}

// TypeVar is a de Bruijn-indexed bound variable inside a Recursive body:
// Index counts binder nesting outward from the variable's occurrence, 0
// meaning "the nearest enclosing μ".
type TypeVar struct {
	Index int
}

// RecursiveType is a μ-bound recursive type: Body may contain TypeVar{0}
// occurrences referring back to the whole RecursiveType.
type RecursiveType struct {
	Body TypeId
}

// Type is one node in the lattice, a tagged union keyed by Kind. Only the
// field(s) matching Kind are meaningful.
type Type struct {
	Kind Kind

	Primitive Primitive

	StructName   string
	StructFields map[string]TypeId // property name -> type

	Tuple []TypeId

	List TypeId

	Dict DictType

	// Union/Intersection variants, kept in canonical (score, id) order by
	// Environment.intern so that equal sets compare as interned-equal
	// regardless of construction order.
	Variants []TypeId

	Opaque OpaqueType

	Function FunctionType

	Generic GenericType

	TypeVar TypeVar

	Recursive RecursiveType
}

// canonicalKey renders a Type's structural identity for deduplication.
// Variant order inside Union/Intersection must already be canonical
// (Environment.intern sorts before computing this key) so that sets built
// in different orders hash identically.
func (t Type) canonicalKey() string {
	var b strings.Builder
	writeCanonical(&b, t)
	return b.String()
}

func writeCanonical(b *strings.Builder, t Type) {
	fmt.Fprintf(b, "%s(", t.Kind)
	switch t.Kind {
	case KindPrimitive:
		fmt.Fprintf(b, "%d", t.Primitive)
	case KindStruct:
		fmt.Fprintf(b, "%s;", t.StructName)
		keys := make([]string, 0, len(t.StructFields))
		for k := range t.StructFields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(b, "%s=%d,", k, t.StructFields[k])
		}
	case KindTuple:
		for _, id := range t.Tuple {
			fmt.Fprintf(b, "%d,", id)
		}
	case KindList:
		fmt.Fprintf(b, "%d", t.List)
	case KindDict:
		fmt.Fprintf(b, "%d:%d", t.Dict.Key, t.Dict.Value)
	case KindUnion, KindIntersection:
		for _, id := range t.Variants {
			fmt.Fprintf(b, "%d,", id)
		}
	case KindOpaque:
		fmt.Fprintf(b, "%s:%d", t.Opaque.Name, t.Opaque.Inner)
	case KindFunction:
		for _, id := range t.Function.Params {
			fmt.Fprintf(b, "%d,", id)
		}
		fmt.Fprintf(b, "->%d", t.Function.Return)
	case KindGeneric:
		fmt.Fprintf(b, "%s<=%d", t.Generic.Name, t.Generic.Bound)
	case KindTypeVar:
		fmt.Fprintf(b, "%d", t.TypeVar.Index)
	case KindRecursive:
		fmt.Fprintf(b, "mu.%d", t.Recursive.Body)
	}
	b.WriteString(")")
}

// Environment is the process-lifetime type universe: an interner plus the
// generic-argument scope and recursion arena shared read-mostly across
// inference tasks (spec §5, §9 "shared ownership of the interner"). The
// zero value is not usable; use NewEnvironment.
//
// Environment is safe for concurrent reads. Mutation (Intern, Provision,
// Finalize) must go through a single writer — callers embedding Environment
// in a concurrent service should guard writes with their own mutex, mirroring
// the "single-writer contract" spec §9 calls out.
type Environment struct {
	types []Type          // index 0 is unused; TypeId(i) -> types[i]
	canon map[string]TypeId

	typeVarCounter int
}

// NewEnvironment constructs an Environment pre-seeded with the two
// universal constants Never and Unknown at well-known ids.
func NewEnvironment() *Environment {
	e := &Environment{
		types: make([]Type, 1, 64), // index 0 reserved
		canon: make(map[string]TypeId, 64),
	}
	NeverId = e.intern(Type{Kind: KindNever})
	UnknownId = e.intern(Type{Kind: KindUnknown})
	return e
}

// NeverId and UnknownId are populated by NewEnvironment; every Environment
// instance assigns them identically since they are interned first.
var (
	NeverId    TypeId
	UnknownId  TypeId
)

// Get dereferences id. Panics on an invalid id — ids are only handed out
// by this Environment and should never dangle.
func (e *Environment) Get(id TypeId) Type {
	if int(id) <= 0 || int(id) >= len(e.types) {
		panic(fmt.Sprintf("typesystem: dangling TypeId %d", id))
	}
	return e.types[id]
}

// Intern canonicalizes t (sorting Union/Intersection variants into
// deterministic order) and returns its interned TypeId, reusing an
// existing slot when the structural key matches — this realizes the
// "deduplicate variants by interned pointer identity" rule: once a Type is
// materialized via Intern, equal structural content always yields the same
// TypeId, so id-equality works as identity-equality.
func (e *Environment) Intern(t Type) TypeId {
	if t.Kind == KindUnion || t.Kind == KindIntersection {
		t.Variants = e.canonicalizeVariants(t.Variants)
	}
	return e.intern(t)
}

func (e *Environment) intern(t Type) TypeId {
	key := t.canonicalKey()
	if id, ok := e.canon[key]; ok {
		return id
	}
	e.types = append(e.types, t)
	id := TypeId(len(e.types) - 1)
	e.canon[key] = id
	return id
}

// canonicalizeVariants sorts and deduplicates a variant list by
// (score_by_specificity, interned_address), per spec §4.C determinism
// rule. It interns nothing: every variant is already an allocated TypeId.
func (e *Environment) canonicalizeVariants(variants []TypeId) []TypeId {
	seen := make(map[TypeId]bool, len(variants))
	deduped := make([]TypeId, 0, len(variants))
	for _, v := range variants {
		if seen[v] {
			continue
		}
		seen[v] = true
		deduped = append(deduped, v)
	}
	sort.Slice(deduped, func(i, j int) bool {
		si, sj := e.specificityScore(deduped[i]), e.specificityScore(deduped[j])
		if si != sj {
			return si > sj // more specific first
		}
		return deduped[i] < deduped[j]
	})
	return deduped
}

// specificityScore orders variants from most to least specific: concrete
// scalars/structs before opaque/generic before Unknown/Never, giving a
// deterministic total order independent of insertion sequence.
func (e *Environment) specificityScore(id TypeId) int {
	switch e.Get(id).Kind {
	case KindPrimitive:
		return 100
	case KindStruct, KindTuple, KindList, KindDict:
		return 90
	case KindFunction:
		return 80
	case KindOpaque:
		return 70
	case KindRecursive:
		return 60
	case KindUnion, KindIntersection:
		return 50
	case KindGeneric, KindTypeVar:
		return 40
	case KindUnknown:
		return 10
	case KindNever:
		return 0
	default:
		return 30
	}
}

// Provision reserves a TypeId slot without content, for constructing
// self-referential (recursive) types: build the body referencing the
// provisioned id, then call Finalize.
func (e *Environment) Provision() TypeId {
	e.types = append(e.types, Type{Kind: KindNever})
	return TypeId(len(e.types) - 1)
}

// Finalize fills in a previously Provision()'d id's content. Provisioned
// types are deduplicated by id directly (not by structural key), since
// their content is only known at Finalize time and may itself be
// self-referential.
func (e *Environment) Finalize(id TypeId, t Type) {
	if int(id) <= 0 || int(id) >= len(e.types) {
		panic(fmt.Sprintf("typesystem: Finalize on unprovisioned id %d", id))
	}
	e.types[id] = t
}

// NewTypeVar allocates a fresh bound-variable index for constructing a
// Recursive type's body.
func (e *Environment) NewTypeVar() TypeVar {
	idx := e.typeVarCounter
	e.typeVarCounter++
	return TypeVar{Index: idx}
}

// Recursive interns a μ-bound recursive type given a function that builds
// the body from the (not-yet-finalized) self-reference id.
func (e *Environment) Recursive(buildBody func(self TypeId) TypeId) TypeId {
	self := e.Provision()
	body := buildBody(self)
	e.Finalize(self, Type{Kind: KindRecursive, Recursive: RecursiveType{Body: body}})
	return self
}
