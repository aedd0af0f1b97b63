package typesystem

// pairKey identifies an ordered (lhs, rhs) pair under test by a recursive
// lattice operation.
type pairKey struct {
	Lhs TypeId
	Rhs TypeId
}

// RecursionBoundary owns the visited set of (lhs, rhs) pairs that forms the
// coinductive hypothesis for subtype/join/meet over recursive types (spec
// §4.C, §9). enter marks a pair in-progress and reports whether it was
// already present (a cycle); exit pops it once the caller's recursive call
// returns.
//
// A single RecursionBoundary is scoped to one top-level lattice call; it is
// not safe for concurrent use, mirroring the teacher's convention of
// short-lived per-call builders (e.g. RelationshipQuery) rather than shared
// mutable state.
type RecursionBoundary struct {
	visited map[pairKey]bool
	depth   int
	maxDepth int
}

// DefaultMaxDepth bounds lattice recursion so that a malformed but
// non-cyclic type (e.g. a very deep Struct of Structs) cannot exhaust the
// stack; spec §5 requires CPU-bound lattice work to be "bounded in depth by
// the recursion boundary".
const DefaultMaxDepth = 4096

// NewRecursionBoundary constructs an empty boundary.
func NewRecursionBoundary() *RecursionBoundary {
	return &RecursionBoundary{visited: make(map[pairKey]bool), maxDepth: DefaultMaxDepth}
}

// Enter marks (lhs, rhs) as in-progress. It returns (true, nil) if the pair
// is already on the stack — the coinductive hypothesis fires and the
// caller should treat the relation as holding at this boundary. It returns
// an error if the maximum recursion depth is exceeded (a TypeCheck
// diagnostic, not a panic).
func (b *RecursionBoundary) Enter(lhs, rhs TypeId) (alreadyInProgress bool, err error) {
	b.depth++
	if b.depth > b.maxDepth {
		return false, &RecursionLimitError{Depth: b.depth}
	}
	key := pairKey{Lhs: lhs, Rhs: rhs}
	if b.visited[key] {
		return true, nil
	}
	b.visited[key] = true
	return false, nil
}

// Exit pops (lhs, rhs) from the in-progress set once the caller's
// recursive descent for that pair has returned.
func (b *RecursionBoundary) Exit(lhs, rhs TypeId) {
	b.depth--
	delete(b.visited, pairKey{Lhs: lhs, Rhs: rhs})
}

// RecursionLimitError is a TypeCheck diagnostic raised when lattice
// recursion exceeds RecursionBoundary.maxDepth.
type RecursionLimitError struct {
	Depth int
}

func (e *RecursionLimitError) Error() string {
	return "typesystem: recursion depth limit exceeded"
}

// isRecursive reports whether e.Get(id).Kind == KindRecursive.
func isRecursive(e *Environment, id TypeId) bool {
	return e.Get(id).Kind == KindRecursive
}

// unfold substitutes one layer of a Recursive type's own id for TypeVar{0}
// occurrences in its body, producing the type one unrolling deeper. This is
// how a dischargeable cycle is compared against the "other side": the
// recursive type is unfolded once before continuing the structural
// comparison.
func unfold(e *Environment, recursiveId TypeId) TypeId {
	rec := e.Get(recursiveId)
	if rec.Kind != KindRecursive {
		return recursiveId
	}
	return substituteTypeVar(e, rec.Recursive.Body, 0, recursiveId)
}

// substituteTypeVar replaces TypeVar{Index: depth} occurrences (not
// shadowed by an intervening μ-binder) within id's structure with
// replacement, returning a freshly interned type.
func substituteTypeVar(e *Environment, id TypeId, depth int, replacement TypeId) TypeId {
	t := e.Get(id)
	switch t.Kind {
	case KindTypeVar:
		if t.TypeVar.Index == depth {
			return replacement
		}
		return id
	case KindStruct:
		fields := make(map[string]TypeId, len(t.StructFields))
		for k, v := range t.StructFields {
			fields[k] = substituteTypeVar(e, v, depth, replacement)
		}
		return e.Intern(Type{Kind: KindStruct, StructName: t.StructName, StructFields: fields})
	case KindTuple:
		elems := make([]TypeId, len(t.Tuple))
		for i, v := range t.Tuple {
			elems[i] = substituteTypeVar(e, v, depth, replacement)
		}
		return e.Intern(Type{Kind: KindTuple, Tuple: elems})
	case KindList:
		return e.Intern(Type{Kind: KindList, List: substituteTypeVar(e, t.List, depth, replacement)})
	case KindDict:
		return e.Intern(Type{Kind: KindDict, Dict: DictType{
			Key:   substituteTypeVar(e, t.Dict.Key, depth, replacement),
			Value: substituteTypeVar(e, t.Dict.Value, depth, replacement),
		}})
	case KindUnion, KindIntersection:
		variants := make([]TypeId, len(t.Variants))
		for i, v := range t.Variants {
			variants[i] = substituteTypeVar(e, v, depth, replacement)
		}
		return e.Intern(Type{Kind: t.Kind, Variants: variants})
	case KindOpaque:
		return e.Intern(Type{Kind: KindOpaque, Opaque: OpaqueType{
			Name:  t.Opaque.Name,
			Inner: substituteTypeVar(e, t.Opaque.Inner, depth, replacement),
		}})
	case KindFunction:
		params := make([]TypeId, len(t.Function.Params))
		for i, p := range t.Function.Params {
			params[i] = substituteTypeVar(e, p, depth, replacement)
		}
		return e.Intern(Type{Kind: KindFunction, Function: FunctionType{
			Params: params,
			Return: substituteTypeVar(e, t.Function.Return, depth, replacement),
		}})
	case KindRecursive:
		// Entering a nested binder shifts the depth we are substituting for.
		return e.Intern(Type{Kind: KindRecursive, Recursive: RecursiveType{
			Body: substituteTypeVar(e, t.Recursive.Body, depth+1, replacement),
		}})
	default:
		return id
	}
}
