package typesystem

// Diagnostic is a lattice-level TypeCheck finding, collected rather than
// short-circuited (spec §9: "For lattice diagnostics, collect rather than
// short-circuit; surface all problems found in one pass").
type Diagnostic struct {
	Kind    DiagnosticKind
	Lhs     TypeId
	Rhs     TypeId
	Message string
}

type DiagnosticKind int

const (
	DiagCircularReference DiagnosticKind = iota
	DiagRecursiveProjection
	DiagRecursiveSubscript
	DiagVarianceMismatch
)

// IsSubtypeOf decides whether a is a subtype of b under variance,
// handling recursive types coinductively: a bounded RecursionBoundary marks
// (a, b) as in-progress; a recursive hit returns true at the recursion
// boundary (the coinduction hypothesis), per spec §4.C.
func IsSubtypeOf(env *Environment, variance Variance, a, b TypeId) (bool, []Diagnostic) {
	boundary := NewRecursionBoundary()
	var diags []Diagnostic
	ok := isSubtypeOf(env, boundary, variance, a, b, &diags)
	return ok, diags
}

func isSubtypeOf(env *Environment, boundary *RecursionBoundary, variance Variance, a, b TypeId, diags *[]Diagnostic) bool {
	// Never is bottom: subtype of everything. Unknown is top: everything is
	// a subtype of it, covariantly.
	if a == NeverId {
		return true
	}
	if b == UnknownId && variance != Contravariant {
		return true
	}
	if a == UnknownId && variance == Contravariant {
		return true
	}

	already, err := boundary.Enter(a, b)
	if err != nil {
		*diags = append(*diags, Diagnostic{Kind: DiagCircularReference, Lhs: a, Rhs: b, Message: err.Error()})
		return false
	}
	if already {
		// Coinductive hypothesis: assume the relation holds at the boundary.
		return true
	}
	defer boundary.Exit(a, b)

	ta, tb := env.Get(a), env.Get(b)

	switch variance {
	case Contravariant:
		return isSubtypeOf(env, boundary, Covariant, b, a, diags)
	case Invariant:
		return isSubtypeOf(env, boundary, Covariant, a, b, diags) && isSubtypeOf(env, boundary, Covariant, b, a, diags)
	}

	// One side recursive, the other not: dischargeable by unfolding the
	// recursive side once and continuing structurally (spec §4.C
	// "Recursion discipline").
	if ta.Kind == KindRecursive && tb.Kind != KindRecursive {
		return isSubtypeOf(env, boundary, variance, unfold(env, a), b, diags)
	}
	if tb.Kind == KindRecursive && ta.Kind != KindRecursive {
		return isSubtypeOf(env, boundary, variance, a, unfold(env, b), diags)
	}
	if ta.Kind == KindRecursive && tb.Kind == KindRecursive {
		return isSubtypeOf(env, boundary, variance, unfold(env, a), unfold(env, b), diags)
	}

	switch tb.Kind {
	case KindUnknown:
		return true
	case KindUnion:
		// a <: (b1 | b2 | ...) iff a <: some bi.
		for _, v := range tb.Variants {
			if isSubtypeOf(env, boundary, variance, a, v, diags) {
				return true
			}
		}
		return false
	case KindIntersection:
		// a <: (b1 & b2 & ...) iff a <: every bi.
		for _, v := range tb.Variants {
			if !isSubtypeOf(env, boundary, variance, a, v, diags) {
				return false
			}
		}
		return true
	}

	switch ta.Kind {
	case KindNever:
		return true
	case KindUnion:
		// (a1 | a2 | ...) <: b iff every ai <: b.
		for _, v := range ta.Variants {
			if !isSubtypeOf(env, boundary, variance, v, b, diags) {
				return false
			}
		}
		return true
	case KindIntersection:
		// (a1 & a2 & ...) <: b iff some ai <: b.
		for _, v := range ta.Variants {
			if isSubtypeOf(env, boundary, variance, v, b, diags) {
				return true
			}
		}
		return false
	}

	if ta.Kind != tb.Kind {
		return false
	}

	switch ta.Kind {
	case KindPrimitive:
		return ta.Primitive == tb.Primitive

	case KindOpaque:
		return ta.Opaque.Name == tb.Opaque.Name &&
			isSubtypeOf(env, boundary, variance, ta.Opaque.Inner, tb.Opaque.Inner, diags)

	case KindList:
		return isSubtypeOf(env, boundary, variance, ta.List, tb.List, diags)

	case KindDict:
		return isSubtypeOf(env, boundary, Invariant, ta.Dict.Key, tb.Dict.Key, diags) &&
			isSubtypeOf(env, boundary, Invariant, ta.Dict.Value, tb.Dict.Value, diags)

	case KindTuple:
		if len(ta.Tuple) != len(tb.Tuple) {
			return false
		}
		for i := range ta.Tuple {
			if !isSubtypeOf(env, boundary, variance, ta.Tuple[i], tb.Tuple[i], diags) {
				return false
			}
		}
		return true

	case KindStruct:
		// A struct may narrow (add fields) but must provide every field the
		// supertype requires, each covariantly compatible.
		for name, bField := range tb.StructFields {
			aField, ok := ta.StructFields[name]
			if !ok {
				return false
			}
			if !isSubtypeOf(env, boundary, variance, aField, bField, diags) {
				return false
			}
		}
		return true

	case KindFunction:
		if len(ta.Function.Params) != len(tb.Function.Params) {
			return false
		}
		for i := range ta.Function.Params {
			// Parameters are contravariant.
			if !isSubtypeOf(env, boundary, Contravariant, ta.Function.Params[i], tb.Function.Params[i], diags) {
				return false
			}
		}
		return isSubtypeOf(env, boundary, Covariant, ta.Function.Return, tb.Function.Return, diags)

	case KindGeneric:
		if ta.Generic.Name != tb.Generic.Name {
			return isSubtypeOf(env, boundary, variance, ta.Generic.Bound, b, diags)
		}
		return true

	case KindTypeVar:
		return ta.TypeVar.Index == tb.TypeVar.Index

	default:
		return false
	}
}
