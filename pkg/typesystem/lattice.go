package typesystem

import "github.com/scylladb/go-set/i64set"

// Join computes the least upper bound of a and b: join(a,b) >= a and
// join(a,b) >= b (spec §4.C, §8 property 7). On a recursion cycle that has
// not yet discharged, Join does not fall back to Unknown: if one side is a
// subtype of the other it returns the super type directly, otherwise it
// forms a Union of the two.
func Join(env *Environment, a, b TypeId) TypeId {
	boundary := NewRecursionBoundary()
	return join(env, boundary, a, b)
}

func join(env *Environment, boundary *RecursionBoundary, a, b TypeId) TypeId {
	if a == b {
		return a
	}
	if a == NeverId {
		return b
	}
	if b == NeverId {
		return a
	}
	if a == UnknownId || b == UnknownId {
		return UnknownId
	}

	already, err := boundary.Enter(a, b)
	if err != nil {
		return UnknownId // recursion limit: fail open to top rather than panic
	}
	if already {
		// Cycle not yet discharged: decide by one-sided subtyping rather
		// than defaulting to top, per spec §4.C.
		boundary.Exit(a, b)
		return joinUndischarged(env, a, b)
	}
	defer boundary.Exit(a, b)

	ta, tb := env.Get(a), env.Get(b)

	if ta.Kind == KindStruct && tb.Kind == KindStruct && ta.StructName == tb.StructName {
		fields := make(map[string]TypeId, len(ta.StructFields))
		allKeys := make(map[string]bool, len(ta.StructFields)+len(tb.StructFields))
		for k := range ta.StructFields {
			allKeys[k] = true
		}
		for k := range tb.StructFields {
			allKeys[k] = true
		}
		for k := range allKeys {
			fa, okA := ta.StructFields[k]
			fb, okB := tb.StructFields[k]
			switch {
			case okA && okB:
				fields[k] = join(env, boundary, fa, fb)
			default:
				// A field present in only one side cannot be required by the
				// join (a struct-subtype of both need not have it), so it is
				// dropped rather than forcing Unknown.
			}
		}
		return env.Intern(Type{Kind: KindStruct, StructName: ta.StructName, StructFields: fields})
	}

	if ta.Kind == KindList && tb.Kind == KindList {
		return env.Intern(Type{Kind: KindList, List: join(env, boundary, ta.List, tb.List)})
	}

	if ta.Kind == KindTuple && tb.Kind == KindTuple && len(ta.Tuple) == len(tb.Tuple) {
		elems := make([]TypeId, len(ta.Tuple))
		for i := range ta.Tuple {
			elems[i] = join(env, boundary, ta.Tuple[i], tb.Tuple[i])
		}
		return env.Intern(Type{Kind: KindTuple, Tuple: elems})
	}

	if ta.Kind == KindDict && tb.Kind == KindDict {
		return env.Intern(Type{Kind: KindDict, Dict: DictType{
			Key:   join(env, boundary, ta.Dict.Key, tb.Dict.Key),
			Value: join(env, boundary, ta.Dict.Value, tb.Dict.Value),
		}})
	}

	return Simplify(env, env.Intern(Type{Kind: KindUnion, Variants: []TypeId{a, b}}))
}

// joinUndischarged resolves a cycle hit during Join: when one side is a
// subtype of the other (checked non-recursively to avoid re-entering the
// same cycle), return the supertype; otherwise form a Union.
func joinUndischarged(env *Environment, a, b TypeId) TypeId {
	if ok, _ := IsSubtypeOf(env, Covariant, a, b); ok {
		return b
	}
	if ok, _ := IsSubtypeOf(env, Covariant, b, a); ok {
		return a
	}
	return Simplify(env, env.Intern(Type{Kind: KindUnion, Variants: []TypeId{a, b}}))
}

// Meet computes the greatest lower bound of a and b: meet(a,b) <= a and
// meet(a,b) <= b.
func Meet(env *Environment, a, b TypeId) TypeId {
	boundary := NewRecursionBoundary()
	return meet(env, boundary, a, b)
}

func meet(env *Environment, boundary *RecursionBoundary, a, b TypeId) TypeId {
	if a == b {
		return a
	}
	if a == UnknownId {
		return b
	}
	if b == UnknownId {
		return a
	}
	if a == NeverId || b == NeverId {
		return NeverId
	}

	already, err := boundary.Enter(a, b)
	if err != nil {
		return NeverId
	}
	if already {
		boundary.Exit(a, b)
		return meetUndischarged(env, a, b)
	}
	defer boundary.Exit(a, b)

	ta, tb := env.Get(a), env.Get(b)

	if ta.Kind == KindStruct && tb.Kind == KindStruct && ta.StructName == tb.StructName {
		fields := make(map[string]TypeId, len(ta.StructFields)+len(tb.StructFields))
		for k, v := range ta.StructFields {
			fields[k] = v
		}
		for k, v := range tb.StructFields {
			if existing, ok := fields[k]; ok {
				fields[k] = meet(env, boundary, existing, v)
			} else {
				fields[k] = v
			}
		}
		return env.Intern(Type{Kind: KindStruct, StructName: ta.StructName, StructFields: fields})
	}

	if ta.Kind == KindList && tb.Kind == KindList {
		return env.Intern(Type{Kind: KindList, List: meet(env, boundary, ta.List, tb.List)})
	}

	if ta.Kind == KindTuple && tb.Kind == KindTuple && len(ta.Tuple) == len(tb.Tuple) {
		elems := make([]TypeId, len(ta.Tuple))
		for i := range ta.Tuple {
			elems[i] = meet(env, boundary, ta.Tuple[i], tb.Tuple[i])
		}
		return env.Intern(Type{Kind: KindTuple, Tuple: elems})
	}

	return Simplify(env, env.Intern(Type{Kind: KindIntersection, Variants: []TypeId{a, b}}))
}

func meetUndischarged(env *Environment, a, b TypeId) TypeId {
	if ok, _ := IsSubtypeOf(env, Covariant, a, b); ok {
		return a
	}
	if ok, _ := IsSubtypeOf(env, Covariant, b, a); ok {
		return b
	}
	return Simplify(env, env.Intern(Type{Kind: KindIntersection, Variants: []TypeId{a, b}}))
}

// Simplify canonicalizes id: flattening nested unions/intersections,
// absorbing Never in unions and Unknown in intersections, and
// deduplicating variants. Non-union/intersection types are returned
// unchanged (they are already canonical by construction via Intern).
func Simplify(env *Environment, id TypeId) TypeId {
	t := env.Get(id)
	switch t.Kind {
	case KindUnion:
		return simplifyUnion(env, t.Variants)
	case KindIntersection:
		return simplifyIntersection(env, t.Variants)
	default:
		return id
	}
}

func simplifyUnion(env *Environment, variants []TypeId) TypeId {
	flat := flattenVariants(env, KindUnion, variants)

	seen := i64set.New()
	filtered := flat[:0:0]
	for _, v := range flat {
		if v == NeverId {
			continue // Never absorbed
		}
		if v == UnknownId {
			return UnknownId // Unknown absorbs the whole union
		}
		if seen.Has(int64(v)) {
			continue // duplicate variant, already retained
		}
		seen.Add(int64(v))
		filtered = append(filtered, v)
	}
	switch len(filtered) {
	case 0:
		return NeverId
	case 1:
		return filtered[0]
	default:
		return env.Intern(Type{Kind: KindUnion, Variants: filtered})
	}
}

func simplifyIntersection(env *Environment, variants []TypeId) TypeId {
	flat := flattenVariants(env, KindIntersection, variants)

	seen := i64set.New()
	filtered := flat[:0:0]
	for _, v := range flat {
		if v == UnknownId {
			continue // Unknown absorbed
		}
		if v == NeverId {
			return NeverId // Never absorbs the whole intersection
		}
		if seen.Has(int64(v)) {
			continue // duplicate variant, already retained
		}
		seen.Add(int64(v))
		filtered = append(filtered, v)
	}
	switch len(filtered) {
	case 0:
		return UnknownId
	case 1:
		return filtered[0]
	default:
		return env.Intern(Type{Kind: KindIntersection, Variants: filtered})
	}
}

// flattenVariants inlines nested same-kind Union/Intersection variants one
// level at a time until fully flat (spec §4.C "flatten nested unions/
// intersections").
func flattenVariants(env *Environment, kind Kind, variants []TypeId) []TypeId {
	var out []TypeId
	for _, v := range variants {
		t := env.Get(v)
		if t.Kind == kind {
			out = append(out, flattenVariants(env, kind, t.Variants)...)
		} else {
			out = append(out, v)
		}
	}
	return out
}
