package typesystem

// AccessKind discriminates the result of a Projection or Subscript: either
// a resolved type or a distinguished Error.
type AccessKind int

const (
	AccessOK AccessKind = iota
	AccessError
)

// AccessResult is the result of a structural access operation: projection
// by field name or subscript by index.
type AccessResult struct {
	Kind   AccessKind
	Result TypeId
	Err    *Diagnostic
}

// Projection resolves the type of a Struct field access id.field. Unions
// distribute the projection across variants and re-join the results;
// anything else is a Projection error.
func Projection(env *Environment, id TypeId, field string) AccessResult {
	boundary := NewRecursionBoundary()
	return projection(env, boundary, id, field)
}

func projection(env *Environment, boundary *RecursionBoundary, id TypeId, field string) AccessResult {
	t := env.Get(id)

	switch t.Kind {
	case KindStruct:
		fieldType, ok := t.StructFields[field]
		if !ok {
			return AccessResult{Kind: AccessError, Err: &Diagnostic{
				Kind: DiagCircularReference, Lhs: id,
				Message: "projection: field " + field + " does not exist on struct " + t.StructName,
			}}
		}
		return AccessResult{Kind: AccessOK, Result: fieldType}

	case KindUnion:
		var joined TypeId = NeverId
		first := true
		for _, v := range t.Variants {
			r := projection(env, boundary, v, field)
			if r.Kind == AccessError {
				return r
			}
			if first {
				joined = r.Result
				first = false
			} else {
				joined = join(env, boundary, joined, r.Result)
			}
		}
		return AccessResult{Kind: AccessOK, Result: joined}

	case KindIntersection:
		var met TypeId = UnknownId
		first := true
		for _, v := range t.Variants {
			r := projection(env, boundary, v, field)
			if r.Kind == AccessError {
				continue // an intersection member lacking the field doesn't disqualify the others
			}
			if first {
				met = r.Result
				first = false
			} else {
				met = meet(env, boundary, met, r.Result)
			}
		}
		if first {
			return AccessResult{Kind: AccessError, Err: &Diagnostic{
				Kind: DiagCircularReference, Lhs: id,
				Message: "projection: no intersection member has field " + field,
			}}
		}
		return AccessResult{Kind: AccessOK, Result: met}

	case KindRecursive:
		already, err := boundary.Enter(id, NeverId)
		if err != nil || already {
			return AccessResult{Kind: AccessError, Err: &Diagnostic{
				Kind: DiagRecursiveProjection, Lhs: id,
				Message: "projection: recursive projection through " + field + " does not terminate",
			}}
		}
		defer boundary.Exit(id, NeverId)
		return projection(env, boundary, unfold(env, id), field)

	default:
		return AccessResult{Kind: AccessError, Err: &Diagnostic{
			Kind: DiagCircularReference, Lhs: id,
			Message: "projection: " + t.Kind.String() + " has no fields",
		}}
	}
}

// Subscript resolves the type of a Tuple/List index access id[index]. A
// negative index always errors. List accepts any non-negative index; Tuple
// requires index < len(Tuple).
func Subscript(env *Environment, id TypeId, index int) AccessResult {
	boundary := NewRecursionBoundary()
	return subscript(env, boundary, id, index)
}

func subscript(env *Environment, boundary *RecursionBoundary, id TypeId, index int) AccessResult {
	if index < 0 {
		return AccessResult{Kind: AccessError, Err: &Diagnostic{
			Kind: DiagCircularReference, Lhs: id, Message: "subscript: negative index",
		}}
	}

	t := env.Get(id)
	switch t.Kind {
	case KindList:
		return AccessResult{Kind: AccessOK, Result: t.List}

	case KindTuple:
		if index >= len(t.Tuple) {
			return AccessResult{Kind: AccessError, Err: &Diagnostic{
				Kind: DiagCircularReference, Lhs: id, Message: "subscript: index out of bounds",
			}}
		}
		return AccessResult{Kind: AccessOK, Result: t.Tuple[index]}

	case KindUnion:
		var joined TypeId = NeverId
		first := true
		for _, v := range t.Variants {
			r := subscript(env, boundary, v, index)
			if r.Kind == AccessError {
				return r
			}
			if first {
				joined = r.Result
				first = false
			} else {
				joined = join(env, boundary, joined, r.Result)
			}
		}
		return AccessResult{Kind: AccessOK, Result: joined}

	case KindRecursive:
		already, err := boundary.Enter(id, TypeId(index))
		if err != nil || already {
			return AccessResult{Kind: AccessError, Err: &Diagnostic{
				Kind: DiagRecursiveSubscript, Lhs: id,
				Message: "subscript: recursive subscript does not terminate",
			}}
		}
		defer boundary.Exit(id, TypeId(index))
		return subscript(env, boundary, unfold(env, id), index)

	default:
		return AccessResult{Kind: AccessError, Err: &Diagnostic{
			Kind: DiagCircularReference, Lhs: id, Message: "subscript: " + t.Kind.String() + " is not indexable",
		}}
	}
}
