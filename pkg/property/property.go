// Package property implements the entity property model: a tree of values
// keyed by ontology BaseUrl, with per-path metadata (confidence,
// provenance, data-type assertion) co-located on the same tree, and the
// patch operations used to mutate it.
package property

import (
	"fmt"

	"github.com/authzed/hashgraph/pkg/identifier"
)

// Value is one node of a property tree: either a scalar JSON-ish value, an
// ordered array of Values, or an Object mapping BaseUrl to a nested Value.
// Exactly one of the three representations is populated.
type Value struct {
	Scalar any
	Array  []Value
	Object Object
}

// Kind reports which of the three Value representations is populated.
type Kind int

const (
	KindScalar Kind = iota
	KindArray
	KindObject
)

func (v Value) Kind() Kind {
	switch {
	case v.Array != nil:
		return KindArray
	case v.Object != nil:
		return KindObject
	default:
		return KindScalar
	}
}

// Object is the property object: a tree of values keyed by BaseUrl, per
// spec §3.3.
type Object map[identifier.BaseUrl]Value

// Metadata carries per-value provenance co-located on the property tree:
// confidence, the asserting data type, and the originating sources.
type Metadata struct {
	Confidence      *float64
	DataTypeId      *identifier.VersionedUrl
	Provenance      ValueProvenance
	ObjectMetadata  map[identifier.BaseUrl]*Metadata
	ArrayMetadata   []*Metadata
}

// ValueProvenance is the provenance recorded for a single property value,
// distinct from the edition-level Provenance (spec §3.3).
type ValueProvenance struct {
	Sources []Source
}

// Source describes one origin contributing a property value, e.g. a
// document location or an external API response.
type Source struct {
	Type     string
	Location string
}

// Path navigates through a property Object to a specific node: a sequence
// of BaseUrl (object member) and int (array index) tokens.
type Path []PathToken

// PathToken is either an object-member selector (BaseUrl set, Index < 0)
// or an array-index selector (Index >= 0, BaseUrl empty).
type PathToken struct {
	BaseUrl identifier.BaseUrl
	Index   int
}

func ObjectToken(base identifier.BaseUrl) PathToken { return PathToken{BaseUrl: base, Index: -1} }
func ArrayToken(index int) PathToken               { return PathToken{Index: index} }

func (t PathToken) isArrayToken() bool { return t.BaseUrl == "" && t.Index >= 0 }

// Get navigates obj along p and returns the Value found there.
func (obj Object) Get(p Path) (Value, bool) {
	cur := Value{Object: obj}
	for _, tok := range p {
		switch {
		case tok.isArrayToken():
			if cur.Kind() != KindArray || tok.Index < 0 || tok.Index >= len(cur.Array) {
				return Value{}, false
			}
			cur = cur.Array[tok.Index]
		default:
			if cur.Kind() != KindObject {
				return Value{}, false
			}
			v, ok := cur.Object[tok.BaseUrl]
			if !ok {
				return Value{}, false
			}
			cur = v
		}
	}
	return cur, true
}

// OpKind is the kind of a single property patch operation, per spec §4.F.
type OpKind int

const (
	OpAdd OpKind = iota
	OpReplace
	OpRemove
)

func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "add"
	case OpReplace:
		return "replace"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Patch is a single property patch operation applied by Entity Store's
// patch_entity (spec §4.F).
type Patch struct {
	Op    OpKind
	Path  Path
	Value Value // unused for OpRemove
}

// Apply applies ops in order to obj, returning the resulting Object. It
// never mutates obj; a fresh tree is built.
func Apply(obj Object, ops []Patch) (Object, error) {
	result := obj.clone()
	for _, op := range ops {
		var err error
		result, err = applyOne(result, op)
		if err != nil {
			return nil, fmt.Errorf("property: apply %s at %v: %w", op.Op, op.Path, err)
		}
	}
	return result, nil
}

func (obj Object) clone() Object {
	if obj == nil {
		return Object{}
	}
	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = v.clone()
	}
	return out
}

func (v Value) clone() Value {
	switch v.Kind() {
	case KindObject:
		return Value{Object: v.Object.clone()}
	case KindArray:
		arr := make([]Value, len(v.Array))
		for i, elem := range v.Array {
			arr[i] = elem.clone()
		}
		return Value{Array: arr}
	default:
		return Value{Scalar: v.Scalar}
	}
}

func applyOne(obj Object, op Patch) (Object, error) {
	if len(op.Path) == 0 {
		return nil, fmt.Errorf("empty property path")
	}
	head, rest := op.Path[0], op.Path[1:]
	if head.isArrayToken() {
		return nil, fmt.Errorf("top-level property path must begin with a BaseUrl member")
	}

	if len(rest) == 0 {
		switch op.Op {
		case OpAdd, OpReplace:
			obj[head.BaseUrl] = op.Value
		case OpRemove:
			if _, ok := obj[head.BaseUrl]; !ok && op.Op == OpRemove {
				return nil, fmt.Errorf("path %v does not exist", op.Path)
			}
			delete(obj, head.BaseUrl)
		}
		return obj, nil
	}

	child, ok := obj[head.BaseUrl]
	if !ok {
		if op.Op == OpRemove {
			return nil, fmt.Errorf("path %v does not exist", op.Path)
		}
		child = Value{Object: Object{}}
	}
	updated, err := applyNested(child, rest, op)
	if err != nil {
		return nil, err
	}
	obj[head.BaseUrl] = updated
	return obj, nil
}

func applyNested(v Value, path Path, op Patch) (Value, error) {
	head, rest := path[0], path[1:]

	if head.isArrayToken() {
		arr := append([]Value(nil), v.Array...)
		if len(rest) == 0 {
			switch op.Op {
			case OpAdd:
				if head.Index < 0 || head.Index > len(arr) {
					return Value{}, fmt.Errorf("array index %d out of range", head.Index)
				}
				arr = append(arr[:head.Index], append([]Value{op.Value}, arr[head.Index:]...)...)
			case OpReplace:
				if head.Index < 0 || head.Index >= len(arr) {
					return Value{}, fmt.Errorf("array index %d out of range", head.Index)
				}
				arr[head.Index] = op.Value
			case OpRemove:
				if head.Index < 0 || head.Index >= len(arr) {
					return Value{}, fmt.Errorf("array index %d out of range", head.Index)
				}
				arr = append(arr[:head.Index], arr[head.Index+1:]...)
			}
			return Value{Array: arr}, nil
		}
		if head.Index < 0 || head.Index >= len(arr) {
			return Value{}, fmt.Errorf("array index %d out of range", head.Index)
		}
		updated, err := applyNested(arr[head.Index], rest, op)
		if err != nil {
			return Value{}, err
		}
		arr[head.Index] = updated
		return Value{Array: arr}, nil
	}

	obj := v.Object.clone()
	if len(rest) == 0 {
		switch op.Op {
		case OpAdd, OpReplace:
			obj[head.BaseUrl] = op.Value
		case OpRemove:
			if _, ok := obj[head.BaseUrl]; !ok {
				return Value{}, fmt.Errorf("path does not exist at %s", head.BaseUrl)
			}
			delete(obj, head.BaseUrl)
		}
		return Value{Object: obj}, nil
	}

	child, ok := obj[head.BaseUrl]
	if !ok {
		if op.Op == OpRemove {
			return Value{}, fmt.Errorf("path does not exist at %s", head.BaseUrl)
		}
		child = Value{Object: Object{}}
	}
	updated, err := applyNested(child, rest, op)
	if err != nil {
		return Value{}, err
	}
	obj[head.BaseUrl] = updated
	return Value{Object: obj}, nil
}
