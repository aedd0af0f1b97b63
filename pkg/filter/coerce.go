package filter

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Coerce walks f and, for every (Path, Parameter) pair, coerces the
// parameter's value to the path's expected type (spec §4.D "Parameter
// coercion"), returning a new Filter with coerced parameters. Both
// operands being parameters is left untouched (legal but uncompared).
// Coercion failure returns a wrapped error whose message names the
// offending path.
func Coerce[P QueryPath](f Filter[P]) (Filter[P], error) {
	out := f
	switch f.Op {
	case OpAll, OpAny:
		combinators := make([]Filter[P], len(f.Combinators))
		for i, c := range f.Combinators {
			coerced, err := Coerce(c)
			if err != nil {
				return Filter[P]{}, err
			}
			combinators[i] = coerced
		}
		out.Combinators = combinators
		return out, nil

	case OpNot:
		coerced, err := Coerce(*f.Inner)
		if err != nil {
			return Filter[P]{}, err
		}
		out.Inner = &coerced
		return out, nil

	case OpIn:
		if !f.Lhs.IsPath {
			out.List = f.List
			return out, nil
		}
		expected := f.Lhs.Path.ExpectedType()
		list := make([]Expression[P], len(f.List))
		for i, item := range f.List {
			if item.IsPath {
				list[i] = item
				continue
			}
			coerced, err := coerceParam(expected, *item.Param)
			if err != nil {
				return Filter[P]{}, fmt.Errorf("filter: coerce In() parameter %d for path %s: %w", i, f.Lhs.Path, err)
			}
			list[i] = ParamExpr[P](coerced)
		}
		out.List = list
		return out, nil

	default:
		lhs, rhs, err := coercePair(f.Lhs, f.Rhs)
		if err != nil {
			return Filter[P]{}, err
		}
		out.Lhs = lhs
		out.Rhs = rhs
		return out, nil
	}
}

// coercePair coerces whichever of lhs/rhs is a Parameter against whichever
// is a Path. If both are paths or both are parameters, they are returned
// unchanged (no coercion target). rhs may be nil (null-check form of
// Equal/NotEqual).
func coercePair[P QueryPath](lhs, rhs *Expression[P]) (*Expression[P], *Expression[P], error) {
	if rhs == nil {
		return lhs, nil, nil
	}
	switch {
	case lhs.IsPath && !rhs.IsPath:
		coerced, err := coerceParam(lhs.Path.ExpectedType(), *rhs.Param)
		if err != nil {
			return nil, nil, fmt.Errorf("filter: coerce parameter for path %s: %w", lhs.Path, err)
		}
		newRhs := ParamExpr[P](coerced)
		return lhs, &newRhs, nil
	case !lhs.IsPath && rhs.IsPath:
		coerced, err := coerceParam(rhs.Path.ExpectedType(), *lhs.Param)
		if err != nil {
			return nil, nil, fmt.Errorf("filter: coerce parameter for path %s: %w", rhs.Path, err)
		}
		newLhs := ParamExpr[P](coerced)
		return &newLhs, rhs, nil
	default:
		return lhs, rhs, nil
	}
}

// coerceParam converts param.Value to the Go representation expected for
// target, failing with a plain (non-grapherr) error on mismatch. Number
// values are always normalized to float64, even when already tagged Number.
func coerceParam(target ParameterType, param Parameter) (Parameter, error) {
	if param.Type == target && target != ParameterNumber {
		return param, nil
	}
	switch target {
	case ParameterUuid, ParameterEntityId:
		s, ok := param.Value.(string)
		if !ok {
			return Parameter{}, fmt.Errorf("expected a string to parse as uuid, got %T", param.Value)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return Parameter{}, fmt.Errorf("invalid uuid %q: %w", s, err)
		}
		return Parameter{Type: target, Value: id}, nil

	case ParameterNumber:
		switch v := param.Value.(type) {
		case float64:
			return Parameter{Type: target, Value: v}, nil
		case int:
			return Parameter{Type: target, Value: float64(v)}, nil
		case int64:
			return Parameter{Type: target, Value: float64(v)}, nil
		default:
			return Parameter{}, fmt.Errorf("expected a number, got %T", param.Value)
		}

	case ParameterText, ParameterBaseUrl, ParameterVersionedUrl:
		s, ok := param.Value.(string)
		if !ok {
			return Parameter{}, fmt.Errorf("expected a string, got %T", param.Value)
		}
		return Parameter{Type: target, Value: s}, nil

	case ParameterBoolean:
		b, ok := param.Value.(bool)
		if !ok {
			return Parameter{}, fmt.Errorf("expected a bool, got %T", param.Value)
		}
		return Parameter{Type: target, Value: b}, nil

	case ParameterTimeStamp, ParameterDecision:
		switch v := param.Value.(type) {
		case time.Time:
			return Parameter{Type: target, Value: v}, nil
		case string:
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return Parameter{}, fmt.Errorf("invalid timestamp %q: %w", v, err)
			}
			return Parameter{Type: target, Value: t}, nil
		default:
			return Parameter{}, fmt.Errorf("expected a timestamp, got %T", param.Value)
		}

	case ParameterVector:
		v, ok := param.Value.([]float64)
		if !ok {
			return Parameter{}, fmt.Errorf("expected a []float64 vector, got %T", param.Value)
		}
		return Parameter{Type: target, Value: v}, nil

	case ParameterAny:
		return Parameter{Type: target, Value: param.Value}, nil

	default:
		return Parameter{}, fmt.Errorf("unsupported target parameter type %v", target)
	}
}
