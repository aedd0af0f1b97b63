package typesystem

import (
	"math/big"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func newTestEnv() *Environment {
	return NewEnvironment()
}

func primitive(env *Environment, p Primitive) TypeId {
	return env.Intern(Type{Kind: KindPrimitive, Primitive: p})
}

func structType(env *Environment, name string, fields map[string]TypeId) TypeId {
	return env.Intern(Type{Kind: KindStruct, StructName: name, StructFields: fields})
}

func TestInternDeduplicatesStructurallyEqualTypes(t *testing.T) {
	env := newTestEnv()
	a := primitive(env, PrimitiveNumber)
	b := primitive(env, PrimitiveNumber)
	require.Equal(t, a, b)
}

func TestInternKeepsDistinctTypesSeparate(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	str := primitive(env, PrimitiveString)
	require.NotEqual(t, num, str)
}

func TestInternCanonicalizesUnionVariantOrderRegardlessOfConstruction(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	str := primitive(env, PrimitiveString)

	u1 := env.Intern(Type{Kind: KindUnion, Variants: []TypeId{num, str}})
	u2 := env.Intern(Type{Kind: KindUnion, Variants: []TypeId{str, num}})
	require.Equal(t, u1, u2)
}

func TestJoinOfEqualTypesReturnsSameId(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	require.Equal(t, num, Join(env, num, num))
}

func TestJoinWithNeverReturnsOtherSide(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	require.Equal(t, num, Join(env, NeverId, num))
	require.Equal(t, num, Join(env, num, NeverId))
}

func TestJoinWithUnknownReturnsUnknown(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	require.Equal(t, UnknownId, Join(env, UnknownId, num))
}

func TestJoinOfDisjointPrimitivesFormsUnion(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	str := primitive(env, PrimitiveString)

	joined := Join(env, num, str)
	result := env.Get(joined)
	require.Equal(t, KindUnion, result.Kind)
	require.Contains(t, result.Variants, num)
	require.Contains(t, result.Variants, str)
}

func TestJoinOfStructsWithSameNameUnionsFieldsDroppingAsymmetric(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	str := primitive(env, PrimitiveString)

	a := structType(env, "Person", map[string]TypeId{"name": str, "age": num})
	b := structType(env, "Person", map[string]TypeId{"name": str})

	joined := Join(env, a, b)
	result := env.Get(joined)
	require.Equal(t, KindStruct, result.Kind)
	require.Contains(t, result.StructFields, "name")
	require.NotContains(t, result.StructFields, "age")
}

func TestJoinOfListsJoinsElementTypes(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	str := primitive(env, PrimitiveString)

	listNum := env.Intern(Type{Kind: KindList, List: num})
	listStr := env.Intern(Type{Kind: KindList, List: str})

	joined := Join(env, listNum, listStr)
	result := env.Get(joined)
	require.Equal(t, KindList, result.Kind)
	require.Equal(t, KindUnion, env.Get(result.List).Kind)
}

func TestMeetOfEqualTypesReturnsSameId(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	require.Equal(t, num, Meet(env, num, num))
}

func TestMeetWithUnknownReturnsOtherSide(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	require.Equal(t, num, Meet(env, UnknownId, num))
	require.Equal(t, num, Meet(env, num, UnknownId))
}

func TestMeetWithNeverReturnsNever(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	require.Equal(t, NeverId, Meet(env, NeverId, num))
}

func TestMeetOfStructsWithSameNameUnionsFieldsTakingTighter(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	str := primitive(env, PrimitiveString)

	a := structType(env, "Person", map[string]TypeId{"name": str})
	b := structType(env, "Person", map[string]TypeId{"name": str, "age": num})

	met := Meet(env, a, b)
	result := env.Get(met)
	require.Equal(t, KindStruct, result.Kind)
	require.Contains(t, result.StructFields, "name")
	require.Contains(t, result.StructFields, "age")
}

func TestSimplifyFlattensNestedUnions(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	str := primitive(env, PrimitiveString)
	boolT := primitive(env, PrimitiveBoolean)

	inner := env.Intern(Type{Kind: KindUnion, Variants: []TypeId{num, str}})
	outer := env.Intern(Type{Kind: KindUnion, Variants: []TypeId{inner, boolT}})

	simplified := Simplify(env, outer)
	result := env.Get(simplified)
	require.Equal(t, KindUnion, result.Kind)
	require.Len(t, result.Variants, 3)
	require.Contains(t, result.Variants, num)
	require.Contains(t, result.Variants, str)
	require.Contains(t, result.Variants, boolT)
}

func TestSimplifyAbsorbsNeverInUnion(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	u := env.Intern(Type{Kind: KindUnion, Variants: []TypeId{num, NeverId}})
	require.Equal(t, num, Simplify(env, u))
}

func TestSimplifyUnknownAbsorbsWholeUnion(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	u := env.Intern(Type{Kind: KindUnion, Variants: []TypeId{num, UnknownId}})
	require.Equal(t, UnknownId, Simplify(env, u))
}

func TestSimplifyAbsorbsUnknownInIntersection(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	i := env.Intern(Type{Kind: KindIntersection, Variants: []TypeId{num, UnknownId}})
	require.Equal(t, num, Simplify(env, i))
}

func TestSimplifyNeverAbsorbsWholeIntersection(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	i := env.Intern(Type{Kind: KindIntersection, Variants: []TypeId{num, NeverId}})
	require.Equal(t, NeverId, Simplify(env, i))
}

func TestIsSubtypeOfNeverIsBottom(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	ok, diags := IsSubtypeOf(env, Covariant, NeverId, num)
	require.True(t, ok)
	require.Empty(t, diags)
}

func TestIsSubtypeOfUnknownIsTopCovariantly(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	ok, _ := IsSubtypeOf(env, Covariant, num, UnknownId)
	require.True(t, ok)
}

func TestIsSubtypeOfStructAllowsWidthSubtyping(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	str := primitive(env, PrimitiveString)

	narrow := structType(env, "Person", map[string]TypeId{"name": str, "age": num})
	wide := structType(env, "Person", map[string]TypeId{"name": str})

	ok, _ := IsSubtypeOf(env, Covariant, narrow, wide)
	require.True(t, ok)

	ok, _ = IsSubtypeOf(env, Covariant, wide, narrow)
	require.False(t, ok)
}

func TestIsSubtypeOfUnionRequiresSomeBranch(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	str := primitive(env, PrimitiveString)
	boolT := primitive(env, PrimitiveBoolean)

	union := env.Intern(Type{Kind: KindUnion, Variants: []TypeId{num, str}})
	ok, _ := IsSubtypeOf(env, Covariant, num, union)
	require.True(t, ok)

	ok, _ = IsSubtypeOf(env, Covariant, boolT, union)
	require.False(t, ok)
}

func TestIsSubtypeOfFunctionParamsAreContravariant(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	numOrStr := env.Intern(Type{Kind: KindUnion, Variants: []TypeId{num, primitive(env, PrimitiveString)}})

	// A function accepting the wider (number|string) can be used where one
	// accepting only number is expected: narrower param requirement <: wider.
	narrowParam := env.Intern(Type{Kind: KindFunction, Function: FunctionType{Params: []TypeId{num}, Return: num}})
	wideParam := env.Intern(Type{Kind: KindFunction, Function: FunctionType{Params: []TypeId{numOrStr}, Return: num}})

	ok, _ := IsSubtypeOf(env, Covariant, wideParam, narrowParam)
	require.True(t, ok)

	ok, _ = IsSubtypeOf(env, Covariant, narrowParam, wideParam)
	require.False(t, ok)
}

func TestIsSubtypeOfRecursiveTypesDischargeCoinductively(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)

	// List node { value: Number, next: Self }
	ring := env.Recursive(func(TypeId) TypeId {
		return structType(env, "Node", map[string]TypeId{
			"value": num,
			"next":  env.Intern(Type{Kind: KindTypeVar, TypeVar: TypeVar{Index: 0}}),
		})
	})

	ok, diags := IsSubtypeOf(env, Covariant, ring, ring)
	require.True(t, ok)
	require.Empty(t, diags)
}

func TestJoinOfStructSubtypePairReturnsTheSupertypeDirectly(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	str := primitive(env, PrimitiveString)

	narrow := structType(env, "Person", map[string]TypeId{"name": str, "age": num})
	wide := structType(env, "Person", map[string]TypeId{"name": str})

	joined := Join(env, narrow, wide)
	require.Equal(t, wide, joined)
}

func TestProjectionResolvesStructField(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	str := primitive(env, PrimitiveString)
	s := structType(env, "Person", map[string]TypeId{"name": str, "age": num})

	result := Projection(env, s, "age")
	require.Equal(t, AccessOK, result.Kind)
	require.Equal(t, num, result.Result)
}

func TestProjectionErrorsOnMissingField(t *testing.T) {
	env := newTestEnv()
	str := primitive(env, PrimitiveString)
	s := structType(env, "Person", map[string]TypeId{"name": str})

	result := Projection(env, s, "age")
	require.Equal(t, AccessError, result.Kind)
	require.NotNil(t, result.Err)
}

func TestProjectionDistributesOverUnionAndRejoins(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	str := primitive(env, PrimitiveString)

	a := structType(env, "Dog", map[string]TypeId{"name": str})
	b := structType(env, "Cat", map[string]TypeId{"name": num})
	u := env.Intern(Type{Kind: KindUnion, Variants: []TypeId{a, b}})

	result := Projection(env, u, "name")
	require.Equal(t, AccessOK, result.Kind)
	joined := env.Get(result.Result)
	require.Equal(t, KindUnion, joined.Kind)
}

func TestProjectionOnNonStructErrors(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	result := Projection(env, num, "anything")
	require.Equal(t, AccessError, result.Kind)
}

func TestSubscriptResolvesTupleElement(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	str := primitive(env, PrimitiveString)
	tup := env.Intern(Type{Kind: KindTuple, Tuple: []TypeId{num, str}})

	result := Subscript(env, tup, 1)
	require.Equal(t, AccessOK, result.Kind)
	require.Equal(t, str, result.Result)
}

func TestSubscriptOutOfBoundsErrors(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	tup := env.Intern(Type{Kind: KindTuple, Tuple: []TypeId{num}})

	result := Subscript(env, tup, 5)
	require.Equal(t, AccessError, result.Kind)
}

func TestSubscriptNegativeIndexAlwaysErrors(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	list := env.Intern(Type{Kind: KindList, List: num})

	result := Subscript(env, list, -1)
	require.Equal(t, AccessError, result.Kind)
}

func TestSubscriptListAcceptsAnyNonNegativeIndex(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	list := env.Intern(Type{Kind: KindList, List: num})

	result := Subscript(env, list, 1000)
	require.Equal(t, AccessOK, result.Kind)
	require.Equal(t, num, result.Result)
}

func TestConversionRoundTripsCelsiusToFahrenheit(t *testing.T) {
	// F = C * 9/5 + 32; C = (F - 32) * 5/9
	toF := BinOp(BinOp(Self(), OpMul, Const(9, 5)), OpAdd, Const(32, 1))
	toC := BinOp(BinOp(Self(), OpSub, Const(32, 1)), OpMul, Const(5, 9))
	conv := Conversion{From: toF, To: toC}

	ok, err := conv.RoundTrips(big.NewRat(100, 1))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestConversionEvaluateIsExactNotApproximate(t *testing.T) {
	// 1/3 * 3 must be exactly 1, which a float/decimal division would not
	// guarantee.
	expr := BinOp(Const(1, 3), OpMul, Const(3, 1))
	result, err := expr.Evaluate(big.NewRat(0, 1))
	require.NoError(t, err)
	require.Equal(t, 0, result.Cmp(big.NewRat(1, 1)))
}

func TestConversionEvaluateDivisionByZeroErrors(t *testing.T) {
	expr := BinOp(Self(), OpDiv, Const(0, 1))
	_, err := expr.Evaluate(big.NewRat(1, 1))
	require.Error(t, err)
}

func TestConversionInvertSwapsFromAndTo(t *testing.T) {
	toF := BinOp(Self(), OpMul, Const(2, 1))
	toC := BinOp(Self(), OpDiv, Const(2, 1))
	conv := Conversion{From: toF, To: toC}

	inv := conv.Invert()
	require.Equal(t, conv.From, inv.To)
	require.Equal(t, conv.To, inv.From)
}

func TestSimplifyUnionDropsRepeatedVariant(t *testing.T) {
	env := newTestEnv()
	num := primitive(env, PrimitiveNumber)
	str := primitive(env, PrimitiveString)

	dup := env.Intern(Type{Kind: KindUnion, Variants: []TypeId{num, str, num}})
	result := env.Get(Simplify(env, dup))
	require.Equal(t, KindUnion, result.Kind)

	got := append([]TypeId(nil), result.Variants...)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	want := []TypeId{num, str}
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("simplified union variants mismatch (-want +got):\n%s", diff)
	}
}

func TestRecursionBoundaryEnterExitTracksInProgressPairs(t *testing.T) {
	b := NewRecursionBoundary()
	already, err := b.Enter(1, 2)
	require.NoError(t, err)
	require.False(t, already)

	already, err = b.Enter(1, 2)
	require.NoError(t, err)
	require.True(t, already)

	b.Exit(1, 2)
	already, err = b.Enter(1, 2)
	require.NoError(t, err)
	require.False(t, already)
}

func TestRecursionBoundaryEnforcesMaxDepth(t *testing.T) {
	b := NewRecursionBoundary()
	b.maxDepth = 2
	_, err := b.Enter(1, 2)
	require.NoError(t, err)
	_, err = b.Enter(2, 3)
	require.NoError(t, err)
	_, err = b.Enter(3, 4)
	require.Error(t, err)
}
