package filter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// testPath is a minimal QueryPath implementation local to this test file,
// standing in for the concrete path types (query.EntityQueryPath and
// siblings) that instantiate Filter[P] elsewhere in the module.
type testPath struct {
	name     string
	expected ParameterType
}

func (p testPath) ExpectedType() ParameterType { return p.expected }
func (p testPath) String() string              { return p.name }

func uuidPath(name string) testPath { return testPath{name: name, expected: ParameterUuid} }
func numberPath(name string) testPath { return testPath{name: name, expected: ParameterNumber} }
func boolPath(name string) testPath  { return testPath{name: name, expected: ParameterBoolean} }

func TestCoerceConvertsStringParameterToUuid(t *testing.T) {
	id := "7a7f1b1e-7e7a-4b1e-9e7a-7e7a4b1e9e7a"
	f := Equal(PathExpr[testPath](uuidPath("uuid")), &Expression[testPath]{Param: &Parameter{Type: ParameterText, Value: id}})

	coerced, err := Coerce(f)
	require.NoError(t, err)
	require.Equal(t, ParameterUuid, coerced.Rhs.Param.Type)
}

func TestCoerceRejectsMalformedUuid(t *testing.T) {
	f := Equal(PathExpr[testPath](uuidPath("uuid")), &Expression[testPath]{Param: &Parameter{Type: ParameterText, Value: "not-a-uuid"}})
	_, err := Coerce(f)
	require.Error(t, err)
}

func TestCoercePreservesNilRhsAsNullCheck(t *testing.T) {
	f := Equal(PathExpr[testPath](uuidPath("draft_id")), nil)
	coerced, err := Coerce(f)
	require.NoError(t, err)
	require.Nil(t, coerced.Rhs)
}

func TestCoerceCombinatorsRecurse(t *testing.T) {
	f := All(
		Equal(PathExpr[testPath](boolPath("archived")), &Expression[testPath]{Param: &Parameter{Type: ParameterBoolean, Value: false}}),
		Greater(PathExpr[testPath](numberPath("version")), Expression[testPath]{Param: &Parameter{Type: ParameterNumber, Value: 1}}),
	)
	coerced, err := Coerce(f)
	require.NoError(t, err)
	require.Len(t, coerced.Combinators, 2)
	require.Equal(t, float64(1), coerced.Combinators[1].Rhs.Param.Value)
}

func TestCoerceInListCoercesEachItem(t *testing.T) {
	f := In(PathExpr[testPath](numberPath("version")), []Expression[testPath]{
		{Param: &Parameter{Type: ParameterNumber, Value: 1}},
		{Param: &Parameter{Type: ParameterNumber, Value: 2}},
	})
	coerced, err := Coerce(f)
	require.NoError(t, err)
	require.Len(t, coerced.List, 2)
	require.Equal(t, float64(1), coerced.List[0].Param.Value)
}

func TestCoerceLeavesBothPathsUntouched(t *testing.T) {
	f := Equal(PathExpr[testPath](uuidPath("a")), &Expression[testPath]{IsPath: true, Path: uuidPath("b")})
	coerced, err := Coerce(f)
	require.NoError(t, err)
	require.True(t, coerced.Rhs.IsPath)
}
