package grapherr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAndIs(t *testing.T) {
	err := New(NotFound, "get_entity", errors.New("missing"))
	require.True(t, Is(err, NotFound))
	require.False(t, Is(err, Validation))
}

func TestWithEntityAndFilterAttachToLatestFrame(t *testing.T) {
	err := New(Uniqueness, "create_entity", errors.New("dup")).WithEntity("entity-1").WithFilter("uuid=eq")
	require.Equal(t, "entity-1", err.Context[0].EntityId)
	require.Equal(t, "uuid=eq", err.Context[0].Filter)
}

func TestWrapPushesNewContextFramePreservingKind(t *testing.T) {
	inner := New(Staleness, "patch_entity", errors.New("stale revision"))
	outer := Wrap("handle_request", inner)

	require.True(t, Is(outer, Staleness))
	var ge *Error
	require.True(t, errors.As(outer, &ge))
	require.Len(t, ge.Context, 2)
	require.Equal(t, "handle_request", ge.Context[0].Operation)
	require.Equal(t, "patch_entity", ge.Context[1].Operation)
}

func TestWrapOfNonGrapherrErrorDefaultsToValidation(t *testing.T) {
	err := Wrap("compile_filter", errors.New("boom"))
	require.True(t, Is(err, Validation))
}

func TestWrapOfNilReturnsNil(t *testing.T) {
	require.NoError(t, Wrap("op", nil))
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("root cause")
	err := New(Parsing, "decode_cursor", cause)
	require.ErrorIs(t, err, cause)
}
