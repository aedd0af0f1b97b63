package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewIntervalRejectsEmptyRange(t *testing.T) {
	now := time.Now()
	_, err := NewInterval(now, Exclusive(now))
	require.Error(t, err)
}

func TestIntervalContainsRespectsHalfOpenUpperBound(t *testing.T) {
	now := time.Now()
	iv, err := NewInterval(now, Exclusive(now.Add(time.Hour)))
	require.NoError(t, err)

	require.True(t, iv.Contains(now))
	require.True(t, iv.Contains(now.Add(30*time.Minute)))
	require.False(t, iv.Contains(now.Add(time.Hour)))
	require.False(t, iv.Contains(now.Add(-time.Second)))
}

func TestOpenAtIsUnboundedAbove(t *testing.T) {
	now := time.Now()
	iv := OpenAt(now)
	require.True(t, iv.Contains(now.Add(1000*time.Hour)))
	require.False(t, iv.Contains(now.Add(-time.Nanosecond)))
}

func TestClosedAtProducesHalfOpenInterval(t *testing.T) {
	now := time.Now()
	iv := OpenAt(now)
	closed, err := iv.ClosedAt(now.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, closed.Contains(now))
	require.False(t, closed.Contains(now.Add(time.Hour)))
}

func TestClosedAtRejectsNonAdvancingClose(t *testing.T) {
	now := time.Now()
	iv := OpenAt(now)
	_, err := iv.ClosedAt(now)
	require.Error(t, err)
}

func TestOverlapsDetectsSharedInstant(t *testing.T) {
	now := time.Now()
	a, err := NewInterval(now, Exclusive(now.Add(2*time.Hour)))
	require.NoError(t, err)
	b, err := NewInterval(now.Add(time.Hour), Exclusive(now.Add(3*time.Hour)))
	require.NoError(t, err)
	require.True(t, a.Overlaps(b))
	require.True(t, b.Overlaps(a))
}

func TestOverlapsRejectsDisjointIntervals(t *testing.T) {
	now := time.Now()
	a, err := NewInterval(now, Exclusive(now.Add(time.Hour)))
	require.NoError(t, err)
	b, err := NewInterval(now.Add(2*time.Hour), Exclusive(now.Add(3*time.Hour)))
	require.NoError(t, err)
	require.False(t, a.Overlaps(b))
}

func TestResolutionMatchesPinsOneAxisAndRangesTheOther(t *testing.T) {
	now := time.Now()
	decision := OpenAt(now.Add(-time.Hour))
	transaction := OpenAt(now)

	axes := Axes{DecisionTime: decision, TransactionTime: transaction}

	r := PinnedAtNow(TransactionTimeAxis, now)
	require.True(t, r.Matches(axes))

	rPast := Resolution{Pinned: TransactionTimeAxis, PinnedAt: now.Add(-time.Minute), VariableRange: OpenAt(time.Time{})}
	require.False(t, rPast.Matches(axes))
}

func TestResolutionMatchesRejectsNonOverlappingVariableRange(t *testing.T) {
	now := time.Now()
	decision := OpenAt(now.Add(-time.Hour))
	transaction := OpenAt(now)
	axes := Axes{DecisionTime: decision, TransactionTime: transaction}

	narrowRange, err := NewInterval(now.Add(-10*time.Hour), Exclusive(now.Add(-5*time.Hour)))
	require.NoError(t, err)

	r := Resolution{Pinned: TransactionTimeAxis, PinnedAt: now, VariableRange: narrowRange}
	require.False(t, r.Matches(axes))
}
