// Package temporal implements the bitemporal time model: half-open
// intervals on two independent axes (decision time, transaction time) and
// the stable cursor used to page entity queries.
package temporal

import (
	"fmt"
	"time"
)

// Bound is one end of a half-open interval. Bounds are always expressed as
// [lower, upper) on both axes; Unbounded is only valid on the upper end.
type Bound struct {
	Unbounded bool
	Inclusive bool
	Instant   time.Time
}

// Unbounded constructs the unbounded upper bound.
func Unbounded() Bound { return Bound{Unbounded: true} }

// Inclusive constructs an inclusive bound at t.
func Inclusive(t time.Time) Bound { return Bound{Inclusive: true, Instant: t} }

// Exclusive constructs an exclusive bound at t.
func Exclusive(t time.Time) Bound { return Bound{Inclusive: false, Instant: t} }

// Interval is a half-open range [Lower, Upper) on one time axis. Upper may
// be Unbounded; Lower never is.
type Interval struct {
	Lower Bound
	Upper Bound
}

// NewInterval builds the interval [lower, upper) opened at lower (always
// inclusive per spec §3.2) and closed at upper, which may be Unbounded().
func NewInterval(lower time.Time, upper Bound) (Interval, error) {
	iv := Interval{Lower: Inclusive(lower), Upper: upper}
	if !iv.valid() {
		return Interval{}, fmt.Errorf("temporal: interval is empty: lower=%s upper=%v", lower, upper)
	}
	return iv, nil
}

// OpenAt returns the interval [at, +inf).
func OpenAt(at time.Time) Interval {
	return Interval{Lower: Inclusive(at), Upper: Unbounded()}
}

func (iv Interval) valid() bool {
	if iv.Upper.Unbounded {
		return true
	}
	return iv.Lower.Instant.Before(iv.Upper.Instant)
}

// ClosedAt returns a copy of iv with its upper bound closed (exclusively)
// at t. Used when a new edition supersedes the previous one: the previous
// edition's upper bound is closed to the new edition's lower bound.
func (iv Interval) ClosedAt(t time.Time) (Interval, error) {
	closed := Interval{Lower: iv.Lower, Upper: Exclusive(t)}
	if !closed.valid() {
		return Interval{}, fmt.Errorf("temporal: closing interval at %s would make it empty (lower=%v)", t, iv.Lower.Instant)
	}
	return closed, nil
}

// Contains reports whether the pinned instant t lies within iv.
func (iv Interval) Contains(t time.Time) bool {
	if t.Before(iv.Lower.Instant) {
		return false
	}
	if iv.Lower.Inclusive == false && t.Equal(iv.Lower.Instant) {
		return false
	}
	if iv.Upper.Unbounded {
		return true
	}
	if t.After(iv.Upper.Instant) {
		return false
	}
	if !iv.Upper.Inclusive && t.Equal(iv.Upper.Instant) {
		return false
	}
	return true
}

// Overlaps reports whether iv and other share any instant. Used to resolve
// the variable axis against a query range.
func (iv Interval) Overlaps(other Interval) bool {
	lowerOK := other.Upper.Unbounded || iv.Lower.Instant.Before(other.Upper.Instant) ||
		(other.Upper.Inclusive && iv.Lower.Instant.Equal(other.Upper.Instant))
	upperOK := iv.Upper.Unbounded || other.Lower.Instant.Before(iv.Upper.Instant) ||
		(iv.Upper.Inclusive && other.Lower.Instant.Equal(iv.Upper.Instant))
	return lowerOK && upperOK
}

func (iv Interval) String() string {
	upper := "∞"
	if !iv.Upper.Unbounded {
		closing := ")"
		if iv.Upper.Inclusive {
			closing = "]"
		}
		upper = iv.Upper.Instant.Format(time.RFC3339Nano) + closing
	}
	return fmt.Sprintf("[%s,%s", iv.Lower.Instant.Format(time.RFC3339Nano), upper)
}

// Axis identifies which of the two bitemporal axes a query pins versus
// varies.
type Axis int

const (
	// DecisionTimeAxis is when the fact was true in the modeled world.
	DecisionTimeAxis Axis = iota
	// TransactionTimeAxis is when the system recorded the fact.
	TransactionTimeAxis
)

func (a Axis) String() string {
	switch a {
	case DecisionTimeAxis:
		return "decision_time"
	case TransactionTimeAxis:
		return "transaction_time"
	default:
		return "unknown_axis"
	}
}

// Axes holds a row's decision-time and transaction-time intervals
// together.
type Axes struct {
	DecisionTime    Interval
	TransactionTime Interval
}

// interval returns the interval of a on the given axis.
func (a Axes) interval(axis Axis) Interval {
	if axis == DecisionTimeAxis {
		return a.DecisionTime
	}
	return a.TransactionTime
}

// Resolution describes one temporal read: an instant pinned on one axis,
// and a range queried on the other (variable) axis.
type Resolution struct {
	Pinned        Axis
	PinnedAt      time.Time
	VariableRange Interval
}

// Matches implements the read rule from spec §4.F: the pinned instant must
// lie in the row's pinned-axis interval, AND the row's variable-axis
// interval must overlap the query's variable range.
func (r Resolution) Matches(row Axes) bool {
	pinnedInterval := row.interval(r.Pinned)
	if !pinnedInterval.Contains(r.PinnedAt) {
		return false
	}
	variableAxis := DecisionTimeAxis
	if r.Pinned == DecisionTimeAxis {
		variableAxis = TransactionTimeAxis
	}
	return row.interval(variableAxis).Overlaps(r.VariableRange)
}

// PinnedAtNow builds a Resolution pinned at now on pinnedAxis, with the
// variable axis left fully open — the common "give me the current state"
// read.
func PinnedAtNow(pinnedAxis Axis, now time.Time) Resolution {
	return Resolution{
		Pinned:        pinnedAxis,
		PinnedAt:      now,
		VariableRange: OpenAt(time.Time{}),
	}
}
