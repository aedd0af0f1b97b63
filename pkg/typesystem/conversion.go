package typesystem

import (
	"fmt"
	"math/big"
)

// Op is an arithmetic operator in a Conversions expression tree.
type Op int

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	default:
		return "?"
	}
}

// Expression is a node of a Conversions expression tree, evaluated over
// `self` (the input value) using exact rational arithmetic (spec §3.4):
// Constant(Rational) | Self | Operator{Left, Op, Right}.
//
// Grounded in original_source's conversion.rs expression tree; represented
// here with math/big.Rat rather than a decimal type because the
// round-trip-to-identity invariant (spec §8 property 6) requires true
// rational arithmetic — decimal division rounds at a fixed scale and
// cannot guarantee exact inverses for ratios like 5/9 (documented in
// DESIGN.md).
type Expression struct {
	IsSelf   bool
	Constant *big.Rat
	Left     *Expression
	Op       Op
	Right    *Expression
}

// Self is the leaf expression referring to the value being converted.
func Self() *Expression { return &Expression{IsSelf: true} }

// Const builds a constant leaf from an int64 numerator over an int64
// denominator (denominator 1 for integers).
func Const(numerator, denominator int64) *Expression {
	return &Expression{Constant: big.NewRat(numerator, denominator)}
}

// BinOp builds an interior Operator node.
func BinOp(left *Expression, op Op, right *Expression) *Expression {
	return &Expression{Left: left, Op: op, Right: right}
}

// Evaluate computes the expression's value given self, using exact
// rational arithmetic throughout.
func (e *Expression) Evaluate(self *big.Rat) (*big.Rat, error) {
	switch {
	case e.IsSelf:
		return new(big.Rat).Set(self), nil
	case e.Constant != nil:
		return new(big.Rat).Set(e.Constant), nil
	case e.Left != nil && e.Right != nil:
		l, err := e.Left.Evaluate(self)
		if err != nil {
			return nil, err
		}
		r, err := e.Right.Evaluate(self)
		if err != nil {
			return nil, err
		}
		result := new(big.Rat)
		switch e.Op {
		case OpAdd:
			result.Add(l, r)
		case OpSub:
			result.Sub(l, r)
		case OpMul:
			result.Mul(l, r)
		case OpDiv:
			if r.Sign() == 0 {
				return nil, fmt.Errorf("typesystem: conversion divides by zero")
			}
			result.Quo(l, r)
		default:
			return nil, fmt.Errorf("typesystem: unknown operator %v", e.Op)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("typesystem: malformed conversion expression")
	}
}

// Conversion is a declared invertible expression pair between two data
// types: From converts a value of the source type to the target, To
// converts back.
type Conversion struct {
	From *Expression
	To   *Expression
}

// RoundTrips reports whether To(From(x)) == x exactly, for the given
// sample x — the check backing spec §8 invariant 6 and §3.4's "round-trip
// = identity" requirement.
func (c Conversion) RoundTrips(x *big.Rat) (bool, error) {
	converted, err := c.From.Evaluate(x)
	if err != nil {
		return false, err
	}
	back, err := c.To.Evaluate(converted)
	if err != nil {
		return false, err
	}
	return back.Cmp(x) == 0, nil
}

// Conversions is the table mapping ordered pairs of data-type base URLs to
// an inverse Conversion expression pair, per spec §3.4/§4.G.
type Conversions map[ConversionKey]Conversion

// ConversionKey identifies one directed conversion edge between two data
// types by their base URL strings (avoids importing the identifier package
// here to keep typesystem free of store-layer dependencies; callers key by
// identifier.BaseUrl.String()).
type ConversionKey struct {
	From string
	To   string
}

// Invert returns the reverse Conversion (swapping From/To), used to
// validate that conversions form mutually inverse pairs as required by
// spec §3.4.
func (c Conversion) Invert() Conversion {
	return Conversion{From: c.To, To: c.From}
}
