// Copyright (C) 2021 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package fexp provides fast, portable approximations to 2^-x for non-local
// means weights. All variants return exactly 1 at x=0, exactly 0 for x>126
// (and for NaN), and are non-increasing in x.
//
// The argument is split into integer part n and fraction f in [0,1). 2^-f is
// approximated, then scaled by 2^-n with math.Ldexp, so no IEEE bit patterns
// are constructed by hand.
package fexp

import (
	"errors"
	"fmt"
	"math"
)

// Largest argument with a non-zero result. 2^-126 is the smallest normal float32
const MaxArg = 126

// Coefficients of the quadratic p(f)=1+c1*f+c2*f^2 through 2^-0=1, 2^-1/2 and 2^-1.
// Maximum relative error against 2^-f on [0,1) is below 0.35%.
const (
	c1 = -0.6715728752538102
	c2 = 0.1715728752538102
)

// Relative error bound of Mexp2 against the exact 2^-x
const PolyErrorBound = 0.0035

// Relative error bound of Mexp2LUT against the exact 2^-x
const LUTErrorBound = 2e-5

// A function approximating 2^-x
type Func func(x float32) float32

// Fast approximation to 2^-x using a quadratic on the fractional part. Returns 0 for x>126
func Mexp2(x float32) float32 {
	if !(x <= MaxArg) {
		return 0
	}
	n := math.Floor(float64(x))
	f := float64(x) - n
	p := 1 + f*(c1+f*c2)
	return float32(math.Ldexp(p, -int(n)))
}

// Number of table segments per octave for the lookup table variant
const lutSize = 256

// Table of 2^-(i/lutSize) for i in [0,lutSize]
var lut = buildLUT()

func buildLUT() []float64 {
	t := make([]float64, lutSize+1)
	for i := range t {
		t[i] = math.Exp2(-float64(i) / lutSize)
	}
	return t
}

// Approximation to 2^-x via linear interpolation in a lookup table. Returns 0 for x>126
func Mexp2LUT(x float32) float32 {
	if !(x <= MaxArg) {
		return 0
	}
	n := math.Floor(float64(x))
	f := (float64(x) - n) * lutSize
	i := int(f)
	frac := f - float64(i)
	p := lut[i] + frac*(lut[i+1]-lut[i])
	return float32(math.Ldexp(p, -int(n)))
}

// Reference 2^-x with the same domain conventions as the approximations
func Exact(x float32) float32 {
	if !(x <= MaxArg) {
		return 0
	}
	return float32(math.Exp2(-float64(x)))
}

// Returns the approximation with the given name: "poly" (default when empty), "lut" or "exact"
func ByName(name string) (Func, error) {
	switch name {
	case "", "poly":
		return Mexp2, nil
	case "lut":
		return Mexp2LUT, nil
	case "exact":
		return Exact, nil
	default:
		return nil, errors.New(fmt.Sprintf("unknown exponential approximation '%s'", name))
	}
}
