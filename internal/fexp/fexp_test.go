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

package fexp

import (
	"math"
	"testing"
)

type approxTestCase struct {
	Name  string
	F     Func
	Bound float64
}

var approxTestCases = []approxTestCase{
	{"poly", Mexp2, PolyErrorBound},
	{"lut", Mexp2LUT, LUTErrorBound},
	{"exact", Exact, 1e-7},
}

func TestExactAtZero(t *testing.T) {
	for _, tc := range approxTestCases {
		if got := tc.F(0); got != 1 {
			t.Errorf("%s(0)=%g; want 1", tc.Name, got)
		}
	}
}

func TestZeroBeyondMaxArg(t *testing.T) {
	for _, tc := range approxTestCases {
		for _, x := range []float32{126.0001, 127, 200, 1e30, float32(math.Inf(1)), float32(math.NaN())} {
			if got := tc.F(x); got != 0 {
				t.Errorf("%s(%g)=%g; want 0", tc.Name, x, got)
			}
		}
		if got := tc.F(126); got <= 0 {
			t.Errorf("%s(126)=%g; want >0", tc.Name, got)
		}
	}
}

func TestRelativeErrorBound(t *testing.T) {
	for _, tc := range approxTestCases {
		worst := 0.0
		for i := 0; i <= 40000; i++ {
			x := float32(i) * 0.003 // covers [0,120]
			want := math.Exp2(-float64(x))
			got := float64(tc.F(x))
			rel := math.Abs(got/want - 1)
			if rel > worst {
				worst = rel
			}
		}
		if worst > tc.Bound {
			t.Errorf("%s: worst relative error %g; want <= %g", tc.Name, worst, tc.Bound)
		}
	}
}

func TestMonotonicallyNonIncreasing(t *testing.T) {
	for _, tc := range approxTestCases {
		prev := tc.F(0)
		for i := 1; i <= 130000; i++ {
			x := float32(i) * 0.001
			y := tc.F(x)
			if y > prev {
				t.Errorf("%s(%g)=%g > %s(%g)=%g", tc.Name, x, y, tc.Name, float32(i-1)*0.001, prev)
				return
			}
			prev = y
		}
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"", "poly", "lut", "exact"} {
		f, err := ByName(name)
		if err != nil || f == nil {
			t.Errorf("ByName(%q) returned %v", name, err)
		}
	}
	if _, err := ByName("bits"); err == nil {
		t.Errorf("ByName(\"bits\") did not fail")
	}
}
