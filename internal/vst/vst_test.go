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

package vst

import (
	"math"
	"testing"
)

func TestForwardKnownValues(t *testing.T) {
	tcs := []struct {
		x, a, sigma2, want float32
	}{
		{0, 1, 0, float32(2 * math.Sqrt(3.0/8.0))},
		{100, 1, 0, float32(2 * math.Sqrt(100.375))},
		{-10, 1, 0, 0}, // clamped below zero
		{50, 2, 0.25, float32(2 * math.Sqrt(25 + 0.375 + 0.25))},
	}
	for _, tc := range tcs {
		got := Forward(tc.x, tc.a, tc.sigma2)
		if math.Abs(float64(got-tc.want)) > 1e-5 {
			t.Errorf("Forward(%g,%g,%g)=%g; want %g", tc.x, tc.a, tc.sigma2, got, tc.want)
		}
	}
}

func TestInverseClampFloor(t *testing.T) {
	for _, y := range []float32{-3, 0, 0.1, 0.49, 0.4999} {
		if got := Inverse(y, 2, 0.5); got != 0 {
			t.Errorf("Inverse(%g)=%g; want 0", y, got)
		}
	}
	if got := Inverse(0.5, 1, 0); got == 0 {
		t.Errorf("Inverse(0.5) unexpectedly clamped")
	}
}

func TestInverseCoefficients(t *testing.T) {
	// x=20.0375 is the forward transform of 100 at a=1, b=0
	x := 2 * math.Sqrt(100.375)
	s := math.Sqrt(1.5)
	want := x*x/4 + s/(4*x) - 11/(8*x*x) + 5*s/(8*x*x*x) - 1.0/8
	got := Inverse(float32(x), 1, 0)
	if math.Abs(float64(got)-want) > 1e-3 {
		t.Errorf("Inverse(%g)=%g; want %g", x, got, want)
	}
	if math.Abs(want-100.262) > 1e-3 {
		t.Errorf("unbiased inverse of 100 is %g; want about 100.262", want)
	}
}

func TestRoundTripNearIdentity(t *testing.T) {
	// Small a means noise is negligible relative to signal, so the unbiased inverse converges to the algebraic one
	a := [3]float32{1e-7, 2e-7, 5e-8}
	b := [3]float32{1e-8, 0, 2e-8}
	width, height := 7, 5
	in := make([]float32, width*height*4)
	for i := range in {
		in[i] = 0.01 + float32(i%13)*0.07
	}
	out := make([]float32, len(in))
	Precondition(in, out, width, height, a, b, 0)
	Backtransform(out, width, height, a, b, 0)
	for i := range in {
		if i%4 == 3 {
			if out[i] != in[i] {
				t.Errorf("alpha at %d changed from %g to %g", i, in[i], out[i])
			}
			continue
		}
		if diff := math.Abs(float64(out[i] - in[i])); diff > 1e-4*float64(in[i]) {
			t.Errorf("round trip at %d: got %g want %g", i, out[i], in[i])
		}
	}
}

func TestPreconditionDoesNotMutateInput(t *testing.T) {
	in := []float32{1, 2, 3, 0.5, 4, 5, 6, 0.25}
	orig := append([]float32{}, in...)
	out := make([]float32, len(in))
	Precondition(in, out, 2, 1, [3]float32{1, 1, 1}, [3]float32{0.1, 0.2, 0.3}, 1)
	for i := range in {
		if in[i] != orig[i] {
			t.Errorf("input %d changed from %g to %g", i, orig[i], in[i])
		}
	}
	if out[3] != 0.5 || out[7] != 0.25 {
		t.Errorf("alpha not passed through: %v", out)
	}
}

func TestThreadLimitDoesNotChangeResult(t *testing.T) {
	a, b := [3]float32{2, 1, 0.5}, [3]float32{3, 0, 1}
	width, height := 9, 131
	in := make([]float32, width*height*4)
	for i := range in {
		in[i] = float32(i%97) * 3.5
	}
	var first []float32
	for _, threads := range []int{1, 2, 5, 0} {
		out := make([]float32, len(in))
		Precondition(in, out, width, height, a, b, threads)
		Backtransform(out, width, height, a, b, threads)
		if first == nil {
			first = out
			continue
		}
		for i := range out {
			if out[i] != first[i] {
				t.Fatalf("%d threads: value %d is %g, want %g", threads, i, out[i], first[i])
			}
		}
	}
}

func TestSigma2(t *testing.T) {
	s := Sigma2([3]float32{2, 4, 0.5}, [3]float32{1, 2, 1})
	want := [3]float32{0.25, 0.25, 4}
	if s != want {
		t.Errorf("Sigma2=%v; want %v", s, want)
	}
}

func TestBacktransformClampsLowValues(t *testing.T) {
	buf := []float32{0.1, 0.49, 0.2, 1, 30, 30, 30, 1}
	Backtransform(buf, 2, 1, [3]float32{1, 1, 1}, [3]float32{0, 0, 0}, 1)
	for c := 0; c < 3; c++ {
		if buf[c] != 0 {
			t.Errorf("channel %d: got %g; want 0", c, buf[c])
		}
		if buf[4+c] <= 0 {
			t.Errorf("channel %d of second pixel: got %g; want >0", c, buf[4+c])
		}
	}
}
