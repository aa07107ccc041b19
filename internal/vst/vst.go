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

// Package vst implements a generalized Anscombe variance-stabilizing transform
// for affine Poisson-Gaussian noise, and the closed form approximation to its
// unbiased inverse. Buffers hold 4 interleaved float32 channels per pixel;
// only the first three are transformed, the fourth is passed through.
package vst

import (
	"math"

	"github.com/mlnoga/denoiseprofile/internal/parallel"
)

// Transformed values below this threshold map back to zero
const ClampFloor = 0.5

// Number of interleaved channels per pixel
const channels = 4

var sqrt3_2 = math.Sqrt(3.0 / 2.0)

// Returns the Gaussian noise floor variance per channel in units of a, i.e. (b/a)^2
func Sigma2(a, b [3]float32) (s [3]float32) {
	for c := 0; c < 3; c++ {
		r := b[c] / a[c]
		s[c] = r * r
	}
	return s
}

// Forward transform of a single value with given gain a and noise floor variance sigma2
func Forward(x, a, sigma2 float32) float32 {
	d := float64(x/a) + 3.0/8.0 + float64(sigma2)
	if d < 0 {
		d = 0
	}
	return float32(2 * math.Sqrt(d))
}

// Inverse transform of a single value with given gain a and noise floor variance sigma2.
// Fitted over the range 0..200 of transformed values; not an exact algebraic inverse.
func Inverse(y, a, sigma2 float32) float32 {
	if y < ClampFloor {
		return 0
	}
	x := float64(y)
	v := 1.0/4.0*x*x + 1.0/4.0*sqrt3_2/x - 11.0/8.0/(x*x) + 5.0/8.0*sqrt3_2/(x*x*x) - 1.0/8.0 - float64(sigma2)
	return float32(v) * a
}

// Applies the forward transform to in and stores the result in out. Both buffers
// hold width*height pixels of 4 channels. The fourth channel is copied unchanged.
// Does not modify in. Requires a[c]>0. Runs on at most maxThreads goroutines, 0 for GOMAXPROCS.
func Precondition(in, out []float32, width, height int, a, b [3]float32, maxThreads int) {
	sigma2 := Sigma2(a, b)
	parallel.ForBands(height, parallel.DefaultBand, maxThreads, func(band, lower, upper int) {
		for j := lower; j < upper; j++ {
			row := j * width * channels
			for i := row; i < row+width*channels; i += channels {
				out[i+0] = Forward(in[i+0], a[0], sigma2[0])
				out[i+1] = Forward(in[i+1], a[1], sigma2[1])
				out[i+2] = Forward(in[i+2], a[2], sigma2[2])
				out[i+3] = in[i+3]
			}
		}
	})
}

// Applies the inverse transform in place. The fourth channel is left unchanged.
func Backtransform(buf []float32, width, height int, a, b [3]float32, maxThreads int) {
	sigma2 := Sigma2(a, b)
	parallel.ForBands(height, parallel.DefaultBand, maxThreads, func(band, lower, upper int) {
		for j := lower; j < upper; j++ {
			row := j * width * channels
			for i := row; i < row+width*channels; i += channels {
				buf[i+0] = Inverse(buf[i+0], a[0], sigma2[0])
				buf[i+1] = Inverse(buf[i+1], a[1], sigma2[1])
				buf[i+2] = Inverse(buf[i+2], a[2], sigma2[2])
			}
		}
	})
}

// Forward then inverse transform of a single value, for comparison against filter output
func RoundTrip(x, a, b float32) float32 {
	r := b / a
	return Inverse(Forward(x, a, r*r), a, r*r)
}
