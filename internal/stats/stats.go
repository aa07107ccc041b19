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

// Package stats computes per-channel statistics of images, used to report noise levels
// before and after denoising.
package stats

import (
	"fmt"
	"math"

	"github.com/mlnoga/denoiseprofile/internal/buffer"
	"github.com/mlnoga/denoiseprofile/internal/median"
	"github.com/mlnoga/denoiseprofile/internal/noise"
	"github.com/mlnoga/denoiseprofile/internal/qsort"
	"github.com/valyala/fastrand"
)

// Default number of random samples for approximate median and MAD
const DefaultSamples = 128 * 1024

// Scales a median absolute deviation to a Gaussian standard deviation
const madToSigma = 1.4826

// Statistics for one channel
type Stats struct {
	Min      float32 // Minimum
	Max      float32 // Maximum
	Mean     float32 // Mean (average)
	StdDev   float32 // Standard deviation
	Median   float32 // Approximate median from random samples
	MAD      float32 // Approximate median absolute deviation, scaled to sigma
	Noise    float32 // Immerkær noise estimate
	Residual float32 // Sigma of the residual after a 3x3 median filter, from its MAD
}

// Pretty print stats to string
func (s *Stats) String() string {
	return fmt.Sprintf("Min %.6g Max %.6g Mean %.6g StdDev %.6g Median %.6g MAD %.6g Noise %.4g Residual %.4g",
		s.Min, s.Max, s.Mean, s.StdDev, s.Median, s.MAD, s.Noise, s.Residual)
}

func (s *Stats) ToCSVHeader() string {
	return "Min,Max,Mean,StdDev,Median,MAD,Noise,Residual"
}

func (s *Stats) ToCSVLine() string {
	return fmt.Sprintf("%.6g,%.6g,%.6g,%.6g,%.6g,%.6g,%.4g,%.4g",
		s.Min, s.Max, s.Mean, s.StdDev, s.Median, s.MAD, s.Noise, s.Residual)
}

// Calculates statistics for a single plane of the given width
func Calc(data []float32, width int, numSamples int) *Stats {
	s := &Stats{}
	if len(data) == 0 {
		return s
	}
	s.Min, s.Mean, s.Max = MinMeanMax(data)
	s.StdDev = float32(math.Sqrt(Variance(data, s.Mean)))

	samples := make([]float32, numSamples)
	s.Median = FastApproxMedian(data, samples)
	s.MAD = FastApproxMAD(data, s.Median, samples)
	s.Noise = noise.EstimateNoise(data, width)
	s.Residual = ResidualSigma(data, width, samples)
	return s
}

// Calculates statistics for the three color channels of an image
func ForImage(img *buffer.Image, numSamples int) (res [3]*Stats) {
	for c := 0; c < 3; c++ {
		res[c] = Calc(img.Channel(c), img.Width, numSamples)
	}
	return res
}

// Minimum, mean and maximum of the data. Mean is accumulated in float64
func MinMeanMax(data []float32) (min, mean, max float32) {
	mmin, mmean, mmax := data[0], float64(0), data[0]
	for _, v := range data {
		if v < mmin {
			mmin = v
		}
		if v > mmax {
			mmax = v
		}
		mmean += float64(v)
	}
	return mmin, float32(mmean / float64(len(data))), mmax
}

// Variance of the data around the given mean
func Variance(data []float32, mean float32) float64 {
	variance := float64(0)
	for _, v := range data {
		diff := float64(v - mean)
		variance += diff * diff
	}
	return variance / float64(len(data))
}

// Approximate median of the (presumably large) data from len(samples) random samples.
// Uses the samples array as scratchpad. The generator is seeded identically on each call,
// so results are reproducible
func FastApproxMedian(data []float32, samples []float32) float32 {
	if len(samples) == 0 || len(samples) >= len(data) {
		tmp := append([]float32(nil), data...)
		return qsort.QSelectMedianFloat32(tmp)
	}
	max := uint32(len(data))
	rng := fastrand.RNG{}
	rng.Seed(1)
	for i := range samples {
		samples[i] = data[rng.Uint32n(max)]
	}
	return qsort.QSelectMedianFloat32(samples)
}

// Approximate median absolute deviation from the given location, scaled to a Gaussian sigma
func FastApproxMAD(data []float32, location float32, samples []float32) float32 {
	if len(samples) == 0 || len(samples) >= len(data) {
		tmp := make([]float32, len(data))
		for i, d := range data {
			tmp[i] = float32(math.Abs(float64(d - location)))
		}
		return qsort.QSelectMedianFloat32(tmp) * madToSigma
	}
	max := uint32(len(data))
	rng := fastrand.RNG{}
	rng.Seed(2)
	for i := range samples {
		samples[i] = float32(math.Abs(float64(data[rng.Uint32n(max)] - location)))
	}
	return qsort.QSelectMedianFloat32(samples) * madToSigma
}

// Noise sigma estimated from the MAD of the difference between the data and its 3x3 median
// filtered version. Robust against stars and edges
func ResidualSigma(data []float32, width int, samples []float32) float32 {
	if width < 3 || len(data) < 3*width {
		return 0
	}
	filtered := make([]float32, len(data))
	median.MedianFilter3x3(filtered, data, width)
	for i, d := range data {
		filtered[i] = d - filtered[i]
	}
	return FastApproxMAD(filtered, 0, samples)
}
