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

package stats

import (
	"math"
	"testing"

	"github.com/mlnoga/denoiseprofile/internal/buffer"
	"github.com/mlnoga/denoiseprofile/internal/synth"
)

func TestExactSmallData(t *testing.T) {
	data := make([]float32, 1001)
	for i := range data {
		data[i] = float32((i*337)%1001 + 1) // permutation of 1..1001
	}
	s := Calc(data, 1001, DefaultSamples)
	if s.Min != 1 || s.Max != 1001 || s.Mean != 501 {
		t.Errorf("min %g max %g mean %g", s.Min, s.Max, s.Mean)
	}
	if s.Median != 501 {
		t.Errorf("median %g; want 501", s.Median)
	}
	if want := float32(250 * madToSigma); math.Abs(float64(s.MAD-want)) > 1e-3 {
		t.Errorf("MAD %g; want %g", s.MAD, want)
	}
	if want := math.Sqrt((1001*1001 - 1) / 12.0); math.Abs(float64(s.StdDev)-want) > 1e-2 {
		t.Errorf("stddev %g; want %g", s.StdDev, want)
	}
}

func noisyFlat(t *testing.T, level, sigma float32) *buffer.Image {
	img, err := synth.NewPattern(synth.PatternConstant, 256, 256, [3]float32{level, level, level})
	if err != nil {
		t.Fatal(err)
	}
	a := float32(1e-6)
	synth.AddNoise(img, [3]float32{a, a, a}, [3]float32{sigma, sigma, sigma}, 99)
	return img
}

func TestNoiseEstimates(t *testing.T) {
	const sigma = 3
	img := noisyFlat(t, 50, sigma)
	for c, s := range ForImage(img, DefaultSamples) {
		if math.Abs(float64(s.Median-50)) > 0.1 {
			t.Errorf("channel %d: median %g", c, s.Median)
		}
		for name, v := range map[string]float32{"stddev": s.StdDev, "MAD": s.MAD, "noise": s.Noise} {
			if math.Abs(float64(v-sigma)) > 0.05*sigma {
				t.Errorf("channel %d: %s %g; want %g", c, name, v, float32(sigma))
			}
		}
		if s.Residual < 0.5*sigma || s.Residual > 1.5*sigma {
			t.Errorf("channel %d: residual sigma %g", c, s.Residual)
		}
	}
}

func TestSampledMedianIsReproducible(t *testing.T) {
	img := noisyFlat(t, 10, 1)
	data := img.Channel(1)
	m1 := FastApproxMedian(data, make([]float32, 1000))
	m2 := FastApproxMedian(data, make([]float32, 1000))
	if m1 != m2 {
		t.Errorf("sampled medians differ: %g %g", m1, m2)
	}
	if math.Abs(float64(m1-10)) > 0.2 {
		t.Errorf("sampled median %g", m1)
	}
}

func TestHistogramModeStdDev(t *testing.T) {
	img := noisyFlat(t, 50, 3)
	bins := make([]int32, 200)
	Histogram(img.Channel(0), 30, 70, bins)
	total := int32(0)
	for _, b := range bins {
		total += b
	}
	if total < int32(img.Pixels())*99/100 {
		t.Errorf("histogram holds %d of %d values", total, img.Pixels())
	}
	mode, stdDev, err := GetModeStdDevFromHistogram(bins, 30, 70)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(mode-50)) > 0.3 || math.Abs(float64(stdDev-3)) > 0.3 {
		t.Errorf("mode %g stddev %g; want 50 and 3", mode, stdDev)
	}
}

func TestCSV(t *testing.T) {
	s := &Stats{Min: 1, Max: 2}
	if s.ToCSVHeader() != "Min,Max,Mean,StdDev,Median,MAD,Noise,Residual" || s.ToCSVLine() != "1,2,0,0,0,0,0,0" {
		t.Errorf("unexpected CSV %s / %s", s.ToCSVHeader(), s.ToCSVLine())
	}
}
