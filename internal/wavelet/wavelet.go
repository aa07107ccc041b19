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

// Package wavelet denoises by soft-thresholding an à-trous wavelet decomposition in the
// variance-stabilized domain, with BayesShrink thresholds per scale and channel.
package wavelet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"math"
	"time"

	"github.com/mlnoga/denoiseprofile/internal/buffer"
	"github.com/mlnoga/denoiseprofile/internal/noise"
	"github.com/mlnoga/denoiseprofile/internal/parallel"
	"github.com/mlnoga/denoiseprofile/internal/vst"
)

// Number of decomposition scales
const DefaultScales = 3

var ErrInvalidParams = errors.New("invalid wavelet parameters")

// B3 spline filter taps
var filter = [5]float32{1.0 / 16, 4.0 / 16, 6.0 / 16, 4.0 / 16, 1.0 / 16}

type Params struct {
	Strength     float32    `json:"strength"`
	WhiteBalance [3]float32 `json:"whiteBalance"`
	UseGreen     bool       `json:"useGreen"`
	Sharpen      float32    `json:"sharpen"` // Edge avoidance. 0 for a plain B3 spline transform
	Scales       int        `json:"scales"`
	MaxThreads   int        `json:"maxThreads"`
}

func DefaultParams() Params {
	return Params{
		Strength:     1,
		WhiteBalance: [3]float32{1, 1, 1},
		Scales:       DefaultScales,
	}
}

func (p *Params) Validate() error {
	if s := float64(p.Strength); !(s > 0) || math.IsInf(s, 0) {
		return fmt.Errorf("%w: strength %g must be positive and finite", ErrInvalidParams, s)
	}
	for c, wb := range p.WhiteBalance {
		if w := float64(wb); !(w > 0) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: white balance %g for channel %d must be positive and finite", ErrInvalidParams, w, c)
		}
	}
	if s := float64(p.Sharpen); !(s >= 0) || math.IsInf(s, 0) {
		return fmt.Errorf("%w: sharpen %g must be non-negative", ErrInvalidParams, s)
	}
	if p.Scales < 1 || p.Scales > 8 {
		return fmt.Errorf("%w: %d scales, must be in 1..8", ErrInvalidParams, p.Scales)
	}
	return nil
}

// Edge-avoiding weights between two pixels: luminance-like for channel 0, shared chroma
// weight for channels 1 and 2, and 1 for alpha
func weights(a, b []float32, sharpen float32) (w [4]float32) {
	if sharpen == 0 {
		return [4]float32{1, 1, 1, 1}
	}
	d0, d1, d2 := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	wl := float32(math.Exp(float64(-sharpen * d0 * d0)))
	wc := float32(math.Exp(float64(-sharpen * (d1*d1 + d2*d2))))
	return [4]float32{wl, wc, wc, 1}
}

// Splits in into a coarse approximation and the detail in-coarse at the given scale, using
// the 5x5 filter dilated by 2^scale. Samples beyond the border are clamped
func Decompose(coarse, detail, in []float32, scale int, sharpen float32, width, height, maxThreads int) {
	mult := 1 << scale
	const ch = buffer.Channels
	parallel.ForBands(height, parallel.DefaultBand, maxThreads, func(band, lower, upper int) {
		for j := lower; j < upper; j++ {
			for i := 0; i < width; i++ {
				o := (j*width + i) * ch
				px := in[o : o+ch]
				var sum, wgt [4]float32
				for jj := 0; jj < 5; jj++ {
					y := clamp(j+mult*(jj-2), height)
					for ii := 0; ii < 5; ii++ {
						x := clamp(i+mult*(ii-2), width)
						o2 := (y*width + x) * ch
						px2 := in[o2 : o2+ch]
						f := filter[ii] * filter[jj]
						wp := weights(px, px2, sharpen)
						for c := 0; c < ch; c++ {
							w := f * wp[c]
							sum[c] += w * px2[c]
							wgt[c] += w
						}
					}
				}
				for c := 0; c < ch; c++ {
					s := sum[c] / wgt[c]
					coarse[o+c] = s
					detail[o+c] = px[c] - s
				}
			}
		}
	})
}

func clamp(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}

// BayesShrink soft thresholds for the color channels of a detail layer, assuming unit noise
// variance at scale 0 halving with each scale. Layers without signal get an infinite threshold
func Threshold(detail []float32, scale int) (thrs [3]float32) {
	sigma := 1 / math.Pow(math.Sqrt2, float64(scale))
	n := len(detail) / buffer.Channels
	if n < 2 {
		return thrs
	}
	var sum, sum2 [3]float64
	for i := 0; i < len(detail); i += buffer.Channels {
		for c := 0; c < 3; c++ {
			v := float64(detail[i+c])
			sum[c] += v
			sum2[c] += v * v
		}
	}
	for c := 0; c < 3; c++ {
		mean := sum[c] / float64(n)
		varY := sum2[c]/float64(n-1) - mean*mean
		stdX := math.Sqrt(math.Max(0, varY-sigma*sigma))
		thrs[c] = float32(sigma * sigma / stdX)
	}
	return thrs
}

// Adds the soft-thresholded detail to out. Alpha detail is added unchanged
func Synthesize(out, detail []float32, thrs [3]float32, width, height, maxThreads int) {
	parallel.ForBands(height, parallel.DefaultBand, maxThreads, func(band, lower, upper int) {
		for i := lower * width * buffer.Channels; i < upper*width*buffer.Channels; i += buffer.Channels {
			for c := 0; c < 3; c++ {
				d := detail[i+c]
				amount := float32(math.Max(0, math.Abs(float64(d))-float64(thrs[c])))
				if d < 0 {
					amount = -amount
				}
				out[i+c] += amount
			}
			out[i+3] += detail[i+3]
		}
	})
}

// Denoises in into out, which must have the same shape. Checks ctx between scales
func Denoise(ctx context.Context, in, out *buffer.Image, model noise.Model, params Params, logWriter io.Writer) error {
	if logWriter == nil {
		logWriter = ioutil.Discard
	}
	if err := params.Validate(); err != nil {
		return err
	}
	if err := in.Validate(); err != nil {
		return err
	}
	if !in.SameShape(out) {
		return fmt.Errorf("%w: input %s, output %s", buffer.ErrShapeMismatch, in.DimensionsToString(), out.DimensionsToString())
	}
	eff := model.Effective(params.WhiteBalance, params.Strength, params.UseGreen)
	if err := eff.Validate(); err != nil {
		return err
	}

	start := time.Now()
	w, h := in.Width, in.Height
	alpha := in.Channel(3)
	cur := make([]float32, len(in.Data))
	vst.Precondition(in.Data, cur, w, h, eff.A, eff.B, params.MaxThreads)

	details := make([][]float32, params.Scales)
	for s := range details {
		if err := ctx.Err(); err != nil {
			return err
		}
		coarse := make([]float32, len(cur))
		details[s] = make([]float32, len(cur))
		Decompose(coarse, details[s], cur, s, params.Sharpen, w, h, params.MaxThreads)
		cur = coarse
	}

	copy(out.Data, cur)
	for s := len(details) - 1; s >= 0; s-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		thrs := Threshold(details[s], s)
		fmt.Fprintf(logWriter, "%d: Scale %d thresholds %.4g %.4g %.4g\n", in.ID, s, thrs[0], thrs[1], thrs[2])
		Synthesize(out.Data, details[s], thrs, w, h, params.MaxThreads)
	}

	vst.Backtransform(out.Data, w, h, eff.A, eff.B, params.MaxThreads)
	out.SetChannel(3, alpha)
	fmt.Fprintf(logWriter, "%d: Wavelet denoising of %s done in %v\n", in.ID, in.DimensionsToString(), time.Since(start))
	return nil
}
