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

// Package synth generates synthetic test images with known content and
// Poisson-Gaussian noise, for calibrating and testing the denoiser.
package synth

import (
	"errors"
	"fmt"
	"math"

	"github.com/mlnoga/denoiseprofile/internal/buffer"
	"github.com/mlnoga/denoiseprofile/internal/parallel"
	"github.com/valyala/fastrand"
)

// Clean test patterns
const (
	PatternConstant = "constant" // all pixels at Level
	PatternGradient = "gradient" // horizontal ramp from 0 to Level
	PatternSteps    = "steps"    // blocks of 32x32 pixels at increasing levels up to Level
	PatternDisc     = "disc"     // a centered disc at Level on a background at Level/4
)

// Creates a clean image with the given pattern. Alpha is 1
func NewPattern(pattern string, width, height int, level [3]float32) (*buffer.Image, error) {
	img := buffer.New(width, height, nil)
	var f func(x, y int) float32 // relative level in [0,1]
	switch pattern {
	case PatternConstant, "":
		f = func(x, y int) float32 { return 1 }
	case PatternGradient:
		f = func(x, y int) float32 { return float32(x) / float32(width) }
	case PatternSteps:
		stepsX := (width + 31) / 32
		stepsY := (height + 31) / 32
		total := float32(stepsX * stepsY)
		f = func(x, y int) float32 { return float32((y/32)*stepsX+x/32+1) / total }
	case PatternDisc:
		r2 := float32(width*width+height*height) / 36
		f = func(x, y int) float32 {
			dx, dy := float32(x-width/2), float32(y-height/2)
			if dx*dx+dy*dy <= r2 {
				return 1
			}
			return 0.25
		}
	default:
		return nil, errors.New(fmt.Sprintf("unknown pattern '%s'", pattern))
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := f(x, y)
			o := img.Offset(x, y, 0)
			img.Data[o+0] = v * level[0]
			img.Data[o+1] = v * level[1]
			img.Data[o+2] = v * level[2]
			img.Data[o+3] = 1
		}
	}
	return img, nil
}

// Adds Poisson-Gaussian noise to the color channels in place: each value x becomes
// a*Poisson(x/a) + Normal(0, b^2). Rows are processed in bands with one generator per band,
// seeded from seed and the band index, so results are reproducible.
func AddNoise(img *buffer.Image, a, b [3]float32, seed uint32) {
	parallel.ForBands(img.Height, parallel.DefaultBand, 0, func(band, lower, upper int) {
		rng := fastrand.RNG{}
		rng.Seed(seed*2654435761 + uint32(band) + 1)
		g := gauss{rng: &rng}
		for y := lower; y < upper; y++ {
			for x := 0; x < img.Width; x++ {
				o := img.Offset(x, y, 0)
				for c := 0; c < 3; c++ {
					v := img.Data[o+c]
					if a[c] > 0 && v > 0 {
						v = a[c] * float32(g.poisson(float64(v/a[c])))
					}
					if b[c] != 0 {
						v += b[c] * float32(g.normal())
					}
					img.Data[o+c] = v
				}
			}
		}
	})
}

// Gaussian and Poisson sampling on top of a fastrand generator
type gauss struct {
	rng   *fastrand.RNG
	spare float64
	has   bool
}

// Returns a uniform sample in (0,1)
func (g *gauss) uniform() float64 {
	return (float64(g.rng.Uint32()) + 0.5) / 4294967296.0
}

// Returns a standard normal sample using the Box-Muller transform
func (g *gauss) normal() float64 {
	if g.has {
		g.has = false
		return g.spare
	}
	u1, u2 := g.uniform(), g.uniform()
	r := math.Sqrt(-2 * math.Log(u1))
	g.spare, g.has = r*math.Sin(2*math.Pi*u2), true
	return r * math.Cos(2*math.Pi*u2)
}

// Returns a Poisson sample with mean lambda. Uses Knuth's product method for
// small means and a rounded normal approximation for large ones
func (g *gauss) poisson(lambda float64) float64 {
	if lambda > 64 {
		v := math.Floor(lambda + math.Sqrt(lambda)*g.normal() + 0.5)
		if v < 0 {
			return 0
		}
		return v
	}
	limit := math.Exp(-lambda)
	k, p := 0.0, g.uniform()
	for p > limit {
		k++
		p *= g.uniform()
	}
	return k
}
