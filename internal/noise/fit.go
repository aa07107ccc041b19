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

package noise

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/mlnoga/denoiseprofile/internal/buffer"
	"github.com/mlnoga/denoiseprofile/internal/qsort"
	"gonum.org/v1/gonum/stat"
)

var ErrFitFailed = errors.New("noise model fit failed")

// Options for fitting a noise model
type FitOptions struct {
	BlockSize int // Side length of square blocks assumed to have locally flat signal
	Bins      int // Number of signal level bins for the regression
}

// Sane defaults for fitting a noise model
var DefaultFitOptions = FitOptions{BlockSize: 16, Bins: 16}

// A signal level sample: mean signal and noise variance of one block
type levelSample struct {
	mean     float32
	variance float32
}

// Fits a Poisson-Gaussian noise model to an image with locally smooth content.
// Per block, the signal level is the mean and the noise variance is estimated from
// the Laplacian residual, which cancels linear gradients. Blocks are binned by level,
// the median variance per bin is taken to reject blocks with structure, and a
// weighted linear regression of variance over level yields gain a (slope) and
// read noise b^2 (intercept).
func Fit(img *buffer.Image, opts FitOptions, logWriter io.Writer) (Model, error) {
	if opts.BlockSize < 4 {
		opts.BlockSize = DefaultFitOptions.BlockSize
	}
	if opts.Bins < 2 {
		opts.Bins = DefaultFitOptions.Bins
	}
	blocksX, blocksY := (img.Width-2)/opts.BlockSize, (img.Height-2)/opts.BlockSize
	if blocksX*blocksY < opts.Bins {
		return Model{}, fmt.Errorf("%w: image %s too small for %d bins of %dx%d blocks",
			ErrFitFailed, img.DimensionsToString(), opts.Bins, opts.BlockSize, opts.BlockSize)
	}

	var m Model
	for c := 0; c < 3; c++ {
		plane := img.Channel(c)
		samples := blockSamples(plane, img.Width, blocksX, blocksY, opts.BlockSize)
		xs, ys, ws := binSamples(samples, opts.Bins)

		alpha, beta := stat.LinearRegression(xs, ys, ws, false)
		r2 := stat.RSquared(xs, ys, ws, alpha, beta)
		fmt.Fprintf(logWriter, "%d: channel %d: variance = %.4g * level %+.4g (R^2=%.3f, %d blocks)\n",
			img.ID, c, beta, alpha, r2, len(samples))
		if !(beta > 0) || math.IsInf(beta, 0) {
			return Model{}, fmt.Errorf("%w: channel %d has non-positive gain %g", ErrFitFailed, c, beta)
		}
		m.A[c] = float32(beta)
		m.B[c] = float32(math.Sqrt(math.Max(0, alpha)))
	}
	return m, nil
}

// Returns mean and Laplacian noise variance for each block of the plane
func blockSamples(plane []float32, width, blocksX, blocksY, blockSize int) []levelSample {
	samples := make([]levelSample, 0, blocksX*blocksY)
	for by := 0; by < blocksY; by++ {
		for bx := 0; bx < blocksX; bx++ {
			sum, sumSq := float64(0), float64(0)
			for y := 1 + by*blockSize; y < 1+(by+1)*blockSize; y++ {
				for x := 1 + bx*blockSize; x < 1+(bx+1)*blockSize; x++ {
					i := y*width + x
					sum += float64(plane[i])
					l := float64(laplace(plane, i, width))
					sumSq += l * l
				}
			}
			n := float64(blockSize * blockSize)
			samples = append(samples, levelSample{
				mean:     float32(sum / n),
				variance: float32(sumSq / (n * laplaceNorm)),
			})
		}
	}
	return samples
}

// Sorts samples by level and splits them into bins of equal count. Returns mean level,
// median variance and sample count per bin
func binSamples(samples []levelSample, bins int) (xs, ys, ws []float64) {
	sort.Slice(samples, func(i, j int) bool { return samples[i].mean < samples[j].mean })
	xs, ys, ws = make([]float64, bins), make([]float64, bins), make([]float64, bins)
	vars := make([]float32, 0, len(samples)/bins+1)
	for b := 0; b < bins; b++ {
		lower, upper := b*len(samples)/bins, (b+1)*len(samples)/bins
		sum := float64(0)
		vars = vars[:0]
		for _, s := range samples[lower:upper] {
			sum += float64(s.mean)
			vars = append(vars, s.variance)
		}
		xs[b] = sum / float64(upper-lower)
		ys[b] = float64(qsort.QSelectMedianFloat32(vars))
		ws[b] = float64(upper - lower)
	}
	return xs, ys, ws
}
