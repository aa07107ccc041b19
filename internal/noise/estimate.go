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
	"math"

	"github.com/mlnoga/denoiseprofile/internal/parallel"
)

// Sum of squared weights of the Laplacian-like mask below
const laplaceNorm = 36

// Applies the 3x3 mask [1 -2 1; -2 4 -2; 1 -2 1] at interior pixel i of a plane with given width.
// The mask cancels constant and linear signal, leaving noise with variance 36 sigma^2
func laplace(data []float32, i, width int) float32 {
	return data[i-width-1] - 2*data[i-width] + data[i-width+1] -
		2*data[i-1] + 4*data[i] - 2*data[i+1] +
		data[i+width-1] - 2*data[i+width] + data[i+width+1]
}

// Estimate the standard deviation of gaussian noise on a natural image plane.
// From J. Immerkær, “Fast Noise Variance Estimation”, Computer Vision and Image Understanding, Vol. 64, No. 2, pp. 300-302, Sep. 1996.
func EstimateNoise(data []float32, width int) float32 {
	height := len(data) / width
	if width < 3 || height < 3 {
		return 0
	}
	// per-band partial sums, added up in band order so the result does not depend on scheduling
	sums := make([]float64, parallel.NumBands(height-2, parallel.DefaultBand))
	parallel.ForBands(height-2, parallel.DefaultBand, 0, func(band, lower, upper int) {
		sum := float64(0)
		for y := lower + 1; y < upper+1; y++ {
			for x := 1; x < width-1; x++ {
				sum += math.Abs(float64(laplace(data, y*width+x, width)))
			}
		}
		sums[band] = sum
	})
	sum := float64(0)
	for _, s := range sums {
		sum += s
	}
	factor := math.Sqrt(0.5*math.Pi) / (6 * float64(width-2) * float64(height-2))
	return float32(sum * factor)
}
