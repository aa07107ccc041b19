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

// Package noise describes signal-dependent sensor noise with an affine
// Poisson-Gaussian model per color channel. For a signal level x the noise
// variance is a*x + b^2. Models come from a profile database, or are fitted
// from an image.
package noise

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidModel = errors.New("invalid noise model")

// Poisson-Gaussian noise model with per-channel gain a and read noise b, for red, green and blue
type Model struct {
	A [3]float32 `json:"a"`
	B [3]float32 `json:"b"`
}

// Generic model used when no matching profile exists
var Generic = Model{
	A: [3]float32{0.0001, 0.0001, 0.0001},
	B: [3]float32{0, 0, 0},
}

// Checks all gains are positive and finite, and all read noise values are finite
func (m Model) Validate() error {
	for c := 0; c < 3; c++ {
		a, b := float64(m.A[c]), float64(m.B[c])
		if !(a > 0) || math.IsInf(a, 0) {
			return fmt.Errorf("%w: a[%d]=%g must be positive", ErrInvalidModel, c, a)
		}
		if math.IsNaN(b) || math.IsInf(b, 0) {
			return fmt.Errorf("%w: b[%d]=%g must be finite", ErrInvalidModel, c, b)
		}
	}
	return nil
}

// Returns the effective model for an image whose channels were scaled to the given
// maximum values by white balancing, with strength multiplied in. If useGreen is set,
// the green coefficients are applied to all three channels.
func (m Model) Effective(processedMax [3]float32, strength float32, useGreen bool) Model {
	var res Model
	for c := 0; c < 3; c++ {
		src := c
		if useGreen {
			src = 1
		}
		wb := processedMax[c] * strength
		res.A[c] = m.A[src] * wb
		res.B[c] = m.B[src] * wb
	}
	return res
}

// Noise variance predicted by the model for signal level x in channel c
func (m Model) Variance(c int, x float32) float32 {
	return m.A[c]*x + m.B[c]*m.B[c]
}

// Interpolates linearly between two models. t=0 returns m, t=1 returns other
func (m Model) Lerp(other Model, t float32) Model {
	var res Model
	for c := 0; c < 3; c++ {
		res.A[c] = m.A[c] + t*(other.A[c]-m.A[c])
		res.B[c] = m.B[c] + t*(other.B[c]-m.B[c])
	}
	return res
}

func (m Model) String() string {
	return fmt.Sprintf("a=(%.4g, %.4g, %.4g) b=(%.4g, %.4g, %.4g)",
		m.A[0], m.A[1], m.A[2], m.B[0], m.B[1], m.B[2])
}
