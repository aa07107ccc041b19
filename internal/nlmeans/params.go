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

package nlmeans

import (
	"errors"
	"fmt"
	"math"

	"github.com/mlnoga/denoiseprofile/internal/fexp"
)

var ErrInvalidParams = errors.New("invalid filter parameters")

// Search radius in UI units. Scaled like the patch radius
const DefaultSearchRadius = 7

// Patch distances are shifted down by this amount before weighting, so similar patches all get full weight
const Bias = 2.0

// Filter parameters
type Params struct {
	P            int        `json:"p"`            // Patch radius in pixels
	K            int        `json:"k"`            // Search radius in pixels
	Strength     float32    `json:"strength"`     // Multiplier for the noise model. Higher values smooth more
	WhiteBalance [3]float32 `json:"whiteBalance"` // Per-channel maximum after white balancing, folded into the noise model
	UseGreen     bool       `json:"useGreen"`     // Apply the green channel noise coefficients to all channels
	MaskDisplay  bool       `json:"maskDisplay"`  // Copy alpha from the input, for mask overlay display
	Exp          string     `json:"exp"`          // Exponential approximation: poly, lut or exact
	BandSize     int        `json:"bandSize"`     // Rows per work package. 0 for default
	MaxThreads   int        `json:"maxThreads"`   // Maximum parallelism. 0 for GOMAXPROCS
}

// Returns parameters with patch radius 1, default search radius and unit strength
func DefaultParams() Params {
	return Params{
		P:            1,
		K:            DefaultSearchRadius,
		Strength:     1,
		WhiteBalance: [3]float32{1, 1, 1},
		Exp:          "poly",
	}
}

// Derives pixel-space patch and search radii from the UI radius and the ratio of the current
// image scale to the input scale, e.g. for previews at reduced resolution
func ParamsFromUI(radius, strength, scale, iscale float32) Params {
	p := DefaultParams()
	p.P = int(math.Ceil(float64(radius * scale / iscale)))
	p.K = int(math.Ceil(float64(DefaultSearchRadius * scale / iscale)))
	p.Strength = strength
	return p
}

func (p *Params) Validate() error {
	if p.P < 0 {
		return fmt.Errorf("%w: patch radius %d is negative", ErrInvalidParams, p.P)
	}
	if p.K < 0 {
		return fmt.Errorf("%w: search radius %d is negative", ErrInvalidParams, p.K)
	}
	if s := float64(p.Strength); !(s > 0) || math.IsInf(s, 0) {
		return fmt.Errorf("%w: strength %g must be positive and finite", ErrInvalidParams, s)
	}
	for c, wb := range p.WhiteBalance {
		if w := float64(wb); !(w > 0) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: white balance %g for channel %d must be positive and finite", ErrInvalidParams, w, c)
		}
	}
	if p.BandSize < 0 || p.MaxThreads < 0 {
		return fmt.Errorf("%w: band size %d and max threads %d must not be negative", ErrInvalidParams, p.BandSize, p.MaxThreads)
	}
	if _, err := fexp.ByName(p.Exp); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidParams, err.Error())
	}
	return nil
}

// Normalization factor for patch distances
func (p *Params) Norm() float32 {
	return 0.015 / float32(2*p.P+1)
}

// A shift vector to a candidate neighbor
type Shift struct {
	DX, DY int
}

// Returns all shift vectors within search radius k, with DY as the outer and DX as the inner
// index, both ascending. Always contains the zero shift
func Shifts(k int) []Shift {
	res := make([]Shift, 0, (2*k+1)*(2*k+1))
	for dy := -k; dy <= k; dy++ {
		for dx := -k; dx <= k; dx++ {
			res = append(res, Shift{dx, dy})
		}
	}
	return res
}

// Maps patch distances to weights
type Weight struct {
	Exp  fexp.Func
	Norm float32
}

// Returns 2^-max(0, s*norm-bias)
func (w Weight) Of(s float32) float32 {
	x := s*w.Norm - Bias
	if x < 0 {
		x = 0
	}
	return w.Exp(x)
}
