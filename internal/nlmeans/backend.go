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
	"image"

	"github.com/mlnoga/denoiseprofile/internal/buffer"
)

// Returned by accelerated backends when the device cannot run the current job. The caller reruns on the CPU
var ErrFallbackToCPU = errors.New("backend cannot process image, falling back to CPU")

// A compute backend for the per-shift passes of the filter. Backends own their scratch memory,
// and are not safe for concurrent use by multiple Denoise calls
type Backend interface {
	// Backend name for logging
	Name() string

	// Allocates scratch memory for images of the given size and patch radius. The origin is
	// the position of the image within the frame it was cropped from
	Prepare(width, height, p int, origin image.Point) error

	// Computes the summed squared difference between the patch around each pixel and the
	// patch around the pixel offset by the shift, on the preconditioned image. Samples
	// outside the image are clamped to the nearest edge. Writes width*height values into dist
	PatchDistance(pre *buffer.Image, s Shift, p int, dist []float32) error

	// Adds weight(dist) times the shifted neighbor to each output pixel, and the weight itself
	// to the alpha channel. Pixels whose neighbor falls outside the image receive nothing
	AccumulateWeighted(pre *buffer.Image, s Shift, dist []float32, w Weight, out *buffer.Image) error

	// Divides the color channels by the accumulated weight in the alpha channel. Returns the
	// number of pixels with zero weight, which are left untouched
	Normalize(out *buffer.Image) (zeroWeight int, err error)

	// Frees scratch memory
	Release()
}

// Adds the weighted neighbors for rows [lower, upper). Shared by all backends
func accumulateRows(pre *buffer.Image, s Shift, dist []float32, w Weight, out *buffer.Image, lower, upper int) {
	width, height := pre.Width, pre.Height
	x0, x1 := 0, width
	if s.DX < 0 {
		x0 = -s.DX
	} else {
		x1 = width - s.DX
	}
	for y := lower; y < upper; y++ {
		yn := y + s.DY
		if yn < 0 || yn >= height {
			continue
		}
		for x := x0; x < x1; x++ {
			wt := w.Of(dist[y*width+x])
			n := pre.Data[(yn*width+x+s.DX)*buffer.Channels:]
			o := out.Data[(y*width+x)*buffer.Channels:]
			o[0] += wt * n[0]
			o[1] += wt * n[1]
			o[2] += wt * n[2]
			o[3] += wt
		}
	}
}

// Normalizes rows [lower, upper) by the accumulated weight, returns the number of zero weight pixels
func normalizeRows(out *buffer.Image, lower, upper int) (zeroWeight int) {
	data := out.Data[lower*out.Width*buffer.Channels : upper*out.Width*buffer.Channels]
	for i := 0; i < len(data); i += buffer.Channels {
		o := data[i : i+buffer.Channels]
		if !(o[3] > 0) {
			zeroWeight++
			continue
		}
		inv := 1 / o[3]
		o[0] *= inv
		o[1] *= inv
		o[2] *= inv
	}
	return zeroWeight
}

// Clamps v to [0, n)
func clamp(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}

// Squared color difference between the pixel at (x,y) and the one at (x+dx,y+dy), with both clamped to the image
func pixelDistance(pre *buffer.Image, x, y int, s Shift) float32 {
	w, h := pre.Width, pre.Height
	a := pre.Data[(clamp(y, h)*w+clamp(x, w))*buffer.Channels:]
	b := pre.Data[(clamp(y+s.DY, h)*w+clamp(x+s.DX, w))*buffer.Channels:]
	d0, d1, d2 := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return d0*d0 + d1*d1 + d2*d2
}
