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
	"fmt"
	"image"

	"github.com/mlnoga/denoiseprofile/internal/buffer"
	"github.com/mlnoga/denoiseprofile/internal/parallel"
)

// Computes patch distances with running box sums. Each worker keeps a row of column sums over
// the 2P+1 patch rows, which is updated incrementally from one row to the next, and slid
// horizontally along the row. Sums are rebuilt from scratch at the start of each band and
// wherever the patch or its shifted counterpart touches the image border. Bands and horizontal
// segments start at multiples of the band size in frame coordinates, so a crop of a larger
// frame rounds exactly like the frame itself.
type CPUBackend struct {
	BandSize   int
	MaxThreads int

	width, height, p int
	origin           image.Point
	scratch          [][]float32 // per worker: column sums, added row, removed row
}

func NewCPUBackend(bandSize, maxThreads int) *CPUBackend {
	return &CPUBackend{BandSize: bandSize, MaxThreads: maxThreads}
}

func (b *CPUBackend) Name() string {
	return fmt.Sprintf("cpu/%d lanes", Lanes)
}

func (b *CPUBackend) Prepare(width, height, p int, origin image.Point) error {
	ext := width + 2*p
	threads := parallel.Threads(b.MaxThreads)
	b.scratch = make([][]float32, threads)
	for i := range b.scratch {
		b.scratch[i] = make([]float32, 3*ext)
	}
	b.width, b.height, b.p, b.origin = width, height, p, origin
	return nil
}

func (b *CPUBackend) check(img *buffer.Image, p int) error {
	if b.scratch == nil || img.Width != b.width || img.Height != b.height || p != b.p {
		return fmt.Errorf("%s backend prepared for %dx%d p=%d, got %dx%d p=%d",
			b.Name(), b.width, b.height, b.p, img.Width, img.Height, p)
	}
	return nil
}

// Rows per band, which is also the horizontal resum interval
func (b *CPUBackend) bandSize() int {
	if b.BandSize <= 0 {
		return parallel.DefaultBand
	}
	return b.BandSize
}

func (b *CPUBackend) PatchDistance(pre *buffer.Image, s Shift, p int, dist []float32) error {
	if err := b.check(pre, p); err != nil {
		return err
	}
	width, height, ext := pre.Width, pre.Height, pre.Width+2*p
	rowLo, rowHi := interior(p, s.DY, height)
	colLo, colHi := interior(p, s.DX, width)
	bs := b.bandSize()
	rowPhase, colPhase := phase(b.origin.Y, bs), phase(b.origin.X, bs)

	parallel.ForBandsWithWorker(height+rowPhase, bs, b.MaxThreads, func(worker, band, lower, upper int) {
		lower, upper = lower-rowPhase, upper-rowPhase
		if lower < 0 {
			lower = 0
		}
		scratch := b.scratch[worker]
		sums, added, removed := scratch[:ext], scratch[ext:2*ext], scratch[2*ext:3*ext]
		for y := lower; y < upper; y++ {
			if y > lower && y-1 >= rowLo && y < rowHi {
				distanceRow(pre, y+p, s, p, added)
				distanceRow(pre, y-p-1, s, p, removed)
				verticalUpdate(sums, added, removed)
			} else {
				for i := range sums {
					sums[i] = 0
				}
				for v := -p; v <= p; v++ {
					distanceRow(pre, y+v, s, p, added)
					for i, a := range added {
						sums[i] += a
					}
				}
			}
			horizontalSlide(sums, dist[y*width:(y+1)*width], p, colLo, colHi, colPhase, bs)
		}
	})
	return nil
}

func (b *CPUBackend) AccumulateWeighted(pre *buffer.Image, s Shift, dist []float32, w Weight, out *buffer.Image) error {
	if err := b.check(pre, b.p); err != nil {
		return err
	}
	parallel.ForBands(pre.Height, b.BandSize, b.MaxThreads, func(band, lower, upper int) {
		accumulateRows(pre, s, dist, w, out, lower, upper)
	})
	return nil
}

func (b *CPUBackend) Normalize(out *buffer.Image) (zeroWeight int, err error) {
	counts := make([]int, parallel.NumBands(out.Height, b.BandSize))
	parallel.ForBands(out.Height, b.BandSize, b.MaxThreads, func(band, lower, upper int) {
		counts[band] = normalizeRows(out, lower, upper)
	})
	for _, c := range counts {
		zeroWeight += c
	}
	return zeroWeight, nil
}

func (b *CPUBackend) Release() {
	b.scratch = nil
}

// Offset of the frame position v into its band of size bs
func phase(v, bs int) int {
	r := v % bs
	if r < 0 {
		r += bs
	}
	return r
}

// Returns the range [lo, hi) of positions along an axis of length n where both the patch
// of radius p and its counterpart at offset d lie fully inside the image
func interior(p, d, n int) (lo, hi int) {
	lo, hi = p, n-p
	if d < 0 {
		lo -= d
	} else {
		hi -= d
	}
	return lo, hi
}

// Fills row with pixel distances for image row y, over columns [-p, width+p)
func distanceRow(pre *buffer.Image, y int, s Shift, p int, row []float32) {
	for i := range row {
		row[i] = pixelDistance(pre, i-p, y, s)
	}
}

// Box-sums 2p+1 neighboring column sums into each output pixel. Slides incrementally inside
// the interior [lo, hi), and resums at the borders and wherever x+colPhase is a multiple of seg
func horizontalSlide(sums, out []float32, p, lo, hi, colPhase, seg int) {
	var slide float32
	for x := range out {
		if x > 0 && x-1 >= lo && x < hi && (x+colPhase)%seg != 0 {
			slide += sums[x+2*p] - sums[x-1]
		} else {
			slide = 0
			for _, v := range sums[x : x+2*p+1] {
				slide += v
			}
		}
		out[x] = slide
	}
}
