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
	"image"

	"github.com/mlnoga/denoiseprofile/internal/buffer"
	"github.com/mlnoga/denoiseprofile/internal/parallel"
)

// Initial work group size for the box sum kernels. Halved until it fits the device limits
const DefaultBlockSize = 2048

var ErrLaunchFailed = errors.New("kernel launch failed")

// Runs the filter as a sequence of data-parallel kernels over device buffers, the way a GPU
// implementation does: a distance kernel over the border-extended image, then separate
// horizontal and vertical box sum kernels working on blocks staged in local memory, then
// accumulation and normalization kernels. Results agree with the CPU backend up to float
// rounding, as sums are formed in a different order.
type KernelBackend struct {
	DeviceMemoryMB int // Global device memory. 0 for unlimited
	LocalMemoryKB  int // Local memory per work group. 0 for unlimited
	MaxWorkGroup   int // Maximum work group size. 0 for unlimited
	MaxLaunches    int // Watchdog limit for kernel launches between Prepare and Release. 0 for unlimited
	MaxThreads     int

	width, height, p int
	blockSize        int
	launches         int
	ext              []float32   // pixel distances on the border-extended image
	hsum             []float32   // horizontal box sums, width x (height+2p)
	local            [][]float32 // per worker local memory
}

func NewKernelBackend(deviceMemoryMB, maxThreads int) *KernelBackend {
	return &KernelBackend{DeviceMemoryMB: deviceMemoryMB, MaxThreads: maxThreads}
}

func (k *KernelBackend) Name() string {
	return "kernel"
}

// Device memory needed for an image of the given size and patch radius
func (k *KernelBackend) DeviceBytes(width, height, p int) int64 {
	px := int64(width) * int64(height)
	ew, eh := int64(width+2*p), int64(height+2*p)
	return 2*px*buffer.Channels*4 + // input and output
		ew*eh*4 + // extended distances
		int64(width)*eh*4 + // horizontal sums
		px*4 // patch distances
}

// Whether a work group of the given block size fits the device limits
func (k *KernelBackend) fits(blockSize, p int) bool {
	if k.MaxWorkGroup > 0 && blockSize > k.MaxWorkGroup {
		return false
	}
	if k.LocalMemoryKB > 0 && (blockSize+2*p)*4 > k.LocalMemoryKB*1024 {
		return false
	}
	return true
}

func (k *KernelBackend) Prepare(width, height, p int, origin image.Point) error {
	if k.DeviceMemoryMB > 0 {
		need, avail := k.DeviceBytes(width, height, p), int64(k.DeviceMemoryMB)<<20
		if need > avail {
			return fmt.Errorf("%w: needs %d MB of device memory, %d MB available",
				ErrFallbackToCPU, (need+(1<<20)-1)>>20, k.DeviceMemoryMB)
		}
	}
	bs := DefaultBlockSize
	for bs > 1 && !k.fits(bs, p) {
		bs >>= 1
	}
	if !k.fits(bs, p) {
		return fmt.Errorf("%w: patch radius %d exceeds %d KB local memory", ErrFallbackToCPU, p, k.LocalMemoryKB)
	}

	k.width, k.height, k.p, k.blockSize, k.launches = width, height, p, bs, 0
	k.ext = make([]float32, (width+2*p)*(height+2*p))
	k.hsum = make([]float32, width*(height+2*p))
	k.local = make([][]float32, parallel.Threads(k.MaxThreads))
	for i := range k.local {
		k.local[i] = make([]float32, bs+2*p)
	}
	return nil
}

// Accounts for one kernel launch, and checks buffers match the prepared shape
func (k *KernelBackend) launch(name string, img *buffer.Image) error {
	if k.ext == nil || img.Width != k.width || img.Height != k.height {
		return fmt.Errorf("%w: %s on %s, device prepared for %dx%d", ErrLaunchFailed, name, img.DimensionsToString(), k.width, k.height)
	}
	k.launches++
	if k.MaxLaunches > 0 && k.launches > k.MaxLaunches {
		return fmt.Errorf("%w: %s exceeds watchdog limit of %d launches", ErrLaunchFailed, name, k.MaxLaunches)
	}
	return nil
}

func (k *KernelBackend) PatchDistance(pre *buffer.Image, s Shift, p int, dist []float32) error {
	if p != k.p {
		return fmt.Errorf("%w: patch radius %d, device prepared for %d", ErrLaunchFailed, p, k.p)
	}
	if err := k.launch("dist", pre); err != nil {
		return err
	}
	k.distKernel(pre, s)
	if err := k.launch("horiz", pre); err != nil {
		return err
	}
	k.horizKernel()
	if err := k.launch("vert", pre); err != nil {
		return err
	}
	k.vertKernel(dist)
	return nil
}

// Pixel distances for all positions of the image extended by p on every side
func (k *KernelBackend) distKernel(pre *buffer.Image, s Shift) {
	ew, eh, p := k.width+2*k.p, k.height+2*k.p, k.p
	parallel.ForBands(eh, parallel.DefaultBand, k.MaxThreads, func(band, lower, upper int) {
		for ey := lower; ey < upper; ey++ {
			row := k.ext[ey*ew : (ey+1)*ew]
			for ex := range row {
				row[ex] = pixelDistance(pre, ex-p, ey-p, s)
			}
		}
	})
}

// Sums 2p+1 horizontal neighbors. Each work group stages a block of blockSize+2p values in local memory
func (k *KernelBackend) horizKernel() {
	w, ew, eh, p, bs := k.width, k.width+2*k.p, k.height+2*k.p, k.p, k.blockSize
	parallel.ForBandsWithWorker(eh, parallel.DefaultBand, k.MaxThreads, func(worker, band, lower, upper int) {
		local := k.local[worker]
		for ey := lower; ey < upper; ey++ {
			src, dst := k.ext[ey*ew:(ey+1)*ew], k.hsum[ey*w:(ey+1)*w]
			for x0 := 0; x0 < w; x0 += bs {
				n := bs
				if x0+n > w {
					n = w - x0
				}
				copy(local[:n+2*p], src[x0:x0+n+2*p])
				for x := 0; x < n; x++ {
					var sum float32
					for _, v := range local[x : x+2*p+1] {
						sum += v
					}
					dst[x0+x] = sum
				}
			}
		}
	})
}

// Sums 2p+1 vertical neighbors of the horizontal sums, by column. Each work group stages a
// block of blockSize+2p values in local memory
func (k *KernelBackend) vertKernel(dist []float32) {
	w, h, p, bs := k.width, k.height, k.p, k.blockSize
	parallel.ForBandsWithWorker(w, parallel.DefaultBand, k.MaxThreads, func(worker, band, lower, upper int) {
		local := k.local[worker]
		for x := lower; x < upper; x++ {
			for y0 := 0; y0 < h; y0 += bs {
				n := bs
				if y0+n > h {
					n = h - y0
				}
				for v := 0; v < n+2*p; v++ {
					local[v] = k.hsum[(y0+v)*w+x]
				}
				for y := 0; y < n; y++ {
					var sum float32
					for _, v := range local[y : y+2*p+1] {
						sum += v
					}
					dist[(y0+y)*w+x] = sum
				}
			}
		}
	})
}

func (k *KernelBackend) AccumulateWeighted(pre *buffer.Image, s Shift, dist []float32, w Weight, out *buffer.Image) error {
	if err := k.launch("accu", out); err != nil {
		return err
	}
	parallel.ForBands(pre.Height, parallel.DefaultBand, k.MaxThreads, func(band, lower, upper int) {
		accumulateRows(pre, s, dist, w, out, lower, upper)
	})
	return nil
}

func (k *KernelBackend) Normalize(out *buffer.Image) (zeroWeight int, err error) {
	if err := k.launch("finish", out); err != nil {
		return 0, err
	}
	counts := make([]int, parallel.NumBands(out.Height, parallel.DefaultBand))
	parallel.ForBands(out.Height, parallel.DefaultBand, k.MaxThreads, func(band, lower, upper int) {
		counts[band] = normalizeRows(out, lower, upper)
	})
	for _, c := range counts {
		zeroWeight += c
	}
	return zeroWeight, nil
}

func (k *KernelBackend) Release() {
	k.ext, k.hsum, k.local = nil, nil, nil
}
