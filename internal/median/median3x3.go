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

package median

import (
	"github.com/mlnoga/denoiseprofile/internal/parallel"
	"github.com/mlnoga/denoiseprofile/internal/qsort"
)

// Applies a 3x3 median filter to a 2D plane of the given width and stores results in output.
// Border pixels use the median of their clamped neighborhood. Rows are processed in parallel
func MedianFilter3x3(output, data []float32, width int) {
	height := len(data) / width
	parallel.ForBands(height, parallel.DefaultBand, 0, func(band, lower, upper int) {
		var gathered [9]float32
		for y := lower; y < upper; y++ {
			ym, yp := clamp(y-1, height), clamp(y+1, height)
			for x := 0; x < width; x++ {
				xm, xp := clamp(x-1, width), clamp(x+1, width)
				gathered[0], gathered[1], gathered[2] = data[ym*width+xm], data[ym*width+x], data[ym*width+xp]
				gathered[3], gathered[4], gathered[5] = data[y*width+xm], data[y*width+x], data[y*width+xp]
				gathered[6], gathered[7], gathered[8] = data[yp*width+xm], data[yp*width+x], data[yp*width+xp]
				output[y*width+x] = MedianFloat32Slice9(gathered[:])
			}
		}
	})
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// Calculates the median of a float32 slice of length nine
// Modifies the elements in place
// From https://stackoverflow.com/questions/45453537/optimal-9-element-sorting-network-that-reduces-to-an-optimal-median-of-9-network
// Array must not contain IEEE NaN
func MedianFloat32Slice9(a []float32) float32 {
	if a[0] > a[1] {
		a[0], a[1] = a[1], a[0]
	}
	if a[3] > a[4] {
		a[3], a[4] = a[4], a[3]
	}
	if a[6] > a[7] {
		a[6], a[7] = a[7], a[6]
	}
	if a[1] > a[2] {
		a[1], a[2] = a[2], a[1]
	}
	if a[4] > a[5] {
		a[4], a[5] = a[5], a[4]
	}
	if a[7] > a[8] {
		a[7], a[8] = a[8], a[7]
	}
	if a[0] > a[1] {
		a[0], a[1] = a[1], a[0]
	}
	if a[3] > a[4] {
		a[3], a[4] = a[4], a[3]
	}
	if a[6] > a[7] {
		a[6], a[7] = a[7], a[6]
	}
	if a[0] > a[3] {
		a[3] = a[0]
	}
	if a[3] > a[6] {
		a[6] = a[3]
	}
	if a[1] > a[4] {
		a[1], a[4] = a[4], a[1]
	}
	if a[4] > a[7] {
		a[4] = a[7]
	}
	if a[1] > a[4] {
		a[4] = a[1]
	}
	if a[5] > a[8] {
		a[5] = a[8]
	}
	if a[2] > a[5] {
		a[2] = a[5]
	}
	if a[2] > a[4] {
		a[2], a[4] = a[4], a[2]
	}
	if a[4] > a[6] {
		a[4] = a[6]
	}
	if a[2] > a[4] {
		a[4] = a[2]
	}
	return a[4]
}

// Calculates the median of a float32 slice. Modifies the elements in place
// Array must not contain IEEE NaN
func MedianFloat32(a []float32) float32 {
	if len(a) == 9 {
		return MedianFloat32Slice9(a)
	}
	return qsort.QSelectMedianFloat32(a)
}
