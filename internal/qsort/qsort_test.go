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

package qsort

import (
	"testing"

	"github.com/valyala/fastrand"
)

// Returns a random permutation of 1..n
func permutation(rng *fastrand.RNG, n int) []float32 {
	arr := make([]float32, n)
	for j := range arr {
		arr[j] = float32(j + 1)
	}
	for j := range arr {
		k := rng.Uint32n(uint32(n))
		arr[j], arr[k] = arr[k], arr[j]
	}
	return arr
}

func TestMedian(t *testing.T) {
	rng := fastrand.RNG{}
	for i := 1; i < 1000; i++ {
		arr := permutation(&rng, i)

		var expect float32
		if (i & 1) != 0 {
			expect = float32((i + 1) / 2)
		} else {
			expect = 0.5 * (float32(i/2) + float32(i/2+1))
		}

		if res := QSelectMedianFloat32(arr); res != expect {
			t.Errorf("median(1..%d) got %f expect %f", i, res, expect)
		}
	}
}

func TestMedianWithDuplicates(t *testing.T) {
	tcs := []struct {
		in   []float32
		want float32
	}{
		{[]float32{}, 0},
		{[]float32{5, 5, 5, 5}, 5},
		{[]float32{1, 3, 3, 1}, 2},
		{[]float32{2, 2, 1, 9, 2}, 2},
	}
	for _, tc := range tcs {
		if got := QSelectMedianFloat32(append([]float32{}, tc.in...)); got != tc.want {
			t.Errorf("median(%v)=%g; want %g", tc.in, got, tc.want)
		}
	}
}

func TestSelectAndSort(t *testing.T) {
	rng := fastrand.RNG{}
	for _, n := range []int{1, 2, 7, 64, 513} {
		for k := 1; k <= n; k += 1 + n/5 {
			arr := permutation(&rng, n)
			if got := QSelectFloat32(arr, k); got != float32(k) {
				t.Errorf("select(%d of %d)=%g", k, n, got)
			}
		}
		arr := permutation(&rng, n)
		QSortFloat32(arr)
		for j, v := range arr {
			if v != float32(j+1) {
				t.Errorf("sorted[%d]=%g for n=%d", j, v, n)
				break
			}
		}
	}
}
