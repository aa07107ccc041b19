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

package parallel

import (
	"sync"
	"testing"
)

func TestForBandsCoversAllRowsOnce(t *testing.T) {
	for _, n := range []int{0, 1, 31, 32, 33, 100, 1000} {
		for _, threads := range []int{1, 3, 8} {
			hits := make([]int, n)
			ForBands(n, 32, threads, func(band, lower, upper int) {
				if lower != band*32 {
					t.Errorf("n=%d band %d starts at %d; want %d", n, band, lower, band*32)
				}
				for y := lower; y < upper; y++ {
					hits[y]++
				}
			})
			for y, h := range hits {
				if h != 1 {
					t.Errorf("n=%d threads=%d row %d hit %d times; want 1", n, threads, y, h)
				}
			}
		}
	}
}

func TestForBandsWithWorkerSlotsAreExclusive(t *testing.T) {
	threads := 4
	var mutex sync.Mutex
	busy := make([]bool, threads)
	hits := make([]int, 500)
	ForBandsWithWorker(len(hits), 7, threads, func(worker, band, lower, upper int) {
		if worker < 0 || worker >= threads {
			t.Errorf("worker %d out of range", worker)
			return
		}
		mutex.Lock()
		if busy[worker] {
			t.Errorf("worker slot %d used concurrently", worker)
		}
		busy[worker] = true
		mutex.Unlock()

		for y := lower; y < upper; y++ {
			hits[y]++
		}

		mutex.Lock()
		busy[worker] = false
		mutex.Unlock()
	})
	for y, h := range hits {
		if h != 1 {
			t.Errorf("row %d hit %d times; want 1", y, h)
		}
	}
}

func TestNumBands(t *testing.T) {
	tcs := []struct{ n, size, want int }{
		{0, 32, 0}, {1, 32, 1}, {32, 32, 1}, {33, 32, 2}, {10, 0, 1},
	}
	for _, tc := range tcs {
		if got := NumBands(tc.n, tc.size); got != tc.want {
			t.Errorf("NumBands(%d,%d)=%d; want %d", tc.n, tc.size, got, tc.want)
		}
	}
}
