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
	"runtime"
)

// Default number of rows per work package. Results of banded algorithms
// must not depend on the number of threads, so bands have a fixed height.
const DefaultBand = 32

// A band function. Processes rows [lower, upper) and is identified by its band index.
type BandFunction func(band, lower, upper int)

// Returns a sane thread limit: maxThreads if positive, GOMAXPROCS otherwise
func Threads(maxThreads int) int {
	if maxThreads > 0 {
		return maxThreads
	}
	return runtime.GOMAXPROCS(0)
}

// Number of bands of given height needed to cover n rows
func NumBands(n, bandSize int) int {
	if bandSize <= 0 {
		bandSize = DefaultBand
	}
	return (n + bandSize - 1) / bandSize
}

// Applies given band function to rows [0,n) split into bands of given size.
// Limits parallelism to maxThreads, and blocks until all bands are done.
// Bands never overlap, so band functions may write their own rows without locking.
func ForBands(n, bandSize, maxThreads int, bf BandFunction) {
	if n <= 0 {
		return
	}
	if bandSize <= 0 {
		bandSize = DefaultBand
	}
	threads := Threads(maxThreads)
	sem := make(chan bool, threads)
	for band, lower := 0, 0; lower < n; band, lower = band+1, lower+bandSize {
		upper := lower + bandSize
		if upper > n {
			upper = n
		}

		sem <- true
		go func(band, lower, upper int) {
			bf(band, lower, upper)
			<-sem
		}(band, lower, upper)
	}

	for i := 0; i < cap(sem); i++ { // wait for goroutines to finish
		sem <- true
	}
}

// A worker-aware band function. The worker index is in [0, threads) and is
// never used by two goroutines at the same time, so per-worker scratch
// memory can be indexed with it.
type WorkerBandFunction func(worker, band, lower, upper int)

// Like ForBands, but hands each band function a worker slot index for private scratch state
func ForBandsWithWorker(n, bandSize, maxThreads int, wbf WorkerBandFunction) {
	if n <= 0 {
		return
	}
	if bandSize <= 0 {
		bandSize = DefaultBand
	}
	threads := Threads(maxThreads)
	slots := make(chan int, threads)
	for i := 0; i < threads; i++ {
		slots <- i
	}
	done := make(chan bool, NumBands(n, bandSize))
	numBands := 0
	for band, lower := 0, 0; lower < n; band, lower = band+1, lower+bandSize {
		upper := lower + bandSize
		if upper > n {
			upper = n
		}

		worker := <-slots
		numBands++
		go func(worker, band, lower, upper int) {
			wbf(worker, band, lower, upper)
			slots <- worker
			done <- true
		}(worker, band, lower, upper)
	}
	for i := 0; i < numBands; i++ {
		<-done
	}
}
