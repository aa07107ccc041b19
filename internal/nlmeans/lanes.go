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

// Number of column sums updated per unrolled step, chosen at startup based on CPU features
var Lanes = 4

// Updates column sums by adding one row of distances and removing another
var verticalUpdate = verticalUpdate4

func verticalUpdate4(sums, added, removed []float32) {
	n := len(sums)
	added, removed = added[:n], removed[:n]
	i := 0
	for ; i+4 <= n; i += 4 {
		sums[i+0] += added[i+0] - removed[i+0]
		sums[i+1] += added[i+1] - removed[i+1]
		sums[i+2] += added[i+2] - removed[i+2]
		sums[i+3] += added[i+3] - removed[i+3]
	}
	for ; i < n; i++ {
		sums[i] += added[i] - removed[i]
	}
}

func verticalUpdate8(sums, added, removed []float32) {
	n := len(sums)
	added, removed = added[:n], removed[:n]
	i := 0
	for ; i+8 <= n; i += 8 {
		s, a, r := sums[i:i+8:i+8], added[i:i+8:i+8], removed[i:i+8:i+8]
		s[0] += a[0] - r[0]
		s[1] += a[1] - r[1]
		s[2] += a[2] - r[2]
		s[3] += a[3] - r[3]
		s[4] += a[4] - r[4]
		s[5] += a[5] - r[5]
		s[6] += a[6] - r[6]
		s[7] += a[7] - r[7]
	}
	for ; i < n; i++ {
		sums[i] += added[i] - removed[i]
	}
}
