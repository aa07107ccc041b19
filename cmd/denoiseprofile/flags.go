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

package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// A per-channel flag value for red, green and blue. Accepts "v" for all channels or "r,g,b"
type triple [3]float32

func (t *triple) String() string {
	if t == nil {
		return ""
	}
	if t[0] == t[1] && t[1] == t[2] {
		return strconv.FormatFloat(float64(t[0]), 'g', -1, 32)
	}
	return fmt.Sprintf("%g,%g,%g", t[0], t[1], t[2])
}

func (t *triple) Set(s string) error {
	parts := strings.Split(s, ",")
	if len(parts) != 1 && len(parts) != 3 {
		return errors.New(fmt.Sprintf("need one or three comma-separated values, got '%s'", s))
	}
	var vs [3]float32
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return err
		}
		vs[i] = float32(v)
	}
	if len(parts) == 1 {
		vs[1], vs[2] = vs[0], vs[0]
	}
	*t = vs
	return nil
}
