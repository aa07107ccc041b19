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

package denoise

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mlnoga/denoiseprofile/internal/buffer"
	"github.com/mlnoga/denoiseprofile/internal/ops"
	"github.com/mlnoga/denoiseprofile/internal/stats"
)

var channelNames = [3]string{"red", "green", "blue"}

// Logs per-channel statistics of each image, optionally as CSV. Passes images through unchanged
type OpStats struct {
	ops.OpUnaryBase
	Samples int  `json:"samples"` // Random samples for median and MAD
	CSV     bool `json:"csv"`

	mutex *sync.Mutex // serializes multi-line output of concurrent images
}

var _ ops.Operator = (*OpStats)(nil) // this type is an Operator

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpStatsDefault() }) } // register the operator for JSON decoding

func NewOpStatsDefault() *OpStats { return NewOpStats(stats.DefaultSamples, false) }

func NewOpStats(samples int, csv bool) *OpStats {
	op := OpStats{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "stats", Active: true}},
		Samples:     samples,
		CSV:         csv,
		mutex:       &sync.Mutex{},
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpStats) UnmarshalJSON(data []byte) error {
	type defaults OpStats
	def := defaults(*NewOpStatsDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpStats(def)
	op.OpUnaryBase.Apply = op.Apply
	return nil
}

func (op *OpStats) Apply(img *buffer.Image, c *ops.Context) (result *buffer.Image, err error) {
	if !op.Active {
		return img, nil
	}
	st := stats.ForImage(img, op.Samples)
	op.mutex.Lock()
	defer op.mutex.Unlock()
	if op.CSV {
		fmt.Fprintf(c.Log, "ID,File,Channel,%s\n", st[0].ToCSVHeader())
		for ch, s := range st {
			fmt.Fprintf(c.Log, "%d,%s,%s,%s\n", img.ID, img.FileName, channelNames[ch], s.ToCSVLine())
		}
	} else {
		for ch, s := range st {
			fmt.Fprintf(c.Log, "%d: %-5s %v\n", img.ID, channelNames[ch], s)
		}
	}
	return img, nil
}
