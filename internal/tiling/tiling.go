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

// Package tiling splits images into overlapping tiles so that large images can be denoised
// within a memory budget. Tiles are cropped with a margin wide enough that interior pixels
// see the same neighborhood as in a whole-image run.
package tiling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"math"

	"github.com/mlnoga/denoiseprofile/internal/buffer"
	"github.com/mlnoga/denoiseprofile/internal/nlmeans"
	"github.com/mlnoga/denoiseprofile/internal/noise"
	"github.com/mlnoga/denoiseprofile/internal/parallel"
	"github.com/pbnjay/memory"
)

// Working memory as a multiple of the input: input, output, preconditioned copy,
// distance plane and per-thread rows
const Factor = 3.5

var ErrTileTooSmall = errors.New("memory budget too small for a single tile")

// Requirements of the filter towards the host pipeline
type Requirements struct {
	Overlap  int     // Margin in pixels needed on every side of a tile
	Factor   float32 // Working memory as a multiple of the input tile size
	Overhead int64   // Fixed memory overhead in bytes
	XAlign   int     // Horizontal tile alignment in pixels
	YAlign   int     // Vertical tile alignment in pixels
	Slack    int     // Extra pixels a crop may start early to align with CPU bands
}

// Margin in pixels needed beyond the output region: patch radius plus search radius
func RequiredMargin(p, k int) int {
	return p + k
}

func ForParams(params nlmeans.Params) Requirements {
	return Requirements{
		Overlap: RequiredMargin(params.P, params.K),
		Factor:  Factor,
		XAlign:  1,
		YAlign:  1,
		Slack:   bandSize(params) - 1,
	}
}

func bandSize(params nlmeans.Params) int {
	if params.BandSize <= 0 {
		return parallel.DefaultBand
	}
	return params.BandSize
}

// Bytes of working memory for denoising a tile with the given output size
func (r Requirements) TileBytes(width, height int) int64 {
	w, h := int64(width+2*r.Overlap+r.Slack), int64(height+2*r.Overlap+r.Slack)
	return int64(float64(w*h*buffer.Channels*4)*float64(r.Factor)) + r.Overhead
}

// Returns the given fraction of physical memory in bytes
func DefaultBudget(fraction float64) int64 {
	return int64(float64(memory.TotalMemory()) * fraction)
}

// Largest square tile size whose working memory fits the budget, aligned to the requirements.
// Returns 0 if the whole image fits
func (r Requirements) TileSizeForBudget(width, height int, budget int64) (int, error) {
	if r.TileBytes(width, height) <= budget {
		return 0, nil
	}
	avail := float64(budget-r.Overhead) / float64(buffer.Channels*4) / float64(r.Factor)
	size := int(math.Sqrt(math.Max(0, avail))) - 2*r.Overlap - r.Slack
	align := r.XAlign
	if r.YAlign > align {
		align = r.YAlign
	}
	if align > 1 {
		size -= size % align
	}
	if size <= 0 {
		return 0, fmt.Errorf("%w: budget %d MB, margin %d", ErrTileTooSmall, budget>>20, r.Overlap)
	}
	return size, nil
}

// An output rectangle
type Tile struct {
	X0, Y0, Width, Height int
}

// Splits width x height into tiles of at most size x size pixels, row by row. A size of 0 or
// less yields a single tile
func Plan(width, height, size int) []Tile {
	if size <= 0 {
		return []Tile{{0, 0, width, height}}
	}
	var tiles []Tile
	for y0 := 0; y0 < height; y0 += size {
		th := size
		if y0+th > height {
			th = height - y0
		}
		for x0 := 0; x0 < width; x0 += size {
			tw := size
			if x0+tw > width {
				tw = width - x0
			}
			tiles = append(tiles, Tile{x0, y0, tw, th})
		}
	}
	return tiles
}

// Denoises in into out one tile at a time. Each tile is cropped with the required margin,
// clamped to the image, denoised, and its interior pasted into out. Crops start a margin
// before the band containing the tile's first row and column, so the CPU backend reproduces
// a whole-image run bit for bit
func Process(ctx context.Context, in, out *buffer.Image, model noise.Model, params nlmeans.Params,
	tileSize int, logWriter io.Writer, opts ...nlmeans.Option) error {
	if logWriter == nil {
		logWriter = ioutil.Discard
	}
	if !in.SameShape(out) {
		return fmt.Errorf("%w: input %s, output %s", buffer.ErrShapeMismatch, in.DimensionsToString(), out.DimensionsToString())
	}
	margin := RequiredMargin(params.P, params.K)
	band := bandSize(params)
	tiles := Plan(in.Width, in.Height, tileSize)
	if len(tiles) > 1 {
		fmt.Fprintf(logWriter, "%d: Processing %s in %d tiles of %dx%d with margin %d\n",
			in.ID, in.DimensionsToString(), len(tiles), tileSize, tileSize, margin)
	}
	for i, t := range tiles {
		if err := ctx.Err(); err != nil {
			return err
		}
		cx0, cy0 := max(0, t.X0-t.X0%band-margin), max(0, t.Y0-t.Y0%band-margin)
		cx1, cy1 := min(in.Width, t.X0+t.Width+margin), min(in.Height, t.Y0+t.Height+margin)
		crop, err := in.Crop(cx0, cy0, cx1-cx0, cy1-cy0)
		if err != nil {
			return err
		}
		crop.ID = in.ID
		res := buffer.New(crop.Width, crop.Height, nil)
		res.ID = in.ID
		tileOpts := append(opts[:len(opts):len(opts)], nlmeans.WithOrigin(cx0, cy0))
		if err := nlmeans.Denoise(ctx, crop, res, model, params, tileOpts...); err != nil {
			return fmt.Errorf("tile %d of %d: %w", i+1, len(tiles), err)
		}
		if err := out.Paste(res, t.X0-cx0, t.Y0-cy0, t.Width, t.Height, t.X0, t.Y0); err != nil {
			return err
		}
	}
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
