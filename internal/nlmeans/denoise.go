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

// Package nlmeans implements non-local means denoising for signal-dependent noise. The image
// is first transformed so its noise becomes approximately Gaussian with unit variance. Each
// pixel is then replaced by a weighted average over a square search window, where weights
// decay with the distance between the patch around the pixel and the patch around each
// candidate. Finally the transform is inverted.
package nlmeans

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"io/ioutil"
	"time"

	"github.com/mlnoga/denoiseprofile/internal/buffer"
	"github.com/mlnoga/denoiseprofile/internal/fexp"
	"github.com/mlnoga/denoiseprofile/internal/noise"
	"github.com/mlnoga/denoiseprofile/internal/parallel"
	"github.com/mlnoga/denoiseprofile/internal/vst"
)

var ErrInsufficientMemory = errors.New("insufficient memory")

type config struct {
	log          io.Writer
	backend      Backend
	memoryBudget int64
	origin       image.Point
}

// Optional settings for Denoise
type Option func(*config)

// Writes progress and warnings to the given writer
func WithLog(w io.Writer) Option {
	return func(c *config) { c.log = w }
}

// Runs the per-shift passes on the given backend instead of the CPU
func WithBackend(b Backend) Option {
	return func(c *config) { c.backend = b }
}

// Fails with ErrInsufficientMemory if scratch memory would exceed the given number of bytes. 0 for unlimited
func WithMemoryBudget(bytes int64) Option {
	return func(c *config) { c.memoryBudget = bytes }
}

// Denoises a crop whose top left corner lies at (x, y) of a larger frame. Output then matches
// the frame denoised as a whole, wherever the crop covers the full neighborhood of a pixel
func WithOrigin(x, y int) Option {
	return func(c *config) { c.origin = image.Point{X: x, Y: y} }
}

// Scratch memory in bytes needed beyond input and output: the preconditioned image, one
// plane of patch distances, and per-thread rows of running sums
func ScratchBytes(width, height, p, threads int) int64 {
	px := int64(width) * int64(height)
	return px*buffer.Channels*4 + px*4 + int64(threads)*3*int64(width+2*p)*4
}

// Denoises in into out, which must have the same shape. Noise in the input is described by
// the model, which is scaled by the white balance and strength given in the params.
// Checks ctx between shifts. On cancellation, returns ctx.Err() and leaves out partially
// accumulated. Failures of a non-CPU backend are logged, and the run is repeated on the CPU.
func Denoise(ctx context.Context, in, out *buffer.Image, model noise.Model, params Params, opts ...Option) error {
	cfg := config{log: ioutil.Discard}
	for _, o := range opts {
		o(&cfg)
	}

	if err := params.Validate(); err != nil {
		return err
	}
	if err := in.Validate(); err != nil {
		return err
	}
	if err := out.Validate(); err != nil {
		return err
	}
	if !in.SameShape(out) {
		return fmt.Errorf("%w: input %s, output %s", buffer.ErrShapeMismatch, in.DimensionsToString(), out.DimensionsToString())
	}
	eff := model.Effective(params.WhiteBalance, params.Strength, params.UseGreen)
	if err := eff.Validate(); err != nil {
		return err
	}
	threads := parallel.Threads(params.MaxThreads)
	if need := ScratchBytes(in.Width, in.Height, params.P, threads); cfg.memoryBudget > 0 && need > cfg.memoryBudget {
		return fmt.Errorf("%w: %d: denoising %s needs %d MB scratch memory, budget is %d MB",
			ErrInsufficientMemory, in.ID, in.DimensionsToString(), need>>20, cfg.memoryBudget>>20)
	}
	exp, _ := fexp.ByName(params.Exp)
	weight := Weight{Exp: exp, Norm: params.Norm()}

	start := time.Now()
	pre := buffer.New(in.Width, in.Height, nil)
	vst.Precondition(in.Data, pre.Data, in.Width, in.Height, eff.A, eff.B, params.MaxThreads)

	backend := cfg.backend
	if backend == nil {
		backend = NewCPUBackend(params.BandSize, params.MaxThreads)
	}
	fmt.Fprintf(cfg.log, "%d: Denoising %s with P=%d K=%d strength %g on %s, model %s\n",
		in.ID, in.DimensionsToString(), params.P, params.K, params.Strength, backend.Name(), eff)
	err := run(ctx, backend, pre, out, params, weight, cfg.origin, cfg.log, in.ID)
	if err != nil && ctx.Err() == nil {
		if _, isCPU := backend.(*CPUBackend); !isCPU {
			fmt.Fprintf(cfg.log, "%d: %s backend failed, rerunning on CPU: %s\n", in.ID, backend.Name(), err.Error())
			err = run(ctx, NewCPUBackend(params.BandSize, params.MaxThreads), pre, out, params, weight, cfg.origin, cfg.log, in.ID)
		}
	}
	if err != nil {
		return err
	}

	vst.Backtransform(out.Data, out.Width, out.Height, eff.A, eff.B, params.MaxThreads)
	if params.MaskDisplay && in != out {
		if err := out.CopyAlpha(in); err != nil {
			return err
		}
	} else {
		// the preconditioned copy carries the input alpha unchanged
		if err := out.CopyAlpha(pre); err != nil {
			return err
		}
	}
	fmt.Fprintf(cfg.log, "%d: Denoising done in %v\n", in.ID, time.Since(start))
	return nil
}

// Zeroes the output, then accumulates all shifts and normalizes on the given backend
func run(ctx context.Context, b Backend, pre, out *buffer.Image, params Params, w Weight, origin image.Point,
	logWriter io.Writer, id int) error {
	if err := b.Prepare(pre.Width, pre.Height, params.P, origin); err != nil {
		return err
	}
	defer b.Release()

	out.Zero()
	dist := make([]float32, pre.Width*pre.Height)
	for _, s := range Shifts(params.K) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.PatchDistance(pre, s, params.P, dist); err != nil {
			return err
		}
		if err := b.AccumulateWeighted(pre, s, dist, w, out); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	zeroWeight, err := b.Normalize(out)
	if err != nil {
		return err
	}
	if zeroWeight > 0 {
		fmt.Fprintf(logWriter, "%d: Warning: %d pixels received zero weight\n", id, zeroWeight)
	}
	return nil
}
