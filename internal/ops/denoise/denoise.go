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

// Package denoise provides operators for profiled denoising and image statistics.
package denoise

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/mlnoga/denoiseprofile/internal/buffer"
	"github.com/mlnoga/denoiseprofile/internal/nlmeans"
	"github.com/mlnoga/denoiseprofile/internal/noise"
	"github.com/mlnoga/denoiseprofile/internal/ops"
	"github.com/mlnoga/denoiseprofile/internal/tiling"
	"github.com/mlnoga/denoiseprofile/internal/wavelet"
)

// Denoising algorithms
const (
	ModeNLMeans  = "nlmeans"
	ModeWavelets = "wavelets"
)

// Compute backends for non-local means
const (
	BackendCPU    = "cpu"
	BackendKernel = "kernel"
)

// Denoises each image with a noise model given explicitly, looked up from a profile database,
// or fitted to the image. Takes n inputs, produces n outputs
type OpDenoiseProfile struct {
	ops.OpUnaryBase
	Mode         string     `json:"mode"`         // nlmeans or wavelets
	Radius       float32    `json:"radius"`       // Patch radius in UI units
	Strength     float32    `json:"strength"`     // Noise model multiplier
	Scale        float32    `json:"scale"`        // Scale of the working image
	IScale       float32    `json:"iscale"`       // Scale of the input image
	A            [3]float32 `json:"a"`            // Explicit noise model gains. All zero to use a profile
	B            [3]float32 `json:"b"`            // Explicit noise model floors
	ProfilesFile string     `json:"profilesFile"` // JSON profile database
	Maker        string     `json:"maker"`
	Model        string     `json:"model"`
	ISO          float32    `json:"iso"`
	FitModel     bool       `json:"fitModel"` // Fit the model to each image if neither explicit nor profile given
	WhiteBalance [3]float32 `json:"whiteBalance"`
	UseGreen     bool       `json:"useGreen"`
	MaskDisplay  bool       `json:"maskDisplay"`
	Exp          string     `json:"exp"`
	Backend      string     `json:"backend"`  // cpu or kernel
	TileSize     int        `json:"tileSize"` // 0 for automatic, negative for no tiling
	Scales       int        `json:"scales"`   // Wavelet scales
	Sharpen      float32    `json:"sharpen"`  // Wavelet edge avoidance

	profiles *profileCache
}

// Profile database, loaded on first use
type profileCache struct {
	once sync.Once
	db   *noise.Database
	err  error
}

var _ ops.Operator = (*OpDenoiseProfile)(nil) // this type is an Operator

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpDenoiseProfileDefault() }) } // register the operator for JSON decoding

func NewOpDenoiseProfileDefault() *OpDenoiseProfile { return NewOpDenoiseProfile(1, 1) }

func NewOpDenoiseProfile(radius, strength float32) *OpDenoiseProfile {
	op := OpDenoiseProfile{
		OpUnaryBase:  ops.OpUnaryBase{OpBase: ops.OpBase{Type: "denoiseProfile", Active: strength > 0}},
		Mode:         ModeNLMeans,
		Radius:       radius,
		Strength:     strength,
		Scale:        1,
		IScale:       1,
		WhiteBalance: [3]float32{1, 1, 1},
		Exp:          "poly",
		Backend:      BackendCPU,
		Scales:       wavelet.DefaultScales,
		profiles:     &profileCache{},
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpDenoiseProfile) UnmarshalJSON(data []byte) error {
	type defaults OpDenoiseProfile
	def := defaults(*NewOpDenoiseProfileDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpDenoiseProfile(def)
	op.OpUnaryBase.Apply = op.Apply
	return nil
}

// Loads the profile database once per operator
func (op *OpDenoiseProfile) database() (*noise.Database, error) {
	pc := op.profiles
	pc.once.Do(func() {
		pc.db, pc.err = noise.LoadDatabaseFile(op.ProfilesFile)
	})
	return pc.db, pc.err
}

// Resolves the noise model for the image, and describes where it came from
func (op *OpDenoiseProfile) NoiseModel(img *buffer.Image, c *ops.Context) (m noise.Model, source string, err error) {
	switch {
	case op.A != [3]float32{}:
		m = noise.Model{A: op.A, B: op.B}
		return m, "explicit", m.Validate()
	case op.ProfilesFile != "":
		if c.RestrictPaths && !ops.IsPathAllowed(op.ProfilesFile) {
			return m, "", errors.New("Profiles file outside current directory tree, aborting")
		}
		db, err := op.database()
		if err != nil {
			return m, "", err
		}
		m, iso1, iso2, err := db.Lookup(op.Maker, op.Model, op.ISO)
		if err != nil {
			return m, "", err
		}
		return m, fmt.Sprintf("%s %s ISO %g profile (from ISO %g..%g)", op.Maker, op.Model, op.ISO, iso1, iso2), nil
	case op.FitModel:
		m, err = noise.Fit(img, noise.DefaultFitOptions, c.Log)
		return m, "fitted", err
	}
	return noise.Generic, "generic", nil
}

// Parameters for non-local means derived from the operator settings
func (op *OpDenoiseProfile) Params() nlmeans.Params {
	p := nlmeans.ParamsFromUI(op.Radius, op.Strength, op.Scale, op.IScale)
	p.WhiteBalance, p.UseGreen, p.MaskDisplay, p.Exp = op.WhiteBalance, op.UseGreen, op.MaskDisplay, op.Exp
	return p
}

func (op *OpDenoiseProfile) Apply(img *buffer.Image, c *ops.Context) (result *buffer.Image, err error) {
	if !op.Active {
		return img, nil
	}
	if op.Scale <= 0 || op.IScale <= 0 {
		return nil, errors.New(fmt.Sprintf("%d: invalid scale %g and input scale %g", img.ID, op.Scale, op.IScale))
	}
	model, source, err := op.NoiseModel(img, c)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(c.Log, "%d: Using %s noise model %v\n", img.ID, source, model)
	noiseBefore := noise.EstimateNoise(img.Channel(1), img.Width)

	out := buffer.NewFromImage(img)
	switch op.Mode {
	case ModeNLMeans, "":
		if err = op.applyNLMeans(img, out, model, c); err != nil {
			return nil, err
		}
	case ModeWavelets:
		wp := wavelet.DefaultParams()
		wp.Strength, wp.WhiteBalance, wp.UseGreen = op.Strength, op.WhiteBalance, op.UseGreen
		wp.Sharpen, wp.Scales, wp.MaxThreads = op.Sharpen, op.Scales, c.MaxThreads
		if err = wavelet.Denoise(c.Ctx, img, out, model, wp, c.Log); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New(fmt.Sprintf("%d: unknown denoising mode '%s'", img.ID, op.Mode))
	}

	fmt.Fprintf(c.Log, "%d: Green channel noise %.4g before, %.4g after denoising\n",
		img.ID, noiseBefore, noise.EstimateNoise(out.Channel(1), out.Width))
	return out, nil
}

func (op *OpDenoiseProfile) applyNLMeans(img, out *buffer.Image, model noise.Model, c *ops.Context) error {
	params := op.Params()
	params.MaxThreads = c.MaxThreads
	budget := c.ScratchBudget()
	opts := []nlmeans.Option{nlmeans.WithLog(c.Log), nlmeans.WithMemoryBudget(budget)}
	switch op.Backend {
	case BackendCPU, "":
	case BackendKernel:
		opts = append(opts, nlmeans.WithBackend(nlmeans.NewKernelBackend(c.DeviceMemoryMB, params.MaxThreads)))
	default:
		return errors.New(fmt.Sprintf("%d: unknown backend '%s'", img.ID, op.Backend))
	}

	tileSize := op.TileSize
	if tileSize == 0 && budget > 0 {
		var err error
		if tileSize, err = tiling.ForParams(params).TileSizeForBudget(img.Width, img.Height, budget); err != nil {
			return err
		}
	}
	return tiling.Process(c.Ctx, img, out, model, params, tileSize, c.Log, opts...)
}
