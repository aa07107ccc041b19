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
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/klauspost/cpuid"

	"github.com/mlnoga/denoiseprofile/internal/logfile"
	"github.com/mlnoga/denoiseprofile/internal/nlmeans"
	"github.com/mlnoga/denoiseprofile/internal/noise"
	"github.com/mlnoga/denoiseprofile/internal/ops"
	"github.com/mlnoga/denoiseprofile/internal/ops/denoise"
	"github.com/mlnoga/denoiseprofile/internal/rest"
	"github.com/mlnoga/denoiseprofile/internal/stats"
	"github.com/mlnoga/denoiseprofile/internal/synth"
	"github.com/mlnoga/denoiseprofile/internal/tiling"
	"github.com/mlnoga/denoiseprofile/internal/wavelet"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var out = flag.String("out", "out.fits", "save output to `file`. Use a pattern like `out%d.fits` for multiple inputs")
var jpg = flag.String("jpg", "", "save 8bit preview of output as JPEG to `file`. `%auto` replaces suffix of output file with .jpg")
var log = flag.String("log", "%auto", "save log output to `file`. `%auto` replaces suffix of output file with .log")
var config = flag.String("config", "", "load the per-image operator from JSON `file` instead of the denoising flags")

var mode = flag.String("mode", denoise.ModeNLMeans, "denoising mode, nlmeans or wavelets")
var radius = flag.Float64("radius", 1, "patch radius for non-local means")
var strength = flag.Float64("strength", 1, "denoising strength, multiplies the noise model")
var scale = flag.Float64("scale", 1, "scale of the working image relative to the full image")
var iscale = flag.Float64("iscale", 1, "scale of the input image relative to the full image")
var exp = flag.String("exp", "poly", "exponential approximation for patch weights, one of poly, lut or exact")
var useGreen = flag.Bool("useGreen", false, "use the green channel noise model for all channels")
var mask = flag.Bool("mask", false, "mask display: keep alpha of the input")
var scales = flag.Int("scales", wavelet.DefaultScales, "number of wavelet scales")
var sharpen = flag.Float64("sharpen", 0, "wavelet edge avoidance, 0=off")

var a, b, wb triple
var profiles = flag.String("profiles", "", "load camera noise profiles from JSON `file`")
var maker = flag.String("maker", "", "camera maker for the profile lookup")
var model = flag.String("model", "", "camera model for the profile lookup")
var iso = flag.Float64("iso", 100, "ISO speed for the profile lookup")
var fitModel = flag.Bool("fit", false, "fit the noise model to each image if neither -a nor a profile is given")

var backend = flag.String("backend", denoise.BackendCPU, "compute backend for non-local means, cpu or kernel")
var tile = flag.Int("tile", 0, "tile size in pixels, 0=automatic from memory budget, -1=no tiling")
var workMem = flag.Int("workMem", int(tiling.DefaultBudget(0.7)>>20), "MiB of memory to use for denoising, default=0.7x physical memory")
var deviceMem = flag.Int("deviceMem", 0, "MiB of device memory for the kernel backend, 0=unlimited")
var maxThreads = flag.Int("maxThreads", runtime.GOMAXPROCS(0), "maximum number of concurrent threads")

var pattern = flag.String("pattern", synth.PatternSteps, "synthetic image pattern, one of constant, gradient, steps, disc")
var width = flag.Int("width", 512, "synthetic image width")
var height = flag.Int("height", 512, "synthetic image height")
var level = flag.Float64("level", 4000, "synthetic image peak level")
var seed = flag.Uint("seed", 1, "seed for synthetic noise")

var samples = flag.Int("samples", stats.DefaultSamples, "number of random samples for median and MAD statistics")
var csv = flag.Bool("csv", false, "print statistics as CSV")

var addr = flag.String("addr", ":8080", "address for the REST server")
var chroot = flag.String("chroot", "", "change filesystem root to `dir` before serving (requires root)")
var setuid = flag.Int("setuid", -1, "change user id before serving, -1=keep")

func init() {
	a, b, wb = triple{}, triple{}, triple{1, 1, 1}
	flag.Var(&a, "a", "explicit noise model gain, one value or r,g,b. 0=use profile or fit")
	flag.Var(&b, "b", "explicit noise model read noise, one value or r,g,b")
	flag.Var(&wb, "wb", "white balance coefficients applied to the raw data, one value or r,g,b")
}

func main() {
	logWriter := logfile.Writer()
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(logWriter, `Denoiseprofile Copyright (c) 2021 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (denoise|synth|fit|margin|stats|serve|legal|version) (img0.fits ... imgn.fits)

Commands:
  denoise Denoise input images with a profiled noise model
  synth   Write a synthetic test image with Poisson-Gaussian noise
  fit     Estimate noise model parameters from images with smooth content
  margin  Show tiling requirements for the given radius and scales
  stats   Show input image statistics and noise estimates
  serve   Serve the REST API
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	// Initialize logging to file in addition to stdout, if selected
	if *log == "%auto" {
		*log = ""
		if (args[0] == "denoise" || args[0] == "synth") && *out != "" {
			*log = logfile.AutoName(strings.Replace(*out, "%d", "", -1))
		}
	}
	if *log != "" {
		if err := logfile.LogAlsoToFile(*log); err != nil {
			logfile.LogFatalf("Unable to open logfile '%s': %s\n", *log, err.Error())
		}
	}
	defer logfile.Close()

	// Also auto-select JPEG output target
	if *jpg == "%auto" {
		*jpg = ""
		if *out != "" {
			*jpg = strings.TrimSuffix(*out, filepath.Ext(*out)) + ".jpg"
		}
	}

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			logfile.LogFatal("Could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			logfile.LogFatal("Could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	c := ops.NewContext(logWriter)
	c.MaxThreads, c.WorkMemoryMB, c.DeviceMemoryMB = *maxThreads, *workMem, *deviceMem

	var err error
	switch args[0] {
	case "denoise":
		err = cmdDenoise(args[1:], c)
	case "synth":
		err = cmdSynth(logWriter)
	case "fit":
		err = cmdFit(args[1:], c)
	case "margin":
		err = cmdMargin(logWriter)
	case "stats":
		err = cmdStats(args[1:], c)
	case "serve":
		if err = rest.MakeSandbox(*chroot, *setuid, logWriter); err == nil {
			err = rest.Serve(*addr)
		}
	case "legal":
		cmdLegal(logWriter)
	case "version":
		fmt.Fprintf(logWriter, "Version %s\n", version)
	case "help", "?":
		flag.Usage()
	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	fmt.Fprintf(logWriter, "\nDone after %v\n", time.Since(start))

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			logfile.LogFatal("Could not create memory profile: ", err)
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.Lookup("allocs").WriteTo(f, 0); err != nil {
			logfile.LogFatal("Could not write allocation profile: ", err)
		}
	}

	if err != nil {
		pprof.StopCPUProfile()
		logfile.LogFatalf("Error: %s\n", err.Error())
	}
}

// Builds the denoising operator from command line flags
func newDenoiseOp() *denoise.OpDenoiseProfile {
	op := denoise.NewOpDenoiseProfile(float32(*radius), float32(*strength))
	op.Mode, op.Scale, op.IScale = *mode, float32(*scale), float32(*iscale)
	op.A, op.B = a, b
	op.ProfilesFile, op.Maker, op.Model, op.ISO = *profiles, *maker, *model, float32(*iso)
	op.FitModel = *fitModel
	op.WhiteBalance, op.UseGreen, op.MaskDisplay, op.Exp = wb, *useGreen, *mask, *exp
	op.Backend, op.TileSize = *backend, *tile
	op.Scales, op.Sharpen = *scales, float32(*sharpen)
	return op
}

// Loads the per-image operator from a JSON file
func loadConfig(fileName string) (ops.Operator, error) {
	raw, err := ioutil.ReadFile(fileName)
	if err != nil {
		return nil, err
	}
	return ops.UnmarshalOperator(raw)
}

// Runs the given per-image operator on all files matching the patterns
func runOnFiles(patterns []string, op ops.Operator, c *ops.Context) error {
	seq := ops.NewOpSequence(ops.NewOpLoadMany(patterns), ops.NewOpForEach(op))
	promises, err := seq.MakePromises(nil, c)
	if err != nil {
		return err
	}
	_, err = c.Materialize(promises, true)
	return err
}

func cmdDenoise(patterns []string, c *ops.Context) error {
	if len(patterns) == 0 {
		return fmt.Errorf("no input files given")
	}
	var op ops.Operator = newDenoiseOp()
	if *config != "" {
		var err error
		if op, err = loadConfig(*config); err != nil {
			return fmt.Errorf("loading config %s: %w", *config, err)
		}
	}
	steps := []ops.Operator{op, ops.NewOpSave(*out)}
	if *jpg != "" {
		steps = append(steps, ops.NewOpSave(*jpg))
	}
	seq := ops.NewOpSequence(steps...)

	m, err := json.MarshalIndent(seq, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Log, "Denoising with %s on %s with these settings:\n%s\n", nlmeans.NewCPUBackend(0, c.MaxThreads).Name(),
		cpuid.CPU.BrandName, string(m))

	if strings.Contains(*out, "%") {
		return runOnFiles(patterns, seq, c)
	}
	// a fixed output name only works for a single input
	matches := 0
	for _, p := range patterns {
		ms, err := filepath.Glob(p)
		if err != nil {
			return err
		}
		matches += len(ms)
	}
	if matches > 1 {
		return fmt.Errorf("%d inputs need an output pattern like out%%d.fits, not %s", matches, *out)
	}
	return runOnFiles(patterns, seq, c)
}

func cmdSynth(logWriter io.Writer) error {
	l := float32(*level)
	img, err := synth.NewPattern(*pattern, *width, *height, [3]float32{l, l, l})
	if err != nil {
		return err
	}
	if a != (triple{}) || b != (triple{}) {
		synth.AddNoise(img, a, b, uint32(*seed))
	}
	fmt.Fprintf(logWriter, "Writing %s %s image with noise a=%v b=%v to %s\n", img.DimensionsToString(), *pattern, a, b, *out)
	if err := img.WriteFile(*out, 0, l); err != nil {
		return err
	}
	if *jpg != "" {
		return img.WriteFile(*jpg, 0, l)
	}
	return nil
}

func cmdFit(fileNames []string, c *ops.Context) error {
	for i, fileName := range fileNames {
		promises, err := ops.NewOpLoad(i, fileName).MakePromises(nil, c)
		if err != nil {
			return err
		}
		img, err := promises[0]()
		if err != nil {
			return err
		}
		m, err := noise.Fit(img, noise.DefaultFitOptions, c.Log)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.Log, "%d: Noise model %v\n%d: Use with -a %g,%g,%g -b %g,%g,%g\n", i, m,
			i, m.A[0], m.A[1], m.A[2], m.B[0], m.B[1], m.B[2])
	}
	return nil
}

func cmdMargin(logWriter io.Writer) error {
	params := nlmeans.ParamsFromUI(float32(*radius), float32(*strength), float32(*scale), float32(*iscale))
	if err := params.Validate(); err != nil {
		return err
	}
	req := tiling.ForParams(params)
	fmt.Fprintf(logWriter, "Patch radius %d, search radius %d\nOverlap %d pixels, memory factor %g, overhead %d bytes, alignment %dx%d\n",
		params.P, params.K, req.Overlap, req.Factor, req.Overhead, req.XAlign, req.YAlign)
	budget := int64(*workMem) << 20
	if size, err := req.TileSizeForBudget(*width, *height, budget); err == nil {
		if size == 0 {
			fmt.Fprintf(logWriter, "A %dx%d image fits into %d MiB without tiling\n", *width, *height, *workMem)
		} else {
			fmt.Fprintf(logWriter, "A %dx%d image needs tiles of %dx%d pixels within %d MiB\n", *width, *height, size, size, *workMem)
		}
	}
	return nil
}

func cmdStats(patterns []string, c *ops.Context) error {
	if len(patterns) == 0 {
		return fmt.Errorf("no input files given")
	}
	return runOnFiles(patterns, denoise.NewOpStats(*samples, *csv), c)
}
