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
	"bytes"
	"encoding/json"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mlnoga/denoiseprofile/internal/buffer"
	"github.com/mlnoga/denoiseprofile/internal/noise"
	"github.com/mlnoga/denoiseprofile/internal/ops"
	"github.com/mlnoga/denoiseprofile/internal/synth"
)

const testProfiles = `{"noiseprofiles": [
	{"name": "acme x100 iso 100", "maker": "Acme", "model": "X100", "iso": 100, "a": [1, 1, 1], "b": [0, 0, 0]},
	{"name": "acme x100 iso 400", "maker": "Acme", "model": "X100", "iso": 400, "a": [3, 3, 3], "b": [1, 1, 1]}
]}`

func noisyImage(t *testing.T) *buffer.Image {
	img, err := synth.NewPattern(synth.PatternDisc, 96, 64, [3]float32{2000, 1500, 1000})
	if err != nil {
		t.Fatal(err)
	}
	synth.AddNoise(img, [3]float32{1, 1, 1}, [3]float32{2, 2, 2}, 21)
	img.ID = 4
	return img
}

func TestUnmarshalWithDefaults(t *testing.T) {
	var op OpDenoiseProfile
	if err := json.Unmarshal([]byte(`{"type":"denoiseProfile","active":true,"strength":2,"mode":"wavelets"}`), &op); err != nil {
		t.Fatal(err)
	}
	if op.Strength != 2 || op.Mode != ModeWavelets || op.Radius != 1 || op.Scale != 1 || op.WhiteBalance != [3]float32{1, 1, 1} ||
		op.Backend != BackendCPU || op.Exp != "poly" {
		t.Errorf("defaults not applied: %+v", op)
	}
	if op.OpUnaryBase.Apply == nil || op.profiles == nil {
		t.Errorf("operator not initialized")
	}

	raw := []byte(`{"type":"forEach","active":true,"operation":{"type":"denoiseProfile","active":true,"radius":2}}`)
	generic, err := ops.UnmarshalOperator(raw)
	if err != nil {
		t.Fatal(err)
	}
	inner, ok := generic.(*ops.OpForEach).Operation.(*OpDenoiseProfile)
	if !ok || inner.Radius != 2 || inner.Strength != 1 {
		t.Errorf("embedded operator %#v", generic.(*ops.OpForEach).Operation)
	}
}

func TestNoiseModelResolution(t *testing.T) {
	img := noisyImage(t)
	c := ops.NewContext(ioutil.Discard)

	op := NewOpDenoiseProfileDefault()
	if m, source, err := op.NoiseModel(img, c); err != nil || source != "generic" || m != noise.Generic {
		t.Errorf("generic: %v %s %v", m, source, err)
	}

	op.FitModel = true
	gradient, err := synth.NewPattern(synth.PatternGradient, 256, 128, [3]float32{2000, 2000, 2000})
	if err != nil {
		t.Fatal(err)
	}
	synth.AddNoise(gradient, [3]float32{1, 1, 1}, [3]float32{2, 2, 2}, 5)
	m, source, err := op.NoiseModel(gradient, c)
	if err != nil || source != "fitted" {
		t.Fatalf("fit: %s %v", source, err)
	}
	if m.A[1] < 0.5 || m.A[1] > 2 {
		t.Errorf("fitted gain %g, want about 1", m.A[1])
	}

	fileName := filepath.Join(t.TempDir(), "profiles.json")
	if err := ioutil.WriteFile(fileName, []byte(testProfiles), 0644); err != nil {
		t.Fatal(err)
	}
	op.ProfilesFile, op.Maker, op.Model, op.ISO = fileName, "acme", "x100", 200
	m, source, err = op.NoiseModel(img, c)
	if err != nil || !strings.Contains(source, "ISO 200 profile") {
		t.Fatalf("profile: %s %v", source, err)
	}
	if want := float32(1 + 2.0/3.0); m.A[0] < want-1e-5 || m.A[0] > want+1e-5 {
		t.Errorf("interpolated gain %g; want %g", m.A[0], want)
	}

	restricted := ops.NewContext(ioutil.Discard)
	restricted.RestrictPaths = true
	for _, profilesFile := range []string{fileName, "../profiles.json"} {
		fresh := NewOpDenoiseProfileDefault()
		fresh.ProfilesFile, fresh.Maker, fresh.Model, fresh.ISO = profilesFile, "acme", "x100", 200
		if _, _, err := fresh.NoiseModel(img, restricted); err == nil || !strings.Contains(err.Error(), "outside current directory tree") {
			t.Errorf("restricted profiles file %s: got %v", profilesFile, err)
		}
		if fresh.profiles.db != nil || fresh.profiles.err != nil {
			t.Errorf("restricted profiles file %s was read", profilesFile)
		}
	}

	op.A, op.B = [3]float32{5, 6, 7}, [3]float32{1, 1, 1}
	if m, source, err := op.NoiseModel(img, c); err != nil || source != "explicit" || m.A[2] != 7 {
		t.Errorf("explicit: %v %s %v", m, source, err)
	}
	op.A = [3]float32{-1, 1, 1}
	if _, _, err := op.NoiseModel(img, c); err == nil {
		t.Errorf("invalid explicit model accepted")
	}
}

func TestApplyReducesNoise(t *testing.T) {
	tcs := []struct {
		name   string
		modify func(op *OpDenoiseProfile)
	}{
		{"nlmeans cpu", func(op *OpDenoiseProfile) {}},
		{"nlmeans kernel tiled", func(op *OpDenoiseProfile) { op.Backend, op.TileSize = BackendKernel, 40 }},
		{"wavelets", func(op *OpDenoiseProfile) { op.Mode = ModeWavelets }},
	}
	for _, tc := range tcs {
		img := noisyImage(t)
		log := bytes.Buffer{}
		c := ops.NewContext(&log)
		op := NewOpDenoiseProfileDefault()
		op.A, op.B = [3]float32{1, 1, 1}, [3]float32{2, 2, 2}
		tc.modify(op)

		out, err := op.Apply(img, c)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if out == img || out.ID != img.ID || !out.SameShape(img) {
			t.Errorf("%s: unexpected output image", tc.name)
		}
		before, after := noise.EstimateNoise(img.Channel(1), img.Width), noise.EstimateNoise(out.Channel(1), out.Width)
		if after > 0.7*before {
			t.Errorf("%s: noise %g not reduced enough from %g\n%s", tc.name, after, before, log.String())
		}
	}
}

func TestApplyRejectsUnknownSettings(t *testing.T) {
	img := noisyImage(t)
	c := ops.NewContext(ioutil.Discard)
	for _, modify := range []func(op *OpDenoiseProfile){
		func(op *OpDenoiseProfile) { op.Mode = "bilateral" },
		func(op *OpDenoiseProfile) { op.Backend = "quantum" },
		func(op *OpDenoiseProfile) { op.IScale = 0 },
		func(op *OpDenoiseProfile) { op.ProfilesFile = "does/not/exist.json" },
	} {
		op := NewOpDenoiseProfileDefault()
		modify(op)
		if _, err := op.Apply(img, c); err == nil {
			t.Errorf("settings %+v accepted", op)
		}
	}
}

func TestOpStats(t *testing.T) {
	img := noisyImage(t)
	img.FileName = "x.fits"
	log := bytes.Buffer{}
	op := NewOpStats(1000, true)
	res, err := op.Apply(img, ops.NewContext(&log))
	if err != nil || res != img {
		t.Fatalf("%v %v", res, err)
	}
	lines := strings.Split(strings.TrimSpace(log.String()), "\n")
	if len(lines) != 4 || !strings.HasPrefix(lines[0], "ID,File,Channel,Min") || !strings.HasPrefix(lines[2], "4,x.fits,green,") {
		t.Errorf("unexpected CSV output:\n%s", log.String())
	}
}
