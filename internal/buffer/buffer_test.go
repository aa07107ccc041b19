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

package buffer

import (
	"bytes"
	"io/ioutil"
	"math"
	"path/filepath"
	"testing"
)

func newRamp(width, height int) *Image {
	img := New(width, height, nil)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			for c := 0; c < 3; c++ {
				img.Set(x, y, c, float32(x+10*y+100*c))
			}
			img.Set(x, y, 3, 1)
		}
	}
	return img
}

func TestCropAndPaste(t *testing.T) {
	img := newRamp(9, 7)
	crop, err := img.Crop(2, 3, 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	if crop.Width != 4 || crop.Height != 2 {
		t.Fatalf("crop is %s", crop.DimensionsToString())
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			if got, want := crop.At(x, y, 1), img.At(x+2, y+3, 1); got != want {
				t.Errorf("crop(%d,%d)=%g; want %g", x, y, got, want)
			}
		}
	}

	dst := New(9, 7, nil)
	if err := dst.Paste(crop, 0, 0, 4, 2, 2, 3); err != nil {
		t.Fatal(err)
	}
	if got, want := dst.At(5, 4, 2), img.At(5, 4, 2); got != want {
		t.Errorf("pasted value %g; want %g", got, want)
	}
	if dst.At(0, 0, 0) != 0 {
		t.Errorf("paste wrote outside target rectangle")
	}

	if _, err := img.Crop(6, 0, 4, 1); err == nil {
		t.Errorf("out of bounds crop did not fail")
	}
	if err := dst.Paste(crop, 0, 0, 4, 2, 7, 0); err == nil {
		t.Errorf("out of bounds paste did not fail")
	}
}

func TestCopyAlphaLeavesColorUntouched(t *testing.T) {
	src := New(3, 2, nil)
	src.Fill(1, 2, 3, 0.5)
	dst := New(3, 2, nil)
	dst.Fill(7, 8, 9, 0)
	if err := dst.CopyAlpha(src); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < len(dst.Data); i += Channels {
		if dst.Data[i] != 7 || dst.Data[i+1] != 8 || dst.Data[i+2] != 9 || dst.Data[i+3] != 0.5 {
			t.Errorf("pixel %d is %v", i/Channels, dst.Data[i:i+Channels])
		}
	}
	if err := dst.CopyAlpha(New(2, 2, nil)); err != ErrShapeMismatch {
		t.Errorf("got %v; want ErrShapeMismatch", err)
	}
}

func TestValidate(t *testing.T) {
	if err := newRamp(3, 3).Validate(); err != nil {
		t.Errorf("valid image rejected: %v", err)
	}
	if err := New(3, 3, make([]float32, 5)).Validate(); err == nil {
		t.Errorf("short data accepted")
	}
	if err := New(0, 3, []float32{}).Validate(); err == nil {
		t.Errorf("zero width accepted")
	}
}

func TestChannelRoundTrip(t *testing.T) {
	img := newRamp(4, 3)
	g := img.Channel(1)
	if len(g) != 12 || g[5] != img.At(1, 1, 1) {
		t.Fatalf("channel extraction wrong: %v", g)
	}
	for i := range g {
		g[i] = -g[i]
	}
	img.SetChannel(1, g)
	if img.At(3, 2, 1) != -float32(3+20+100) || img.At(3, 2, 0) != float32(3+20) {
		t.Errorf("SetChannel wrote wrong values")
	}
}

func TestMaxPerChannel(t *testing.T) {
	img := newRamp(5, 4)
	max := img.MaxPerChannel()
	want := [3]float32{34, 134, 234}
	if max != want {
		t.Errorf("MaxPerChannel=%v; want %v", max, want)
	}
}

func TestFITSRoundTrip(t *testing.T) {
	img := newRamp(13, 11)
	img.Set(3, 4, 2, float32(math.NaN()))
	img.Exposure = 30
	buf := bytes.Buffer{}
	if err := img.WriteFITS(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.Len()%fitsBlockSize != 0 {
		t.Errorf("FITS length %d is not a multiple of the block size", buf.Len())
	}

	log := bytes.Buffer{}
	res := &Image{}
	if err := res.ReadFITS(&buf, &log); err != nil {
		t.Fatalf("%v; log %s", err, log.String())
	}
	if log.Len() != 0 {
		t.Errorf("unexpected log output: %s", log.String())
	}
	if !res.SameShape(img) || res.Exposure != 30 {
		t.Fatalf("read %s exposure %g", res.DimensionsToString(), res.Exposure)
	}
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			for c := 0; c < 4; c++ {
				want := img.At(x, y, c)
				if math.IsNaN(float64(want)) {
					want = 0
				}
				if got := res.At(x, y, c); got != want {
					t.Errorf("(%d,%d,%d)=%g; want %g", x, y, c, got, want)
				}
			}
		}
	}
}

func TestFITSRejectsGarbage(t *testing.T) {
	res := &Image{}
	if err := res.ReadFITS(bytes.NewReader(make([]byte, 100)), ioutil.Discard); err == nil {
		t.Errorf("short input accepted")
	}
}

func TestDecoders(t *testing.T) {
	tcs := []struct {
		bitpix int64
		bytes  []byte
		want   float32
	}{
		{8, []byte{200}, 200},
		{16, []byte{0xff, 0xfe}, -2},
		{32, []byte{0, 1, 0, 0}, 65536},
		{64, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, -1},
		{-32, []byte{0x3f, 0xc0, 0, 0}, 1.5},
		{-64, []byte{0x40, 0x04, 0, 0, 0, 0, 0, 0}, 2.5},
	}
	for _, tc := range tcs {
		dec, n, err := decoderForBitpix(tc.bitpix)
		if err != nil {
			t.Fatal(err)
		}
		if n != len(tc.bytes) {
			t.Errorf("BITPIX %d: width %d; want %d", tc.bitpix, n, len(tc.bytes))
		}
		if got := dec(tc.bytes); got != tc.want {
			t.Errorf("BITPIX %d: got %g; want %g", tc.bitpix, got, tc.want)
		}
	}
	if _, _, err := decoderForBitpix(12); err == nil {
		t.Errorf("BITPIX 12 accepted")
	}
}

func TestTIFFRoundTrip(t *testing.T) {
	img := New(6, 5, nil)
	for i := 0; i < img.Pixels(); i++ {
		img.Data[i*Channels+0] = float32(i) / 30
		img.Data[i*Channels+1] = 1 - float32(i)/30
		img.Data[i*Channels+2] = 0.5
		img.Data[i*Channels+3] = 1
	}
	buf := bytes.Buffer{}
	if err := img.WriteTIFF16(&buf, 0, 1, 1); err != nil {
		t.Fatal(err)
	}
	res := &Image{}
	if err := res.ReadTIFF(&buf); err != nil {
		t.Fatal(err)
	}
	if !res.SameShape(img) {
		t.Fatalf("read %s", res.DimensionsToString())
	}
	for i, v := range img.Data {
		if d := math.Abs(float64(res.Data[i] - v)); d > 2.0/65535 {
			t.Errorf("value %d: got %g want %g", i, res.Data[i], v)
		}
	}
}

func TestWriteFileAndReadBack(t *testing.T) {
	dir := t.TempDir()
	img := newRamp(8, 8)
	for _, name := range []string{"a.fits", "b.fits.gz", "c.tif", "d.jpg"} {
		fileName := filepath.Join(dir, name)
		if err := img.WriteFile(fileName, 0, 300); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		format, _ := FormatFromFileName(fileName)
		if format == FormatJPEG {
			continue
		}
		res, err := NewImageFromFile(fileName, 7, ioutil.Discard)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if res.ID != 7 || !res.SameShape(img) {
			t.Errorf("%s: read id %d shape %s", name, res.ID, res.DimensionsToString())
		}
	}
	if err := img.WriteFile(filepath.Join(dir, "e.png"), 0, 1); err == nil {
		t.Errorf("unknown suffix accepted")
	}
}

func TestFormatFromFileName(t *testing.T) {
	tcs := []struct {
		name    string
		format  Format
		gzipped bool
	}{
		{"x.FITS", FormatFITS, false},
		{"x.fit.gz", FormatFITS, true},
		{"x.fts.gzip", FormatFITS, true},
		{"x.tiff", FormatTIFF, false},
		{"x.JPG", FormatJPEG, false},
		{"x.png", FormatUnknown, false},
	}
	for _, tc := range tcs {
		f, gz := FormatFromFileName(tc.name)
		if f != tc.format || gz != tc.gzipped {
			t.Errorf("%s: got %v %v; want %v %v", tc.name, f, gz, tc.format, tc.gzipped)
		}
	}
}
