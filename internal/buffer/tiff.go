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
	"image"
	"image/color"
	"io"
	"math"

	"golang.org/x/image/tiff"
)

// Reads a color or grayscale TIFF image. Values are scaled to [0,1], alpha is taken
// from the image if present, else 1.
func (img *Image) ReadTIFF(r io.Reader) error {
	t, err := tiff.Decode(r)
	if err != nil {
		return err
	}

	bounds := t.Bounds()
	img.Width, img.Height = bounds.Dx(), bounds.Dy()
	img.Data = make([]float32, img.Width*img.Height*Channels)

	const scale = float32(1.0 / 65535.0)
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			// non-premultiplied so color values are independent of alpha
			c := color.NRGBA64Model.Convert(t.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA64)
			d := img.Data[img.Offset(x, y, 0):]
			d[0] = float32(c.R) * scale
			d[1] = float32(c.G) * scale
			d[2] = float32(c.B) * scale
			d[3] = float32(c.A) * scale
		}
	}
	return nil
}

// Writes the image to 16-bit TIFF, mapping [min,max] to the full range with the given gamma.
// Alpha is dropped.
func (img *Image) WriteTIFF16(writer io.Writer, min, max, gamma float32) error {
	rgba := image.NewRGBA64(image.Rect(0, 0, img.Width, img.Height))
	scale := 1 / (max - min)
	gammaInv := float64(1 / gamma)
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			o := img.Offset(x, y, 0)
			r := normalize(img.Data[o+0], min, scale, gammaInv)
			g := normalize(img.Data[o+1], min, scale, gammaInv)
			b := normalize(img.Data[o+2], min, scale, gammaInv)
			rgba.SetRGBA64(x, y, color.RGBA64{uint16(r * 65535), uint16(g * 65535), uint16(b * 65535), 65535})
		}
	}
	return tiff.Encode(writer, rgba, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}

// Maps v from [min,max] to [0,1] with clamping and optional gamma. NaNs map to zero
func normalize(v, min, scale float32, gammaInv float64) float32 {
	v = (v - min) * scale
	if math.IsNaN(float64(v)) || v < 0 {
		return 0
	}
	if v > 1 {
		v = 1
	}
	if gammaInv != 1.0 {
		v = float32(math.Pow(float64(v), gammaInv))
	}
	return v
}
