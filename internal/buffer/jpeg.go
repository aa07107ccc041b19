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
	"image/jpeg"
	"io"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Writes a JPEG preview. Linear-light values in [min,max] are mapped to [0,1] and
// companded to sRGB.
func (img *Image) WriteJPEG(writer io.Writer, min, max float32, quality int) error {
	rgba := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	scale := 1 / (max - min)
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			o := img.Offset(x, y, 0)
			r := normalize(img.Data[o+0], min, scale, 1)
			g := normalize(img.Data[o+1], min, scale, 1)
			b := normalize(img.Data[o+2], min, scale, 1)
			r8, g8, b8 := colorful.LinearRgb(float64(r), float64(g), float64(b)).Clamped().RGB255()
			rgba.SetRGBA(x, y, color.RGBA{r8, g8, b8, 255})
		}
	}
	return jpeg.Encode(writer, rgba, &jpeg.Options{Quality: quality})
}
