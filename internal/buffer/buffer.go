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
	"errors"
	"fmt"
	"math"
)

// Number of interleaved channels per pixel: red, green, blue and alpha
const Channels = 4

// A dense 2D grid of 4-channel float32 pixels, stored row-major with interleaved channels.
// The fourth channel is alpha on input and output, and accumulated weight while filtering.
type Image struct {
	ID       int    // Sequential ID number, for log output
	FileName string // Original file name, if any, for log output

	Width  int       // Width in pixels
	Height int       // Height in pixels
	Data   []float32 // Pixel data, Width*Height*Channels values

	Exposure float32 // Exposure in seconds, if known
}

var ErrShapeMismatch = errors.New("image shape mismatch")

// Creates a new image of the given size. Data is not copied, allocated if nil
func New(width, height int, data []float32) *Image {
	if data == nil {
		data = make([]float32, width*height*Channels)
	}
	return &Image{
		Width:  width,
		Height: height,
		Data:   data,
	}
}

// Creates a new image with the same metadata and shape as the given one. Data is zeroed
func NewFromImage(img *Image) *Image {
	res := New(img.Width, img.Height, nil)
	res.ID, res.FileName, res.Exposure = img.ID, img.FileName, img.Exposure
	return res
}

// Number of pixels in the image
func (img *Image) Pixels() int {
	return img.Width * img.Height
}

// Checks the data length matches width and height
func (img *Image) Validate() error {
	if img.Width <= 0 || img.Height <= 0 {
		return errors.New(fmt.Sprintf("%d: invalid image dimensions %dx%d", img.ID, img.Width, img.Height))
	}
	if len(img.Data) != img.Width*img.Height*Channels {
		return errors.New(fmt.Sprintf("%d: image data length %d does not match %dx%dx%d",
			img.ID, len(img.Data), img.Width, img.Height, Channels))
	}
	return nil
}

// Returns true if both images have identical width and height
func (img *Image) SameShape(other *Image) bool {
	return img.Width == other.Width && img.Height == other.Height
}

func (img *Image) DimensionsToString() string {
	return fmt.Sprintf("%dx%dx%d", img.Width, img.Height, Channels)
}

// Offset of channel c of pixel (x,y) in the data array
func (img *Image) Offset(x, y, c int) int {
	return (y*img.Width+x)*Channels + c
}

// Returns channel c of pixel (x,y)
func (img *Image) At(x, y, c int) float32 {
	return img.Data[(y*img.Width+x)*Channels+c]
}

// Sets channel c of pixel (x,y)
func (img *Image) Set(x, y, c int, v float32) {
	img.Data[(y*img.Width+x)*Channels+c] = v
}

// Sets all channels of all pixels to the given values
func (img *Image) Fill(r, g, b, a float32) {
	for i := 0; i < len(img.Data); i += Channels {
		img.Data[i+0] = r
		img.Data[i+1] = g
		img.Data[i+2] = b
		img.Data[i+3] = a
	}
}

// Sets all values to zero
func (img *Image) Zero() {
	for i := range img.Data {
		img.Data[i] = 0
	}
}

// Returns a new image holding the rectangle with upper left corner (x0,y0) and
// the given size. The rectangle must lie within the image
func (img *Image) Crop(x0, y0, width, height int) (*Image, error) {
	if x0 < 0 || y0 < 0 || width <= 0 || height <= 0 || x0+width > img.Width || y0+height > img.Height {
		return nil, errors.New(fmt.Sprintf("%d: crop %dx%d at (%d,%d) exceeds image %dx%d",
			img.ID, width, height, x0, y0, img.Width, img.Height))
	}
	res := New(width, height, nil)
	res.ID, res.FileName, res.Exposure = img.ID, img.FileName, img.Exposure
	rowLen := width * Channels
	for y := 0; y < height; y++ {
		src := img.Offset(x0, y0+y, 0)
		copy(res.Data[y*rowLen:(y+1)*rowLen], img.Data[src:src+rowLen])
	}
	return res, nil
}

// Copies the rectangle (sx0,sy0,width,height) of src into this image at (dx0,dy0)
func (img *Image) Paste(src *Image, sx0, sy0, width, height, dx0, dy0 int) error {
	if sx0 < 0 || sy0 < 0 || sx0+width > src.Width || sy0+height > src.Height ||
		dx0 < 0 || dy0 < 0 || dx0+width > img.Width || dy0+height > img.Height {
		return errors.New(fmt.Sprintf("%d: paste %dx%d from (%d,%d) to (%d,%d) out of bounds",
			img.ID, width, height, sx0, sy0, dx0, dy0))
	}
	rowLen := width * Channels
	for y := 0; y < height; y++ {
		s := src.Offset(sx0, sy0+y, 0)
		d := img.Offset(dx0, dy0+y, 0)
		copy(img.Data[d:d+rowLen], src.Data[s:s+rowLen])
	}
	return nil
}

// Copies the alpha channel from src. Channels 0-2 are not touched
func (img *Image) CopyAlpha(src *Image) error {
	if !img.SameShape(src) {
		return ErrShapeMismatch
	}
	for i := 3; i < len(img.Data); i += Channels {
		img.Data[i] = src.Data[i]
	}
	return nil
}

// Returns the per-channel maximum of the color channels. NaNs are ignored
func (img *Image) MaxPerChannel() (max [3]float32) {
	for c := range max {
		max[c] = float32(-math.MaxFloat32)
	}
	for i := 0; i < len(img.Data); i += Channels {
		for c := 0; c < 3; c++ {
			if v := img.Data[i+c]; v > max[c] {
				max[c] = v
			}
		}
	}
	return max
}

// Returns a copy of channel c as a plain slice of Width*Height values
func (img *Image) Channel(c int) []float32 {
	res := make([]float32, img.Pixels())
	for i, j := c, 0; j < len(res); i, j = i+Channels, j+1 {
		res[j] = img.Data[i]
	}
	return res
}

// Sets channel c from a plain slice of Width*Height values
func (img *Image) SetChannel(c int, values []float32) {
	for i, j := c, 0; j < len(values); i, j = i+Channels, j+1 {
		img.Data[i] = values[j]
	}
}
