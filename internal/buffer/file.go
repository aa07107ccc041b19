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
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Supported file formats
type Format int

const (
	FormatUnknown Format = iota
	FormatFITS
	FormatTIFF
	FormatJPEG
)

// Returns the file format and whether the file is gzip compressed, based on the suffix
func FormatFromFileName(fileName string) (format Format, gzipped bool) {
	fnLower := strings.ToLower(fileName)
	if strings.HasSuffix(fnLower, ".gz") || strings.HasSuffix(fnLower, ".gzip") {
		gzipped = true
		fnLower = fnLower[:strings.LastIndex(fnLower, ".")]
	}
	switch {
	case strings.HasSuffix(fnLower, ".fits"), strings.HasSuffix(fnLower, ".fit"), strings.HasSuffix(fnLower, ".fts"):
		return FormatFITS, gzipped
	case strings.HasSuffix(fnLower, ".tiff"), strings.HasSuffix(fnLower, ".tif"):
		return FormatTIFF, gzipped
	case strings.HasSuffix(fnLower, ".jpeg"), strings.HasSuffix(fnLower, ".jpg"):
		return FormatJPEG, gzipped
	}
	return FormatUnknown, gzipped
}

// Reads an image from a FITS or TIFF file with the given name. Decompresses gzip if .gz or .gzip suffix is present.
func NewImageFromFile(fileName string, id int, logWriter io.Writer) (*Image, error) {
	format, gzipped := FormatFromFileName(fileName)
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if gzipped {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}

	img := &Image{ID: id, FileName: fileName}
	switch format {
	case FormatFITS:
		err = img.ReadFITS(r, logWriter)
	case FormatTIFF:
		err = img.ReadTIFF(r)
	default:
		err = errors.New(fmt.Sprintf("%d: unsupported input file format for %s", id, fileName))
	}
	if err != nil {
		return nil, err
	}
	return img, nil
}

// Writes the image to a file with the given name, choosing the format by suffix.
// Display range min..max is used for TIFF and JPEG; FITS keeps linear values.
func (img *Image) WriteFile(fileName string, min, max float32) error {
	format, gzipped := FormatFromFileName(fileName)
	if gzipped && format != FormatFITS {
		return errors.New(fmt.Sprintf("%d: gzip compression only supported for FITS, not %s", img.ID, fileName))
	}
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer f.Close()

	writer := bufio.NewWriter(f)
	var w io.Writer = writer
	var gz *gzip.Writer
	if gzipped {
		gz = gzip.NewWriter(writer)
		w = gz
	}

	switch format {
	case FormatFITS:
		err = img.WriteFITS(w)
	case FormatTIFF:
		err = img.WriteTIFF16(w, min, max, 1)
	case FormatJPEG:
		err = img.WriteJPEG(w, min, max, 95)
	default:
		err = errors.New(fmt.Sprintf("%d: unknown suffix for output file %s", img.ID, fileName))
	}
	if err != nil {
		return err
	}
	if gz != nil {
		if err = gz.Close(); err != nil {
			return err
		}
	}
	return writer.Flush()
}
