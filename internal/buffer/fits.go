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
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// FITS header data. Only the keys needed to interpret the data unit are kept typed,
// everything else is retained as strings for logging
type Header struct {
	Bools    map[string]bool
	Ints     map[string]int64
	Floats   map[string]float64
	Strings  map[string]string
	Comments []string
	History  []string
	End      bool
	Length   int
}

// Creates a FITS header initialized with empty maps and arrays
func NewHeader() Header {
	return Header{
		Bools:    make(map[string]bool),
		Ints:     make(map[string]int64),
		Floats:   make(map[string]float64),
		Strings:  make(map[string]string),
		Comments: make([]string, 0),
		History:  make([]string, 0),
	}
}

const fitsBlockSize int = 2880 // Block size of FITS header and data units
const headerLineSize int = 80  // Line size of a FITS header
const bufLen int = 16 * 1024   // Buffer length for reading and writing data units

var reParser *regexp.Regexp = compileRE() // Regexp parser for FITS header lines

// Build regexp parser for FITS header lines
func compileRE() *regexp.Regexp {
	white := "\\s+"
	whiteOpt := "\\s*"

	histLine := "HISTORY" + white + "(?P<H>.*)"
	commLine := "COMMENT" + white + "(?P<C>.*)"
	endLine := "(?P<E>END)" + whiteOpt

	key := "(?P<k>[A-Z0-9_-]+)"
	boo := "(?P<b>[TF])"
	inte := "(?P<i>[+-]?[0-9]+)"
	floa := "(?P<f>[+-]?[0-9]*\\.[0-9]*(?:[ED][-+]?[0-9]+)?)"
	stri := "'(?P<s>[^']*)'"
	val := "(?:" + boo + "|" + inte + "|" + floa + "|" + stri + ")"
	commOpt := "(?:/(?P<c>.*))?"
	keyLine := key + whiteOpt + "=" + whiteOpt + val + whiteOpt + commOpt

	return regexp.MustCompile("^(?:" + white + "|" + histLine + "|" + commLine + "|" + keyLine + "|" + endLine + ")$")
}

func (h *Header) read(r io.Reader, id int, logWriter io.Writer) error {
	buf := make([]byte, fitsBlockSize)
	subNames := reParser.SubexpNames()

	for h.Length = 0; !h.End; {
		if _, err := io.ReadFull(r, buf); err != nil {
			return errors.New(fmt.Sprintf("%d: reading FITS header: %s", id, err.Error()))
		}
		h.Length += fitsBlockSize

		for lineNo := 0; lineNo < fitsBlockSize/headerLineSize && !h.End; lineNo++ {
			line := buf[lineNo*headerLineSize : (lineNo+1)*headerLineSize]
			subValues := reParser.FindSubmatch(line)
			if subValues == nil {
				fmt.Fprintf(logWriter, "%d: Warning: cannot parse FITS header line '%s', ignoring\n", id, string(line))
				continue
			}
			h.readLine(subNames, subValues)
		}
	}
	return nil
}

func (h *Header) readLine(subNames []string, subValues [][]byte) {
	key := ""
	for i := 1; i < len(subNames); i++ {
		if subValues[i] == nil || len(subNames[i]) != 1 {
			continue
		}
		v := string(subValues[i])
		switch subNames[i][0] {
		case 'E':
			h.End = true
		case 'H':
			h.History = append(h.History, v)
		case 'C':
			h.Comments = append(h.Comments, v)
		case 'k':
			key = v
		case 'b':
			h.Bools[key] = v == "T"
		case 'i':
			if val, err := strconv.ParseInt(v, 10, 64); err == nil {
				h.Ints[key] = val
			}
		case 'f':
			if val, err := strconv.ParseFloat(strings.Replace(v, "D", "E", 1), 64); err == nil {
				h.Floats[key] = val
			}
		case 's':
			h.Strings[key] = strings.TrimRight(v, " ")
		}
	}
}

// Returns the integer value for the given key, or an error if missing
func (h *Header) Int(key string) (int64, error) {
	if v, ok := h.Ints[key]; ok {
		return v, nil
	}
	return 0, errors.New(fmt.Sprintf("FITS header does not contain key %s", key))
}

// Returns the numeric value for the given key, or the default if missing
func (h *Header) Number(key string, def float64) float64 {
	if v, ok := h.Ints[key]; ok {
		return float64(v)
	} else if v, ok := h.Floats[key]; ok {
		return v
	}
	return def
}

// Reads a FITS primary data unit into the image. Mono images are replicated into
// all color channels, 3D images with 3 or 4 planes are read as planar RGB(A).
// Alpha is 1 unless given.
func (img *Image) ReadFITS(r io.Reader, logWriter io.Writer) error {
	h := NewHeader()
	if err := h.read(r, img.ID, logWriter); err != nil {
		return err
	}
	if !h.Bools["SIMPLE"] {
		return errors.New(fmt.Sprintf("%d: not a valid FITS file; SIMPLE=T missing in header", img.ID))
	}
	bitpix, err := h.Int("BITPIX")
	if err != nil {
		return err
	}
	naxis, err := h.Int("NAXIS")
	if err != nil {
		return err
	}
	if naxis < 2 || naxis > 3 {
		return errors.New(fmt.Sprintf("%d: unsupported NAXIS=%d", img.ID, naxis))
	}
	naxisn := make([]int, naxis)
	for i := range naxisn {
		n, err := h.Int("NAXIS" + strconv.Itoa(i+1))
		if err != nil {
			return err
		}
		naxisn[i] = int(n)
	}
	planes := 1
	if naxis == 3 {
		planes = naxisn[2]
		if planes != 1 && planes != 3 && planes != 4 {
			return errors.New(fmt.Sprintf("%d: unsupported NAXIS3=%d", img.ID, planes))
		}
	}
	bzero := float32(h.Number("BZERO", 0))
	bscale := float32(h.Number("BSCALE", 1))
	img.Exposure = float32(h.Number("EXPOSURE", h.Number("EXPTIME", 0)))

	dec, bytesPerValue, err := decoderForBitpix(bitpix)
	if err != nil {
		return errors.New(fmt.Sprintf("%d: %s", img.ID, err.Error()))
	}
	if bitpix == 32 || bitpix == 64 || bitpix == -64 {
		fmt.Fprintf(logWriter, "%d: Warning: loss of precision converting BITPIX=%d to float32 values\n", img.ID, bitpix)
	}

	img.Width, img.Height = naxisn[0], naxisn[1]
	pixels := img.Width * img.Height
	planar := make([]float32, pixels*planes)
	if err := readValues(r, planar, bytesPerValue, dec, bzero, bscale); err != nil {
		return errors.New(fmt.Sprintf("%d: reading FITS data: %s", img.ID, err.Error()))
	}

	img.Data = make([]float32, pixels*Channels)
	for p := 0; p < pixels; p++ {
		d := img.Data[p*Channels : (p+1)*Channels]
		if planes == 1 {
			v := planar[p]
			d[0], d[1], d[2], d[3] = v, v, v, 1
		} else {
			d[0], d[1], d[2], d[3] = planar[p], planar[p+pixels], planar[p+2*pixels], 1
			if planes == 4 {
				d[3] = planar[p+3*pixels]
			}
		}
	}
	return nil
}

// Decodes one big-endian value
type decoder func(b []byte) float32

// Returns the value decoder and its width in bytes for the given FITS BITPIX
func decoderForBitpix(bitpix int64) (decoder, int, error) {
	switch bitpix {
	case 8:
		return func(b []byte) float32 { return float32(b[0]) }, 1, nil
	case 16:
		return func(b []byte) float32 { return float32(int16(uint16(b[0])<<8 | uint16(b[1]))) }, 2, nil
	case 32:
		return func(b []byte) float32 { return float32(int32(be32(b))) }, 4, nil
	case 64:
		return func(b []byte) float32 { return float32(int64(be64(b))) }, 8, nil
	case -32:
		return func(b []byte) float32 { return math.Float32frombits(be32(b)) }, 4, nil
	case -64:
		return func(b []byte) float32 { return float32(math.Float64frombits(be64(b))) }, 8, nil
	default:
		return nil, 0, errors.New(fmt.Sprintf("unknown BITPIX value %d", bitpix))
	}
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func be64(b []byte) uint64 {
	return uint64(be32(b))<<32 | uint64(be32(b[4:]))
}

// Batched read of big-endian values, applying bzero and bscale
func readValues(r io.Reader, data []float32, bytesPerValue int, dec decoder, bzero, bscale float32) error {
	buf := make([]byte, bufLen)
	valuesPerBuf := bufLen / bytesPerValue
	for index := 0; index < len(data); index += valuesPerBuf {
		n := len(data) - index
		if n > valuesPerBuf {
			n = valuesPerBuf
		}
		if _, err := io.ReadFull(r, buf[:n*bytesPerValue]); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			data[index+i] = dec(buf[i*bytesPerValue:])*bscale + bzero
		}
	}
	return nil
}

// Writes the image as a FITS file with BITPIX=-32 and three planar color channels.
// NaNs are replaced with zeros for compatibility with other software
func (img *Image) WriteFITS(w io.Writer) error {
	sb := strings.Builder{}
	writeBool(&sb, "SIMPLE", true, "FITS standard 4.0")
	writeInt(&sb, "BITPIX", -32, "32-bit floating point")
	writeInt(&sb, "NAXIS", 3, "[1] Number of axis")
	writeInt(&sb, "NAXIS1", int64(img.Width), "[1] Axis size")
	writeInt(&sb, "NAXIS2", int64(img.Height), "[1] Axis size")
	writeInt(&sb, "NAXIS3", 3, "[1] Axis size")
	writeFloat(&sb, "BZERO", 0, "[1] Zero offset")
	if img.Exposure != 0 {
		writeFloat(&sb, "EXPOSURE", float64(img.Exposure), "[s] Exposure time")
	}
	writeEnd(&sb)
	if rem := sb.Len() % fitsBlockSize; rem > 0 {
		sb.WriteString(strings.Repeat(" ", fitsBlockSize-rem))
	}
	if _, err := io.WriteString(w, sb.String()); err != nil {
		return err
	}

	pixels := img.Pixels()
	for c := 0; c < 3; c++ {
		if err := writeFloat32Plane(w, img.Data, c, pixels); err != nil {
			return err
		}
	}

	// pad data unit to full block
	if rem := (pixels * 3 * 4) % fitsBlockSize; rem > 0 {
		if _, err := w.Write(make([]byte, fitsBlockSize-rem)); err != nil {
			return err
		}
	}
	return nil
}

// Writes a FITS header boolean value
func writeBool(w io.Writer, key string, value bool, comment string) {
	v := "F"
	if value {
		v = "T"
	}
	fmt.Fprintf(w, "%-8.8s= %20s / %-47.47s", key, v, comment)
}

// Writes a FITS header integer value
func writeInt(w io.Writer, key string, value int64, comment string) {
	fmt.Fprintf(w, "%-8.8s= %20d / %-47.47s", key, value, comment)
}

// Writes a FITS header float value
func writeFloat(w io.Writer, key string, value float64, comment string) {
	fmt.Fprintf(w, "%-8.8s= %20.10E / %-47.47s", key, value, comment)
}

// Writes a FITS header end record
func writeEnd(w io.Writer) {
	fmt.Fprintf(w, "END%s", strings.Repeat(" ", headerLineSize-3))
}

// Writes one channel of interleaved data as a big-endian float32 plane
func writeFloat32Plane(w io.Writer, data []float32, channel, pixels int) error {
	buf := make([]byte, bufLen)
	valuesPerBuf := bufLen >> 2
	for block := 0; block < pixels; block += valuesPerBuf {
		size := pixels - block
		if size > valuesPerBuf {
			size = valuesPerBuf
		}
		for offset := 0; offset < size; offset++ {
			d := data[(block+offset)*Channels+channel]
			if math.IsNaN(float64(d)) {
				d = 0
			}
			val := math.Float32bits(d)
			buf[(offset<<2)+0] = byte(val >> 24)
			buf[(offset<<2)+1] = byte(val >> 16)
			buf[(offset<<2)+2] = byte(val >> 8)
			buf[(offset<<2)+3] = byte(val)
		}
		if _, err := w.Write(buf[:size<<2]); err != nil {
			return err
		}
	}
	return nil
}
