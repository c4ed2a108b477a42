// Copyright (C) 2021 The ccdstack authors
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


package frame

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"github.com/astrogo/fitsio"
	"github.com/astrokit/ccdstack/internal/stats"
)

// Creates an image by reading the FITS file with the given name
func NewImageFromFile(fileName string, id int, logWriter io.Writer) (img *Image, err error) {
	img=&Image{ID: id}
	return img, img.ReadFile(fileName)
}

// Read FITS data from the file with the given name.
// Decompresses gzip if .gz or .gzip suffix is present
func (f *Image) ReadFile(fileName string) error {
	file, err:=os.Open(fileName)
	if err!=nil { return err }
	defer file.Close()

	f.FileName=fileName

	var r io.Reader=file
	lExt:=strings.ToLower(path.Ext(fileName))
	if lExt==".gz" || lExt==".gzip" {
		r, err=gzip.NewReader(file)
		if err!=nil { return err }
	}
	return f.Read(r)
}

// Read FITS data from the given reader into the image
func (f *Image) Read(r io.Reader) error {
	fits, err:=fitsio.Open(r)
	if err!=nil { return err }
	defer fits.Close()

	hdu:=fits.HDU(0)
	img, ok:=hdu.(fitsio.Image)
	if !ok { return fmt.Errorf("%d: primary HDU of %s is not an image", f.ID, f.FileName) }
	hdr:=img.Header()

	axes:=hdr.Axes()
	if len(axes)<2 {
		return fmt.Errorf("%d: unsupported number of axes %d in %s", f.ID, len(axes), f.FileName)
	}
	f.Naxisn=make([]int32, len(axes))
	f.Pixels=int32(1)
	for i, axis:=range axes {
		f.Naxisn[i]=int32(axis)
		f.Pixels*=int32(axis)
	}

	f.Data, err=readData(img, hdr.Bitpix(), int(f.Pixels))
	if err!=nil { return fmt.Errorf("%d: reading %s: %s", f.ID, f.FileName, err.Error()) }

	// scale samples as per the header. True value is bzero + bscale * raw
	bzero, bscale:=headerFloat(hdr, 0, "BZERO"), headerFloat(hdr, 1, "BSCALE")
	if bzero!=0 || bscale!=1 {
		for i,d:=range f.Data { f.Data[i]=bzero + bscale*d }
	}

	f.Exposure=headerFloat(hdr, 0, "EXPTIME", "EXPOSURE")
	f.Gain    =headerFloat(hdr, 0, "GAIN", "EGAIN")
	f.CCDTemp =headerFloat(hdr, 0, "CCD-TEMP", "CCDTEMP")

	f.Stats=stats.NewStats(f.Data, f.Naxisn[0])
	return nil
}

// Reads the raw data samples of the given bits-per-pixel type and converts
// them to float32
func readData(img fitsio.Image, bitpix, pixels int) (data []float32, err error) {
	data=make([]float32, pixels)
	switch bitpix {
	case 8:
		raw:=make([]int8, pixels)
		if err=img.Read(&raw); err!=nil { return nil, err }
		for i,r:=range raw { data[i]=float32(r) }
	case 16:
		raw:=make([]int16, pixels)
		if err=img.Read(&raw); err!=nil { return nil, err }
		for i,r:=range raw { data[i]=float32(r) }
	case 32:
		raw:=make([]int32, pixels)
		if err=img.Read(&raw); err!=nil { return nil, err }
		for i,r:=range raw { data[i]=float32(r) }
	case 64:
		raw:=make([]int64, pixels)
		if err=img.Read(&raw); err!=nil { return nil, err }
		for i,r:=range raw { data[i]=float32(r) }
	case -32:
		if err=img.Read(&data); err!=nil { return nil, err }
	case -64:
		raw:=make([]float64, pixels)
		if err=img.Read(&raw); err!=nil { return nil, err }
		for i,r:=range raw { data[i]=float32(r) }
	default:
		return nil, fmt.Errorf("unsupported bitpix %d", bitpix)
	}
	return data, nil
}

// Returns the value of the first present header key as float32, or the
// given default if none is present or convertible
func headerFloat(hdr *fitsio.Header, def float32, keys ...string) float32 {
	for _,key:=range keys {
		card:=hdr.Get(key)
		if card==nil { continue }
		switch v:=card.Value.(type) {
		case float64: return float32(v)
		case float32: return v
		case int:     return float32(v)
		case int64:   return float32(v)
		}
	}
	return def
}
