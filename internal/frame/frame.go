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
	"fmt"
	"strings"
	"github.com/astrokit/ccdstack/internal/stats"
)

// A CCD frame held in memory as 32-bit floating point samples.
// Metadata like exposure and gain is carried through processing untouched;
// the combiner does not interpret it.
type Image struct {
	ID       int         // Sequential ID number, for log output. Counted upwards from 0 for light frames. By convention, bias is -1 and dark is -2
	FileName string      // Original file name, if any, for log output

	Naxisn   []int32     // Axis dimensions. Most quickly varying dimension first (i.e. X,Y)
	Pixels   int32       // Number of pixels in the image. Product of Naxisn[]

	Data     []float32   // The image data

	Exposure float32     // Exposure time in seconds
	Gain     float32     // Camera gain in e-/ADU, zero if unknown
	CCDTemp  float32     // Sensor temperature in degrees Celsius, zero if unknown

	Stats    *stats.Stats // Basic and robust image statistics
}

// Creates an image from given axis dimensions. Data is not copied,
// allocated if nil. naxisn is deep copied
func NewImageFromNaxisn(naxisn []int32, data []float32) *Image {
	numPixels:=int32(1)
	for _,naxis:=range(naxisn) {
		numPixels*=naxis
	}
	if data==nil {
		data=make([]float32, numPixels)
	}
	return &Image{
		ID:       0,
		FileName: "",
		Naxisn:   append([]int32(nil), naxisn...), // clone slice
		Pixels:   numPixels,
		Data:     data,
		Stats:    stats.NewStats(data, naxisn[0]),
	}
}

// Creates an image with the same dimensions and metadata as the given one.
// A new data array is allocated
func NewImageFromImage(img *Image) *Image {
	data:=make([]float32, img.Pixels)
	return &Image{
		ID:       img.ID,
		FileName: img.FileName,
		Naxisn:   append([]int32(nil), img.Naxisn...), // clone slice
		Pixels:   img.Pixels,
		Data:     data,
		Exposure: img.Exposure,
		Gain:     img.Gain,
		CCDTemp:  img.CCDTemp,
		Stats:    stats.NewStats(data, img.Naxisn[0]),
	}
}

func (f *Image) DimensionsToString() string {
	b:=strings.Builder{}
	for i,naxis:=range(f.Naxisn) {
		if i>0 {
			fmt.Fprintf(&b, "x%d", naxis)
		} else {
			fmt.Fprintf(&b, "%d", naxis)
		}
	}
	return b.String()
}

// Applies x=x*scale+offset to all samples and invalidates cached statistics
func (f *Image) ApplyScaleOffset(scale, offset float32) {
	for i,d:=range f.Data {
		f.Data[i]=d*scale+offset
	}
	f.Stats.Clear()
}

// Equal tells whether a and b contain the same elements.
// A nil argument is equivalent to an empty slice.
func EqualInt32Slice(a, b []int32) bool {
	if len(a)!=len(b) { return false }
	for i,v:=range a {
		if v!=b[i] { return false }
	}
	return true
}
