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
	"bufio"
	"compress/gzip"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os"
	"path"
	"strings"
	"github.com/astrogo/fitsio"
	colorful "github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/tiff"
)

// Write the image as 32-bit floating point FITS to the file with the given
// name. Compresses with gzip if .gz or .gzip suffix is present
func (f *Image) WriteFile(fileName string) error {
	file, err:=os.Create(fileName)
	if err!=nil { return err }
	defer file.Close()

	var w io.Writer=file
	lExt:=strings.ToLower(path.Ext(fileName))
	if lExt==".gz" || lExt==".gzip" {
		gz:=gzip.NewWriter(file)
		defer gz.Close()
		w=gz
	}
	return f.Write(w)
}

// Write the image as 32-bit floating point FITS to the given writer
func (f *Image) Write(w io.Writer) error {
	fits, err:=fitsio.Create(w)
	if err!=nil { return err }
	defer fits.Close()

	dims:=make([]int, len(f.Naxisn))
	for i,n:=range f.Naxisn { dims[i]=int(n) }
	img:=fitsio.NewImage(-32, dims)
	defer img.Close()

	cards:=[]fitsio.Card{
		{Name: "EXPTIME", Value: float64(f.Exposure), Comment: "[s] total exposure time"},
	}
	if f.Gain!=0 {
		cards=append(cards, fitsio.Card{Name: "GAIN", Value: float64(f.Gain), Comment: "[e-/ADU] camera gain"})
	}
	if f.CCDTemp!=0 {
		cards=append(cards, fitsio.Card{Name: "CCD-TEMP", Value: float64(f.CCDTemp), Comment: "[degC] sensor temperature"})
	}
	if err=img.Header().Append(cards...); err!=nil { return err }

	if err=img.Write(f.Data); err!=nil { return err }
	return fits.Write(img)
}

// Write the image as 8-bit monochrome JPEG to the file with the given name,
// linearly scaling [min, max] to display range
func (f *Image) WriteMonoJPGToFile(fileName string, quality int) error {
	file, err:=os.Create(fileName)
	if err!=nil { return err }
	defer file.Close()

	writer:=bufio.NewWriter(file)
	defer writer.Flush()

	return f.WriteMonoJPG(writer, quality)
}

func (f *Image) WriteMonoJPG(writer io.Writer, quality int) error {
	width, height:=int(f.Naxisn[0]), int(f.Naxisn[1])
	min, max:=f.Stats.Min(), f.Stats.Max()
	scale:=float32(0)
	if max>min { scale=255.0/(max-min) }

	img:=image.NewGray(image.Rect(0, 0, width, height))
	for y:=0; y<height; y++ {
		yoffset:=y*width
		for x:=0; x<width; x++ {
			v:=(f.Data[yoffset+x]-min)*scale
			img.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}

// Write the image as 16-bit monochrome TIFF to the file with the given name,
// linearly scaling [min, max] to display range
func (f *Image) WriteTIFF16ToFile(fileName string) error {
	file, err:=os.Create(fileName)
	if err!=nil { return err }
	defer file.Close()

	writer:=bufio.NewWriter(file)
	defer writer.Flush()

	return f.WriteTIFF16(writer)
}

func (f *Image) WriteTIFF16(writer io.Writer) error {
	width, height:=int(f.Naxisn[0]), int(f.Naxisn[1])
	min, max:=f.Stats.Min(), f.Stats.Max()
	scale:=float32(0)
	if max>min { scale=65535.0/(max-min) }

	img:=image.NewGray16(image.Rect(0, 0, width, height))
	for y:=0; y<height; y++ {
		yoffset:=y*width
		for x:=0; x<width; x++ {
			v:=(f.Data[yoffset+x]-min)*scale
			img.SetGray16(x, y, color.Gray16{Y: uint16(v)})
		}
	}
	return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}

// Write a false-color heatmap of per-pixel rejection counts as JPEG to the
// file with the given name. Counts range from 0 (keep all, blue) to
// maxCount (all rejected, red)
func WriteRejectionMapJPGToFile(fileName string, counts []int32, width int32, maxCount int32, quality int) error {
	file, err:=os.Create(fileName)
	if err!=nil { return err }
	defer file.Close()

	writer:=bufio.NewWriter(file)
	defer writer.Flush()

	w, h:=int(width), len(counts)/int(width)
	cold:=colorful.Color{R: 0.05, G: 0.05, B: 0.6 }
	hot :=colorful.Color{R: 0.9,  G: 0.1,  B: 0.05}

	img:=image.NewRGBA(image.Rect(0, 0, w, h))
	for y:=0; y<h; y++ {
		yoffset:=y*w
		for x:=0; x<w; x++ {
			t:=float64(counts[yoffset+x])/float64(maxCount)
			if t>1 { t=1 }
			c:=cold.BlendLuv(hot, t).Clamped()
			r, g, b:=c.RGB255()
			img.Set(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}
