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
	"bytes"
	"testing"
)

func TestFITSRoundTrip(t *testing.T) {
	f:=NewImageFromNaxisn([]int32{3, 2}, []float32{1.5, -2, 0, 1000, 3.25, 7})
	f.Exposure=300
	f.Gain=1.2

	buf:=bytes.Buffer{}
	if err:=f.Write(&buf); err!=nil {
		t.Fatalf("write failed: %s", err)
	}

	g:=&Image{ID: 1}
	if err:=g.Read(&buf); err!=nil {
		t.Fatalf("read failed: %s", err)
	}
	if !EqualInt32Slice(g.Naxisn, f.Naxisn) {
		t.Fatalf("dimensions %v; want %v", g.Naxisn, f.Naxisn)
	}
	for i,d:=range f.Data {
		if g.Data[i]!=d {
			t.Errorf("pixel %d: got %f, want %f", i, g.Data[i], d)
		}
	}
	if g.Exposure!=300 {
		t.Errorf("exposure %f; want 300", g.Exposure)
	}
	if g.Gain!=1.2 {
		t.Errorf("gain %f; want 1.2", g.Gain)
	}
}

func TestNewImageFromImage(t *testing.T) {
	f:=NewImageFromNaxisn([]int32{2, 2}, []float32{1, 2, 3, 4})
	f.Exposure=60
	g:=NewImageFromImage(f)
	if !EqualInt32Slice(g.Naxisn, f.Naxisn) || g.Pixels!=4 {
		t.Fatalf("clone dimensions %v pixels %d; want %v pixels 4", g.Naxisn, g.Pixels, f.Naxisn)
	}
	if g.Exposure!=60 {
		t.Errorf("clone exposure %f; want 60", g.Exposure)
	}
	g.Data[0]=99
	if f.Data[0]!=1 {
		t.Error("clone aliases the source data")
	}
}

func TestApplyScaleOffset(t *testing.T) {
	f:=NewImageFromNaxisn([]int32{2, 1}, []float32{1, 2})
	if f.Stats.Max()!=2 {
		t.Fatalf("max %f; want 2", f.Stats.Max())
	}
	f.ApplyScaleOffset(2, 10)
	if f.Data[0]!=12 || f.Data[1]!=14 {
		t.Errorf("scaled data %v; want [12 14]", f.Data)
	}
	if f.Stats.Max()!=14 {
		t.Errorf("stats not invalidated: max %f; want 14", f.Stats.Max())
	}
}

func TestDimensionsToString(t *testing.T) {
	f:=NewImageFromNaxisn([]int32{320, 240}, nil)
	if s:=f.DimensionsToString(); s!="320x240" {
		t.Errorf("got %q; want 320x240", s)
	}
}
