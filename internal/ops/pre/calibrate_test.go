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


package pre

import (
	"io"
	"testing"
	"github.com/astrokit/ccdstack/internal/frame"
	"github.com/astrokit/ccdstack/internal/ops"
)

func testContext() *ops.Context {
	return ops.NewContext(io.Discard)
}

func TestCalibrateBias(t *testing.T) {
	c:=testContext()
	c.BiasFrame=frame.NewImageFromNaxisn([]int32{2, 2}, []float32{100, 100, 101, 99})
	c.BiasFrame.FileName="bias.fits"

	f:=frame.NewImageFromNaxisn([]int32{2, 2}, []float32{110, 120, 131, 109})
	op:=NewOpCalibrate("", "")
	res, err:=op.Apply(f, c)
	if err!=nil { t.Fatalf("calibrate failed: %s", err) }
	want:=[]float32{10, 20, 30, 10}
	for i,w:=range want {
		if res.Data[i]!=w {
			t.Errorf("pixel %d: got %f, want %f", i, res.Data[i], w)
		}
	}
}

func TestCalibrateDarkScaling(t *testing.T) {
	c:=testContext()
	c.DarkFrame=frame.NewImageFromNaxisn([]int32{2, 1}, []float32{10, 20})
	c.DarkFrame.FileName="dark.fits"
	c.DarkFrame.Exposure=10

	// light exposed half as long as the dark master
	f:=frame.NewImageFromNaxisn([]int32{2, 1}, []float32{105, 210})
	f.Exposure=5
	op:=NewOpCalibrate("", "")
	res, err:=op.Apply(f, c)
	if err!=nil { t.Fatalf("calibrate failed: %s", err) }
	if res.Data[0]!=100 || res.Data[1]!=200 {
		t.Errorf("got %v; want [100 200]", res.Data)
	}
}

func TestCalibrateDimensionMismatch(t *testing.T) {
	c:=testContext()
	c.BiasFrame=frame.NewImageFromNaxisn([]int32{4, 4}, nil)

	f:=frame.NewImageFromNaxisn([]int32{2, 2}, nil)
	op:=NewOpCalibrate("", "")
	if _, err:=op.Apply(f, c); err==nil {
		t.Fatal("expected error for mismatched bias dimensions")
	}
}

func TestOverscanSubtract(t *testing.T) {
	// 4x2 frame with overscan in columns [2,4)
	f:=frame.NewImageFromNaxisn([]int32{4, 2}, []float32{
		10, 20, 100, 102,
		 5,  6,   7,   9,
	})
	op:=NewOpOverscan(2, 4, false)
	res, err:=op.Apply(f, testContext())
	if err!=nil { t.Fatalf("overscan failed: %s", err) }
	// row medians are 101 and 8
	want:=[]float32{-91, -81, -1, 1, -3, -2, -1, 1}
	for i,w:=range want {
		if res.Data[i]!=w {
			t.Errorf("pixel %d: got %f, want %f", i, res.Data[i], w)
		}
	}
}

func TestOverscanTrim(t *testing.T) {
	f:=frame.NewImageFromNaxisn([]int32{4, 2}, []float32{
		10, 20, 100, 102,
		 5,  6,   7,   9,
	})
	op:=NewOpOverscan(2, 4, true)
	res, err:=op.Apply(f, testContext())
	if err!=nil { t.Fatalf("overscan failed: %s", err) }
	if res.Naxisn[0]!=2 || res.Pixels!=4 {
		t.Fatalf("trimmed to %v (%d pixels); want [2 2] (4 pixels)", res.Naxisn, res.Pixels)
	}
	want:=[]float32{-91, -81, -3, -2}
	for i,w:=range want {
		if res.Data[i]!=w {
			t.Errorf("pixel %d: got %f, want %f", i, res.Data[i], w)
		}
	}
	// statistics must reflect the trimmed data, not the discarded columns
	if res.Stats.Min()!=-91 || res.Stats.Max()!=-2 {
		t.Errorf("trimmed stats min %f max %f; want -91 and -2", res.Stats.Min(), res.Stats.Max())
	}
}

func TestOverscanOutOfRange(t *testing.T) {
	f:=frame.NewImageFromNaxisn([]int32{4, 2}, nil)
	op:=NewOpOverscan(2, 5, false)
	if _, err:=op.Apply(f, testContext()); err==nil {
		t.Fatal("expected error for overscan columns outside image width")
	}
}

func TestSubtractScaled(t *testing.T) {
	a:=[]float32{10, 20, 30}
	b:=[]float32{ 2,  4,  6}
	res:=make([]float32, 3)
	SubtractScaled(res, a, b, 0.5)
	want:=[]float32{9, 18, 27}
	for i,w:=range want {
		if res[i]!=w {
			t.Errorf("element %d: got %f, want %f", i, res[i], w)
		}
	}

	// aliased in-place variant
	Subtract(a, a, b)
	want=[]float32{8, 16, 24}
	for i,w:=range want {
		if a[i]!=w {
			t.Errorf("in-place element %d: got %f, want %f", i, a[i], w)
		}
	}
}
