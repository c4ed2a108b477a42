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


package stats

import (
	"math"
	"testing"
	mfstats "github.com/montanaflynn/stats"
	"github.com/valyala/fastrand"
)

// Median and MAD are checked against an independent statistics library
// on randomized data
func TestMedianMADAgainstReference(t *testing.T) {
	rng:=fastrand.RNG{}
	for trial:=0; trial<20; trial++ {
		n:=int(rng.Uint32n(500))+2
		data:=make([]float32, n)
		data64:=make([]float64, n)
		for i:=range data {
			v:=float32(rng.Uint32n(100000))/100.0
			data[i]=v
			data64[i]=float64(v)
		}

		wantMedian, err:=mfstats.Median(data64)
		if err!=nil { t.Fatal(err) }
		gotMedian:=Median(data)
		if math.Abs(float64(gotMedian)-wantMedian)>1e-3 {
			t.Errorf("n=%d: median got %g want %g", n, gotMedian, wantMedian)
		}

		wantMAD, err:=mfstats.MedianAbsoluteDeviation(data64)
		if err!=nil { t.Fatal(err) }
		gotMAD:=MAD(data, gotMedian)
		if math.Abs(float64(gotMAD)-wantMAD*1.4826)>1e-2 {
			t.Errorf("n=%d: mad got %g want %g", n, gotMAD, wantMAD*1.4826)
		}
	}
}

func TestMedianDoesNotMutate(t *testing.T) {
	data:=[]float32{5,1,4,2,3}
	orig:=[]float32{5,1,4,2,3}
	_=Median(data)
	for i:=range data {
		if data[i]!=orig[i] {
			t.Fatalf("data[%d] mutated: got %f want %f", i, data[i], orig[i])
		}
	}
}

func TestMeanStdDev(t *testing.T) {
	data:=[]float32{2,4,4,4,5,5,7,9}
	mean, stdDev:=MeanStdDev(data)
	if mean!=5 { t.Errorf("mean got %f want 5", mean) }
	if stdDev!=2 { t.Errorf("stdDev got %f want 2", stdDev) }
}

func TestStatsLazyAndClear(t *testing.T) {
	data:=[]float32{1,2,3,4,5}
	s:=NewStats(data, 5)
	if s.Min()!=1 || s.Max()!=5 || s.Mean()!=3 {
		t.Fatalf("basic stats wrong: %v", s)
	}
	if s.Location()!=3 { t.Errorf("location got %f want 3", s.Location()) }

	data[0]=100
	s.Clear()
	if s.Max()!=100 { t.Errorf("max after Clear got %f want 100", s.Max()) }
}

func TestHistogramLocScaleGaussian(t *testing.T) {
	// symmetric triangular-ish histogram data centered on 10
	data:=make([]float32, 0, 10000)
	rng:=fastrand.RNG{}
	for i:=0; i<10000; i++ {
		// sum of three uniforms approximates a Gaussian around 10 with sigma~0.5
		u:=float32(rng.Uint32n(1000))/1000.0 + float32(rng.Uint32n(1000))/1000.0 + float32(rng.Uint32n(1000))/1000.0
		data=append(data, 8.5+u)
	}
	loc, scale:=HistogramLocScale(data, 8.5, 11.5, 256)
	if loc<9.7 || loc>10.3 {
		t.Errorf("histogram location got %f want ~10", loc)
	}
	if scale<=0 || scale>1.5 {
		t.Errorf("histogram scale got %f want (0,1.5]", scale)
	}
}

// A peak in the last bin has no right neighbor; GetPeak must not read past
// the end of the bins
func TestGetPeakLastBin(t *testing.T) {
	x, y:=GetPeak([]int32{1, 2, 10}, 0, 1)
	if x!=1.25 { t.Errorf("peak location got %f want 1.25", x) }
	if y!=10 { t.Errorf("peak value got %f want 10", y) }
}

// A frame whose modal value equals its maximum, e.g. a saturated frame,
// puts the histogram peak in the last bin
func TestHistogramLocScaleSaturated(t *testing.T) {
	data:=make([]float32, 1000)
	for i:=range data { data[i]=100 }
	data[0]=0
	loc, scale:=HistogramLocScale(data, 0, 100, 16)
	if math.IsNaN(float64(loc)) || math.IsNaN(float64(scale)) {
		t.Errorf("saturated frame gave loc %f scale %f; want finite values", loc, scale)
	}
	if scale<0 { t.Errorf("scale got %f; want non-negative", scale) }
}

func TestFastApproxMedianConverges(t *testing.T) {
	data:=make([]float32, 200000)
	rng:=fastrand.RNG{}
	for i:=range data {
		data[i]=float32(rng.Uint32n(2001)) // uniform on [0,2000], median 1000
	}
	samples:=make([]float32, 64*1024)
	median:=FastApproxMedian(data, samples)
	if median<950 || median>1050 {
		t.Errorf("approx median got %f want ~1000", median)
	}
}
