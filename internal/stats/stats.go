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
	"fmt"
	"math"
	"sync"
	"github.com/valyala/fastrand"
	"github.com/astrokit/ccdstack/internal/qsort"
)

// Number of data points above which location and scale switch from the
// exact median/MAD to randomized subsampling
const maxExactSamples = 128 * 1024

// Statistics on a frame's data array. Basic indicators (min, max, mean,
// standard deviation) and robust indicators (location=median, scale=MAD
// normalized to the Gaussian standard deviation) are computed lazily on
// first access and cached until Clear() is called.
type Stats struct {
	data  []float32
	width int32

	mutex       sync.Mutex
	min         float32
	max         float32
	mean        float32
	stdDev      float32
	location    float32
	scale       float32
	basicValid  bool
	robustValid bool
}

// Creates a statistics object for the given data array. Does not copy the
// data; callers must Clear() after mutating it
func NewStats(data []float32, width int32) *Stats {
	return &Stats{data: data, width: width}
}

// Invalidates all cached indicators, e.g. after the data was modified in place
func (s *Stats) Clear() {
	s.mutex.Lock()
	s.basicValid, s.robustValid = false, false
	s.mutex.Unlock()
}

func (s *Stats) Min() float32    { s.ensureBasic();  return s.min }
func (s *Stats) Max() float32    { s.ensureBasic();  return s.max }
func (s *Stats) Mean() float32   { s.ensureBasic();  return s.mean }
func (s *Stats) StdDev() float32 { s.ensureBasic();  return s.stdDev }

// Robust location indicator, the median
func (s *Stats) Location() float32 { s.ensureRobust(); return s.location }

// Robust scale indicator, 1.4826 x the median absolute deviation
func (s *Stats) Scale() float32    { s.ensureRobust(); return s.scale }

func (s *Stats) ensureBasic() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.basicValid { return }
	s.min, s.max=calcMinMax(s.data)
	s.mean, s.stdDev=MeanStdDev(s.data)
	s.basicValid=true
}

func (s *Stats) ensureRobust() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.robustValid { return }
	if len(s.data)<=maxExactSamples {
		s.location=Median(s.data)
		s.scale   =MAD(s.data, s.location)
	} else {
		samples:=make([]float32, maxExactSamples)
		s.location=FastApproxMedian(s.data, samples)
		s.scale   =FastApproxMAD(s.data, s.location, samples)
	}
	s.robustValid=true
}

// Pretty print statistics to string
func (s *Stats) String() string {
	return fmt.Sprintf("Min %.6g Max %.6g Mean %.6g StdDev %.6g Location %.6g Scale %.6g",
		s.Min(), s.Max(), s.Mean(), s.StdDev(), s.Location(), s.Scale())
}

// Calculate mean and standard deviation of the given data.
// Accumulates in float64 to stay accurate on megapixel arrays
func MeanStdDev(xs []float32) (mean, stdDev float32) {
	xmean:=float64(0)
	for _,x:=range(xs) { xmean+=float64(x) }
	xmean/=float64(len(xs))
	xvar:=float64(0)
	for _,x:=range(xs) { diff:=float64(x)-xmean; xvar+=diff*diff }
	xvar/=float64(len(xs))
	return float32(xmean), float32(math.Sqrt(xvar))
}

// Returns the exact median of the data. Does not change the data
func Median(data []float32) float32 {
	tmp:=make([]float32, len(data))
	copy(tmp, data)
	median:=qsort.QSelectMedianFloat32(tmp)
	tmp=nil
	return median
}

// Returns the exact median absolute deviation around the given location,
// normalized with 1.4826 to estimate the standard deviation of a Gaussian.
// Does not change the data
func MAD(data []float32, location float32) float32 {
	tmp:=make([]float32, len(data))
	for i,d:=range data {
		tmp[i]=float32(math.Abs(float64(d-location)))
	}
	mad:=qsort.QSelectMedianFloat32(tmp)*1.4826
	tmp=nil
	return mad
}

// Calculates a fast approximate median of the (presumably large) data by
// randomly subsampling into the given scratchpad and taking the median of that
func FastApproxMedian(data []float32, samples []float32) float32 {
	max:=uint32(len(data))
	rng:=fastrand.RNG{}
	for i,_:=range samples {
		index:=rng.Uint32n(max)
		samples[i]=data[index]
	}
	return qsort.QSelectMedianFloat32(samples)
}

// Calculates a fast approximate MAD of the (presumably large) data by
// randomly subsampling absolute deviations from the given location.
// Normalized with 1.4826 to the Gaussian standard deviation equivalent
func FastApproxMAD(data []float32, location float32, samples []float32) float32 {
	max:=uint32(len(data))
	rng:=fastrand.RNG{}
	for i,_:=range samples {
		index:=rng.Uint32n(max)
		samples[i]=float32(math.Abs(float64(data[index]-location)))
	}
	return qsort.QSelectMedianFloat32(samples)*1.4826
}

// Calculate minimum and maximum of given data
func calcMinMax(data []float32) (min, max float32) {
	mmin, mmax:=data[0], data[0]
	for _,v := range data {
		if v<mmin { mmin=v }
		if v>mmax { mmax=v }
	}
	return mmin, mmax
}
