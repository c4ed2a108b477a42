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
	"gonum.org/v1/gonum/optimize"
)

// Calculate histogram of data between min and max into given bins
func Histogram(data []float32, min, max float32, bins []int32) {
	for i:=range bins { bins[i]=0 }
	scale:=float32(len(bins)-1)/(max-min)
	for _,d:=range data {
		index:=(d-min)*scale
		bins[int(index)]++
	}
}

// Returns the location and the value of the histogram peak
func GetPeak(bins []int32, min, max float32) (x, y float32) {
	maxIndex, maxValue:=-1, int32(math.MinInt32)
	for i,v:=range bins {
		if v>maxValue { maxIndex, maxValue=i, v }
	}

	x=min + (float32(maxIndex)+0.5)*(max-min)/float32(len(bins)-1)
	// a peak in the last bin has no right neighbor to smooth with
	if maxIndex+1>=len(bins) { return x, float32(bins[maxIndex]) }
	y=0.5*float32(bins[maxIndex]+bins[maxIndex+1])
	return x, y
}

// Estimates the mode and the standard deviation of the data by fitting a
// Gaussian to its histogram with Nelder-Mead, starting from the histogram peak
func GetModeStdDevFromHistogram(bins []int32, min, max float32) (mode, stdDev float32, err error) {
	peak, peakVal:=GetPeak(bins, min, max)

	// Minimize the distance between the histogram and a normal distribution
	x0:=[]float64{float64(peakVal), float64(peak), 5.0}
	problem:=optimize.Problem{
		Func: func(x []float64) float64 {
			alpha, mu, sigma:=float32(x[0]), float32(x[1]), float32(x[2])
			scaler:=alpha/(sigma*float32(math.Sqrt(2*math.Pi)))
			sumSqDiff:=float32(0)

			for i,y:=range bins {
				x:=min + (float32(i)+0.5)*(max-min)/float32(len(bins)-1)

				xmusig:=(x-mu)/sigma
				yPredict:=scaler*float32(math.Exp(float64(-0.5*xmusig*xmusig)))

				diff:=float32(y)-yPredict
				sumSqDiff+=diff*diff
			}
			variance:=sumSqDiff/float32(len(bins))
			return math.Sqrt(float64(variance))
		},
	}
	result, err:=optimize.Minimize(problem, x0, nil, &optimize.NelderMead{})
	if err!=nil { return -1, -1, err }

	return float32(result.X[1]), float32(result.X[2]), nil
}

// Estimates location and scale of the data from a freshly computed histogram.
// Prefers the Gaussian fit; if the optimizer fails, falls back to cumulating
// bins around the peak until the one-sigma threshold of 68.27% is covered
func HistogramLocScale(data []float32, min, max float32, numBins int) (loc, scale float32) {
	if min==max { return min, 0 }
	bins:=make([]int32, numBins)
	Histogram(data, min, max, bins)

	loc, scale, err:=GetModeStdDevFromHistogram(bins, min, max)
	if err==nil && scale>0 { return loc, scale }

	// fallback: cumulate adjacent bins until one sigma threshold is reached.
	// See https://en.wikipedia.org/wiki/68%E2%80%9395%E2%80%9399.7_rule
	peakBin, peakCount:=0, int32(0)
	for bin, count:=range bins[1:numBins-1] {
		if count>peakCount { peakBin, peakCount=bin+1, count }
	}
	valueToBin:=float32(numBins-1)/(max-min)
	loc=min + float32(peakBin)/valueToBin

	sigmaThreshold:=int32(float32(len(data))*0.6827)
	intervalLimit:=peakBin
	if numBins-1-peakBin<intervalLimit { intervalLimit=numBins-1-peakBin }
	cum:=peakCount
	scale=0.5*float32(1.0)/valueToBin
	for i:=1; i<=intervalLimit && cum<sigmaThreshold; i++ {
		cum=cum + bins[peakBin-i] + bins[peakBin+i]
		scale=0.5*float32(2*i+1)/valueToBin
	}
	return loc, scale
}
