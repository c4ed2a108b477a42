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


package stack

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"github.com/astrokit/ccdstack/internal/frame"
	"github.com/astrokit/ccdstack/internal/qsort"
	"github.com/astrokit/ccdstack/internal/stats"
	"github.com/astrokit/ccdstack/internal/ops"
)

var (
	ErrEmptyStack       = errors.New("no frames to combine")
	ErrShapeMismatch    = errors.New("frame dimensions differ")
	ErrInvalidThreshold = errors.New("clipping thresholds must be positive")
	ErrAllRejected      = errors.New("all samples rejected")
)

type StackMode int
const (
	StMedian StackMode = iota
	StMean
	StMADSigma
)

func (m StackMode) String() string {
	switch m {
	case StMedian:   return "median"
	case StMean:     return "mean"
	case StMADSigma: return "madSigma"
	}
	return fmt.Sprintf("invalid(%d)", int(m))
}


// Combines a set of aligned frames into a single master frame.
// Default mode rejects per-pixel outliers beyond sigma multiples of the
// MAD-estimated scale around the median, then averages the survivors.
// Input frames are never modified
type OpStack struct {
	ops.OpBase
	Mode           StackMode `json:"mode"`
	SigmaLow       float32   `json:"sigmaLow"`
	SigmaHigh      float32   `json:"sigmaHigh"`
	MaskDegenerate bool      `json:"maskDegenerate"`  // mark pixels losing every sample in Mask instead of failing
	RejectFile     string    `json:"rejectFile"`      // write rejection count heatmap JPEG if non-empty
	Mask           []bool    `json:"-"`               // per-pixel validity from the latest Apply, if MaskDegenerate
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpStackDefault() })} // register the operator for JSON decoding

func NewOpStackDefault() *OpStack { return NewOpStack(StMADSigma, 5, 5) }

func NewOpStack(mode StackMode, sigmaLow, sigmaHigh float32) *OpStack {
	return &OpStack{
		OpBase    : ops.OpBase{Type: "stack", Active: true},
		Mode      : mode,
		SigmaLow  : sigmaLow,
		SigmaHigh : sigmaHigh,
	}
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpStack) UnmarshalJSON(data []byte) error {
	type defaults OpStack
	def:=defaults( *NewOpStackDefault() )
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpStack(def)
	return nil
}

func (op *OpStack) MakePromises(ins []ops.Promise, c *ops.Context) (outs []ops.Promise, err error) {
	if len(ins)==0 { return nil, fmt.Errorf("%s operator: %w", op.Type, ErrEmptyStack) }

	out:=func() (f *frame.Image, err error) {
		fs, err:=ops.MaterializeAll(ins, c.MaxThreads, false) // materialize all input promises
		if err!=nil { return nil, err }
		return op.Apply(fs, c)
	}
	return []ops.Promise{out}, nil
}

// Stack a set of light frames. Limits parallelism to the number of available cores
func (op *OpStack) Apply(f []*frame.Image, c *ops.Context) (result *frame.Image, err error) {
	// validate everything before touching pixel data
	if len(f)==0 { return nil, fmt.Errorf("%s operator: %w", op.Type, ErrEmptyStack) }
	if op.Mode<StMedian || op.Mode>StMADSigma {
		return nil, fmt.Errorf("invalid stacking mode %d", int(op.Mode))
	}
	for _,l:=range f[1:] {
		if !frame.EqualInt32Slice(l.Naxisn, f[0].Naxisn) {
			return nil, fmt.Errorf("%d: dimensions %v vs reference %v: %w",
			                       l.ID, l.Naxisn, f[0].Naxisn, ErrShapeMismatch)
		}
	}
	if op.Mode==StMADSigma {
		if !(op.SigmaLow>0) || !(op.SigmaHigh>0) { // NaN fails both comparisons
			return nil, fmt.Errorf("sigma low %g high %g: %w", op.SigmaLow, op.SigmaHigh, ErrInvalidThreshold)
		}
	}
	fmt.Fprintf(c.Log, "Stacking %d frames with mode %s sigma low %g high %g:\n",
	            len(f), op.Mode, op.SigmaLow, op.SigmaHigh)

	// stacking a single frame is the identity, with zero rejections
	if len(f)==1 {
		stack:=frame.NewImageFromImage(f[0])
		copy(stack.Data, f[0].Data)
		if op.MaskDegenerate {
			op.Mask=make([]bool, stack.Pixels)
			for i:=range op.Mask { op.Mask[i]=true }
		}
		return stack, nil
	}

	// create return value array
	data:=make([]float32,len(f[0].Data))

	var valid []bool
	if op.MaskDegenerate { valid=make([]bool, len(data)) }
	var rej []int32
	if op.RejectFile!="" { rej=make([]int32, len(data)) }

	// split into 8 MB work packages, no fewer than 8*NumCPU()
	numBatches:=4*len(f)*len(f[0].Data)/(8192*1024)
	if numBatches < 8*runtime.NumCPU() { numBatches=8*runtime.NumCPU() }
	batchSize:=(len(data)+numBatches-1)/(numBatches)
	sem   :=make(chan bool, runtime.NumCPU()) // limit parallelism to NumCPUs()

	countLock:=sync.Mutex{}
	numClippedLow, numClippedHigh, numInvalid:=int32(0), int32(0), int32(0)
	progressLock, progress:=sync.Mutex{}, float32(0)
	for lower:=0; lower<len(data); lower+=batchSize {
		upper:=lower+batchSize
		if upper>len(data) { upper=len(data) }

		sem <- true
		go func(lower, upper int) {
			defer func() { <-sem }()

			// subslice f data elements for given batch
			ldBatch:=make([][]float32, len(f))
			for i, l:=range f { ldBatch[i]=l.Data[lower:upper] }
			var validBatch []bool
			if valid!=nil { validBatch=valid[lower:upper] }
			var rejBatch []int32
			if rej!=nil { rejBatch=rej[lower:upper] }

			var clipLow, clipHigh, invalid int32
			switch op.Mode {
			case StMedian:
				invalid=CombineMedian(ldBatch, data[lower:upper], validBatch)
			case StMean:
				invalid=CombineMean(ldBatch, data[lower:upper], validBatch)
			case StMADSigma:
				clipLow, clipHigh, invalid=combineMADSigma(ldBatch, op.SigmaLow, op.SigmaHigh,
				                                           data[lower:upper], rejBatch, validBatch)
			}

			// update clipping totals
			if clipLow>0 || clipHigh>0 || invalid>0 {
				countLock.Lock()
				numClippedLow+=clipLow
				numClippedHigh+=clipHigh
				numInvalid+=invalid
				countLock.Unlock()
			}

			// display progress indicator
			progressLock.Lock()
			progress+=float32(batchSize)/float32(len(data))
			fmt.Fprintf(c.Log, "\r%d%%", int(progress*100))
			progressLock.Unlock()

		}(lower, upper)
	}
	for i:=0; i<cap(sem); i++ {  // wait for goroutines to finish
		sem <- true
	}
	fmt.Fprintf(c.Log, "\r")

	if numInvalid>0 {
		if !op.MaskDegenerate {
			return nil, fmt.Errorf("%d of %d pixels: %w", numInvalid, len(data), ErrAllRejected)
		}
		fmt.Fprintf(c.Log, "Masked %d of %d pixels (%.4f%%) which rejected every sample\n",
		            numInvalid, len(data), float32(numInvalid)*100.0/float32(len(data)))
	}
	op.Mask=valid

	// report back on clipping for modes that apply clipping
	if op.Mode==StMADSigma {
		fmt.Fprintf(c.Log, "Clipped low %d (%.2f%%) high %d (%.2f%%)\n",
			numClippedLow,  float32(numClippedLow )*100.0/(float32(len(data)*len(f))),
			numClippedHigh, float32(numClippedHigh)*100.0/(float32(len(data)*len(f))) )
	}

	if rej!=nil {
		fmt.Fprintf(c.Log, "Writing rejection map heatmap to %s\n", op.RejectFile)
		if err=frame.WriteRejectionMapJPGToFile(op.RejectFile, rej, f[0].Naxisn[0], int32(len(f)), 95); err!=nil {
			return nil, fmt.Errorf("error writing rejection map to %s: %s", op.RejectFile, err.Error())
		}
	}

	exposureSum:=float32(0)
	for _,l :=range f { exposureSum+=l.Exposure }

	// Assemble into in-memory frame
	stack:=frame.NewImageFromNaxisn(f[0].Naxisn, data)
	stack.Exposure = exposureSum
	return stack, nil
}


// Combine stack with per-pixel median. Gathers data into scratch space,
// skipping NaNs; inputs are not modified. Pixels without any valid sample
// are counted as invalid, and flagged false if a mask is given
func CombineMedian(lightsData [][]float32, res []float32, valid []bool) (invalid int32) {
	gatheredFull:=make([]float32,len(lightsData))

	// for all pixels
	for i, _:=range lightsData[0] {
		// gather data for this pixel across all lights, skipping NaNs
		numGathered:=0
		for li, _:=range lightsData {
			value:=lightsData[li][i]
			if !math.IsNaN(float64(value)) {
				gatheredFull[numGathered]=value
				numGathered++
			}
		}
		if numGathered==0 {
			res[i]=0
			invalid++
			if valid!=nil { valid[i]=false }
			continue
		}
		res[i]=qsort.QSelectMedianFloat32(gatheredFull[:numGathered])
		if valid!=nil { valid[i]=true }
	}
	return invalid
}


// Combine stack with per-pixel mean. Skips NaNs; inputs are not modified.
// Sums accumulate in float64, so the mean of identical samples reproduces
// them bit for bit. Pixels without any valid sample are counted as invalid,
// and flagged false if a mask is given
func CombineMean(lightsData [][]float32, res []float32, valid []bool) (invalid int32) {
	// for all pixels
	for i, _:=range res {
		numGathered:=0
		sum:=float64(0)
		for li, _:=range lightsData {
			value:=lightsData[li][i]
			if !math.IsNaN(float64(value)) {
				sum+=float64(value)
				numGathered++
			}
		}
		if numGathered==0 {
			res[i]=0
			invalid++
			if valid!=nil { valid[i]=false }
			continue
		}
		res[i]=float32(sum/float64(numGathered))
		if valid!=nil { valid[i]=true }
	}
	return invalid
}


// Combine stack with per-pixel mean after MAD-based sigma clipping.
// For each pixel, the location is the median across the stack and the scale
// is 1.4826*median(|x-location|). Values beyond location-sigmaLow*scale or
// location+sigmaHigh*scale are rejected, and the survivors averaged.
// A zero scale rejects nothing. Single pass, not iterated.
// Inputs are not modified; a pixel rejecting every sample is counted as
// invalid, set to the location, and flagged false if a mask is given
func CombineMADSigma(lightsData [][]float32, sigmaLow, sigmaHigh float32, res []float32, valid []bool) (clipLow, clipHigh, invalid int32) {
	return combineMADSigma(lightsData, sigmaLow, sigmaHigh, res, nil, valid)
}

// Like CombineMADSigma, additionally accumulating per-pixel rejection counts
// into rej if non-nil
func combineMADSigma(lightsData [][]float32, sigmaLow, sigmaHigh float32, res []float32, rej []int32, valid []bool) (clipLow, clipHigh, invalid int32) {
	gatheredFull  :=make([]float32,len(lightsData))
	adGatheredFull:=make([]float32,len(lightsData))

	// for all pixels
	for i, _:=range lightsData[0] {

		// gather data for this pixel across all lights, skipping NaNs
		numGathered:=0
		for li, _:=range lightsData {
			value:=lightsData[li][i]
			if !math.IsNaN(float64(value)) {
				gatheredFull[numGathered]=value
				numGathered++
			}
		}
		if numGathered==0 {
			res[i]=0
			invalid++
			if valid!=nil { valid[i]=false }
			if rej!=nil { rej[i]=int32(len(lightsData)) }
			continue
		}
		gatheredCur:=gatheredFull[:numGathered]

		// calculate median across gathered data
		median:=qsort.QSelectMedianFloat32(gatheredCur)

		// calculate median absolute distance (MAD)
		adGatheredCur:=adGatheredFull[:numGathered]
		for j,g:=range gatheredCur {
			ad:=g-median
			if ad<0 { ad=-ad }
			adGatheredCur[j]=ad
		}
		mad:=qsort.QSelectMedianFloat32(adGatheredCur)
		scale:=mad*1.4826  // normalize to Gaussian std dev equivalent value

		// a zero scale means at least half the samples equal the median;
		// clipping bounds would degenerate to a point, so keep everything.
		// summing in float64 keeps the mean of identical samples exact
		if scale==0 {
			sum:=float64(0)
			for _,g:=range gatheredCur { sum+=float64(g) }
			res[i]=float32(sum/float64(numGathered))
			if valid!=nil { valid[i]=true }
			continue
		}

		// average values within bounds, count the rest as clipped
		lowBound :=median - sigmaLow *scale
		highBound:=median + sigmaHigh*scale
		sum, kept:=float64(0), int32(0)
		pixLow, pixHigh:=int32(0), int32(0)
		for _,g:=range gatheredCur {
			if g<lowBound {
				pixLow++
			} else if g>highBound {
				pixHigh++
			} else {
				sum+=float64(g)
				kept++
			}
		}
		clipLow+=pixLow
		clipHigh+=pixHigh
		if rej!=nil { rej[i]=pixLow+pixHigh }

		if kept==0 {
			// every sample clipped. fall back to the location so the image
			// stays finite, and leave it to the caller to fail or mask
			res[i]=median
			invalid++
			if valid!=nil { valid[i]=false }
			continue
		}
		res[i]=float32(sum/float64(kept))
		if valid!=nil { valid[i]=true }
	}

	return clipLow, clipHigh, invalid
}


// Incrementally stacks the light onto the given stack, weighted by the given weight.
// Creates a new stack with same dimensions as light if stack is nil.
// Returns the modified or created stack. Does not calculate statistics
func StackIncremental(stack, light *frame.Image, weight float32) *frame.Image {
	if stack==nil {
		stack=frame.NewImageFromImage(light)
		for i,d:=range light.Data {
			stack.Data[i]=d*weight
		}
	} else {
		stack.Exposure+=light.Exposure
		for i,d:=range light.Data {
			stack.Data[i]+=d*weight
		}
	}
	return stack
}

// Finalizes an incremental stack. Divides pixel values by weight sum, and recalculates stats
func StackIncrementalFinalize(stack *frame.Image, weightSum float32) {
	factor:=1.0/weightSum
	for i,d:=range stack.Data { stack.Data[i]=d*factor }
	stack.Stats=stats.NewStats(stack.Data, stack.Naxisn[0])
}
