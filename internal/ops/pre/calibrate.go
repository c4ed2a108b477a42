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
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"github.com/astrokit/ccdstack/internal/frame"
	"github.com/astrokit/ccdstack/internal/ops"
	"github.com/astrokit/ccdstack/internal/qsort"
	"github.com/astrokit/ccdstack/internal/stats"
)

// OpCalibrate subtracts a master bias and an exposure-scaled master dark
// from each frame before stacking. The masters are loaded once, lazily.
// When both a bias and a dark are given, the dark master is assumed to be
// bias-subtracted already.
type OpCalibrate struct {
	ops.OpUnaryBase
	Bias  string     `json:"bias"`
	Dark  string     `json:"dark"`
	mutex sync.Mutex `json:"-"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpCalibrateDefaults() })} // register the operator for JSON decoding

func NewOpCalibrateDefaults() *OpCalibrate { return NewOpCalibrate("", "") }

func NewOpCalibrate(bias, dark string) *OpCalibrate {
	op:=&OpCalibrate{
		OpUnaryBase : ops.OpUnaryBase{OpBase: ops.OpBase{Type: "calibrate", Active: bias!="" || dark!=""}},
		Bias        : bias,
		Dark        : dark,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpCalibrate) UnmarshalJSON(data []byte) error {
	type defaults OpCalibrate
	def:=defaults( *NewOpCalibrateDefaults() )
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	op.OpUnaryBase=def.OpUnaryBase
	op.Bias       =def.Bias
	op.Dark       =def.Dark
	op.mutex      =sync.Mutex{}

	op.OpUnaryBase.Apply=op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpCalibrate) Apply(f *frame.Image, c *ops.Context) (result *frame.Image, err error) {
	if err=op.init(c); err!=nil { return nil, err } // lazy init of bias and dark frames

	if c.BiasFrame!=nil {
		if !frame.EqualInt32Slice(f.Naxisn, c.BiasFrame.Naxisn) {
			return nil, fmt.Errorf("%d: light dimensions %v differ from bias dimensions %v",
			                       f.ID, f.Naxisn, c.BiasFrame.Naxisn)
		}
		Subtract(f.Data, f.Data, c.BiasFrame.Data)
		f.Stats.Clear()
		fmt.Fprintf(c.Log, "%d: Subtracted master bias %s\n", f.ID, c.BiasFrame.FileName)
	}

	if c.DarkFrame!=nil {
		if !frame.EqualInt32Slice(f.Naxisn, c.DarkFrame.Naxisn) {
			return nil, fmt.Errorf("%d: light dimensions %v differ from dark dimensions %v",
			                       f.ID, f.Naxisn, c.DarkFrame.Naxisn)
		}
		// dark current grows linearly with exposure time
		scale:=float32(1)
		if f.Exposure>0 && c.DarkFrame.Exposure>0 {
			scale=f.Exposure/c.DarkFrame.Exposure
		}
		SubtractScaled(f.Data, f.Data, c.DarkFrame.Data, scale)
		f.Stats.Clear()
		fmt.Fprintf(c.Log, "%d: Subtracted master dark %s scaled by %.3f\n", f.ID, c.DarkFrame.FileName, scale)
	}
	return f, nil
}

// Load bias and dark frames if applicable
func (op *OpCalibrate) init(c *ops.Context) error {
	op.mutex.Lock()
	defer op.mutex.Unlock()
	if !( (op.Bias!="" && c.BiasFrame==nil) ||
	      (op.Dark!="" && c.DarkFrame==nil) ) { return nil }

	var promises []ops.Promise
	for i, name:=range []string{op.Bias, op.Dark} {
		if name!="" {
			promise, err:=ops.NewOpLoad(-(i+1), name).MakePromises(nil, c)
			if err!=nil { return err }
			if len(promise)!=1 { return errors.New("load operator did not create exactly one promise") }
			promises=append(promises, promise[0])
		}
	}

	images, err:=ops.MaterializeAll(promises, c.MaxThreads, false)
	if err!=nil { return err }

	if op.Bias!="" {
		c.BiasFrame=images[0]
		if op.Dark!="" { c.DarkFrame=images[1] }
	} else if op.Dark!="" {
		c.DarkFrame=images[0]
	}

	if c.BiasFrame!=nil && c.DarkFrame!=nil && !frame.EqualInt32Slice(c.BiasFrame.Naxisn, c.DarkFrame.Naxisn) {
		return fmt.Errorf("bias dimensions %v differ from dark dimensions %v",
		                  c.BiasFrame.Naxisn, c.DarkFrame.Naxisn)
	}
	return nil
}


// OpOverscan estimates the per-row bias level from the median of the
// overscan columns [ColFrom, ColTo) and subtracts it from each row.
// Optionally trims the overscan columns from the result.
type OpOverscan struct {
	ops.OpUnaryBase
	ColFrom int32 `json:"colFrom"`
	ColTo   int32 `json:"colTo"`
	Trim    bool  `json:"trim"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpOverscanDefaults() })} // register the operator for JSON decoding

func NewOpOverscanDefaults() *OpOverscan { return NewOpOverscan(0, 0, false) }

func NewOpOverscan(colFrom, colTo int32, trim bool) *OpOverscan {
	op:=&OpOverscan{
		OpUnaryBase : ops.OpUnaryBase{OpBase: ops.OpBase{Type: "overscan", Active: colTo>colFrom}},
		ColFrom     : colFrom,
		ColTo       : colTo,
		Trim        : trim,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpOverscan) UnmarshalJSON(data []byte) error {
	type defaults OpOverscan
	def:=defaults( *NewOpOverscanDefaults() )
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpOverscan(def)
	op.OpUnaryBase.Apply=op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpOverscan) Apply(f *frame.Image, c *ops.Context) (result *frame.Image, err error) {
	if op.ColTo<=op.ColFrom { return f, nil }
	width:=f.Naxisn[0]
	if op.ColFrom<0 || op.ColTo>width {
		return nil, fmt.Errorf("%d: overscan columns [%d,%d) outside image width %d",
		                       f.ID, op.ColFrom, op.ColTo, width)
	}
	height:=f.Pixels/width

	scratch:=make([]float32, op.ColTo-op.ColFrom)
	levelSum:=float32(0)
	for row:=int32(0); row<height; row++ {
		offset:=row*width
		copy(scratch, f.Data[offset+op.ColFrom:offset+op.ColTo])
		level:=qsort.QSelectMedianFloat32(scratch)
		levelSum+=level
		rowData:=f.Data[offset:offset+width]
		for i,d:=range rowData { rowData[i]=d-level }
	}
	fmt.Fprintf(c.Log, "%d: Subtracted overscan bias, mean row level %.2f\n", f.ID, levelSum/float32(height))

	if op.Trim {
		trimmedWidth:=width-(op.ColTo-op.ColFrom)
		trimmed:=make([]float32, trimmedWidth*height)
		for row:=int32(0); row<height; row++ {
			src:=f.Data[row*width:(row+1)*width]
			dst:=trimmed[row*trimmedWidth:(row+1)*trimmedWidth]
			copy(dst, src[:op.ColFrom])
			copy(dst[op.ColFrom:], src[op.ColTo:])
		}
		f.Data=trimmed
		f.Naxisn[0]=trimmedWidth
		f.Pixels=trimmedWidth*height
		// the old statistics object still references the untrimmed buffer
		f.Stats=stats.NewStats(f.Data, trimmedWidth)
		return f, nil
	}

	f.Stats.Clear()
	return f, nil
}

// Subtract computes res[i]=a[i]-b[i]. res may alias a
func Subtract(res, a, b []float32) {
	for i:=range res { res[i]=a[i]-b[i] }
}

// SubtractScaled computes res[i]=a[i]-b[i]*scale. res may alias a
func SubtractScaled(res, a, b []float32, scale float32) {
	for i:=range res { res[i]=a[i]-b[i]*scale }
}
