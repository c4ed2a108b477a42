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


package ops

import (
	"encoding/json"
	"fmt"
	"github.com/astrokit/ccdstack/internal/frame"
	"github.com/astrokit/ccdstack/internal/stats"
)

// Reports per-frame statistics to the log: basic and robust indicators,
// plus a histogram peak estimate of background location and scale
type OpStat struct {
	OpBase
	Bins     int  `json:"bins"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpStatDefault()}) } // register the operator for JSON decoding

func NewOpStatDefault() *OpStat { return NewOpStat(1<<14) }

func NewOpStat(bins int) *OpStat {
	op:=&OpStat{
		OpBase : OpBase{Type: "stat", Active: true},
		Bins   : bins,
	}
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpStat) UnmarshalJSON(data []byte) error {
	type defaults OpStat
	def:=defaults( *NewOpStatDefault() )
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpStat(def)
	return nil
}

func (op *OpStat) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins)==0 { return nil, fmt.Errorf("%s operator with zero inputs", op.Type) }
	outs=make([]Promise, len(ins))
	for i,in:=range(ins) {
		outs[i]=op.makePromise(in, c)
	}
	return outs, nil
}

func (op *OpStat) makePromise(in Promise, c *Context) (out Promise) {
	return func() (f *frame.Image, err error) {
		if f, err=in(); err!=nil { return nil, err }
		loc, scale:=stats.HistogramLocScale(f.Data, f.Stats.Min(), f.Stats.Max(), op.Bins)
		fmt.Fprintf(c.Log, "%d: %v Histogram peak location %.6g scale %.6g\n", f.ID, f.Stats, loc, scale)
		return f, nil
	}
}
