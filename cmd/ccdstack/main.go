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

package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/debug"
	"strings"
	"time"
	"github.com/pbnjay/memory"
	"github.com/astrokit/ccdstack/internal/log"
	"github.com/astrokit/ccdstack/internal/ops"
	"github.com/astrokit/ccdstack/internal/ops/pre"
	"github.com/astrokit/ccdstack/internal/rest"
	"github.com/astrokit/ccdstack/internal/stack"
)

const version = "0.1.2"

var totalMiBs=memory.TotalMemory()/1024/1024

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var out    = flag.String("out", "out.fits", "save master frame to `file`")
var jpg    = flag.String("jpg", "%auto", "save 8bit preview of output as JPEG to `file`. `%auto` replaces suffix of output file with .jpg")
var tif    = flag.String("tiff", "", "save 16bit rendering of output as TIFF to `file`")
var rejMap = flag.String("rejectMap", "", "save heatmap of per-pixel rejection counts as JPEG to `file`")
var logF   = flag.String("log", "%auto", "save log output to `file`. `%auto` replaces suffix of output file with .log")
var prePat = flag.String("pre", "", "save calibrated frames with given filename pattern, e.g. `pre%04d.fits`")

var bias = flag.String("bias", "", "subtract master bias frame from `file`")
var dark = flag.String("dark", "", "subtract exposure-scaled master dark frame from `file`")

var osFrom = flag.Int64("overscanFrom", 0, "first overscan column (inclusive), used for per-row bias estimation")
var osTo   = flag.Int64("overscanTo",   0, "last overscan column (exclusive), 0=no overscan correction")
var osTrim = flag.Bool ("overscanTrim", false, "trim overscan columns from the output")

var stMode    = flag.Int64("stMode", 2, "stacking mode. 0=median, 1=mean, 2=MAD sigma clipping")
var stSigLow  = flag.Float64("stSigLow",  5, "low sigma for outlier rejection as multiple of the robust scale")
var stSigHigh = flag.Float64("stSigHigh", 5, "high sigma for outlier rejection as multiple of the robust scale")
var stMask    = flag.Bool("stMask", false, "mask pixels which reject every sample instead of failing the stack")
var stMemory  = flag.Int64("stMemory", int64((totalMiBs*7)/10), "total MiB of memory to use for stacking, default=0.7x physical memory")

var httpAddr = flag.String("httpAddr", ":8080", "server address for the serve command")
var chroot   = flag.String("chroot", "", "serve: confine the process to this filesystem root (requires root)")
var setuid   = flag.Int   ("setuid", -1, "serve: drop privileges to this user id, -1=no change")

func main() {
	logWriter:=log.Writer()
	debug.SetGCPercent(10)
	start:=time.Now()
	flag.Usage=func(){
 	    fmt.Fprintf(logWriter, `ccdstack Copyright (c) 2021 The ccdstack authors
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (combine|stats|serve|legal|version) (img0.fits ... imgn.fits)

Commands:
  combine Calibrate and stack input images into a master frame
  stats   Show input image statistics
  serve   Start REST server
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
	    flag.PrintDefaults()
	}
	flag.Parse()

	// Initialize logging to file in addition to stdout, if selected
	if *logF=="%auto" {
		if *out!="" {
			*logF=strings.TrimSuffix(*out, filepath.Ext(*out))+".log"
		} else {
			*logF=""
		}
	}
	if *logF!="" {
		if err:=log.AlsoToFile(*logF); err!=nil {
			log.Fatalf("Unable to open logfile '%s'\n", *logF)
		}
	}

	// Also auto-select JPEG output target
	if *jpg=="%auto" {
		if *out!="" {
			*jpg=strings.TrimSuffix(*out, filepath.Ext(*out))+".jpg"
		} else {
			*jpg=""
		}
	}

	// Enable CPU profiling if flagged
    if *cpuprofile != "" {
        f, err := os.Create(*cpuprofile)
        if err != nil {
            log.Fatalf("Could not create CPU profile: %s\n", err.Error())
        }
        defer f.Close()
        if err := pprof.StartCPUProfile(f); err != nil {
            log.Fatalf("Could not start CPU profile: %s\n", err.Error())
        }
        defer pprof.StopCPUProfile()
    }

    args:=flag.Args()
    if len(args)<1 {
    	flag.Usage()
    	return
    }

	c:=ops.NewContext(logWriter)
	c.StackMemoryMB=int(*stMemory)

	var err error
    switch args[0] {
    case "combine":
    	err=cmdCombine(args[1:], c)

    case "stats":
    	err=cmdStats(args[1:], c)

    case "serve":
    	err=rest.Serve(*httpAddr, *chroot, *setuid)

    case "legal":
    	cmdLegal()

    case "version":
    	fmt.Fprintf(logWriter, "Version %s\n", version)

    case "help", "?":
    	flag.Usage()

    default:
    	fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
    	flag.Usage()
    	return
    }

	now:=time.Now()
	elapsed:=now.Sub(start)
	fmt.Fprintf(logWriter, "\nDone after %v\n", elapsed)

	// Store memory profile if flagged
    if *memprofile != "" {
        f, err := os.Create(*memprofile)
        if err != nil {
            log.Fatalf("Could not create memory profile: %s\n", err.Error())
        }
        defer f.Close()
        runtime.GC() // get up-to-date statistics
        if err := pprof.Lookup("allocs").WriteTo(f,0); err != nil {
            log.Fatalf("Could not write allocation profile: %s\n", err.Error())
        }
    }

    if err!=nil {
		fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
		log.Sync()
		os.Exit(-1)
	}
    log.Sync()
}


// Calibrate and stack the given frames into a master frame, in batches
// sized to the memory limit, and save the results
func cmdCombine(patterns []string, c *ops.Context) error {
	loaders, err:=ops.NewOpLoadMany(patterns).MakePromises(nil, c)
	if err!=nil { return err }

	opStack:=stack.NewOpStack(stack.StackMode(*stMode), float32(*stSigLow), float32(*stSigHigh))
	opStack.MaskDegenerate=*stMask
	opStack.RejectFile=*rejMap

	perBatch:=ops.NewOpSequence(
		pre.NewOpOverscan(int32(*osFrom), int32(*osTo), *osTrim),
		pre.NewOpCalibrate(*bias, *dark),
		ops.NewOpSave(*prePat),
		opStack,
	)
	seq:=ops.NewOpSequence(
		stack.NewOpStackBatches(perBatch),
		ops.NewOpSave(*out),
		ops.NewOpSave(*jpg),
		ops.NewOpSave(*tif),
	)

	promises, err:=seq.MakePromises(loaders, c)
	if err!=nil { return err }
	_, err=ops.MaterializeAll(promises, c.MaxThreads, true)
	return err
}

// Report per-frame statistics for the given frames
func cmdStats(patterns []string, c *ops.Context) error {
	seq:=ops.NewOpSequence(ops.NewOpLoadMany(patterns), ops.NewOpStatDefault())
	promises, err:=seq.MakePromises(nil, c)
	if err!=nil { return err }
	_, err=ops.MaterializeAll(promises, c.MaxThreads, true)
	return err
}

// Show licensing information
func cmdLegal() {
	log.Printf(`ccdstack is Copyright (c) 2021 The ccdstack authors
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.
The binary version of this program uses several open source libraries and components, which come with their own licensing terms. See below for a list of attributions.

ATTRIBUTIONS

A1. https://github.com/gonum/gonum is Copyright (c) 2013 The Gonum Authors. All rights reserved.
Released under the BSD 3-clause license, see https://github.com/gonum/gonum/blob/master/LICENSE

A2. https://github.com/pbnjay/memory is Copyright (c) 2017, Jeremy Jay. All rights reserved.
Released under the BSD 3-clause license, see https://github.com/pbnjay/memory/blob/master/LICENSE

A3. https://github.com/valyala/fastrand is Copyright (c) 2017 Aliaksandr Valialkin.
Released under the MIT license, see https://github.com/valyala/fastrand/blob/master/LICENSE

A4. https://github.com/lucasb-eyer/go-colorful is Copyright (c) 2013 Lucas Beyer.
Released under the MIT license, see https://github.com/lucasb-eyer/go-colorful/blob/master/LICENSE

A5. https://github.com/astrogo/fitsio is Copyright (c) 2015, The astrogo Authors. All rights reserved.
Released under the BSD 3-clause license, see https://github.com/astrogo/fitsio/blob/main/LICENSE

A6. https://github.com/gin-gonic/gin is Copyright (c) 2014 Manuel Martinez-Almeida.
Released under the MIT license, see https://github.com/gin-gonic/gin/blob/master/LICENSE

A7. https://golang.org/x/image is Copyright (c) 2009 The Go Authors. All rights reserved.
Released under the BSD 3-clause license, see https://cs.opensource.google/go/x/image/+/master:LICENSE

A8. https://github.com/montanaflynn/stats is Copyright (c) 2014-2020 Montana Flynn.
Released under the MIT license, see https://github.com/montanaflynn/stats/blob/master/LICENSE
`)
}
