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


package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"github.com/gin-gonic/gin"

	"github.com/astrokit/ccdstack/internal/ops"
	"github.com/astrokit/ccdstack/internal/stack"
)


// Runs the REST server on the given address, optionally confined to a
// chroot and an unprivileged user id (-1 to skip)
func Serve(addr string, chroot string, setuid int) error {
	if err:=sandbox(chroot, setuid); err!=nil { return err }

	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET ("/ping",    getPing)
			v1.POST("/stats",   postStats)
			v1.POST("/combine", postCombine)
		}
	}
	return r.Run(addr)
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m,err:=json.MarshalIndent(args, "", "  ")
	if err!=nil { return err }
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

// Switches the response to a streaming text log, so long-running combines
// report progress as they go
func beginTextLog(c *gin.Context) io.Writer {
	logWriter := c.Writer
	logWriter.Header().Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)
	return logWriter
}

type postStatsArgs struct {
	FilePatterns []string    `json:"filePatterns"`
	Stat         *ops.OpStat `json:"stat"`
}

func postStats(c *gin.Context)  {
	var args postStatsArgs
	if err:=c.ShouldBind(&args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}
	if args.Stat==nil { args.Stat=ops.NewOpStatDefault() }

	logWriter:=beginTextLog(c)
	if err:=printArgs(logWriter, "Arguments:\n", "\n", args); err!=nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	opsCtx:=ops.NewContext(logWriter)
	seq:=ops.NewOpSequence(ops.NewOpLoadMany(args.FilePatterns), args.Stat)
	promises, err:=seq.MakePromises(nil, opsCtx)
	if err!=nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return
	}
	if _, err=ops.MaterializeAll(promises, opsCtx.MaxThreads, true); err!=nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
	c.Writer.(http.Flusher).Flush()
}

type postCombineArgs struct {
	FilePatterns []string              `json:"filePatterns"`
	Combine      *stack.OpStackBatches `json:"combine"`
}

func postCombine(c *gin.Context) {
	var args postCombineArgs
	if err:=c.ShouldBind(&args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}
	if args.Combine==nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing combine parameters"} )
		return
	}

	logWriter:=beginTextLog(c)
	if err:=printArgs(logWriter, "Arguments:\n", "\n", args); err!=nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	opsCtx:=ops.NewContext(logWriter)
	loaders, err:=ops.NewOpLoadMany(args.FilePatterns).MakePromises(nil, opsCtx)
	if err!=nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return
	}
	promises, err:=args.Combine.MakePromises(loaders, opsCtx)
	if err!=nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return
	}
	if _, err=ops.MaterializeAll(promises, opsCtx.MaxThreads, true); err!=nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
	c.Writer.(http.Flusher).Flush()
}
