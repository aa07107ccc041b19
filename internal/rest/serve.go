// Copyright (C) 2021 Markus L. Noga
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
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mlnoga/denoiseprofile/internal/nlmeans"
	"github.com/mlnoga/denoiseprofile/internal/noise"
	"github.com/mlnoga/denoiseprofile/internal/ops"
	"github.com/mlnoga/denoiseprofile/internal/ops/denoise"
	"github.com/mlnoga/denoiseprofile/internal/stats"
	"github.com/mlnoga/denoiseprofile/internal/tiling"
)

// Returns a router with all API endpoints
func NewRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/denoise", postDenoise)
			v1.POST("/tiling", postTiling)
			v1.POST("/fit", postFit)
		}
	}
	return r
}

// Serves the API on the given address, e.g. ":8080". Blocks until the server fails
func Serve(addr string) error {
	return NewRouter().Run(addr)
}

func getPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

// Starts a streamed plain text response
func startLog(c *gin.Context) gin.ResponseWriter {
	logWriter := c.Writer
	logWriter.Header().Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)
	return logWriter
}

// Context for operators on behalf of a request. File access stays within the working directory
func newOpsContext(c *gin.Context, logWriter io.Writer) *ops.Context {
	oc := ops.NewContext(logWriter)
	oc.Ctx = c.Request.Context()
	oc.RestrictPaths = true
	return oc
}

type postDenoiseArgs struct {
	FilePatterns []string                  `json:"filePatterns"`
	Denoise      *denoise.OpDenoiseProfile `json:"denoise"`
	Save         *ops.OpSave               `json:"save"`
}

func postDenoise(c *gin.Context) {
	var args postDenoiseArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(args.FilePatterns) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file patterns given"})
		return
	}
	if args.Denoise == nil {
		args.Denoise = denoise.NewOpDenoiseProfileDefault()
	}
	if args.Save == nil {
		args.Save = ops.NewOpSaveDefault()
	}

	logWriter := startLog(c)
	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	oc := newOpsContext(c, logWriter)
	seq := ops.NewOpSequence(ops.NewOpLoadMany(args.FilePatterns), args.Denoise, args.Save)
	promises, err := seq.MakePromises(nil, oc)
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return
	}
	if _, err = oc.Materialize(promises, true); err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	} else {
		fmt.Fprintf(logWriter, "Done.\n")
	}
	logWriter.Flush()
}

type postTilingArgs struct {
	Radius float32 `json:"radius"`
	Scale  float32 `json:"scale"`
	IScale float32 `json:"iscale"`
}

func postTiling(c *gin.Context) {
	args := postTilingArgs{Radius: 1, Scale: 1, IScale: 1}
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	params := nlmeans.ParamsFromUI(args.Radius, 1, args.Scale, args.IScale)
	if !(args.Scale > 0) || !(args.IScale > 0) || params.Validate() != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid radius %g, scale %g or input scale %g",
			args.Radius, args.Scale, args.IScale)})
		return
	}
	req := tiling.ForParams(params)
	c.JSON(http.StatusOK, gin.H{
		"patchRadius":  params.P,
		"searchRadius": params.K,
		"overlap":      req.Overlap,
		"factor":       req.Factor,
		"overhead":     req.Overhead,
		"xalign":       req.XAlign,
		"yalign":       req.YAlign,
	})
}

type postFitArgs struct {
	FileName string `json:"fileName"`
}

func postFit(c *gin.Context) {
	var args postFitArgs
	if err := c.ShouldBindJSON(&args); err != nil || args.FileName == "" {
		if err == nil {
			err = errors.New("no file name given")
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	oc := newOpsContext(c, io.Discard)
	promises, err := ops.NewOpLoad(0, args.FileName).MakePromises(nil, oc)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	img, err := promises[0]()
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	model, err := noise.Fit(img, noise.DefaultFitOptions, oc.Log)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	var sigma [3]float32
	for ch := 0; ch < 3; ch++ {
		sigma[ch] = noise.EstimateNoise(img.Channel(ch), img.Width)
	}
	st := stats.ForImage(img, stats.DefaultSamples)
	c.JSON(http.StatusOK, gin.H{
		"model": model,
		"noise": sigma,
		"stats": st,
	})
}
