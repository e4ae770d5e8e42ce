// Package raster turns SVG documents into PNG images.
package raster

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"
	"time"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"

	"github.com/rendis/drawmaid/pkg/schema"
)

// DefaultTimeout bounds a single rasterization.
const DefaultTimeout = 20 * time.Second

// OKSVG rasterizes with oksvg and rasterx. Unsupported SVG features such as
// foreignObject labels are skipped rather than failing the render.
type OKSVG struct {
	Timeout time.Duration
	// Strict fails on any SVG element oksvg does not understand.
	Strict bool
}

// Rasterize renders svg to a width x height PNG. The work runs in its own
// goroutine so a cancelled context returns immediately.
func (r OKSVG) Rasterize(ctx context.Context, svg string, width, height int, transparent bool) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, rasterErr(fmt.Sprintf("invalid canvas %dx%d", width, height), nil)
	}
	if strings.TrimSpace(svg) == "" {
		return nil, rasterErr("svg is empty", nil)
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: rasterErr(fmt.Sprintf("rasterizer panic: %v", p), nil)}
			}
		}()
		data, err := r.render(svg, width, height, transparent)
		done <- result{data, err}
	}()

	select {
	case res := <-done:
		return res.data, res.err
	case <-ctx.Done():
		return nil, rasterErr("rasterization abandoned", ctx.Err())
	}
}

func (r OKSVG) render(svg string, width, height int, transparent bool) ([]byte, error) {
	mode := oksvg.IgnoreErrorMode
	if r.Strict {
		mode = oksvg.StrictErrorMode
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader([]byte(svg)), mode)
	if err != nil {
		return nil, rasterErr("parse svg", err)
	}
	icon.SetTarget(0, 0, float64(width), float64(height))

	rgba := image.NewRGBA(image.Rect(0, 0, width, height))
	if !transparent {
		draw.Draw(rgba, rgba.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	}

	scanner := rasterx.NewScannerGV(width, height, rgba, rgba.Bounds())
	raster := rasterx.NewDasher(width, height, scanner)
	icon.Draw(raster, 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, rgba); err != nil {
		return nil, rasterErr("encode png", err)
	}
	return buf.Bytes(), nil
}

func rasterErr(msg string, cause error) error {
	e := schema.NewError(schema.ErrCodeRasterize, msg).WithStage(schema.StageRasterized)
	if cause != nil {
		e = e.WithCause(cause)
	}
	return e
}
