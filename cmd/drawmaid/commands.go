package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rendis/drawmaid/internal/expressions"
	"github.com/rendis/drawmaid/internal/pngmeta"
	"github.com/rendis/drawmaid/internal/service"
	"github.com/rendis/drawmaid/pkg/mcp"
	"github.com/rendis/drawmaid/pkg/schema"
)

func runConvert(args []string) int {
	cfg := loadConfig()
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	in := fs.String("in", "-", "Mermaid source file (- for stdin)")
	svgPath := fs.String("svg", "", "SVG rendered from the same source")
	out := fs.String("out", "", "output file (default stdout)")
	format := fs.String("format", "xml", "output format: xml or png")
	width := fs.Int("width", cfg.Width, "canvas width")
	height := fs.Int("height", cfg.Height, "canvas height")
	iconURL := fs.String("icons", cfg.IconServiceURL, "icon service base URL")
	transparent := fs.Bool("transparent", false, "transparent PNG background")
	query := fs.String("query", "", "jq expression over the result metadata; printed instead of the document")
	verbose := fs.Bool("v", false, "debug logging and metadata on stderr")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	source, err := readInput(*in)
	if err != nil {
		return fail(err)
	}
	var svgText string
	if *svgPath != "" {
		b, err := os.ReadFile(*svgPath)
		if err != nil {
			return fail(err)
		}
		svgText = string(b)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := newLogger(cfg.LogLevel, *verbose)
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	res, err := a.svc.Convert(ctx, service.Request{
		Source: string(source),
		SVG:    svgText,
		Options: schema.ConvertOptions{
			Width:                 *width,
			Height:                *height,
			IconServiceURL:        *iconURL,
			OutputFormat:          schema.OutputFormat(*format),
			TransparentBackground: *transparent,
		},
	})
	if err != nil {
		return fail(err)
	}
	if *verbose {
		_ = printJSON(os.Stderr, res.Metadata)
	}

	if *query != "" {
		v, err := expressions.NewGoJQEngine().Evaluate(ctx, *query, res.Metadata)
		if err != nil {
			return fail(schema.NewError(schema.ErrCodeExpression, "query failed").WithCause(err))
		}
		return exitOn(printJSON(os.Stdout, v))
	}

	body := []byte(res.XML)
	if len(res.PNG) > 0 {
		body = res.PNG
	}
	return exitOn(writeOutput(*out, body))
}

func runDetect(args []string) int {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	in := fs.String("in", "-", "Mermaid source file (- for stdin)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	source, err := readInput(*in)
	if err != nil {
		return fail(err)
	}

	cfg := loadConfig()
	a, err := newApp(context.Background(), cfg, newLogger(cfg.LogLevel, false))
	if err != nil {
		return fail(err)
	}
	defer a.Close()
	return exitOn(printJSON(os.Stdout, a.svc.Detect(context.Background(), string(source))))
}

func runValidate(args []string) int {
	cfg := loadConfig()
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	in := fs.String("in", "-", "Mermaid source file (- for stdin)")
	svgPath := fs.String("svg", "", "rendered SVG to check")
	format := fs.String("format", "xml", "requested output format")
	width := fs.Int("width", cfg.Width, "canvas width")
	height := fs.Int("height", cfg.Height, "canvas height")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	source, err := readInput(*in)
	if err != nil {
		return fail(err)
	}
	var svgText string
	if *svgPath != "" {
		b, err := os.ReadFile(*svgPath)
		if err != nil {
			return fail(err)
		}
		svgText = string(b)
	}

	a, err := newApp(context.Background(), cfg, newLogger(cfg.LogLevel, false))
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	vr := a.svc.Validate(context.Background(), string(source), svgText, schema.ConvertOptions{
		Width:        *width,
		Height:       *height,
		OutputFormat: schema.OutputFormat(*format),
	})
	if err := printJSON(os.Stdout, vr); err != nil {
		return fail(err)
	}
	if !vr.Valid() {
		return 1
	}
	return 0
}

func runExtract(args []string) int {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	in := fs.String("in", "", "PNG file")
	key := fs.String("key", pngmeta.KeyGraphModel, "text chunk keyword")
	out := fs.String("out", "", "output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *in == "" {
		fmt.Fprintln(os.Stderr, "extract: -in is required")
		return 2
	}
	img, err := os.ReadFile(*in)
	if err != nil {
		return fail(err)
	}
	xml, err := pngmeta.Extract(img, *key)
	if err != nil {
		return fail(err)
	}
	return exitOn(writeOutput(*out, []byte(xml)))
}

func runMCP(args []string) int {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	verbose := fs.Bool("v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Logs go to stderr; stdout carries the protocol.
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel, *verbose)
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	srv := mcp.NewServer(mcp.ServerDeps{
		Service: a.svc,
		Hub:     a.hub,
		Version: version,
		Logger:  logger,
	})
	logger.Info("mcp server listening on stdio", "version", version)
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fail(err)
	}
	return 0
}

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func writeOutput(path string, body []byte) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(body)
		return err
	}
	return os.WriteFile(path, body, 0o644)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// fail prints err to stderr, as JSON for conversion errors, and returns exit code 1.
func fail(err error) int {
	var ce *schema.ConvertError
	if errors.As(err, &ce) {
		_ = printJSON(os.Stderr, ce)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return 1
}

func exitOn(err error) int {
	if err != nil {
		return fail(err)
	}
	return 0
}
