package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rendis/drawmaid/internal/engine"
	"github.com/rendis/drawmaid/internal/icons"
	"github.com/rendis/drawmaid/internal/layout"
	"github.com/rendis/drawmaid/internal/logging"
	"github.com/rendis/drawmaid/internal/raster"
	"github.com/rendis/drawmaid/internal/service"
	"github.com/rendis/drawmaid/internal/streaming"
	"github.com/rendis/drawmaid/internal/validation"
)

// app is the wired runtime shared by every subcommand.
type app struct {
	cfg     Config
	svc     *service.Service
	icons   *icons.HTTPProvider
	janitor *icons.Janitor
	hub     *streaming.MemoryHub
	logger  *slog.Logger
}

func newLogger(level string, verbose bool) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func newLayout(name string, logger *slog.Logger) layout.Engine {
	if name == "dot" {
		return layout.DOT{Logger: logger}
	}
	return layout.DefaultGrid()
}

// newApp wires the service and its default collaborators from cfg.
func newApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	provider := icons.NewHTTPProvider(icons.Config{
		Timeout:  duration(cfg.IconTimeout, 3*time.Second),
		CacheTTL: duration(cfg.IconCacheTTL, time.Hour),
		Retry: engine.RetryPolicy{
			Attempts: cfg.IconRetries,
			Delay:    100 * time.Millisecond,
			MaxDelay: time.Second,
			Backoff:  engine.BackoffExponential,
		},
		Logger: logger,
	})

	janitor, err := icons.NewJanitor(provider.Cache(), cfg.IconSweep, logger)
	if err != nil {
		return nil, fmt.Errorf("icon cache janitor: %w", err)
	}
	if err := janitor.Start(ctx); err != nil {
		return nil, err
	}

	hub := streaming.NewMemoryHub()
	svc, err := service.New(service.Config{
		Validation:               validation.DefaultConfig(),
		IconWorkers:              cfg.IconWorkers,
		AllowUnsupportedFallback: cfg.Fallback,
		Compressed:               cfg.Compressed,
	}, service.Collaborators{
		Icons:      provider,
		Rasterizer: raster.OKSVG{Timeout: duration(cfg.RasterTimeout, raster.DefaultTimeout)},
		Layout:     newLayout(cfg.Layout, logger),
		Events:     hub,
		Logger:     logger,
	})
	if err != nil {
		janitor.Stop()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		svc:     svc,
		icons:   provider,
		janitor: janitor,
		hub:     hub,
		logger:  logger,
	}, nil
}

func (a *app) Close() {
	a.svc.Close()
	a.janitor.Stop()
	a.logger.Debug("shutdown", slog.Any("icons", a.icons.Stats()))
}
