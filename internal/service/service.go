// Package service runs the Mermaid to draw.io conversion pipeline.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/drawmaid/internal/converter"
	"github.com/rendis/drawmaid/internal/detect"
	"github.com/rendis/drawmaid/internal/engine"
	"github.com/rendis/drawmaid/internal/expressions"
	"github.com/rendis/drawmaid/internal/layout"
	"github.com/rendis/drawmaid/internal/logging"
	"github.com/rendis/drawmaid/internal/validation"
	"github.com/rendis/drawmaid/pkg/schema"
)

// Defaults for Config.
const (
	DefaultIconWorkers  = 8
	DefaultBatchWorkers = 4
)

// Rasterizer renders SVG text to PNG bytes.
type Rasterizer interface {
	Rasterize(ctx context.Context, svg string, width, height int, transparent bool) ([]byte, error)
}

// Config holds the runtime limits and switches of a Service.
type Config struct {
	Validation validation.Config
	// IconWorkers bounds concurrent icon lookups across all requests.
	IconWorkers int
	// BatchWorkers bounds concurrent requests in ConvertBatch.
	BatchWorkers int
	// AllowUnsupportedFallback converts unsupported diagrams with the generic converter.
	AllowUnsupportedFallback bool
	// Compressed writes draw.io's deflated diagram form.
	Compressed bool
}

// Collaborators are the pluggable parts of a Service. All are optional.
type Collaborators struct {
	Icons      converter.IconFetcher
	Rasterizer Rasterizer
	Layout     layout.Engine
	Events     engine.EventAppender
	Logger     *slog.Logger
	// Constructors overrides converters by diagram type.
	Constructors map[schema.DiagramType]converter.Constructor
}

// Service validates, detects, converts and optionally embeds diagrams.
// It is safe for concurrent use.
type Service struct {
	cfg       Config
	validator *validation.InputValidator
	detector  *detect.Detector
	factory   *converter.Factory
	raster    Rasterizer
	fsm       *engine.StageFSM
	icons     *engine.WorkerPool
	batch     *engine.WorkerPool
	logger    *slog.Logger
}

// New wires a Service. Close releases its worker pools.
func New(cfg Config, c Collaborators) (*Service, error) {
	if cfg.IconWorkers <= 0 {
		cfg.IconWorkers = DefaultIconWorkers
	}
	if cfg.BatchWorkers <= 0 {
		cfg.BatchWorkers = DefaultBatchWorkers
	}
	logger := logging.OrDiscard(c.Logger)

	validator, err := validation.NewInputValidator(cfg.Validation, expressions.NewExprEngine(), logger)
	if err != nil {
		return nil, fmt.Errorf("create validator: %w", err)
	}
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, fmt.Errorf("create cel engine: %w", err)
	}

	// Icon lookups and batch requests use separate pools so a batch that
	// fills its pool never starves the icon fetches it waits on.
	iconPool := engine.NewWorkerPool(cfg.IconWorkers)
	opts := []converter.FactoryOption{converter.WithUnsupportedFallback(cfg.AllowUnsupportedFallback)}
	if c.Constructors != nil {
		opts = append(opts, converter.WithConstructors(c.Constructors))
	}
	factory := converter.NewFactory(converter.Deps{
		Icons:      c.Icons,
		Pool:       iconPool,
		Layout:     c.Layout,
		Logger:     logger,
		Compressed: cfg.Compressed,
	}, opts...)

	return &Service{
		cfg:       cfg,
		validator: validator,
		detector:  detect.New(celEngine, detect.WithLogger(logger)),
		factory:   factory,
		raster:    c.Rasterizer,
		fsm:       engine.NewStageFSM(c.Events),
		icons:     iconPool,
		batch:     engine.NewWorkerPool(cfg.BatchWorkers),
		logger:    logger,
	}, nil
}

// Close waits for in-flight work and stops the worker pools.
func (s *Service) Close() {
	s.batch.Shutdown()
	s.icons.Shutdown()
}

// FSM exposes the stage machine so callers can register hooks.
func (s *Service) FSM() *engine.StageFSM {
	return s.fsm
}

// SupportedTypes lists the diagram types with a converter.
func (s *Service) SupportedTypes() []schema.DiagramType {
	return s.factory.Types()
}

// Detect classifies source without converting it.
func (s *Service) Detect(ctx context.Context, source string) schema.DetectionResult {
	return s.detector.DetectContext(ctx, source)
}

// Validate runs only the input checks.
func (s *Service) Validate(ctx context.Context, source, svg string, opts schema.ConvertOptions) *schema.ValidationResult {
	opts = opts.WithDefaults()
	return s.validator.ValidateContext(ctx, source, svg, &opts)
}

// PoolMetrics reports both worker pools.
func (s *Service) PoolMetrics() map[string]engine.PoolMetrics {
	return map[string]engine.PoolMetrics{
		"icons": s.icons.Metrics(),
		"batch": s.batch.Metrics(),
	}
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
