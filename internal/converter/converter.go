// Package converter turns parsed Mermaid diagrams into draw.io documents.
package converter

import (
	"context"
	"encoding/base64"
	"log/slog"

	"github.com/rendis/drawmaid/internal/engine"
	"github.com/rendis/drawmaid/internal/layout"
	"github.com/rendis/drawmaid/internal/logging"
	"github.com/rendis/drawmaid/internal/svg"
	"github.com/rendis/drawmaid/pkg/schema"
)

// Converter handles one diagram type end to end.
type Converter interface {
	Type() schema.DiagramType
	// ParseSource fails with PARSE_ERROR only when no node can be identified.
	ParseSource(source string) (*schema.Graph, error)
	// ExtractPositions never fails; it may return an empty map.
	ExtractPositions(svg string) map[string]schema.Geometry
	BuildXML(ctx context.Context, g *schema.Graph, positions map[string]schema.Geometry, opts BuildOptions) (string, schema.ConversionStats, error)
}

// IconFetcher resolves an icon reference to an SVG body. Unavailable icons return false.
type IconFetcher interface {
	FetchIcon(ctx context.Context, serviceURL, ref string) (string, bool)
}

// BuildOptions are the per-request XML generation parameters.
type BuildOptions struct {
	IconServiceURL string
	Width          int
	Height         int
}

// Deps are the collaborators shared by every converter.
type Deps struct {
	Icons  IconFetcher
	Pool   *engine.WorkerPool
	Layout layout.Engine
	Logger *slog.Logger
	// Compressed writes the deflated, base64 diagram form.
	Compressed bool
}

// base implements position extraction and XML generation; converters add parsing.
type base struct {
	kind      schema.DiagramType
	deps      Deps
	logger    *slog.Logger
	extractor *svg.Extractor
}

func newBase(kind schema.DiagramType, profile svg.Profile, deps Deps) base {
	logger := logging.OrDiscard(deps.Logger).With(slog.String("converter", string(kind)))
	if deps.Layout == nil {
		deps.Layout = layout.DefaultGrid()
	}
	return base{
		kind:      kind,
		deps:      deps,
		logger:    logger,
		extractor: svg.NewExtractor(profile, logger),
	}
}

func (b *base) Type() schema.DiagramType {
	return b.kind
}

func (b *base) ExtractPositions(svgText string) map[string]schema.Geometry {
	return b.extractor.Extract(svgText)
}

func (b *base) BuildXML(ctx context.Context, g *schema.Graph, positions map[string]schema.Geometry, opts BuildOptions) (string, schema.ConversionStats, error) {
	var stats schema.ConversionStats
	if g == nil || len(g.Nodes) == 0 {
		return "", stats, schema.NewError(schema.ErrCodeInternal, "cannot build xml for an empty graph").
			WithStage(schema.StageXMLBuilt).
			WithDetails(map[string]any{"diagram_type": string(b.kind)})
	}
	if opts.Width <= 0 {
		opts.Width = schema.DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = schema.DefaultHeight
	}

	canvas := layout.Canvas{Width: float64(opts.Width), Height: float64(opts.Height)}
	placed := layout.Fill(ctx, b.deps.Layout, g, positions, canvas, b.logger)
	stats.Layout = placed.Engine
	stats.NodesPlaced = placed.Placed

	icons := b.fetchIcons(ctx, g, opts.IconServiceURL, &stats)

	w := newWriter(opts.Width, opts.Height)
	w.build(g, placed.Positions, icons, &stats)

	out, err := w.document(b.deps.Compressed)
	if err != nil {
		return "", stats, schema.NewError(schema.ErrCodeInternal, "encode draw.io document").
			WithStage(schema.StageXMLBuilt).WithCause(err)
	}
	logging.LogWith(ctx, b.logger).Debug("xml built",
		slog.Int("nodes", stats.NodesConverted),
		slog.Int("edges", stats.EdgesConverted),
		slog.Int("icons", stats.IconsSuccessful),
		slog.String("layout", stats.Layout))
	return out, stats, nil
}

// fetchIcons resolves service icons concurrently on the worker pool and
// returns data URIs keyed by icon ref. Failures only show up in stats.
func (b *base) fetchIcons(ctx context.Context, g *schema.Graph, serviceURL string, stats *schema.ConversionStats) map[string]string {
	out := map[string]string{}
	if serviceURL == "" || b.deps.Icons == nil {
		return out
	}

	var refs []string
	seen := map[string]bool{}
	for _, n := range g.Nodes {
		if !wantsIcon(n) {
			continue
		}
		stats.IconsAttempted++
		if !seen[n.IconRef] {
			seen[n.IconRef] = true
			refs = append(refs, n.IconRef)
		}
	}
	if len(refs) == 0 {
		return out
	}

	bodies := make([]string, len(refs))
	tasks := make([]func(context.Context) error, len(refs))
	for i, ref := range refs {
		tasks[i] = func(ctx context.Context) error {
			if body, ok := b.deps.Icons.FetchIcon(ctx, serviceURL, ref); ok {
				bodies[i] = body
			}
			return nil
		}
	}
	for i, err := range engine.RunAll(ctx, b.deps.Pool, tasks) {
		if err != nil {
			b.logger.DebugContext(ctx, "icon fetch not run", slog.String("icon", refs[i]), slog.String("error", err.Error()))
		}
	}

	for i, ref := range refs {
		if bodies[i] != "" {
			out[ref] = base64.StdEncoding.EncodeToString([]byte(bodies[i]))
		}
	}
	for _, n := range g.Nodes {
		if wantsIcon(n) && out[n.IconRef] != "" {
			stats.IconsSuccessful++
		}
	}
	return out
}

// wantsIcon reports whether a node's icon is looked up. Group icons are not drawn.
func wantsIcon(n schema.Node) bool {
	return n.HasIcon && n.IconRef != "" && n.Kind == schema.NodeService
}
