package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/drawmaid/internal/converter"
	"github.com/rendis/drawmaid/internal/engine"
	"github.com/rendis/drawmaid/internal/logging"
	"github.com/rendis/drawmaid/internal/pngmeta"
	"github.com/rendis/drawmaid/pkg/schema"
)

// Request is one conversion job.
type Request struct {
	// ID is used as the request id when set; otherwise a uuid is generated.
	ID      string                `json:"id,omitempty"`
	Source  string                `json:"source"`
	SVG     string                `json:"svg,omitempty"`
	Options schema.ConvertOptions `json:"options"`
}

// Result is a finished conversion.
type Result struct {
	RequestID  string                         `json:"request_id"`
	XML        string                         `json:"xml"`
	PNG        []byte                         `json:"png,omitempty"`
	Detection  schema.DetectionResult         `json:"detection"`
	Stats      schema.ConversionStats         `json:"stats"`
	Validation *schema.ValidationResult       `json:"validation"`
	Durations  map[schema.Stage]time.Duration `json:"durations"`
	Metadata   map[string]any                 `json:"metadata"`
}

// BatchItem pairs a batch request's result with its error.
type BatchItem struct {
	Result *Result
	Err    error
}

// Convert runs the full pipeline for one request. Failures are typed
// *schema.ConvertError values; icon lookups never fail a conversion.
func (s *Service) Convert(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res := &Result{RequestID: req.ID}
	if res.RequestID == "" {
		res.RequestID = uuid.NewString()
	}
	ctx = logging.WithRequestID(ctx, res.RequestID)
	tr := s.fsm.Tracker(res.RequestID)

	err := s.run(ctx, tr, req, res)
	res.Durations = tr.Durations()
	if err != nil {
		tr.Fail(context.WithoutCancel(ctx), err)
		logging.LogWith(ctx, s.logger).Warn("conversion failed",
			slog.String("stage", string(tr.Current())),
			slog.String("error", err.Error()),
			slog.Int64("duration_ms", elapsedMs(start)))
		return nil, err
	}

	res.Metadata["duration_ms"] = elapsedMs(start)
	logging.LogWith(ctx, s.logger).Info("conversion done",
		slog.String("diagram_type", string(res.Detection.Type)),
		slog.Int("nodes", res.Stats.NodesConverted),
		slog.Int("edges", res.Stats.EdgesConverted),
		slog.Int64("duration_ms", elapsedMs(start)))
	return res, nil
}

func (s *Service) run(ctx context.Context, tr *engine.StageTracker, req Request, res *Result) error {
	advance := func(to schema.Stage, payload map[string]any) error {
		if err := ctx.Err(); err != nil {
			return cancelled(tr.Current(), err)
		}
		return tr.Advance(logging.WithStage(ctx, string(to)), to, payload)
	}
	if err := ctx.Err(); err != nil {
		return cancelled(tr.Current(), err)
	}

	opts := req.Options.WithDefaults()
	vr := s.validator.ValidateContext(ctx, req.Source, req.SVG, &opts)
	res.Validation = vr
	if err := vr.ToError(); err != nil {
		return err
	}
	if err := advance(schema.StageValidated, map[string]any{"warnings": len(vr.Warnings)}); err != nil {
		return err
	}

	det := s.detector.DetectContext(ctx, req.Source)
	res.Detection = det
	ctx = logging.WithDiagramType(ctx, string(det.Type))
	if err := advance(schema.StageTypeDetected, map[string]any{
		"diagram_type": string(det.Type),
		"confidence":   det.Confidence,
	}); err != nil {
		return err
	}

	conv, err := s.factory.For(det.Type)
	if err != nil {
		return err
	}
	if err := advance(schema.StageConverterSelected, map[string]any{"converter": string(conv.Type())}); err != nil {
		return err
	}

	g, err := conv.ParseSource(req.Source)
	if err != nil {
		return err
	}
	if err := advance(schema.StageSourceParsed, map[string]any{"nodes": len(g.Nodes), "edges": len(g.Edges)}); err != nil {
		return err
	}

	positions := map[string]schema.Geometry{}
	if req.SVG != "" {
		positions = conv.ExtractPositions(req.SVG)
	}
	if err := advance(schema.StagePositionsExtracted, map[string]any{"positions": len(positions)}); err != nil {
		return err
	}

	xml, stats, err := conv.BuildXML(ctx, g, positions, converter.BuildOptions{
		IconServiceURL: opts.IconServiceURL,
		Width:          opts.Width,
		Height:         opts.Height,
	})
	if err != nil {
		return err
	}
	res.XML, res.Stats = xml, stats
	if err := advance(schema.StageXMLBuilt, map[string]any{"nodes": stats.NodesConverted, "edges": stats.EdgesConverted}); err != nil {
		return err
	}

	if opts.OutputFormat == schema.FormatPNG {
		if err := s.embed(ctx, req.SVG, opts, res, advance); err != nil {
			return err
		}
	}

	res.Metadata = metadata(res, len(positions))
	return advance(schema.StageDone, nil)
}

func (s *Service) embed(ctx context.Context, svg string, opts schema.ConvertOptions, res *Result, advance func(schema.Stage, map[string]any) error) error {
	if s.raster == nil {
		return schema.NewError(schema.ErrCodeInternal, "png output requested but no rasterizer is configured").
			WithStage(schema.StageRasterized)
	}
	img, err := s.raster.Rasterize(ctx, svg, opts.Width, opts.Height, opts.TransparentBackground)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return cancelled(schema.StageXMLBuilt, ctxErr)
		}
		return asConvertError(err, schema.ErrCodeRasterize, schema.StageRasterized, "rasterize svg")
	}
	if err := advance(schema.StageRasterized, map[string]any{"png_size": len(img)}); err != nil {
		return err
	}

	out, err := pngmeta.Embed(res.XML, img)
	if err != nil {
		return err
	}
	res.PNG = out
	return advance(schema.StageXMLEmbedded, map[string]any{"png_size": len(out)})
}

// ConvertBatch converts independent requests concurrently. Items keep input order.
func (s *Service) ConvertBatch(ctx context.Context, reqs []Request) []BatchItem {
	items := make([]BatchItem, len(reqs))
	tasks := make([]func(context.Context) error, len(reqs))
	for i, req := range reqs {
		tasks[i] = func(ctx context.Context) error {
			items[i].Result, items[i].Err = s.Convert(ctx, req)
			return nil
		}
	}
	for i, err := range engine.RunAll(ctx, s.batch, tasks) {
		if err != nil && items[i].Err == nil && items[i].Result == nil {
			items[i].Err = cancelled(schema.StageReceived, err)
		}
	}
	return items
}

func metadata(res *Result, positions int) map[string]any {
	st := res.Stats
	md := map[string]any{
		"request_id":          res.RequestID,
		"diagram_type":        string(res.Detection.Type),
		"type_name":           res.Detection.TypeName,
		"confidence":          res.Detection.Confidence,
		"nodes_converted":     st.NodesConverted,
		"edges_converted":     st.EdgesConverted,
		"icons_attempted":     st.IconsAttempted,
		"icons_successful":    st.IconsSuccessful,
		"icon_success_rate":   st.IconSuccessRate(),
		"services_created":    st.ServicesCreated,
		"groups_created":      st.GroupsCreated,
		"junctions_created":   st.JunctionsCreated,
		"positions_extracted": positions,
		"nodes_placed":        st.NodesPlaced,
		"layout":              st.Layout,
		"warnings":            warnings(res.Validation),
	}
	if res.PNG != nil {
		md["png_size"] = len(res.PNG)
		md["embedded_xml"] = true
	}
	return md
}

func warnings(vr *schema.ValidationResult) []string {
	if vr == nil || vr.Warnings == nil {
		return []string{}
	}
	return vr.Warnings
}

func cancelled(stage schema.Stage, cause error) error {
	return schema.NewError(schema.ErrCodeCancelled, "conversion cancelled").
		WithStage(stage).WithCause(cause)
}

// asConvertError keeps typed errors and wraps everything else.
func asConvertError(err error, code string, stage schema.Stage, msg string) error {
	var ce *schema.ConvertError
	if errors.As(err, &ce) {
		return err
	}
	return schema.NewError(code, msg).WithStage(stage).WithCause(err)
}
