package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/drawmaid/internal/converter"
	"github.com/rendis/drawmaid/internal/icons"
	"github.com/rendis/drawmaid/internal/pngmeta"
	"github.com/rendis/drawmaid/internal/streaming"
	"github.com/rendis/drawmaid/pkg/schema"
)

const flowSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 200">
  <g class="node default" id="flowchart-A-0" transform="translate(50, 30)">
    <rect class="basic label-container" x="-40" y="-20" width="80" height="40"/>
  </g>
  <g class="node default" id="flowchart-B-1" transform="translate(50, 130)">
    <rect class="basic label-container" x="-40" y="-20" width="80" height="40"/>
  </g>
</svg>`

// fakeRaster returns a small opaque PNG and records calls.
type fakeRaster struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeRaster) Rasterize(_ context.Context, _ string, w, h int, _ bool) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// recorder collects stage events.
type recorder struct {
	mu     sync.Mutex
	events []schema.StageEvent
}

func (r *recorder) AppendEvent(_ context.Context, e *schema.StageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *e)
	return nil
}

func (r *recorder) stages() []schema.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schema.Stage, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.To)
	}
	return out
}

func newService(t *testing.T, cfg Config, c Collaborators) *Service {
	t.Helper()
	s, err := New(cfg, c)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestConvert_FlowchartXML(t *testing.T) {
	rec := &recorder{}
	s := newService(t, Config{}, Collaborators{Events: rec})

	res, err := s.Convert(context.Background(), Request{Source: "graph TD\nA-->B"})
	require.NoError(t, err)

	assert.NotEmpty(t, res.RequestID)
	assert.Equal(t, schema.DiagramFlowchart, res.Detection.Type)
	assert.Equal(t, 2, res.Stats.NodesConverted)
	assert.Equal(t, 1, res.Stats.EdgesConverted)
	assert.Nil(t, res.PNG)

	m, err := converter.Decode(res.XML)
	require.NoError(t, err)
	assert.Len(t, m.Vertices(), 2)
	assert.Len(t, m.Edges(), 1)

	md := res.Metadata
	assert.Equal(t, "flowchart", md["diagram_type"])
	assert.Equal(t, 2, md["nodes_converted"])
	assert.Equal(t, 1, md["edges_converted"])
	assert.Equal(t, 0, md["icons_attempted"])
	assert.Equal(t, 0.0, md["icon_success_rate"])
	assert.Equal(t, 0, md["positions_extracted"])
	assert.Equal(t, "grid", md["layout"])
	assert.Contains(t, md, "duration_ms")
	assert.NotContains(t, md, "png_size")

	assert.Equal(t, []schema.Stage{
		schema.StageValidated,
		schema.StageTypeDetected,
		schema.StageConverterSelected,
		schema.StageSourceParsed,
		schema.StagePositionsExtracted,
		schema.StageXMLBuilt,
		schema.StageDone,
	}, rec.stages())
	assert.Contains(t, res.Durations, schema.StageDone)
}

func TestConvert_UsesSVGPositions(t *testing.T) {
	s := newService(t, Config{}, Collaborators{})

	res, err := s.Convert(context.Background(), Request{Source: "graph TD\nA-->B", SVG: flowSVG})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Metadata["positions_extracted"])
	assert.Equal(t, "svg", res.Stats.Layout)

	m, err := converter.Decode(res.XML)
	require.NoError(t, err)
	a, ok := m.Cell("node-A")
	require.True(t, ok)
	assert.Equal(t, "10", a.Geometry.X)
	assert.Equal(t, "10", a.Geometry.Y)
	assert.Equal(t, "80", a.Geometry.Width)
}

func TestConvert_ScriptInSVGRejectedBeforeParsing(t *testing.T) {
	rec := &recorder{}
	s := newService(t, Config{}, Collaborators{Events: rec})

	svg := `<svg xmlns="http://www.w3.org/2000/svg"><script>alert(1)</script></svg>`
	res, err := s.Convert(context.Background(), Request{Source: "graph TD\nA-->B", SVG: svg})
	require.Error(t, err)
	assert.Nil(t, res)

	var ce *schema.ConvertError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, schema.ErrCodeValidation, ce.Code)
	assert.NotEmpty(t, ce.Errors)
	assert.Contains(t, ce.Errors[0], "suspicious content")

	assert.Equal(t, []schema.Stage{schema.StageFailed}, rec.stages())
}

func TestConvert_EmptySource(t *testing.T) {
	s := newService(t, Config{}, Collaborators{})
	_, err := s.Convert(context.Background(), Request{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestConvert_ArchitectureIconUnavailable(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/icons/{pack}/{file}", http.NotFound)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	s := newService(t, Config{}, Collaborators{Icons: icons.NewHTTPProvider(icons.Config{})})
	res, err := s.Convert(context.Background(), Request{
		Source:  "architecture-beta\n    service db(database)[Database]",
		Options: schema.ConvertOptions{IconServiceURL: srv.URL},
	})
	require.NoError(t, err)

	assert.Equal(t, schema.DiagramArchitecture, res.Detection.Type)
	assert.Equal(t, 1, res.Stats.IconsAttempted)
	assert.Equal(t, 0, res.Stats.IconsSuccessful)
	assert.Equal(t, 1, res.Stats.ServicesCreated)

	m, err := converter.Decode(res.XML)
	require.NoError(t, err)
	db, ok := m.Cell("node-db")
	require.True(t, ok)
	assert.NotContains(t, db.Style, "image=")
}

func TestConvert_ArchitectureIconEmbedded(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/icons/{pack}/{file}", func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 1 1"/>`))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	s := newService(t, Config{}, Collaborators{Icons: icons.NewHTTPProvider(icons.Config{})})
	res, err := s.Convert(context.Background(), Request{
		Source:  "architecture-beta\nservice db(database)[Database]\nservice api(server)[API]\ndb:R --> L:api",
		Options: schema.ConvertOptions{IconServiceURL: srv.URL},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stats.IconsSuccessful)
	assert.Equal(t, 1.0, res.Metadata["icon_success_rate"])
}

func TestConvert_PNGMode(t *testing.T) {
	rec := &recorder{}
	raster := &fakeRaster{}
	s := newService(t, Config{}, Collaborators{Rasterizer: raster, Events: rec})

	res, err := s.Convert(context.Background(), Request{
		Source:  "graph TD\nA-->B",
		SVG:     flowSVG,
		Options: schema.ConvertOptions{OutputFormat: schema.FormatPNG},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.PNG)
	assert.Equal(t, 1, raster.calls)

	embedded, err := pngmeta.Extract(res.PNG, pngmeta.KeyGraphModel)
	require.NoError(t, err)
	assert.Equal(t, res.XML, embedded)

	assert.Equal(t, len(res.PNG), res.Metadata["png_size"])
	assert.Equal(t, true, res.Metadata["embedded_xml"])

	stages := rec.stages()
	assert.Equal(t, []schema.Stage{schema.StageXMLBuilt, schema.StageRasterized, schema.StageXMLEmbedded, schema.StageDone}, stages[len(stages)-4:])
}

func TestConvert_PNGModeNeedsSVG(t *testing.T) {
	s := newService(t, Config{}, Collaborators{Rasterizer: &fakeRaster{}})
	_, err := s.Convert(context.Background(), Request{
		Source:  "graph TD\nA-->B",
		Options: schema.ConvertOptions{OutputFormat: schema.FormatPNG},
	})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestConvert_PNGModeWithoutRasterizer(t *testing.T) {
	s := newService(t, Config{}, Collaborators{})
	_, err := s.Convert(context.Background(), Request{
		Source:  "graph TD\nA-->B",
		SVG:     flowSVG,
		Options: schema.ConvertOptions{OutputFormat: schema.FormatPNG},
	})
	assert.True(t, schema.IsCode(err, schema.ErrCodeInternal))
}

func TestConvert_RasterFailureIsTyped(t *testing.T) {
	cause := errors.New("out of memory")
	s := newService(t, Config{}, Collaborators{Rasterizer: &fakeRaster{err: cause}})
	_, err := s.Convert(context.Background(), Request{
		Source:  "graph TD\nA-->B",
		SVG:     flowSVG,
		Options: schema.ConvertOptions{OutputFormat: schema.FormatPNG},
	})
	assert.True(t, schema.IsCode(err, schema.ErrCodeRasterize))
	assert.ErrorIs(t, err, cause)
}

func TestConvert_Unsupported(t *testing.T) {
	s := newService(t, Config{}, Collaborators{})
	_, err := s.Convert(context.Background(), Request{Source: "sequenceDiagram\nAlice->>Bob: hi"})

	var ce *schema.ConvertError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, schema.ErrCodeUnsupported, ce.Code)
	assert.Equal(t, schema.StageConverterSelected, ce.Stage)
}

func TestConvert_UnsupportedFallback(t *testing.T) {
	s := newService(t, Config{AllowUnsupportedFallback: true}, Collaborators{})
	res, err := s.Convert(context.Background(), Request{Source: "stateDiagram-v2\nIdle --> Busy\nBusy --> Idle"})
	require.NoError(t, err)
	assert.Equal(t, schema.DiagramUnsupported, res.Detection.Type)
	assert.Equal(t, 2, res.Stats.NodesConverted)
	assert.Equal(t, 2, res.Stats.EdgesConverted)
}

func TestConvert_Cancelled(t *testing.T) {
	rec := &recorder{}
	s := newService(t, Config{}, Collaborators{Events: rec})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Convert(ctx, Request{Source: "graph TD\nA-->B"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeCancelled))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []schema.Stage{schema.StageFailed}, rec.stages())
}

func TestConvert_CancelledMidway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newService(t, Config{}, Collaborators{})
	s.FSM().OnAfter(schema.StageConverterSelected, schema.StageSourceParsed, func(_, _ schema.Stage) error {
		cancel()
		return nil
	})

	_, err := s.Convert(ctx, Request{Source: "graph TD\nA-->B"})
	var ce *schema.ConvertError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, schema.ErrCodeCancelled, ce.Code)
	assert.Equal(t, schema.StageSourceParsed, ce.Stage)
}

func TestConvert_StreamsToHub(t *testing.T) {
	hub := streaming.NewMemoryHub()
	ch, unsubscribe, err := hub.Subscribe(context.Background(), streaming.EventFilter{EventTypes: []string{schema.EventConversionDone}})
	require.NoError(t, err)
	defer unsubscribe()

	s := newService(t, Config{}, Collaborators{Events: hub})
	res, err := s.Convert(context.Background(), Request{Source: "graph LR\nA-->B"})
	require.NoError(t, err)

	ev := <-ch
	assert.Equal(t, res.RequestID, ev.RequestID)
	assert.Equal(t, schema.StageDone, ev.To)
}

func TestConvertBatch_KeepsOrder(t *testing.T) {
	s := newService(t, Config{BatchWorkers: 2}, Collaborators{})

	reqs := []Request{
		{Source: "graph TD\nA-->B"},
		{Source: ""},
		{Source: "architecture-beta\nservice a\nservice b\na:R --> L:b"},
		{Source: "graph TD\nX-->Y-->Z"},
	}
	items := s.ConvertBatch(context.Background(), reqs)
	require.Len(t, items, 4)

	require.NoError(t, items[0].Err)
	assert.Equal(t, 2, items[0].Result.Stats.NodesConverted)

	assert.True(t, schema.IsCode(items[1].Err, schema.ErrCodeValidation))
	assert.Nil(t, items[1].Result)

	require.NoError(t, items[2].Err)
	assert.Equal(t, schema.DiagramArchitecture, items[2].Result.Detection.Type)

	require.NoError(t, items[3].Err)
	assert.Equal(t, 3, items[3].Result.Stats.NodesConverted)

	ids := map[string]bool{}
	for _, it := range items {
		if it.Result != nil {
			ids[it.Result.RequestID] = true
		}
	}
	assert.Len(t, ids, 3)
}

func TestDetectAndValidate(t *testing.T) {
	s := newService(t, Config{}, Collaborators{})

	det := s.Detect(context.Background(), "flowchart LR\nA-->B")
	assert.Equal(t, schema.DiagramFlowchart, det.Type)
	assert.Greater(t, det.Confidence, 0.5)

	vr := s.Validate(context.Background(), "", "", schema.ConvertOptions{})
	assert.False(t, vr.IsValid)
	assert.NotEmpty(t, vr.Errors)

	vr = s.Validate(context.Background(), "graph TD\nsubgraph x\nA\nend", "", schema.ConvertOptions{})
	assert.True(t, vr.IsValid)
	assert.NotEmpty(t, vr.Warnings)

	assert.Len(t, s.SupportedTypes(), 3)
	assert.Contains(t, s.PoolMetrics(), "icons")
}
