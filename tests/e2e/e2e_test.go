package e2e

import (
	"bytes"
	"context"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/drawmaid/internal/converter"
	"github.com/rendis/drawmaid/internal/icons"
	"github.com/rendis/drawmaid/internal/layout"
	"github.com/rendis/drawmaid/internal/pngmeta"
	"github.com/rendis/drawmaid/internal/raster"
	"github.com/rendis/drawmaid/internal/service"
	"github.com/rendis/drawmaid/internal/streaming"
	drawmcp "github.com/rendis/drawmaid/pkg/mcp"
	"github.com/rendis/drawmaid/pkg/schema"
)

// --- Test infrastructure ---

const serverIcon = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 10 10"><rect width="10" height="10"/></svg>`

const flowSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="200" height="200" viewBox="0 0 200 200">
  <rect width="200" height="200" fill="white"/>
  <g class="node default" id="flowchart-A-0" transform="translate(50, 30)">
    <rect class="basic label-container" x="-40" y="-20" width="80" height="40" fill="#ECECFF" stroke="#9370DB"/>
  </g>
  <g class="node default" id="flowchart-B-1" transform="translate(50, 130)">
    <rect class="basic label-container" x="-40" y="-20" width="80" height="40" fill="#ECECFF" stroke="#9370DB"/>
  </g>
</svg>`

// testEnv holds all real dependencies for E2E tests.
type testEnv struct {
	icons     *httptest.Server
	iconCalls atomic.Int64
	provider  *icons.HTTPProvider
	hub       *streaming.MemoryHub
	svc       *service.Service
	server    *drawmcp.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{}

	r := chi.NewRouter()
	r.Get("/icons/{pack}/{key}.svg", func(w http.ResponseWriter, req *http.Request) {
		env.iconCalls.Add(1)
		if chi.URLParam(req, "key") != "server" {
			http.NotFound(w, req)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		_, _ = w.Write([]byte(serverIcon))
	})
	env.icons = httptest.NewServer(r)
	t.Cleanup(env.icons.Close)

	env.provider = icons.NewHTTPProvider(icons.Config{Timeout: 2 * time.Second})
	env.hub = streaming.NewMemoryHub()

	svc, err := service.New(service.Config{}, service.Collaborators{
		Icons:      env.provider,
		Rasterizer: raster.OKSVG{},
		Layout:     layout.DefaultGrid(),
		Events:     env.hub,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	env.svc = svc

	env.server = drawmcp.NewServer(drawmcp.ServerDeps{Service: svc, Hub: env.hub, Version: "e2e"})
	return env
}

func decode(t *testing.T, doc string) *converter.Model {
	t.Helper()
	m, err := converter.Decode(doc)
	require.NoError(t, err)
	return m
}

// --- E2E Tests ---

// TestScenarioA_SimpleFlowchart converts the smallest flowchart without an SVG.
func TestScenarioA_SimpleFlowchart(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.svc.Convert(context.Background(), service.Request{Source: "graph TD\nA-->B"})
	require.NoError(t, err)

	m := decode(t, res.XML)
	assert.Len(t, m.Vertices(), 2)
	assert.Len(t, m.Edges(), 1)
	assert.Equal(t, 2, res.Stats.NodesConverted)
	assert.Equal(t, 1, res.Stats.EdgesConverted)
	assert.Equal(t, schema.DiagramFlowchart, res.Detection.Type)
	assert.Equal(t, "grid", res.Stats.Layout)
	assert.Equal(t, 2, res.Stats.NodesPlaced)
}

// TestScenarioB_ScriptInSVG stops the pipeline at validation.
func TestScenarioB_ScriptInSVG(t *testing.T) {
	env := newTestEnv(t)
	badSVG := `<svg xmlns="http://www.w3.org/2000/svg"><g><script>alert(1)</script></g></svg>`

	vr := env.svc.Validate(context.Background(), "graph TD\nA-->B", badSVG, schema.ConvertOptions{})
	assert.False(t, vr.Valid())
	assert.True(t, containsFold(vr.Errors, "suspicious"), "errors: %v", vr.Errors)

	events, unsubscribe, err := env.hub.Subscribe(context.Background(), streaming.EventFilter{})
	require.NoError(t, err)
	defer unsubscribe()

	_, err = env.svc.Convert(context.Background(), service.Request{Source: "graph TD\nA-->B", SVG: badSVG})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	var stages []schema.Stage
	for {
		select {
		case ev := <-events:
			stages = append(stages, ev.To)
			continue
		case <-time.After(100 * time.Millisecond):
		}
		break
	}
	assert.NotContains(t, stages, schema.StageSourceParsed)
	assert.Contains(t, stages, schema.StageFailed)
}

// TestScenarioC_IconUnavailable falls back to the plain service shape.
func TestScenarioC_IconUnavailable(t *testing.T) {
	env := newTestEnv(t)
	source := "architecture-beta\n    service db(database)[Database]"

	res, err := env.svc.Convert(context.Background(), service.Request{
		Source:  source,
		Options: schema.ConvertOptions{IconServiceURL: env.icons.URL},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Stats.IconsAttempted)
	assert.Equal(t, 0, res.Stats.IconsSuccessful)
	assert.Equal(t, 1, res.Stats.ServicesCreated)

	m := decode(t, res.XML)
	db, ok := m.Cell("node-db")
	require.True(t, ok)
	assert.Equal(t, "Database", db.Value)
	assert.NotContains(t, db.Style, "image=")
	assert.EqualValues(t, 1, env.iconCalls.Load())
}

func TestArchitecture_IconsEmbeddedAndCached(t *testing.T) {
	env := newTestEnv(t)
	source := `architecture-beta
    group api(cloud)[API]
    service db(database)[Database] in api
    service server(server)[Server] in api
    service web(server)[Web] in api
    db:L -- R:server
    web:B --> T:server`
	req := service.Request{Source: source, Options: schema.ConvertOptions{IconServiceURL: env.icons.URL}}

	res, err := env.svc.Convert(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stats.IconsAttempted)
	assert.Equal(t, 2, res.Stats.IconsSuccessful)
	assert.Equal(t, 1, res.Stats.GroupsCreated)
	assert.Equal(t, 2, res.Stats.EdgesConverted)

	m := decode(t, res.XML)
	server, ok := m.Cell("node-server")
	require.True(t, ok)
	assert.Contains(t, server.Style, "image=data:image/svg+xml,")
	assert.Equal(t, "node-api", server.Parent)

	// Second conversion is served from the provider cache.
	calls := env.iconCalls.Load()
	_, err = env.svc.Convert(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, calls, env.iconCalls.Load())
	assert.Positive(t, env.provider.Stats().CacheHits)
}

// TestPNGRoundTrip rasterizes with oksvg, embeds the document and reads it back.
func TestPNGRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.svc.Convert(context.Background(), service.Request{
		Source:  "graph TD\nA-->B",
		SVG:     flowSVG,
		Options: schema.ConvertOptions{Width: 200, Height: 200, OutputFormat: schema.FormatPNG},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.PNG)

	cfg, err := png.DecodeConfig(bytes.NewReader(res.PNG))
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Width)
	assert.Equal(t, 200, cfg.Height)

	embedded, err := pngmeta.Extract(res.PNG, pngmeta.KeyGraphModel)
	require.NoError(t, err)
	assert.Equal(t, res.XML, embedded)

	software, err := pngmeta.Extract(res.PNG, pngmeta.KeySoftware)
	require.NoError(t, err)
	assert.Equal(t, pngmeta.SoftwareName, software)

	m := decode(t, embedded)
	a, ok := m.Cell("node-A")
	require.True(t, ok)
	assert.Equal(t, "10", a.Geometry.X)
	assert.Equal(t, "10", a.Geometry.Y)
	assert.Equal(t, true, res.Metadata["embedded_xml"])
}

func TestBatch_MixedResults(t *testing.T) {
	env := newTestEnv(t)

	items := env.svc.ConvertBatch(context.Background(), []service.Request{
		{Source: "graph LR\nA-->B-->C"},
		{Source: ""},
		{Source: "sequenceDiagram\nAlice->>Bob: hi"},
		{Source: "architecture-beta\n    service s(server)[S]"},
	})
	require.Len(t, items, 4)

	require.NoError(t, items[0].Err)
	assert.Equal(t, 3, items[0].Result.Stats.NodesConverted)
	assert.True(t, schema.IsCode(items[1].Err, schema.ErrCodeValidation))
	assert.True(t, schema.IsCode(items[2].Err, schema.ErrCodeUnsupported))
	require.NoError(t, items[3].Err)
	assert.Equal(t, schema.DiagramArchitecture, items[3].Result.Detection.Type)
}

func containsFold(list []string, sub string) bool {
	for _, s := range list {
		if strings.Contains(strings.ToLower(s), sub) {
			return true
		}
	}
	return false
}
