package converter

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/drawmaid/internal/engine"
	"github.com/rendis/drawmaid/pkg/schema"
)

type stubIcons struct {
	mu    sync.Mutex
	icons map[string]string
	calls []string
}

func (s *stubIcons) FetchIcon(_ context.Context, _, ref string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, ref)
	body, ok := s.icons[ref]
	return body, ok
}

func build(t *testing.T, c Converter, src string, opts BuildOptions) (*Model, schema.ConversionStats, string) {
	t.Helper()
	g, err := c.ParseSource(src)
	require.NoError(t, err)
	out, stats, err := c.BuildXML(context.Background(), g, nil, opts)
	require.NoError(t, err)
	m, err := Decode(out)
	require.NoError(t, err)
	return m, stats, out
}

func TestBuildXML_FlowchartScenario(t *testing.T) {
	m, stats, out := build(t, NewFlowchart(Deps{}), "graph TD\nA-->B", BuildOptions{})

	assert.Len(t, m.Vertices(), 2)
	assert.Len(t, m.Edges(), 1)
	assert.Equal(t, 2, stats.NodesConverted)
	assert.Equal(t, 1, stats.EdgesConverted)
	assert.Equal(t, "grid", stats.Layout)
	assert.Equal(t, 2, stats.NodesPlaced)

	assert.True(t, strings.HasPrefix(out, `<mxfile host="drawmaid"`))
	assert.Contains(t, out, `name="Page-1"`)
	assert.NotContains(t, out, "<mxCell", "model is URL-encoded inside the diagram element")

	require.GreaterOrEqual(t, len(m.Cells), 2)
	assert.Equal(t, "0", m.Cells[0].ID)
	assert.Equal(t, "1", m.Cells[1].ID)
	assert.Equal(t, "0", m.Cells[1].Parent)

	edge := m.Edges()[0]
	assert.Equal(t, "node-A", edge.Source)
	assert.Equal(t, "node-B", edge.Target)
	assert.Contains(t, edge.Style, "endArrow=classic")
}

func TestBuildXML_Deterministic(t *testing.T) {
	c := NewFlowchart(Deps{})
	_, _, a := build(t, c, "graph LR\nA-->B-->C", BuildOptions{})
	_, _, b := build(t, c, "graph LR\nA-->B-->C", BuildOptions{})
	assert.Equal(t, a, b)
}

func TestBuildXML_Compressed(t *testing.T) {
	m, _, out := build(t, NewFlowchart(Deps{Compressed: true}), "graph TD\nA-->B", BuildOptions{})
	assert.Contains(t, out, `compressed="true"`)
	assert.Len(t, m.Vertices(), 2)
}

func TestBuildXML_ArchitectureIconUnavailable(t *testing.T) {
	icons := &stubIcons{}
	c := NewArchitecture(Deps{Icons: icons})

	g, err := c.ParseSource("architecture-beta\nservice db(database)[Database]")
	require.NoError(t, err)
	require.Equal(t, schema.NodeService, g.Nodes[0].Kind)
	require.True(t, g.Nodes[0].HasIcon)

	out, stats, err := c.BuildXML(context.Background(), g, nil, BuildOptions{IconServiceURL: "http://icons.local"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.IconsAttempted)
	assert.Equal(t, 0, stats.IconsSuccessful)
	assert.Equal(t, 1, stats.ServicesCreated)

	m, err := Decode(out)
	require.NoError(t, err)
	cell, ok := m.Cell("node-db")
	require.True(t, ok)
	assert.NotContains(t, cell.Style, "image=")
	assert.Equal(t, "Database", cell.Value)
}

func TestBuildXML_IconsFetchedOncePerRef(t *testing.T) {
	icons := &stubIcons{icons: map[string]string{"server": `<svg xmlns="http://www.w3.org/2000/svg"/>`}}
	pool := engine.NewWorkerPool(2)
	defer pool.Shutdown()
	c := NewArchitecture(Deps{Icons: icons, Pool: pool})

	m, stats, _ := build(t, c, `architecture-beta
service a(server)[A]
service b(server)[B]
service d(disk)[D]
`, BuildOptions{IconServiceURL: "http://icons.local"})

	assert.Equal(t, 3, stats.IconsAttempted)
	assert.Equal(t, 2, stats.IconsSuccessful)
	assert.ElementsMatch(t, []string{"server", "disk"}, icons.calls)

	a, _ := m.Cell("node-a")
	assert.Contains(t, a.Style, "image=data:image/svg+xml,")
	d, _ := m.Cell("node-d")
	assert.NotContains(t, d.Style, "image=")
}

func TestBuildXML_NoIconServiceSkipsLookup(t *testing.T) {
	icons := &stubIcons{}
	_, stats, _ := build(t, NewArchitecture(Deps{Icons: icons}), "architecture-beta\nservice db(database)", BuildOptions{})
	assert.Zero(t, stats.IconsAttempted)
	assert.Empty(t, icons.calls)
}

func TestBuildXML_GroupMembersRelative(t *testing.T) {
	c := NewArchitecture(Deps{})
	g, err := c.ParseSource("architecture-beta\nservice db in api\ngroup api[API]\njunction j")
	require.NoError(t, err)

	positions := map[string]schema.Geometry{
		"api": {X: 100, Y: 100, W: 300, H: 200},
		"db":  {X: 120, Y: 150, W: 80, H: 80},
		"j":   {X: 500, Y: 500, W: 20, H: 20},
	}
	out, stats, err := c.BuildXML(context.Background(), g, positions, BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, "svg", stats.Layout)
	assert.Equal(t, 1, stats.GroupsCreated)
	assert.Equal(t, 1, stats.JunctionsCreated)

	m, err := Decode(out)
	require.NoError(t, err)

	// Groups are written before their members.
	assert.Equal(t, "node-api", m.Vertices()[0].ID)

	db, _ := m.Cell("node-db")
	assert.Equal(t, "node-api", db.Parent)
	assert.Equal(t, "20", db.Geometry.X)
	assert.Equal(t, "50", db.Geometry.Y)

	j, _ := m.Cell("node-j")
	assert.Equal(t, "1", j.Parent)
	assert.Empty(t, j.Value)
	assert.Contains(t, j.Style, "ellipse")
}

func TestBuildXML_UnknownPositionsIgnored(t *testing.T) {
	c := NewFlowchart(Deps{})
	g, err := c.ParseSource("graph TD\nA-->B")
	require.NoError(t, err)

	_, stats, err := c.BuildXML(context.Background(), g, map[string]schema.Geometry{"ghost": {X: 1, Y: 1, W: 1, H: 1}}, BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.NodesConverted)
}

func TestBuildXML_EmptyGraph(t *testing.T) {
	_, _, err := NewGeneric(Deps{}).BuildXML(context.Background(), &schema.Graph{}, nil, BuildOptions{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeInternal))
}

func TestEncodeURIComponent(t *testing.T) {
	assert.Equal(t, "a%20b", EncodeURIComponent("a b"))
	assert.Equal(t, "%3CmxCell%20id%3D%220%22%2F%3E", EncodeURIComponent(`<mxCell id="0"/>`))
	assert.Equal(t, "it's!(ok)*", EncodeURIComponent("it's!(ok)*"))
	assert.Equal(t, "%2B", EncodeURIComponent("+"))
	assert.Equal(t, "%C3%A9", EncodeURIComponent("é"))
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode("not xml")
	assert.Error(t, err)

	_, err = Decode(`<mxfile compressed="true"><diagram>!!!</diagram></mxfile>`)
	assert.Error(t, err)
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "0", formatNumber(0))
	assert.Equal(t, "12.35", formatNumber(12.346))
	assert.Equal(t, "-4", formatNumber(-4))
	assert.Equal(t, "120", formatNumber(120.0))
}
