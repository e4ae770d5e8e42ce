package converter

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/rendis/drawmaid/internal/layout"
	"github.com/rendis/drawmaid/pkg/schema"
)

// Host is written to the mxfile host and agent attributes.
const Host = "drawmaid"

// File is the <mxfile> envelope.
type File struct {
	XMLName    xml.Name `xml:"mxfile"`
	Host       string   `xml:"host,attr"`
	Agent      string   `xml:"agent,attr"`
	Type       string   `xml:"type,attr"`
	Compressed string   `xml:"compressed,attr,omitempty"`
	Diagram    Diagram  `xml:"diagram"`
}

// Diagram holds one page whose text is the encoded model.
type Diagram struct {
	ID   string `xml:"id,attr"`
	Name string `xml:"name,attr"`
	Text string `xml:",chardata"`
}

// Model is the <mxGraphModel> document.
type Model struct {
	XMLName    xml.Name `xml:"mxGraphModel"`
	Dx         int      `xml:"dx,attr"`
	Dy         int      `xml:"dy,attr"`
	Grid       int      `xml:"grid,attr"`
	GridSize   int      `xml:"gridSize,attr"`
	Guides     int      `xml:"guides,attr"`
	Tooltips   int      `xml:"tooltips,attr"`
	Connect    int      `xml:"connect,attr"`
	Arrows     int      `xml:"arrows,attr"`
	Fold       int      `xml:"fold,attr"`
	Page       int      `xml:"page,attr"`
	PageScale  int      `xml:"pageScale,attr"`
	PageWidth  int      `xml:"pageWidth,attr"`
	PageHeight int      `xml:"pageHeight,attr"`
	Math       int      `xml:"math,attr"`
	Shadow     int      `xml:"shadow,attr"`
	Cells      []Cell   `xml:"root>mxCell"`
}

// Cell is a vertex, an edge, or one of the two root cells.
type Cell struct {
	ID       string        `xml:"id,attr"`
	Value    string        `xml:"value,attr,omitempty"`
	Style    string        `xml:"style,attr,omitempty"`
	Vertex   string        `xml:"vertex,attr,omitempty"`
	Edge     string        `xml:"edge,attr,omitempty"`
	Parent   string        `xml:"parent,attr,omitempty"`
	Source   string        `xml:"source,attr,omitempty"`
	Target   string        `xml:"target,attr,omitempty"`
	Geometry *CellGeometry `xml:"mxGeometry,omitempty"`
}

// CellGeometry is an mxGeometry; numbers are preformatted.
type CellGeometry struct {
	X        string `xml:"x,attr,omitempty"`
	Y        string `xml:"y,attr,omitempty"`
	Width    string `xml:"width,attr,omitempty"`
	Height   string `xml:"height,attr,omitempty"`
	Relative string `xml:"relative,attr,omitempty"`
	As       string `xml:"as,attr"`
}

// Vertices returns the vertex cells.
func (m *Model) Vertices() []Cell {
	var out []Cell
	for _, c := range m.Cells {
		if c.Vertex == "1" {
			out = append(out, c)
		}
	}
	return out
}

// Edges returns the edge cells.
func (m *Model) Edges() []Cell {
	var out []Cell
	for _, c := range m.Cells {
		if c.Edge == "1" {
			out = append(out, c)
		}
	}
	return out
}

// Cell returns the cell with the id.
func (m *Model) Cell(id string) (Cell, bool) {
	for _, c := range m.Cells {
		if c.ID == id {
			return c, true
		}
	}
	return Cell{}, false
}

// Cell ids derived from node ids; "0" and "1" stay reserved for the roots.
func vertexID(nodeID string) string { return "node-" + nodeID }
func edgeID(i int) string           { return "edge-" + strconv.Itoa(i) }

type writer struct {
	model Model
}

func newWriter(width, height int) *writer {
	return &writer{model: Model{
		Dx: width, Dy: height,
		Grid: 1, GridSize: 10, Guides: 1, Tooltips: 1, Connect: 1, Arrows: 1, Fold: 1,
		Page: 1, PageScale: 1, PageWidth: width, PageHeight: height,
		Cells: []Cell{{ID: "0"}, {ID: "1", Parent: "0"}},
	}}
}

// build appends a vertex per node, parents first, then an edge per edge.
func (w *writer) build(g *schema.Graph, positions map[string]schema.Geometry, icons map[string]string, stats *schema.ConversionStats) {
	index := g.Index()
	cells := map[string]bool{}
	absolute := map[string]schema.Geometry{}

	for _, n := range parentsFirst(g) {
		geo, ok := positions[n.ID]
		if !ok {
			ww, hh := layout.NodeSize(n.Kind)
			geo = schema.Geometry{X: 40, Y: 40, W: ww, H: hh}
		}
		absolute[n.ID] = geo

		parent := "1"
		if p, ok := index[n.GroupRef]; ok && p.Kind == schema.NodeGroup && cells[p.ID] {
			parent = vertexID(p.ID)
			pg := absolute[p.ID]
			geo.X -= pg.X
			geo.Y -= pg.Y
		}

		value := n.Label
		if n.Kind == schema.NodeJunction {
			value = ""
		}
		w.model.Cells = append(w.model.Cells, Cell{
			ID:       vertexID(n.ID),
			Value:    value,
			Style:    NodeStyle(n, icons[n.IconRef]),
			Vertex:   "1",
			Parent:   parent,
			Geometry: vertexGeometry(geo),
		})
		cells[n.ID] = true

		stats.NodesConverted++
		switch n.Kind {
		case schema.NodeService:
			stats.ServicesCreated++
		case schema.NodeGroup:
			stats.GroupsCreated++
		case schema.NodeJunction:
			stats.JunctionsCreated++
		}
	}

	for i, e := range g.Edges {
		if !cells[e.SourceID] || !cells[e.TargetID] {
			continue
		}
		w.model.Cells = append(w.model.Cells, Cell{
			ID:       edgeID(i),
			Value:    e.Label,
			Style:    EdgeStyle(e),
			Edge:     "1",
			Parent:   "1",
			Source:   vertexID(e.SourceID),
			Target:   vertexID(e.TargetID),
			Geometry: &CellGeometry{Relative: "1", As: "geometry"},
		})
		stats.EdgesConverted++
	}
}

// document renders the mxfile envelope around the URL-encoded model.
func (w *writer) document(compressed bool) (string, error) {
	raw, err := xml.Marshal(w.model)
	if err != nil {
		return "", fmt.Errorf("marshal model: %w", err)
	}
	text := EncodeURIComponent(string(raw))
	file := File{
		Host:  Host,
		Agent: Host,
		Type:  "device",
		Diagram: Diagram{
			// Derived from the model so identical input yields identical output.
			ID:   uuid.NewSHA1(uuid.NameSpaceURL, raw).String(),
			Name: "Page-1",
		},
	}
	if compressed {
		if text, err = deflate(text); err != nil {
			return "", err
		}
		file.Compressed = "true"
	}
	file.Diagram.Text = text

	out, err := xml.Marshal(file)
	if err != nil {
		return "", fmt.Errorf("marshal mxfile: %w", err)
	}
	return string(out), nil
}

// Decode parses an mxfile produced by BuildXML, in either form, back into its model.
func Decode(doc string) (*Model, error) {
	var file File
	if err := xml.Unmarshal([]byte(doc), &file); err != nil {
		return nil, fmt.Errorf("parse mxfile: %w", err)
	}
	text := strings.TrimSpace(file.Diagram.Text)
	if file.Compressed == "true" {
		inflated, err := inflate(text)
		if err != nil {
			return nil, err
		}
		text = inflated
	}
	raw, err := url.PathUnescape(text)
	if err != nil {
		return nil, fmt.Errorf("decode diagram text: %w", err)
	}
	var m Model
	if err := xml.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("parse mxGraphModel: %w", err)
	}
	return &m, nil
}

// EncodeURIComponent escapes like the JavaScript function of the same name.
func EncodeURIComponent(s string) string {
	escaped := url.QueryEscape(s)
	return uriUnreserved.Replace(escaped)
}

var uriUnreserved = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

func deflate(s string) (string, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("deflate diagram: %w", err)
	}
	if _, err := fw.Write([]byte(s)); err != nil {
		return "", fmt.Errorf("deflate diagram: %w", err)
	}
	if err := fw.Close(); err != nil {
		return "", fmt.Errorf("deflate diagram: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func inflate(s string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("decode compressed diagram: %w", err)
	}
	out, err := io.ReadAll(flate.NewReader(bytes.NewReader(data)))
	if err != nil {
		return "", fmt.Errorf("inflate diagram: %w", err)
	}
	return string(out), nil
}

// parentsFirst orders nodes so every group precedes its members.
func parentsFirst(g *schema.Graph) []schema.Node {
	index := g.Index()
	depth := func(n schema.Node) int {
		d := 0
		for seen := map[string]bool{n.ID: true}; n.GroupRef != ""; d++ {
			p, ok := index[n.GroupRef]
			if !ok || seen[p.ID] {
				break
			}
			seen[p.ID] = true
			n = p
		}
		return d
	}

	out := slices.Clone(g.Nodes)
	slices.SortStableFunc(out, func(a, b schema.Node) int {
		ga, gb := a.Kind == schema.NodeGroup, b.Kind == schema.NodeGroup
		switch {
		case ga && gb:
			return depth(a) - depth(b)
		case ga:
			return -1
		case gb:
			return 1
		}
		return 0
	})
	return out
}

func vertexGeometry(g schema.Geometry) *CellGeometry {
	return &CellGeometry{
		X:      formatNumber(g.X),
		Y:      formatNumber(g.Y),
		Width:  formatNumber(g.W),
		Height: formatNumber(g.H),
		As:     "geometry",
	}
}

// formatNumber rounds to two decimals and drops trailing zeros; zero is written explicitly.
func formatNumber(v float64) string {
	v = math.Round(v*100) / 100
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
