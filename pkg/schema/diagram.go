package schema

// DiagramType classifies Mermaid source.
type DiagramType string

const (
	DiagramFlowchart    DiagramType = "flowchart"
	DiagramArchitecture DiagramType = "architecture"
	DiagramGeneric      DiagramType = "generic"
	DiagramUnsupported  DiagramType = "unsupported"
)

// DetectionResult is the detector's verdict for a source.
type DetectionResult struct {
	Type       DiagramType `json:"type"`
	Confidence float64     `json:"confidence"`
	TypeName   string      `json:"type_name"`
}

// NodeKind selects the styling family of a node.
type NodeKind string

const (
	NodeService  NodeKind = "service"
	NodeJunction NodeKind = "junction"
	NodeGroup    NodeKind = "group"
	NodeGeneric  NodeKind = "generic"
)

// Node is a vertex parsed from diagram source.
type Node struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Kind     NodeKind `json:"kind"`
	Shape    string   `json:"shape,omitempty"`
	IconRef  string   `json:"icon_ref,omitempty"`
	GroupRef string   `json:"group_ref,omitempty"`
	HasIcon  bool     `json:"has_icon"`
}

// Direction is a compass anchor on a node's border.
type Direction string

const (
	DirTop    Direction = "T"
	DirBottom Direction = "B"
	DirLeft   Direction = "L"
	DirRight  Direction = "R"
)

// ParseDirection maps a compass token to a Direction, or "" if unknown.
func ParseDirection(s string) Direction {
	switch Direction(s) {
	case DirTop, DirBottom, DirLeft, DirRight:
		return Direction(s)
	}
	return ""
}

// ArrowKind describes the arrowheads of an edge.
type ArrowKind string

const (
	ArrowLine          ArrowKind = "line"
	ArrowOneWay        ArrowKind = "arrow"
	ArrowBidirectional ArrowKind = "bidirectional"
)

// Edge connects two nodes of the same Graph.
type Edge struct {
	SourceID        string    `json:"source_id"`
	TargetID        string    `json:"target_id"`
	SourceDirection Direction `json:"source_direction,omitempty"`
	TargetDirection Direction `json:"target_direction,omitempty"`
	Arrow           ArrowKind `json:"arrow_kind"`
	Label           string    `json:"label,omitempty"`
	Dotted          bool      `json:"dotted,omitempty"`
	Thick           bool      `json:"thick,omitempty"`

	// Marker replaces arrowheads with MarkerCircle or MarkerCross ends.
	Marker    string `json:"marker,omitempty"`
	Invisible bool   `json:"invisible,omitempty"`
}

// Edge end markers.
const (
	MarkerCircle = "circle"
	MarkerCross  = "cross"
)

// Graph is the logical diagram produced by a parse pass.
// Node order is declaration order.
type Graph struct {
	Direction string `json:"direction,omitempty"`
	Nodes     []Node `json:"nodes"`
	Edges     []Edge `json:"edges"`
}

// Index returns the nodes keyed by id.
func (g *Graph) Index() map[string]Node {
	idx := make(map[string]Node, len(g.Nodes))
	for _, n := range g.Nodes {
		idx[n.ID] = n
	}
	return idx
}

// Has reports whether a node with the id exists.
func (g *Graph) Has(id string) bool {
	for _, n := range g.Nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}

// Transform is an accumulated affine summary: translation, scale, rotation in degrees.
type Transform struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	ScaleX   float64 `json:"scale_x"`
	ScaleY   float64 `json:"scale_y"`
	Rotation float64 `json:"rotation"`
}

// IdentityTransform returns {0,0,1,1,0}.
func IdentityTransform() Transform {
	return Transform{ScaleX: 1, ScaleY: 1}
}

// Geometry is the placed rectangle of a node.
type Geometry struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// ConversionStats counts what XML generation produced.
type ConversionStats struct {
	NodesConverted   int `json:"nodes_converted"`
	EdgesConverted   int `json:"edges_converted"`
	IconsAttempted   int `json:"icons_attempted"`
	IconsSuccessful  int `json:"icons_successful"`
	ServicesCreated  int `json:"services_created"`
	GroupsCreated    int `json:"groups_created"`
	JunctionsCreated int `json:"junctions_created"`

	// NodesPlaced counts nodes whose geometry was synthesized rather than read from the SVG.
	NodesPlaced int    `json:"nodes_placed"`
	Layout      string `json:"layout"`
}

// IconSuccessRate is icons_successful / icons_attempted, 0 when nothing was attempted.
func (s ConversionStats) IconSuccessRate() float64 {
	if s.IconsAttempted == 0 {
		return 0
	}
	return float64(s.IconsSuccessful) / float64(s.IconsAttempted)
}

// OutputFormat selects the conversion artifact.
type OutputFormat string

const (
	FormatXML OutputFormat = "xml"
	FormatPNG OutputFormat = "png"
)

// Default canvas size.
const (
	DefaultWidth  = 1200
	DefaultHeight = 800
)

// ConvertOptions are the caller-supplied conversion parameters.
type ConvertOptions struct {
	Width                 int          `json:"width,omitempty"`
	Height                int          `json:"height,omitempty"`
	IconServiceURL        string       `json:"icon_service_url,omitempty"`
	OutputFormat          OutputFormat `json:"output_format,omitempty"`
	TransparentBackground bool         `json:"transparent_background,omitempty"`
}

// WithDefaults fills zero values with defaults.
func (o ConvertOptions) WithDefaults() ConvertOptions {
	if o.Width == 0 {
		o.Width = DefaultWidth
	}
	if o.Height == 0 {
		o.Height = DefaultHeight
	}
	if o.OutputFormat == "" {
		o.OutputFormat = FormatXML
	}
	return o
}
