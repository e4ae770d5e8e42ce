package converter

import (
	"strings"

	"github.com/rendis/drawmaid/pkg/schema"
)

// Mermaid's default flowchart palette.
const (
	flowFill   = "#ECECFF"
	flowStroke = "#9370DB"
)

const (
	serviceStyle  = "rounded=1;whiteSpace=wrap;html=1;fillColor=#dae8fc;strokeColor=#6c8ebf;"
	iconStyle     = "shape=image;verticalLabelPosition=bottom;labelBackgroundColor=default;verticalAlign=top;aspect=fixed;imageAspect=0;html=1;"
	junctionStyle = "ellipse;whiteSpace=wrap;html=1;aspect=fixed;fillColor=#000000;strokeColor=#000000;"
	groupStyle    = "rounded=1;whiteSpace=wrap;html=1;dashed=1;fillColor=none;strokeColor=#666666;verticalAlign=top;align=left;spacingLeft=8;container=1;collapsible=0;"
	edgeBase      = "edgeStyle=orthogonalEdgeStyle;rounded=0;orthogonalLoop=1;jettySize=auto;html=1;"
)

// shapeStyles maps flowchart shapes to draw.io shape fragments.
var shapeStyles = map[string]string{
	"rect":              "rounded=0;",
	"round":             "rounded=1;",
	"stadium":           "rounded=1;arcSize=50;",
	"subroutine":        "shape=process;backgroundOutline=1;",
	"cylinder":          "shape=cylinder3;boundedLbl=1;backgroundOutline=1;size=15;",
	"circle":            "ellipse;aspect=fixed;",
	"double-circle":     "ellipse;shape=doubleEllipse;aspect=fixed;",
	"asymmetric":        "shape=step;perimeter=stepPerimeter;fixedSize=1;size=15;",
	"diamond":           "rhombus;",
	"hexagon":           "shape=hexagon;perimeter=hexagonPerimeter2;fixedSize=1;",
	"parallelogram":     "shape=parallelogram;perimeter=parallelogramPerimeter;fixedSize=1;",
	"parallelogram-alt": "shape=parallelogram;perimeter=parallelogramPerimeter;fixedSize=1;flipH=1;",
	"trapezoid":         "shape=trapezoid;perimeter=trapezoidPerimeter;fixedSize=1;",
	"trapezoid-alt":     "shape=trapezoid;perimeter=trapezoidPerimeter;fixedSize=1;flipV=1;",
}

// NodeStyle returns the draw.io style of a node. iconData is the base64 SVG
// body; when empty a service falls back to the plain shape.
func NodeStyle(n schema.Node, iconData string) string {
	switch n.Kind {
	case schema.NodeService:
		if iconData != "" {
			return iconStyle + "image=data:image/svg+xml," + iconData + ";"
		}
		return serviceStyle
	case schema.NodeJunction:
		return junctionStyle
	case schema.NodeGroup:
		return groupStyle
	default:
		shape, ok := shapeStyles[n.Shape]
		if !ok {
			shape = shapeStyles["rect"]
		}
		return shape + "whiteSpace=wrap;html=1;fillColor=" + flowFill + ";strokeColor=" + flowStroke + ";"
	}
}

// EdgeStyle returns the draw.io style of an edge.
func EdgeStyle(e schema.Edge) string {
	var b strings.Builder
	b.WriteString(edgeBase)

	head := "classic"
	switch e.Marker {
	case schema.MarkerCircle:
		head = "oval"
	case schema.MarkerCross:
		head = "cross"
	}

	switch e.Arrow {
	case schema.ArrowBidirectional:
		b.WriteString("startArrow=" + head + ";endArrow=" + head + ";")
	case schema.ArrowLine:
		b.WriteString("endArrow=none;dashed=1;")
	default:
		b.WriteString("endArrow=" + head + ";")
	}
	if e.Marker != "" {
		b.WriteString("startFill=0;endFill=0;")
	}
	if e.Dotted && e.Arrow != schema.ArrowLine {
		b.WriteString("dashed=1;")
	}
	if e.Thick {
		b.WriteString("strokeWidth=3;")
	}
	if e.Invisible {
		b.WriteString("strokeColor=none;")
	}

	if x, y, ok := anchor(e.SourceDirection); ok {
		b.WriteString("exitX=" + x + ";exitY=" + y + ";exitDx=0;exitDy=0;")
	}
	if x, y, ok := anchor(e.TargetDirection); ok {
		b.WriteString("entryX=" + x + ";entryY=" + y + ";entryDx=0;entryDy=0;")
	}
	return b.String()
}

// anchor maps a compass side to relative draw.io connection coordinates.
func anchor(d schema.Direction) (x, y string, ok bool) {
	switch d {
	case schema.DirRight:
		return "1", "0.5", true
	case schema.DirLeft:
		return "0", "0.5", true
	case schema.DirTop:
		return "0.5", "0", true
	case schema.DirBottom:
		return "0.5", "1", true
	}
	return "", "", false
}
