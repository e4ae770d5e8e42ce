package svg

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rendis/drawmaid/pkg/schema"
)

// Strategy is one way of deriving a value; ok is false when it does not apply.
type Strategy[I, O any] func(in I) (O, bool)

// FirstMatch returns the result of the first strategy that applies.
func FirstMatch[I, O any](strategies []Strategy[I, O], in I) (O, bool) {
	for _, s := range strategies {
		if out, ok := s(in); ok {
			return out, true
		}
	}
	var zero O
	return zero, false
}

var (
	prefixedIDRe  = regexp.MustCompile(`^(?:service|node|group|junction)-(.+)$`)
	flowchartIDRe = regexp.MustCompile(`(?:^|-)flowchart-(.+)-\d+$`)
	suffixedIDRe  = regexp.MustCompile(`^(.+)-\d+$`)
	bareIDRe      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.$-]*$`)
)

// byAttr reads the node id from a data attribute.
func byAttr(name string) Strategy[*Element, string] {
	return func(el *Element) (string, bool) {
		v := strings.TrimSpace(el.Attr(name))
		return v, v != ""
	}
}

// byIDPattern matches the id attribute against the prefixed forms renderers emit.
func byIDPattern(el *Element) (string, bool) {
	id := strings.TrimSpace(el.Attr("id"))
	if id == "" {
		return "", false
	}
	if m := flowchartIDRe.FindStringSubmatch(id); m != nil {
		return m[1], true
	}
	if m := prefixedIDRe.FindStringSubmatch(id); m != nil {
		return m[1], true
	}
	if m := suffixedIDRe.FindStringSubmatch(id); m != nil {
		return m[1], true
	}
	if bareIDRe.MatchString(id) {
		return id, true
	}
	return "", false
}

// byText uses the first nested text, tspan or title content that looks like an identifier.
func byText(el *Element) (string, bool) {
	nested := el.Descendants(func(c *Element) bool {
		return c.Name == "text" || c.Name == "tspan" || c.Name == "title"
	})
	for _, t := range nested {
		s := t.TextContent()
		if bareIDRe.MatchString(s) {
			return s, true
		}
	}
	return "", false
}

// placed is an element with its transform relative to the node group.
type placed struct {
	el *Element
	t  schema.Transform
}

// local lists el and its descendants in document order, each with the transform
// composed from el down to and including its own. el itself is at identity.
func local(el *Element) []placed {
	out := []placed{{el: el, t: schema.IdentityTransform()}}
	var visit func(*Element, schema.Transform)
	visit = func(p *Element, t schema.Transform) {
		for _, c := range p.Children {
			ct := Compose(t, ParseTransform(c.Attr("transform")))
			out = append(out, placed{el: c, t: ct})
			visit(c, ct)
		}
	}
	visit(el, out[0].t)
	return out
}

// mapPoint carries a point through t.
func mapPoint(t schema.Transform, x, y float64) (float64, float64) {
	return t.X + x*t.ScaleX, t.Y + y*t.ScaleY
}

// under maps a box with an origin through t.
func (b Box) under(t schema.Transform) Box {
	x0, y0 := mapPoint(t, b.X, b.Y)
	x1, y1 := mapPoint(t, b.X+b.W, b.Y+b.H)
	return Box{
		X: math.Min(x0, x1), Y: math.Min(y0, y1),
		W: math.Abs(x1 - x0), H: math.Abs(y1 - y0),
		HasOrigin: true,
	}
}

// rectBox reads an element's rect geometry when it carries width and height.
func rectBox(el *Element) (Box, bool) {
	if el.Name != "rect" {
		return Box{}, false
	}
	w, okW := attrFloat(el, "width")
	h, okH := attrFloat(el, "height")
	if !okW || !okH {
		return Box{}, false
	}
	x, _ := attrFloat(el, "x")
	y, _ := attrFloat(el, "y")
	return Box{X: x, Y: y, W: w, H: h, HasOrigin: true}, true
}

// firstRect returns the first rect in el's subtree matching pred, in el's coordinates.
func firstRect(el *Element, pred func(*Element) bool) (Box, bool) {
	for _, p := range local(el) {
		if !pred(p.el) {
			continue
		}
		if b, ok := rectBox(p.el); ok {
			return b.under(p.t), true
		}
	}
	return Box{}, false
}

// byLabelContainer sizes by a rect carrying one of the label container classes.
func byLabelContainer(classes []string) Strategy[*Element, Box] {
	return func(el *Element) (Box, bool) {
		return firstRect(el, func(c *Element) bool { return c.HasClass(classes...) })
	}
}

// byAnyRect sizes by the element itself or its first descendant rect with explicit width and height.
func byAnyRect(el *Element) (Box, bool) {
	return firstRect(el, func(*Element) bool { return true })
}

// byNestedSVG sizes by a nested svg viewport with numeric width and height,
// the way icon-based nodes are drawn.
func byNestedSVG(el *Element) (Box, bool) {
	for _, p := range local(el)[1:] {
		if p.el.Name != "svg" {
			continue
		}
		w, okW := attrFloat(p.el, "width")
		h, okH := attrFloat(p.el, "height")
		if !okW || !okH || w <= 0 || h <= 0 {
			continue
		}
		x, _ := attrFloat(p.el, "x")
		y, _ := attrFloat(p.el, "y")
		return Box{X: x, Y: y, W: w, H: h, HasOrigin: true}.under(p.t), true
	}
	return Box{}, false
}

// byBoundingBox unions the extents of shape descendants, each under its own transform.
func byBoundingBox(el *Element) (Box, bool) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	found := false

	extend := func(t schema.Transform, x0, y0, x1, y1 float64) {
		b := Box{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}.under(t)
		minX, minY = math.Min(minX, b.X), math.Min(minY, b.Y)
		maxX, maxY = math.Max(maxX, b.X+b.W), math.Max(maxY, b.Y+b.H)
		found = true
	}

	for _, p := range local(el) {
		s := p.el
		switch s.Name {
		case "rect":
			if b, ok := rectBox(s); ok {
				extend(p.t, b.X, b.Y, b.X+b.W, b.Y+b.H)
			}
		case "circle":
			cx, _ := attrFloat(s, "cx")
			cy, _ := attrFloat(s, "cy")
			if r, ok := attrFloat(s, "r"); ok {
				extend(p.t, cx-r, cy-r, cx+r, cy+r)
			}
		case "ellipse":
			cx, _ := attrFloat(s, "cx")
			cy, _ := attrFloat(s, "cy")
			rx, okX := attrFloat(s, "rx")
			ry, okY := attrFloat(s, "ry")
			if okX && okY {
				extend(p.t, cx-rx, cy-ry, cx+rx, cy+ry)
			}
		case "polygon":
			pts := parseNumbers(s.Attr("points"))
			for i := 0; i+1 < len(pts); i += 2 {
				extend(p.t, pts[i], pts[i+1], pts[i], pts[i+1])
			}
		}
	}

	if !found || maxX-minX <= 0 || maxY-minY <= 0 {
		return Box{}, false
	}
	return Box{X: minX, Y: minY, W: maxX - minX, H: maxY - minY, HasOrigin: true}, true
}

func attrFloat(el *Element, name string) (float64, bool) {
	raw := strings.TrimSuffix(strings.TrimSpace(el.Attr(name)), "px")
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
