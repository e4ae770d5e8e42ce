package svg

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/rendis/drawmaid/internal/logging"
	"github.com/rendis/drawmaid/pkg/schema"
)

// Size is a default width and height.
type Size struct {
	W, H float64
}

// Anchor is where the accumulated translation sits on a node without an intrinsic origin.
type Anchor int

const (
	AnchorCenter Anchor = iota
	AnchorTopLeft
)

// Profile tunes extraction to the SVG a renderer emits for one diagram type.
type Profile struct {
	Name string
	// Classes marks node groups.
	Classes []string
	// ContainerClasses marks groups whose id-carrying children are nodes.
	ContainerClasses []string
	// LabelContainerClasses marks the rect that sizes a node.
	LabelContainerClasses []string
	// DefaultSizes is keyed by class; Default applies otherwise.
	DefaultSizes map[string]Size
	Default      Size
	// Anchor places boxes that have no origin of their own.
	Anchor Anchor
	// PreferText tries nested text before id patterns.
	PreferText bool
}

// Built-in profiles.
var (
	ArchitectureProfile = Profile{
		Name:                  "architecture",
		Classes:               []string{"architecture-service", "architecture-junction", "node", "icon-shape"},
		ContainerClasses:      []string{"architecture-groups"},
		LabelContainerClasses: []string{"label-container"},
		DefaultSizes: map[string]Size{
			"architecture-service":  {W: 80, H: 80},
			"architecture-junction": {W: 20, H: 20},
			"architecture-groups":   {W: 200, H: 150},
		},
		Default: Size{W: 80, H: 80},
		Anchor:  AnchorTopLeft,
	}

	FlowchartProfile = Profile{
		Name:                  "flowchart",
		Classes:               []string{"node", "cluster"},
		LabelContainerClasses: []string{"label-container", "basic"},
		DefaultSizes: map[string]Size{
			"cluster": {W: 200, H: 150},
		},
		Default: Size{W: 120, H: 60},
	}

	GenericProfile = Profile{
		Name:                  "generic",
		Classes:               []string{"node", "cluster"},
		LabelContainerClasses: []string{"label-container"},
		Default:               Size{W: 120, H: 60},
	}

	// GraphvizProfile reads SVG produced by graphviz, where node names live in <title>.
	GraphvizProfile = Profile{
		Name:    "graphviz",
		Classes: []string{"node", "cluster"},
		Default: Size{W: 54, H: 36},
		DefaultSizes: map[string]Size{
			"cluster": {W: 200, H: 150},
		},
		PreferText: true,
	}
)

// Extractor maps node ids to geometries found in a rendered SVG.
type Extractor struct {
	profile Profile
	logger  *slog.Logger

	ids   []Strategy[*Element, string]
	sizes []Strategy[*Element, Box]
}

// NewExtractor builds an extractor for the profile.
func NewExtractor(profile Profile, logger *slog.Logger) *Extractor {
	x := &Extractor{profile: profile, logger: logging.OrDiscard(logger)}

	text := Strategy[*Element, string](byText)
	pattern := Strategy[*Element, string](byIDPattern)
	x.ids = []Strategy[*Element, string]{byAttr("data-node-id"), byAttr("data-id")}
	if profile.PreferText {
		x.ids = append(x.ids, text, pattern)
	} else {
		x.ids = append(x.ids, pattern, text)
	}

	x.sizes = []Strategy[*Element, Box]{
		byLabelContainer(profile.LabelContainerClasses),
		byNestedSVG,
		byAnyRect,
		byBoundingBox,
		x.defaultSize,
	}
	return x
}

// Profile returns the extractor's profile.
func (x *Extractor) Profile() Profile {
	return x.profile
}

// Extract returns node geometries. It never fails: a broken group is skipped,
// a failing enhanced pass falls back to the minimal pass, and a failing minimal
// pass yields an empty map.
func (x *Extractor) Extract(svg string) map[string]schema.Geometry {
	if strings.TrimSpace(svg) == "" {
		return map[string]schema.Geometry{}
	}

	root, err := Parse(svg)
	if err != nil {
		x.logger.Warn("svg parse failed, no positions extracted", slog.String("profile", x.profile.Name), slog.String("error", err.Error()))
		return map[string]schema.Geometry{}
	}

	out, err := x.enhanced(root)
	if err == nil && len(out) > 0 {
		return out
	}
	if err != nil {
		x.logger.Warn("enhanced extraction failed, using minimal strategy", slog.String("profile", x.profile.Name), slog.String("error", err.Error()))
	}

	out, err = x.minimal(root)
	if err != nil {
		x.logger.Warn("minimal extraction failed", slog.String("profile", x.profile.Name), slog.String("error", err.Error()))
		return map[string]schema.Geometry{}
	}
	return out
}

var errNoNodeID = errors.New("no node id")

type candidate struct {
	el        *Element
	transform schema.Transform
}

func (x *Extractor) enhanced(root *Element) (out map[string]schema.Geometry, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("enhanced extraction panic: %v", r)
		}
	}()

	offset := ViewBoxOffset(root)
	candidates := x.collect(root, func(el *Element) bool {
		return el.Name == "g" && el.HasClass(x.profile.Classes...)
	})
	if len(candidates) == 0 {
		candidates = x.collect(root, func(el *Element) bool {
			return el != root && el.Name == "g" && el.Attr("id") != ""
		})
	}

	out = make(map[string]schema.Geometry, len(candidates))
	for _, c := range candidates {
		id, geo, err := x.resolve(c, offset)
		if err != nil {
			x.logger.Debug("skipping svg group", slog.String("id", c.el.Attr("id")), slog.String("error", err.Error()))
			continue
		}
		if _, dup := out[id]; dup {
			continue
		}
		out[id] = geo
	}
	return out, nil
}

// collect walks the tree and returns matching groups plus the id-carrying
// children of container groups.
func (x *Extractor) collect(root *Element, match func(*Element) bool) []candidate {
	var out []candidate
	Walk(root, func(v Visit) bool {
		if v.Element.HasClass(x.profile.ContainerClasses...) {
			for _, child := range v.Element.Children {
				if child.Attr("id") == "" {
					continue
				}
				out = append(out, candidate{
					el:        child,
					transform: Compose(v.Transform, ParseTransform(child.Attr("transform"))),
				})
			}
			return false
		}
		if match(v.Element) {
			out = append(out, candidate{el: v.Element, transform: v.Transform})
		}
		return true
	})
	return out
}

func (x *Extractor) resolve(c candidate, offset Offset) (id string, geo schema.Geometry, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("group panic: %v", r)
		}
	}()

	id, ok := FirstMatch(x.ids, c.el)
	if !ok {
		return "", geo, errNoNodeID
	}
	box, _ := FirstMatch(x.sizes, c.el)

	geo = Apply(c.transform, x.anchored(box), offset)
	if !finite(geo) {
		return "", geo, fmt.Errorf("non-finite geometry for %q", id)
	}
	return id, geo, nil
}

// anchored gives an origin-less box the profile's anchor.
func (x *Extractor) anchored(b Box) Box {
	if !b.HasOrigin && x.profile.Anchor == AnchorTopLeft {
		b.X, b.Y, b.HasOrigin = 0, 0, true
	}
	return b
}

func (x *Extractor) defaultSize(el *Element) (Box, bool) {
	for _, c := range el.Classes() {
		if s, ok := x.profile.DefaultSizes[c]; ok {
			return Box{W: s.W, H: s.H}, true
		}
	}
	return Box{W: x.profile.Default.W, H: x.profile.Default.H}, true
}

// minimal trusts only groups with numeric-suffix ids, their own translate and first rect.
func (x *Extractor) minimal(root *Element) (out map[string]schema.Geometry, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("minimal extraction panic: %v", r)
		}
	}()

	offset := ViewBoxOffset(root)
	out = map[string]schema.Geometry{}
	for _, g := range root.Descendants(func(el *Element) bool { return el.Name == "g" }) {
		m := suffixedIDRe.FindStringSubmatch(g.Attr("id"))
		if m == nil {
			continue
		}
		id := m[1]
		if i := strings.LastIndex(id, "flowchart-"); i >= 0 {
			id = id[i+len("flowchart-"):]
		}
		if id == "" {
			continue
		}

		box := Box{W: x.profile.Default.W, H: x.profile.Default.H}
		for _, c := range g.Children {
			if b, ok := rectBox(c); ok {
				box = b
				break
			}
		}
		geo := Apply(Accumulate([]*Element{g}), x.anchored(box), offset)
		if !finite(geo) {
			continue
		}
		if _, dup := out[id]; !dup {
			out[id] = geo
		}
	}
	return out, nil
}

func finite(g schema.Geometry) bool {
	for _, v := range []float64{g.X, g.Y, g.W, g.H} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
