package converter

import (
	"regexp"
	"strings"

	"github.com/samber/lo"

	"github.com/rendis/drawmaid/internal/detect"
	"github.com/rendis/drawmaid/internal/svg"
	"github.com/rendis/drawmaid/pkg/schema"
)

// Generic is the best-effort converter for sources no specific parser owns.
type Generic struct {
	base
}

// NewGeneric creates the generic converter.
func NewGeneric(deps Deps) Converter {
	return &Generic{base: newBase(schema.DiagramGeneric, svg.GenericProfile, deps)}
}

var (
	genericDeclRe   = regexp.MustCompile(`([\p{L}_][\p{L}\p{N}_]*)\s*[\[\(\{]+\s*"?([^\]\)\}"]*?)"?\s*[\]\)\}]+`)
	genericPairRe   = regexp.MustCompile(`([\p{L}_][\p{L}\p{N}_]*)(?:\s*[\[\(\{]+[^\]\)\}]*[\]\)\}]+)?\s*(<)?(?:-{2,}|={2,}|-\.+-)(>)?\s*(?:\|[^|]*\|\s*)?([\p{L}_][\p{L}\p{N}_]*)`)
	genericKeywords = []string{"end", "subgraph", "participant", "actor", "note", "class", "state", "title", "section", "direction"}
)

func (c *Generic) ParseSource(source string) (*schema.Graph, error) {
	g := &schema.Graph{}
	index := map[string]int{}

	add := func(id, label string) {
		if lo.Contains(genericKeywords, id) {
			return
		}
		if i, ok := index[id]; ok {
			if label != "" && g.Nodes[i].Label == id {
				g.Nodes[i].Label = label
			}
			return
		}
		if label == "" {
			label = id
		}
		g.Nodes = append(g.Nodes, schema.Node{ID: id, Label: label, Kind: schema.NodeGeneric, Shape: "rect"})
		index[id] = len(g.Nodes) - 1
	}

	lines := lo.Filter(strings.Split(detect.StripNoise(source), "\n"), func(l string, _ int) bool {
		return strings.TrimSpace(l) != ""
	})
	if len(lines) > 0 && isHeaderLine(lines[0]) {
		lines = lines[1:]
	}

	for _, line := range lines {
		for _, m := range genericDeclRe.FindAllStringSubmatch(line, -1) {
			add(m[1], cleanLabel(m[2]))
		}
		// Chains like `a --> b --> c` resume matching at each target.
		for pos := 0; pos < len(line); {
			loc := genericPairRe.FindStringSubmatchIndex(line[pos:])
			if loc == nil {
				break
			}
			sub := func(k int) string {
				if loc[2*k] < 0 {
					return ""
				}
				return line[pos+loc[2*k] : pos+loc[2*k+1]]
			}
			src, dst := sub(1), sub(4)
			back, fwd := sub(2) != "", sub(3) != ""
			pos += loc[8]

			add(src, "")
			add(dst, "")
			_, okS := index[src]
			_, okD := index[dst]
			if !okS || !okD {
				continue
			}
			e := schema.Edge{SourceID: src, TargetID: dst, Arrow: schema.ArrowLine}
			switch {
			case back && fwd:
				e.Arrow = schema.ArrowBidirectional
			case back:
				e.SourceID, e.TargetID = dst, src
				e.Arrow = schema.ArrowOneWay
			case fwd:
				e.Arrow = schema.ArrowOneWay
			}
			g.Edges = append(g.Edges, e)
		}
	}

	if len(g.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeParse, "no nodes found").
			WithStage(schema.StageSourceParsed).
			WithDetails(map[string]any{"diagram_type": string(schema.DiagramGeneric)})
	}
	return g, nil
}

// isHeaderLine reports whether the line opens a diagram: a known Mermaid
// keyword, or a bare word with optional arguments and no link syntax.
func isHeaderLine(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	kw := strings.TrimSuffix(fields[0], ":")
	known := lo.ContainsBy(detect.UnsupportedHeaders, func(h string) bool { return strings.EqualFold(h, kw) })
	return known || !strings.ContainsAny(line, "[](){}<>-=|:")
}
