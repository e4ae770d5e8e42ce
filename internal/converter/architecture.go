package converter

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/rendis/drawmaid/internal/detect"
	"github.com/rendis/drawmaid/internal/svg"
	"github.com/rendis/drawmaid/pkg/schema"
)

// Architecture converts `architecture-beta` diagrams.
type Architecture struct {
	base
}

// NewArchitecture creates an architecture converter.
func NewArchitecture(deps Deps) Converter {
	return &Architecture{base: newBase(schema.DiagramArchitecture, svg.ArchitectureProfile, deps)}
}

const archID = `[\p{L}\p{N}_-]+`

var (
	// service id(icon)[Label] in parent; group uses the same form.
	archDeclRe = regexp.MustCompile(`^(service|group)\s+(` + archID + `)\s*(?:\(([^)]*)\))?\s*(?:\[([^\]]*)\])?(?:\s+in\s+(` + archID + `))?\s*$`)
	junctionRe = regexp.MustCompile(`^junction\s+(` + archID + `)(?:\s+in\s+(` + archID + `))?\s*$`)
	// a{group}:R <--> L:b{group}
	archEdgeRe = regexp.MustCompile(`^(` + archID + `)(\{group\})?\s*:\s*([TBLR])\s*(<)?-{2,}(>)?\s*([TBLR])\s*:\s*(` + archID + `)(\{group\})?\s*$`)
)

func (a *Architecture) ParseSource(source string) (*schema.Graph, error) {
	g := &schema.Graph{}
	index := map[string]int{}
	var edges []schema.Edge
	var groupMods [][2]bool

	for i, raw := range strings.Split(detect.StripNoise(source), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "architecture") {
			continue
		}

		if m := archDeclRe.FindStringSubmatch(line); m != nil {
			n := schema.Node{ID: m[2], Label: strings.TrimSpace(m[4]), GroupRef: m[5], IconRef: strings.TrimSpace(m[3])}
			n.Kind = schema.NodeService
			if m[1] == "group" {
				n.Kind = schema.NodeGroup
			}
			if n.Label == "" {
				n.Label = n.ID
			}
			n.HasIcon = n.IconRef != ""
			addNode(g, index, n, a.logger)
			continue
		}
		if m := junctionRe.FindStringSubmatch(line); m != nil {
			addNode(g, index, schema.Node{ID: m[1], Kind: schema.NodeJunction, GroupRef: m[2]}, a.logger)
			continue
		}
		if m := archEdgeRe.FindStringSubmatch(line); m != nil {
			e := schema.Edge{
				SourceID:        m[1],
				SourceDirection: schema.Direction(m[3]),
				TargetDirection: schema.Direction(m[6]),
				TargetID:        m[7],
			}
			srcGroup, dstGroup := m[2] != "", m[8] != ""
			switch back, fwd := m[4] != "", m[5] != ""; {
			case back && fwd:
				e.Arrow = schema.ArrowBidirectional
			case back:
				// a <-- b is b --> a
				e.SourceID, e.TargetID = e.TargetID, e.SourceID
				e.SourceDirection, e.TargetDirection = e.TargetDirection, e.SourceDirection
				srcGroup, dstGroup = dstGroup, srcGroup
				e.Arrow = schema.ArrowOneWay
			case fwd:
				e.Arrow = schema.ArrowOneWay
			default:
				e.Arrow = schema.ArrowLine
			}
			edges = append(edges, e)
			groupMods = append(groupMods, [2]bool{srcGroup, dstGroup})
			continue
		}
		a.logger.Debug("architecture line skipped", slog.Int("line", i+1), slog.String("text", line))
	}

	if len(g.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeParse, "no architecture services, groups or junctions found").
			WithStage(schema.StageSourceParsed).
			WithDetails(map[string]any{"diagram_type": string(schema.DiagramArchitecture)})
	}

	// Parents may be declared after their members.
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.GroupRef == "" {
			continue
		}
		p, ok := index[n.GroupRef]
		if !ok || g.Nodes[p].Kind != schema.NodeGroup || n.GroupRef == n.ID {
			a.logger.Debug("unknown parent group dropped", slog.String("node", n.ID), slog.String("group", n.GroupRef))
			n.GroupRef = ""
		}
	}

	for i, e := range edges {
		if groupMods[i][0] {
			e.SourceID = enclosingGroup(g, index, e.SourceID)
		}
		if groupMods[i][1] {
			e.TargetID = enclosingGroup(g, index, e.TargetID)
		}
		if _, ok := index[e.SourceID]; !ok {
			a.logger.Debug("dangling edge dropped", slog.String("source", e.SourceID), slog.String("target", e.TargetID))
			continue
		}
		if _, ok := index[e.TargetID]; !ok {
			a.logger.Debug("dangling edge dropped", slog.String("source", e.SourceID), slog.String("target", e.TargetID))
			continue
		}
		g.Edges = append(g.Edges, e)
	}
	return g, nil
}

// enclosingGroup resolves the {group} modifier to the node's parent group.
func enclosingGroup(g *schema.Graph, index map[string]int, id string) string {
	if i, ok := index[id]; ok && g.Nodes[i].GroupRef != "" {
		return g.Nodes[i].GroupRef
	}
	return id
}

// addNode appends n; a redeclared id keeps its first declaration.
func addNode(g *schema.Graph, index map[string]int, n schema.Node, logger *slog.Logger) {
	if _, dup := index[n.ID]; dup {
		logger.Debug("duplicate declaration ignored", slog.String("id", n.ID))
		return
	}
	g.Nodes = append(g.Nodes, n)
	index[n.ID] = len(g.Nodes) - 1
}
