package layout

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/rendis/drawmaid/internal/logging"
	"github.com/rendis/drawmaid/internal/svg"
	"github.com/rendis/drawmaid/pkg/schema"
)

// DOT lays a graph out with graphviz dot and reads node boxes back from the
// rendered SVG. Groups become clusters.
type DOT struct {
	Logger *slog.Logger
}

func (DOT) Name() string { return "dot" }

func (d DOT) Layout(ctx context.Context, g *schema.Graph, _ Canvas) (map[string]schema.Geometry, error) {
	logger := logging.OrDiscard(d.Logger)

	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("layout: create graphviz: %w", err)
	}
	defer gv.Close()
	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("layout: create graph: %w", err)
	}
	defer graph.Close()
	graph.SetRankDir(rankDir(g.Direction))

	// graphviz names are aliased so titles always read back as identifiers.
	alias := make(map[string]string, len(g.Nodes))
	back := make(map[string]string, len(g.Nodes))
	index := g.Index()

	clusters := map[string]*cgraph.Graph{}
	var clusterFor func(id string, depth int) *cgraph.Graph
	clusterFor = func(id string, depth int) *cgraph.Graph {
		n, ok := index[id]
		if !ok || n.Kind != schema.NodeGroup || depth > len(g.Nodes) {
			return graph
		}
		if c, ok := clusters[id]; ok {
			return c
		}
		parent := graph
		if n.GroupRef != "" {
			parent = clusterFor(n.GroupRef, depth+1)
		}
		sub, err := parent.CreateSubGraphByName(fmt.Sprintf("cluster_%d", len(clusters)))
		if err != nil {
			logger.Debug("graphviz cluster skipped", slog.String("group", id), slog.String("error", err.Error()))
			return graph
		}
		sub.SetLabel(n.Label)
		sub.SetStyle(cgraph.DashedGraphStyle)
		clusters[id] = sub
		return sub
	}

	gvNodes := make(map[string]*cgraph.Node, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.Kind == schema.NodeGroup {
			continue
		}
		name := fmt.Sprintf("n%d", len(alias))
		alias[n.ID] = name
		back[name] = n.ID

		owner := graph
		if n.GroupRef != "" {
			owner = clusterFor(n.GroupRef, 0)
		}
		gvNode, err := owner.CreateNodeByName(name)
		if err != nil {
			return nil, fmt.Errorf("layout: create node %s: %w", n.ID, err)
		}
		gvNode.SetLabel(n.Label)
		applyNodeShape(gvNode, n)
		gvNodes[n.ID] = gvNode
	}

	for _, e := range g.Edges {
		from, to := gvNodes[e.SourceID], gvNodes[e.TargetID]
		if from == nil || to == nil {
			continue
		}
		if _, err := graph.CreateEdgeByName("", from, to); err != nil {
			logger.Debug("graphviz edge skipped", slog.String("source", e.SourceID), slog.String("target", e.TargetID))
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("layout: render svg: %w", err)
	}

	found := svg.NewExtractor(svg.GraphvizProfile, logger).Extract(buf.String())
	out := make(map[string]schema.Geometry, len(found))
	for name, geo := range found {
		if id, ok := back[name]; ok {
			out[id] = geo
		}
	}
	if len(out) == 0 && len(gvNodes) > 0 {
		return nil, fmt.Errorf("layout: no node boxes in graphviz output")
	}
	return out, nil
}

// applyNodeShape sizes graphviz nodes like the synthesized draw.io cells.
func applyNodeShape(gvNode *cgraph.Node, n schema.Node) {
	w, h := NodeSize(n.Kind)
	gvNode.SetWidth(w / 72)
	gvNode.SetHeight(h / 72)

	switch {
	case n.Kind == schema.NodeJunction:
		gvNode.SetShape(cgraph.PointShape)
	case n.Shape == "diamond":
		gvNode.SetShape(cgraph.DiamondShape)
	case n.Shape == "hexagon":
		gvNode.SetShape(cgraph.HexagonShape)
	case n.Shape == "circle" || n.Shape == "double-circle":
		gvNode.SetShape(cgraph.CircleShape)
	case n.Shape == "cylinder":
		gvNode.SetShape(cgraph.CylinderShape)
	default:
		gvNode.SetShape(cgraph.BoxShape)
	}
}

func rankDir(direction string) cgraph.RankDir {
	switch direction {
	case "LR":
		return cgraph.LRRank
	case "RL":
		return cgraph.RLRank
	case "BT":
		return cgraph.BTRank
	default:
		return cgraph.TBRank
	}
}
