// Package layout synthesizes node geometry when a rendered SVG does not provide it.
package layout

import (
	"context"
	"log/slog"
	"math"

	"github.com/rendis/drawmaid/internal/logging"
	"github.com/rendis/drawmaid/pkg/schema"
)

// Canvas is the target drawing area.
type Canvas struct {
	Width, Height float64
}

// Engine places every non-group node of a graph.
type Engine interface {
	Name() string
	Layout(ctx context.Context, g *schema.Graph, c Canvas) (map[string]schema.Geometry, error)
}

// Group padding around enclosed members; the top leaves room for the title.
const (
	GroupPadding    = 20.0
	GroupTitleSpace = 20.0
)

// NodeSize is the synthesized size of a node kind.
func NodeSize(kind schema.NodeKind) (w, h float64) {
	switch kind {
	case schema.NodeService:
		return 80, 80
	case schema.NodeJunction:
		return 20, 20
	case schema.NodeGroup:
		return 200, 150
	default:
		return 120, 60
	}
}

// Result is the outcome of Fill.
type Result struct {
	Positions map[string]schema.Geometry
	// Engine names the layout used, or "svg" when nothing was synthesized.
	Engine string
	Placed int
}

// Fill completes positions for every node of g. Existing geometry always wins.
// Missing leaf nodes are placed by e, below any existing geometry; groups without
// geometry enclose their members. A failing engine falls back to the grid.
func Fill(ctx context.Context, e Engine, g *schema.Graph, positions map[string]schema.Geometry, c Canvas, logger *slog.Logger) Result {
	logger = logging.OrDiscard(logger)
	if e == nil {
		e = DefaultGrid()
	}

	out := make(map[string]schema.Geometry, len(g.Nodes))
	known := g.Index()
	for id, geo := range positions {
		if _, ok := known[id]; ok {
			out[id] = geo
		}
	}

	sub := &schema.Graph{Direction: g.Direction}
	missing := map[string]bool{}
	for _, n := range g.Nodes {
		if _, ok := out[n.ID]; ok {
			continue
		}
		sub.Nodes = append(sub.Nodes, n)
		missing[n.ID] = true
	}
	for _, edge := range g.Edges {
		if missing[edge.SourceID] && missing[edge.TargetID] {
			sub.Edges = append(sub.Edges, edge)
		}
	}

	res := Result{Positions: out, Engine: "svg"}
	if leafCount(sub) > 0 {
		placed, err := e.Layout(ctx, sub, c)
		res.Engine = e.Name()
		if err != nil {
			logger.WarnContext(ctx, "layout failed, using grid",
				slog.String("engine", e.Name()), slog.String("error", err.Error()))
			placed, _ = DefaultGrid().Layout(ctx, sub, c)
			res.Engine = "grid"
		}
		shift(placed, out)
		for id, geo := range placed {
			if missing[id] {
				out[id] = geo
				res.Placed++
			}
		}
	}

	res.Placed += Enclose(g, out)
	return res
}

// shift moves placed below the existing geometry, aligned to its left edge.
func shift(placed, existing map[string]schema.Geometry) {
	if len(existing) == 0 || len(placed) == 0 {
		return
	}
	exMinX, exMaxY := math.Inf(1), math.Inf(-1)
	for _, g := range existing {
		exMinX = math.Min(exMinX, g.X)
		exMaxY = math.Max(exMaxY, g.Y+g.H)
	}
	plMinX, plMinY := math.Inf(1), math.Inf(1)
	for _, g := range placed {
		plMinX = math.Min(plMinX, g.X)
		plMinY = math.Min(plMinY, g.Y)
	}
	dx, dy := exMinX-plMinX, exMaxY+DefaultGrid().Gap-plMinY
	for id, g := range placed {
		g.X += dx
		g.Y += dy
		placed[id] = g
	}
}

// Enclose gives every group lacking geometry the padded bounding box of its
// members, innermost groups first. It returns the number of groups placed.
func Enclose(g *schema.Graph, positions map[string]schema.Geometry) int {
	members := map[string][]string{}
	for _, n := range g.Nodes {
		if n.GroupRef != "" {
			members[n.GroupRef] = append(members[n.GroupRef], n.ID)
		}
	}

	placed := 0
	for progress := true; progress; {
		progress = false
		for _, n := range g.Nodes {
			if n.Kind != schema.NodeGroup {
				continue
			}
			if _, ok := positions[n.ID]; ok {
				continue
			}
			box, ok := bounds(members[n.ID], positions)
			if !ok {
				continue
			}
			positions[n.ID] = schema.Geometry{
				X: box.X - GroupPadding,
				Y: box.Y - GroupPadding - GroupTitleSpace,
				W: box.W + 2*GroupPadding,
				H: box.H + 2*GroupPadding + GroupTitleSpace,
			}
			placed++
			progress = true
		}
	}
	return placed
}

// bounds requires every member to be placed so nested groups resolve inside out.
func bounds(ids []string, positions map[string]schema.Geometry) (schema.Geometry, bool) {
	if len(ids) == 0 {
		return schema.Geometry{}, false
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, id := range ids {
		g, ok := positions[id]
		if !ok {
			return schema.Geometry{}, false
		}
		minX, minY = math.Min(minX, g.X), math.Min(minY, g.Y)
		maxX, maxY = math.Max(maxX, g.X+g.W), math.Max(maxY, g.Y+g.H)
	}
	return schema.Geometry{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}, true
}

func leafCount(g *schema.Graph) int {
	n := 0
	for _, node := range g.Nodes {
		if node.Kind != schema.NodeGroup {
			n++
		}
	}
	return n
}

// horizontal reports whether a flowchart direction runs left/right.
func horizontal(direction string) bool {
	return direction == "LR" || direction == "RL"
}
