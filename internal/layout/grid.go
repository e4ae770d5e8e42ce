package layout

import (
	"cmp"
	"context"
	"math"
	"slices"

	"github.com/rendis/drawmaid/pkg/schema"
)

// Grid places nodes in evenly spaced cells, keeping group members adjacent.
type Grid struct {
	CellW, CellH float64
	Gap          float64
	Margin       float64
}

// DefaultGrid returns the grid used when no other layout is configured.
func DefaultGrid() Grid {
	return Grid{CellW: 120, CellH: 80, Gap: 60, Margin: 40}
}

func (Grid) Name() string { return "grid" }

// Layout never fails.
func (gr Grid) Layout(ctx context.Context, g *schema.Graph, c Canvas) (map[string]schema.Geometry, error) {
	nodes := orderByGroup(g)
	out := make(map[string]schema.Geometry, len(nodes))
	if len(nodes) == 0 {
		return out, nil
	}

	cols := int(math.Ceil(math.Sqrt(float64(len(nodes)))))
	if horizontal(g.Direction) {
		if fit := int((c.Height - 2*gr.Margin + gr.Gap) / (gr.CellH + gr.Gap)); fit >= 1 && cols > fit {
			cols = fit
		}
	} else if fit := int((c.Width - 2*gr.Margin + gr.Gap) / (gr.CellW + gr.Gap)); fit >= 1 && cols > fit {
		cols = fit
	}

	for i, n := range nodes {
		row, col := i/cols, i%cols
		if horizontal(g.Direction) {
			row, col = col, row
		}
		w, h := NodeSize(n.Kind)
		out[n.ID] = schema.Geometry{
			X: gr.Margin + float64(col)*(gr.CellW+gr.Gap) + (gr.CellW-w)/2,
			Y: gr.Margin + float64(row)*(gr.CellH+gr.Gap) + (gr.CellH-h)/2,
			W: w,
			H: h,
		}
	}
	return out, nil
}

// orderByGroup returns the non-group nodes, stable-sorted by the first
// appearance of their group.
func orderByGroup(g *schema.Graph) []schema.Node {
	rank := map[string]int{"": -1}
	for _, n := range g.Nodes {
		if _, ok := rank[n.GroupRef]; !ok {
			rank[n.GroupRef] = len(rank)
		}
	}
	var nodes []schema.Node
	for _, n := range g.Nodes {
		if n.Kind != schema.NodeGroup {
			nodes = append(nodes, n)
		}
	}
	slices.SortStableFunc(nodes, func(a, b schema.Node) int {
		return cmp.Compare(rank[a.GroupRef], rank[b.GroupRef])
	})
	return nodes
}
