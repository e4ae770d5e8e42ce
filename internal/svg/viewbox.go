package svg

import (
	"github.com/rendis/drawmaid/pkg/schema"
)

// Offset is the origin of the root viewBox.
type Offset struct {
	DX float64
	DY float64
}

// Box is the intrinsic extent of a node element in its own coordinate space.
// Without an origin the accumulated translation is the box center.
type Box struct {
	X, Y      float64
	W, H      float64
	HasOrigin bool
}

// ViewBoxOffset reads min-x and min-y from the root viewBox, defaulting to 0,0.
func ViewBoxOffset(root *Element) Offset {
	if root == nil {
		return Offset{}
	}
	nums := parseNumbers(root.Attr("viewBox"))
	if len(nums) != 4 {
		return Offset{}
	}
	return Offset{DX: nums[0], DY: nums[1]}
}

// Apply places a box under an accumulated transform, shifting by the viewBox offset.
func Apply(t schema.Transform, box Box, off Offset) schema.Geometry {
	w := box.W * t.ScaleX
	h := box.H * t.ScaleY
	x := t.X - off.DX
	y := t.Y - off.DY

	if box.HasOrigin {
		x += box.X * t.ScaleX
		y += box.Y * t.ScaleY
	} else {
		x -= w / 2
		y -= h / 2
	}
	return schema.Geometry{X: x, Y: y, W: w, H: h}
}
