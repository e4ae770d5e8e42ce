package svg

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rendis/drawmaid/pkg/schema"
)

var (
	transformFuncRe = regexp.MustCompile(`([A-Za-z]+)\s*\(([^)]*)\)`)
	numberSepRe     = regexp.MustCompile(`[\s,]+`)
)

// ParseTransform reads a transform attribute into a Transform summary.
// Supported functions are translate, scale, rotate and matrix; several
// functions in one attribute compose left to right. An empty or unknown
// attribute is the identity.
//
// matrix(a,b,c,d,e,f) contributes only its translation (e,f). Rotation and
// skew encoded in a..d are ignored.
func ParseTransform(attr string) schema.Transform {
	out := schema.IdentityTransform()
	if strings.TrimSpace(attr) == "" {
		return out
	}

	for _, m := range transformFuncRe.FindAllStringSubmatch(attr, -1) {
		args := parseNumbers(m[2])
		t := schema.IdentityTransform()

		switch strings.ToLower(m[1]) {
		case "translate":
			if len(args) == 0 {
				continue
			}
			t.X = args[0]
			if len(args) > 1 {
				t.Y = args[1]
			}
		case "scale":
			if len(args) == 0 {
				continue
			}
			t.ScaleX, t.ScaleY = args[0], args[0]
			if len(args) > 1 {
				t.ScaleY = args[1]
			}
		case "rotate":
			if len(args) == 0 {
				continue
			}
			t.Rotation = args[0]
		case "matrix":
			if len(args) != 6 {
				continue
			}
			t.X, t.Y = args[4], args[5]
		default:
			continue
		}

		out = Compose(out, t)
	}
	return out
}

// Compose applies child inside parent's coordinate space.
func Compose(parent, child schema.Transform) schema.Transform {
	return schema.Transform{
		X:        parent.X + child.X*parent.ScaleX,
		Y:        parent.Y + child.Y*parent.ScaleY,
		ScaleX:   parent.ScaleX * child.ScaleX,
		ScaleY:   parent.ScaleY * child.ScaleY,
		Rotation: parent.Rotation + child.Rotation,
	}
}

// Accumulate folds the transforms of a root-to-leaf element chain.
func Accumulate(chain []*Element) schema.Transform {
	out := schema.IdentityTransform()
	for _, el := range chain {
		if el == nil {
			continue
		}
		out = Compose(out, ParseTransform(el.Attr("transform")))
	}
	return out
}

func parseNumbers(s string) []float64 {
	fields := numberSepRe.Split(strings.TrimSpace(s), -1)
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil
		}
		out = append(out, v)
	}
	return out
}
