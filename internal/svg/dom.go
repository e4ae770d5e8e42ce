package svg

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rendis/drawmaid/pkg/schema"
)

// Element is a minimal SVG DOM node. Elements carry no parent pointers;
// ancestry is tracked by Walk.
type Element struct {
	Name     string
	Attrs    map[string]string
	Children []*Element
	Text     string
}

// Parse decodes svg into an element tree and returns the root element.
func Parse(svg string) (*Element, error) {
	d := xml.NewDecoder(strings.NewReader(svg))
	d.Strict = false
	d.AutoClose = xml.HTMLAutoClose
	d.Entity = xml.HTMLEntity

	var root *Element
	var stack []*Element
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode svg: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &Element{Name: t.Name.Local, Attrs: make(map[string]string, len(t.Attr))}
			for _, a := range t.Attr {
				key := a.Name.Local
				if a.Name.Space != "" && a.Name.Space != "xmlns" {
					key = a.Name.Space + ":" + a.Name.Local
				}
				el.Attrs[key] = a.Value
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, errors.New("decode svg: multiple root elements")
				}
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, el)
			}
			stack = append(stack, el)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		}
	}

	if root == nil {
		return nil, errors.New("decode svg: no root element")
	}
	return root, nil
}

// Attr returns the attribute value, or "" when absent.
func (e *Element) Attr(name string) string {
	return e.Attrs[name]
}

// Classes splits the class attribute.
func (e *Element) Classes() []string {
	return strings.Fields(e.Attrs["class"])
}

// HasClass reports whether the class list contains any of the given classes.
func (e *Element) HasClass(classes ...string) bool {
	for _, c := range e.Classes() {
		for _, want := range classes {
			if c == want {
				return true
			}
		}
	}
	return false
}

// TextContent concatenates the character data of the element and its descendants.
func (e *Element) TextContent() string {
	var sb strings.Builder
	var visit func(*Element)
	visit = func(el *Element) {
		sb.WriteString(el.Text)
		for _, c := range el.Children {
			visit(c)
		}
	}
	visit(e)
	return strings.TrimSpace(sb.String())
}

// Descendants returns every descendant matching pred, in document order.
func (e *Element) Descendants(pred func(*Element) bool) []*Element {
	var out []*Element
	var visit func(*Element)
	visit = func(el *Element) {
		for _, c := range el.Children {
			if pred(c) {
				out = append(out, c)
			}
			visit(c)
		}
	}
	visit(e)
	return out
}

// Visit is one step of a Walk.
type Visit struct {
	Element *Element
	Depth   int
	// Transform is the accumulated transform of the element's ancestors and the element itself.
	Transform schema.Transform
}

// Walk traverses the tree top-down with an explicit stack, passing each element
// the transform accumulated from the root. Returning false from fn skips the
// element's subtree.
func Walk(root *Element, fn func(v Visit) bool) {
	if root == nil {
		return
	}

	stack := []Visit{{
		Element:   root,
		Transform: Compose(schema.IdentityTransform(), ParseTransform(root.Attr("transform"))),
	}}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !fn(v) {
			continue
		}
		// Push in reverse so children are visited in document order.
		for i := len(v.Element.Children) - 1; i >= 0; i-- {
			child := v.Element.Children[i]
			stack = append(stack, Visit{
				Element:   child,
				Depth:     v.Depth + 1,
				Transform: Compose(v.Transform, ParseTransform(child.Attr("transform"))),
			})
		}
	}
}
