package converter

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/rendis/drawmaid/internal/detect"
	"github.com/rendis/drawmaid/internal/svg"
	"github.com/rendis/drawmaid/pkg/schema"
)

// Flowchart converts `graph` / `flowchart` diagrams.
type Flowchart struct {
	base
}

// NewFlowchart creates a flowchart converter.
func NewFlowchart(deps Deps) Converter {
	return &Flowchart{base: newBase(schema.DiagramFlowchart, svg.FlowchartProfile, deps)}
}

var (
	flowHeaderRe   = regexp.MustCompile(`^(?:graph|flowchart)(?:\s+(TB|TD|BT|LR|RL))?\b`)
	subgraphRe     = regexp.MustCompile(`^subgraph\s+(.+)$`)
	subgraphIDRe   = regexp.MustCompile(`^([\p{L}\p{N}_-]+)\s*\[\s*"?(.*?)"?\s*\]$`)
	flowDirectives = []string{"classDef", "class", "style", "linkStyle", "click", "direction", "accTitle", "accDescr", "title"}

	// -- text -->, == text ==>, -. text .->
	labeledLinkRe = regexp.MustCompile(`^(<)?(--|==|-\.)\s+(.+?)\s+(-{2,}>|-{3,}|={2,}>|={3,}|\.-+>|\.-+)`)
	// -->, ---, -.->, ==>, <-->, o--o, x--x, ~~~ with an optional |label|
	plainLinkRe = regexp.MustCompile(`^([<ox])?(-{2,}|={2,}|-\.+-|~{3,})([>ox])?`)
	pipeLabelRe = regexp.MustCompile(`^\s*\|([^|]*)\|`)
	// label entry of an `@{ shape: ..., label: "..." }` block
	metaLabelRe = regexp.MustCompile(`\blabel\s*:\s*(?:"([^"]*)"|([^,]*))`)
)

// shapeDelims is ordered longest opener first.
var shapeDelims = []struct {
	open   string
	closes []string
	shapes []string
}{
	{"(((", []string{")))"}, []string{"double-circle"}},
	{"((", []string{"))"}, []string{"circle"}},
	{"([", []string{"])"}, []string{"stadium"}},
	{"[[", []string{"]]"}, []string{"subroutine"}},
	{"[(", []string{")]"}, []string{"cylinder"}},
	{"{{", []string{"}}"}, []string{"hexagon"}},
	{"[/", []string{"/]", `\]`}, []string{"parallelogram", "trapezoid"}},
	{`[\`, []string{`\]`, "/]"}, []string{"parallelogram-alt", "trapezoid-alt"}},
	{">", []string{"]"}, []string{"asymmetric"}},
	{"[", []string{"]"}, []string{"rect"}},
	{"(", []string{")"}, []string{"round"}},
	{"{", []string{"}"}, []string{"diamond"}},
}

// flowBuilder accumulates a graph while tracking subgraph nesting.
type flowBuilder struct {
	g      *schema.Graph
	index  map[string]int
	shaped map[string]bool
	stack  []string
	logger *slog.Logger
}

func (f *Flowchart) ParseSource(source string) (*schema.Graph, error) {
	b := &flowBuilder{
		g:      &schema.Graph{Direction: "TD"},
		index:  map[string]int{},
		shaped: map[string]bool{},
		logger: f.logger,
	}

	headerSeen := false
	for _, line := range strings.Split(detect.StripNoise(source), "\n") {
		for _, stmt := range splitStatements(line) {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if !headerSeen {
				headerSeen = true
				if m := flowHeaderRe.FindStringSubmatch(stmt); m != nil {
					if m[1] != "" {
						b.g.Direction = m[1]
					}
					continue
				}
			}
			b.statement(stmt)
		}
	}

	if len(b.g.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeParse, "no flowchart nodes found").
			WithStage(schema.StageSourceParsed).
			WithDetails(map[string]any{"diagram_type": string(schema.DiagramFlowchart)})
	}
	return b.g, nil
}

func (b *flowBuilder) statement(stmt string) {
	if stmt == "end" {
		if len(b.stack) > 0 {
			b.stack = b.stack[:len(b.stack)-1]
		}
		return
	}
	if m := subgraphRe.FindStringSubmatch(stmt); m != nil {
		b.subgraph(strings.TrimSpace(m[1]))
		return
	}
	first := strings.FieldsFunc(stmt, func(r rune) bool { return unicode.IsSpace(r) })[0]
	for _, d := range flowDirectives {
		if first == d {
			return
		}
	}
	b.chain(stmt)
}

func (b *flowBuilder) subgraph(decl string) {
	id, label := decl, decl
	if m := subgraphIDRe.FindStringSubmatch(decl); m != nil {
		id, label = m[1], m[2]
	} else if unq := strings.Trim(decl, `"`); unq != decl {
		id, label = unq, unq
	}

	i, ok := b.index[id]
	if !ok {
		i = b.add(schema.Node{ID: id})
	}
	n := &b.g.Nodes[i]
	n.Kind = schema.NodeGroup
	n.Label = label
	n.Shape = ""
	if parent := b.current(); parent != "" && parent != id && n.GroupRef == "" {
		n.GroupRef = parent
	}
	b.stack = append(b.stack, id)
}

// chain parses `group (link group)*` where group is `node (& node)*`.
func (b *flowBuilder) chain(stmt string) {
	rest := stmt
	left, rest, ok := b.nodeGroup(rest)
	if !ok {
		b.logger.Debug("flowchart statement skipped", slog.String("statement", stmt))
		return
	}
	for {
		rest = strings.TrimLeft(rest, " \t")
		if rest == "" {
			return
		}
		edge, after, ok := parseLink(rest)
		if !ok {
			b.logger.Debug("flowchart trailing text ignored", slog.String("text", rest))
			return
		}
		right, after2, ok := b.nodeGroup(after)
		if !ok {
			b.logger.Debug("flowchart link without target", slog.String("statement", stmt))
			return
		}
		for _, s := range left {
			for _, t := range right {
				e := edge
				e.SourceID, e.TargetID = s, t
				b.g.Edges = append(b.g.Edges, e)
			}
		}
		left, rest = right, after2
	}
}

func (b *flowBuilder) nodeGroup(s string) (ids []string, rest string, ok bool) {
	rest = s
	for {
		var id string
		id, rest, ok = b.nodeRef(rest)
		if !ok {
			return nil, s, false
		}
		ids = append(ids, id)
		trimmed := strings.TrimLeft(rest, " \t")
		if !strings.HasPrefix(trimmed, "&") {
			return ids, rest, true
		}
		rest = trimmed[1:]
	}
}

// nodeRef reads `id`, `id<shape>label<close>`, an optional `@{...}` block
// and an optional `:::class`.
func (b *flowBuilder) nodeRef(s string) (id, rest string, ok bool) {
	s = strings.TrimLeft(s, " \t")
	id, rest = readID(s)
	if id == "" {
		return "", s, false
	}

	metaLabel, after, meta := readMeta(rest)
	if meta {
		rest = after
	}
	shape, label, after, shaped := readShape(rest)
	if shaped {
		rest = after
	} else if metaLabel != "" {
		shape, label, shaped = "rect", metaLabel, true
	}
	if strings.HasPrefix(rest, ":::") {
		_, rest = readID(rest[3:])
	}

	i, exists := b.index[id]
	if !exists {
		i = b.add(schema.Node{ID: id, Label: id, Kind: schema.NodeGeneric, Shape: "rect"})
	}
	n := &b.g.Nodes[i]
	if shaped && !b.shaped[id] && n.Kind != schema.NodeGroup {
		n.Shape, n.Label = shape, label
		b.shaped[id] = true
	}
	if parent := b.current(); parent != "" && n.GroupRef == "" && n.Kind != schema.NodeGroup {
		n.GroupRef = parent
	}
	return id, rest, true
}

func (b *flowBuilder) add(n schema.Node) int {
	b.g.Nodes = append(b.g.Nodes, n)
	b.index[n.ID] = len(b.g.Nodes) - 1
	return len(b.g.Nodes) - 1
}

func (b *flowBuilder) current() string {
	if len(b.stack) == 0 {
		return ""
	}
	return b.stack[len(b.stack)-1]
}

// readID reads letters, digits, '_' and '$'; a '-' is part of the id only
// when followed by a letter or digit, so `a-b-->c` reads `a-b`.
func readID(s string) (id, rest string) {
	runes := []rune(s)
	i := 0
	for i < len(runes) {
		r := runes[i]
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '$' {
			i++
			continue
		}
		if r == '-' && i > 0 && i+1 < len(runes) && runes[i-1] != '-' &&
			(unicode.IsLetter(runes[i+1]) || unicode.IsDigit(runes[i+1])) {
			i++
			continue
		}
		break
	}
	return string(runes[:i]), string(runes[i:])
}

// readMeta consumes an `@{ key: value, ... }` block and returns its label.
// An unterminated block consumes the rest of the statement.
func readMeta(s string) (label, rest string, ok bool) {
	if !strings.HasPrefix(s, "@{") {
		return "", s, false
	}
	quoted := false
	for i := 2; i < len(s); i++ {
		switch s[i] {
		case '"':
			quoted = !quoted
		case '}':
			if quoted {
				continue
			}
			if m := metaLabelRe.FindStringSubmatch(s[2:i]); m != nil {
				label = cleanLabel(m[1] + m[2])
			}
			return label, s[i+1:], true
		}
	}
	return "", "", true
}

func readShape(s string) (shape, label, rest string, ok bool) {
	for _, d := range shapeDelims {
		if !strings.HasPrefix(s, d.open) {
			continue
		}
		body := s[len(d.open):]
		start := 0
		if strings.HasPrefix(strings.TrimLeft(body, " "), `"`) {
			q := strings.Index(body, `"`)
			if end := strings.Index(body[q+1:], `"`); end >= 0 {
				start = q + 1 + end + 1
			}
		}

		best, bestShape := -1, ""
		for k, c := range d.closes {
			if i := strings.Index(body[start:], c); i >= 0 && (best < 0 || start+i < best) {
				best, bestShape = start+i, d.shapes[k]
			}
		}
		if best < 0 {
			continue
		}
		closeLen := len(d.closes[0])
		return bestShape, cleanLabel(body[:best]), body[best+closeLen:], true
	}
	return "", "", s, false
}

func cleanLabel(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	s = strings.Trim(s, "`")
	return strings.TrimSpace(s)
}

// parseLink reads a link token and its label at the start of s.
func parseLink(s string) (schema.Edge, string, bool) {
	if m := labeledLinkRe.FindStringSubmatch(s); m != nil {
		e := classifyLink(m[1], m[2]+m[4], "")
		e.Label = cleanLabel(m[3])
		return e, s[len(m[0]):], true
	}

	m := plainLinkRe.FindStringSubmatch(s)
	if m == nil {
		return schema.Edge{}, s, false
	}
	start, body, end := m[1], m[2], m[3]
	// A bare `--` or `==` is not a link; lines need three characters.
	if end == "" && len(body) < 3 {
		return schema.Edge{}, s, false
	}
	rest := s[len(m[0]):]
	e := classifyLink(start, body, end)
	if lm := pipeLabelRe.FindStringSubmatch(rest); lm != nil {
		e.Label = cleanLabel(lm[1])
		rest = rest[len(lm[0]):]
	}
	return e, rest, true
}

// classifyLink derives arrow kind and stroke from the link characters. For
// labeled links body is opener+closer and the head is the closer's last rune.
func classifyLink(start, body, end string) schema.Edge {
	if end == "" && strings.HasSuffix(body, ">") {
		end = ">"
	}
	e := schema.Edge{
		Dotted:    strings.Contains(body, "."),
		Thick:     strings.Contains(body, "="),
		Invisible: strings.HasPrefix(body, "~"),
	}
	switch {
	case end == "":
		e.Arrow = schema.ArrowLine
	case start != "":
		e.Arrow = schema.ArrowBidirectional
	default:
		e.Arrow = schema.ArrowOneWay
	}
	switch end {
	case "o":
		e.Marker = schema.MarkerCircle
	case "x":
		e.Marker = schema.MarkerCross
	}
	return e
}

// splitStatements splits on ';' outside quotes and brackets.
func splitStatements(line string) []string {
	var out []string
	depth, quoted, start := 0, false, 0
	for i, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
		case quoted:
		case r == '[' || r == '(' || r == '{':
			depth++
		case r == ']' || r == ')' || r == '}':
			if depth > 0 {
				depth--
			}
		case r == ';' && depth == 0:
			out = append(out, line[start:i])
			start = i + 1
		}
	}
	return append(out, line[start:])
}
