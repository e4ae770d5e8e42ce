package detect

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"strings"

	"github.com/rendis/drawmaid/internal/expressions"
	"github.com/rendis/drawmaid/internal/logging"
	"github.com/rendis/drawmaid/pkg/schema"
)

// HighConfidence is the score at or above which a detection is trusted.
const HighConfidence = 0.5

// UnsupportedHeaders are Mermaid diagram keywords that are recognized but not converted.
var UnsupportedHeaders = []string{
	"sequenceDiagram", "classDiagram", "classDiagram-v2", "stateDiagram", "stateDiagram-v2",
	"erDiagram", "journey", "gantt", "pie", "gitGraph", "mindmap", "timeline",
	"quadrantChart", "requirementDiagram", "C4Context", "C4Container", "C4Component",
	"C4Dynamic", "C4Deployment", "sankey-beta", "xychart-beta", "block-beta",
	"packet-beta", "kanban", "radar-beta",
}

var (
	serviceDeclRe  = regexp.MustCompile(`(?m)^\s*service\s+[\w-]+`)
	groupDeclRe    = regexp.MustCompile(`(?m)^\s*group\s+[\w-]+`)
	junctionDeclRe = regexp.MustCompile(`(?m)^\s*junction\s+[\w-]+`)
	compassEdgeRe  = regexp.MustCompile(`:[TBLR]\s*<?-->?\s*[TBLR]:`)
	arrowRe        = regexp.MustCompile(`<?(?:-{2,}>?|-\.+->?|={2,}>?|~~~)`)
	shapeRe        = regexp.MustCompile(`[\w$]+\s*(?:\(\(|\(\[|\[\[|\[\(|\{\{|\[|\(|\{|>)`)
	initDirRe      = regexp.MustCompile(`(?s)%%\{.*?\}%%`)
)

// Rule is one ordered detection heuristic. Guard is a CEL expression over
// counts; Confidence maps the counts to a score in [0,1].
type Rule struct {
	Name       string
	Type       schema.DiagramType
	Guard      string
	Confidence func(c Counts) float64
}

// Counts holds the indicator counts of a source.
type Counts struct {
	Header             string
	ArchitectureAnchor int
	FlowchartAnchor    int
	UnsupportedHeader  int
	Services           int
	Groups             int
	Junctions          int
	CompassEdges       int
	Arrows             int
	Shapes             int
}

func (c Counts) declarations() int {
	return c.Services + c.Groups + c.Junctions
}

func (c Counts) asMap() map[string]any {
	return map[string]any{
		"architecture_anchor": int64(c.ArchitectureAnchor),
		"flowchart_anchor":    int64(c.FlowchartAnchor),
		"unsupported_header":  int64(c.UnsupportedHeader),
		"services":            int64(c.Services),
		"groups":              int64(c.Groups),
		"junctions":           int64(c.Junctions),
		"compass_edges":       int64(c.CompassEdges),
		"arrows":              int64(c.Arrows),
		"shapes":              int64(c.Shapes),
	}
}

// DefaultRules returns the built-in rules in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:  "architecture-anchor",
			Type:  schema.DiagramArchitecture,
			Guard: "counts.architecture_anchor > 0",
			Confidence: func(c Counts) float64 {
				return capped(0.7+0.05*float64(c.declarations()+c.CompassEdges), 1.0)
			},
		},
		{
			Name:       "unsupported-header",
			Type:       schema.DiagramUnsupported,
			Guard:      "counts.unsupported_header > 0",
			Confidence: func(Counts) float64 { return 0.9 },
		},
		{
			Name:  "flowchart-anchor",
			Type:  schema.DiagramFlowchart,
			Guard: "counts.flowchart_anchor > 0",
			Confidence: func(c Counts) float64 {
				return capped(0.7+0.05*float64(c.Arrows+c.Shapes), 1.0)
			},
		},
		{
			Name:  "architecture-declarations",
			Type:  schema.DiagramArchitecture,
			Guard: "counts.services + counts.groups + counts.junctions >= 2",
			Confidence: func(c Counts) float64 {
				return capped(0.3+0.05*float64(c.declarations()), 0.6)
			},
		},
		{
			Name:  "flowchart-arrows",
			Type:  schema.DiagramFlowchart,
			Guard: "counts.arrows >= 1",
			Confidence: func(c Counts) float64 {
				return capped(0.3+0.05*float64(c.Arrows), 0.6)
			},
		},
	}
}

// Detector classifies Mermaid source. Detection never fails.
type Detector struct {
	cel    *expressions.CELEngine
	rules  []Rule
	logger *slog.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithRules replaces the built-in rules.
func WithRules(rules []Rule) Option {
	return func(d *Detector) { d.rules = rules }
}

// WithLogger sets the detector logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

// New creates a Detector backed by the given CEL engine.
func New(cel *expressions.CELEngine, opts ...Option) *Detector {
	d := &Detector{cel: cel, rules: DefaultRules()}
	for _, o := range opts {
		o(d)
	}
	d.logger = logging.OrDiscard(d.logger)
	return d
}

// Detect returns the first matching rule's verdict, or generic with low confidence.
func (d *Detector) Detect(source string) schema.DetectionResult {
	return d.DetectContext(context.Background(), source)
}

// DetectContext is Detect with a context for logging correlation.
func (d *Detector) DetectContext(ctx context.Context, source string) schema.DetectionResult {
	c := Count(source)
	data := map[string]any{"counts": c.asMap(), "header": c.Header}

	for _, r := range d.rules {
		ok, err := expressions.EvaluateBool(ctx, d.cel, r.Guard, data)
		if err != nil {
			d.logger.DebugContext(ctx, "detection rule skipped", slog.String("rule", r.Name), slog.String("error", err.Error()))
			continue
		}
		if !ok {
			continue
		}

		name := string(r.Type)
		if c.ArchitectureAnchor+c.FlowchartAnchor+c.UnsupportedHeader > 0 {
			name = c.Header
		}
		return schema.DetectionResult{
			Type:       r.Type,
			Confidence: round(r.Confidence(c)),
			TypeName:   name,
		}
	}

	return schema.DetectionResult{Type: schema.DiagramGeneric, Confidence: 0.1, TypeName: string(schema.DiagramGeneric)}
}

// IsHighConfidence reports whether a result clears HighConfidence.
func IsHighConfidence(r schema.DetectionResult) bool {
	return r.Confidence >= HighConfidence
}

// Count computes the indicator counts of a source.
func Count(source string) Counts {
	body := StripNoise(source)
	var c Counts

	c.Header = header(body)
	switch {
	case c.Header == "architecture-beta" || c.Header == "architecture":
		c.ArchitectureAnchor = 1
	case c.Header == "graph" || c.Header == "flowchart" || c.Header == "flowchart-elk":
		c.FlowchartAnchor = 1
	case isUnsupported(c.Header):
		c.UnsupportedHeader = 1
	}

	c.Services = len(serviceDeclRe.FindAllString(body, -1))
	c.Groups = len(groupDeclRe.FindAllString(body, -1))
	c.Junctions = len(junctionDeclRe.FindAllString(body, -1))
	c.CompassEdges = len(compassEdgeRe.FindAllString(body, -1))
	c.Arrows = len(arrowRe.FindAllString(body, -1))
	c.Shapes = len(shapeRe.FindAllString(body, -1))
	return c
}

// StripNoise removes front matter, init directives and %% comments.
func StripNoise(source string) string {
	source = strings.ReplaceAll(source, "\r\n", "\n")
	source = initDirRe.ReplaceAllString(source, "")

	lines := strings.Split(source, "\n")
	if len(lines) > 0 && strings.TrimSpace(lines[0]) == "---" {
		for i := 1; i < len(lines); i++ {
			if strings.TrimSpace(lines[i]) == "---" {
				lines = lines[i+1:]
				break
			}
		}
	}

	out := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "%%") {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

func header(body string) string {
	for _, l := range strings.Split(body, "\n") {
		fields := strings.Fields(l)
		if len(fields) > 0 {
			return strings.TrimSuffix(fields[0], ":")
		}
	}
	return ""
}

func isUnsupported(h string) bool {
	for _, u := range UnsupportedHeaders {
		if strings.EqualFold(h, u) {
			return true
		}
	}
	return false
}

func capped(v, limit float64) float64 {
	return math.Min(v, limit)
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
