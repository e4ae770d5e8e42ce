package validation

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/rendis/drawmaid/internal/detect"
	"github.com/rendis/drawmaid/internal/expressions"
	"github.com/rendis/drawmaid/internal/logging"
	"github.com/rendis/drawmaid/pkg/schema"
	"github.com/samber/lo"
)

// Default limits.
const (
	DefaultMaxSourceLength = 2 << 20
	DefaultMaxSVGLength    = 10 << 20
	DefaultMaxNodes        = 500
	DefaultMaxEdges        = 1000
	DefaultMaxLines        = 5000
)

// LimitRule is an expr-lang expression over complexity metrics and limits.
// When it evaluates to true the request is rejected.
type LimitRule struct {
	Expr   string
	Metric string
	Limit  string
}

// Config holds validator limits.
type Config struct {
	MaxSourceLength int
	MaxSVGLength    int
	MaxNodes        int
	MaxEdges        int
	MaxLines        int
	LimitRules      []LimitRule
}

// DefaultConfig returns the default limits and rules.
func DefaultConfig() Config {
	return Config{
		MaxSourceLength: DefaultMaxSourceLength,
		MaxSVGLength:    DefaultMaxSVGLength,
		MaxNodes:        DefaultMaxNodes,
		MaxEdges:        DefaultMaxEdges,
		MaxLines:        DefaultMaxLines,
		LimitRules: []LimitRule{
			{Expr: "estimated_nodes > max_nodes", Metric: "estimated_nodes", Limit: "max_nodes"},
			{Expr: "estimated_edges > max_edges", Metric: "estimated_edges", Limit: "max_edges"},
			{Expr: "source_lines > max_lines", Metric: "source_lines", Limit: "max_lines"},
		},
	}
}

type pattern struct {
	name string
	re   *regexp.Regexp
}

var suspiciousPatterns = []pattern{
	{"script tag", regexp.MustCompile(`(?i)<\s*script`)},
	{"javascript: URL", regexp.MustCompile(`(?i)javascript\s*:`)},
	{"vbscript: URL", regexp.MustCompile(`(?i)vbscript\s*:`)},
	{"inline event handler", regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)},
	{"hex escape sequence", regexp.MustCompile(`\\x[0-9a-fA-F]{2}`)},
	{"unicode escape sequence", regexp.MustCompile(`\\u[0-9a-fA-F]{4}`)},
	{"encoded script tag", regexp.MustCompile(`(?i)%3c\s*script`)},
	{"html data URL", regexp.MustCompile(`(?i)data:text/html`)},
}

var advisoryPatterns = []struct {
	re      *regexp.Regexp
	message string
}{
	{regexp.MustCompile(`(?m)^\s*subgraph\b`), "subgraph blocks are converted to plain groups"},
	{regexp.MustCompile(`(?m)^\s*click\b`), "click bindings are not converted"},
	{regexp.MustCompile(`(?m)^\s*(?:classDef|class|style|linkStyle)\b`), "styling directives are ignored"},
	{regexp.MustCompile(`%%\{\s*init`), "init directives are ignored"},
}

var (
	nodePatternRe = regexp.MustCompile(`[\w$-]+\s*(?:\(\(|\(\[|\[\[|\[\(|\{\{|\[|\(|\{)`)
	edgePatternRe = regexp.MustCompile(`<?(?:-{2,}|={2,}|-\.+-|~~~)[>ox]?`)
)

// InputValidator rejects oversized, malformed, or suspicious input before any
// parsing or rendering work begins.
type InputValidator struct {
	cfg    Config
	params *ParamsValidator
	expr   *expressions.ExprEngine
	logger *slog.Logger
}

// NewInputValidator creates an InputValidator. A nil expr engine gets a fresh one.
func NewInputValidator(cfg Config, exprEngine *expressions.ExprEngine, logger *slog.Logger) (*InputValidator, error) {
	params, err := NewParamsValidator()
	if err != nil {
		return nil, err
	}
	if exprEngine == nil {
		exprEngine = expressions.NewExprEngine()
	}
	return &InputValidator{
		cfg:    withDefaults(cfg),
		params: params,
		expr:   exprEngine,
		logger: logging.OrDiscard(logger),
	}, nil
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MaxSourceLength <= 0 {
		cfg.MaxSourceLength = def.MaxSourceLength
	}
	if cfg.MaxSVGLength <= 0 {
		cfg.MaxSVGLength = def.MaxSVGLength
	}
	if cfg.MaxNodes <= 0 {
		cfg.MaxNodes = def.MaxNodes
	}
	if cfg.MaxEdges <= 0 {
		cfg.MaxEdges = def.MaxEdges
	}
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = def.MaxLines
	}
	if cfg.LimitRules == nil {
		cfg.LimitRules = def.LimitRules
	}
	return cfg
}

// Params exposes the parameter validator.
func (v *InputValidator) Params() *ParamsValidator {
	return v.params
}

// Validate runs every check and collects all errors and warnings.
func (v *InputValidator) Validate(source, svg string, opts *schema.ConvertOptions) *schema.ValidationResult {
	return v.ValidateContext(context.Background(), source, svg, opts)
}

// ValidateContext is Validate with a context for expression evaluation and logging.
func (v *InputValidator) ValidateContext(ctx context.Context, source, svg string, opts *schema.ConvertOptions) *schema.ValidationResult {
	r := schema.NewValidationResult()

	empty := strings.TrimSpace(source) == ""
	if empty {
		r.AddError("source is empty")
	}

	if len(source) > v.cfg.MaxSourceLength {
		r.AddErrorf("source length %d exceeds maximum of %d bytes", len(source), v.cfg.MaxSourceLength)
	}
	if len(svg) > v.cfg.MaxSVGLength {
		r.AddErrorf("svg length %d exceeds maximum of %d bytes", len(svg), v.cfg.MaxSVGLength)
	}

	for _, name := range Suspicious(source) {
		r.AddErrorf("suspicious content in source: %s", name)
	}
	for _, name := range Suspicious(svg) {
		r.AddErrorf("suspicious content in svg: %s", name)
	}

	if svg != "" && len(svg) <= v.cfg.MaxSVGLength {
		if err := WellFormed(svg); err != nil {
			r.AddErrorf("svg is not well-formed XML: %s", err.Error())
		}
	}

	for _, msg := range v.params.ValidateOptions(opts) {
		r.AddError(msg)
	}
	if opts != nil && opts.OutputFormat == schema.FormatPNG && strings.TrimSpace(svg) == "" {
		r.AddError("png output requires a rendered svg")
	}

	if !empty && len(source) <= v.cfg.MaxSourceLength {
		v.checkComplexity(ctx, source, r)
		for _, w := range Advisories(source) {
			r.AddWarning(w)
		}
	}

	if !r.Valid() {
		v.logger.DebugContext(ctx, "input rejected", slog.Int("errors", len(r.Errors)))
	}
	return r
}

func (v *InputValidator) checkComplexity(ctx context.Context, source string, r *schema.ValidationResult) {
	metrics := EstimateComplexity(source)
	for k, val := range metrics {
		r.SetMetric(k, val)
	}

	env := map[string]any{
		"max_nodes": float64(v.cfg.MaxNodes),
		"max_edges": float64(v.cfg.MaxEdges),
		"max_lines": float64(v.cfg.MaxLines),
	}
	for k, val := range metrics {
		env[k] = val
	}

	for _, rule := range v.cfg.LimitRules {
		exceeded, err := expressions.EvaluateBool(ctx, v.expr, rule.Expr, env)
		if err != nil {
			v.logger.WarnContext(ctx, "complexity rule failed", slog.String("rule", rule.Expr), slog.String("error", err.Error()))
			continue
		}
		if exceeded {
			r.AddErrorf("diagram too complex: %s %v exceeds limit %v", rule.Metric, env[rule.Metric], env[rule.Limit])
		}
	}
}

// EstimateComplexity approximates node and edge counts from bracket and arrow patterns.
func EstimateComplexity(source string) map[string]float64 {
	lines := lo.Filter(strings.Split(source, "\n"), func(l string, _ int) bool {
		return strings.TrimSpace(l) != ""
	})
	return map[string]float64{
		"estimated_nodes": float64(len(nodePatternRe.FindAllString(source, -1))),
		"estimated_edges": float64(len(edgePatternRe.FindAllString(source, -1))),
		"source_lines":    float64(len(lines)),
		"source_length":   float64(len(source)),
	}
}

// Suspicious returns the names of suspicious patterns found in s.
func Suspicious(s string) []string {
	if s == "" {
		return nil
	}
	return lo.FilterMap(suspiciousPatterns, func(p pattern, _ int) (string, bool) {
		return p.name, p.re.MatchString(s)
	})
}

// Advisories returns warnings for features that convert with reduced fidelity.
func Advisories(source string) []string {
	var out []string
	for _, p := range advisoryPatterns {
		if p.re.MatchString(source) {
			out = append(out, p.message)
		}
	}
	c := detect.Count(source)
	if c.UnsupportedHeader > 0 {
		out = append(out, fmt.Sprintf("diagram type %q is not supported for conversion", c.Header))
	}
	return out
}

// WellFormed drains a strict XML decoder over s.
func WellFormed(s string) error {
	d := xml.NewDecoder(strings.NewReader(s))
	d.Strict = true
	d.Entity = xml.HTMLEntity

	roots := 0
	depth := 0
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		switch tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				roots++
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	if roots == 0 {
		return errors.New("no root element")
	}
	if roots > 1 {
		return errors.New("multiple root elements")
	}
	return nil
}
