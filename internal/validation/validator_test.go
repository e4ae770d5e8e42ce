package validation

import (
	"strings"
	"testing"

	"github.com/rendis/drawmaid/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidator(t *testing.T, cfg Config) *InputValidator {
	t.Helper()
	v, err := NewInputValidator(cfg, nil, nil)
	require.NoError(t, err)
	return v
}

func TestValidate_EmptySourceAlwaysInvalid(t *testing.T) {
	v := newValidator(t, DefaultConfig())

	for _, opts := range []*schema.ConvertOptions{nil, {}, {Width: 800, Height: 600}} {
		r := v.Validate("", "", opts)
		assert.False(t, r.IsValid)
		require.NotEmpty(t, r.Errors)
		assert.Equal(t, "source is empty", r.Errors[0])
	}

	r := v.Validate("  \n\t", "", nil)
	assert.False(t, r.IsValid)
}

func TestValidate_ValidFlowchart(t *testing.T) {
	v := newValidator(t, DefaultConfig())
	r := v.Validate("graph TD\nA[Start]-->B[End]", "", &schema.ConvertOptions{Width: 800, Height: 600, IconServiceURL: "http://icons.local:8080"})

	assert.True(t, r.IsValid, r.Errors)
	assert.Equal(t, 2.0, r.Metadata["estimated_nodes"])
	assert.Equal(t, 1.0, r.Metadata["estimated_edges"])
	assert.Equal(t, 2.0, r.Metadata["source_lines"])
}

func TestValidate_SourceTooLong(t *testing.T) {
	v := newValidator(t, Config{MaxSourceLength: 16})
	r := v.Validate("graph TD\nA-->B\nB-->C", "", nil)

	assert.False(t, r.IsValid)
	assert.Contains(t, r.Errors[0], "exceeds maximum")
}

func TestValidate_SuspiciousSVG(t *testing.T) {
	v := newValidator(t, DefaultConfig())
	svg := `<svg><g class="node"><script>alert(1)</script></g></svg>`

	r := v.Validate("graph TD\nA-->B", svg, nil)
	assert.False(t, r.IsValid)
	assert.Contains(t, strings.Join(r.Errors, "\n"), "suspicious content in svg: script tag")
}

func TestValidate_SuspiciousSource(t *testing.T) {
	v := newValidator(t, DefaultConfig())

	cases := map[string]string{
		"graph TD\nA[javascript:alert(1)]-->B":          "javascript: URL",
		`graph TD\nA["\x3cscript"]-->B`:                 "hex escape sequence",
		"graph TD\nA[%3Cscript]-->B":                    "encoded script tag",
		`graph TD\nA["<img onerror='x'>"]-->B`:          "inline event handler",
		"graph TD\nA[<img src=x onerror=alert(1)>]-->B": "inline event handler",
	}
	for src, want := range cases {
		r := v.Validate(src, "", nil)
		assert.False(t, r.IsValid, src)
		assert.Contains(t, strings.Join(r.Errors, "\n"), want, src)
	}
}

func TestValidate_MalformedSVG(t *testing.T) {
	v := newValidator(t, DefaultConfig())

	r := v.Validate("graph TD\nA-->B", "<svg><g></svg>", nil)
	assert.False(t, r.IsValid)
	assert.Contains(t, r.Errors[0], "not well-formed")
}

func TestValidate_Params(t *testing.T) {
	v := newValidator(t, DefaultConfig())

	tests := []struct {
		name string
		opts schema.ConvertOptions
		want string
	}{
		{"width too large", schema.ConvertOptions{Width: 20000}, "width"},
		{"negative height", schema.ConvertOptions{Height: -5}, "height"},
		{"bad format", schema.ConvertOptions{OutputFormat: "gif"}, "output_format"},
		{"ftp icon service", schema.ConvertOptions{IconServiceURL: "ftp://icons.local"}, "icon_service_url"},
		{"relative icon service", schema.ConvertOptions{IconServiceURL: "icons/local"}, "icon_service_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := v.Validate("graph TD\nA-->B", "", &tt.opts)
			assert.False(t, r.IsValid)
			assert.Contains(t, strings.Join(r.Errors, "\n"), tt.want)
		})
	}
}

func TestValidate_PNGRequiresSVG(t *testing.T) {
	v := newValidator(t, DefaultConfig())

	r := v.Validate("graph TD\nA-->B", "", &schema.ConvertOptions{OutputFormat: schema.FormatPNG})
	assert.False(t, r.IsValid)
	assert.Contains(t, r.Errors, "png output requires a rendered svg")

	r = v.Validate("graph TD\nA-->B", "<svg/>", &schema.ConvertOptions{OutputFormat: schema.FormatPNG})
	assert.True(t, r.IsValid, r.Errors)
}

func TestValidate_ComplexityLimits(t *testing.T) {
	v := newValidator(t, Config{MaxNodes: 2, MaxEdges: 100})

	r := v.Validate("graph TD\nA[a]-->B[b]\nB-->C[c]", "", nil)
	assert.False(t, r.IsValid)
	assert.Contains(t, r.Errors[0], "estimated_nodes 3 exceeds limit 2")
}

func TestValidate_BrokenLimitRuleIgnored(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LimitRules = []LimitRule{{Expr: "estimated_nodes >", Metric: "estimated_nodes", Limit: "max_nodes"}}
	v := newValidator(t, cfg)

	r := v.Validate("graph TD\nA-->B", "", nil)
	assert.True(t, r.IsValid)
}

func TestValidate_Warnings(t *testing.T) {
	v := newValidator(t, DefaultConfig())
	src := "graph TD\nsubgraph one\nA-->B\nend\nclick A callback\nclassDef red fill:#f00"

	r := v.Validate(src, "", nil)
	assert.True(t, r.IsValid, r.Errors)
	assert.Contains(t, r.Warnings, "subgraph blocks are converted to plain groups")
	assert.Contains(t, r.Warnings, "click bindings are not converted")
	assert.Contains(t, r.Warnings, "styling directives are ignored")
}

func TestValidate_UnsupportedKeywordWarning(t *testing.T) {
	v := newValidator(t, DefaultConfig())

	r := v.Validate("sequenceDiagram\nAlice->>Bob: hi", "", nil)
	assert.True(t, r.IsValid)
	assert.Contains(t, strings.Join(r.Warnings, "\n"), "sequenceDiagram")
}

func TestValidate_ToErrorCarriesLists(t *testing.T) {
	v := newValidator(t, DefaultConfig())
	r := v.Validate("", "<svg><script/></svg>", nil)

	err := r.ToError()
	require.Error(t, err)
	var ce *schema.ConvertError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, schema.ErrCodeValidation, ce.Code)
	assert.Len(t, ce.Errors, len(r.Errors))
}

func TestWellFormed(t *testing.T) {
	assert.NoError(t, WellFormed(`<?xml version="1.0"?><svg><g/></svg>`))
	assert.Error(t, WellFormed(""))
	assert.Error(t, WellFormed("<a/><b/>"))
	assert.Error(t, WellFormed("<svg>"))
}

func TestParamsValidator_ValidateMap(t *testing.T) {
	p, err := NewParamsValidator()
	require.NoError(t, err)

	assert.Empty(t, p.ValidateMap(map[string]any{"width": 100, "output_format": "png"}))
	assert.NotEmpty(t, p.ValidateMap(map[string]any{"width": "wide"}))
	assert.NotEmpty(t, p.ValidateMap(map[string]any{"unknown": true}))
}
