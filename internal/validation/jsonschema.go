package validation

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/rendis/drawmaid/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const optionsSchemaURL = "https://drawmaid.dev/schemas/convert-options.json"

// optionsSchemaJSON is the JSON Schema for ConvertOptions.
// Embedded as a constant to avoid filesystem dependencies.
const optionsSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://drawmaid.dev/schemas/convert-options.json",
  "type": "object",
  "properties": {
    "width": {
      "type": "integer",
      "minimum": 1,
      "maximum": 10000
    },
    "height": {
      "type": "integer",
      "minimum": 1,
      "maximum": 10000
    },
    "icon_service_url": {
      "type": "string",
      "format": "uri",
      "pattern": "^[hH][tT][tT][pP][sS]?://"
    },
    "output_format": {
      "type": "string",
      "enum": ["xml", "png"]
    },
    "transparent_background": {
      "type": "boolean"
    }
  },
  "additionalProperties": false
}`

// ParamsValidator checks conversion parameters against the options JSON Schema.
// It is safe for concurrent use.
type ParamsValidator struct {
	optionsSchema *jsonschema.Schema
}

// NewParamsValidator compiles the options schema.
func NewParamsValidator() (*ParamsValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(optionsSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal options schema: %w", err)
	}
	if err := c.AddResource(optionsSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add options schema resource: %w", err)
	}

	sch, err := c.Compile(optionsSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile options schema: %w", err)
	}
	return &ParamsValidator{optionsSchema: sch}, nil
}

// ValidateOptions returns one message per violation; nil means valid.
// Zero values are treated as unset.
func (v *ParamsValidator) ValidateOptions(opts *schema.ConvertOptions) []string {
	if opts == nil {
		return nil
	}

	doc, err := toJSONValue(opts)
	if err != nil {
		return []string{"failed to serialize parameters: " + err.Error()}
	}
	return v.ValidateDocument(doc, opts.IconServiceURL)
}

// ValidateMap validates raw parameters, as received from a tool call.
func (v *ParamsValidator) ValidateMap(params map[string]any) []string {
	doc, err := toJSONValue(params)
	if err != nil {
		return []string{"failed to serialize parameters: " + err.Error()}
	}
	iconURL, _ := params["icon_service_url"].(string)
	return v.ValidateDocument(doc, iconURL)
}

// ValidateDocument validates a decoded JSON document plus the icon service
// URL checks JSON Schema cannot express.
func (v *ParamsValidator) ValidateDocument(doc any, iconURL string) []string {
	var violations []string
	if err := v.optionsSchema.Validate(doc); err != nil {
		violations = append(violations, toViolations(err)...)
	}
	if iconURL != "" {
		if msg := checkServiceURL(iconURL); msg != "" {
			violations = append(violations, msg)
		}
	}
	return violations
}

func checkServiceURL(raw string) string {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return fmt.Sprintf("icon_service_url is not a valid URL: %s", err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Sprintf("icon_service_url scheme %q is not http or https", u.Scheme)
	}
	if u.Host == "" {
		return "icon_service_url has no host"
	}
	return ""
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toViolations converts a jsonschema.ValidationError into flat messages.
func toViolations(err error) []string {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	violations := collectViolations(verr)
	if len(violations) == 0 {
		return []string{verr.Error()}
	}
	return violations
}

// collectViolations walks a ValidationError tree and collects leaf error messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("invalid parameter %s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
