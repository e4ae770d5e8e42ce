package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/drawmaid/internal/pngmeta"
	"github.com/rendis/drawmaid/internal/service"
	"github.com/rendis/drawmaid/pkg/schema"
)

// convertResponse is the drawio.convert payload.
type convertResponse struct {
	RequestID string         `json:"request_id"`
	XML       string         `json:"xml,omitempty"`
	PNGBase64 string         `json:"png_base64,omitempty"`
	Metadata  map[string]any `json:"metadata"`
}

// handleConvert runs the conversion pipeline.
func (s *Server) handleConvert(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError("source is required"), nil
	}

	creq := service.Request{
		ID:      uuid.NewString(),
		Source:  source,
		SVG:     req.GetString("svg", ""),
		Options: optionsFrom(req),
	}
	creq.Options.TransparentBackground = req.GetBool("transparent_background", false)

	// Register before converting so stage events reach this client.
	s.captureSession(ctx, creq.ID)
	defer s.sessions.Remove(creq.ID)

	res, convErr := s.svc.Convert(ctx, creq)
	if convErr != nil {
		return errorResult(convErr), nil
	}

	if query := req.GetString("query", ""); query != "" {
		out, qErr := s.jq.Evaluate(ctx, query, res.Metadata)
		if qErr != nil {
			return errorResult(schema.NewError(schema.ErrCodeExpression, "query failed").WithCause(qErr)), nil
		}
		return marshalResult(out)
	}

	resp := convertResponse{RequestID: res.RequestID, Metadata: res.Metadata}
	if len(res.PNG) > 0 {
		resp.PNGBase64 = base64.StdEncoding.EncodeToString(res.PNG)
	} else {
		resp.XML = res.XML
	}
	return marshalResult(resp)
}

// handleDetect classifies a source.
func (s *Server) handleDetect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError("source is required"), nil
	}
	return marshalResult(s.svc.Detect(ctx, source))
}

// handleValidate checks input without converting.
func (s *Server) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError("source is required"), nil
	}
	vr := s.svc.Validate(ctx, source, req.GetString("svg", ""), optionsFrom(req))
	return marshalResult(map[string]any{
		"valid":    vr.Valid(),
		"errors":   vr.Errors,
		"warnings": vr.Warnings,
		"metrics":  vr.Metadata,
	})
}

// handleExtract reads the embedded diagram out of a PNG.
func (s *Server) handleExtract(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	encoded, err := req.RequireString("png_base64")
	if err != nil {
		return mcp.NewToolResultError("png_base64 is required"), nil
	}
	img, decErr := base64.StdEncoding.DecodeString(encoded)
	if decErr != nil {
		return errorResult(schema.NewError(schema.ErrCodeValidation, "png_base64 is not valid base64").WithCause(decErr)), nil
	}
	key := req.GetString("key", pngmeta.KeyGraphModel)
	xml, extErr := pngmeta.Extract(img, key)
	if extErr != nil {
		return errorResult(extErr), nil
	}
	return marshalResult(map[string]any{"key": key, "xml": xml})
}

func optionsFrom(req mcp.CallToolRequest) schema.ConvertOptions {
	return schema.ConvertOptions{
		Width:          req.GetInt("width", 0),
		Height:         req.GetInt("height", 0),
		IconServiceURL: req.GetString("icon_service_url", ""),
		OutputFormat:   schema.OutputFormat(req.GetString("output_format", "")),
	}
}

// captureSession maps the request to the calling client, if any.
func (s *Server) captureSession(ctx context.Context, requestID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(requestID, session.SessionID())
	}
}

// errorResult renders a conversion error as a JSON tool error.
func errorResult(err error) *mcp.CallToolResult {
	var ce *schema.ConvertError
	if !errors.As(err, &ce) {
		ce = schema.NewError(schema.ErrCodeInternal, err.Error())
	}
	data, mErr := json.Marshal(ce)
	if mErr != nil {
		return mcp.NewToolResultError(ce.Error())
	}
	return mcp.NewToolResultError(string(data))
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
