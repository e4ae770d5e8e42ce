// Package mcp exposes the conversion pipeline as MCP tools over stdio.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/drawmaid/internal/expressions"
	"github.com/rendis/drawmaid/internal/service"
	"github.com/rendis/drawmaid/internal/streaming"
	"github.com/rendis/drawmaid/pkg/schema"
)

// Converter is the part of the service the tools call.
type Converter interface {
	Convert(ctx context.Context, req service.Request) (*service.Result, error)
	Detect(ctx context.Context, source string) schema.DetectionResult
	Validate(ctx context.Context, source, svg string, opts schema.ConvertOptions) *schema.ValidationResult
}

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Service Converter
	// Hub, when set, is the service's stage event sink; events are forwarded
	// to the client session that started the conversion.
	Hub     streaming.EventHub
	Version string
	Logger  *slog.Logger
}

// Server wraps an MCP server with the drawio.* tool handlers.
type Server struct {
	svc       Converter
	hub       streaming.EventHub
	jq        *expressions.GoJQEngine
	sessions  *SessionRegistry
	notifier  Notifier
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all 4 tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		svc:      deps.Service,
		hub:      deps.Hub,
		jq:       expressions.NewGoJQEngine(),
		sessions: NewSessionRegistry(),
		logger:   logger,
	}

	mcpSrv := server.NewMCPServer(
		"drawmaid",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("drawmaid converts Mermaid diagrams into editable draw.io documents. Use drawio.detect to classify a source, drawio.validate to check input, drawio.convert to produce draw.io XML or an editable PNG, and drawio.extract to read the diagram back out of a PNG."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.hub != nil {
		events, unsubscribe, err := s.hub.Subscribe(ctx, streaming.EventFilter{})
		if err != nil {
			return err
		}
		defer unsubscribe()
		go s.forward(ctx, events)
	}

	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// forward relays stage events to the session that owns the request.
func (s *Server) forward(ctx context.Context, events <-chan schema.StageEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload := map[string]any{
				"request_id": ev.RequestID,
				"type":       ev.Type,
				"stage":      string(ev.To),
			}
			if err := s.notifier.Notify(ctx, ev.RequestID, payload); err != nil {
				s.logger.Debug("stage notification failed", slog.String("request_id", ev.RequestID), slog.String("error", err.Error()))
			}
			if ev.To.IsTerminal() {
				s.sessions.Remove(ev.RequestID)
			}
		}
	}
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: convertTool(), Handler: s.handleConvert},
		{Tool: detectTool(), Handler: s.handleDetect},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: extractTool(), Handler: s.handleExtract},
	}
}

// --- Tool definitions ---

func convertTool() mcp.Tool {
	return mcp.NewTool("drawio.convert",
		mcp.WithDescription("Convert Mermaid source into a draw.io document or an editable PNG"),
		mcp.WithString("source", mcp.Required(), mcp.Description("Mermaid diagram source")),
		mcp.WithString("svg", mcp.Description("SVG rendered from the same source; supplies node positions and is required for png output")),
		mcp.WithNumber("width", mcp.Description("Canvas width in pixels (default 1200)")),
		mcp.WithNumber("height", mcp.Description("Canvas height in pixels (default 800)")),
		mcp.WithString("icon_service_url", mcp.Description("Base URL of the icon service used for architecture icons")),
		mcp.WithString("output_format",
			mcp.Enum("xml", "png"),
			mcp.Description("xml returns the draw.io document; png returns a base64 PNG with the document embedded"),
		),
		mcp.WithBoolean("transparent_background", mcp.Description("Render the PNG without a white background")),
		mcp.WithString("query", mcp.Description("jq expression applied to the result metadata")),
	)
}

func detectTool() mcp.Tool {
	return mcp.NewTool("drawio.detect",
		mcp.WithDescription("Classify Mermaid source into a diagram type with a confidence score"),
		mcp.WithString("source", mcp.Required(), mcp.Description("Mermaid diagram source")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("drawio.validate",
		mcp.WithDescription("Check Mermaid source, SVG and options without converting"),
		mcp.WithString("source", mcp.Required(), mcp.Description("Mermaid diagram source")),
		mcp.WithString("svg", mcp.Description("Rendered SVG to check")),
		mcp.WithNumber("width", mcp.Description("Canvas width in pixels")),
		mcp.WithNumber("height", mcp.Description("Canvas height in pixels")),
		mcp.WithString("icon_service_url", mcp.Description("Icon service base URL")),
		mcp.WithString("output_format", mcp.Enum("xml", "png"), mcp.Description("Requested output format")),
	)
}

func extractTool() mcp.Tool {
	return mcp.NewTool("drawio.extract",
		mcp.WithDescription("Read the draw.io document embedded in a PNG"),
		mcp.WithString("png_base64", mcp.Required(), mcp.Description("Base64-encoded PNG")),
		mcp.WithString("key", mcp.Description("Text chunk keyword (default mxGraphModel)")),
	)
}
