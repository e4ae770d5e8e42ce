package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
)

// Notifier pushes progress notifications for a conversion request.
type Notifier interface {
	Notify(ctx context.Context, requestID string, payload map[string]any) error
}

// MCPNotifier implements Notifier with MCP notifications to the requesting session.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes to the session owning a request.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the request's session.
// Best-effort: returns nil if no session owns the request.
func (n *MCPNotifier) Notify(_ context.Context, requestID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(requestID)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session went away between lookup and send.
		n.sessions.RemoveSession(sessionID)
		return nil
	}
	return err
}
