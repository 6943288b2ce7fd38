// Package mcpbridge exposes tool-permission arbitration to an assistant
// backend over MCP. The backend is configured to call the approval_prompt
// tool whenever a tool invocation needs authorization; the call is translated
// into a PermissionRequested session event, and the handler blocks until the
// user's decision comes back through Respond (the bridge is the session
// core's PermissionResponder).
package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/oklog/ulid/v2"

	"github.com/joescharf/parley/internal/models"
	"github.com/joescharf/parley/internal/stream"
)

// DecisionTimeout bounds how long a tool execution stays suspended waiting
// for the user. On expiry the request is denied.
const DecisionTimeout = 5 * time.Minute

// EventSink receives the permission events the bridge raises. Satisfied by
// the session registry.
type EventSink interface {
	Route(ev stream.Event)
}

// Server bridges MCP approval calls and the session core.
type Server struct {
	sink   EventSink
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]chan bool
}

// NewServer creates the bridge.
func NewServer(sink EventSink, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		sink:    sink,
		logger:  logger,
		pending: make(map[string]chan bool),
	}
}

// MCPServer returns a configured mcp-go server with the approval tool
// registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("parley", "1.0.0", server.WithToolCapabilities(true))
	srv.AddTool(s.approvalPromptTool())
	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// Respond delivers the user's decision for a suspended request. Implements
// the session core's PermissionResponder. Unknown or expired request ids fail
// with ErrNotFound.
func (s *Server) Respond(ctx context.Context, requestID string, allowed bool) error {
	s.mu.Lock()
	ch, ok := s.pending[requestID]
	if ok {
		delete(s.pending, requestID)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("permission request %s: %w", requestID, models.ErrNotFound)
	}
	ch <- allowed
	return nil
}

// approval_prompt
func (s *Server) approvalPromptTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("approval_prompt",
		mcp.WithDescription("Request user authorization for a tool invocation. Blocks until the user allows or denies, then returns a permission behavior object."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session the tool invocation belongs to")),
		mcp.WithString("tool_name", mcp.Required(), mcp.Description("Name of the tool awaiting authorization")),
		mcp.WithString("input", mcp.Description("JSON-encoded tool input")),
		mcp.WithString("tool_use_id", mcp.Description("Backend identifier for this tool invocation")),
	)
	return tool, s.handleApprovalPrompt
}

func (s *Server) handleApprovalPrompt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	toolName, err := request.RequireString("tool_name")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: tool_name"), nil
	}
	input := request.GetString("input", "")

	requestID := request.GetString("tool_use_id", "")
	if requestID == "" {
		requestID = newULID()
	}

	ch := make(chan bool, 1)
	s.mu.Lock()
	s.pending[requestID] = ch
	s.mu.Unlock()

	s.sink.Route(stream.NewPermissionRequested(sessionID, requestID, toolName, pathFromInput(input)))
	s.logger.Info("permission requested",
		slog.String("session_id", sessionID),
		slog.String("request_id", requestID),
		slog.String("tool", toolName),
	)

	allowed := false
	timer := time.NewTimer(DecisionTimeout)
	defer timer.Stop()
	select {
	case allowed = <-ch:
	case <-timer.C:
		s.logger.Warn("permission request timed out", slog.String("request_id", requestID))
	case <-ctx.Done():
	}

	s.mu.Lock()
	delete(s.pending, requestID)
	s.mu.Unlock()

	return approvalResult(allowed, input)
}

// approvalResult encodes the permission-prompt contract the assistant CLI
// expects: {"behavior":"allow","updatedInput":...} or
// {"behavior":"deny","message":...}.
func approvalResult(allowed bool, input string) (*mcp.CallToolResult, error) {
	var out map[string]any
	if allowed {
		updated := json.RawMessage("{}")
		if input != "" && json.Valid([]byte(input)) {
			updated = json.RawMessage(input)
		}
		out = map[string]any{"behavior": "allow", "updatedInput": updated}
	} else {
		out = map[string]any{"behavior": "deny", "message": "Permission denied by user"}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode decision: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// pathFromInput pulls a path-ish field out of the tool input for display in
// the permission prompt.
func pathFromInput(input string) string {
	if input == "" {
		return ""
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(input), &fields); err != nil {
		return ""
	}
	for _, key := range []string{"file_path", "path", "command", "url"} {
		if v, ok := fields[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}
