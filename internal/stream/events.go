// Package stream defines the typed events an assistant backend emits for a
// session, and the Source contract for opening a generation against one.
package stream

import "github.com/joescharf/parley/internal/models"

// Event is one inbound backend event for a session. The set of event types is
// closed; consumers dispatch with an exhaustive type switch.
type Event interface {
	// SessionID identifies the session this event belongs to.
	SessionID() string

	isEvent()
}

type base struct {
	Session string
}

func (b base) SessionID() string { return b.Session }
func (base) isEvent()            {}

// UserEcho confirms the backend received the user's message. The controller
// appends the user message locally before sending, so this is informational.
type UserEcho struct {
	base
}

// AssistantDelta carries a chunk of streamed assistant text.
type AssistantDelta struct {
	base
	Text string
}

// ThinkingDelta carries a chunk of streamed extended-thinking text.
type ThinkingDelta struct {
	base
	Text string
}

// ToolInvoked reports that the assistant invoked a tool.
type ToolInvoked struct {
	base
	ToolName string
	Content  string
}

// ToolResult carries the output of a completed tool execution.
type ToolResult struct {
	base
	ToolName string
	Content  string
	IsError  bool
}

// PermissionRequested pauses the generation until the user authorizes or
// denies the tool invocation.
type PermissionRequested struct {
	base
	RequestID string
	Tool      string
	Path      string
}

// StreamComplete ends a generation normally, carrying its usage accounting.
// CostUSD is zero when the backend does not report cost; the controller then
// derives it from the model pricing table.
type StreamComplete struct {
	base
	Usage   models.TokenUsage
	CostUSD float64
}

// StreamError ends a generation with a backend-reported failure.
type StreamError struct {
	base
	Message string
}

// NewUserEcho and friends construct events bound to a session id.
func NewUserEcho(sessionID string) UserEcho { return UserEcho{base{sessionID}} }

func NewAssistantDelta(sessionID, text string) AssistantDelta {
	return AssistantDelta{base{sessionID}, text}
}

func NewThinkingDelta(sessionID, text string) ThinkingDelta {
	return ThinkingDelta{base{sessionID}, text}
}

func NewToolInvoked(sessionID, tool, content string) ToolInvoked {
	return ToolInvoked{base{sessionID}, tool, content}
}

func NewToolResult(sessionID, tool, content string, isError bool) ToolResult {
	return ToolResult{base{sessionID}, tool, content, isError}
}

func NewPermissionRequested(sessionID, requestID, tool, path string) PermissionRequested {
	return PermissionRequested{base{sessionID}, requestID, tool, path}
}

func NewStreamComplete(sessionID string, usage models.TokenUsage, costUSD float64) StreamComplete {
	return StreamComplete{base{sessionID}, usage, costUSD}
}

func NewStreamError(sessionID, message string) StreamError {
	return StreamError{base{sessionID}, message}
}
