package models

import "time"

// MessageType discriminates the closed set of message variants a session
// transcript can contain. Dispatch on it is always an exhaustive switch so
// adding a variant is a compile-visible change.
type MessageType string

const (
	MessageUser              MessageType = "user"
	MessageAssistant         MessageType = "assistant"
	MessageThinking          MessageType = "thinking"
	MessageTool              MessageType = "tool"
	MessageToolResult        MessageType = "tool-result"
	MessageSystem            MessageType = "system"
	MessageError             MessageType = "error"
	MessagePermissionRequest MessageType = "permission-request"
)

// TokenCounts records per-message token attribution when the backend reports it.
type TokenCounts struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
}

// Metadata carries the type-dependent payload of a message. Fields are only
// meaningful for the types that set them (ToolName for tool and tool-result,
// PermissionRequest for permission-request messages, and so on).
type Metadata struct {
	ToolName          string             `json:"tool_name,omitempty"`
	IsError           bool               `json:"is_error,omitempty"`
	PendingPermission bool               `json:"pending_permission,omitempty"`
	PermissionDenied  bool               `json:"permission_denied,omitempty"`
	PermissionRequest *PermissionRequest `json:"permission_request,omitempty"`
	Tokens            *TokenCounts       `json:"tokens,omitempty"`
}

// Message is one entry in a session transcript. ID is unique within the
// session, not globally. Once appended, ID and Type never change; only the
// permission flags in Metadata may transition, exactly once, from pending to
// granted or denied.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	Metadata  Metadata    `json:"metadata,omitempty"`
}
