package models

// PermissionRequest is a pause point in a generation: a tool invocation that
// needs explicit user authorization before it may execute. It is resolved
// exactly once (allow-once, allow-always, or deny).
type PermissionRequest struct {
	ID   string `json:"id"`
	Tool string `json:"tool"`
	Path string `json:"path,omitempty"`
}
