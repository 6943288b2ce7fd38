package models

import "time"

// Checkpoint is an immutable git-backed snapshot of a session's working
// directory, taken before a message is sent. Identity is the git commit hash.
type Checkpoint struct {
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
	Author    string    `json:"author"`
	Message   string    `json:"message"`
}

// CheckpointStatus reports whether checkpointing is available for a session.
type CheckpointStatus struct {
	IsGitRepo bool `json:"is_git_repo"`
}
