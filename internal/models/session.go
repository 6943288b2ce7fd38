package models

// TokenUsage accumulates token counters for a session. All counters are
// monotonically non-decreasing within a conversation.
type TokenUsage struct {
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_tokens"`
	CacheReadTokens     int64 `json:"cache_read_tokens"`
}

// Add accumulates another usage sample into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationTokens += other.CacheCreationTokens
	u.CacheReadTokens += other.CacheReadTokens
}

// Total returns the sum of all counters.
func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheCreationTokens + u.CacheReadTokens
}

// Session is a point-in-time snapshot of one conversation's state. The live
// state is owned by its session controller; snapshots are what listings and
// the host UI consume.
type Session struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	WorkingDir        string     `json:"working_dir"`
	Model             Model      `json:"model"`
	IsProcessing      bool       `json:"is_processing"`
	TotalCost         float64    `json:"total_cost"`
	TokenUsage        TokenUsage `json:"token_usage"`
	DraftInput        string     `json:"draft_input"`
	CurrentArchiveKey string     `json:"current_archive_key,omitempty"`
	MessageCount      int        `json:"message_count"`
}
