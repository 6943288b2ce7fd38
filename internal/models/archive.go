package models

import "time"

// ArchivedConversation describes one persisted transcript snapshot, created
// when the user starts a new chat. The Filename doubles as the archive key;
// it embeds the snapshot timestamp so keys sort chronologically.
type ArchivedConversation struct {
	Filename     string    `json:"filename"`
	Timestamp    time.Time `json:"timestamp"`
	MessageCount int       `json:"message_count"`
	FirstMessage string    `json:"first_message"`
	IsCurrent    bool      `json:"is_current"`
}
