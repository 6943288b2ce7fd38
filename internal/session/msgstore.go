package session

import (
	"sync"

	"github.com/joescharf/parley/internal/models"
)

// MessageStore is the ordered, append-only transcript of one session. It is
// replaced wholesale only by the explicit archive-load and new-chat reset
// operations on the owning controller.
type MessageStore struct {
	mu   sync.RWMutex
	msgs []models.Message
}

// NewMessageStore returns an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{}
}

// Append adds a message at the end of the transcript.
func (s *MessageStore) Append(m models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
}

// AppendText appends text to the content of the message with the given id.
// Used to coalesce streamed deltas into one message.
func (s *MessageStore) AppendText(id, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if s.msgs[i].ID == id {
			s.msgs[i].Content += text
			return true
		}
	}
	return false
}

// UpdateMetadata applies fn to the metadata of the message with the given id.
func (s *MessageStore) UpdateMetadata(id string, fn func(*models.Metadata)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if s.msgs[i].ID == id {
			fn(&s.msgs[i].Metadata)
			return true
		}
	}
	return false
}

// Messages returns a copy of the transcript in arrival order.
func (s *MessageStore) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Last returns the most recent message, if any.
func (s *MessageStore) Last() (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.msgs) == 0 {
		return models.Message{}, false
	}
	return s.msgs[len(s.msgs)-1], true
}

// Len returns the number of messages.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// Reset clears the transcript.
func (s *MessageStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = nil
}

// Replace swaps the transcript wholesale, used when loading an archive.
func (s *MessageStore) Replace(msgs []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = make([]models.Message, len(msgs))
	copy(s.msgs, msgs)
}
