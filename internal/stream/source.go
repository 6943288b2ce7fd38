package stream

import (
	"context"

	"github.com/joescharf/parley/internal/models"
)

// Request describes one generation to open against a backend.
type Request struct {
	SessionID string
	Model     models.Model
	// Messages is the conversation history, newest last. The final entry is
	// the user message that triggered this generation.
	Messages []models.Message
}

// Source opens streaming generations. The returned channel is closed when the
// generation ends (after a StreamComplete or StreamError event) or when ctx is
// cancelled. Implementations must not send after close.
type Source interface {
	Open(ctx context.Context, req Request) (<-chan Event, error)
}
