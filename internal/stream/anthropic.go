package stream

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/parley/internal/models"
)

// modelIDs maps the session model selection to concrete Anthropic model ids.
var modelIDs = map[models.Model]anthropic.Model{
	models.ModelOpus:     anthropic.Model("claude-opus-4-1"),
	models.ModelSonnet:   anthropic.Model("claude-sonnet-4-5"),
	models.ModelSonnet1M: anthropic.Model("claude-sonnet-4-5"),
	models.ModelDefault:  anthropic.Model("claude-sonnet-4-5"),
}

// AnthropicSource is the default backend: it runs each generation against the
// Anthropic Messages API and translates the response into session events.
type AnthropicSource struct {
	api       *anthropic.Client
	maxTokens int64
}

// NewAnthropicSource creates a source with the given API key. An empty key
// falls back to the SDK's environment-based configuration.
func NewAnthropicSource(apiKey string) *AnthropicSource {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicSource{api: &client, maxTokens: 8192}
}

// Open starts one generation. Events are delivered on the returned channel,
// which is closed after the terminal StreamComplete or StreamError event.
func (s *AnthropicSource) Open(ctx context.Context, req Request) (<-chan Event, error) {
	params := anthropic.MessageNewParams{
		Model:     modelID(req.Model),
		MaxTokens: s.maxTokens,
		Messages:  historyParams(req.Messages),
	}

	ch := make(chan Event, 16)
	go func() {
		defer close(ch)

		msg, err := s.api.Messages.New(ctx, params)
		if err != nil {
			if ctx.Err() != nil {
				// Cancelled by stopProcess; the session is already idle.
				return
			}
			ch <- NewStreamError(req.SessionID, err.Error())
			return
		}

		for _, block := range msg.Content {
			switch block.Type {
			case "text":
				ch <- NewAssistantDelta(req.SessionID, block.Text)
			case "thinking":
				ch <- NewThinkingDelta(req.SessionID, block.Thinking)
			case "tool_use":
				ch <- NewToolInvoked(req.SessionID, block.Name, string(block.Input))
			}
		}

		usage := models.TokenUsage{
			InputTokens:         msg.Usage.InputTokens,
			OutputTokens:        msg.Usage.OutputTokens,
			CacheCreationTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadTokens:     msg.Usage.CacheReadInputTokens,
		}
		ch <- NewStreamComplete(req.SessionID, usage, 0)
	}()
	return ch, nil
}

func modelID(m models.Model) anthropic.Model {
	if id, ok := modelIDs[m]; ok {
		return id
	}
	return modelIDs[models.ModelDefault]
}

// historyParams converts the transcript into API message params. Only user
// and assistant content participates; tool traffic, thinking, and local
// system/error entries stay out of the request.
func historyParams(msgs []models.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, m := range msgs {
		switch m.Type {
		case models.MessageUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case models.MessageAssistant:
			if m.Content != "" {
				out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			}
		case models.MessageThinking, models.MessageTool, models.MessageToolResult,
			models.MessageSystem, models.MessageError, models.MessagePermissionRequest:
			// Not part of the API conversation.
		}
	}
	return out
}
