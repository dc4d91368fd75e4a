package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

var _ Reasoner = (*AnthropicReasoner)(nil)

// AnthropicReasoner serves completions from the Anthropic Messages API.
type AnthropicReasoner struct {
	client *anthropic.Client
	model  string
	logger *slog.Logger
}

// NewAnthropicReasoner creates a reasoner for model. Extra request options,
// such as a base URL for tests, are passed through to the client.
func NewAnthropicReasoner(apiKey, model string, logger *slog.Logger, opts ...option.RequestOption) *AnthropicReasoner {
	if logger == nil {
		logger = slog.Default()
	}
	c := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &AnthropicReasoner{
		client: &c,
		model:  model,
		logger: logger,
	}
}

// Complete sends prompt as a single user turn and returns the first text block.
func (r *AnthropicReasoner) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			text := strings.TrimSpace(resp.Content[i].Text)
			if text == "" {
				break
			}
			r.logger.Debug("anthropic completion",
				"model", r.model,
				"input_tokens", resp.Usage.InputTokens,
				"output_tokens", resp.Usage.OutputTokens,
			)
			return text, nil
		}
	}
	return "", ErrEmptyResponse
}
