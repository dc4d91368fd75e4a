package engine

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when a backend answers without any text.
var ErrEmptyResponse = errors.New("empty response from reasoning backend")

// Reasoner is the text-completion service used for planning and insight
// generation. Callers must not assume the returned text is valid JSON.
type Reasoner interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ModelHost is a backend that serves locally pulled models.
type ModelHost interface {
	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

// ReasonerFunc adapts a plain function to Reasoner.
type ReasonerFunc func(ctx context.Context, prompt string, maxTokens int) (string, error)

func (f ReasonerFunc) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return f(ctx, prompt, maxTokens)
}

// EmbedderFunc adapts a plain function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}
