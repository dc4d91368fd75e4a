package engine

import (
	"context"
	"strings"

	"github.com/codetix2020-hash/marketingdios-sub000/internal/ollama"
)

var (
	_ Reasoner  = (*OllamaEngine)(nil)
	_ Embedder  = (*OllamaEngine)(nil)
	_ ModelHost = (*OllamaEngine)(nil)
)

// OllamaEngine serves completions and embeddings from an Ollama server.
type OllamaEngine struct {
	client     *ollama.Client
	chatModel  string
	embedModel string
}

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
func NewOllamaEngine(baseURL, chatModel, embedModel string) *OllamaEngine {
	return &OllamaEngine{
		client:     ollama.New(baseURL),
		chatModel:  chatModel,
		embedModel: embedModel,
	}
}

// Complete sends prompt as a single user message to the chat model.
func (e *OllamaEngine) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	out, err := e.client.Chat(ctx, e.chatModel, []ollama.Message{
		{Role: "user", Content: prompt},
	}, maxTokens)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

func (e *OllamaEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.client.Embed(ctx, e.embedModel, text)
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{
				Status:    p.Status,
				Total:     p.Total,
				Completed: p.Completed,
			})
		}
	}
	return e.client.PullModel(ctx, name, cb)
}

// Models returns the model names this engine needs, deduplicated.
func (e *OllamaEngine) Models(withChat bool) []string {
	var models []string
	if withChat && e.chatModel != "" {
		models = append(models, e.chatModel)
	}
	if e.embedModel != "" && e.embedModel != e.chatModel {
		models = append(models, e.embedModel)
	}
	return models
}
