// Package generation turns a single plan item into a finished draft asset.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codetix2020-hash/marketingdios-sub000/internal/engine"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/storage"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 1024
)

// ErrInvalidRequest is returned for requests missing a topic or platform.
var ErrInvalidRequest = errors.New("invalid generation request")

// Request describes one asset to produce.
type Request struct {
	TenantID string
	UnitID   string
	JobID    string
	Kind     string
	Topic    string
	Platform string
	Angle    string
	Hook     string
	CTA      string
}

// Asset is a generated draft. ID is the persisted content record id.
type Asset struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Service generates assets.
type Service interface {
	Generate(ctx context.Context, req Request) (Asset, error)
}

// Generator writes copy with the reasoning engine and stores it as a draft.
type Generator struct {
	reasoner  engine.Reasoner
	db        *storage.Store
	maxTokens int
	timeout   time.Duration
	logger    *slog.Logger
}

func NewGenerator(reasoner engine.Reasoner, db *storage.Store, maxTokens int, timeout time.Duration, logger *slog.Logger) *Generator {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{reasoner: reasoner, db: db, maxTokens: maxTokens, timeout: timeout, logger: logger}
}

func (g *Generator) Generate(ctx context.Context, req Request) (Asset, error) {
	if strings.TrimSpace(req.Topic) == "" || strings.TrimSpace(req.Platform) == "" {
		return Asset{}, fmt.Errorf("%w: topic and platform are required", ErrInvalidRequest)
	}
	if req.Kind == "" {
		req.Kind = "post"
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	text, err := g.reasoner.Complete(ctx, BuildPrompt(req), g.maxTokens)
	if err != nil {
		return Asset{}, fmt.Errorf("generating %s for %s: %w", req.Kind, req.Platform, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Asset{}, fmt.Errorf("generating %s for %s: %w", req.Kind, req.Platform, engine.ErrEmptyResponse)
	}

	c := storage.Content{
		ID:        uuid.New().String(),
		TenantID:  req.TenantID,
		UnitID:    req.UnitID,
		Kind:      req.Kind,
		Status:    storage.ContentDraft,
		Topic:     req.Topic,
		Platform:  req.Platform,
		Body:      text,
		JobID:     req.JobID,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.db.SaveContent(ctx, c); err != nil {
		return Asset{}, fmt.Errorf("saving draft: %w", err)
	}
	g.logger.Debug("draft generated", "tenant_id", req.TenantID, "content_id", c.ID, "platform", req.Platform)

	return Asset{
		ID:      c.ID,
		Content: text,
		Metadata: map[string]string{
			"kind":     req.Kind,
			"platform": req.Platform,
			"status":   storage.ContentDraft,
		},
	}, nil
}

// BuildPrompt renders the copywriting instructions for req.
func BuildPrompt(req Request) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write one %s for %s about %q.\n", req.Kind, req.Platform, req.Topic)
	if req.Angle != "" {
		fmt.Fprintf(&sb, "Angle: %s\n", req.Angle)
	}
	if req.Hook != "" {
		fmt.Fprintf(&sb, "Open with this hook: %s\n", req.Hook)
	}
	if req.CTA != "" {
		fmt.Fprintf(&sb, "End with this call to action: %s\n", req.CTA)
	}
	sb.WriteString("Match the platform's length and tone conventions. Return only the finished copy, no commentary.")
	return sb.String()
}
