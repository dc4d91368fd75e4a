package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codetix2020-hash/marketingdios-sub000/internal/generation"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/jobs"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/usage"
)

// NotImplemented is the result of kinds that have no executor yet.
type NotImplemented struct {
	Status  string    `json:"status"`
	Kind    jobs.Kind `json:"kind"`
	Message string    `json:"message"`
}

// ContentResult is stored on completed content_generation jobs.
type ContentResult struct {
	ContentID string            `json:"contentId"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ContentHandler runs content_generation jobs through the generation service
// and charges the tenant's content quota once the draft exists. With a hard
// cap the unit is reserved before generating instead: a job that finds the
// quota spent fails without calling the generator, and a failed generation
// keeps the unit it reserved.
type ContentHandler struct {
	gen     generation.Service
	guard   *usage.Guard
	hardCap bool
	logger  *slog.Logger
}

func NewContentHandler(gen generation.Service, guard *usage.Guard, logger *slog.Logger) *ContentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContentHandler{gen: gen, guard: guard, logger: logger}
}

// WithHardCap switches the handler to reserve-then-generate.
func (h *ContentHandler) WithHardCap() *ContentHandler {
	h.hardCap = true
	return h
}

func (h *ContentHandler) Handle(ctx context.Context, job jobs.Job) (any, error) {
	p, ok := job.Payload.(jobs.ContentGeneration)
	if !ok {
		return nil, fmt.Errorf("unexpected payload %T for %s", job.Payload, job.Kind)
	}

	reserved := false
	if h.hardCap && h.guard != nil {
		v, err := h.guard.Reserve(ctx, job.TenantID, usage.FeatureContent)
		if err != nil {
			if errors.Is(err, usage.ErrQuotaExceeded) {
				return nil, errors.New(v.Reason)
			}
			return nil, err
		}
		reserved = true
	}

	asset, err := h.gen.Generate(ctx, generation.Request{
		TenantID: job.TenantID,
		UnitID:   p.UnitID,
		JobID:    job.ID,
		Kind:     p.ContentType,
		Topic:    p.Topic,
		Platform: p.Platform,
		Angle:    p.Angle,
		Hook:     p.Hook,
		CTA:      p.CTA,
	})
	if err != nil {
		return nil, err
	}

	if h.guard != nil && !reserved {
		// The draft exists: charge it even if shutdown lands now, and never
		// fail the job over the counter.
		if err := h.guard.Increment(context.WithoutCancel(ctx), job.TenantID, usage.FeatureContent); err != nil {
			h.logger.Error("recording content usage", "tenant_id", job.TenantID, "job_id", job.ID, "error", err)
		}
	}
	return ContentResult{ContentID: asset.ID, Content: asset.Content, Metadata: asset.Metadata}, nil
}

// NotImplementedHandler completes jobs of kinds that have no executor with a
// structured marker result.
func NotImplementedHandler() Handler {
	return HandlerFunc(func(ctx context.Context, job jobs.Job) (any, error) {
		return NotImplemented{
			Status:  "not_implemented",
			Kind:    job.Kind,
			Message: fmt.Sprintf("%s jobs are recorded but not executed yet", job.Kind),
		}, nil
	})
}

// DefaultHandlers wires every job kind to its handler.
func DefaultHandlers(content Handler) map[jobs.Kind]Handler {
	noop := NotImplementedHandler()
	return map[jobs.Kind]Handler{
		jobs.KindContentGeneration:    content,
		jobs.KindCampaignOptimization: noop,
		jobs.KindLeadNurturing:        noop,
		jobs.KindExperiment:           noop,
	}
}
