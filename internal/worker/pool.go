// Package worker executes queued jobs.
//
// A job is executed only by the caller that wins the pending->running
// transition. Every other caller gets a skipped Result, so overlapping drain
// ticks and duplicate triggers are harmless.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codetix2020-hash/marketingdios-sub000/internal/jobs"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/metrics"
)

const (
	defaultPoll       = 2 * time.Minute
	defaultBatchSize  = 10
	defaultStaleAfter = time.Hour

	// SkipReason is reported for jobs another caller already took.
	SkipReason = "already processed"
)

// Handler executes one kind of job. The returned value is stored as the
// job's result.
type Handler interface {
	Handle(ctx context.Context, job jobs.Job) (any, error)
}

type HandlerFunc func(ctx context.Context, job jobs.Job) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, job jobs.Job) (any, error) {
	return f(ctx, job)
}

// Result is the outcome of one Execute call.
type Result struct {
	JobID   string      `json:"jobId"`
	Kind    jobs.Kind   `json:"kind,omitempty"`
	Status  jobs.Status `json:"status,omitempty"`
	Skipped bool        `json:"skipped"`
	Reason  string      `json:"reason,omitempty"`
	Result  any         `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// BatchReport summarizes one DrainOnce call.
type BatchReport struct {
	Requeued  []jobs.Requeued `json:"requeued,omitempty"`
	Claimed   int             `json:"claimed"`
	Completed int             `json:"completed"`
	Failed    int             `json:"failed"`
	Skipped   int             `json:"skipped"`
	Results   []Result        `json:"results"`
}

type Options struct {
	Poll       time.Duration
	BatchSize  int
	StaleAfter time.Duration
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Pool drains the job queue and dispatches jobs to their kind's handler.
type Pool struct {
	queue      *jobs.Queue
	handlers   map[jobs.Kind]Handler
	poll       time.Duration
	batchSize  int
	staleAfter time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewPool(queue *jobs.Queue, handlers map[jobs.Kind]Handler, opts Options) *Pool {
	p := &Pool{
		queue:      queue,
		handlers:   handlers,
		poll:       opts.Poll,
		batchSize:  opts.BatchSize,
		staleAfter: opts.StaleAfter,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
	}
	if p.poll <= 0 {
		p.poll = defaultPoll
	}
	if p.batchSize <= 0 {
		p.batchSize = defaultBatchSize
	}
	if p.staleAfter <= 0 {
		p.staleAfter = defaultStaleAfter
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.handlers == nil {
		p.handlers = map[jobs.Kind]Handler{}
	}
	return p
}

// Run drains a batch every poll interval until ctx is cancelled. A full batch
// is followed immediately by another drain.
func (p *Pool) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		report, err := p.DrainOnce(ctx)
		if err != nil {
			p.logger.Error("worker iteration failed", "error", err)
		}
		if report.Claimed >= p.batchSize {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.poll):
		}
	}
}

// DrainOnce requeues stale jobs, claims one bounded batch and executes every
// claimed job concurrently. A failing job never aborts its siblings; each
// outcome is recorded in the report.
func (p *Pool) DrainOnce(ctx context.Context) (BatchReport, error) {
	var report BatchReport

	requeued, err := p.queue.RequeueStale(ctx, p.staleAfter)
	report.Requeued = requeued
	if err != nil {
		p.logger.Error("requeueing stale jobs", "error", err)
	}

	batch, err := p.queue.ClaimBatch(ctx, "", p.batchSize)
	if err != nil {
		return report, fmt.Errorf("claiming batch: %w", err)
	}
	report.Claimed = len(batch)
	if len(batch) == 0 {
		return report, nil
	}

	results := make([]Result, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.batchSize)
	for i, job := range batch {
		g.Go(func() error {
			res, err := p.Execute(gctx, job.ID)
			if err != nil && res.JobID == "" {
				res = Result{JobID: job.ID, Kind: job.Kind, Error: err.Error()}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		switch {
		case r.Skipped:
			report.Skipped++
		case r.Status == jobs.StatusCompleted:
			report.Completed++
		default:
			report.Failed++
		}
	}
	report.Results = results
	p.logger.Info("batch drained", "claimed", report.Claimed, "completed", report.Completed,
		"failed", report.Failed, "skipped", report.Skipped, "requeued", len(report.Requeued))
	return report, nil
}

// Execute runs job id if it is still pending. A job in any other state, or one
// another caller transitions first, yields a skipped Result and no error.
// A handler failure is recorded on the job and returned as the error.
func (p *Pool) Execute(ctx context.Context, id string) (Result, error) {
	job, err := p.queue.Get(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("loading job %s: %w", id, err)
	}
	if job.Status != jobs.StatusPending {
		return p.skip(job), nil
	}

	won, err := p.queue.MarkRunning(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("marking job %s running: %w", id, err)
	}
	if !won {
		return p.skip(job), nil
	}

	log := p.logger.With("job_id", id, "tenant_id", job.TenantID, "kind", job.Kind)
	start := time.Now()
	out, herr := p.handle(ctx, job)
	took := time.Since(start)

	if herr != nil {
		log.Warn("job failed", "error", herr)
		p.metrics.JobProcessed(string(job.Kind), "failed", took)
		res := Result{JobID: id, Kind: job.Kind, Status: jobs.StatusFailed, Error: herr.Error()}
		// The run context may be the reason the handler failed.
		if ferr := p.queue.Fail(context.WithoutCancel(ctx), id, herr.Error()); ferr != nil {
			log.Error("failed to mark job as failed", "error", ferr)
			return res, errors.Join(herr, ferr)
		}
		return res, herr
	}

	if err := p.queue.Complete(context.WithoutCancel(ctx), id, out); err != nil {
		p.metrics.JobProcessed(string(job.Kind), "failed", took)
		return Result{JobID: id, Kind: job.Kind, Status: jobs.StatusRunning, Error: err.Error()},
			fmt.Errorf("completing job %s: %w", id, err)
	}
	p.metrics.JobProcessed(string(job.Kind), "completed", took)
	log.Debug("job completed", "took", took)
	return Result{JobID: id, Kind: job.Kind, Status: jobs.StatusCompleted, Result: out}, nil
}

func (p *Pool) skip(job jobs.Job) Result {
	p.logger.Debug("job skipped", "job_id", job.ID, "status", job.Status)
	p.metrics.JobProcessed(string(job.Kind), "skipped", 0)
	return Result{JobID: job.ID, Kind: job.Kind, Skipped: true, Reason: SkipReason}
}

func (p *Pool) handle(ctx context.Context, job jobs.Job) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job handler panicked", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	if job.PayloadErr != nil {
		return nil, job.PayloadErr
	}
	h, ok := p.handlers[job.Kind]
	if !ok {
		return nil, fmt.Errorf("no handler registered for kind %q", job.Kind)
	}
	return h.Handle(ctx, job)
}
