// Package jobs is the durable, tenant-scoped work queue.
//
// Claiming is split in two steps. ClaimBatch only selects pending work; the
// caller must then win MarkRunning, a conditional pending->running update,
// before executing. Losing that update means another poller already took the
// job.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codetix2020-hash/marketingdios-sub000/internal/storage"
)

// Status is a job lifecycle state.
type Status string

const (
	StatusPending   Status = storage.JobPending
	StatusRunning   Status = storage.JobRunning
	StatusCompleted Status = storage.JobCompleted
	StatusFailed    Status = storage.JobFailed
)

// StartProgress is recorded when a job enters running.
const StartProgress = 10

// StaleError is stored on jobs failed for exceeding the running ceiling.
const StaleError = "exceeded running ceiling"

// ErrNotRunning is returned when finishing a job that is not running,
// for example because it was already reaped as stale.
var ErrNotRunning = errors.New("job is not running")

type Job struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenantId"`
	Kind        Kind            `json:"kind"`
	Status      Status          `json:"status"`
	Progress    int             `json:"progress"`
	Payload     Payload         `json:"payload,omitempty"`
	RawPayload  json.RawMessage `json:"-"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`

	// PayloadErr is set when the stored payload could not be decoded.
	PayloadErr error `json:"-"`
}

// Requeued pairs a stale job with the fresh pending job that replaces it.
type Requeued struct {
	StaleID string `json:"staleId"`
	NewID   string `json:"newId"`
}

type Queue struct {
	db     *storage.Store
	logger *slog.Logger
}

func NewQueue(db *storage.Store, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{db: db, logger: logger}
}

// Enqueue creates a pending job for tenantID.
func (q *Queue) Enqueue(ctx context.Context, tenantID string, p Payload) (Job, error) {
	if tenantID == "" {
		return Job{}, fmt.Errorf("tenant id is required")
	}
	raw, err := EncodePayload(p)
	if err != nil {
		return Job{}, err
	}
	row := storage.Job{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Kind:        string(p.Kind()),
		PayloadJSON: raw,
		CreatedAt:   time.Now().UTC(),
	}
	if err := q.db.EnqueueJob(ctx, row); err != nil {
		return Job{}, fmt.Errorf("enqueueing %s job: %w", p.Kind(), err)
	}
	row.Status = storage.JobPending
	return fromRow(row), nil
}

// ClaimBatch returns up to max pending jobs, oldest first. It does not change
// their status. An empty kind matches all kinds.
func (q *Queue) ClaimBatch(ctx context.Context, kind Kind, max int) ([]Job, error) {
	if max <= 0 {
		return nil, nil
	}
	rows, err := q.db.PendingJobs(ctx, string(kind), max)
	if err != nil {
		return nil, fmt.Errorf("selecting pending jobs: %w", err)
	}
	return fromRows(rows), nil
}

func (q *Queue) Get(ctx context.Context, id string) (Job, error) {
	row, err := q.db.GetJob(ctx, id)
	if err != nil {
		return Job{}, err
	}
	return fromRow(row), nil
}

// List returns a tenant's newest jobs, optionally filtered by status.
func (q *Queue) List(ctx context.Context, tenantID string, status Status, limit int) ([]Job, error) {
	rows, err := q.db.ListJobs(ctx, tenantID, string(status), limit)
	if err != nil {
		return nil, err
	}
	return fromRows(rows), nil
}

// InFlight counts a tenant's pending and running jobs.
func (q *Queue) InFlight(ctx context.Context, tenantID string) (int, error) {
	return q.db.CountJobs(ctx, tenantID, storage.JobPending, storage.JobRunning)
}

// MarkRunning re-checks that the job is still pending and moves it to running
// with StartProgress. It reports false when another caller got there first.
func (q *Queue) MarkRunning(ctx context.Context, id string) (bool, error) {
	return q.db.MarkJobRunning(ctx, id, StartProgress)
}

// Complete stores result on a running job and marks it completed.
func (q *Queue) Complete(ctx context.Context, id string, result any) error {
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	return mapState(q.db.CompleteJob(ctx, id, string(b)))
}

// Fail records errMsg on a running job and marks it failed.
func (q *Queue) Fail(ctx context.Context, id, errMsg string) error {
	return mapState(q.db.FailJob(ctx, id, errMsg))
}

// RequeueStale fails every job that has been running longer than ceiling and
// enqueues a fresh pending copy of each. The stale row is never reset in place.
func (q *Queue) RequeueStale(ctx context.Context, ceiling time.Duration) ([]Requeued, error) {
	rows, err := q.db.StaleRunningJobs(ctx, time.Now().Add(-ceiling))
	if err != nil {
		return nil, fmt.Errorf("finding stale jobs: %w", err)
	}

	var out []Requeued
	for _, row := range rows {
		err := q.db.FailJob(ctx, row.ID, StaleError)
		if errors.Is(err, storage.ErrStateConflict) {
			// Finished between the scan and the update.
			continue
		}
		if err != nil {
			return out, fmt.Errorf("failing stale job %s: %w", row.ID, err)
		}

		fresh := storage.Job{
			ID:          uuid.New().String(),
			TenantID:    row.TenantID,
			Kind:        row.Kind,
			PayloadJSON: row.PayloadJSON,
			CreatedAt:   time.Now().UTC(),
		}
		if err := q.db.EnqueueJob(ctx, fresh); err != nil {
			return out, fmt.Errorf("requeueing stale job %s: %w", row.ID, err)
		}
		q.logger.Warn("requeued stale job", "job_id", row.ID, "new_job_id", fresh.ID, "tenant_id", row.TenantID, "kind", row.Kind)
		out = append(out, Requeued{StaleID: row.ID, NewID: fresh.ID})
	}
	return out, nil
}

func mapState(err error) error {
	if errors.Is(err, storage.ErrStateConflict) {
		return ErrNotRunning
	}
	return err
}

func fromRows(rows []storage.Job) []Job {
	out := make([]Job, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out
}

func fromRow(r storage.Job) Job {
	j := Job{
		ID:          r.ID,
		TenantID:    r.TenantID,
		Kind:        Kind(r.Kind),
		Status:      Status(r.Status),
		Progress:    r.Progress,
		RawPayload:  json.RawMessage(r.PayloadJSON),
		Error:       r.Error,
		CreatedAt:   r.CreatedAt,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
	if r.ResultJSON != "" {
		j.Result = json.RawMessage(r.ResultJSON)
	}
	j.Payload, j.PayloadErr = DecodePayload(j.Kind, r.PayloadJSON)
	return j
}
