package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// --- Jobs ---

const jobColumns = `id, tenant_id, kind, status, progress, payload, result, error, created_at, started_at, completed_at`

func (s *Store) EnqueueJob(ctx context.Context, job Job) error {
	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	payload := job.PayloadJSON
	if payload == "" {
		payload = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, tenant_id, kind, status, progress, payload, created_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?)`,
		job.ID, job.TenantID, job.Kind, payload, formatTime(createdAt),
	)
	return err
}

func (s *Store) GetJob(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

// PendingJobs selects up to max pending jobs in FIFO order by creation time.
// It does not change any job's status. An empty kind matches every kind.
func (s *Store) PendingJobs(ctx context.Context, kind string, max int) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = 'pending'`
	args := []any{}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at ASC, rowid ASC LIMIT ?`
	args = append(args, max)
	return s.queryJobs(ctx, query, args...)
}

// ListJobs returns a tenant's most recent jobs, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, tenantID, status string, limit int) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE tenant_id = ?`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)
	return s.queryJobs(ctx, query, args...)
}

// StaleRunningJobs returns jobs that entered running before cutoff and never finished.
func (s *Store) StaleRunningJobs(ctx context.Context, cutoff time.Time) ([]Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE status = 'running' AND started_at < ? ORDER BY started_at ASC`, formatTime(cutoff))
}

// CountJobs counts a tenant's jobs whose status is one of statuses.
func (s *Store) CountJobs(ctx context.Context, tenantID string, statuses ...string) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	args := []any{tenantID}
	for _, st := range statuses {
		args = append(args, st)
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE tenant_id = ? AND status IN (`+placeholders(len(statuses))+`)`, args...,
	).Scan(&n)
	return n, err
}

// MarkJobRunning moves a job from pending to running. It reports false without
// error when the job is no longer pending, meaning another caller got there first.
func (s *Store) MarkJobRunning(ctx context.Context, id string, progress int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'running', progress = ?, started_at = ?
		WHERE id = ? AND status = 'pending'`,
		progress, formatTime(time.Now()), id,
	)
	if err != nil {
		return false, fmt.Errorf("marking job %s running: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking updated job rows: %w", err)
	}
	return n == 1, nil
}

// CompleteJob finishes a running job with its result.
func (s *Store) CompleteJob(ctx context.Context, id, resultJSON string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'completed', progress = 100, result = ?, completed_at = ?
		WHERE id = ? AND status = 'running'`,
		resultJSON, formatTime(time.Now()), id,
	)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// FailJob finishes a running job with an error message.
func (s *Store) FailJob(ctx context.Context, id, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'failed', error = ?, completed_at = ?
		WHERE id = ? AND status = 'running'`,
		errMsg, formatTime(time.Now()), id,
	)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStateConflict
	}
	return nil
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (Job, error) {
	var j Job
	var result, errMsg, startedAt, completedAt sql.NullString
	var createdAt string
	if err := r.Scan(&j.ID, &j.TenantID, &j.Kind, &j.Status, &j.Progress, &j.PayloadJSON,
		&result, &errMsg, &createdAt, &startedAt, &completedAt); err != nil {
		return Job{}, err
	}
	j.ResultJSON = result.String
	j.Error = errMsg.String

	var err error
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return Job{}, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.StartedAt, err = parseNullTime(startedAt); err != nil {
		return Job{}, fmt.Errorf("parsing started_at for job %s: %w", j.ID, err)
	}
	if j.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return Job{}, fmt.Errorf("parsing completed_at for job %s: %w", j.ID, err)
	}
	return j, nil
}
