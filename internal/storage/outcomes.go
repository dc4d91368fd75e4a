package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// --- Contents, campaigns and KPI records ---

func (s *Store) SaveContent(ctx context.Context, c Content) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.Status == "" {
		c.Status = ContentDraft
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contents (id, tenant_id, unit_id, kind, status, topic, platform, body, job_id, created_at, published_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TenantID, c.UnitID, c.Kind, c.Status, c.Topic, c.Platform, c.Body, c.JobID,
		formatTime(c.CreatedAt), formatNullTime(c.PublishedAt),
	)
	return err
}

// PublishContent moves a draft to published.
func (s *Store) PublishContent(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE contents SET status = 'published', published_at = ? WHERE id = ? AND status = 'draft'`,
		formatTime(at), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Store) CountContents(ctx context.Context, tenantID, status string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contents WHERE tenant_id = ? AND status = ?`, tenantID, status).Scan(&n)
	return n, err
}

// ContentsSince returns content created in [from, to).
func (s *Store) ContentsSince(ctx context.Context, tenantID string, from, to time.Time) ([]Content, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, unit_id, kind, status, topic, platform, body, job_id, created_at, published_at
		FROM contents WHERE tenant_id = ? AND created_at >= ? AND created_at < ?
		ORDER BY created_at ASC`, tenantID, formatTime(from), formatTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Content
	for rows.Next() {
		var c Content
		var createdAt string
		var publishedAt sql.NullString
		if err := rows.Scan(&c.ID, &c.TenantID, &c.UnitID, &c.Kind, &c.Status, &c.Topic, &c.Platform,
			&c.Body, &c.JobID, &createdAt, &publishedAt); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if c.PublishedAt, err = parseNullTime(publishedAt); err != nil {
			return nil, fmt.Errorf("parsing published_at: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SaveCampaign(ctx context.Context, c Campaign) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.Status == "" {
		c.Status = CampaignActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, tenant_id, name, status, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, status = excluded.status`,
		c.ID, c.TenantID, c.Name, c.Status, formatTime(c.CreatedAt),
	)
	return err
}

func (s *Store) CountCampaigns(ctx context.Context, tenantID, status string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campaigns WHERE tenant_id = ? AND status = ?`, tenantID, status).Scan(&n)
	return n, err
}

// CampaignsSince returns campaigns created in [from, to).
func (s *Store) CampaignsSince(ctx context.Context, tenantID string, from, to time.Time) ([]Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, status, created_at FROM campaigns
		WHERE tenant_id = ? AND created_at >= ? AND created_at < ?
		ORDER BY created_at ASC`, tenantID, formatTime(from), formatTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		var c Campaign
		var createdAt string
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Status, &createdAt); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SaveKPI(ctx context.Context, k KPIRecord) error {
	if k.RecordedAt.IsZero() {
		k.RecordedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kpi_records (id, tenant_id, metric, value, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		k.ID, k.TenantID, k.Metric, k.Value, formatTime(k.RecordedAt),
	)
	return err
}

// KPIsSince returns KPI records recorded in [from, to).
func (s *Store) KPIsSince(ctx context.Context, tenantID string, from, to time.Time) ([]KPIRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, metric, value, recorded_at FROM kpi_records
		WHERE tenant_id = ? AND recorded_at >= ? AND recorded_at < ?
		ORDER BY recorded_at ASC`, tenantID, formatTime(from), formatTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KPIRecord
	for rows.Next() {
		var k KPIRecord
		var recordedAt string
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Metric, &k.Value, &recordedAt); err != nil {
			return nil, err
		}
		if k.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
