package storage

import (
	"context"
	"fmt"
	"time"
)

// --- Learning records ---

func (s *Store) SaveLearningRecord(ctx context.Context, r LearningRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	applied := 0
	if r.Applied {
		applied = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO learning_records (id, tenant_id, event_type, window_start, window_end, patterns, insights, applied, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TenantID, r.EventType, formatTime(r.WindowStart), formatTime(r.WindowEnd),
		r.PatternsJSON, r.InsightsJSON, applied, formatTime(r.CreatedAt),
	)
	return err
}

// MarkLearningApplied flips applied from false to true. A record that is
// already applied yields ErrStateConflict.
func (s *Store) MarkLearningApplied(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE learning_records SET applied = 1 WHERE id = ? AND applied = 0`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// RecentLearningRecords returns a tenant's newest learning records.
func (s *Store) RecentLearningRecords(ctx context.Context, tenantID string, limit int) ([]LearningRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, event_type, window_start, window_end, patterns, insights, applied, created_at
		FROM learning_records WHERE tenant_id = ? ORDER BY created_at DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []LearningRecord
	for rows.Next() {
		var r LearningRecord
		var start, end, createdAt string
		var applied int
		if err := rows.Scan(&r.ID, &r.TenantID, &r.EventType, &start, &end, &r.PatternsJSON, &r.InsightsJSON, &applied, &createdAt); err != nil {
			return nil, err
		}
		r.Applied = applied == 1
		if r.WindowStart, err = parseTime(start); err != nil {
			return nil, fmt.Errorf("parsing window_start: %w", err)
		}
		if r.WindowEnd, err = parseTime(end); err != nil {
			return nil, fmt.Errorf("parsing window_end: %w", err)
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
