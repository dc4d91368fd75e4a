package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// --- Usage counters ---

// UsageCount returns the counter for tenant/feature in the month containing at.
// A period that was never touched reads as zero.
func (s *Store) UsageCount(ctx context.Context, tenantID, feature string, at time.Time) (int, error) {
	y, m, _ := at.UTC().Date()
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count FROM usage_counters WHERE tenant_id = ? AND year = ? AND month = ? AND feature = ?`,
		tenantID, y, int(m), feature,
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

// IncrementUsage adds one to the counter, creating the period row on first use.
func (s *Store) IncrementUsage(ctx context.Context, tenantID, feature string, at time.Time) (int, error) {
	y, m, _ := at.UTC().Date()
	var n int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO usage_counters (tenant_id, year, month, feature, count) VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(tenant_id, year, month, feature) DO UPDATE SET count = count + 1
		RETURNING count`,
		tenantID, y, int(m), feature,
	).Scan(&n)
	return n, err
}

// IncrementUsageBelow adds one only while the counter is under limit, as a
// single statement. It reports false when the limit was already reached.
func (s *Store) IncrementUsageBelow(ctx context.Context, tenantID, feature string, limit int, at time.Time) (int, bool, error) {
	if limit <= 0 {
		return 0, false, nil
	}
	y, m, _ := at.UTC().Date()
	var n int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO usage_counters (tenant_id, year, month, feature, count) VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(tenant_id, year, month, feature) DO UPDATE SET count = count + 1
		WHERE usage_counters.count < ?
		RETURNING count`,
		tenantID, y, int(m), feature, limit,
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

