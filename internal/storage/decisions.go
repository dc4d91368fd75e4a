package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// --- Decisions ---

func (s *Store) SaveDecision(ctx context.Context, d Decision) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (id, tenant_id, unit_id, agent_type, raw_plan, reasoning, context, created_at, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.TenantID, d.UnitID, d.AgentType, d.RawPlan, d.Reasoning, d.ContextJSON,
		formatTime(d.CreatedAt), formatNullTime(d.ExecutedAt),
	)
	return err
}

// MarkDecisionExecuted stamps executed_at. A decision is stamped at most once.
func (s *Store) MarkDecisionExecuted(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE decisions SET executed_at = ? WHERE id = ? AND executed_at IS NULL`, formatTime(at), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Store) ListDecisions(ctx context.Context, tenantID string, limit int) ([]Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, unit_id, agent_type, raw_plan, reasoning, context, created_at, executed_at
		FROM decisions WHERE tenant_id = ? ORDER BY created_at DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []Decision
	for rows.Next() {
		var d Decision
		var createdAt string
		var executedAt sql.NullString
		if err := rows.Scan(&d.ID, &d.TenantID, &d.UnitID, &d.AgentType, &d.RawPlan, &d.Reasoning,
			&d.ContextJSON, &createdAt, &executedAt); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if d.ExecutedAt, err = parseNullTime(executedAt); err != nil {
			return nil, fmt.Errorf("parsing executed_at: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}
