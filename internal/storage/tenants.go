package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// --- Tenants ---

func (s *Store) SaveTenant(ctx context.Context, t Tenant) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, plan, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, plan = excluded.plan`,
		t.ID, t.Name, t.Plan, formatTime(t.CreatedAt),
	)
	return err
}

// CreateTenant inserts a new tenant together with its units in one
// transaction. An id already in use fails the whole call with ErrExists.
func (s *Store) CreateTenant(ctx context.Context, t Tenant, units []Unit) (err error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `INSERT INTO tenants (id, name, plan, created_at) VALUES (?, ?, ?, ?)`,
		t.ID, t.Name, t.Plan, formatTime(t.CreatedAt),
	); err != nil {
		return insertErr("tenant", t.ID, err)
	}
	for _, u := range units {
		if u.CreatedAt.IsZero() {
			u.CreatedAt = t.CreatedAt
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO tenant_units (id, tenant_id, name, created_at) VALUES (?, ?, ?, ?)`,
			u.ID, t.ID, u.Name, formatTime(u.CreatedAt),
		); err != nil {
			return insertErr("unit", u.ID, err)
		}
	}
	return tx.Commit()
}

func insertErr(what, id string, err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return fmt.Errorf("%s %q: %w", what, id, ErrExists)
		}
	}
	return fmt.Errorf("inserting %s: %w", what, err)
}

func (s *Store) GetTenant(ctx context.Context, id string) (Tenant, error) {
	var t Tenant
	var createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT id, name, plan, created_at FROM tenants WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.Plan, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Tenant{}, ErrNotFound
	}
	if err != nil {
		return Tenant{}, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return Tenant{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return t, nil
}

func (s *Store) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, plan, created_at FROM tenants ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []Tenant
	for rows.Next() {
		var t Tenant
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Name, &t.Plan, &createdAt); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (s *Store) SaveUnit(ctx context.Context, u Unit) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_units (id, tenant_id, name, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		u.ID, u.TenantID, u.Name, formatTime(u.CreatedAt),
	)
	return err
}

// ListUnits returns the sub-units of a tenant in creation order.
func (s *Store) ListUnits(ctx context.Context, tenantID string) ([]Unit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, created_at FROM tenant_units
		WHERE tenant_id = ? ORDER BY created_at ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		var u Unit
		var createdAt string
		if err := rows.Scan(&u.ID, &u.TenantID, &u.Name, &createdAt); err != nil {
			return nil, err
		}
		if u.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		units = append(units, u)
	}
	return units, rows.Err()
}
