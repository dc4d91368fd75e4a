package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// --- Memory entries ---

// MemoryVector is the slice of a memory row needed to rank it.
// Embedding is only valid for the duration of the scan callback.
type MemoryVector struct {
	ID         string
	Importance int
	CreatedAt  time.Time
	Embedding  []float32
}

const memoryColumns = `id, tenant_id, kind, text, embedding, metadata, importance, created_at`

func (s *Store) SaveMemory(ctx context.Context, m MemoryEntry) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	metadata := m.MetadataJSON
	if metadata == "" {
		metadata = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_entries (`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.TenantID, m.Kind, m.Text, encodeFloat32s(m.Embedding), metadata, m.Importance, formatTime(m.CreatedAt),
	)
	return err
}

// ScanMemoryVectors calls fn for every embedding belonging to tenantID, narrowed
// to kind when kind is non-empty.
func (s *Store) ScanMemoryVectors(ctx context.Context, tenantID, kind string, fn func(MemoryVector) error) error {
	query := `SELECT id, importance, created_at, embedding FROM memory_entries WHERE tenant_id = ?`
	args := []any{tenantID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32
	for rows.Next() {
		var v MemoryVector
		var createdAt string
		var blob []byte
		if err := rows.Scan(&v.ID, &v.Importance, &createdAt, &blob); err != nil {
			return fmt.Errorf("scanning row: %w", err)
		}
		if v.CreatedAt, err = parseTime(createdAt); err != nil {
			return fmt.Errorf("parsing created_at for %s: %w", v.ID, err)
		}
		if buf, err = decodeFloat32sInto(buf, blob); err != nil {
			return fmt.Errorf("decoding embedding for %s: %w", v.ID, err)
		}
		v.Embedding = buf
		if err := fn(v); err != nil {
			return err
		}
	}
	return rows.Err()
}

// GetMemories loads the given entries, restricted to tenantID. Order is unspecified.
func (s *Store) GetMemories(ctx context.Context, tenantID string, ids []string) ([]MemoryEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := []any{tenantID}
	for _, id := range ids {
		args = append(args, id)
	}
	return s.queryMemories(ctx, `SELECT `+memoryColumns+` FROM memory_entries
		WHERE tenant_id = ? AND id IN (`+placeholders(len(ids))+`)`, args...)
}

// RecentMemories returns the newest entries of one kind for a tenant.
func (s *Store) RecentMemories(ctx context.Context, tenantID, kind string, limit int) ([]MemoryEntry, error) {
	return s.queryMemories(ctx, `SELECT `+memoryColumns+` FROM memory_entries
		WHERE tenant_id = ? AND kind = ? ORDER BY created_at DESC LIMIT ?`, tenantID, kind, limit)
}

// AllMemories returns every entry for a tenant, oldest first. Used to rebuild
// an external index from the database.
func (s *Store) AllMemories(ctx context.Context, tenantID string) ([]MemoryEntry, error) {
	return s.queryMemories(ctx, `SELECT `+memoryColumns+` FROM memory_entries
		WHERE tenant_id = ? ORDER BY created_at ASC`, tenantID)
}

func (s *Store) CountMemories(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_entries WHERE tenant_id = ?`, tenantID).Scan(&n)
	return n, err
}

func (s *Store) queryMemories(ctx context.Context, query string, args ...any) ([]MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying memories: %w", err)
	}
	defer rows.Close()

	var entries []MemoryEntry
	for rows.Next() {
		var m MemoryEntry
		var blob []byte
		var createdAt string
		if err := rows.Scan(&m.ID, &m.TenantID, &m.Kind, &m.Text, &blob, &m.MetadataJSON, &m.Importance, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning memory row: %w", err)
		}
		if m.Embedding, err = decodeFloat32s(blob); err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", m.ID, err)
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", m.ID, err)
		}
		entries = append(entries, m)
	}
	return entries, rows.Err()
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32s(b []byte) ([]float32, error) {
	return decodeFloat32sInto(nil, b)
}

// decodeFloat32sInto decodes little-endian bytes into buf, growing it if needed.
// A length that is not a multiple of 4 indicates corruption.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}
