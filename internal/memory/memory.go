// Package memory stores semantically searchable facts about a tenant and
// answers nearest-neighbor queries over them.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codetix2020-hash/marketingdios-sub000/internal/engine"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/metrics"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/storage"
)

// Kind classifies a memory entry.
type Kind string

const (
	KindIdentity Kind = "identity"
	KindLearning Kind = "learning"
	KindTrend    Kind = "trend"
	KindTemplate Kind = "template"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindIdentity, KindLearning, KindTrend, KindTemplate:
		return true
	}
	return false
}

const (
	minImportance     = 1
	maxImportance     = 10
	defaultImportance = 5
)

// ErrEmbed marks a failure of the embedding service. It is transient: the
// caller should retry later rather than drop the write.
var ErrEmbed = errors.New("embedding service failed")

// ErrInvalid is returned for requests that can never succeed as given.
var ErrInvalid = errors.New("invalid memory request")

// Entry is an immutable memory record.
type Entry struct {
	ID         string            `json:"id"`
	TenantID   string            `json:"tenantId"`
	Kind       Kind              `json:"kind"`
	Text       string            `json:"text"`
	Embedding  []float32         `json:"-"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Importance int               `json:"importance"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Result is an entry with its cosine similarity to the query.
type Result struct {
	Entry
	Score float32 `json:"score"`
}

// Options tunes a Store.
type Options struct {
	// EmbedTimeout bounds each embedding call. Zero means no extra bound.
	EmbedTimeout time.Duration
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Store persists entries in SQLite and ranks them through an Index.
type Store struct {
	db       *storage.Store
	embedder engine.Embedder
	index    Index
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewStore creates a Store. A nil index selects the brute-force SQLite index.
func NewStore(db *storage.Store, embedder engine.Embedder, index Index, opts Options) *Store {
	if index == nil {
		index = NewSQLiteIndex(db)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, embedder: embedder, index: index, opts: opts, logger: logger, now: time.Now}
}

// Save embeds text and persists a new entry. Importance outside [1,10] is
// clamped; zero selects the default of 5.
func (s *Store) Save(ctx context.Context, tenantID string, kind Kind, text string, metadata map[string]string, importance int) (Entry, error) {
	text = strings.TrimSpace(text)
	switch {
	case tenantID == "":
		return Entry{}, fmt.Errorf("%w: tenant id is required", ErrInvalid)
	case !kind.Valid():
		return Entry{}, fmt.Errorf("%w: unknown kind %q", ErrInvalid, kind)
	case text == "":
		return Entry{}, fmt.Errorf("%w: text is empty", ErrInvalid)
	}

	vec, err := s.embed(ctx, text)
	s.opts.Metrics.MemoryOp("embed", err)
	if err != nil {
		s.opts.Metrics.MemoryOp("save", err)
		return Entry{}, err
	}

	e := Entry{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		Kind:       kind,
		Text:       text,
		Embedding:  vec,
		Metadata:   metadata,
		Importance: clampImportance(importance),
		CreatedAt:  s.now().UTC(),
	}
	metaJSON := "{}"
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return Entry{}, fmt.Errorf("encoding metadata: %w", err)
		}
		metaJSON = string(b)
	}

	err = s.db.SaveMemory(ctx, storage.MemoryEntry{
		ID:           e.ID,
		TenantID:     e.TenantID,
		Kind:         string(e.Kind),
		Text:         e.Text,
		Embedding:    e.Embedding,
		MetadataJSON: metaJSON,
		Importance:   e.Importance,
		CreatedAt:    e.CreatedAt,
	})
	if err != nil {
		s.opts.Metrics.MemoryOp("save", err)
		return Entry{}, fmt.Errorf("persisting memory: %w", err)
	}
	if err := s.index.Add(ctx, e); err != nil {
		// The row is durable; the index can be rebuilt from it with Reindex.
		s.logger.Warn("memory: index add failed", "tenant_id", tenantID, "id", e.ID, "error", err)
	}
	s.opts.Metrics.MemoryOp("save", nil)
	return e, nil
}

// Search embeds query and returns the top limit entries of tenantID by cosine
// similarity, ties broken by higher importance then newer creation time.
// An empty kind searches every kind. limit <= 0 returns nothing.
func (s *Store) Search(ctx context.Context, tenantID, query string, kind Kind, limit int) ([]Result, error) {
	if limit <= 0 {
		return nil, nil
	}
	if kind != "" && !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalid, kind)
	}

	vec, err := s.embed(ctx, query)
	s.opts.Metrics.MemoryOp("embed", err)
	if err != nil {
		s.opts.Metrics.MemoryOp("search", err)
		return nil, err
	}

	matches, err := s.index.Nearest(ctx, tenantID, kind, vec, limit)
	if err != nil {
		s.opts.Metrics.MemoryOp("search", err)
		return nil, fmt.Errorf("searching index: %w", err)
	}
	results, err := s.hydrate(ctx, tenantID, matches)
	s.opts.Metrics.MemoryOp("search", err)
	if err != nil {
		return nil, err
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Recent returns the newest entries of one kind without an embedding call.
func (s *Store) Recent(ctx context.Context, tenantID string, kind Kind, limit int) ([]Entry, error) {
	rows, err := s.db.RecentMemories(ctx, tenantID, string(kind), limit)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r, s.logger))
	}
	return out, nil
}

// Reindex replays every stored entry of tenantID into the index.
func (s *Store) Reindex(ctx context.Context, tenantID string) (int, error) {
	rows, err := s.db.AllMemories(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	for _, r := range rows {
		if err := s.index.Add(ctx, fromRow(r, s.logger)); err != nil {
			return 0, fmt.Errorf("indexing %s: %w", r.ID, err)
		}
	}
	return len(rows), nil
}

func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	if s.opts.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.EmbedTimeout)
		defer cancel()
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbed, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrEmbed)
	}
	return vec, nil
}

func (s *Store) hydrate(ctx context.Context, tenantID string, matches []Match) ([]Result, error) {
	if len(matches) == 0 {
		return nil, nil
	}
	ids := make([]string, len(matches))
	scores := make(map[string]float32, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
		scores[m.ID] = m.Score
	}
	rows, err := s.db.GetMemories(ctx, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("loading matches: %w", err)
	}
	results := make([]Result, 0, len(rows))
	for _, r := range rows {
		results = append(results, Result{Entry: fromRow(r, s.logger), Score: scores[r.ID]})
	}
	sort.Slice(results, func(i, j int) bool {
		return ranksBefore(rankKey(results[i]), rankKey(results[j]))
	})
	return results, nil
}

func fromRow(r storage.MemoryEntry, logger *slog.Logger) Entry {
	e := Entry{
		ID:         r.ID,
		TenantID:   r.TenantID,
		Kind:       Kind(r.Kind),
		Text:       r.Text,
		Embedding:  r.Embedding,
		Importance: r.Importance,
		CreatedAt:  r.CreatedAt,
	}
	if r.MetadataJSON != "" && r.MetadataJSON != "{}" {
		if err := json.Unmarshal([]byte(r.MetadataJSON), &e.Metadata); err != nil {
			logger.Warn("memory: unreadable metadata", "id", r.ID, "error", err)
		}
	}
	return e
}

func clampImportance(v int) int {
	switch {
	case v == 0:
		return defaultImportance
	case v < minImportance:
		return minImportance
	case v > maxImportance:
		return maxImportance
	}
	return v
}
