package memory

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/philippgille/chromem-go"
)

var _ Index = (*ChromemIndex)(nil)

// ChromemIndex keeps one chromem-go collection per tenant. SQLite remains the
// source of truth; results are hydrated and re-ordered by Store.
type ChromemIndex struct {
	db *chromem.DB
}

// NewChromemIndex wraps db. Use chromem.NewPersistentDB for durable indexes.
func NewChromemIndex(db *chromem.DB) *ChromemIndex {
	return &ChromemIndex{db: db}
}

// OpenChromemIndex opens a persistent index under dir.
func OpenChromemIndex(dir string) (*ChromemIndex, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("opening chromem db: %w", err)
	}
	return NewChromemIndex(db), nil
}

func collectionName(tenantID string) string {
	return "memory-" + tenantID
}

// precomputed refuses to embed: every document and query carries its vector.
func precomputed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("chromem index requires precomputed embeddings")
}

func (ix *ChromemIndex) Add(ctx context.Context, e Entry) error {
	coll, err := ix.db.GetOrCreateCollection(collectionName(e.TenantID), nil, precomputed)
	if err != nil {
		return fmt.Errorf("opening collection: %w", err)
	}
	return coll.AddDocument(ctx, chromem.Document{
		ID:      e.ID,
		Content: e.Text,
		Metadata: map[string]string{
			"kind":       string(e.Kind),
			"importance": strconv.Itoa(e.Importance),
			"created_at": e.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
		Embedding: e.Embedding,
	})
}

func (ix *ChromemIndex) Nearest(ctx context.Context, tenantID string, kind Kind, vector []float32, limit int) ([]Match, error) {
	coll := ix.db.GetCollection(collectionName(tenantID), precomputed)
	if coll == nil || limit <= 0 {
		return nil, nil
	}

	// Over-fetch so equal-similarity neighbors at the cut can be re-ordered
	// by importance and recency.
	count := coll.Count()
	n := min(limit*2, count)
	if n == 0 {
		return nil, nil
	}

	var where map[string]string
	if kind != "" {
		where = map[string]string{"kind": string(kind)}
	}
	res, err := coll.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}
	// The tie at the cut may run past the fetch window; chromem picks an
	// arbitrary subset of equal scores, so take every candidate instead.
	if len(res) == n && n < count && len(res) >= limit &&
		res[len(res)-1].Similarity == res[limit-1].Similarity {
		res, err = coll.QueryEmbedding(ctx, vector, count, where, nil)
		if err != nil {
			return nil, fmt.Errorf("querying collection: %w", err)
		}
	}
	out := make([]Match, len(res))
	for i, r := range res {
		out[i] = Match{ID: r.ID, Score: r.Similarity}
	}
	return out, nil
}
