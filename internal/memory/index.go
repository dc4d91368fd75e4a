package memory

import (
	"container/heap"
	"context"
	"math"
	"time"

	"github.com/codetix2020-hash/marketingdios-sub000/internal/storage"
)

// Index ranks a tenant's entries against a query vector. Implementations may
// return more than limit matches; Store trims after applying the final order.
type Index interface {
	// Add makes a persisted entry searchable.
	Add(ctx context.Context, e Entry) error

	// Nearest returns the best matches for vector within tenantID, narrowed to
	// kind when kind is non-empty.
	Nearest(ctx context.Context, tenantID string, kind Kind, vector []float32, limit int) ([]Match, error)
}

// Match is one ranked candidate.
type Match struct {
	ID    string
	Score float32
}

type rank struct {
	id         string
	score      float32
	importance int
	createdAt  time.Time
}

func rankKey(r Result) rank {
	return rank{id: r.ID, score: r.Score, importance: r.Importance, createdAt: r.CreatedAt}
}

// ranksBefore orders by score, then importance, then recency, all descending.
// The id comparison makes the order total so repeated searches agree.
func ranksBefore(a, b rank) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.importance != b.importance {
		return a.importance > b.importance
	}
	if !a.createdAt.Equal(b.createdAt) {
		return a.createdAt.After(b.createdAt)
	}
	return a.id < b.id
}

var _ Index = (*SQLiteIndex)(nil)

// SQLiteIndex scans every embedding of the tenant and keeps the best limit
// candidates in a heap. Corpora are expected to be hundreds to low thousands
// of entries per tenant; ChromemIndex is the indexed alternative.
type SQLiteIndex struct {
	db *storage.Store
}

func NewSQLiteIndex(db *storage.Store) *SQLiteIndex {
	return &SQLiteIndex{db: db}
}

// Add is a no-op: the row written by Store.Save is the index.
func (ix *SQLiteIndex) Add(context.Context, Entry) error { return nil }

func (ix *SQLiteIndex) Nearest(ctx context.Context, tenantID string, kind Kind, vector []float32, limit int) ([]Match, error) {
	queryNorm := norm(vector)
	if queryNorm == 0 || limit <= 0 {
		return nil, nil
	}

	h := &rankHeap{}
	err := ix.db.ScanMemoryVectors(ctx, tenantID, string(kind), func(v storage.MemoryVector) error {
		r := rank{id: v.ID, score: cosine(vector, v.Embedding, queryNorm), importance: v.Importance, createdAt: v.CreatedAt}
		if h.Len() < limit {
			heap.Push(h, r)
		} else if ranksBefore(r, (*h)[0]) {
			(*h)[0] = r
			heap.Fix(h, 0)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]Match, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		r := heap.Pop(h).(rank)
		out[i] = Match{ID: r.id, Score: r.score}
	}
	return out, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * |b|). Mismatched dimensions score 0.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	if bNormSq == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * math.Sqrt(bNormSq)))
}

// rankHeap keeps the worst-ranked candidate at the root.
type rankHeap []rank

func (h rankHeap) Len() int            { return len(h) }
func (h rankHeap) Less(i, j int) bool  { return ranksBefore(h[j], h[i]) }
func (h rankHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *rankHeap) Push(x interface{}) { *h = append(*h, x.(rank)) }
func (h *rankHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
