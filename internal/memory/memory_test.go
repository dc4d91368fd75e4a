package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codetix2020-hash/marketingdios-sub000/internal/engine"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/storage"
)

// fakeEmbedder returns fixed vectors per text and counts calls.
type fakeEmbedder struct {
	vectors map[string][]float32
	calls   atomic.Int32
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func openDB(t *testing.T) *storage.Store {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// stepClock returns strictly increasing times so creation order is explicit.
func stepClock() func() time.Time {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var n int64
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

type backend struct {
	name  string
	index func(db *storage.Store) Index
}

var backends = []backend{
	{"sqlite", func(db *storage.Store) Index { return NewSQLiteIndex(db) }},
	{"chromem", func(*storage.Store) Index { return NewChromemIndex(chromem.NewDB()) }},
}

func newStore(t *testing.T, b backend, emb engine.Embedder) *Store {
	t.Helper()
	db := openDB(t)
	s := NewStore(db, emb, b.index(db), Options{})
	s.now = stepClock()
	return s
}

func TestSearchReturnsClosestEntry(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			emb := &fakeEmbedder{vectors: map[string][]float32{
				"artisan espresso for home baristas": {1, 0, 0},
				"free shipping over $50":             {0, 1, 0},
				"founded in 2019":                    {0, 0, 1},
				"espresso at home":                   {0.9, 0.1, 0},
			}}
			s := newStore(t, b, emb)
			ctx := context.Background()

			top, err := s.Save(ctx, "t1", KindIdentity, "artisan espresso for home baristas", nil, 10)
			require.NoError(t, err)
			_, err = s.Save(ctx, "t1", KindIdentity, "free shipping over $50", nil, 5)
			require.NoError(t, err)
			_, err = s.Save(ctx, "t1", KindIdentity, "founded in 2019", nil, 5)
			require.NoError(t, err)

			got, err := s.Search(ctx, "t1", "espresso at home", KindIdentity, 1)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, top.ID, got[0].ID)
			assert.Equal(t, 10, got[0].Importance)
		})
	}
}

func TestSearchTieBreaksByImportanceThenRecency(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			s := newStore(t, b, &fakeEmbedder{vectors: map[string][]float32{}})
			ctx := context.Background()

			low, _ := s.Save(ctx, "t1", KindLearning, "low", nil, 3)
			olderHigh, _ := s.Save(ctx, "t1", KindLearning, "older high", nil, 8)
			newerHigh, _ := s.Save(ctx, "t1", KindLearning, "newer high", nil, 8)

			got, err := s.Search(ctx, "t1", "anything", KindLearning, 3)
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, []string{newerHigh.ID, olderHigh.ID, low.ID}, []string{got[0].ID, got[1].ID, got[2].ID})
		})
	}
}

func TestSearchIsDeterministic(t *testing.T) {
	s := newStore(t, backends[0], &fakeEmbedder{vectors: map[string][]float32{
		"a": {1, 0, 0}, "b": {0.5, 0.5, 0}, "c": {0, 1, 0}, "d": {0.5, 0.5, 0}, "q": {0.7, 0.3, 0},
	}})
	ctx := context.Background()
	for _, text := range []string{"a", "b", "c", "d"} {
		_, err := s.Save(ctx, "t1", KindTrend, text, nil, 5)
		require.NoError(t, err)
	}

	first, err := s.Search(ctx, "t1", "q", "", 3)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := s.Search(ctx, "t1", "q", "", 3)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSearchTieWiderThanFetchWindow(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			s := newStore(t, b, &fakeEmbedder{})
			ctx := context.Background()

			var want string
			for i := range 8 {
				importance := 1
				if i == 3 {
					importance = 10
				}
				e, err := s.Save(ctx, "t1", KindTrend, fmt.Sprintf("trend %d", i), nil, importance)
				require.NoError(t, err)
				if importance == 10 {
					want = e.ID
				}
			}

			for range 20 {
				got, err := s.Search(ctx, "t1", "anything", KindTrend, 1)
				require.NoError(t, err)
				require.Len(t, got, 1)
				assert.Equal(t, want, got[0].ID)
			}
		})
	}
}

func TestSearchScopesTenantAndKind(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			s := newStore(t, b, &fakeEmbedder{})
			ctx := context.Background()

			_, err := s.Save(ctx, "t1", KindIdentity, "tenant one identity", nil, 5)
			require.NoError(t, err)
			_, err = s.Save(ctx, "t1", KindTrend, "tenant one trend", nil, 5)
			require.NoError(t, err)
			_, err = s.Save(ctx, "t2", KindIdentity, "tenant two identity", nil, 5)
			require.NoError(t, err)

			got, err := s.Search(ctx, "t1", "q", KindIdentity, 10)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "tenant one identity", got[0].Text)

			got, err = s.Search(ctx, "t3", "q", "", 10)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestOneEmbedCallPerOperation(t *testing.T) {
	emb := &fakeEmbedder{}
	s := newStore(t, backends[0], emb)
	ctx := context.Background()

	_, err := s.Save(ctx, "t1", KindTemplate, "hook: did you know", nil, 4)
	require.NoError(t, err)
	assert.EqualValues(t, 1, emb.calls.Load())

	_, err = s.Search(ctx, "t1", "hook", "", 5)
	require.NoError(t, err)
	assert.EqualValues(t, 2, emb.calls.Load())
}

func TestEmbedFailurePropagatesAndWritesNothing(t *testing.T) {
	emb := &fakeEmbedder{err: errors.New("connection refused")}
	db := openDB(t)
	s := NewStore(db, emb, nil, Options{})
	ctx := context.Background()

	_, err := s.Save(ctx, "t1", KindIdentity, "we roast weekly", nil, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbed)

	n, err := db.CountMemories(ctx, "t1")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.Search(ctx, "t1", "roast", "", 5)
	assert.ErrorIs(t, err, ErrEmbed)
}

func TestEmbedTimeoutApplied(t *testing.T) {
	slow := engine.EmbedderFunc(func(ctx context.Context, _ string) ([]float32, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s := NewStore(openDB(t), slow, nil, Options{EmbedTimeout: 20 * time.Millisecond})

	_, err := s.Save(context.Background(), "t1", KindIdentity, "x", nil, 5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrEmbed)
}

func TestSaveValidatesAndClamps(t *testing.T) {
	s := newStore(t, backends[0], &fakeEmbedder{})
	ctx := context.Background()

	_, err := s.Save(ctx, "", KindIdentity, "x", nil, 5)
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = s.Save(ctx, "t1", Kind("gossip"), "x", nil, 5)
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = s.Save(ctx, "t1", KindIdentity, "   ", nil, 5)
	assert.ErrorIs(t, err, ErrInvalid)

	e, err := s.Save(ctx, "t1", KindIdentity, "x", map[string]string{"source": "test"}, 42)
	require.NoError(t, err)
	assert.Equal(t, 10, e.Importance)
	e, err = s.Save(ctx, "t1", KindIdentity, "y", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, e.Importance)
	e, err = s.Save(ctx, "t1", KindIdentity, "z", nil, -3)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Importance)

	got, err := s.Search(ctx, "t1", "x", "", 1)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "test", got[0].Metadata["source"])
}

func TestSearchNonPositiveLimit(t *testing.T) {
	emb := &fakeEmbedder{}
	s := newStore(t, backends[0], emb)
	got, err := s.Search(context.Background(), "t1", "q", "", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, emb.calls.Load())
}

func TestRecentNewestFirst(t *testing.T) {
	s := newStore(t, backends[0], &fakeEmbedder{})
	ctx := context.Background()
	for _, txt := range []string{"trend 1", "trend 2", "trend 3"} {
		_, err := s.Save(ctx, "t1", KindTrend, txt, nil, 5)
		require.NoError(t, err)
	}
	got, err := s.Recent(ctx, "t1", KindTrend, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "trend 3", got[0].Text)
	assert.Equal(t, "trend 2", got[1].Text)
}

func TestReindexRebuildsChromem(t *testing.T) {
	db := openDB(t)
	emb := &fakeEmbedder{vectors: map[string][]float32{"a": {1, 0, 0}, "q": {1, 0, 0}}}
	ctx := context.Background()

	// Write through the SQLite index, then search through a fresh chromem index.
	_, err := NewStore(db, emb, nil, Options{}).Save(ctx, "t1", KindIdentity, "a", nil, 5)
	require.NoError(t, err)

	s := NewStore(db, emb, NewChromemIndex(chromem.NewDB()), Options{})
	got, err := s.Search(ctx, "t1", "q", "", 1)
	require.NoError(t, err)
	assert.Empty(t, got)

	n, err := s.Reindex(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = s.Search(ctx, "t1", "q", "", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Text)
}

func TestSplitParagraphs(t *testing.T) {
	text := "First  paragraph\nstill first.\n\n\nSecond one.\r\n\r\n   \n\nthree four five six"
	got := SplitParagraphs(text, 1000)
	assert.Equal(t, []string{"First paragraph still first.", "Second one.", "three four five six"}, got)

	got = SplitParagraphs("three four five six", 10)
	assert.Equal(t, []string{"three four", "five six"}, got)
}

func TestHTMLText(t *testing.T) {
	doc := `<html><head><style>p{color:red}</style><script>var x=1</script></head>
<body><h1>Bean Co</h1><p>We roast <b>small</b> batches.</p><p>Shipped weekly.</p></body></html>`
	text, err := HTMLText(strings.NewReader(doc))
	require.NoError(t, err)
	assert.NotContains(t, text, "color:red")
	assert.NotContains(t, text, "var x")

	paras := SplitParagraphs(text, 1000)
	assert.Equal(t, []string{"Bean Co", "We roast small batches.", "Shipped weekly."}, paras)
}


func TestExtractTextByExtension(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "brand.txt")
	require.NoError(t, os.WriteFile(txt, []byte("Voice: warm and direct.\n\nAudience: home baristas."), 0o644))
	page := filepath.Join(dir, "about.HTML")
	require.NoError(t, os.WriteFile(page, []byte("<p>Roasted in <i>Lisbon</i>.</p>"), 0o644))

	text, err := ExtractText(txt)
	require.NoError(t, err)
	assert.Equal(t, []string{"Voice: warm and direct.", "Audience: home baristas."}, SplitParagraphs(text, MaxPassage))

	text, err = ExtractText(page)
	require.NoError(t, err)
	assert.Equal(t, []string{"Roasted in Lisbon."}, SplitParagraphs(text, MaxPassage))

	_, err = ExtractText(filepath.Join(dir, "missing.pdf"))
	assert.Error(t, err)
}
