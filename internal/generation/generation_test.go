package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codetix2020-hash/marketingdios-sub000/internal/engine"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGenerateSavesDraft(t *testing.T) {
	db := openTestStore(t)
	var gotPrompt string
	r := engine.ReasonerFunc(func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		gotPrompt = prompt
		return "  Fresh beans, every Monday.  ", nil
	})
	g := NewGenerator(r, db, 0, time.Second, nil)

	asset, err := g.Generate(context.Background(), Request{
		TenantID: "t1", JobID: "j1", Topic: "weekly roast", Platform: "instagram", Hook: "Smell that?",
	})
	require.NoError(t, err)
	assert.Equal(t, "Fresh beans, every Monday.", asset.Content)
	assert.Equal(t, "post", asset.Metadata["kind"])
	assert.Contains(t, gotPrompt, "weekly roast")
	assert.Contains(t, gotPrompt, "Smell that?")

	n, err := db.CountContents(context.Background(), "t1", storage.ContentDraft)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGenerateRejectsMissingFields(t *testing.T) {
	g := NewGenerator(engine.ReasonerFunc(func(context.Context, string, int) (string, error) {
		t.Fatal("reasoner must not be called")
		return "", nil
	}), openTestStore(t), 0, 0, nil)

	_, err := g.Generate(context.Background(), Request{TenantID: "t1", Platform: "x"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestGenerateFailureWritesNothing(t *testing.T) {
	db := openTestStore(t)
	upstream := errors.New("overloaded")
	g := NewGenerator(engine.ReasonerFunc(func(context.Context, string, int) (string, error) {
		return "", upstream
	}), db, 0, 0, nil)

	_, err := g.Generate(context.Background(), Request{TenantID: "t1", Topic: "a", Platform: "b"})
	require.ErrorIs(t, err, upstream)

	n, err := db.CountContents(context.Background(), "t1", storage.ContentDraft)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGenerateEmptyResponse(t *testing.T) {
	g := NewGenerator(engine.ReasonerFunc(func(context.Context, string, int) (string, error) {
		return " \n", nil
	}), openTestStore(t), 0, 0, nil)

	_, err := g.Generate(context.Background(), Request{TenantID: "t1", Topic: "a", Platform: "b"})
	assert.ErrorIs(t, err, engine.ErrEmptyResponse)
}
