package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codetix2020-hash/marketingdios-sub000/internal/engine"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/jobs"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/memory"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/storage"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/usage"
)

const fullPlan = "```json\n" + `{
  "contentPlan": [
    {"type": "reel", "topic": "Behind the roast", "platform": "Instagram", "hook": "3am in the roastery"},
    {"topic": "", "platform": "tiktok"},
    {"topic": "Brew guide", "platform": "blog"}
  ],
  "optimizations": [{"campaignId": "c1", "action": "shift budget to reels"}, {"action": ""}],
  "experiments": [{"hypothesis": "Question hooks beat statements", "variants": ["A", "B"]}],
  "learningsToApply": ["post earlier", 42],
  "reasoning": "Reels outperform."
}` + "\n```"

type fixture struct {
	db      *storage.Store
	mem     *memory.Store
	guard   *usage.Guard
	queue   *jobs.Queue
	orch    *Orchestrator
	mu      sync.Mutex
	prompts []string
	respond func(prompt string) (string, error)
}

func newFixture(t *testing.T, plan string) *fixture {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.SaveTenant(context.Background(), storage.Tenant{ID: "t1", Name: "Bean There", Plan: "starter"}))

	f := &fixture{db: db}
	f.respond = func(string) (string, error) { return plan, nil }
	embedder := engine.EmbedderFunc(func(ctx context.Context, text string) ([]float32, error) {
		return []float32{float32(len(text)%7) + 1, 1}, nil
	})
	f.mem = memory.NewStore(db, embedder, nil, memory.Options{})
	f.guard = usage.NewGuard(db, nil, nil)
	f.queue = jobs.NewQueue(db, nil)
	reasoner := engine.ReasonerFunc(func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		f.mu.Lock()
		f.prompts = append(f.prompts, prompt)
		f.mu.Unlock()
		return f.respond(prompt)
	})
	f.orch = New(db, f.mem, f.guard, f.queue, reasoner, Options{})
	return f
}

func (f *fixture) decisions(t *testing.T) []storage.Decision {
	t.Helper()
	ds, err := f.db.ListDecisions(context.Background(), "t1", 10)
	require.NoError(t, err)
	return ds
}

func (f *fixture) pending(t *testing.T) []jobs.Job {
	t.Helper()
	js, err := f.queue.ClaimBatch(context.Background(), "", 100)
	require.NoError(t, err)
	return js
}

func TestNotJSONStillRecordsEmptyDecision(t *testing.T) {
	f := newFixture(t, "not json")

	reports, err := f.orch.RunTenant(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Degraded)

	ds := f.decisions(t)
	require.Len(t, ds, 1)
	assert.NotNil(t, ds[0].ExecutedAt)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(ds[0].RawPlan), &raw))
	assert.JSONEq(t, `[]`, string(raw["contentPlan"]))
	assert.JSONEq(t, `[]`, string(raw["optimizations"]))
	assert.JSONEq(t, `[]`, string(raw["experiments"]))
	assert.JSONEq(t, `[]`, string(raw["learningsToApply"]))

	assert.Empty(t, f.pending(t))
}

func TestCycleDispatchesEveryValidItem(t *testing.T) {
	f := newFixture(t, fullPlan)

	reports, err := f.orch.RunTenant(context.Background(), "t1")
	require.NoError(t, err)
	r := reports[0]
	assert.False(t, r.Degraded)
	assert.Equal(t, DispatchCounts{Content: 2, Optimizations: 1, Experiments: 1}, r.Dispatched)
	assert.Len(t, r.JobIDs, 4)

	kinds := map[jobs.Kind]int{}
	for _, j := range f.pending(t) {
		kinds[j.Kind]++
		if cg, ok := j.Payload.(jobs.ContentGeneration); ok {
			assert.Equal(t, r.DecisionID, cg.DecisionID)
		}
	}
	assert.Equal(t, map[jobs.Kind]int{
		jobs.KindContentGeneration:    2,
		jobs.KindCampaignOptimization: 1,
		jobs.KindExperiment:           1,
	}, kinds)

	ds := f.decisions(t)
	require.Len(t, ds, 1)
	assert.Equal(t, r.DecisionID, ds[0].ID)
	assert.Equal(t, AgentType, ds[0].AgentType)
	assert.Equal(t, "Reels outperform.", ds[0].Reasoning)
	assert.NotNil(t, ds[0].ExecutedAt)
	assert.Contains(t, ds[0].RawPlan, `"dispatched":{"content":2`)
}

func TestContentCappedByQuota(t *testing.T) {
	f := newFixture(t, fullPlan)
	ctx := context.Background()
	require.NoError(t, f.db.SaveTenant(ctx, storage.Tenant{ID: "t1", Name: "Bean There", Plan: "free"}))
	for range 4 {
		require.NoError(t, f.guard.Increment(ctx, "t1", usage.FeatureContent))
	}

	reports, err := f.orch.RunTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, reports[0].Dispatched.Content)
	assert.Equal(t, 1, reports[0].Dispatched.Capped)
	assert.Contains(t, f.prompts[0], "remaining content quota this month: 1")
}

func TestReasoningFailureAbortsWithoutDecision(t *testing.T) {
	f := newFixture(t, "")
	f.respond = func(string) (string, error) { return "", errors.New("upstream 529") }

	reports, err := f.orch.RunTenant(context.Background(), "t1")
	require.Error(t, err)
	assert.Contains(t, reports[0].Error, "upstream 529")
	assert.Empty(t, f.decisions(t))
	assert.Empty(t, f.pending(t))
}

func TestUnknownTenant(t *testing.T) {
	f := newFixture(t, fullPlan)
	_, err := f.orch.RunTenant(context.Background(), "nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUnitsRunIndependently(t *testing.T) {
	f := newFixture(t, fullPlan)
	ctx := context.Background()
	require.NoError(t, f.db.SaveUnit(ctx, storage.Unit{ID: "u1", TenantID: "t1", Name: "Espresso machines"}))
	require.NoError(t, f.db.SaveUnit(ctx, storage.Unit{ID: "u2", TenantID: "t1", Name: "Coffee subscriptions"}))
	f.respond = func(prompt string) (string, error) {
		if strings.Contains(prompt, "Coffee subscriptions") {
			return "", errors.New("timeout")
		}
		return fullPlan, nil
	}

	reports, err := f.orch.RunTenant(ctx, "t1")
	require.Error(t, err)
	require.Len(t, reports, 2)
	assert.Empty(t, reports[0].Error)
	assert.NotEmpty(t, reports[1].Error)

	ds := f.decisions(t)
	require.Len(t, ds, 1)
	assert.Equal(t, "u1", ds[0].UnitID)
}

func TestGatheringFeedsPrompt(t *testing.T) {
	f := newFixture(t, "{}")
	ctx := context.Background()
	_, err := f.mem.Save(ctx, "t1", memory.KindIdentity, "Small-batch roaster in Lisbon", nil, 9)
	require.NoError(t, err)
	_, err = f.mem.Save(ctx, "t1", memory.KindLearning, "Reels get 3x reach", nil, 6)
	require.NoError(t, err)
	_, err = f.mem.Save(ctx, "t1", memory.KindTrend, "Cold brew searches rising", nil, 5)
	require.NoError(t, err)
	_, err = f.mem.Save(ctx, "other", memory.KindIdentity, "Competitor secret", nil, 10)
	require.NoError(t, err)
	_, err = f.queue.Enqueue(ctx, "t1", jobs.LeadNurturing{Segment: "trial"})
	require.NoError(t, err)
	require.NoError(t, f.db.SaveCampaign(ctx, storage.Campaign{ID: "c1", TenantID: "t1", Name: "Spring", Status: storage.CampaignActive}))

	_, err = f.orch.RunTenant(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, f.prompts, 1)
	p := f.prompts[0]
	assert.Contains(t, p, "Small-batch roaster in Lisbon")
	assert.Contains(t, p, "Reels get 3x reach")
	assert.Contains(t, p, "Cold brew searches rising")
	assert.Contains(t, p, "jobs in flight: 1")
	assert.Contains(t, p, "active campaigns: 1")
	assert.NotContains(t, p, "Competitor secret")
}

func TestGatheringFallsBackWhenEmbeddingFails(t *testing.T) {
	f := newFixture(t, "{}")
	ctx := context.Background()
	_, err := f.mem.Save(ctx, "t1", memory.KindIdentity, "Roaster since 2009", nil, 5)
	require.NoError(t, err)

	broken := engine.EmbedderFunc(func(context.Context, string) ([]float32, error) {
		return nil, errors.New("embedder down")
	})
	f.orch.memory = memory.NewStore(f.db, broken, nil, memory.Options{})

	_, err = f.orch.RunTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Contains(t, f.prompts[0], "Roaster since 2009")
}

func TestParsePlanDropsInvalidItems(t *testing.T) {
	p, err := ParsePlan(fullPlan, nil)
	require.NoError(t, err)
	require.Len(t, p.ContentPlan, 2)
	assert.Equal(t, "instagram", p.ContentPlan[0].Platform)
	assert.Equal(t, "post", p.ContentPlan[1].Type)
	assert.Len(t, p.Optimizations, 1)
	assert.Len(t, p.Experiments, 1)
	assert.Equal(t, []string{"post earlier"}, p.LearningsToApply)
}

func TestParsePlanToleratesPriorityShapes(t *testing.T) {
	raw := `{"contentPlan": [
  {"topic": "Cold brew", "platform": "instagram", "priority": "high"},
  {"topic": "Latte art", "platform": "tiktok", "priority": "2"},
  {"topic": "Decaf myths", "platform": "blog", "priority": 3},
  {"topic": "Origins", "platform": "blog", "priority": {"level": 1}}
]}
Note: swap {brand} for the tenant name before posting.`
	p, err := ParsePlan(raw, nil)
	require.NoError(t, err)
	require.Len(t, p.ContentPlan, 4)
	assert.Equal(t, Priority(1), p.ContentPlan[0].Priority)
	assert.Equal(t, Priority(2), p.ContentPlan[1].Priority)
	assert.Equal(t, Priority(3), p.ContentPlan[2].Priority)
	assert.Equal(t, Priority(0), p.ContentPlan[3].Priority)
}

func TestParsePlanRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"not json", "{broken", `{"contentPlan": "nope"}`} {
		p, err := ParsePlan(raw, nil)
		assert.Error(t, err, raw)
		assert.Equal(t, EmptyPlan(), p)
	}
}
