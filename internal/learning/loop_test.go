package learning

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codetix2020-hash/marketingdios-sub000/internal/engine"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/memory"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/storage"
)

const insightResponse = "Sure! ```json\n" + `{
  "insights": ["Reels convert best", " "],
  "trends": ["Cold brew interest rising"],
  "recommendations": [
    "Optimize posting time to 8am",
    "Delete underperforming ads",
    "Test question-style hooks",
    "Spend more on paid search"
  ],
  "strategyAdjustments": ["Shift mix toward video"]
}` + "\n```"

type fixture struct {
	db      *storage.Store
	mem     *memory.Store
	loop    *Loop
	calls   int
	prompts []string
	respond func() (string, error)
}

func newFixture(t *testing.T, autoApply bool) *fixture {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{db: db}
	f.respond = func() (string, error) { return insightResponse, nil }
	f.mem = memory.NewStore(db, engine.EmbedderFunc(func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1, float32(len(text))}, nil
	}), nil, memory.Options{})
	f.loop = New(db, f.mem, engine.ReasonerFunc(func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		f.calls++
		f.prompts = append(f.prompts, prompt)
		return f.respond()
	}), Options{AutoApply: autoApply})
	return f
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	at := time.Now().Add(-time.Hour)
	require.NoError(t, f.db.SaveContent(ctx, storage.Content{ID: "c1", TenantID: "t1", Kind: "reel", Status: storage.ContentPublished, CreatedAt: at}))
	require.NoError(t, f.db.SaveContent(ctx, storage.Content{ID: "c2", TenantID: "t1", Kind: "reel", Status: storage.ContentDraft, CreatedAt: at}))
	require.NoError(t, f.db.SaveContent(ctx, storage.Content{ID: "c3", TenantID: "t1", Kind: "post", Status: storage.ContentDraft, CreatedAt: at}))
	require.NoError(t, f.db.SaveCampaign(ctx, storage.Campaign{ID: "k1", TenantID: "t1", Name: "Spring", Status: storage.CampaignActive, CreatedAt: at}))
	require.NoError(t, f.db.SaveKPI(ctx, storage.KPIRecord{ID: "m1", TenantID: "t1", Metric: "ctr", Value: 0.04, RecordedAt: at}))
	// Outside the window.
	require.NoError(t, f.db.SaveContent(ctx, storage.Content{ID: "old", TenantID: "t1", Kind: "email", Status: storage.ContentDraft, CreatedAt: time.Now().Add(-48 * time.Hour)}))
}

func TestEmptyWindowRecordsWithoutReasoning(t *testing.T) {
	f := newFixture(t, true)

	report, err := f.loop.Run(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.False(t, report.Applied)
	assert.Zero(t, f.calls)

	recs, err := f.db.RecentLearningRecords(context.Background(), "t1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Applied)
	assert.JSONEq(t, `{"insights":[],"trends":[],"recommendations":[],"strategyAdjustments":[],"applied":[]}`, recs[0].InsightsJSON)

	var p Patterns
	require.NoError(t, json.Unmarshal([]byte(recs[0].PatternsJSON), &p))
	assert.Zero(t, p.Records)
	assert.Empty(t, p.ContentByKind)
}

func TestRunWritesRecordMemoryAndApplies(t *testing.T) {
	f := newFixture(t, true)
	f.seed(t)
	ctx := context.Background()

	report, err := f.loop.Run(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, report.Degraded)
	assert.True(t, report.Applied)
	assert.Equal(t, []string{"Reels convert best"}, report.Insights.Insights)
	assert.Equal(t, []string{"Optimize posting time to 8am", "Test question-style hooks"}, report.Insights.Applied)

	assert.Equal(t, 3, report.Patterns.ContentTotal)
	assert.Equal(t, "reel", report.Patterns.TopContentKind)
	assert.InDelta(t, 1.0/3, report.Patterns.PublicationRate, 1e-9)
	assert.Equal(t, 1.0, report.Patterns.ActiveCampaignRate)
	assert.Equal(t, "ctr", report.Patterns.TopMetric)

	recs, err := f.db.RecentLearningRecords(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Applied)

	learnings, err := f.mem.Recent(ctx, "t1", memory.KindLearning, 10)
	require.NoError(t, err)
	assert.Len(t, learnings, 3)
	trends, err := f.mem.Recent(ctx, "t1", memory.KindTrend, 10)
	require.NoError(t, err)
	require.Len(t, trends, 1)
	assert.Equal(t, report.RecordID, trends[0].Metadata["record_id"])
}

func TestAutoApplyDisabledLeavesRecordAdvisory(t *testing.T) {
	f := newFixture(t, false)
	f.seed(t)

	report, err := f.loop.Run(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, report.Applied)
	assert.Empty(t, report.Insights.Applied)
	assert.Len(t, report.Insights.Recommendations, 4)
}

func TestMalformedResponseDegrades(t *testing.T) {
	f := newFixture(t, true)
	f.seed(t)
	f.respond = func() (string, error) { return "I think things are going well!", nil }

	report, err := f.loop.Run(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, report.Degraded)
	assert.False(t, report.Applied)
	assert.Equal(t, EmptyInsights(), report.Insights)

	recs, err := f.db.RecentLearningRecords(context.Background(), "t1", 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestReasoningFailureWritesNothing(t *testing.T) {
	f := newFixture(t, true)
	f.seed(t)
	f.respond = func() (string, error) { return "", errors.New("rate limited") }

	_, err := f.loop.Run(context.Background(), "t1")
	require.Error(t, err)

	recs, err := f.db.RecentLearningRecords(context.Background(), "t1", 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestPriorInsightsReachPrompt(t *testing.T) {
	f := newFixture(t, false)
	f.seed(t)
	ctx := context.Background()

	_, err := f.loop.Run(ctx, "t1")
	require.NoError(t, err)
	_, err = f.loop.Run(ctx, "t1")
	require.NoError(t, err)

	require.Len(t, f.prompts, 2)
	assert.NotContains(t, f.prompts[0], "[Earlier Insights]")
	assert.Contains(t, f.prompts[1], "- Reels convert best")
}

func TestLowRisk(t *testing.T) {
	tests := []struct {
		rec  string
		want bool
	}{
		{"Optimize send times", true},
		{"Adjust hashtags on reels", true},
		{"A/B test subject lines", true},
		{"Improve CTA clarity", true},
		{"Delete the spring campaign", false},
		{"Spend more on ads to optimize reach", false},
		{"Increase budget and refine targeting", false},
		{"Pause all campaigns", false},
		{"Post more often", false},
		{"Review the latest numbers", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LowRisk(tt.rec), tt.rec)
	}
}

func TestAggregateEmpty(t *testing.T) {
	p := Aggregate(nil, nil, nil)
	assert.Zero(t, p.Records)
	assert.Zero(t, p.PublicationRate)
	assert.Empty(t, p.TopContentKind)
}

func TestParseInsightsIgnoresBracesAfterObject(t *testing.T) {
	raw := "```json\n" + `{"insights": ["Reels drive saves"], "recommendations": [" optimize posting time "]}` +
		"\n```\nRemember to replace {brand} before publishing."
	in, err := ParseInsights(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"Reels drive saves"}, in.Insights)
	assert.Equal(t, []string{"optimize posting time"}, in.Recommendations)
	assert.Empty(t, in.Trends)
}
