// Package learning mines recent outcomes into reusable insights.
//
// Each run reads one window of content, campaign and KPI records, aggregates
// them, asks the reasoning engine what they mean and writes one
// LearningRecord. Insights and trends are saved to memory so the next
// orchestration cycle sees them.
package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/codetix2020-hash/marketingdios-sub000/internal/engine"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/memory"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/metrics"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/storage"
)

// EventType is recorded on periodic review records.
const EventType = "periodic_review"

const (
	defaultWindow    = 24 * time.Hour
	defaultMaxTokens = 1500
	defaultTimeout   = 90 * time.Second
	priorRecords     = 3
	priorSample      = 6

	insightImportance = 6
	trendImportance   = 5
	appliedImportance = 8
)

type Options struct {
	Window    time.Duration
	AutoApply bool
	MaxTokens int
	Timeout   time.Duration
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Report is the outcome of one Run.
type Report struct {
	RecordID string   `json:"recordId"`
	TenantID string   `json:"tenantId"`
	Patterns Patterns `json:"patterns"`
	Insights Insights `json:"insights"`
	Applied  bool     `json:"applied"`
	Skipped  bool     `json:"skipped"`
	Degraded bool     `json:"degraded"`
	// MemoryErrors counts insights that could not be saved to memory.
	MemoryErrors int `json:"memoryErrors,omitempty"`
}

type Loop struct {
	db       *storage.Store
	memory   *memory.Store
	reasoner engine.Reasoner
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

func New(db *storage.Store, mem *memory.Store, reasoner engine.Reasoner, opts Options) *Loop {
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{db: db, memory: mem, reasoner: reasoner, opts: opts, logger: logger, now: time.Now}
}

// Run performs one learning pass for tenantID. An empty window still produces
// a record, without calling the reasoning engine. A reasoning failure writes
// nothing and is returned.
func (l *Loop) Run(ctx context.Context, tenantID string) (Report, error) {
	log := l.logger.With("tenant_id", tenantID)
	end := l.now().UTC()
	start := end.Add(-l.opts.Window)
	report := Report{TenantID: tenantID, Insights: EmptyInsights()}

	contents, err := l.db.ContentsSince(ctx, tenantID, start, end)
	if err != nil {
		return report, fmt.Errorf("loading content: %w", err)
	}
	campaigns, err := l.db.CampaignsSince(ctx, tenantID, start, end)
	if err != nil {
		return report, fmt.Errorf("loading campaigns: %w", err)
	}
	kpis, err := l.db.KPIsSince(ctx, tenantID, start, end)
	if err != nil {
		return report, fmt.Errorf("loading kpis: %w", err)
	}
	report.Patterns = Aggregate(contents, campaigns, kpis)

	if report.Patterns.Records == 0 {
		report.Skipped = true
		if err := l.save(ctx, &report, start, end); err != nil {
			l.opts.Metrics.LearningRun("error")
			return report, err
		}
		l.opts.Metrics.LearningRun("empty")
		log.Info("learning window empty", "record_id", report.RecordID)
		return report, nil
	}

	prior, err := l.priorInsights(ctx, tenantID)
	if err != nil {
		log.Warn("loading prior insights", "error", err)
	}

	raw, err := l.complete(ctx, BuildPrompt(report.Patterns, prior))
	if err != nil {
		l.opts.Metrics.LearningRun("error")
		log.Error("reasoning call failed; learning run aborted", "error", err)
		return report, fmt.Errorf("reasoning: %w", err)
	}
	ins, err := ParseInsights(raw)
	if err != nil {
		report.Degraded = true
		l.opts.Metrics.ParseFailure("learning")
		log.Warn("unparseable insights; recording empty result", "error", err, "response", engine.Truncate(raw, 512))
	}
	if l.opts.AutoApply {
		ins.Applied = FilterLowRisk(ins.Recommendations)
	}
	report.Insights = ins

	if err := l.save(ctx, &report, start, end); err != nil {
		l.opts.Metrics.LearningRun("error")
		return report, err
	}

	meta := map[string]string{"source": EventType, "record_id": report.RecordID}
	for _, s := range ins.Insights {
		report.MemoryErrors += l.remember(ctx, tenantID, memory.KindLearning, s, meta, insightImportance)
	}
	for _, s := range ins.Trends {
		report.MemoryErrors += l.remember(ctx, tenantID, memory.KindTrend, s, meta, trendImportance)
	}

	if len(ins.Applied) > 0 {
		appliedMeta := map[string]string{"source": "auto_apply", "record_id": report.RecordID}
		for _, s := range ins.Applied {
			report.MemoryErrors += l.remember(ctx, tenantID, memory.KindLearning, "Applied: "+s, appliedMeta, appliedImportance)
		}
		if err := l.db.MarkLearningApplied(ctx, report.RecordID); err != nil {
			l.opts.Metrics.LearningRun("error")
			return report, fmt.Errorf("marking record applied: %w", err)
		}
		report.Applied = true
	}

	outcome := "ok"
	if report.Degraded {
		outcome = "degraded"
	}
	l.opts.Metrics.LearningRun(outcome)
	log.Info("learning run finished", "record_id", report.RecordID, "insights", len(ins.Insights),
		"recommendations", len(ins.Recommendations), "applied", len(ins.Applied))
	return report, nil
}

func (l *Loop) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()
	return l.reasoner.Complete(ctx, prompt, l.opts.MaxTokens)
}

// save writes the record with applied=false; applying flips it afterwards.
func (l *Loop) save(ctx context.Context, report *Report, start, end time.Time) error {
	patterns, err := json.Marshal(report.Patterns)
	if err != nil {
		return fmt.Errorf("encoding patterns: %w", err)
	}
	insights, err := json.Marshal(report.Insights)
	if err != nil {
		return fmt.Errorf("encoding insights: %w", err)
	}
	rec := storage.LearningRecord{
		ID:           ulid.Make().String(),
		TenantID:     report.TenantID,
		EventType:    EventType,
		WindowStart:  start,
		WindowEnd:    end,
		PatternsJSON: string(patterns),
		InsightsJSON: string(insights),
		CreatedAt:    end,
	}
	if err := l.db.SaveLearningRecord(ctx, rec); err != nil {
		return fmt.Errorf("saving learning record: %w", err)
	}
	report.RecordID = rec.ID
	return nil
}

func (l *Loop) remember(ctx context.Context, tenantID string, kind memory.Kind, text string, meta map[string]string, importance int) int {
	if _, err := l.memory.Save(ctx, tenantID, kind, text, meta, importance); err != nil {
		l.logger.Warn("saving insight to memory", "tenant_id", tenantID, "kind", kind, "error", err)
		return 1
	}
	return 0
}

// priorInsights samples insights from the newest records so the prompt can
// steer away from repeating them.
func (l *Loop) priorInsights(ctx context.Context, tenantID string) ([]string, error) {
	recs, err := l.db.RecentLearningRecords(ctx, tenantID, priorRecords)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, r := range recs {
		var ins Insights
		if err := json.Unmarshal([]byte(r.InsightsJSON), &ins); err != nil {
			continue
		}
		for _, s := range ins.Insights {
			if len(out) == priorSample {
				return out, nil
			}
			out = append(out, s)
		}
	}
	return out, nil
}

const insightInstructions = `You are a marketing analyst. Review the outcome statistics below and explain what they mean for the next cycle.

Your output must be ONLY a single JSON object with this shape. Do not include any other text, prose, or markdown.
{"insights": ["..."], "trends": ["..."], "recommendations": ["..."], "strategyAdjustments": ["..."]}

Rules:
- Each entry is one short sentence.
- Recommendations should be concrete and incremental.
- Do not repeat earlier insights unless the data changed.`

// BuildPrompt renders the insight prompt for p.
func BuildPrompt(p Patterns, prior []string) string {
	var sb strings.Builder
	sb.WriteString(insightInstructions)

	sb.WriteString("\n\n[Outcomes]\n")
	fmt.Fprintf(&sb, "- content created: %d (published %d, publication rate %.0f%%)\n", p.ContentTotal, p.Published, p.PublicationRate*100)
	if p.TopContentKind != "" {
		fmt.Fprintf(&sb, "- most generated content kind: %s\n", p.TopContentKind)
	}
	fmt.Fprintf(&sb, "- campaigns: %d (active rate %.0f%%)\n", p.CampaignTotal, p.ActiveCampaignRate*100)
	fmt.Fprintf(&sb, "- kpi records: %d", p.KPITotal)
	if p.TopMetric != "" {
		fmt.Fprintf(&sb, "\n- most tracked metric: %s", p.TopMetric)
	}

	if len(prior) > 0 {
		sb.WriteString("\n\n[Earlier Insights]")
		for _, s := range prior {
			fmt.Fprintf(&sb, "\n- %s", s)
		}
	}
	return sb.String()
}
