// Package orchestrator runs the periodic decide-and-dispatch cycle.
//
// One cycle runs per tenant, or per unit when the tenant has units. A cycle
// gathers context, asks the reasoning engine for a plan, records the plan as
// a Decision and enqueues one job per plan item. A reasoning failure aborts
// only that cycle; the next scheduled run is the retry.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/codetix2020-hash/marketingdios-sub000/internal/engine"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/jobs"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/memory"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/metrics"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/storage"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/usage"
)

// AgentType is recorded on every Decision this package writes.
const AgentType = "orchestrator"

const (
	identityLimit       = 3
	learningLimit       = 5
	defaultTrendLimit   = 5
	defaultMaxTokens    = 2048
	defaultTimeout      = 90 * time.Second
	defaultUnitParallel = 4

	identityQuery = "brand identity, audience, voice and products"
	learningQuery = "what worked and what did not in recent marketing"
)

// PendingSummary counts work already in progress for a tenant.
type PendingSummary struct {
	InFlightJobs    int `json:"inFlightJobs"`
	DraftContent    int `json:"draftContent"`
	ActiveCampaigns int `json:"activeCampaigns"`
}

// CycleContext is everything the Deciding step sees. It is stored verbatim
// as the Decision's context snapshot.
type CycleContext struct {
	UnitName         string         `json:"unitName,omitempty"`
	Identity         []string       `json:"identity"`
	Learnings        []string       `json:"learnings"`
	Trends           []string       `json:"trends"`
	Pending          PendingSummary `json:"pending"`
	ContentRemaining int            `json:"contentRemaining"`
	ContentUnlimited bool           `json:"contentUnlimited"`
}

// DispatchCounts reports how many jobs of each kind a cycle enqueued.
type DispatchCounts struct {
	Content       int `json:"content"`
	Optimizations int `json:"optimizations"`
	Experiments   int `json:"experiments"`
	// Capped is the number of content items dropped for lack of quota.
	Capped int `json:"capped"`
}

// CycleReport is the outcome of one unit's cycle.
type CycleReport struct {
	TenantID   string         `json:"tenantId"`
	UnitID     string         `json:"unitId,omitempty"`
	DecisionID string         `json:"decisionId,omitempty"`
	Degraded   bool           `json:"degraded"`
	Dispatched DispatchCounts `json:"dispatched"`
	JobIDs     []string       `json:"jobIds,omitempty"`
	Error      string         `json:"error,omitempty"`
}

type Options struct {
	TrendLimit   int
	MaxTokens    int
	Timeout      time.Duration
	UnitParallel int
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

type Orchestrator struct {
	db       *storage.Store
	memory   *memory.Store
	guard    *usage.Guard
	queue    *jobs.Queue
	reasoner engine.Reasoner

	trendLimit   int
	maxTokens    int
	timeout      time.Duration
	unitParallel int
	metrics      *metrics.Metrics
	logger       *slog.Logger
	now          func() time.Time
}

func New(db *storage.Store, mem *memory.Store, guard *usage.Guard, queue *jobs.Queue, reasoner engine.Reasoner, opts Options) *Orchestrator {
	o := &Orchestrator{
		db:           db,
		memory:       mem,
		guard:        guard,
		queue:        queue,
		reasoner:     reasoner,
		trendLimit:   opts.TrendLimit,
		maxTokens:    opts.MaxTokens,
		timeout:      opts.Timeout,
		unitParallel: opts.UnitParallel,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		now:          time.Now,
	}
	if o.trendLimit <= 0 {
		o.trendLimit = defaultTrendLimit
	}
	if o.maxTokens <= 0 {
		o.maxTokens = defaultMaxTokens
	}
	if o.timeout <= 0 {
		o.timeout = defaultTimeout
	}
	if o.unitParallel <= 0 {
		o.unitParallel = defaultUnitParallel
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// RunTenant runs one cycle for every unit of tenantID concurrently, or a
// single tenant-wide cycle when it has no units. A failing unit does not stop
// the others; the returned error joins every unit failure.
func (o *Orchestrator) RunTenant(ctx context.Context, tenantID string) ([]CycleReport, error) {
	if _, err := o.db.GetTenant(ctx, tenantID); err != nil {
		return nil, fmt.Errorf("loading tenant %s: %w", tenantID, err)
	}
	units, err := o.db.ListUnits(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing units: %w", err)
	}
	if len(units) == 0 {
		units = []storage.Unit{{TenantID: tenantID}}
	}

	reports := make([]CycleReport, len(units))
	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.unitParallel)
	for i, u := range units {
		g.Go(func() error {
			r, err := o.RunUnit(gctx, u)
			if err != nil {
				r.Error = err.Error()
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			reports[i] = r
			return nil
		})
	}
	_ = g.Wait()
	return reports, errors.Join(errs...)
}

// RunUnit executes one Gathering, Deciding, Dispatching pass. unit.ID is empty
// for a tenant-wide cycle.
func (o *Orchestrator) RunUnit(ctx context.Context, unit storage.Unit) (CycleReport, error) {
	report := CycleReport{TenantID: unit.TenantID, UnitID: unit.ID}
	log := o.logger.With("tenant_id", unit.TenantID, "unit_id", unit.ID)

	cc, err := o.gather(ctx, unit)
	if err != nil {
		o.metrics.CycleFinished("error")
		log.Error("gathering context failed", "error", err)
		return report, fmt.Errorf("gathering: %w", err)
	}

	plan, degraded, err := o.decide(ctx, cc, log)
	if err != nil {
		o.metrics.CycleFinished("error")
		log.Error("reasoning call failed; cycle aborted", "error", err)
		return report, fmt.Errorf("deciding: %w", err)
	}
	report.Degraded = degraded

	if err := o.dispatch(ctx, unit, cc, plan, &report); err != nil {
		o.metrics.CycleFinished("error")
		log.Error("dispatching plan failed", "decision_id", report.DecisionID, "error", err)
		return report, fmt.Errorf("dispatching: %w", err)
	}

	outcome := "ok"
	if degraded {
		outcome = "degraded"
	}
	o.metrics.CycleFinished(outcome)
	log.Info("orchestration cycle finished", "decision_id", report.DecisionID, "content", report.Dispatched.Content,
		"optimizations", report.Dispatched.Optimizations, "experiments", report.Dispatched.Experiments,
		"capped", report.Dispatched.Capped, "degraded", degraded)
	return report, nil
}

func (o *Orchestrator) gather(ctx context.Context, unit storage.Unit) (CycleContext, error) {
	cc := CycleContext{UnitName: unit.Name}
	tenantID := unit.TenantID

	cc.Identity = o.facts(ctx, tenantID, memory.KindIdentity, identityQuery, identityLimit)
	cc.Learnings = o.facts(ctx, tenantID, memory.KindLearning, learningQuery, learningLimit)

	trends, err := o.memory.Recent(ctx, tenantID, memory.KindTrend, o.trendLimit)
	if err != nil {
		return cc, fmt.Errorf("loading trends: %w", err)
	}
	cc.Trends = texts(trends)

	if cc.Pending.InFlightJobs, err = o.queue.InFlight(ctx, tenantID); err != nil {
		return cc, fmt.Errorf("counting jobs: %w", err)
	}
	if cc.Pending.DraftContent, err = o.db.CountContents(ctx, tenantID, storage.ContentDraft); err != nil {
		return cc, fmt.Errorf("counting drafts: %w", err)
	}
	if cc.Pending.ActiveCampaigns, err = o.db.CountCampaigns(ctx, tenantID, storage.CampaignActive); err != nil {
		return cc, fmt.Errorf("counting campaigns: %w", err)
	}

	v, err := o.guard.Check(ctx, tenantID, usage.FeatureContent)
	if err != nil {
		return cc, fmt.Errorf("checking content quota: %w", err)
	}
	cc.ContentUnlimited = v.Unlimited
	cc.ContentRemaining = v.Remaining
	return cc, nil
}

// facts runs a semantic search and falls back to the most recent entries of
// kind when the embedding service is unavailable.
func (o *Orchestrator) facts(ctx context.Context, tenantID string, kind memory.Kind, query string, limit int) []string {
	results, err := o.memory.Search(ctx, tenantID, query, kind, limit)
	if err == nil {
		out := make([]string, 0, len(results))
		for _, r := range results {
			out = append(out, r.Text)
		}
		return out
	}

	o.logger.Warn("memory search failed; using recent entries", "tenant_id", tenantID, "kind", kind, "error", err)
	recent, rerr := o.memory.Recent(ctx, tenantID, kind, limit)
	if rerr != nil {
		o.logger.Error("loading recent memories", "tenant_id", tenantID, "kind", kind, "error", rerr)
		return nil
	}
	return texts(recent)
}

// decide calls the reasoning engine once. A malformed response yields an
// empty plan and degraded=true; only the call itself can fail.
func (o *Orchestrator) decide(ctx context.Context, cc CycleContext, log *slog.Logger) (Plan, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	raw, err := o.reasoner.Complete(ctx, BuildPrompt(cc), o.maxTokens)
	if err != nil {
		return Plan{}, false, err
	}

	plan, err := ParsePlan(raw, log)
	if err != nil {
		o.metrics.ParseFailure("orchestrator")
		log.Warn("unparseable plan; continuing with empty plan", "error", err, "response", engine.Truncate(raw, 512))
		return EmptyPlan(), true, nil
	}
	return plan, false, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, unit storage.Unit, cc CycleContext, plan Plan, report *CycleReport) error {
	if !cc.ContentUnlimited && len(plan.ContentPlan) > cc.ContentRemaining {
		report.Dispatched.Capped = len(plan.ContentPlan) - cc.ContentRemaining
		plan.ContentPlan = plan.ContentPlan[:cc.ContentRemaining]
	}
	report.Dispatched.Content = len(plan.ContentPlan)
	report.Dispatched.Optimizations = len(plan.Optimizations)
	report.Dispatched.Experiments = len(plan.Experiments)

	decisionID := ulid.Make().String()
	report.DecisionID = decisionID

	rawPlan, err := json.Marshal(struct {
		Plan
		Dispatched DispatchCounts `json:"dispatched"`
		Degraded   bool           `json:"degraded"`
	}{plan, report.Dispatched, report.Degraded})
	if err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}
	snapshot, err := json.Marshal(cc)
	if err != nil {
		return fmt.Errorf("encoding context: %w", err)
	}
	if err := o.db.SaveDecision(ctx, storage.Decision{
		ID:          decisionID,
		TenantID:    unit.TenantID,
		UnitID:      unit.ID,
		AgentType:   AgentType,
		RawPlan:     string(rawPlan),
		Reasoning:   plan.Reasoning,
		ContextJSON: string(snapshot),
		CreatedAt:   o.now().UTC(),
	}); err != nil {
		return fmt.Errorf("saving decision: %w", err)
	}

	var payloads []jobs.Payload
	for _, it := range plan.ContentPlan {
		payloads = append(payloads, it.payload(unit.ID, decisionID))
	}
	for _, it := range plan.Optimizations {
		payloads = append(payloads, it.payload(unit.ID, decisionID))
	}
	for _, it := range plan.Experiments {
		payloads = append(payloads, it.payload(unit.ID, decisionID))
	}

	for _, p := range payloads {
		job, err := o.queue.Enqueue(ctx, unit.TenantID, p)
		if err != nil {
			return err
		}
		o.metrics.JobDispatched(string(p.Kind()))
		report.JobIDs = append(report.JobIDs, job.ID)
	}

	if err := o.db.MarkDecisionExecuted(ctx, decisionID, o.now().UTC()); err != nil {
		return fmt.Errorf("stamping decision: %w", err)
	}
	return nil
}

func texts(entries []memory.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Text)
	}
	return out
}
