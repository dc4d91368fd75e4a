// Package usage enforces per-tenant monthly quotas per feature.
//
// Check and Increment are deliberately separate calls: two concurrent callers
// may both pass Check and then both Increment, overshooting the limit by at
// most the number of concurrent callers minus one. Reserve is the
// single-statement alternative for deployments that need a hard cap.
package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codetix2020-hash/marketingdios-sub000/internal/metrics"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/storage"
)

// Feature categories that carry a quota.
const (
	FeatureContent  = "content"
	FeatureImage    = "image"
	FeatureVoice    = "voice"
	FeatureCampaign = "campaign"
)

// Unlimited marks a quota without a ceiling.
const Unlimited = -1

var (
	ErrUnknownPlan   = errors.New("unknown plan")
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrUnknownTenant = errors.New("unknown tenant")
)

// Plans maps plan name to per-feature monthly limits.
var Plans = map[string]map[string]int{
	"free":      {FeatureContent: 5, FeatureImage: 2, FeatureVoice: 0, FeatureCampaign: 1},
	"starter":   {FeatureContent: 50, FeatureImage: 20, FeatureVoice: 5, FeatureCampaign: 5},
	"pro":       {FeatureContent: 300, FeatureImage: 100, FeatureVoice: 30, FeatureCampaign: 25},
	"unlimited": nil,
}

// Verdict is the answer to a quota check. Remaining is Unlimited when the
// plan has no ceiling.
type Verdict struct {
	Allowed   bool   `json:"allowed"`
	Remaining int    `json:"remaining"`
	Unlimited bool   `json:"unlimited"`
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Reason    string `json:"reason,omitempty"`
}

// Guard checks and records feature usage.
type Guard struct {
	db      *storage.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewGuard(db *storage.Store, m *metrics.Metrics, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{db: db, metrics: m, logger: logger, now: time.Now}
}

// Limit returns the monthly limit of feature on plan. unlimited is true for
// plans without ceilings. A feature the plan does not list has limit 0.
func Limit(plan, feature string) (limit int, unlimited bool, err error) {
	limits, ok := Plans[plan]
	if !ok {
		return 0, false, fmt.Errorf("%w: %q", ErrUnknownPlan, plan)
	}
	if limits == nil {
		return Unlimited, true, nil
	}
	return limits[feature], false, nil
}

// Check reports whether tenantID may use feature in the current month.
// A denial is a Verdict, not an error.
func (g *Guard) Check(ctx context.Context, tenantID, feature string) (Verdict, error) {
	limit, unlimited, err := g.limitFor(ctx, tenantID, feature)
	if err != nil {
		return Verdict{}, err
	}
	if unlimited {
		return Verdict{Allowed: true, Remaining: Unlimited, Unlimited: true, Limit: Unlimited}, nil
	}

	used, err := g.db.UsageCount(ctx, tenantID, feature, g.now())
	if err != nil {
		return Verdict{}, fmt.Errorf("reading usage: %w", err)
	}
	v := Verdict{Used: used, Limit: limit, Remaining: max(limit-used, 0)}
	v.Allowed = v.Remaining > 0
	if !v.Allowed {
		v.Reason = denialReason(feature, limit)
		g.metrics.UsageDenied(feature)
	}
	return v, nil
}

// Increment records one successful use of feature. Call it only after the
// gated action has succeeded.
func (g *Guard) Increment(ctx context.Context, tenantID, feature string) error {
	n, err := g.db.IncrementUsage(ctx, tenantID, feature, g.now())
	if err != nil {
		return fmt.Errorf("incrementing usage: %w", err)
	}
	g.logger.Debug("usage incremented", "tenant_id", tenantID, "feature", feature, "count", n)
	return nil
}

// Reserve atomically consumes one unit of feature if any remains, returning
// ErrQuotaExceeded otherwise. Unlike Increment it charges before the action,
// so callers that fail afterwards have spent the unit. Counters are never
// decremented.
func (g *Guard) Reserve(ctx context.Context, tenantID, feature string) (Verdict, error) {
	limit, unlimited, err := g.limitFor(ctx, tenantID, feature)
	if err != nil {
		return Verdict{}, err
	}
	if unlimited {
		if err := g.Increment(ctx, tenantID, feature); err != nil {
			return Verdict{}, err
		}
		return Verdict{Allowed: true, Remaining: Unlimited, Unlimited: true, Limit: Unlimited}, nil
	}

	n, ok, err := g.db.IncrementUsageBelow(ctx, tenantID, feature, limit, g.now())
	if err != nil {
		return Verdict{}, fmt.Errorf("reserving usage: %w", err)
	}
	if !ok {
		g.metrics.UsageDenied(feature)
		return Verdict{Used: limit, Limit: limit, Reason: denialReason(feature, limit)}, ErrQuotaExceeded
	}
	return Verdict{Allowed: true, Used: n, Limit: limit, Remaining: limit - n}, nil
}

func (g *Guard) limitFor(ctx context.Context, tenantID, feature string) (int, bool, error) {
	t, err := g.db.GetTenant(ctx, tenantID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, fmt.Errorf("%w: %s", ErrUnknownTenant, tenantID)
	}
	if err != nil {
		return 0, false, fmt.Errorf("loading tenant: %w", err)
	}
	return Limit(t.Plan, feature)
}

func denialReason(feature string, limit int) string {
	if limit == 0 {
		return fmt.Sprintf("%s is not included in your plan", feature)
	}
	return fmt.Sprintf("monthly %s limit of %d reached; upgrade your plan or wait for the next period", feature, limit)
}
