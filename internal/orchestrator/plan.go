package orchestrator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/codetix2020-hash/marketingdios-sub000/internal/engine"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/jobs"
)

// ActionItem is one piece of content the plan asks for.
type ActionItem struct {
	Type     string   `json:"type"`
	Topic    string   `json:"topic"`
	Platform string   `json:"platform"`
	Angle    string   `json:"angle,omitempty"`
	Hook     string   `json:"hook,omitempty"`
	CTA      string   `json:"cta,omitempty"`
	Priority Priority `json:"priority,omitempty"`
}

// Priority is an item's rank, 1 being the most urgent. Models emit it as a
// number, a numeric string or a word; anything unreadable decodes as 0
// (unranked) instead of failing the item.
type Priority int

var priorityWords = map[string]Priority{
	"urgent": 1, "high": 1,
	"medium": 2, "normal": 2,
	"low": 3,
}

func (p *Priority) UnmarshalJSON(b []byte) error {
	*p = 0
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	switch v := v.(type) {
	case float64:
		*p = Priority(v)
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		if n, err := strconv.Atoi(s); err == nil {
			*p = Priority(n)
		} else {
			*p = priorityWords[s]
		}
	}
	if *p < 0 {
		*p = 0
	}
	return nil
}

type OptimizationItem struct {
	CampaignID string `json:"campaignId,omitempty"`
	Action     string `json:"action"`
	Reason     string `json:"reason,omitempty"`
}

type ExperimentItem struct {
	Hypothesis string   `json:"hypothesis"`
	Variants   []string `json:"variants,omitempty"`
	Metric     string   `json:"metric,omitempty"`
}

// Plan is the validated output of one Deciding step. A zero Plan (all slices
// empty) is valid and dispatches nothing.
type Plan struct {
	ContentPlan      []ActionItem       `json:"contentPlan"`
	Optimizations    []OptimizationItem `json:"optimizations"`
	Experiments      []ExperimentItem   `json:"experiments"`
	LearningsToApply []string           `json:"learningsToApply"`
	Reasoning        string             `json:"reasoning,omitempty"`
}

// EmptyPlan returns a plan whose lists are empty rather than nil, so it
// serializes as [] in Decision records.
func EmptyPlan() Plan {
	return Plan{
		ContentPlan:      []ActionItem{},
		Optimizations:    []OptimizationItem{},
		Experiments:      []ExperimentItem{},
		LearningsToApply: []string{},
	}
}

type rawPlan struct {
	ContentPlan      []json.RawMessage `json:"contentPlan"`
	Optimizations    []json.RawMessage `json:"optimizations"`
	Experiments      []json.RawMessage `json:"experiments"`
	LearningsToApply []json.RawMessage `json:"learningsToApply"`
	Reasoning        string            `json:"reasoning"`
}

// ParsePlan decodes a reasoning response into a Plan. The response may be
// fenced or wrapped in prose. Items that fail validation are dropped one by
// one; only an unreadable document is an error.
func ParsePlan(raw string, logger *slog.Logger) (Plan, error) {
	if logger == nil {
		logger = slog.Default()
	}
	obj, err := engine.ExtractObject(raw)
	if err != nil {
		return EmptyPlan(), err
	}
	var rp rawPlan
	if err := json.Unmarshal([]byte(obj), &rp); err != nil {
		return EmptyPlan(), fmt.Errorf("decoding plan: %w", err)
	}

	p := EmptyPlan()
	p.Reasoning = strings.TrimSpace(rp.Reasoning)
	for _, m := range rp.ContentPlan {
		var it ActionItem
		if err := json.Unmarshal(m, &it); err != nil || it.validate() != nil {
			logger.Warn("dropping invalid content item", "item", engine.Truncate(string(m), 256))
			continue
		}
		p.ContentPlan = append(p.ContentPlan, it.normalize())
	}
	for _, m := range rp.Optimizations {
		var it OptimizationItem
		if err := json.Unmarshal(m, &it); err != nil || strings.TrimSpace(it.Action) == "" {
			logger.Warn("dropping invalid optimization item", "item", engine.Truncate(string(m), 256))
			continue
		}
		p.Optimizations = append(p.Optimizations, it)
	}
	for _, m := range rp.Experiments {
		var it ExperimentItem
		if err := json.Unmarshal(m, &it); err != nil || strings.TrimSpace(it.Hypothesis) == "" {
			logger.Warn("dropping invalid experiment item", "item", engine.Truncate(string(m), 256))
			continue
		}
		p.Experiments = append(p.Experiments, it)
	}
	for _, m := range rp.LearningsToApply {
		var s string
		if err := json.Unmarshal(m, &s); err != nil || strings.TrimSpace(s) == "" {
			continue
		}
		p.LearningsToApply = append(p.LearningsToApply, strings.TrimSpace(s))
	}
	return p, nil
}

func (a ActionItem) validate() error {
	if strings.TrimSpace(a.Topic) == "" {
		return fmt.Errorf("topic is required")
	}
	if strings.TrimSpace(a.Platform) == "" {
		return fmt.Errorf("platform is required")
	}
	return nil
}

func (a ActionItem) normalize() ActionItem {
	a.Topic = strings.TrimSpace(a.Topic)
	a.Platform = strings.ToLower(strings.TrimSpace(a.Platform))
	if a.Type == "" {
		a.Type = "post"
	}
	return a
}

func (a ActionItem) payload(unitID, decisionID string) jobs.Payload {
	return jobs.ContentGeneration{
		UnitID:      unitID,
		DecisionID:  decisionID,
		ContentType: a.Type,
		Topic:       a.Topic,
		Platform:    a.Platform,
		Angle:       a.Angle,
		Hook:        a.Hook,
		CTA:         a.CTA,
		Priority:    int(a.Priority),
	}
}

func (o OptimizationItem) payload(unitID, decisionID string) jobs.Payload {
	return jobs.CampaignOptimization{
		UnitID:     unitID,
		DecisionID: decisionID,
		CampaignID: o.CampaignID,
		Action:     o.Action,
		Reason:     o.Reason,
	}
}

func (e ExperimentItem) payload(unitID, decisionID string) jobs.Payload {
	return jobs.Experiment{
		UnitID:     unitID,
		DecisionID: decisionID,
		Hypothesis: e.Hypothesis,
		Variants:   e.Variants,
		Metric:     e.Metric,
	}
}
