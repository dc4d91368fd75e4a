package jobs

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates job payloads.
type Kind string

const (
	KindContentGeneration    Kind = "content_generation"
	KindCampaignOptimization Kind = "campaign_optimization"
	KindExperiment           Kind = "experiment"
	KindLeadNurturing        Kind = "lead_nurturing"
)

// Payload is the typed body of a job. Each variant reports its own kind.
type Payload interface {
	Kind() Kind
}

// ContentGeneration asks the generation service for one asset.
type ContentGeneration struct {
	UnitID      string `json:"unitId,omitempty"`
	DecisionID  string `json:"decisionId,omitempty"`
	ContentType string `json:"type"`
	Topic       string `json:"topic"`
	Platform    string `json:"platform"`
	Angle       string `json:"angle,omitempty"`
	Hook        string `json:"hook,omitempty"`
	CTA         string `json:"cta,omitempty"`
	Priority    int    `json:"priority,omitempty"`
}

func (ContentGeneration) Kind() Kind { return KindContentGeneration }

// CampaignOptimization adjusts a running campaign.
type CampaignOptimization struct {
	UnitID     string `json:"unitId,omitempty"`
	DecisionID string `json:"decisionId,omitempty"`
	CampaignID string `json:"campaignId,omitempty"`
	Action     string `json:"action"`
	Reason     string `json:"reason,omitempty"`
}

func (CampaignOptimization) Kind() Kind { return KindCampaignOptimization }

// Experiment runs an A/B style test.
type Experiment struct {
	UnitID     string   `json:"unitId,omitempty"`
	DecisionID string   `json:"decisionId,omitempty"`
	Hypothesis string   `json:"hypothesis"`
	Variants   []string `json:"variants,omitempty"`
	Metric     string   `json:"metric,omitempty"`
}

func (Experiment) Kind() Kind { return KindExperiment }

// LeadNurturing follows up with a lead segment.
type LeadNurturing struct {
	UnitID  string `json:"unitId,omitempty"`
	Segment string `json:"segment"`
	Message string `json:"message,omitempty"`
}

func (LeadNurturing) Kind() Kind { return KindLeadNurturing }

// EncodePayload serializes p for storage alongside its kind.
func EncodePayload(p Payload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding %s payload: %w", p.Kind(), err)
	}
	return string(b), nil
}

// DecodePayload rebuilds the typed payload stored under kind.
func DecodePayload(kind Kind, raw string) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindContentGeneration:
		var v ContentGeneration
		err = json.Unmarshal([]byte(raw), &v)
		p = v
	case KindCampaignOptimization:
		var v CampaignOptimization
		err = json.Unmarshal([]byte(raw), &v)
		p = v
	case KindExperiment:
		var v Experiment
		err = json.Unmarshal([]byte(raw), &v)
		p = v
	case KindLeadNurturing:
		var v LeadNurturing
		err = json.Unmarshal([]byte(raw), &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", kind, err)
	}
	return p, nil
}
