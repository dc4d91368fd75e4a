package learning

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/codetix2020-hash/marketingdios-sub000/internal/engine"
)

// Insights is the parsed reasoning output of one run. Applied lists the
// recommendations that passed the auto-apply filter.
type Insights struct {
	Insights            []string `json:"insights"`
	Trends              []string `json:"trends"`
	Recommendations     []string `json:"recommendations"`
	StrategyAdjustments []string `json:"strategyAdjustments"`
	Applied             []string `json:"applied"`
}

func EmptyInsights() Insights {
	return Insights{
		Insights:            []string{},
		Trends:              []string{},
		Recommendations:     []string{},
		StrategyAdjustments: []string{},
		Applied:             []string{},
	}
}

// ParseInsights decodes a reasoning response. On error the returned value is
// EmptyInsights.
func ParseInsights(raw string) (Insights, error) {
	obj, err := engine.ExtractObject(raw)
	if err != nil {
		return EmptyInsights(), err
	}
	var in struct {
		Insights            []string `json:"insights"`
		Trends              []string `json:"trends"`
		Recommendations     []string `json:"recommendations"`
		StrategyAdjustments []string `json:"strategyAdjustments"`
	}
	if err := json.Unmarshal([]byte(obj), &in); err != nil {
		return EmptyInsights(), fmt.Errorf("decoding insights: %w", err)
	}
	out := EmptyInsights()
	out.Insights = clean(in.Insights)
	out.Trends = clean(in.Trends)
	out.Recommendations = clean(in.Recommendations)
	out.StrategyAdjustments = clean(in.StrategyAdjustments)
	return out, nil
}

func clean(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var (
	lowRisk  = regexp.MustCompile(`(?i)\b(optimi[sz]\w*|adjust\w*|refin\w*|tweak\w*|improv\w*|test\w*)\b`)
	highRisk = regexp.MustCompile(`(?i)\b(delet\w*|remov\w*|cancel\w*|spend more|increase (the )?budget|pause all|stop all|double)\b`)
)

// LowRisk reports whether rec reads as an incremental adjustment that may be
// applied without review.
func LowRisk(rec string) bool {
	return lowRisk.MatchString(rec) && !highRisk.MatchString(rec)
}

// FilterLowRisk returns the recommendations LowRisk accepts, in order.
func FilterLowRisk(recs []string) []string {
	out := []string{}
	for _, r := range recs {
		if LowRisk(r) {
			out = append(out, r)
		}
	}
	return out
}
