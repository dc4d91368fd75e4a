package learning

import (
	"sort"

	"github.com/codetix2020-hash/marketingdios-sub000/internal/storage"
)

// Patterns are the aggregates computed over one window of outcome records.
type Patterns struct {
	Records            int            `json:"records"`
	ContentTotal       int            `json:"contentTotal"`
	ContentByKind      map[string]int `json:"contentByKind"`
	TopContentKind     string         `json:"topContentKind,omitempty"`
	Published          int            `json:"published"`
	PublicationRate    float64        `json:"publicationRate"`
	CampaignTotal      int            `json:"campaignTotal"`
	ActiveCampaigns    int            `json:"activeCampaigns"`
	ActiveCampaignRate float64        `json:"activeCampaignRate"`
	KPITotal           int            `json:"kpiTotal"`
	MetricCounts       map[string]int `json:"metricCounts"`
	TopMetric          string         `json:"topMetric,omitempty"`
}

// Aggregate computes Patterns. Rates are zero when their denominator is.
func Aggregate(contents []storage.Content, campaigns []storage.Campaign, kpis []storage.KPIRecord) Patterns {
	p := Patterns{
		ContentTotal:  len(contents),
		CampaignTotal: len(campaigns),
		KPITotal:      len(kpis),
		ContentByKind: map[string]int{},
		MetricCounts:  map[string]int{},
	}
	p.Records = p.ContentTotal + p.CampaignTotal + p.KPITotal

	for _, c := range contents {
		p.ContentByKind[c.Kind]++
		if c.Status == storage.ContentPublished {
			p.Published++
		}
	}
	for _, c := range campaigns {
		if c.Status == storage.CampaignActive {
			p.ActiveCampaigns++
		}
	}
	for _, k := range kpis {
		p.MetricCounts[k.Metric]++
	}

	p.TopContentKind = top(p.ContentByKind)
	p.TopMetric = top(p.MetricCounts)
	if p.ContentTotal > 0 {
		p.PublicationRate = float64(p.Published) / float64(p.ContentTotal)
	}
	if p.CampaignTotal > 0 {
		p.ActiveCampaignRate = float64(p.ActiveCampaigns) / float64(p.CampaignTotal)
	}
	return p
}

// top returns the key with the highest count, the smallest key on ties.
func top(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	best, bestN := "", 0
	for _, k := range keys {
		if counts[k] > bestN {
			best, bestN = k, counts[k]
		}
	}
	return best
}
