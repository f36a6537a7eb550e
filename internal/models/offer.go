// internal/models/offer.go
package models

import (
	"encoding/json"
	"strings"
)

// Price accepts both JSON strings and numbers, since offer feeds are
// inconsistent about which one they emit.
type Price string

func (p *Price) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*p = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = Price(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*p = Price(n.String())
	return nil
}

func (p Price) String() string {
	return string(p)
}

// Offer source tags assigned by the fetch stage.
const (
	SourceWeb         = "web"
	SourceAIGenerated = "ai-generated"
)

// Offer is a single listing, job, property or product. Identity is ID,
// unique within one request batch only.
type Offer struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       Price  `json:"price"`
	Location    string `json:"location"`
	Category    string `json:"category"`
	URL         string `json:"url,omitempty"`
	Source      string `json:"source,omitempty"`
	Priority    int    `json:"priority,omitempty"`
}

// UserProfile carries the caller's free-text matching criteria.
type UserProfile struct {
	Domain           string `json:"domain"`
	ExplicitCriteria string `json:"explicitCriteria"`
	ImplicitContext  string `json:"implicitContext"`
}

// ScoreBreakdown holds the per-criterion sub-scores, each 0-100.
type ScoreBreakdown struct {
	Relevance int `json:"relevance"`
	Quality   int `json:"quality"`
	Trend     int `json:"trend"`
}

// ScoredOffer is an Offer plus the model-derived ranking fields. Base fields
// are always reconciled from the caller's original offer with the same ID.
type ScoredOffer struct {
	Offer
	FinalScore    int            `json:"finalScore"`
	Rank          int            `json:"rank"`
	Justification string         `json:"justification"`
	WebInsights   []string       `json:"webInsights"`
	Breakdown     ScoreBreakdown `json:"breakdown"`
}

// SearchSource is a web source consulted by the model during analysis.
type SearchSource struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// AnalysisResponse is the analyze stage output.
type AnalysisResponse struct {
	TopOffers     []ScoredOffer  `json:"topOffers"`
	MarketSummary string         `json:"marketSummary"`
	SearchSources []SearchSource `json:"searchSources"`
}

// Organize templates.
const (
	TemplateTimeline = "timeline"
	TemplateGrid     = "grid"
	TemplateKanban   = "kanban"
)

// CategoryGroup is a named bucket of offers (grid template).
type CategoryGroup struct {
	Name   string  `json:"name"`
	Offers []Offer `json:"offers"`
}

// TimelineBucket is a dated bucket of offers (timeline template).
type TimelineBucket struct {
	Date   string  `json:"date"`
	Offers []Offer `json:"offers"`
}

// KanbanColumn is a named column of offers (kanban template).
type KanbanColumn struct {
	Name   string  `json:"name"`
	Offers []Offer `json:"offers"`
}

// OrganizedOffers is a partition of an offer set. Exactly one of Categories,
// Timeline or Kanban is populated, matching the requested template.
type OrganizedOffers struct {
	Template   string           `json:"template"`
	GroupedBy  string           `json:"groupedBy"`
	Categories []CategoryGroup  `json:"categories,omitempty"`
	Timeline   []TimelineBucket `json:"timeline,omitempty"`
	Kanban     []KanbanColumn   `json:"kanban,omitempty"`
}
