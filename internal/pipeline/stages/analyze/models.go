// internal/pipeline/stages/analyze/models.go
package analyze

import "offerflow/internal/models"

// CriteriaWeights steer the model's scoring emphasis. They conceptually sum
// to 100; defaults are 50/30/20.
type CriteriaWeights struct {
	Relevance int `json:"relevance"`
	Quality   int `json:"quality"`
	Trend     int `json:"trend"`
}

func DefaultCriteriaWeights() CriteriaWeights {
	return CriteriaWeights{Relevance: 50, Quality: 30, Trend: 20}
}

// Input is one analyze stage invocation.
type Input struct {
	Offers          []models.Offer     `json:"offers"`
	Profile         models.UserProfile `json:"profile"`
	Limit           int                `json:"limit"`
	CriteriaWeights *CriteriaWeights   `json:"criteriaWeights,omitempty"`

	// Credential selection
	UserID       string `json:"userId,omitempty"`
	TransientKey string `json:"-"`
}
