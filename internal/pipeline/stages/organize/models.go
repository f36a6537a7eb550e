// internal/pipeline/stages/organize/models.go
package organize

import "offerflow/internal/models"

// Input is one organize stage invocation. Template selects which one of the
// three mutually exclusive output shapes is produced.
type Input struct {
	Offers   []models.Offer `json:"offers"`
	Template string         `json:"template"` // timeline | grid | kanban
	GroupBy  string         `json:"groupBy"`

	// Credential selection
	UserID       string `json:"userId,omitempty"`
	TransientKey string `json:"-"`
}
