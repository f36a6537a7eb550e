// internal/pipeline/stages/fetch/models.go
package fetch

// Input is one fetch stage invocation. The model discovers offers for the
// given domain; it does not receive caller offers.
type Input struct {
	Domain           string `json:"domain"`
	Context          string `json:"context"`
	BatchSize        int    `json:"batchSize"`
	PreferWebSources bool   `json:"preferWebSources"`

	// Credential selection
	UserID       string `json:"userId,omitempty"`
	TransientKey string `json:"-"`
}
