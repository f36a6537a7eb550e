// pkg/registry/schema.go
package registry

// StageRegistry is the machine-readable catalog of pipeline stages, served to
// clients so they can discover what a workflow request may enable.
type StageRegistry struct {
	Version     string  `json:"version"`
	LastUpdated string  `json:"lastUpdated"`
	Stages      []Stage `json:"stages"`
}

type Stage struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Description string   `json:"description"`
	Optional    bool     `json:"optional"`
	ErrorCodes  []string `json:"errorCodes"`
	MaxAttempts int      `json:"maxAttempts"`
	Inputs      []string `json:"inputs"`
	Outputs     []string `json:"outputs"`
}
