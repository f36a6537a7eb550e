// internal/models/workflow.go
package models

import "time"

// WorkflowState values. The state machine is linear with no backward
// transitions; failed and cancelled are terminal from any in-progress state.
type WorkflowState string

const (
	StatePending    WorkflowState = "pending"
	StateFetching   WorkflowState = "fetching"
	StateAnalyzing  WorkflowState = "analyzing"
	StateOrganizing WorkflowState = "organizing"
	StateComplete   WorkflowState = "complete"
	StateFailed     WorkflowState = "failed"
	StateCancelled  WorkflowState = "cancelled"
)

// WorkflowProgress is one append-only log entry per state transition.
type WorkflowProgress struct {
	State       WorkflowState `json:"state"`
	CurrentStep int           `json:"currentStep"`
	TotalSteps  int           `json:"totalSteps"`
	Message     string        `json:"message"`
	Timestamp   time.Time     `json:"timestamp"`
}

// WorkflowData aggregates the outputs of whichever stages ran.
type WorkflowData struct {
	Offers    []Offer           `json:"offers,omitempty"`
	Analysis  *AnalysisResponse `json:"analysis,omitempty"`
	Organized *OrganizedOffers  `json:"organized,omitempty"`
}

// WorkflowResult is the terminal record returned to the caller. Error holds
// the failing stage's message verbatim when Success is false. DurationMs is
// in milliseconds, like every other duration field in the API.
type WorkflowResult struct {
	WorkflowID string             `json:"workflowId"`
	Success    bool               `json:"success"`
	State      WorkflowState      `json:"state"`
	Progress   []WorkflowProgress `json:"progress"`
	Data       *WorkflowData      `json:"data,omitempty"`
	Error      string             `json:"error,omitempty"`
	DurationMs int64              `json:"durationMs"`
}
