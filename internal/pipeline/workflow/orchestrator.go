// internal/pipeline/workflow/orchestrator.go
package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	apperrors "offerflow/internal/common/errors"
	"offerflow/internal/common/logger"
	"offerflow/internal/common/metrics"
	"offerflow/internal/common/observability"
	"offerflow/internal/models"
	"offerflow/internal/pipeline/stages/analyze"
	"offerflow/internal/pipeline/stages/fetch"
	"offerflow/internal/pipeline/stages/organize"
)

// Stage runner contracts, satisfied by the stage packages' Runner types.
type FetchRunner interface {
	Execute(ctx context.Context, input *fetch.Input) ([]models.Offer, error)
}

type AnalyzeRunner interface {
	Execute(ctx context.Context, input *analyze.Input) (*models.AnalysisResponse, error)
}

type OrganizeRunner interface {
	Execute(ctx context.Context, input *organize.Input) (*models.OrganizedOffers, error)
}

// FetchSpec enables the fetch stage.
type FetchSpec struct {
	Domain           string `json:"domain"`
	Context          string `json:"context"`
	BatchSize        int    `json:"batchSize"`
	PreferWebSources bool   `json:"preferWebSources"`
}

// AnalyzeSpec enables the analyze stage.
type AnalyzeSpec struct {
	Profile         models.UserProfile       `json:"profile"`
	Limit           int                      `json:"limit"`
	CriteriaWeights *analyze.CriteriaWeights `json:"criteriaWeights,omitempty"`
}

// OrganizeSpec enables the organize stage.
type OrganizeSpec struct {
	Template string `json:"template"`
	GroupBy  string `json:"groupBy"`
}

// Request describes one workflow run. A nil stage spec skips that stage;
// Offers seeds the pipeline when fetch is skipped.
type Request struct {
	WorkflowID string `json:"workflowId,omitempty"`
	UserID     string `json:"userId,omitempty"`

	Fetch    *FetchSpec    `json:"fetch,omitempty"`
	Analyze  *AnalyzeSpec  `json:"analyze,omitempty"`
	Organize *OrganizeSpec `json:"organize,omitempty"`

	Offers []models.Offer `json:"offers,omitempty"`

	TransientKey string `json:"-"`
}

func (r *Request) stageCount() int {
	n := 0
	if r.Fetch != nil {
		n++
	}
	if r.Analyze != nil {
		n++
	}
	if r.Organize != nil {
		n++
	}
	return n
}

// Orchestrator drives the fetch -> analyze -> organize state machine. Each
// run is independent; the orchestrator itself is safe for concurrent use.
type Orchestrator struct {
	fetch    FetchRunner
	analyze  AnalyzeRunner
	organize OrganizeRunner
	registry CancelRegistry
	logger   logger.Logger
	obs      *observability.Observability
	sink     func(models.WorkflowProgress)
}

func NewOrchestrator(f FetchRunner, a AnalyzeRunner, o OrganizeRunner, registry CancelRegistry, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		fetch:    f,
		analyze:  a,
		organize: o,
		registry: registry,
		logger:   log.With(map[string]interface{}{"component": "orchestrator"}),
	}
}

// WithObservability attaches a tracer so every stage gets its own span.
func (o *Orchestrator) WithObservability(obs *observability.Observability) *Orchestrator {
	o.obs = obs
	return o
}

// OnProgress registers a sink invoked synchronously on every transition.
func (o *Orchestrator) OnProgress(sink func(models.WorkflowProgress)) *Orchestrator {
	o.sink = sink
	return o
}

// Cancel requests cooperative cancellation. The workflow stops before its
// next stage boundary; the stage currently executing runs to completion.
func (o *Orchestrator) Cancel(ctx context.Context, workflowID string) error {
	o.logger.Info("cancellation requested", map[string]interface{}{"workflowId": workflowID})
	return o.registry.MarkCancelled(ctx, workflowID)
}

// Run executes the enabled stages in order and always returns a terminal
// result; stage errors are folded into the result rather than returned.
func (o *Orchestrator) Run(ctx context.Context, req *Request) *models.WorkflowResult {
	start := time.Now()

	workflowID := req.WorkflowID
	if workflowID == "" {
		workflowID = uuid.New().String()
	}

	result := &models.WorkflowResult{
		WorkflowID: workflowID,
		State:      models.StatePending,
		Data:       &models.WorkflowData{},
	}

	total := req.stageCount()
	if total == 0 {
		return o.finish(result, models.StateFailed, 0, 0, "no stages enabled", start)
	}

	log := o.logger.With(map[string]interface{}{"workflowId": workflowID})
	log.Info("workflow started", map[string]interface{}{"totalSteps": total})

	defer func() {
		if err := o.registry.Clear(context.WithoutCancel(ctx), workflowID); err != nil {
			log.Warn("failed to clear cancel marker", map[string]interface{}{"error": err.Error()})
		}
	}()

	o.transition(result, models.StatePending, 0, total, "workflow accepted")

	step := 0
	offers := req.Offers

	if req.Fetch != nil {
		step++
		if cancelled := o.checkCancelled(ctx, workflowID, log); cancelled {
			return o.finish(result, models.StateCancelled, step, total, cancelMessage(workflowID), start)
		}
		o.transition(result, models.StateFetching, step, total, "fetching offers")

		fetched, err := o.runFetch(ctx, workflowID, req)
		if err != nil {
			log.Error("fetch stage failed", map[string]interface{}{"error": err.Error()})
			return o.finish(result, models.StateFailed, step, total, err.Error(), start)
		}
		offers = fetched
		result.Data.Offers = fetched
	}

	if req.Analyze != nil {
		step++
		if cancelled := o.checkCancelled(ctx, workflowID, log); cancelled {
			return o.finish(result, models.StateCancelled, step, total, cancelMessage(workflowID), start)
		}
		o.transition(result, models.StateAnalyzing, step, total, "analyzing offers")

		analysis, err := o.runAnalyze(ctx, workflowID, req, offers)
		if err != nil {
			log.Error("analyze stage failed", map[string]interface{}{"error": err.Error()})
			return o.finish(result, models.StateFailed, step, total, err.Error(), start)
		}
		result.Data.Analysis = analysis
	}

	if req.Organize != nil {
		step++
		if cancelled := o.checkCancelled(ctx, workflowID, log); cancelled {
			return o.finish(result, models.StateCancelled, step, total, cancelMessage(workflowID), start)
		}
		o.transition(result, models.StateOrganizing, step, total, "organizing offers")

		organized, err := o.runOrganize(ctx, workflowID, req, offers)
		if err != nil {
			log.Error("organize stage failed", map[string]interface{}{"error": err.Error()})
			return o.finish(result, models.StateFailed, step, total, err.Error(), start)
		}
		result.Data.Organized = organized
	}

	log.Info("workflow completed", map[string]interface{}{
		"durationMs": time.Since(start).Milliseconds(),
	})
	return o.finish(result, models.StateComplete, total, total, "workflow complete", start)
}

func (o *Orchestrator) runFetch(ctx context.Context, workflowID string, req *Request) ([]models.Offer, error) {
	ctx, span := o.startSpan(ctx, "workflow.fetch", workflowID)
	defer span()

	return o.fetch.Execute(ctx, &fetch.Input{
		Domain:           req.Fetch.Domain,
		Context:          req.Fetch.Context,
		BatchSize:        req.Fetch.BatchSize,
		PreferWebSources: req.Fetch.PreferWebSources,
		UserID:           req.UserID,
		TransientKey:     req.TransientKey,
	})
}

func (o *Orchestrator) runAnalyze(ctx context.Context, workflowID string, req *Request, offers []models.Offer) (*models.AnalysisResponse, error) {
	ctx, span := o.startSpan(ctx, "workflow.analyze", workflowID)
	defer span()

	return o.analyze.Execute(ctx, &analyze.Input{
		Offers:          offers,
		Profile:         req.Analyze.Profile,
		Limit:           req.Analyze.Limit,
		CriteriaWeights: req.Analyze.CriteriaWeights,
		UserID:          req.UserID,
		TransientKey:    req.TransientKey,
	})
}

func (o *Orchestrator) runOrganize(ctx context.Context, workflowID string, req *Request, offers []models.Offer) (*models.OrganizedOffers, error) {
	ctx, span := o.startSpan(ctx, "workflow.organize", workflowID)
	defer span()

	return o.organize.Execute(ctx, &organize.Input{
		Offers:       offers,
		Template:     req.Organize.Template,
		GroupBy:      req.Organize.GroupBy,
		UserID:       req.UserID,
		TransientKey: req.TransientKey,
	})
}

func (o *Orchestrator) startSpan(ctx context.Context, name, workflowID string) (context.Context, func()) {
	if o.obs == nil {
		return ctx, func() {}
	}
	ctx, span := o.obs.StartSpan(ctx, name, attribute.String("workflow.id", workflowID))
	return ctx, func() { span.End() }
}

// checkCancelled reports whether the run should stop before the next stage.
// Both caller context cancellation and registry markers count.
func (o *Orchestrator) checkCancelled(ctx context.Context, workflowID string, log logger.Logger) bool {
	if ctx.Err() != nil {
		return true
	}
	cancelled, err := o.registry.IsCancelled(ctx, workflowID)
	if err != nil {
		log.Warn("cancel registry check failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	return cancelled
}

func cancelMessage(workflowID string) string {
	return apperrors.NewWorkflowCancelledError(workflowID).Message
}

func (o *Orchestrator) transition(result *models.WorkflowResult, state models.WorkflowState, step, total int, message string) {
	result.State = state
	entry := models.WorkflowProgress{
		State:       state,
		CurrentStep: step,
		TotalSteps:  total,
		Message:     message,
		Timestamp:   time.Now(),
	}
	result.Progress = append(result.Progress, entry)
	if o.sink != nil {
		o.sink(entry)
	}
}

func (o *Orchestrator) finish(result *models.WorkflowResult, state models.WorkflowState, step, total int, message string, start time.Time) *models.WorkflowResult {
	o.transition(result, state, step, total, message)
	result.Success = state == models.StateComplete
	result.DurationMs = time.Since(start).Milliseconds()
	if !result.Success {
		result.Error = message
	}
	metrics.WorkflowsCompleted.WithLabelValues(string(state)).Inc()
	return result
}
