// internal/pipeline/stages/organize/handler.go
package organize

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "offerflow/internal/common/errors"
	"offerflow/internal/common/genai"
	"offerflow/internal/common/logger"
	"offerflow/internal/common/metrics"
	"offerflow/internal/models"
	"offerflow/internal/pipeline/credentials"
	"offerflow/internal/pipeline/jsonx"
	"offerflow/internal/pipeline/retry"
	"offerflow/internal/pipeline/schema"
	"offerflow/internal/pipeline/stages/reconcile"
)

const StageName = "organize"

//go:embed schema_timeline.json
var timelineSchema string

//go:embed schema_grid.json
var gridSchema string

//go:embed schema_kanban.json
var kanbanSchema string

const systemPrompt = `You organize offers into the requested structure and respond with a single JSON object only, no prose, no markdown fences.`

// Runner partitions an offer set into categories, timeline buckets, or
// kanban columns, depending on the requested template.
type Runner struct {
	config   *Config
	factory  genai.CompleterFactory
	resolver *credentials.Resolver
	logger   logger.Logger
}

func NewRunner(config *Config, factory genai.CompleterFactory, resolver *credentials.Resolver, log logger.Logger) *Runner {
	return &Runner{
		config:   config,
		factory:  factory,
		resolver: resolver,
		logger:   log.With(map[string]interface{}{"stage": StageName}),
	}
}

// Execute runs one organize pass. The response shape is a tagged union keyed
// by the template: exactly one of categories, timeline or kanban is set.
func (r *Runner) Execute(ctx context.Context, input *Input) (*models.OrganizedOffers, error) {
	start := time.Now()

	if len(input.Offers) == 0 {
		return nil, fmt.Errorf("organize: at least one offer is required")
	}
	responseSchema, err := schemaFor(input.Template)
	if err != nil {
		return nil, err
	}

	resolution, err := r.resolver.Resolve(ctx, r.config.Provider, input.UserID, input.TransientKey)
	if err != nil {
		r.fail(err, start)
		return nil, err
	}

	completer, err := r.factory.For(ctx, resolution.Key)
	if err != nil {
		wrapped := apperrors.NewModelCallFailedError("organize client setup", err)
		r.fail(wrapped, start)
		return nil, wrapped
	}

	prompt := buildPrompt(input)

	var organized models.OrganizedOffers
	err = retry.Do(ctx, retry.Config{MaxAttempts: r.config.MaxAttempts, BaseDelay: r.config.BaseDelay}, "organize-offers", r.logger, func(ctx context.Context) error {
		parsed, callErr := r.callModel(ctx, completer, resolution, prompt, responseSchema)
		if callErr != nil {
			return callErr
		}
		organized = *parsed
		return nil
	})
	if err != nil {
		r.fail(err, start)
		return nil, err
	}

	organized.Template = input.Template
	r.reconcileBuckets(&organized, input.Offers)

	metrics.StageRunsCompleted.WithLabelValues(StageName).Inc()
	metrics.StageRunDuration.WithLabelValues(StageName).Observe(time.Since(start).Seconds())

	r.logger.Info("organize completed", map[string]interface{}{
		"template":   input.Template,
		"groupedBy":  organized.GroupedBy,
		"durationMs": time.Since(start).Milliseconds(),
		"keySource":  resolution.Source,
	})

	return &organized, nil
}

func schemaFor(template string) (string, error) {
	switch template {
	case models.TemplateTimeline:
		return timelineSchema, nil
	case models.TemplateGrid:
		return gridSchema, nil
	case models.TemplateKanban:
		return kanbanSchema, nil
	default:
		return "", fmt.Errorf("organize: unknown template '%s'", template)
	}
}

func (r *Runner) callModel(ctx context.Context, completer genai.Completer, resolution *credentials.Resolution, prompt, responseSchema string) (*models.OrganizedOffers, error) {
	callCtx := ctx
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	callStart := time.Now()
	raw, err := completer.Complete(callCtx, genai.Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   prompt,
		JSONMode:     true,
	})
	latency := time.Since(callStart).Milliseconds()

	if err != nil {
		r.resolver.RecordUsage(resolution, credentials.Usage{Success: false, LatencyMs: latency})
		return nil, apperrors.NewModelCallFailedError("organize", err)
	}
	if strings.TrimSpace(raw) == "" {
		r.resolver.RecordUsage(resolution, credentials.Usage{Success: false, LatencyMs: latency})
		return nil, apperrors.NewNoResponseError("organize")
	}

	r.resolver.RecordUsage(resolution, credentials.Usage{
		Success:   true,
		LatencyMs: latency,
		Tokens:    len(raw) / 4,
	})

	value, err := jsonx.Extract(raw, "organize response")
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(value, responseSchema, "organize response"); err != nil {
		return nil, err
	}

	var parsed models.OrganizedOffers
	if err := json.Unmarshal(value, &parsed); err != nil {
		return nil, apperrors.NewInvalidJSONError("organize response decode", err)
	}

	return &parsed, nil
}

// fallbackBucket names the bucket that collects input offers the model left
// out of every bucket.
const fallbackBucket = "Other"

// reconcileBuckets replaces every bucketed offer with the caller's original
// by id and enforces the partition: duplicate ids are dropped so each offer
// lands in at most one bucket, and input offers the model omitted are
// appended to the last bucket so none vanishes from the output.
func (r *Runner) reconcileBuckets(organized *models.OrganizedOffers, offers []models.Offer) {
	originals := reconcile.Index(offers)
	seen := make(map[string]bool, len(offers))

	reconcileList := func(list []models.Offer) []models.Offer {
		out := make([]models.Offer, 0, len(list))
		for _, offer := range list {
			if seen[offer.ID] {
				continue
			}
			seen[offer.ID] = true
			out = append(out, reconcile.Offer(offer, originals))
		}
		return out
	}

	for i := range organized.Categories {
		organized.Categories[i].Offers = reconcileList(organized.Categories[i].Offers)
	}
	for i := range organized.Timeline {
		organized.Timeline[i].Offers = reconcileList(organized.Timeline[i].Offers)
	}
	for i := range organized.Kanban {
		organized.Kanban[i].Offers = reconcileList(organized.Kanban[i].Offers)
	}

	var missing []models.Offer
	for _, offer := range offers {
		if !seen[offer.ID] {
			missing = append(missing, offer)
		}
	}
	if len(missing) == 0 {
		return
	}

	r.logger.Warn("offers omitted by the model, appending to last bucket", map[string]interface{}{
		"template": organized.Template,
		"count":    len(missing),
	})

	switch organized.Template {
	case models.TemplateTimeline:
		if len(organized.Timeline) == 0 {
			organized.Timeline = append(organized.Timeline, models.TimelineBucket{Date: fallbackBucket})
		}
		last := &organized.Timeline[len(organized.Timeline)-1]
		last.Offers = append(last.Offers, missing...)
	case models.TemplateKanban:
		if len(organized.Kanban) == 0 {
			organized.Kanban = append(organized.Kanban, models.KanbanColumn{Name: fallbackBucket})
		}
		last := &organized.Kanban[len(organized.Kanban)-1]
		last.Offers = append(last.Offers, missing...)
	default:
		if len(organized.Categories) == 0 {
			organized.Categories = append(organized.Categories, models.CategoryGroup{Name: fallbackBucket})
		}
		last := &organized.Categories[len(organized.Categories)-1]
		last.Offers = append(last.Offers, missing...)
	}
}

func (r *Runner) fail(err error, start time.Time) {
	stdErr := apperrors.Normalize(err)
	metrics.StageRunsFailed.WithLabelValues(StageName, string(stdErr.Code)).Inc()
	metrics.StageRunDuration.WithLabelValues(StageName).Observe(time.Since(start).Seconds())
	r.logger.Error("organize failed", map[string]interface{}{
		"errorCode": string(stdErr.Code),
		"message":   stdErr.Message,
		"details":   stdErr.Details,
		"retryable": stdErr.Retryable,
	})
}
