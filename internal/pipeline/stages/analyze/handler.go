// internal/pipeline/stages/analyze/handler.go
package analyze

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
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

const StageName = "analyze"

//go:embed response_schema.json
var responseSchema string

const defaultLimit = 10

// Runner scores and ranks offers against a user profile.
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

// Execute runs one analyze pass: resolve credential, prompt the model,
// extract and validate the response, then reconcile it against the caller's
// original offers.
func (r *Runner) Execute(ctx context.Context, input *Input) (*models.AnalysisResponse, error) {
	start := time.Now()

	if len(input.Offers) == 0 {
		return nil, fmt.Errorf("analyze: at least one offer is required")
	}
	if input.Limit <= 0 {
		input.Limit = defaultLimit
	}
	weights := DefaultCriteriaWeights()
	if input.CriteriaWeights != nil {
		weights = *input.CriteriaWeights
	}

	resolution, err := r.resolver.Resolve(ctx, r.config.Provider, input.UserID, input.TransientKey)
	if err != nil {
		r.fail(err, start)
		return nil, err
	}

	completer, err := r.factory.For(ctx, resolution.Key)
	if err != nil {
		wrapped := apperrors.NewModelCallFailedError("analyze client setup", err)
		r.fail(wrapped, start)
		return nil, wrapped
	}

	prompt := buildPrompt(input, weights)
	r.logger.Debug("analyze prompt built", map[string]interface{}{
		"offerCount":   len(input.Offers),
		"limit":        input.Limit,
		"promptLength": len(prompt),
	})

	var response models.AnalysisResponse
	err = retry.Do(ctx, retry.Config{MaxAttempts: r.config.MaxAttempts, BaseDelay: r.config.BaseDelay}, "analyze-offers", r.logger, func(ctx context.Context) error {
		parsed, callErr := r.callModel(ctx, completer, resolution, prompt)
		if callErr != nil {
			return callErr
		}
		response = *parsed
		return nil
	})
	if err != nil {
		r.fail(err, start)
		return nil, err
	}

	r.reconcile(&response, input)

	metrics.StageRunsCompleted.WithLabelValues(StageName).Inc()
	metrics.StageRunDuration.WithLabelValues(StageName).Observe(time.Since(start).Seconds())

	r.logger.Info("analyze completed", map[string]interface{}{
		"topOffers":  len(response.TopOffers),
		"durationMs": time.Since(start).Milliseconds(),
		"keySource":  resolution.Source,
	})

	return &response, nil
}

func (r *Runner) callModel(ctx context.Context, completer genai.Completer, resolution *credentials.Resolution, prompt string) (*models.AnalysisResponse, error) {
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
		return nil, apperrors.NewModelCallFailedError("analyze", err)
	}
	if strings.TrimSpace(raw) == "" {
		r.resolver.RecordUsage(resolution, credentials.Usage{Success: false, LatencyMs: latency})
		return nil, apperrors.NewNoResponseError("analyze")
	}

	r.resolver.RecordUsage(resolution, credentials.Usage{
		Success:   true,
		LatencyMs: latency,
		Tokens:    len(raw) / 4,
	})

	value, err := jsonx.Extract(raw, "analyze response")
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(value, responseSchema, "analyze response"); err != nil {
		return nil, err
	}

	var parsed models.AnalysisResponse
	if err := json.Unmarshal(value, &parsed); err != nil {
		return nil, apperrors.NewInvalidJSONError("analyze response decode", err)
	}

	return &parsed, nil
}

// reconcile overwrites every echoed base field with the caller's original
// offer by id, drops overflow beyond the requested limit, and normalizes
// ranks so they are unique and contiguous with rank 1 the best score.
func (r *Runner) reconcile(response *models.AnalysisResponse, input *Input) {
	originals := reconcile.Index(input.Offers)

	for i := range response.TopOffers {
		response.TopOffers[i] = reconcile.ScoredOffer(response.TopOffers[i], originals)
	}

	sort.SliceStable(response.TopOffers, func(i, j int) bool {
		return response.TopOffers[i].FinalScore > response.TopOffers[j].FinalScore
	})
	if len(response.TopOffers) > input.Limit {
		response.TopOffers = response.TopOffers[:input.Limit]
	}
	for i := range response.TopOffers {
		response.TopOffers[i].Rank = i + 1
	}

	if response.SearchSources == nil {
		response.SearchSources = []models.SearchSource{}
	}
	for i := range response.TopOffers {
		if response.TopOffers[i].WebInsights == nil {
			response.TopOffers[i].WebInsights = []string{}
		}
	}
}

func (r *Runner) fail(err error, start time.Time) {
	stdErr := apperrors.Normalize(err)
	metrics.StageRunsFailed.WithLabelValues(StageName, string(stdErr.Code)).Inc()
	metrics.StageRunDuration.WithLabelValues(StageName).Observe(time.Since(start).Seconds())
	r.logger.Error("analyze failed", map[string]interface{}{
		"errorCode": string(stdErr.Code),
		"message":   stdErr.Message,
		"details":   stdErr.Details,
		"retryable": stdErr.Retryable,
	})
}
