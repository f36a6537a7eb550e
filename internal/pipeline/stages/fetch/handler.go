// internal/pipeline/stages/fetch/handler.go
package fetch

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
)

const StageName = "fetch"

//go:embed response_schema.json
var responseSchema string

const systemPrompt = `You are an offer discovery assistant. You compile realistic, current offers for a domain and respond with a single JSON array only, no prose, no markdown fences.`

// Runner discovers an ordered batch of offers for a domain.
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

// Execute runs one fetch pass and returns the discovered offers, tagged with
// a source and a reliability priority.
func (r *Runner) Execute(ctx context.Context, input *Input) ([]models.Offer, error) {
	start := time.Now()

	if input.Domain == "" {
		return nil, fmt.Errorf("fetch: domain is required")
	}
	if input.BatchSize <= 0 {
		input.BatchSize = r.config.BatchSize
	}

	resolution, err := r.resolver.Resolve(ctx, r.config.Provider, input.UserID, input.TransientKey)
	if err != nil {
		r.fail(err, start)
		return nil, err
	}

	completer, err := r.factory.For(ctx, resolution.Key)
	if err != nil {
		wrapped := apperrors.NewModelCallFailedError("fetch client setup", err)
		r.fail(wrapped, start)
		return nil, wrapped
	}

	prompt := buildPrompt(input)

	var offers []models.Offer
	err = retry.Do(ctx, retry.Config{MaxAttempts: r.config.MaxAttempts, BaseDelay: r.config.BaseDelay}, "fetch-offers", r.logger, func(ctx context.Context) error {
		parsed, callErr := r.callModel(ctx, completer, resolution, prompt)
		if callErr != nil {
			return callErr
		}
		offers = parsed
		return nil
	})
	if err != nil {
		r.fail(err, start)
		return nil, err
	}

	offers = r.normalize(offers, input)

	metrics.StageRunsCompleted.WithLabelValues(StageName).Inc()
	metrics.StageRunDuration.WithLabelValues(StageName).Observe(time.Since(start).Seconds())

	r.logger.Info("fetch completed", map[string]interface{}{
		"offerCount": len(offers),
		"durationMs": time.Since(start).Milliseconds(),
		"keySource":  resolution.Source,
	})

	return offers, nil
}

func (r *Runner) callModel(ctx context.Context, completer genai.Completer, resolution *credentials.Resolution, prompt string) ([]models.Offer, error) {
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
		return nil, apperrors.NewModelCallFailedError("fetch", err)
	}
	if strings.TrimSpace(raw) == "" {
		r.resolver.RecordUsage(resolution, credentials.Usage{Success: false, LatencyMs: latency})
		return nil, apperrors.NewNoResponseError("fetch")
	}

	r.resolver.RecordUsage(resolution, credentials.Usage{
		Success:   true,
		LatencyMs: latency,
		Tokens:    len(raw) / 4,
	})

	value, err := jsonx.Extract(raw, "fetch response")
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(value, responseSchema, "fetch response"); err != nil {
		return nil, err
	}

	var parsed []models.Offer
	if err := json.Unmarshal(value, &parsed); err != nil {
		return nil, apperrors.NewInvalidJSONError("fetch response decode", err)
	}

	return parsed, nil
}

// normalize trims the batch, defaults missing source tags, and applies the
// web-first ordering when requested: all web-sourced offers before
// ai-generated ones, descending priority as the secondary key, stable within
// ties.
func (r *Runner) normalize(offers []models.Offer, input *Input) []models.Offer {
	for i := range offers {
		if offers[i].Source == "" {
			offers[i].Source = models.SourceAIGenerated
		}
	}

	if input.PreferWebSources {
		sort.SliceStable(offers, func(i, j int) bool {
			iWeb := offers[i].Source == models.SourceWeb
			jWeb := offers[j].Source == models.SourceWeb
			if iWeb != jWeb {
				return iWeb
			}
			return offers[i].Priority > offers[j].Priority
		})
	}

	if len(offers) > input.BatchSize {
		offers = offers[:input.BatchSize]
	}
	return offers
}

func (r *Runner) fail(err error, start time.Time) {
	stdErr := apperrors.Normalize(err)
	metrics.StageRunsFailed.WithLabelValues(StageName, string(stdErr.Code)).Inc()
	metrics.StageRunDuration.WithLabelValues(StageName).Observe(time.Since(start).Seconds())
	r.logger.Error("fetch failed", map[string]interface{}{
		"errorCode": string(stdErr.Code),
		"message":   stdErr.Message,
		"details":   stdErr.Details,
		"retryable": stdErr.Retryable,
	})
}
