// internal/pipeline/stages/analyze/prompt.go
package analyze

import (
	"encoding/json"
	"fmt"
	"strings"
)

const systemPrompt = `You are an expert market analyst. You rank offers against a user profile and respond with a single JSON object only, no prose, no markdown fences.`

func buildPrompt(input *Input, weights CriteriaWeights) string {
	offersJSON, _ := json.MarshalIndent(input.Offers, "", "  ")

	var parts []string

	parts = append(parts, "Rank the following offers for the user and return the best matches.")
	parts = append(parts, fmt.Sprintf("\nUser domain: %s", input.Profile.Domain))
	if input.Profile.ExplicitCriteria != "" {
		parts = append(parts, fmt.Sprintf("Hard requirements: %s", input.Profile.ExplicitCriteria))
	}
	if input.Profile.ImplicitContext != "" {
		parts = append(parts, fmt.Sprintf("Soft preferences: %s", input.Profile.ImplicitContext))
	}

	parts = append(parts, fmt.Sprintf("\nOffers:\n%s", string(offersJSON)))

	parts = append(parts, fmt.Sprintf(
		"\nScore each offer 0-100 on relevance, quality and trend, weighted %d/%d/%d, and combine them into finalScore.",
		weights.Relevance, weights.Quality, weights.Trend,
	))
	parts = append(parts, fmt.Sprintf(
		"Return at most %d offers as topOffers, ranked 1..N with rank 1 the best. Ranks must be unique and contiguous.",
		input.Limit,
	))
	parts = append(parts, `Each topOffers entry needs: id, finalScore, rank, justification, webInsights (list of strings), breakdown {relevance, quality, trend}. Echo the offer id exactly as given.`)
	parts = append(parts, `Also return marketSummary (one paragraph) and searchSources (list of {title, uri}; empty list if none were consulted).`)
	parts = append(parts, "\nJSON response:")

	return strings.Join(parts, "\n")
}
