// internal/pipeline/stages/reconcile/reconcile_test.go
package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"offerflow/internal/models"
)

func originalOffers() []models.Offer {
	return []models.Offer{
		{
			ID:          "offer-1",
			Title:       "Senior Go Engineer",
			Description: "Backend role",
			Price:       "120000",
			Location:    "Berlin",
			Category:    "engineering",
			URL:         "https://example.com/offer-1",
		},
		{
			ID:       "offer-2",
			Title:    "Data Analyst",
			Price:    "80000",
			Location: "Remote",
			Category: "data",
		},
	}
}

// ==========================
// Reconciliation Tests
// ==========================

func TestOffer_OverwritesEchoedFields(t *testing.T) {
	originals := Index(originalOffers())

	hallucinated := models.Offer{
		ID:          "offer-1",
		Title:       "HALLUCINATED TITLE",
		Description: "made up",
		Price:       "999",
		Location:    "Atlantis",
		Category:    "fiction",
		URL:         "https://evil.example.com",
	}

	got := Offer(hallucinated, originals)

	assert.Equal(t, "Senior Go Engineer", got.Title)
	assert.Equal(t, "Backend role", got.Description)
	assert.Equal(t, models.Price("120000"), got.Price)
	assert.Equal(t, "Berlin", got.Location)
	assert.Equal(t, "engineering", got.Category)
	assert.Equal(t, "https://example.com/offer-1", got.URL)
}

func TestOffer_KeepsCandidateURLWhenOriginalEmpty(t *testing.T) {
	originals := Index(originalOffers())

	got := Offer(models.Offer{ID: "offer-2", URL: "https://found.example.com"}, originals)

	assert.Equal(t, "Data Analyst", got.Title)
	assert.Equal(t, "https://found.example.com", got.URL)
}

func TestOffer_UnknownIDPassesThrough(t *testing.T) {
	originals := Index(originalOffers())

	invented := models.Offer{ID: "offer-99", Title: "Invented"}
	got := Offer(invented, originals)

	assert.Equal(t, invented, got)
}

func TestScoredOffer_PreservesModelFields(t *testing.T) {
	originals := Index(originalOffers())

	scored := models.ScoredOffer{
		Offer:         models.Offer{ID: "offer-1", Title: "HALLUCINATED"},
		FinalScore:    87,
		Rank:          1,
		Justification: "strong match",
		WebInsights:   []string{"in demand"},
		Breakdown:     models.ScoreBreakdown{Relevance: 90, Quality: 85, Trend: 80},
	}

	got := ScoredOffer(scored, originals)

	assert.Equal(t, "Senior Go Engineer", got.Title)
	assert.Equal(t, 87, got.FinalScore)
	assert.Equal(t, 1, got.Rank)
	assert.Equal(t, "strong match", got.Justification)
	assert.Equal(t, []string{"in demand"}, got.WebInsights)
	assert.Equal(t, 90, got.Breakdown.Relevance)
}

func TestIndex_LastWinsOnDuplicateID(t *testing.T) {
	idx := Index([]models.Offer{
		{ID: "dup", Title: "first"},
		{ID: "dup", Title: "second"},
	})

	assert.Len(t, idx, 1)
	assert.Equal(t, "second", idx["dup"].Title)
}
