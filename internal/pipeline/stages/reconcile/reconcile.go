// Package reconcile overwrites model-echoed offer fields with the caller's
// original authoritative data, keyed by id. The model is never trusted to
// faithfully echo base fields back.
package reconcile

import "offerflow/internal/models"

// Index builds an id lookup over the caller's original offers.
func Index(offers []models.Offer) map[string]models.Offer {
	idx := make(map[string]models.Offer, len(offers))
	for _, offer := range offers {
		idx[offer.ID] = offer
	}
	return idx
}

// Offer replaces the base fields of candidate with the original offer of the
// same id. When the id is unknown (the model invented it), the candidate
// passes through unchanged.
func Offer(candidate models.Offer, originals map[string]models.Offer) models.Offer {
	original, ok := originals[candidate.ID]
	if !ok {
		return candidate
	}
	candidate.Title = original.Title
	candidate.Description = original.Description
	candidate.Price = original.Price
	candidate.Location = original.Location
	candidate.Category = original.Category
	if original.URL != "" {
		candidate.URL = original.URL
	}
	return candidate
}

// ScoredOffer reconciles the embedded offer of a scored result, keeping only
// the model-derived fields (score, rank, justification, insights, breakdown).
func ScoredOffer(candidate models.ScoredOffer, originals map[string]models.Offer) models.ScoredOffer {
	candidate.Offer = Offer(candidate.Offer, originals)
	return candidate
}
