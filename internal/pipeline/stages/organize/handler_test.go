// internal/pipeline/stages/organize/handler_test.go
package organize

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "offerflow/internal/common/errors"
	"offerflow/internal/common/genai"
	"offerflow/internal/common/logger"
	"offerflow/internal/models"
	"offerflow/internal/pipeline/credentials"
)

// ==========================
// Test Helpers
// ==========================

type stubCompleter struct {
	responses []string
	calls     int
}

func (s *stubCompleter) Complete(_ context.Context, _ genai.Request) (string, error) {
	i := s.calls
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	s.calls++
	return s.responses[i], nil
}

type stubFactory struct {
	completer genai.Completer
}

func (f *stubFactory) For(_ context.Context, _ string) (genai.Completer, error) {
	return f.completer, nil
}

func testConfig() *Config {
	return &Config{
		Provider:    "gemini",
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
	}
}

func newRunner(t *testing.T, completer genai.Completer) *Runner {
	resolver := credentials.NewResolver(nil, "env-key", logger.NewTestLogger(t))
	return NewRunner(testConfig(), &stubFactory{completer: completer}, resolver, logger.NewTestLogger(t))
}

func testOffers() []models.Offer {
	return []models.Offer{
		{ID: "o1", Title: "Go Engineer", Description: "Backend", Price: "120000", Location: "Berlin", Category: "engineering"},
		{ID: "o2", Title: "Data Analyst", Description: "Analytics", Price: "80000", Location: "Munich", Category: "data"},
		{ID: "o3", Title: "Rust Engineer", Description: "Systems", Price: "110000", Location: "Remote", Category: "engineering"},
	}
}

// ==========================
// Template Tests
// ==========================

func TestExecute_KanbanPartition(t *testing.T) {
	response := `{
		"groupedBy": "category",
		"kanban": [
			{"name": "engineering", "offers": [{"id": "o1", "title": "WRONG"}, {"id": "o3"}]},
			{"name": "data", "offers": [{"id": "o2"}]}
		]
	}`
	runner := newRunner(t, &stubCompleter{responses: []string{response}})

	organized, err := runner.Execute(context.Background(), &Input{
		Offers:   testOffers(),
		Template: models.TemplateKanban,
		GroupBy:  "category",
	})
	require.NoError(t, err)

	assert.Equal(t, models.TemplateKanban, organized.Template)
	assert.Equal(t, "category", organized.GroupedBy)
	require.Len(t, organized.Kanban, 2)
	assert.Empty(t, organized.Categories)
	assert.Empty(t, organized.Timeline)

	// Bucketed offers are rehydrated from the originals.
	assert.Equal(t, "Go Engineer", organized.Kanban[0].Offers[0].Title)
	assert.Equal(t, models.Price("120000"), organized.Kanban[0].Offers[0].Price)
	assert.Equal(t, "Rust Engineer", organized.Kanban[0].Offers[1].Title)
	assert.Equal(t, "Data Analyst", organized.Kanban[1].Offers[0].Title)
}

func TestExecute_GridTemplate(t *testing.T) {
	response := `{
		"groupedBy": "location",
		"categories": [
			{"name": "Berlin", "offers": [{"id": "o1"}]},
			{"name": "Elsewhere", "offers": [{"id": "o2"}, {"id": "o3"}]}
		]
	}`
	runner := newRunner(t, &stubCompleter{responses: []string{response}})

	organized, err := runner.Execute(context.Background(), &Input{
		Offers:   testOffers(),
		Template: models.TemplateGrid,
		GroupBy:  "location",
	})
	require.NoError(t, err)

	assert.Equal(t, models.TemplateGrid, organized.Template)
	require.Len(t, organized.Categories, 2)
	assert.Equal(t, "Go Engineer", organized.Categories[0].Offers[0].Title)
}

func TestExecute_TimelineTemplate(t *testing.T) {
	response := `{
		"groupedBy": "date",
		"timeline": [
			{"date": "2026-08-01", "offers": [{"id": "o1"}, {"id": "o2"}]},
			{"date": "2026-08-15", "offers": [{"id": "o3"}]}
		]
	}`
	runner := newRunner(t, &stubCompleter{responses: []string{response}})

	organized, err := runner.Execute(context.Background(), &Input{
		Offers:   testOffers(),
		Template: models.TemplateTimeline,
		GroupBy:  "date",
	})
	require.NoError(t, err)

	require.Len(t, organized.Timeline, 2)
	assert.Equal(t, "2026-08-01", organized.Timeline[0].Date)
	assert.Len(t, organized.Timeline[0].Offers, 2)
}

func TestExecute_UnknownTemplate(t *testing.T) {
	runner := newRunner(t, &stubCompleter{responses: []string{`{}`}})

	_, err := runner.Execute(context.Background(), &Input{
		Offers:   testOffers(),
		Template: "spiral",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown template")
}

// ==========================
// Reconciliation Edge Cases
// ==========================

func TestExecute_DuplicateIDsDropped(t *testing.T) {
	// The model placed o1 in two columns; only the first placement survives.
	response := `{
		"groupedBy": "category",
		"kanban": [
			{"name": "first", "offers": [{"id": "o1"}]},
			{"name": "second", "offers": [{"id": "o1"}, {"id": "o2"}]}
		]
	}`
	runner := newRunner(t, &stubCompleter{responses: []string{response}})

	organized, err := runner.Execute(context.Background(), &Input{
		Offers:   testOffers(),
		Template: models.TemplateKanban,
		GroupBy:  "category",
	})
	require.NoError(t, err)

	assert.Len(t, organized.Kanban[0].Offers, 1)
	require.Len(t, organized.Kanban[1].Offers, 1)
	assert.Equal(t, "o2", organized.Kanban[1].Offers[0].ID)
}

func TestExecute_OmittedOffersAppendedToLastColumn(t *testing.T) {
	// The model left o3 out of every column; it lands in the last one.
	response := `{
		"groupedBy": "category",
		"kanban": [
			{"name": "engineering", "offers": [{"id": "o1"}]},
			{"name": "data", "offers": [{"id": "o2"}]}
		]
	}`
	runner := newRunner(t, &stubCompleter{responses: []string{response}})

	organized, err := runner.Execute(context.Background(), &Input{
		Offers:   testOffers(),
		Template: models.TemplateKanban,
		GroupBy:  "category",
	})
	require.NoError(t, err)

	require.Len(t, organized.Kanban, 2)
	require.Len(t, organized.Kanban[1].Offers, 2)
	appended := organized.Kanban[1].Offers[1]
	assert.Equal(t, "o3", appended.ID)
	assert.Equal(t, "Rust Engineer", appended.Title, "appended offers carry the caller's fields")

	// Every input offer appears exactly once across all columns.
	placements := map[string]int{}
	for _, column := range organized.Kanban {
		for _, offer := range column.Offers {
			placements[offer.ID]++
		}
	}
	for _, offer := range testOffers() {
		assert.Equal(t, 1, placements[offer.ID], offer.ID)
	}
}

func TestExecute_OmittedOffersGetFallbackCategory(t *testing.T) {
	// No buckets at all; a fallback category collects every input offer.
	response := `{"groupedBy": "category", "categories": []}`
	runner := newRunner(t, &stubCompleter{responses: []string{response}})

	organized, err := runner.Execute(context.Background(), &Input{
		Offers:   testOffers(),
		Template: models.TemplateGrid,
		GroupBy:  "category",
	})
	require.NoError(t, err)

	require.Len(t, organized.Categories, 1)
	assert.Equal(t, "Other", organized.Categories[0].Name)
	require.Len(t, organized.Categories[0].Offers, 3)
	assert.Equal(t, "Data Analyst", organized.Categories[0].Offers[1].Title)
}

func TestExecute_InventedIDPassesThrough(t *testing.T) {
	response := `{
		"groupedBy": "category",
		"kanban": [{"name": "col", "offers": [{"id": "ghost", "title": "Invented"}]}]
	}`
	runner := newRunner(t, &stubCompleter{responses: []string{response}})

	organized, err := runner.Execute(context.Background(), &Input{
		Offers:   testOffers(),
		Template: models.TemplateKanban,
		GroupBy:  "category",
	})
	require.NoError(t, err)

	require.Len(t, organized.Kanban[0].Offers, 1)
	assert.Equal(t, "Invented", organized.Kanban[0].Offers[0].Title)
}

// ==========================
// Failure Path Tests
// ==========================

func TestExecute_WrongVariantFailsValidation(t *testing.T) {
	// Kanban requested, categories returned.
	response := `{"groupedBy": "category", "categories": [{"name": "x", "offers": []}]}`
	completer := &stubCompleter{responses: []string{response}}
	runner := newRunner(t, completer)

	_, err := runner.Execute(context.Background(), &Input{
		Offers:   testOffers(),
		Template: models.TemplateKanban,
		GroupBy:  "category",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed))
	assert.Equal(t, 1, completer.calls, "shape violations are terminal")
}

func TestExecute_RequiresOffers(t *testing.T) {
	runner := newRunner(t, &stubCompleter{responses: []string{`{}`}})

	_, err := runner.Execute(context.Background(), &Input{Template: models.TemplateGrid})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one offer")
}

func TestExecute_RecoversFromEmptyResponse(t *testing.T) {
	valid := `{"groupedBy": "category", "kanban": [{"name": "col", "offers": [{"id": "o1"}]}]}`
	completer := &stubCompleter{responses: []string{"", valid}}
	runner := newRunner(t, completer)

	organized, err := runner.Execute(context.Background(), &Input{
		Offers:   testOffers(),
		Template: models.TemplateKanban,
		GroupBy:  "category",
	})
	require.NoError(t, err)
	assert.Len(t, organized.Kanban, 1)
	assert.Equal(t, 2, completer.calls)
}
