// internal/pipeline/stages/organize/prompt.go
package organize

import (
	"encoding/json"
	"fmt"
	"strings"

	"offerflow/internal/models"
)

func buildPrompt(input *Input) string {
	offersJSON, _ := json.MarshalIndent(input.Offers, "", "  ")

	var parts []string

	parts = append(parts, fmt.Sprintf("Organize the following offers grouped by '%s'.", input.GroupBy))
	parts = append(parts, fmt.Sprintf("\nOffers:\n%s", string(offersJSON)))

	switch input.Template {
	case models.TemplateTimeline:
		parts = append(parts, `Return {"groupedBy": "...", "timeline": [{"date": "YYYY-MM-DD", "offers": [...]}]}.`)
	case models.TemplateGrid:
		parts = append(parts, `Return {"groupedBy": "...", "categories": [{"name": "...", "offers": [...]}]}.`)
	case models.TemplateKanban:
		parts = append(parts, `Return {"groupedBy": "...", "kanban": [{"name": "...", "offers": [...]}]}.`)
	}

	parts = append(parts, "Every input offer must appear in exactly one bucket. Echo offer ids exactly as given; other offer fields may be abbreviated.")
	parts = append(parts, "\nJSON response:")

	return strings.Join(parts, "\n")
}
