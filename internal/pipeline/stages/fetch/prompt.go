// internal/pipeline/stages/fetch/prompt.go
package fetch

import (
	"fmt"
	"strings"
)

func buildPrompt(input *Input) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Find %d current offers in the '%s' domain.", input.BatchSize, input.Domain))
	if input.Context != "" {
		parts = append(parts, fmt.Sprintf("Additional context: %s", input.Context))
	}
	if input.PreferWebSources {
		parts = append(parts, "Prefer offers grounded in real web listings over generated ones.")
	}

	parts = append(parts, `Each offer needs: id (short unique string), title, description, price, location, category, url (optional), source ("web" when grounded in a real listing, otherwise "ai-generated"), and priority (0-100 reliability estimate).`)
	parts = append(parts, "\nJSON array response:")

	return strings.Join(parts, "\n")
}
