// Package jsonx recovers a single well-formed JSON value from free-form model
// output that may contain code fences, commentary, or thinking sections.
package jsonx

import (
	"encoding/json"
	"strings"

	apperrors "offerflow/internal/common/errors"
)

// Extract locates the outermost JSON object or array in text and parses it.
// It tolerates prose before and after the value and markdown code fences, but
// does not attempt to repair truncated or syntactically broken JSON; that is
// a terminal failure here and a retry one level up. context names the caller
// in the error message.
func Extract(text, context string) (json.RawMessage, error) {
	cleaned := stripFences(text)

	objStart := strings.IndexByte(cleaned, '{')
	arrStart := strings.IndexByte(cleaned, '[')

	start := objStart
	closer := byte('}')
	if start == -1 || (arrStart != -1 && arrStart < start) {
		start = arrStart
		closer = ']'
	}
	if start == -1 {
		return nil, apperrors.NewInvalidJSONError(context, nil)
	}

	end := strings.LastIndexByte(cleaned, closer)
	if end <= start {
		return nil, apperrors.NewInvalidJSONError(context, nil)
	}

	candidate := cleaned[start : end+1]

	var value json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &value); err != nil {
		return nil, apperrors.NewInvalidJSONError(context, err)
	}

	return value, nil
}

// stripFences removes markdown code-fence markers so the bracket scan does
// not trip over ``` lines.
func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.ReplaceAll(raw, "```json", "")
	raw = strings.ReplaceAll(raw, "```", "")
	return strings.TrimSpace(raw)
}
