// internal/pipeline/jsonx/extract_test.go
package jsonx

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "offerflow/internal/common/errors"
)

// ==========================
// Extraction Tests
// ==========================

func TestExtract_Success(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected string
	}{
		{
			name:     "plain object",
			text:     `{"a": 1}`,
			expected: `{"a": 1}`,
		},
		{
			name:     "plain array",
			text:     `[{"a": 1}, {"a": 2}]`,
			expected: `[{"a": 1}, {"a": 2}]`,
		},
		{
			name:     "json code fence",
			text:     "```json\n{\"a\": 1}\n```",
			expected: `{"a": 1}`,
		},
		{
			name:     "bare code fence",
			text:     "```\n[1, 2, 3]\n```",
			expected: `[1, 2, 3]`,
		},
		{
			name:     "prose before and after",
			text:     "Here is the result you asked for:\n{\"a\": 1}\nLet me know if you need more.",
			expected: `{"a": 1}`,
		},
		{
			name:     "array before prose mentioning braces",
			text:     `["x", "y"] is the list`,
			expected: `["x", "y"]`,
		},
		{
			name:     "nested structures",
			text:     `{"outer": {"inner": [1, {"deep": true}]}}`,
			expected: `{"outer": {"inner": [1, {"deep": true}]}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := Extract(tt.text, "test")
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, string(value))
		})
	}
}

func TestExtract_PicksEarlierOpener(t *testing.T) {
	// An array that starts before any object wins, and vice versa.
	value, err := Extract(`[{"a": 1}]`, "test")
	require.NoError(t, err)

	var arr []map[string]int
	require.NoError(t, json.Unmarshal(value, &arr))
	assert.Len(t, arr, 1)
}

func TestExtract_Failure(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "empty input", text: ""},
		{name: "no json at all", text: "I could not produce a result."},
		{name: "truncated object", text: `{"a": 1, "b":`},
		{name: "unbalanced brackets", text: `{"a": [1, 2}`},
		{name: "closer before opener", text: `} {`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := Extract(tt.text, "test")
			assert.Nil(t, value)
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidJSON))
			assert.True(t, apperrors.IsRetryable(err), "extraction failures must be retryable")
		})
	}
}

func TestExtract_ContextInMessage(t *testing.T) {
	_, err := Extract("no json here", "fetch response")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch response")
}
