// internal/pipeline/schema/schema_test.go
package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "offerflow/internal/common/errors"
)

const testSchema = `{
	"type": "object",
	"required": ["id", "score"],
	"properties": {
		"id": {"type": "string"},
		"score": {"type": "number", "minimum": 0, "maximum": 100},
		"tags": {"type": "array", "items": {"type": "string"}}
	}
}`

// ==========================
// Validation Tests
// ==========================

func TestValidate_Valid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "required fields only", doc: `{"id": "a", "score": 50}`},
		{name: "with optional fields", doc: `{"id": "a", "score": 0, "tags": ["x"]}`},
		{name: "extra fields allowed", doc: `{"id": "a", "score": 100, "unknown": true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(json.RawMessage(tt.doc), testSchema, "test")
			assert.NoError(t, err)
		})
	}
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name          string
		doc           string
		detailMention string
	}{
		{name: "missing required field", doc: `{"id": "a"}`, detailMention: "score"},
		{name: "wrong type", doc: `{"id": 7, "score": 50}`, detailMention: "id"},
		{name: "out of range", doc: `{"id": "a", "score": 500}`, detailMention: "score"},
		{name: "wrong item type", doc: `{"id": "a", "score": 1, "tags": [3]}`, detailMention: "tags"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(json.RawMessage(tt.doc), testSchema, "test")
			require.Error(t, err)

			assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed))
			assert.False(t, apperrors.IsRetryable(err), "shape violations must be terminal")

			stdErr := apperrors.Normalize(err)
			assert.Contains(t, stdErr.Details, tt.detailMention)
		})
	}
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	err := Validate(json.RawMessage(`{"score": "high", "tags": "nope"}`), testSchema, "test")
	require.Error(t, err)

	stdErr := apperrors.Normalize(err)
	fields, ok := stdErr.Metadata["fields"].([]string)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(fields), 3, "missing id, bad score type, bad tags type")
}

func TestValidate_BadSchemaIsTerminal(t *testing.T) {
	err := Validate(json.RawMessage(`{}`), `{"type": `, "test")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed))
}
