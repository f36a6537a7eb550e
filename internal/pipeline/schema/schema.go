// Package schema confirms an extracted JSON value matches the exact shape a
// stage expects, with field-level error detail.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	apperrors "offerflow/internal/common/errors"
)

// Validate checks raw against schemaJSON and returns a VALIDATION_FAILED
// error listing the dotted path of every violating field. Validation is
// structural only (presence, type, enum membership); cross-field business
// checks live with the stage runners.
func Validate(raw json.RawMessage, schemaJSON, context string) error {
	schemaLoader := gojsonschema.NewStringLoader(schemaJSON)
	documentLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return apperrors.NewValidationFailedError(context, []string{err.Error()})
	}

	if result.Valid() {
		return nil
	}

	fields := make([]string, 0, len(result.Errors()))
	for _, resultErr := range result.Errors() {
		fields = append(fields, fmt.Sprintf("%s: %s", resultErr.Field(), resultErr.Description()))
	}

	return apperrors.NewValidationFailedError(context, fields)
}
