package convert

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed structured.schema.json
var structuredSchemaJSON []byte

var (
	structuredSchema     *gojsonschema.Schema
	structuredSchemaErr  error
	structuredSchemaOnce sync.Once
)

func loadStructuredSchema() (*gojsonschema.Schema, error) {
	structuredSchemaOnce.Do(func() {
		structuredSchema, structuredSchemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(structuredSchemaJSON))
	})
	return structuredSchema, structuredSchemaErr
}

// ValidateStructured checks a structured conversion response against the
// documented response contract. It returns one message per violation and an
// error only when the body cannot be checked at all. Parsing stays lenient
// regardless of the result.
func ValidateStructured(body []byte) ([]string, error) {
	schema, err := loadStructuredSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to load response schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to validate response: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		violations = append(violations, e.String())
	}
	return violations, nil
}
