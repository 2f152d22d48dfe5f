package schema

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/intelliquery/intent-agent/internal/catalog"
	"github.com/intelliquery/intent-agent/internal/entities"
)

// JSONSchema renders the contract as a draft-07 JSON Schema with the
// workspace enum taken from cat.
func JSONSchema(cat *catalog.Catalog) map[string]any {
	stringArray := map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	}
	entityProps := map[string]any{}
	for _, c := range entities.Categories() {
		entityProps[c] = stringArray
	}

	return map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"title":                "IntentAnalysis",
		"type":                 "object",
		"required":             []string{FieldIntentType, FieldWorkspaces, FieldConfidence},
		"additionalProperties": false,
		"properties": map[string]any{
			FieldIntentType: map[string]any{
				"type": "string",
				"enum": IntentTypes,
			},
			FieldWorkspaces: map[string]any{
				"type":        "array",
				"minItems":    1,
				"uniqueItems": true,
				"items": map[string]any{
					"type": "string",
					"enum": cat.IDs(),
				},
			},
			FieldConfidence: map[string]any{
				"type":    "number",
				"minimum": 0,
				"maximum": 1,
			},
			FieldEntities: map[string]any{
				"type":                 "object",
				"properties":           entityProps,
				"additionalProperties": false,
			},
			FieldRationale: map[string]any{"type": "string"},
			FieldQueryType: map[string]any{
				"type": "string",
				"enum": QueryTypes,
			},
			FieldTimeSensitivity: map[string]any{
				"type": "string",
				"enum": TimeSensitivities,
			},
		},
	}
}

// CheckDocument validates any JSON-serialisable value against the compiled
// schema and returns every error it reports.
func (v *Validator) CheckDocument(doc any) ([]Violation, error) {
	var loader gojsonschema.JSONLoader
	switch d := doc.(type) {
	case []byte:
		loader = gojsonschema.NewBytesLoader(d)
	case string:
		loader = gojsonschema.NewStringLoader(d)
	default:
		loader = gojsonschema.NewGoLoader(d)
	}

	result, err := v.schema.Validate(loader)
	if err != nil {
		return nil, fmt.Errorf("failed to check document: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}

	out := make([]Violation, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		out = append(out, Violation{
			Field:   re.Field(),
			Code:    re.Type(),
			Message: re.Description(),
		})
	}
	return out, nil
}
