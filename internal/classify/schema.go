package classify

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// buildRelevanceSchema returns the JSON-Schema the classifier response
// must satisfy: one object per requested family with a relevance flag
// and a confidence, nothing else. Every requested family must be
// present, so a partial answer fails validation. The model is never
// given room to return a number as a value.
func buildRelevanceSchema(families []string) map[string]any {
	props := make(map[string]any, len(families))
	for _, f := range families {
		props[f] = map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"relevant":   map[string]any{"type": "boolean"},
				"confidence": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
				"reason":     map[string]any{"type": "string"},
			},
			"required": []string{"relevant", "confidence"},
		}
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             families,
	}
}

// validateAgainstSchema validates data against the generic schema map.
func validateAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

// extractJSON cuts the first top-level JSON object out of a model
// response, tolerating prose or code fences around it.
func extractJSON(s string) ([]byte, error) {
	start := bytes.IndexByte([]byte(s), '{')
	end := bytes.LastIndexByte([]byte(s), '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}
	return []byte(s[start : end+1]), nil
}
