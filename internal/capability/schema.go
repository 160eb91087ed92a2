package capability

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// The model servers are separate deployments; their responses are validated
// against these schemas before any field is trusted.

func segmentationSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": true,
		"properties": map[string]any{
			"found": map[string]any{"type": "boolean"},
			"bbox":  bboxProp(),
			"polygon": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "array",
					"items":    map[string]any{"type": "number"},
					"minItems": 2,
					"maxItems": 2,
				},
			},
		},
		"required": []string{"found"},
	}
}

func detectionSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": true,
		"properties": map[string]any{
			"detections": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": true,
					"properties": map[string]any{
						"class_id":   map[string]any{"type": "integer", "minimum": 0},
						"confidence": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
						"bbox":       bboxProp(),
					},
					"required": []string{"class_id", "confidence", "bbox"},
				},
			},
		},
		"required": []string{"detections"},
	}
}

func bboxProp() map[string]any {
	return map[string]any{
		"type":     "array",
		"items":    map[string]any{"type": "number"},
		"minItems": 4,
		"maxItems": 4,
	}
}

// validateAgainstSchema validates raw JSON against a schema map.
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
