package llm

import (
	"fmt"

	"github.com/buger/jsonparser"
	"github.com/xeipuuv/gojsonschema"
)

// validateAgainstSchema runs a cheap key-presence pre-check with
// jsonparser before paying for full gojsonschema validation — for the
// supervisor's {"next": ...} shape this rejects most malformed replies
// without building a schema loader at all.
func validateAgainstSchema(candidate string, schema map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	var required []string
	switch r := schema["required"].(type) {
	case []string:
		required = r
	case []any:
		for _, k := range r {
			if key, ok := k.(string); ok {
				required = append(required, key)
			}
		}
	}
	for _, key := range required {
		if _, _, _, err := jsonparser.Get([]byte(candidate), key); err != nil {
			return fmt.Errorf("llm: missing required field %q", key)
		}
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	docLoader := gojsonschema.NewStringLoader(candidate)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("llm: schema validation error: %w", err)
	}
	if !result.Valid() {
		return fmt.Errorf("llm: %d schema violation(s): %v", len(result.Errors()), result.Errors())
	}
	return nil
}
