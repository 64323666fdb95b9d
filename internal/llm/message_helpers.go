package llm

import (
	"encoding/json"
	"strings"
)

// chooseModel prefers the per-request model over the provider default.
func chooseModel(requested, fallback string) string {
	if strings.TrimSpace(requested) != "" {
		return requested
	}
	return fallback
}

// schemaRequired returns the "required" list of a JSON schema.
func schemaRequired(schema map[string]interface{}) []string {
	switch required := schema["required"].(type) {
	case []string:
		return required
	case []interface{}:
		out := make([]string, 0, len(required))
		for _, r := range required {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// rawOrEmptyObject returns args, or {} when the model sent no arguments.
func rawOrEmptyObject(args json.RawMessage) json.RawMessage {
	if len(strings.TrimSpace(string(args))) == 0 {
		return json.RawMessage("{}")
	}
	return args
}

// argsToMap decodes tool arguments into a map, returning an empty map when
// they are missing or not an object.
func argsToMap(args json.RawMessage) map[string]any {
	out := map[string]any{}
	if len(args) == 0 {
		return out
	}
	_ = json.Unmarshal(args, &out)
	if out == nil {
		out = map[string]any{}
	}
	return out
}
