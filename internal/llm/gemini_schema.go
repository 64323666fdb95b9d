package llm

import "google.golang.org/genai"

// schemaToGenai converts a JSON schema map into the subset genai understands.
// Keywords genai rejects (format, bounds, additionalProperties...) are dropped
// by omission. The schema's own required list is kept.
func schemaToGenai(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}

	out := &genai.Schema{
		Type:        schemaType(schema),
		Description: stringField(schema, "description"),
		Required:    schemaRequired(schema),
		Enum:        stringList(schema["enum"]),
	}

	if props, ok := schema["properties"].(map[string]interface{}); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]interface{}); ok {
				out.Properties[name] = schemaToGenai(propMap)
			}
		}
	}

	if items, ok := schema["items"].(map[string]interface{}); ok {
		out.Items = schemaToGenai(items)
	}

	return out
}

func schemaType(schema map[string]interface{}) genai.Type {
	t, _ := schema["type"].(string)
	switch t {
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	}
	if _, ok := schema["properties"]; ok {
		return genai.TypeObject
	}
	return genai.TypeString
}

func stringList(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func stringField(schema map[string]interface{}, key string) string {
	if v, ok := schema[key].(string); ok {
		return v
	}
	return ""
}
