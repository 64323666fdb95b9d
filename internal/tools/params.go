package tools

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

var jobIDPattern = regexp.MustCompile(`\b(\d{10,})\b`)

// decodeArgs unmarshals tool arguments into out. Unknown keys are logged
// and otherwise ignored.
func decodeArgs(tool string, args json.RawMessage, out any, knownKeys ...string) error {
	if len(strings.TrimSpace(string(args))) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, out); err != nil {
		return NewToolErrorf(ErrInvalidParams, "invalid arguments: %v", err)
	}
	if unknown := unknownParams(args, knownKeys); len(unknown) > 0 {
		log.WithFields(log.Fields{"tool": tool, "params": unknown}).Debug("ignoring unknown parameters")
	}
	return nil
}

// unknownParams returns the keys of args not listed in knownKeys, sorted.
func unknownParams(args json.RawMessage, knownKeys []string) []string {
	var m map[string]interface{}
	if err := json.Unmarshal(args, &m); err != nil {
		return nil
	}
	known := make(map[string]bool, len(knownKeys))
	for _, k := range knownKeys {
		known[k] = true
	}
	var unknown []string
	for k := range m {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	return unknown
}

// cleanJobID extracts a numeric prow job run ID from free text such as a
// prow URL.
func cleanJobID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if m := jobIDPattern.FindStringSubmatch(id); m != nil {
		return m[1], nil
	}
	if id != "" && strings.Trim(id, "0123456789") == "" {
		return id, nil
	}
	return "", NewToolErrorf(ErrInvalidParams, "invalid job ID format, expected a numeric ID, got: %s", raw)
}

// Schema helpers.

type props map[string]interface{}

func objectSchema(properties props, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}(properties),
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func stringPropDefault(description, def string) map[string]interface{} {
	p := stringProp(description)
	p["default"] = def
	return p
}

func enumProp(description string, def string, values ...string) map[string]interface{} {
	p := stringPropDefault(description, def)
	p["enum"] = values
	return p
}

var jobIDProp = stringProp("Numeric prow job run ID only (e.g., 1934795512955801600)")
